package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrItemExists is returned by StateStore.Create for a key present in any state.
var ErrItemExists = errors.New("item already exists")

// StateStore keeps every item of a state machine in exactly one bucket
// "state:<machine>:<state>".
type StateStore struct {
	kv      KV
	machine string
	states  []string

	// serializes Create and Move so the existence check and the write are one step
	mu sync.Mutex
}

func NewStateStore(kv KV, machine string, states []string) *StateStore {
	return &StateStore{kv: kv, machine: machine, states: states}
}

func (s *StateStore) bucket(state string) string {
	return Bucket("state", s.machine, state)
}

// Get returns ErrNotFound when key is not in state.
func (s *StateStore) Get(ctx context.Context, state, key string) ([]byte, error) {
	return s.kv.Get(ctx, s.bucket(state), key)
}

// Find returns the state currently holding key.
func (s *StateStore) Find(ctx context.Context, key string) (string, []byte, error) {
	for _, state := range s.states {
		v, err := s.kv.Get(ctx, s.bucket(state), key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return "", nil, err
		}
		return state, v, nil
	}
	return "", nil, ErrNotFound
}

// Create stores key in state unless it already exists in any state.
func (s *StateStore) Create(ctx context.Context, state, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, _, err := s.Find(ctx, key); err == nil {
		return fmt.Errorf("%w: %s", ErrItemExists, key)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.kv.Put(ctx, s.bucket(state), key, value)
}

// Put overwrites key in state.
func (s *StateStore) Put(ctx context.Context, state, key string, value []byte) error {
	return s.kv.Put(ctx, s.bucket(state), key, value)
}

// Move removes key from one state and writes it to another in one batch.
func (s *StateStore) Move(ctx context.Context, from, to, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Batch(ctx, []Op{
		Delete(s.bucket(from), key),
		Put(s.bucket(to), key, value),
	})
}

func (s *StateStore) Delete(ctx context.Context, state, key string) error {
	return s.kv.Delete(ctx, s.bucket(state), key)
}

// Scan visits the items of a state in key order.
func (s *StateStore) Scan(ctx context.Context, state string, fn func(key string, value []byte) error) error {
	return s.kv.Scan(ctx, s.bucket(state), "", fn)
}

// Count returns the number of items per state.
func (s *StateStore) Count(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(s.states))
	for _, state := range s.states {
		n := 0
		err := s.Scan(ctx, state, func(string, []byte) error {
			n++
			return nil
		})
		if err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, nil
}
