package statemachine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/indexing/metrics"
	"github.com/vietddude/relayer/internal/infra/storage"
)

var ErrRunning = errors.New("state machine already running")

// Config holds machine configuration.
type Config[T any] struct {
	Name string
	// States in lifecycle order; the last one is terminal.
	States     []string
	KV         storage.KV
	Repository Repository[T]
	Definition Definition[T]

	// PollIntervals per non-terminal state.
	PollIntervals map[string]time.Duration
	// Pollers run alongside the state pollers.
	Pollers []Poller
	// Notifications feed new items. Optional.
	Notifications <-chan domain.IndexedLog

	Now func() time.Time
}

// Machine is a persisted state machine over items of type T.
type Machine[T any] struct {
	cfg   Config[T]
	store *storage.StateStore
	log   *slog.Logger

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	stopped atomic.Bool
	wg      sync.WaitGroup
}

// New validates cfg and creates a machine.
func New[T any](cfg Config[T]) (*Machine[T], error) {
	if cfg.Name == "" {
		return nil, errors.New("state machine needs a name")
	}
	if len(cfg.States) < 2 {
		return nil, fmt.Errorf("state machine %s needs at least two states", cfg.Name)
	}
	if cfg.KV == nil || cfg.Repository == nil || cfg.Definition == nil {
		return nil, fmt.Errorf("state machine %s: store, repository and definition are required", cfg.Name)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Machine[T]{
		cfg:   cfg,
		store: storage.NewStateStore(cfg.KV, cfg.Name, cfg.States),
		log:   slog.Default().With("machine", cfg.Name),
		stop:  make(chan struct{}),
	}, nil
}

// Name returns the machine name.
func (m *Machine[T]) Name() string { return m.cfg.Name }

// States returns the states in lifecycle order.
func (m *Machine[T]) States() []string { return slices.Clone(m.cfg.States) }

func (m *Machine[T]) initial() string  { return m.cfg.States[0] }
func (m *Machine[T]) terminal() string { return m.cfg.States[len(m.cfg.States)-1] }

// next returns the state after state.
func (m *Machine[T]) next(state string) (string, error) {
	i := slices.Index(m.cfg.States, state)
	if i < 0 {
		return "", fmt.Errorf("%w: %s", ErrInvalidState, state)
	}
	if i == len(m.cfg.States)-1 {
		return "", fmt.Errorf("%w: %s is terminal", ErrInvalidState, state)
	}
	return m.cfg.States[i+1], nil
}

// Init replays pending repository items and checks every non-terminal
// state once. Calling it again is harmless.
func (m *Machine[T]) Init(ctx context.Context) error {
	pending, err := m.cfg.Repository.Pending(ctx)
	if err != nil {
		return fmt.Errorf("load pending items: %w", err)
	}

	created := 0
	for _, item := range pending {
		ok, err := m.CreateIfNotExist(ctx, item)
		if err != nil {
			return err
		}
		if ok {
			created++
		}
	}
	m.log.Info("State machine replayed pending items", "pending", len(pending), "created", created)

	for _, state := range m.cfg.States[:len(m.cfg.States)-1] {
		if err := m.Poll(ctx, state); err != nil {
			return err
		}
	}
	m.refreshGauges(ctx)
	return nil
}

// CreateIfNotExist stores item in the initial state unless its id is
// already known in any state.
func (m *Machine[T]) CreateIfNotExist(ctx context.Context, item T) (bool, error) {
	id := m.cfg.Definition.ItemID(item)
	raw, err := json.Marshal(item)
	if err != nil {
		return false, fmt.Errorf("encode item %s: %w", id, err)
	}

	err = m.store.Create(ctx, m.initial(), id, raw)
	if errors.Is(err, storage.ErrItemExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create item %s: %w", id, err)
	}
	m.log.Debug("Item created", "id", id, "state", m.initial())
	return true, nil
}

// Get returns the state and value of an item.
func (m *Machine[T]) Get(ctx context.Context, id string) (string, T, error) {
	var item T
	state, raw, err := m.store.Find(ctx, id)
	if err != nil {
		return "", item, err
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return "", item, fmt.Errorf("decode item %s: %w", id, err)
	}
	return state, item, nil
}

// Items returns the items in state in key order.
func (m *Machine[T]) Items(ctx context.Context, state string) ([]T, error) {
	if !slices.Contains(m.cfg.States, state) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, state)
	}

	var items []T
	err := m.store.Scan(ctx, state, func(key string, raw []byte) error {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			m.log.Error("Skipping undecodable item", "id", key, "state", state, "error", err)
			return nil
		}
		items = append(items, item)
		return nil
	})
	return items, err
}

// Update overwrites an item in its current state.
func (m *Machine[T]) Update(ctx context.Context, state string, item T) error {
	if !slices.Contains(m.cfg.States, state) {
		return fmt.Errorf("%w: %s", ErrInvalidState, state)
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, state, m.cfg.Definition.ItemID(item), raw)
}

// Delete removes an item from state.
func (m *Machine[T]) Delete(ctx context.Context, state, id string) error {
	return m.store.Delete(ctx, state, id)
}

// Count returns the number of items per state.
func (m *Machine[T]) Count(ctx context.Context) (map[string]int, error) {
	return m.store.Count(ctx)
}

// Poll tries to advance every item in state. Per-item errors are logged
// and do not stop the batch.
func (m *Machine[T]) Poll(ctx context.Context, state string) error {
	next, err := m.next(state)
	if err != nil {
		return err
	}

	items, err := m.Items(ctx, state)
	if err != nil {
		return fmt.Errorf("scan %s: %w", state, err)
	}

	now := m.cfg.Now()
	moved := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !m.cfg.Definition.ShouldAttemptTransition(ctx, state, item, now) {
			continue
		}
		ok, err := m.transition(ctx, state, next, item)
		if err != nil {
			m.log.Error("Transition failed",
				"id", m.cfg.Definition.ItemID(item),
				"from", state,
				"to", next,
				"error", err,
			)
			continue
		}
		if ok {
			moved++
		}
	}

	if moved > 0 {
		m.log.Info("Items advanced", "from", state, "to", next, "count", moved)
	}
	return nil
}

func (m *Machine[T]) transition(ctx context.Context, from, to string, item T) (bool, error) {
	got, ok, err := m.cfg.Repository.GetItem(ctx, to, item)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	merged := m.cfg.Definition.Merge(item, got)
	id := m.cfg.Definition.ItemID(merged)
	raw, err := json.Marshal(merged)
	if err != nil {
		return false, fmt.Errorf("encode item %s: %w", id, err)
	}
	if err := m.store.Move(ctx, from, to, id, raw); err != nil {
		return false, err
	}

	metrics.StateTransitions.WithLabelValues(m.cfg.Name, from, to).Inc()
	m.log.Debug("Item advanced", "id", id, "from", from, "to", to)
	return true, nil
}

// Start launches the pollers and the notification consumer, and returns.
func (m *Machine[T]) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrRunning
	}
	m.started = true
	m.mu.Unlock()

	for _, state := range m.cfg.States[:len(m.cfg.States)-1] {
		interval := m.cfg.PollIntervals[state]
		if interval <= 0 {
			interval = DefaultPollInterval
		}
		m.loop(ctx, "state:"+state, interval, func(ctx context.Context) error {
			err := m.Poll(ctx, state)
			m.refreshGauges(ctx)
			return err
		})
	}
	for _, p := range m.cfg.Pollers {
		interval := p.Interval
		if interval <= 0 {
			interval = DefaultPollInterval
		}
		m.loop(ctx, p.Name, interval, p.Run)
	}
	if m.cfg.Notifications != nil {
		m.wg.Add(1)
		go m.consume(ctx)
	}

	m.log.Info("State machine started", "states", m.cfg.States, "pollers", len(m.cfg.Pollers))
	return nil
}

// Stop stops the loops and waits for in-flight polls to finish.
func (m *Machine[T]) Stop() error {
	if m.stopped.CompareAndSwap(false, true) {
		close(m.stop)
	}
	m.wg.Wait()
	return nil
}

func (m *Machine[T]) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context) error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				if err := run(ctx); err != nil && ctx.Err() == nil {
					m.log.Error("Poller failed", "poller", name, "error", err)
				}
			}
		}
	}()
}

func (m *Machine[T]) consume(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case l, ok := <-m.cfg.Notifications:
			if !ok {
				return
			}
			m.handleLog(ctx, l)
		}
	}
}

func (m *Machine[T]) handleLog(ctx context.Context, l domain.IndexedLog) {
	item, ok, err := m.cfg.Definition.FromLog(ctx, l)
	if err != nil {
		m.log.Error("Failed to decode notification",
			"tx", l.TxHash.Hex(),
			"index", l.LogIndex,
			"error", err,
		)
		return
	}
	if !ok {
		return
	}
	if _, err := m.CreateIfNotExist(ctx, item); err != nil {
		m.log.Error("Failed to create item", "id", m.cfg.Definition.ItemID(item), "error", err)
	}
}

func (m *Machine[T]) refreshGauges(ctx context.Context) {
	counts, err := m.store.Count(ctx)
	if err != nil {
		m.log.Warn("Failed to count items", "error", err)
		return
	}
	for state, n := range counts {
		metrics.StateItems.WithLabelValues(m.cfg.Name, state).Set(float64(n))
	}
}
