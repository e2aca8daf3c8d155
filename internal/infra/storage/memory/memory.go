package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/vietddude/relayer/internal/indexing/metrics"
	"github.com/vietddude/relayer/internal/infra/storage"
)

// MemoryStorage is a process-local storage.KV used in tests and for dry runs.
type MemoryStorage struct {
	buckets map[string]map[string][]byte
	closed  bool
	mu      sync.RWMutex
}

var _ storage.KV = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		buckets: make(map[string]map[string][]byte),
	}
}

func (s *MemoryStorage) Get(_ context.Context, bucket, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	v, ok := s.buckets[bucket][key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return slices.Clone(v), nil
}

func (s *MemoryStorage) Put(ctx context.Context, bucket, key string, value []byte) error {
	return s.Batch(ctx, []storage.Op{storage.Put(bucket, key, value)})
}

func (s *MemoryStorage) Delete(ctx context.Context, bucket, key string) error {
	return s.Batch(ctx, []storage.Op{storage.Delete(bucket, key)})
}

func (s *MemoryStorage) PutIfAbsent(_ context.Context, bucket, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, storage.ErrClosed
	}
	if _, ok := s.buckets[bucket][key]; ok {
		return false, nil
	}
	s.put(bucket, key, value)
	return true, nil
}

func (s *MemoryStorage) Scan(_ context.Context, bucket, prefix string, fn func(key string, value []byte) error) error {
	// Snapshot under the read lock so fn may write to the store.
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return storage.ErrClosed
	}
	b := s.buckets[bucket]
	keys := make([]string, 0, len(b))
	for k := range b {
		if storage.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = slices.Clone(b[k])
	}
	s.mu.RUnlock()

	for i, k := range keys {
		if err := fn(k, values[i]); err != nil {
			if err == storage.ErrStopScan {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *MemoryStorage) Batch(_ context.Context, ops []storage.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	metrics.DBBatchSize.WithLabelValues("memory").Observe(float64(len(ops)))
	for _, op := range ops {
		switch op.Kind {
		case storage.OpPut:
			s.put(op.Bucket, op.Key, op.Value)
		case storage.OpDelete:
			delete(s.buckets[op.Bucket], op.Key)
		}
	}
	return nil
}

func (s *MemoryStorage) put(bucket, key string, value []byte) {
	b, ok := s.buckets[bucket]
	if !ok {
		b = make(map[string][]byte)
		s.buckets[bucket] = b
	}
	b[key] = slices.Clone(value)
}

func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
