package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vietddude/relayer/internal/core/domain"
)

// LogStore holds indexed logs per filter, ordered by block and log index,
// plus a secondary index by lookup key.
type LogStore struct {
	kv KV
}

func NewLogStore(kv KV) *LogStore {
	return &LogStore{kv: kv}
}

func logsBucket(filterID string) string   { return Bucket("logs", filterID) }
func lookupBucket(filterID string) string { return Bucket("lookup", filterID) }

// logKey sorts lexically in chain order.
func logKey(l domain.IndexedLog) string {
	return fmt.Sprintf("%020d:%010d", l.BlockNumber, l.LogIndex)
}

func blockPrefix(block uint64) string {
	return fmt.Sprintf("%020d:", block)
}

// Ops encodes a log and its lookup entry. Writing the same log twice
// overwrites it, so replaying a window is harmless.
func (s *LogStore) Ops(l domain.IndexedLog) ([]Op, error) {
	raw, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("encode log %s/%d: %w", l.TxHash.Hex(), l.LogIndex, err)
	}
	key := logKey(l)
	ops := []Op{Put(logsBucket(l.FilterID), key, raw)}
	if l.LookupKey != "" {
		ops = append(ops, Put(lookupBucket(l.FilterID), l.LookupKey, []byte(key)))
	}
	return ops, nil
}

// Lookup returns the log indexed under lookupKey.
func (s *LogStore) Lookup(ctx context.Context, filterID, lookupKey string) (domain.IndexedLog, bool, error) {
	var l domain.IndexedLog
	key, err := s.kv.Get(ctx, lookupBucket(filterID), lookupKey)
	if errors.Is(err, ErrNotFound) {
		return l, false, nil
	}
	if err != nil {
		return l, false, err
	}
	raw, err := s.kv.Get(ctx, logsBucket(filterID), string(key))
	if errors.Is(err, ErrNotFound) {
		return l, false, nil
	}
	if err != nil {
		return l, false, err
	}
	if err := json.Unmarshal(raw, &l); err != nil {
		return l, false, fmt.Errorf("decode log %s: %w", key, err)
	}
	return l, true, nil
}

// Scan visits the logs of a filter in chain order.
func (s *LogStore) Scan(ctx context.Context, filterID string, fn func(domain.IndexedLog) error) error {
	return s.kv.Scan(ctx, logsBucket(filterID), "", func(key string, raw []byte) error {
		var l domain.IndexedLog
		if err := json.Unmarshal(raw, &l); err != nil {
			return fmt.Errorf("decode log %s: %w", key, err)
		}
		return fn(l)
	})
}

// InBlock returns the logs of a filter in one block.
func (s *LogStore) InBlock(ctx context.Context, filterID string, block uint64) ([]domain.IndexedLog, error) {
	var out []domain.IndexedLog
	err := s.kv.Scan(ctx, logsBucket(filterID), blockPrefix(block), func(key string, raw []byte) error {
		var l domain.IndexedLog
		if err := json.Unmarshal(raw, &l); err != nil {
			return fmt.Errorf("decode log %s: %w", key, err)
		}
		out = append(out, l)
		return nil
	})
	return out, err
}

// Forget deletes the log indexed under lookupKey and its lookup entry.
func (s *LogStore) Forget(ctx context.Context, filterID, lookupKey string) (bool, error) {
	key, err := s.kv.Get(ctx, lookupBucket(filterID), lookupKey)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, s.kv.Batch(ctx, []Op{
		Delete(logsBucket(filterID), string(key)),
		Delete(lookupBucket(filterID), lookupKey),
	})
}
