package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/relayer/internal/core/domain"
)

// RelayAttempts records submitted relays by message hash. Add is an atomic
// create-if-absent so concurrent pollers submit at most once.
type RelayAttempts interface {
	Has(ctx context.Context, hash common.Hash) (bool, error)
	// Add reports false when a record already exists.
	Add(ctx context.Context, attempt domain.RelayAttempt) (bool, error)
	Remove(ctx context.Context, hash common.Hash) error
}

const attemptsBucket = "relay_attempts"

// KVRelayAttempts implements RelayAttempts on a KV backend.
type KVRelayAttempts struct {
	kv KV
}

var _ RelayAttempts = (*KVRelayAttempts)(nil)

func NewKVRelayAttempts(kv KV) *KVRelayAttempts {
	return &KVRelayAttempts{kv: kv}
}

func (r *KVRelayAttempts) Has(ctx context.Context, hash common.Hash) (bool, error) {
	_, err := r.kv.Get(ctx, attemptsBucket, hash.Hex())
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *KVRelayAttempts) Add(ctx context.Context, attempt domain.RelayAttempt) (bool, error) {
	raw, err := json.Marshal(attempt)
	if err != nil {
		return false, fmt.Errorf("encode relay attempt: %w", err)
	}
	return r.kv.PutIfAbsent(ctx, attemptsBucket, attempt.MessageHash.Hex(), raw)
}

func (r *KVRelayAttempts) Remove(ctx context.Context, hash common.Hash) error {
	return r.kv.Delete(ctx, attemptsBucket, hash.Hex())
}
