package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/infra/storage"
)

// RelayAttempts shares relay records between instances with SETNX.
type RelayAttempts struct {
	client *Client
	// ttl bounds how long a record survives a crashed instance; 0 keeps it forever
	ttl time.Duration
}

var _ storage.RelayAttempts = (*RelayAttempts)(nil)

func NewRelayAttempts(client *Client, ttl time.Duration) *RelayAttempts {
	return &RelayAttempts{client: client, ttl: ttl}
}

func (r *RelayAttempts) attemptKey(hash common.Hash) string {
	return r.client.key("relay_attempt", hash.Hex())
}

func (r *RelayAttempts) Has(ctx context.Context, hash common.Hash) (bool, error) {
	n, err := r.client.rdb.Exists(ctx, r.attemptKey(hash)).Result()
	if err != nil {
		return false, fmt.Errorf("exists failed: %w", err)
	}
	return n == 1, nil
}

func (r *RelayAttempts) Add(ctx context.Context, attempt domain.RelayAttempt) (bool, error) {
	data, err := json.Marshal(attempt)
	if err != nil {
		return false, fmt.Errorf("encode relay attempt: %w", err)
	}
	ok, err := r.client.rdb.SetNX(ctx, r.attemptKey(attempt.MessageHash), data, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

func (r *RelayAttempts) Remove(ctx context.Context, hash common.Hash) error {
	return r.client.rdb.Del(ctx, r.attemptKey(hash)).Err()
}

// Get returns the stored record, for diagnostics.
func (r *RelayAttempts) Get(ctx context.Context, hash common.Hash) (domain.RelayAttempt, bool, error) {
	var attempt domain.RelayAttempt
	raw, err := r.client.rdb.Get(ctx, r.attemptKey(hash)).Bytes()
	if err == redis.Nil {
		return attempt, false, nil
	}
	if err != nil {
		return attempt, false, fmt.Errorf("get failed: %w", err)
	}
	if err := json.Unmarshal(raw, &attempt); err != nil {
		return attempt, false, fmt.Errorf("decode relay attempt: %w", err)
	}
	return attempt, true, nil
}
