package throttle

import (
	"context"
	"sync"
	"time"
)

// HeadSource returns the block up to which a chain may be indexed.
type HeadSource func(ctx context.Context) (uint64, error)

// HeadCache shares one sync head between the filters of a chain so each
// filter tick does not cost an RPC call.
type HeadCache struct {
	source HeadSource
	ttl    time.Duration

	mu       sync.RWMutex
	cached   uint64
	cachedAt time.Time
}

// NewHeadCache creates a new head cache with the given TTL.
func NewHeadCache(source HeadSource, ttl time.Duration) *HeadCache {
	return &HeadCache{
		source: source,
		ttl:    ttl,
	}
}

// GetLatestBlock returns the cached head if within TTL, otherwise fetches fresh.
func (c *HeadCache) GetLatestBlock(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	if time.Since(c.cachedAt) < c.ttl && c.cached > 0 {
		cached := c.cached
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	head, err := c.source(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	// never hand out a head older than one already served
	if head > c.cached || time.Since(c.cachedAt) >= c.ttl {
		c.cached = head
	}
	c.cachedAt = time.Now()
	head = c.cached
	c.mu.Unlock()

	return head, nil
}

// Invalidate clears the cache, forcing the next call to fetch fresh data.
func (c *HeadCache) Invalidate() {
	c.mu.Lock()
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}
