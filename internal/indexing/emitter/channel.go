package emitter

import (
	"context"
	"errors"
	"sync"

	"github.com/vietddude/relayer/internal/core/domain"
)

var ErrClosed = errors.New("emitter closed")

// Channel publishes logs on a buffered channel. Emit blocks while the buffer
// is full, so a slow consumer slows the indexer down instead of losing logs.
type Channel struct {
	ch chan domain.IndexedLog

	mu     sync.RWMutex
	closed bool
	once   sync.Once
	done   chan struct{}
}

// NewChannel creates a channel emitter with the given buffer size.
func NewChannel(buffer int) *Channel {
	return &Channel{
		ch:   make(chan domain.IndexedLog, buffer),
		done: make(chan struct{}),
	}
}

// C returns the receive side. It is closed by Close.
func (c *Channel) C() <-chan domain.IndexedLog {
	return c.ch
}

func (c *Channel) Emit(ctx context.Context, log domain.IndexedLog) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}

	select {
	case c.ch <- log:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) EmitBatch(ctx context.Context, logs []domain.IndexedLog) error {
	for _, l := range logs {
		if err := c.Emit(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

// Close unblocks pending emits and closes the channel.
func (c *Channel) Close() error {
	c.once.Do(func() {
		close(c.done)

		c.mu.Lock()
		c.closed = true
		close(c.ch)
		c.mu.Unlock()
	})
	return nil
}
