package worker

import (
	"context"
	"log/slog"
	"time"
)

// Prunable drops terminal items completed before cutoff.
type Prunable interface {
	Name() string
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Pruner deletes old data based on retention policy.
type Pruner struct {
	target    Prunable
	retention time.Duration
	now       func() time.Time
}

// NewPruner creates a new Pruner worker.
func NewPruner(target Prunable, retention time.Duration) *Pruner {
	return &Pruner{
		target:    target,
		retention: retention,
		now:       time.Now,
	}
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// 10% of the retention period, between one minute and one hour
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs one pass and returns the number of deleted items.
func (p *Pruner) Prune(ctx context.Context) int {
	cutoff := p.now().Add(-p.retention)

	n, err := p.target.PruneBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Prune failed", "machine", p.target.Name(), "error", err)
		return n
	}
	if n > 0 {
		slog.Info("Pruned items", "machine", p.target.Name(), "count", n, "cutoff", cutoff)
	}
	return n
}
