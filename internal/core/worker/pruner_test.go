package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePrunable struct {
	mu      sync.Mutex
	cutoffs []time.Time
	n       int
	err     error
}

func (f *fakePrunable) Name() string { return "test" }

func (f *fakePrunable) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.n, f.err
}

func TestPrune_Cutoff(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	target := &fakePrunable{n: 3}
	p := NewPruner(target, 24*time.Hour)
	p.now = func() time.Time { return now }

	if got := p.Prune(context.Background()); got != 3 {
		t.Errorf("expected 3 pruned, got %d", got)
	}
	if len(target.cutoffs) != 1 || !target.cutoffs[0].Equal(now.Add(-24*time.Hour)) {
		t.Errorf("unexpected cutoffs %v", target.cutoffs)
	}
}

func TestPrune_ErrorIsNotFatal(t *testing.T) {
	target := &fakePrunable{err: errors.New("store closed")}
	p := NewPruner(target, time.Hour)
	if got := p.Prune(context.Background()); got != 0 {
		t.Errorf("expected 0 pruned, got %d", got)
	}
}

func TestStart_DisabledRetention(t *testing.T) {
	target := &fakePrunable{}
	done := make(chan struct{})
	go func() {
		NewPruner(target, 0).Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start must return immediately when retention is disabled")
	}
	if len(target.cutoffs) != 0 {
		t.Errorf("expected no prune pass, got %d", len(target.cutoffs))
	}
}

func TestStart_PrunesImmediately(t *testing.T) {
	target := &fakePrunable{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewPruner(target, time.Hour).Start(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		target.mu.Lock()
		n := len(target.cutoffs)
		target.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected an initial prune pass")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
