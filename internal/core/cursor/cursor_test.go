package cursor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/infra/storage"
	"github.com/vietddude/relayer/internal/infra/storage/memory"
)

// =============================================================================
// Helpers
// =============================================================================

// failingKV fails every batch after the switch is flipped.
type failingKV struct {
	*memory.MemoryStorage
	fail bool
}

func (f *failingKV) Batch(ctx context.Context, ops []storage.Op) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.MemoryStorage.Batch(ctx, ops)
}

func newTestManager() (*DefaultManager, *failingKV) {
	kv := &failingKV{MemoryStorage: memory.NewMemoryStorage()}
	return NewManager(storage.NewSyncMarkers(kv), kv), kv
}

// =============================================================================
// State Machine Tests
// =============================================================================

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     State
		to       State
		expected bool
	}{
		{"init to scanning", StateInit, StateScanning, true},
		{"init to catchup", StateInit, StateCatchup, true},
		{"scanning to catchup", StateScanning, StateCatchup, true},
		{"scanning to paused", StateScanning, StatePaused, true},
		{"catchup to scanning", StateCatchup, StateScanning, true},
		{"paused to scanning", StatePaused, StateScanning, true},
		{"paused to init", StatePaused, StateInit, false},
		{"scanning to init", StateScanning, StateInit, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CanTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestTransitionIsValid(t *testing.T) {
	valid := NewTransition(StateScanning, StatePaused, "maintenance")
	if !valid.IsValid() {
		t.Error("expected transition scanning->paused to be valid")
	}

	invalid := NewTransition(StatePaused, StateInit, "unexpected")
	if invalid.IsValid() {
		t.Error("expected transition paused->init to be invalid")
	}
}

// =============================================================================
// Manager Tests
// =============================================================================

func TestManagerInitialize(t *testing.T) {
	manager, _ := newTestManager()
	ctx := context.Background()

	marker, err := manager.Initialize(ctx, "f1", domain.ChainIDEthereum, 1000)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if marker.LastBlockSynced != 999 {
		t.Errorf("expected cursor at 999, got %d", marker.LastBlockSynced)
	}
	if manager.State("f1") != StateInit {
		t.Errorf("expected state init, got %s", manager.State("f1"))
	}

	// Initialize is idempotent and keeps progress
	if err := manager.Advance(ctx, "f1", 1500, nil); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	marker, err = manager.Initialize(ctx, "f1", domain.ChainIDEthereum, 1000)
	if err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
	if marker.LastBlockSynced != 1500 {
		t.Errorf("expected existing cursor 1500, got %d", marker.LastBlockSynced)
	}
}

func TestManagerInitialize_Genesis(t *testing.T) {
	manager, _ := newTestManager()
	marker, err := manager.Initialize(context.Background(), "f1", domain.ChainIDEthereum, 0)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if marker.LastBlockSynced != 0 {
		t.Errorf("expected cursor clamped at 0, got %d", marker.LastBlockSynced)
	}
}

func TestManagerAdvance_WritesOpsWithCursor(t *testing.T) {
	manager, kv := newTestManager()
	ctx := context.Background()
	_, _ = manager.Initialize(ctx, "f1", domain.ChainIDEthereum, 1000)

	ops := []storage.Op{storage.Put("logs:f1", "a", []byte("log"))}
	if err := manager.Advance(ctx, "f1", 1099, ops); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	marker, _ := manager.Get(ctx, "f1")
	if marker.LastBlockSynced != 1099 {
		t.Errorf("expected cursor 1099, got %d", marker.LastBlockSynced)
	}
	if _, err := kv.Get(ctx, "logs:f1", "a"); err != nil {
		t.Errorf("expected log written with cursor: %v", err)
	}
}

func TestManagerAdvance_FailedBatchKeepsCursor(t *testing.T) {
	manager, kv := newTestManager()
	ctx := context.Background()
	_, _ = manager.Initialize(ctx, "f1", domain.ChainIDEthereum, 1000)

	kv.fail = true
	ops := []storage.Op{storage.Put("logs:f1", "a", []byte("log"))}
	if err := manager.Advance(ctx, "f1", 1099, ops); err == nil {
		t.Fatal("expected batch failure")
	}
	kv.fail = false

	marker, _ := manager.Get(ctx, "f1")
	if marker.LastBlockSynced != 999 {
		t.Errorf("cursor must not move without its logs, got %d", marker.LastBlockSynced)
	}
	if _, err := kv.Get(ctx, "logs:f1", "a"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("log must not be written without the cursor: %v", err)
	}
}

func TestManagerAdvance_Regression(t *testing.T) {
	manager, _ := newTestManager()
	ctx := context.Background()
	_, _ = manager.Initialize(ctx, "f1", domain.ChainIDEthereum, 1000)
	_ = manager.Advance(ctx, "f1", 1100, nil)

	err := manager.Advance(ctx, "f1", 1050, nil)
	if !errors.Is(err, ErrCursorRegression) {
		t.Errorf("expected ErrCursorRegression, got %v", err)
	}

	// Same block is an idempotent replay
	if err := manager.Advance(ctx, "f1", 1100, nil); err != nil {
		t.Errorf("re-advancing to the same block failed: %v", err)
	}
}

func TestManagerAdvance_PausedCursor(t *testing.T) {
	manager, _ := newTestManager()
	ctx := context.Background()

	_, _ = manager.Initialize(ctx, "f1", domain.ChainIDEthereum, 1000)
	_ = manager.SetState("f1", StateScanning, "start")
	_ = manager.Pause("f1", "maintenance")

	err := manager.Advance(ctx, "f1", 1001, nil)
	if err != ErrCursorPaused {
		t.Errorf("expected ErrCursorPaused, got: %v", err)
	}

	if err := manager.Resume("f1"); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if err := manager.Advance(ctx, "f1", 1001, nil); err != nil {
		t.Errorf("Advance after resume failed: %v", err)
	}
}

func TestManagerReset(t *testing.T) {
	manager, _ := newTestManager()
	ctx := context.Background()

	var transitions []Transition
	manager.SetStateChangeCallback(func(filterID string, t Transition) {
		transitions = append(transitions, t)
	})

	_, _ = manager.Initialize(ctx, "f1", domain.ChainIDEthereum, 1000)
	_ = manager.SetState("f1", StateScanning, "start")
	_ = manager.Advance(ctx, "f1", 1500, nil)

	if err := manager.Reset(ctx, "f1", 1200); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	marker, _ := manager.Get(ctx, "f1")
	if marker.LastBlockSynced != 1200 {
		t.Errorf("expected block 1200 after reset, got %d", marker.LastBlockSynced)
	}
	if manager.GetMetrics("f1").LastResetAt == nil {
		t.Error("expected LastResetAt to be set")
	}
	if len(transitions) != 1 || transitions[0].To != StateScanning {
		t.Errorf("expected one recorded transition, got %+v", transitions)
	}

	if err := manager.Reset(ctx, "unknown", 1); !errors.Is(err, ErrCursorNotFound) {
		t.Errorf("expected ErrCursorNotFound, got %v", err)
	}
}

func TestManagerSetState_Invalid(t *testing.T) {
	manager, _ := newTestManager()
	_ = manager.SetState("f1", StateScanning, "start")

	err := manager.SetState("f1", StateInit, "restart")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestManagerGetLag(t *testing.T) {
	manager, _ := newTestManager()
	ctx := context.Background()

	_, _ = manager.Initialize(ctx, "f1", domain.ChainIDEthereum, 1001)

	lag, err := manager.GetLag(ctx, "f1", 1100)
	if err != nil {
		t.Fatalf("GetLag failed: %v", err)
	}
	if lag != 100 {
		t.Errorf("expected lag 100, got %d", lag)
	}
}

// =============================================================================
// Metrics Tests
// =============================================================================

func TestMetricsCollector(t *testing.T) {
	mc := NewMetricsCollector(10)

	now := time.Now()
	for i := 0; i < 5; i++ {
		mc.RecordBlock(uint64(100+10*i), now.Add(time.Duration(i)*time.Second))
	}

	metrics := mc.GetMetrics()

	if metrics.BlocksPerSecond < 9 || metrics.BlocksPerSecond > 11 {
		t.Errorf("expected ~10 blocks/sec, got %f", metrics.BlocksPerSecond)
	}
}

func TestMetricsCollector_TransitionTracking(t *testing.T) {
	mc := NewMetricsCollector(10)

	mc.RecordTransition(NewTransition(StateInit, StateScanning, "start"))
	mc.RecordTransition(NewTransition(StateScanning, StateCatchup, "behind head"))

	metrics := mc.GetMetrics()

	if len(metrics.StateHistory) != 2 {
		t.Errorf("expected 2 transitions, got %d", len(metrics.StateHistory))
	}
}
