package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/infra/storage"
)

var (
	// ErrCursorNotFound is returned when a cursor doesn't exist.
	ErrCursorNotFound = errors.New("cursor not found")

	// ErrCursorRegression is returned when Advance would move a cursor backwards.
	ErrCursorRegression = errors.New("cursor regression")

	// ErrCursorPaused is returned when trying to advance a paused cursor.
	ErrCursorPaused = errors.New("cursor is paused")
)

// Manager handles cursor operations with state machine enforcement.
type Manager interface {
	// Get retrieves the current cursor for a filter.
	Get(ctx context.Context, filterID string) (domain.SyncMarker, error)

	// Initialize loads the cursor, creating it at startBlock-1 when absent.
	Initialize(ctx context.Context, filterID string, chainID domain.ChainID, startBlock uint64) (domain.SyncMarker, error)

	// Advance writes ops and moves the cursor to block in one atomic batch.
	Advance(ctx context.Context, filterID string, block uint64, ops []storage.Op) error

	// Reset moves the cursor to block regardless of its position.
	Reset(ctx context.Context, filterID string, block uint64) error

	// SetState transitions cursor to new state (validates transition).
	SetState(filterID string, newState State, reason string) error

	// State returns the in-process state of a cursor.
	State(filterID string) State

	// GetLag returns blocks behind head.
	GetLag(ctx context.Context, filterID string, head uint64) (int64, error)

	// GetMetrics returns performance metrics for a filter.
	GetMetrics(filterID string) Metrics

	// SetStateChangeCallback registers callback for state changes.
	SetStateChangeCallback(fn func(filterID string, t Transition))
}

// DefaultManager implements Manager over storage.SyncMarkers.
type DefaultManager struct {
	markers *storage.SyncMarkers
	kv      storage.KV

	mu               sync.RWMutex
	states           map[string]State
	stateCallback    func(string, Transition)
	blockTimeHistory map[string]*MetricsCollector
}

var _ Manager = (*DefaultManager)(nil)

func (m *DefaultManager) Get(ctx context.Context, filterID string) (domain.SyncMarker, error) {
	marker, ok, err := m.markers.Get(ctx, filterID)
	if err != nil {
		return marker, fmt.Errorf("failed to get cursor: %w", err)
	}
	if !ok {
		return marker, fmt.Errorf("%w: %s", ErrCursorNotFound, filterID)
	}
	return marker, nil
}

func (m *DefaultManager) Initialize(
	ctx context.Context,
	filterID string,
	chainID domain.ChainID,
	startBlock uint64,
) (domain.SyncMarker, error) {
	m.mu.Lock()
	if _, ok := m.blockTimeHistory[filterID]; !ok {
		m.blockTimeHistory[filterID] = NewMetricsCollector(100)
		m.states[filterID] = StateInit
	}
	m.mu.Unlock()

	marker, ok, err := m.markers.Get(ctx, filterID)
	if err != nil {
		return marker, fmt.Errorf("failed to get cursor: %w", err)
	}
	if ok {
		return marker, nil
	}

	marker = domain.SyncMarker{
		FilterID:        filterID,
		ChainID:         chainID,
		LastBlockSynced: max(startBlock, 1) - 1,
		UpdatedAt:       time.Now(),
	}
	if err := m.markers.Set(ctx, marker); err != nil {
		return marker, fmt.Errorf("failed to save cursor: %w", err)
	}
	return marker, nil
}

func (m *DefaultManager) Advance(ctx context.Context, filterID string, block uint64, ops []storage.Op) error {
	if m.State(filterID) == StatePaused {
		return ErrCursorPaused
	}

	marker, err := m.Get(ctx, filterID)
	if err != nil {
		return err
	}
	if block < marker.LastBlockSynced {
		return fmt.Errorf("%w: cursor at %d, got %d", ErrCursorRegression, marker.LastBlockSynced, block)
	}

	marker.LastBlockSynced = block
	marker.UpdatedAt = time.Now()
	op, err := m.markers.Op(marker)
	if err != nil {
		return err
	}

	batch := make([]storage.Op, 0, len(ops)+1)
	batch = append(batch, ops...)
	batch = append(batch, op)
	if err := m.kv.Batch(ctx, batch); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}

	m.mu.Lock()
	if collector, ok := m.blockTimeHistory[filterID]; ok {
		collector.RecordBlock(block, marker.UpdatedAt)
	}
	m.mu.Unlock()
	return nil
}

func (m *DefaultManager) Reset(ctx context.Context, filterID string, block uint64) error {
	marker, ok, err := m.markers.Get(ctx, filterID)
	if err != nil {
		return fmt.Errorf("failed to get cursor: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrCursorNotFound, filterID)
	}

	from := marker.LastBlockSynced
	marker.LastBlockSynced = block
	marker.UpdatedAt = time.Now()
	if err := m.markers.Set(ctx, marker); err != nil {
		return fmt.Errorf("failed to reset cursor: %w", err)
	}

	m.mu.Lock()
	if collector, ok := m.blockTimeHistory[filterID]; ok {
		collector.RecordReset(from, block, marker.UpdatedAt)
	}
	m.mu.Unlock()
	return nil
}

func (m *DefaultManager) SetState(filterID string, newState State, reason string) error {
	m.mu.Lock()
	current, ok := m.states[filterID]
	if !ok {
		current = StateInit
	}
	if current == newState {
		m.mu.Unlock()
		return nil
	}
	if !CanTransition(current, newState) {
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, current, newState)
	}

	transition := NewTransition(current, newState, reason)
	m.states[filterID] = newState
	if collector, ok := m.blockTimeHistory[filterID]; ok {
		collector.RecordTransition(transition)
	}
	callback := m.stateCallback
	m.mu.Unlock()

	if callback != nil {
		callback(filterID, transition)
	}
	return nil
}

func (m *DefaultManager) State(filterID string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.states[filterID]; ok {
		return s
	}
	return StateInit
}

// Pause stops Advance for a filter until Resume.
func (m *DefaultManager) Pause(filterID, reason string) error {
	return m.SetState(filterID, StatePaused, reason)
}

func (m *DefaultManager) Resume(filterID string) error {
	if s := m.State(filterID); s != StatePaused {
		return fmt.Errorf("cursor is not paused, current state: %s", s)
	}
	return m.SetState(filterID, StateScanning, "manual resume")
}

func (m *DefaultManager) GetLag(ctx context.Context, filterID string, head uint64) (int64, error) {
	marker, err := m.Get(ctx, filterID)
	if err != nil {
		return 0, err
	}
	return int64(head) - int64(marker.LastBlockSynced), nil
}

func (m *DefaultManager) GetMetrics(filterID string) Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if collector, ok := m.blockTimeHistory[filterID]; ok {
		return collector.GetMetrics()
	}
	return Metrics{}
}

func (m *DefaultManager) SetStateChangeCallback(fn func(filterID string, t Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateCallback = fn
}
