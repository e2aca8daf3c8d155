// Package cursor tracks the indexing position of each log filter.
//
// A cursor is the SyncMarker of one filter: the last block whose logs are
// durably stored. It only moves forward, and it is written in the same batch
// as the logs it covers, so a crash between windows replays at most one
// window and never skips one.
//
//	manager := cursor.NewManager(storage.NewSyncMarkers(kv))
//
//	// First run starts at startBlock-1
//	m, _ := manager.Initialize(ctx, filterID, chainID, 1000)
//
//	// Persist logs for 1000..1099 and move the cursor in one batch
//	manager.Advance(ctx, filterID, 1099, logOps)  // ✓ OK
//	manager.Advance(ctx, filterID, 1050, nil)     // ✗ ErrCursorRegression
//
//	// Operators may move a cursor anywhere
//	manager.Reset(ctx, filterID, 900)
//
// # Package Structure
//
//   - state.go   - in-process cursor states and valid transitions
//   - manager.go - Manager over storage.SyncMarkers
//   - metrics.go - throughput and state history
package cursor

import (
	"github.com/vietddude/relayer/internal/infra/storage"
)

// NewManager creates a new cursor manager over the given marker store.
func NewManager(markers *storage.SyncMarkers, kv storage.KV) *DefaultManager {
	return &DefaultManager{
		markers:          markers,
		kv:               kv,
		states:           make(map[string]State),
		blockTimeHistory: make(map[string]*MetricsCollector),
	}
}

// NewMetricsCollector creates a new metrics collector with the given window size.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &MetricsCollector{
		windowSize:  windowSize,
		blockTimes:  make([]blockRecord, 0, windowSize),
		transitions: make([]Transition, 0, 10),
	}
}
