package cursor

import (
	"fmt"
	"time"
)

// blockRecord holds timing data for a processed block.
type blockRecord struct {
	BlockNumber uint64
	ProcessedAt time.Time
}

// Metrics holds cursor performance data.
type Metrics struct {
	BlocksPerSecond  float64
	AverageBlockTime time.Duration
	LastResetAt      *time.Time
	StateHistory     []Transition
}

// MetricsCollector tracks cursor performance over time.
type MetricsCollector struct {
	windowSize  int           // number of advances to track
	blockTimes  []blockRecord // ring buffer of advances
	transitions []Transition  // recent state changes
	lastResetAt *time.Time
}

// RecordBlock records the block a cursor advanced to.
func (mc *MetricsCollector) RecordBlock(blockNumber uint64, processedAt time.Time) {
	record := blockRecord{
		BlockNumber: blockNumber,
		ProcessedAt: processedAt,
	}

	if len(mc.blockTimes) >= mc.windowSize {
		// Shift elements left, drop oldest
		copy(mc.blockTimes, mc.blockTimes[1:])
		mc.blockTimes[len(mc.blockTimes)-1] = record
	} else {
		mc.blockTimes = append(mc.blockTimes, record)
	}
}

// RecordTransition records a state transition.
func (mc *MetricsCollector) RecordTransition(t Transition) {
	// Keep only last 10 transitions
	if len(mc.transitions) >= 10 {
		copy(mc.transitions, mc.transitions[1:])
		mc.transitions[len(mc.transitions)-1] = t
	} else {
		mc.transitions = append(mc.transitions, t)
	}
}

// RecordReset drops the throughput window, which no longer describes a
// contiguous range after an operator reset.
func (mc *MetricsCollector) RecordReset(from, to uint64, at time.Time) {
	mc.blockTimes = mc.blockTimes[:0]
	mc.lastResetAt = &at
	mc.RecordTransition(Transition{
		From:      StateScanning,
		To:        StateScanning,
		Reason:    fmt.Sprintf("reset from %d to %d", from, to),
		Timestamp: at,
	})
}

// GetMetrics returns current metrics.
func (mc *MetricsCollector) GetMetrics() Metrics {
	m := Metrics{
		LastResetAt:  mc.lastResetAt,
		StateHistory: make([]Transition, len(mc.transitions)),
	}
	copy(m.StateHistory, mc.transitions)

	// Advances cover whole windows, so count blocks rather than records
	if len(mc.blockTimes) >= 2 {
		first := mc.blockTimes[0]
		last := mc.blockTimes[len(mc.blockTimes)-1]
		duration := last.ProcessedAt.Sub(first.ProcessedAt)

		if duration > 0 && last.BlockNumber > first.BlockNumber {
			blockCount := float64(last.BlockNumber - first.BlockNumber)
			m.BlocksPerSecond = blockCount / duration.Seconds()
			m.AverageBlockTime = time.Duration(float64(duration) / blockCount)
		}
	}

	return m
}

// Reset clears all collected metrics.
func (mc *MetricsCollector) Reset() {
	mc.blockTimes = mc.blockTimes[:0]
	mc.transitions = mc.transitions[:0]
	mc.lastResetAt = nil
}
