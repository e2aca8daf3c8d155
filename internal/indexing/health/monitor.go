package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/relayer/internal/core/cursor"
	"github.com/vietddude/relayer/internal/indexing/indexer"
	"github.com/vietddude/relayer/internal/infra/rpc/provider"
)

// FilterStatusSource reports indexer filters. Implemented by indexer.EventIndexer.
type FilterStatusSource interface {
	Statuses(ctx context.Context) ([]indexer.Status, error)
}

// ItemCounter reports state machine occupancy. Implemented by statemachine.Machine.
type ItemCounter interface {
	Name() string
	Count(ctx context.Context) (map[string]int, error)
}

// Thresholds classify filter lag in blocks.
type Thresholds struct {
	DegradedLag uint64
	CriticalLag uint64
}

var DefaultThresholds = Thresholds{DegradedLag: 10, CriticalLag: 100}

// Monitor aggregates health status from the indexer and the state machines.
type Monitor struct {
	filters    FilterStatusSource
	machines   []ItemCounter
	providers  []provider.Provider
	thresholds Thresholds
	cacheTTL   time.Duration

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *HealthReport
}

// NewMonitor creates a new health monitor.
func NewMonitor(filters FilterStatusSource, machines ...ItemCounter) *Monitor {
	return &Monitor{
		filters:    filters,
		machines:   machines,
		thresholds: DefaultThresholds,
		cacheTTL:   10 * time.Second,
	}
}

// WatchProviders adds HTTP endpoints to the report. A throttled or blocked
// endpoint degrades the system status.
func (m *Monitor) WatchProviders(providers ...provider.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, providers...)
	m.lastReport = nil
}

// CheckHealth builds a report, reusing the previous one for cacheTTL.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.cacheTTL {
		return *m.lastReport
	}

	report := HealthReport{SystemStatus: StatusHealthy}

	statuses, err := m.filters.Statuses(ctx)
	if err != nil {
		report.SystemStatus = StatusCritical
	}
	for _, s := range statuses {
		fh := FilterHealth{
			FilterID:        s.FilterID,
			Name:            s.Name,
			Chain:           s.ChainID.Name(),
			State:           string(s.State),
			LastBlockSynced: s.LastBlockSynced,
			Status:          StatusHealthy,
		}
		if s.Lag > 0 {
			fh.BlockLag = uint64(s.Lag)
		}

		switch {
		case fh.BlockLag > m.thresholds.CriticalLag:
			fh.Status = StatusCritical
		case fh.BlockLag > m.thresholds.DegradedLag, s.State == cursor.StatePaused:
			fh.Status = StatusDegraded
		}
		report.SystemStatus = worse(report.SystemStatus, fh.Status)
		report.Filters = append(report.Filters, fh)
	}

	for _, machine := range m.machines {
		mh := MachineHealth{Name: machine.Name(), Status: StatusHealthy}
		counts, err := machine.Count(ctx)
		if err != nil {
			mh.Status = StatusDegraded
		}
		mh.Items = counts
		report.SystemStatus = worse(report.SystemStatus, mh.Status)
		report.Machines = append(report.Machines, mh)
	}

	for _, p := range m.providers {
		ph := ProviderHealth{Name: p.GetName(), Status: StatusHealthy, Health: p.GetHealth()}
		if !p.IsAvailable() {
			ph.Status = StatusDegraded
		}
		report.SystemStatus = worse(report.SystemStatus, ph.Status)
		report.Providers = append(report.Providers, ph)
	}

	m.lastCheck = time.Now()
	m.lastReport = &report
	return report
}
