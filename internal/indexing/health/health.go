// Package health reports indexer lag and state machine occupancy over HTTP.
package health

import "github.com/vietddude/relayer/internal/infra/rpc/provider"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// FilterHealth contains health metrics for one indexer filter.
type FilterHealth struct {
	FilterID        string       `json:"filter_id"`
	Name            string       `json:"name"`
	Chain           string       `json:"chain"`
	Status          SystemStatus `json:"status"`
	State           string       `json:"state"`
	LastBlockSynced uint64       `json:"last_block_synced"`
	BlockLag        uint64       `json:"block_lag"`
}

// MachineHealth contains the item count per state of a state machine.
type MachineHealth struct {
	Name   string         `json:"name"`
	Status SystemStatus   `json:"status"`
	Items  map[string]int `json:"items"`
}

// ProviderHealth describes an HTTP endpoint used for attestations, proofs
// or finality.
type ProviderHealth struct {
	Name   string                `json:"name"`
	Status SystemStatus          `json:"status"`
	Health provider.HealthStatus `json:"health"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus     `json:"system_status"`
	Filters      []FilterHealth   `json:"filters"`
	Machines     []MachineHealth  `json:"machines"`
	Providers    []ProviderHealth `json:"providers,omitempty"`
}

// worse returns the more severe of a and b.
func worse(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
