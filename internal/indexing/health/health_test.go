package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/vietddude/relayer/internal/core/cursor"
	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/indexing/indexer"
	"github.com/vietddude/relayer/internal/infra/rpc/provider"
)

type stubFilters struct {
	mu       sync.RWMutex
	statuses []indexer.Status
	err      error
	calls    int
}

func (s *stubFilters) Statuses(context.Context) ([]indexer.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.statuses, s.err
}

type stubMachine struct {
	counts map[string]int
	err    error
}

func (s *stubMachine) Name() string { return "cctp" }
func (s *stubMachine) Count(context.Context) (map[string]int, error) {
	return s.counts, s.err
}

type stubProvider struct {
	name      string
	available bool
}

func (s *stubProvider) GetName() string { return s.name }
func (s *stubProvider) GetHealth() provider.HealthStatus {
	return provider.HealthStatus{Available: s.available, RequestsLastMinute: 4}
}
func (s *stubProvider) IsAvailable() bool { return s.available }
func (s *stubProvider) Close() error      { return nil }

func status(lag int64, state cursor.State) indexer.Status {
	return indexer.Status{
		FilterID: "0x01",
		Name:     "cctp-sent-ethereum",
		ChainID:  domain.ChainIDEthereum,
		Lag:      lag,
		State:    state,
	}
}

func TestCheckHealth(t *testing.T) {
	tests := []struct {
		name     string
		filters  *stubFilters
		machine  *stubMachine
		expected SystemStatus
	}{
		{
			name:     "healthy",
			filters:  &stubFilters{statuses: []indexer.Status{status(2, cursor.StateScanning)}},
			machine:  &stubMachine{counts: map[string]int{"sent": 3}},
			expected: StatusHealthy,
		},
		{
			name:     "lagging",
			filters:  &stubFilters{statuses: []indexer.Status{status(50, cursor.StateCatchup)}},
			machine:  &stubMachine{},
			expected: StatusDegraded,
		},
		{
			name:     "paused",
			filters:  &stubFilters{statuses: []indexer.Status{status(0, cursor.StatePaused)}},
			machine:  &stubMachine{},
			expected: StatusDegraded,
		},
		{
			name:     "far behind",
			filters:  &stubFilters{statuses: []indexer.Status{status(2, cursor.StateScanning), status(500, cursor.StateCatchup)}},
			machine:  &stubMachine{},
			expected: StatusCritical,
		},
		{
			name:     "cursor store down",
			filters:  &stubFilters{err: errors.New("connection refused")},
			machine:  &stubMachine{},
			expected: StatusCritical,
		},
		{
			name:     "state store down",
			filters:  &stubFilters{},
			machine:  &stubMachine{err: errors.New("connection refused")},
			expected: StatusDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := NewMonitor(tt.filters, tt.machine).CheckHealth(context.Background())
			if report.SystemStatus != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, report.SystemStatus)
			}
		})
	}
}

func TestCheckHealth_Providers(t *testing.T) {
	filters := &stubFilters{statuses: []indexer.Status{status(0, cursor.StateScanning)}}
	m := NewMonitor(filters)
	m.WatchProviders(&stubProvider{name: "attestation", available: true})

	report := m.CheckHealth(context.Background())
	if report.SystemStatus != StatusHealthy || len(report.Providers) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if p := report.Providers[0]; p.Name != "attestation" || p.Health.RequestsLastMinute != 4 {
		t.Errorf("unexpected provider health %+v", p)
	}

	// adding a provider drops the cached report
	m.WatchProviders(&stubProvider{name: "polygon-proof-generator"})
	report = m.CheckHealth(context.Background())
	if report.SystemStatus != StatusDegraded {
		t.Errorf("expected throttled endpoint to degrade status, got %s", report.SystemStatus)
	}
	if report.Providers[1].Status != StatusDegraded {
		t.Errorf("unexpected provider status %s", report.Providers[1].Status)
	}
}

func TestCheckHealth_Cached(t *testing.T) {
	filters := &stubFilters{statuses: []indexer.Status{status(0, cursor.StateScanning)}}
	m := NewMonitor(filters)

	m.CheckHealth(context.Background())
	m.CheckHealth(context.Background())
	if filters.calls != 1 {
		t.Errorf("expected one status read within the cache window, got %d", filters.calls)
	}
}

func TestServer(t *testing.T) {
	filters := &stubFilters{statuses: []indexer.Status{status(500, cursor.StateCatchup)}}
	machine := &stubMachine{counts: map[string]int{"sent": 2, "relayed": 5}}
	srv := httptest.NewServer(NewServer(NewMonitor(filters, machine), 0).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for critical status, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/health/detailed")
	if err != nil {
		t.Fatalf("GET /health/detailed failed: %v", err)
	}
	var report HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	resp.Body.Close()
	if len(report.Filters) != 1 || report.Filters[0].BlockLag != 500 || report.Filters[0].Chain != "ethereum" {
		t.Errorf("unexpected filters %+v", report.Filters)
	}
	if len(report.Machines) != 1 || report.Machines[0].Items["relayed"] != 5 {
		t.Errorf("unexpected machines %+v", report.Machines)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		t.Errorf("unexpected metrics response %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}
