// Package provider implements HTTP transports used next to the typed EVM client.
//
// This package contains:
//   - Provider interface: core abstraction for HTTP endpoints
//   - HTTPProvider: JSON-RPC (custom methods such as zkevm_*) and REST
//     (attestation, proof and bridge-service APIs) over HTTP
//   - ProviderMonitor: latency and throttle tracking
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Provider defines the core interface for an HTTP endpoint.
type Provider interface {
	// GetName returns provider identifier (e.g., "circle", "zkevm-rpc")
	GetName() string

	// GetHealth returns current health metrics
	GetHealth() HealthStatus

	// IsAvailable checks if the provider is healthy enough to use
	IsAvailable() bool

	// Close cleans up resources
	Close() error
}

// RPCProvider extends Provider with JSON-RPC calls.
type RPCProvider interface {
	Provider

	// Call makes a single RPC request
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available          bool          `json:"available"`
	Latency            time.Duration `json:"latency"`
	ErrorRate          float64       `json:"error_rate"`
	RequestsLastMinute int           `json:"requests_last_minute"`
	LastSuccessAt      time.Time     `json:"last_success_at"`
	LastFailureAt      time.Time     `json:"last_failure_at"`
	MonitorStats       *MonitorStats `json:"monitor_stats,omitempty"`
}

// StatusError is returned for non-2xx REST responses. Body is kept because
// several APIs report their domain errors with an error status.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	if e.StatusCode == 429 {
		return fmt.Sprintf("rate limited (429): %s", string(e.Body))
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, string(e.Body))
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
