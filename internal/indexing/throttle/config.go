package throttle

import "time"

// AdaptiveConfig holds configuration for adaptive polling.
type AdaptiveConfig struct {
	// Enabled controls whether adaptive polling is active
	Enabled bool

	// Interval bounds
	MinScanInterval time.Duration // Fastest polling rate (default: 500ms)
	MaxScanInterval time.Duration // Slowest polling rate (default: 60s)

	// Head caching
	HeadCacheTTL time.Duration // How long filters on one chain share a sync head (default: 3s)

	// Lag thresholds in blocks
	LagNormalThreshold int64 // Below this = normal interval (default: 5)
	LagBurstThreshold  int64 // Above this = max speed (default: 50)
}

// DefaultConfig returns sensible defaults for adaptive polling.
func DefaultConfig() AdaptiveConfig {
	return AdaptiveConfig{
		Enabled:            true,
		MinScanInterval:    500 * time.Millisecond,
		MaxScanInterval:    60 * time.Second,
		HeadCacheTTL:       3 * time.Second,
		LagNormalThreshold: 5,
		LagBurstThreshold:  50,
	}
}
