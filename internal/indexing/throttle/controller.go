package throttle

import (
	"sync"
	"time"

	"github.com/vietddude/relayer/internal/core/domain"
)

// AdaptiveController computes the next poll interval of a filter loop from
// how far its cursor is behind the sync head.
type AdaptiveController struct {
	chainID          domain.ChainID
	baseScanInterval time.Duration
	config           AdaptiveConfig

	mu              sync.Mutex
	currentInterval time.Duration
}

// NewAdaptiveController creates a new adaptive controller.
func NewAdaptiveController(
	chainID domain.ChainID,
	baseScanInterval time.Duration,
	config AdaptiveConfig,
) *AdaptiveController {
	return &AdaptiveController{
		chainID:          chainID,
		baseScanInterval: baseScanInterval,
		config:           config,
		currentInterval:  baseScanInterval,
	}
}

// ComputeInterval calculates the next scan interval based on lag.
//
// Algorithm:
//   - lag ≤ 0: Use base interval (at sync head, save API calls)
//   - lag < normal: Use base interval × 0.5 (slightly behind)
//   - lag < burst: Use min interval × 2 (catching up)
//   - lag ≥ burst: Use min interval (maximum catchup speed)
func (c *AdaptiveController) ComputeInterval(lag int64) time.Duration {
	if !c.config.Enabled {
		return c.baseScanInterval
	}

	var interval time.Duration

	switch {
	case lag <= 0:
		interval = c.baseScanInterval
	case lag < c.config.LagNormalThreshold:
		interval = c.baseScanInterval / 2
	case lag < c.config.LagBurstThreshold:
		interval = c.config.MinScanInterval * 2
	default:
		interval = c.config.MinScanInterval
	}

	// Enforce bounds
	interval = max(interval, c.config.MinScanInterval)
	interval = min(interval, c.config.MaxScanInterval)

	c.mu.Lock()
	c.currentInterval = interval
	c.mu.Unlock()
	return interval
}

// GetCurrentInterval returns the last computed interval (for metrics).
func (c *AdaptiveController) GetCurrentInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentInterval
}
