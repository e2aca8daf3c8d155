package routing

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/vietddude/relayer/internal/indexing/metrics"
)

// RetryConfig defines retry behavior.
type RetryConfig struct {
	// MaxRetries is the attempt count at which the original error is returned.
	MaxRetries int
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// BaseDelay is multiplied by 2^attempts between attempts.
	BaseDelay time.Duration
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxRetries: 5,
	Timeout:    300 * time.Second,
	BaseDelay:  1 * time.Second,
}

// ErrorAction determines how to handle an error.
type ErrorAction int

const (
	ActionRetry ErrorAction = iota
	ActionFatal
)

func (a ErrorAction) String() string {
	if a == ActionRetry {
		return "retry"
	}
	return "fatal"
}

var (
	rateLimitRe   = regexp.MustCompile(`(?i)(rate limit|too many concurrent requests|too many requests|exceeded|socket hang up|\b429\b)`)
	timeoutRe     = regexp.MustCompile(`(?i)(timeout|time-out|time out|timedout|timed out)`)
	connectionRe  = regexp.MustCompile(`(?i)(ETIMEDOUT|ENETUNREACH|ECONNRESET|ECONNREFUSED|SERVER_ERROR|EPROTO|connection refused|connection reset|no such host|broken pipe|\bEOF\b|network is unreachable)`)
	badResponseRe = regexp.MustCompile(`(?i)(bad response|response error|missing response|processing response error|invalid json response body|FetchError|parse response|invalid character)`)
	revertRe      = regexp.MustCompile(`(?i)revert`)

	oversizedDataRe  = regexp.MustCompile(`(?i)oversized data`)
	bridgeContractRe = regexp.MustCompile(`BRG:`)
	nonceTooLowRe    = regexp.MustCompile(`(?i)(nonce too low|nonce has already been used|NONCE_EXPIRED)`)
	estimateGasRe    = regexp.MustCompile(`(?i)(cannot estimate gas|failed to estimate gas|gas required exceeds allowance|UNPREDICTABLE_GAS_LIMIT)`)
	alreadyKnownRe   = regexp.MustCompile(`(?i)(already known|known transaction)`)
	feeTooLowRe      = regexp.MustCompile(`(?i)(fee too low|underpriced|max fee per gas less than block base fee)`)
	callLookupRe     = regexp.MustCompile(`(?i)(call revert exception|CALL_EXCEPTION)`)
)

// ErrorType returns a short label describing err, used for metrics and logs.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	switch {
	case oversizedDataRe.MatchString(s):
		return "oversized_data"
	case bridgeContractRe.MatchString(s):
		return "bridge_contract"
	case nonceTooLowRe.MatchString(s):
		return "nonce_too_low"
	case estimateGasRe.MatchString(s):
		return "estimate_gas"
	case alreadyKnownRe.MatchString(s):
		return "already_known"
	case feeTooLowRe.MatchString(s):
		return "fee_too_low"
	case callLookupRe.MatchString(s):
		return "call_lookup_revert"
	case isConnection(s):
		return "connection"
	case isTimeout(err, s):
		return "timeout"
	case revertRe.MatchString(s):
		return "revert"
	case rateLimitRe.MatchString(s):
		return "rate_limit"
	case badResponseRe.MatchString(s):
		return "bad_response"
	default:
		return "unknown"
	}
}

func isTimeout(err error, s string) bool {
	return errors.Is(err, context.DeadlineExceeded) || timeoutRe.MatchString(s)
}

func isConnection(s string) bool {
	return connectionRe.MatchString(s)
}

// ClassifyError determines the action for a given error.
//
// Transient provider failures are retried. A revert is never retried unless a
// connection or timeout signal is also present, since a dropped connection can
// surface as a revert with missing data.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionFatal
	}

	s := err.Error()

	if oversizedDataRe.MatchString(s) ||
		bridgeContractRe.MatchString(s) ||
		nonceTooLowRe.MatchString(s) ||
		estimateGasRe.MatchString(s) ||
		alreadyKnownRe.MatchString(s) ||
		feeTooLowRe.MatchString(s) ||
		callLookupRe.MatchString(s) {
		return ActionFatal
	}

	timeout := isTimeout(err, s)
	connection := isConnection(s)
	revert := revertRe.MatchString(s) && !connection && !timeout
	if revert {
		return ActionFatal
	}

	if rateLimitRe.MatchString(s) || timeout || connection || badResponseRe.MatchString(s) {
		return ActionRetry
	}

	return ActionFatal
}

// Retrier applies the retry policy to the calls of one chain.
// It holds no per-call state, so one Retrier is shared by concurrent calls.
type Retrier struct {
	chain string
	cfg   RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a retrier labelled with the chain name.
func NewRetrier(chain string, cfg RetryConfig) *Retrier {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultRetryConfig.MaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRetryConfig.Timeout
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultRetryConfig.BaseDelay
	}
	return &Retrier{chain: chain, cfg: cfg, sleep: sleepCtx}
}

// Config returns the effective configuration.
func (r *Retrier) Config() RetryConfig {
	return r.cfg
}

// Call executes op with a per-attempt timeout and exponential backoff.
// The original error is returned once the retry limit is reached, and
// immediately for errors that retrying cannot fix.
func Call[T any](ctx context.Context, r *Retrier, method string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	retries := 0

	for {
		start := time.Now()
		metrics.RPCCallsTotal.WithLabelValues(r.chain, method).Inc()

		result, err := attempt(ctx, r.cfg.Timeout, op)
		metrics.RPCLatency.WithLabelValues(r.chain, method).Observe(time.Since(start).Seconds())
		if err == nil {
			return result, nil
		}

		// Caller cancellation is not a provider failure
		if ctx.Err() != nil {
			return zero, err
		}

		metrics.RPCErrorsTotal.WithLabelValues(r.chain, method, ErrorType(err)).Inc()

		if ClassifyError(err) == ActionFatal {
			return zero, err
		}

		retries++
		if retries >= r.cfg.MaxRetries {
			return zero, err
		}

		metrics.RPCRetriesTotal.WithLabelValues(r.chain, method).Inc()
		if serr := r.sleep(ctx, backoff(retries, r.cfg.BaseDelay)); serr != nil {
			return zero, err
		}
	}
}

// Do is Call for operations without a result.
func (r *Retrier) Do(ctx context.Context, method string, op func(ctx context.Context) error) error {
	_, err := Call(ctx, r, method, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func attempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := op(callCtx)
	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return result, fmt.Errorf("call timed out after %s: %w", timeout, err)
	}
	return result, err
}

func backoff(retries int, base time.Duration) time.Duration {
	return time.Duration(1<<retries) * base
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
