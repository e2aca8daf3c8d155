// Package attestation fetches Circle attestations for CCTP messages.
package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	logger "log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sethvargo/go-retry"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/infra/rpc/provider"
)

var (
	ErrAttestationNotComplete = errors.New("Attestation not complete")
	ErrMessageHashNotFound    = errors.New("Message hash not found")
)

const (
	MainnetURL = "https://iris-api.circle.com"
	SandboxURL = "https://iris-api-sandbox.circle.com"

	statusComplete = "complete"
)

// URLForNetwork returns the attestation service for a network.
func URLForNetwork(network domain.Network) string {
	if network == domain.NetworkMainnet {
		return MainnetURL
	}
	return SandboxURL
}

// Fetcher is implemented by Client.
type Fetcher interface {
	FetchAttestation(ctx context.Context, messageHash common.Hash) ([]byte, error)
}

type response struct {
	Attestation string `json:"attestation"`
	Status      string `json:"status"`
	Error       string `json:"error"`
}

// Client talks to the attestation API. Requests are serialized to stay
// under the service rate limit.
type Client struct {
	http          *provider.HTTPProvider
	rateLimitWait time.Duration
	maxRetries    uint64
	log           *logger.Logger

	mu sync.Mutex
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:          provider.NewHTTPProvider("attestation", baseURL, timeout),
		rateLimitWait: time.Second,
		maxRetries:    3,
		log:           logger.Default().With("component", "attestation"),
	}
}

// Provider returns the HTTP endpoint behind the client.
func (c *Client) Provider() provider.Provider {
	return c.http
}

// FetchAttestation returns the attestation bytes for a message hash.
//
// Example responses:
//
//	{"error":"Message hash not found"}
//	{"attestation":"PENDING","status":"pending_confirmations"}
//	{"attestation":"0x123...","status":"complete"}
func (c *Client) FetchAttestation(ctx context.Context, messageHash common.Hash) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var resp response
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewConstant(c.rateLimitWait))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp = response{}
		err := c.http.Get(ctx, "v1/attestations/"+messageHash.Hex(), &resp)

		var statusErr *provider.StatusError
		if errors.As(err, &statusErr) {
			if statusErr.StatusCode == http.StatusTooManyRequests {
				c.log.Debug("Attestation API rate limited", "messageHash", messageHash.Hex())
				return retry.RetryableError(err)
			}
			// Error payloads come back with a non-2xx status
			if jerr := json.Unmarshal(statusErr.Body, &resp); jerr == nil && resp.Error != "" {
				return nil
			}
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch attestation %s: %w", messageHash.Hex(), err)
	}

	if resp.Error != "" {
		if strings.Contains(resp.Error, ErrMessageHashNotFound.Error()) {
			return nil, fmt.Errorf("%w (messageHash: %s)", ErrMessageHashNotFound, messageHash.Hex())
		}
		return nil, fmt.Errorf("attestation api error: %s", resp.Error)
	}

	if resp.Status != statusComplete {
		return nil, fmt.Errorf("%w: status %q (messageHash: %s)", ErrAttestationNotComplete, resp.Status, messageHash.Hex())
	}

	attestation, err := hexutil.Decode(resp.Attestation)
	if err != nil {
		return nil, fmt.Errorf("decode attestation: %w", err)
	}
	return attestation, nil
}
