package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/relayer/internal/core/config"
	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/infra/chain"
	"github.com/vietddude/relayer/internal/infra/chain/evm"
	"github.com/vietddude/relayer/internal/infra/chain/finality"
	"github.com/vietddude/relayer/internal/infra/chain/wallet"
	"github.com/vietddude/relayer/internal/infra/rpc/provider"
	"github.com/vietddude/relayer/internal/infra/rpc/routing"
)

// Chains holds the per-chain collaborators built from configuration.
type Chains struct {
	Clients  chain.Registry
	Finality map[domain.ChainID]finality.Strategy
	Wallets  *wallet.Registry
	// Providers are the HTTP endpoints opened for finality and bridge APIs.
	Providers []provider.Provider
}

func retryConfig(cfg *config.AppConfig) routing.RetryConfig {
	return routing.RetryConfig{
		MaxRetries: cfg.RPC.MaxRetries,
		Timeout:    cfg.RPC.Timeout,
		BaseDelay:  cfg.RPC.BaseDelay,
	}
}

// DialChains connects to every configured chain.
func DialChains(ctx context.Context, cfg *config.AppConfig) (*Chains, error) {
	retry := retryConfig(cfg)
	out := &Chains{
		Clients:  make(chain.Registry, len(cfg.Chains)),
		Finality: make(map[domain.ChainID]finality.Strategy, len(cfg.Chains)),
		Wallets:  wallet.NewRegistry(),
	}

	for _, ch := range cfg.Chains {
		client, err := evm.Dial(ctx, ch.ChainID, ch.URL, retry)
		if err != nil {
			return nil, err
		}
		out.Clients[ch.ChainID] = client

		strategy, endpoint, err := newFinality(ch, client, retry)
		if err != nil {
			return nil, err
		}
		out.Finality[ch.ChainID] = strategy
		if endpoint != nil {
			out.Providers = append(out.Providers, endpoint)
		}

		if ch.PrivateKey != "" {
			w, err := wallet.NewKeyedWallet(ch.ChainID, ch.PrivateKey, client)
			if err != nil {
				return nil, err
			}
			out.Wallets.Register(w)
			slog.Info("Wallet loaded", "chain", ch.Name, "address", w.Address().Hex())
		}
	}
	return out, nil
}

// newFinality also returns the zkEVM endpoint it opened, if any.
func newFinality(ch config.ChainConfig, client chain.Client, retry routing.RetryConfig) (finality.Strategy, provider.Provider, error) {
	opts := finality.Options{
		SafeConfirmations:      ch.SafeConfirmations,
		FinalizedConfirmations: ch.FinalizedConfirmations,
	}
	var endpoint provider.Provider
	switch ch.Finality {
	case "collateralized", "polygonzk":
		// zkEVM batch numbers are served by the chain's own endpoint
		rpc := provider.NewHTTPProvider(ch.Name+"-zkevm", ch.URL, retry.Timeout)
		opts.Custom = finality.NewPolygonZk(rpc, client, routing.NewRetrier(ch.Name, retry))
		endpoint = rpc
	}

	strategy, err := finality.New(ch.Finality, client, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("chain %s: %w", ch.Name, err)
	}
	return strategy, endpoint, nil
}
