package control

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/relayer/internal/core/config"
	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/infra/attestation"
	"github.com/vietddude/relayer/internal/infra/bridge"
	"github.com/vietddude/relayer/internal/infra/bridge/arbitrum"
	cctpadapter "github.com/vietddude/relayer/internal/infra/bridge/cctp"
	"github.com/vietddude/relayer/internal/infra/bridge/gnosis"
	"github.com/vietddude/relayer/internal/infra/bridge/polygon"
	"github.com/vietddude/relayer/internal/infra/bridge/polygonzk"
	"github.com/vietddude/relayer/internal/infra/chain"
)

// NewCCTPAdapter builds the adapter for every chain with a message transmitter.
func NewCCTPAdapter(cfg *config.AppConfig, clients chain.Registry, attestations attestation.Fetcher) *cctpadapter.Adapter {
	transmitters := make(map[domain.ChainID]common.Address, len(cfg.CCTP.MessageTransmitters))
	for id, addr := range cfg.CCTP.MessageTransmitters {
		transmitters[id] = common.HexToAddress(addr)
	}
	return cctpadapter.New(clients, attestations, cctpadapter.Config{
		Network:             cfg.Network,
		MessageTransmitters: transmitters,
	})
}

// NewBridgeRegistry registers a relayer for every configured bridge. HTTP
// endpoints opened by the adapters are added to chains.Providers.
func NewBridgeRegistry(cfg *config.AppConfig, chains *Chains, cctp *cctpadapter.Adapter) (*bridge.Registry, error) {
	registry := bridge.NewRegistry()
	retry := retryConfig(cfg)

	for _, b := range cfg.Bridges {
		l1, ok := chains.Clients.Get(b.L1)
		if !ok {
			return nil, fmt.Errorf("%s bridge: no client for chain %s", b.Type, b.L1.Name())
		}
		l2, ok := chains.Clients.Get(b.L2)
		if !ok {
			return nil, fmt.Errorf("%s bridge: no client for chain %s", b.Type, b.L2.Name())
		}

		var rel bridge.Relayer
		switch b.Type {
		case config.BridgeArbitrum:
			adapter := arbitrum.New(l1, l2, arbitrum.Config{Outbox: common.HexToAddress(b.Outbox)})
			rel = bridge.NewService(b.Type, b.L1, b.L2, adapter, chains.Wallets)
		case config.BridgeGnosis:
			adapter := gnosis.New(l1, l2, gnosis.Config{
				L1AMB: common.HexToAddress(b.L1AMB),
				L2AMB: common.HexToAddress(b.L2AMB),
			})
			rel = bridge.NewService(b.Type, b.L1, b.L2, adapter, chains.Wallets)
		case config.BridgePolygon:
			adapter := polygon.New(l1, l2, polygon.Config{ProofAPIURL: b.ProofAPIURL}, retry)
			chains.Providers = append(chains.Providers, adapter.Provider())
			rel = bridge.NewService(b.Type, b.L1, b.L2, adapter, chains.Wallets)
		case config.BridgePolygonZk:
			adapter := polygonzk.New(l1, l2, polygonzk.Config{
				Bridge:           common.HexToAddress(b.Bridge),
				BridgeServiceURL: b.BridgeServiceURL,
			}, retry)
			chains.Providers = append(chains.Providers, adapter.Provider())
			rel = bridge.NewService(b.Type, b.L1, b.L2, adapter, chains.Wallets)
		case config.BridgeCCTP:
			rel = bridge.NewService(b.Type, b.L1, b.L2, cctp, chains.Wallets)
		default:
			return nil, fmt.Errorf("unknown bridge type %q", b.Type)
		}

		if err := registry.Register(rel); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
