package domain

import (
	"fmt"
	"strconv"
)

// ChainID is a numeric EVM chain identifier.
type ChainID uint64

func (c ChainID) String() string {
	return strconv.FormatUint(uint64(c), 10)
}

// ParseChainID parses a decimal chain id.
func ParseChainID(s string) (ChainID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chain id %q: %w", s, err)
	}
	return ChainID(v), nil
}

type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkSepolia Network = "sepolia"
)

const (
	// Mainnet
	ChainIDEthereum  ChainID = 1
	ChainIDOptimism  ChainID = 10
	ChainIDGnosis    ChainID = 100
	ChainIDPolygon   ChainID = 137
	ChainIDPolygonZk ChainID = 1101
	ChainIDBase      ChainID = 8453
	ChainIDArbitrum  ChainID = 42161

	// Sepolia
	ChainIDSepolia         ChainID = 11155111
	ChainIDOptimismSepolia ChainID = 11155420
	ChainIDArbitrumSepolia ChainID = 421614
	ChainIDBaseSepolia     ChainID = 84532
)

// ChainIDToName maps ChainID to its slug.
var ChainIDToName = map[ChainID]string{
	ChainIDEthereum:        "ethereum",
	ChainIDOptimism:        "optimism",
	ChainIDGnosis:          "gnosis",
	ChainIDPolygon:         "polygon",
	ChainIDPolygonZk:       "polygonzk",
	ChainIDBase:            "base",
	ChainIDArbitrum:        "arbitrum",
	ChainIDSepolia:         "sepolia",
	ChainIDOptimismSepolia: "optimism-sepolia",
	ChainIDArbitrumSepolia: "arbitrum-sepolia",
	ChainIDBaseSepolia:     "base-sepolia",
}

// Name returns the chain slug, or the decimal id for unknown chains.
func (c ChainID) Name() string {
	if name, ok := ChainIDToName[c]; ok {
		return name
	}
	return c.String()
}

// CCTP domains are Circle's chain-independent identifiers.
var cctpDomainToChainID = map[Network]map[uint32]ChainID{
	NetworkMainnet: {
		0: ChainIDEthereum,
		2: ChainIDOptimism,
		3: ChainIDArbitrum,
		6: ChainIDBase,
		7: ChainIDPolygon,
	},
	NetworkSepolia: {
		0: ChainIDSepolia,
		2: ChainIDOptimismSepolia,
		3: ChainIDArbitrumSepolia,
		6: ChainIDBaseSepolia,
	},
}

// ChainIDFromCCTPDomain resolves a CCTP domain on the given network.
func ChainIDFromCCTPDomain(network Network, domain uint32) (ChainID, bool) {
	id, ok := cctpDomainToChainID[network][domain]
	return id, ok
}

// CCTPDomainFromChainID is the inverse of ChainIDFromCCTPDomain.
func CCTPDomainFromChainID(network Network, chainID ChainID) (uint32, bool) {
	for domain, id := range cctpDomainToChainID[network] {
		if id == chainID {
			return domain, true
		}
	}
	return 0, false
}
