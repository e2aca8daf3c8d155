package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/infra/attestation"
)

var ErrInvalidConfig = errors.New("invalid config")

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, expanding environment variables first, then applies
// defaults and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Network == "" {
		c.Network = domain.NetworkMainnet
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverBolt
	}
	if c.Storage.Driver == DriverBolt && c.Storage.Path == "" {
		c.Storage.Path = "relayer.db"
	}
	if c.RPC.MaxRetries == 0 {
		c.RPC.MaxRetries = 5
	}
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = 300 * time.Second
	}
	if c.RPC.BaseDelay == 0 {
		c.RPC.BaseDelay = time.Second
	}

	for i := range c.Chains {
		ch := &c.Chains[i]
		if ch.Name == "" {
			ch.Name = ch.ChainID.Name()
		}
		if ch.Finality == "" {
			ch.Finality = "default"
		}
		if ch.IndexAt == "" {
			ch.IndexAt = "latest"
		}
		if ch.MaxBlockRange == 0 {
			ch.MaxBlockRange = 1000
		}
		if ch.PollInterval == 0 {
			ch.PollInterval = 12 * time.Second
		}
	}

	if c.CCTP.AttestationURL == "" {
		c.CCTP.AttestationURL = attestation.URLForNetwork(c.Network)
	}
	if c.CCTP.TransitionBuffer == 0 {
		c.CCTP.TransitionBuffer = 60 * time.Second
	}
	if c.CCTP.SentPollInterval == 0 {
		c.CCTP.SentPollInterval = 60 * time.Second
	}
	if c.CCTP.RelayPollInterval == 0 {
		c.CCTP.RelayPollInterval = 60 * time.Second
	}
	if c.CCTP.AttemptTTL == 0 {
		c.CCTP.AttemptTTL = 7 * 24 * time.Hour
	}
}

// Validate reports the first inconsistency in c.
func (c *AppConfig) Validate() error {
	switch c.Network {
	case domain.NetworkMainnet, domain.NetworkSepolia:
	default:
		return fmt.Errorf("%w: unknown network %q", ErrInvalidConfig, c.Network)
	}

	switch c.Storage.Driver {
	case DriverBolt, DriverMemory:
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("%w: storage driver postgres needs database.url", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalidConfig, c.Storage.Driver)
	}

	seen := make(map[domain.ChainID]bool, len(c.Chains))
	for _, ch := range c.Chains {
		if ch.ChainID == 0 {
			return fmt.Errorf("%w: chain %q has no id", ErrInvalidConfig, ch.Name)
		}
		if seen[ch.ChainID] {
			return fmt.Errorf("%w: chain %s configured twice", ErrInvalidConfig, ch.Name)
		}
		seen[ch.ChainID] = true
		if ch.URL == "" {
			return fmt.Errorf("%w: chain %s has no url", ErrInvalidConfig, ch.Name)
		}
		if ch.IndexAt != "latest" && ch.IndexAt != "safe" {
			return fmt.Errorf("%w: chain %s: index_at must be latest or safe", ErrInvalidConfig, ch.Name)
		}
	}

	for id, addr := range c.CCTP.MessageTransmitters {
		if !seen[id] {
			return fmt.Errorf("%w: message transmitter for unconfigured chain %d", ErrInvalidConfig, id)
		}
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: message transmitter for chain %d: bad address %q", ErrInvalidConfig, id, addr)
		}
	}
	for _, addr := range c.CCTP.SenderFilter {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: sender filter: bad address %q", ErrInvalidConfig, addr)
		}
	}

	for _, b := range c.Bridges {
		if !seen[b.L1] || !seen[b.L2] {
			return fmt.Errorf("%w: %s bridge %d/%d references an unconfigured chain", ErrInvalidConfig, b.Type, b.L1, b.L2)
		}
		if err := b.validate(); err != nil {
			return fmt.Errorf("%w: %s bridge %d/%d: %v", ErrInvalidConfig, b.Type, b.L1, b.L2, err)
		}
	}
	return nil
}

func (b BridgeConfig) validate() error {
	switch b.Type {
	case BridgeArbitrum:
		return hexAddresses(b.Outbox)
	case BridgeGnosis:
		return hexAddresses(b.L1AMB, b.L2AMB)
	case BridgePolygon:
		if b.ProofAPIURL == "" {
			return errors.New("proof_api_url is required")
		}
	case BridgePolygonZk:
		if b.BridgeServiceURL == "" {
			return errors.New("bridge_service_url is required")
		}
		return hexAddresses(b.Bridge)
	case BridgeCCTP:
	default:
		return fmt.Errorf("unknown bridge type %q", b.Type)
	}
	return nil
}

func hexAddresses(addrs ...string) error {
	for _, a := range addrs {
		if !common.IsHexAddress(a) {
			return fmt.Errorf("bad address %q", a)
		}
	}
	return nil
}
