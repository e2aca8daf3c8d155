package config

import (
	"time"

	"github.com/vietddude/relayer/internal/core/domain"
	redisclient "github.com/vietddude/relayer/internal/infra/redis"
	"github.com/vietddude/relayer/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Network  domain.Network     `yaml:"network"`
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Storage  StorageConfig      `yaml:"storage"`
	Database postgres.Config    `yaml:"database"`
	Redis    redisclient.Config `yaml:"redis"`
	RPC      RPCConfig          `yaml:"rpc"`
	Chains   []ChainConfig      `yaml:"chains"`
	CCTP     CCTPConfig         `yaml:"cctp"`
	Bridges  []BridgeConfig     `yaml:"bridges"`
	// Retention is how long relayed messages are kept. 0 keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Storage drivers.
const (
	DriverBolt     = "bolt"
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// StorageConfig selects the key-value backend.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	// Path is the bolt database file.
	Path string `yaml:"path"`
}

// RPCConfig is the retry policy applied to every chain call.
type RPCConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
	BaseDelay  time.Duration `yaml:"base_delay"`
}

// ChainConfig holds settings for a specific blockchain.
type ChainConfig struct {
	ChainID domain.ChainID `yaml:"id"`
	Name    string         `yaml:"name"`
	URL     string         `yaml:"url"`

	// Finality is default, probabilistic, collateralized or polygonzk.
	Finality               string `yaml:"finality"`
	SafeConfirmations      uint64 `yaml:"safe_confirmations"`
	FinalizedConfirmations uint64 `yaml:"finalized_confirmations"`

	StartBlock    uint64        `yaml:"start_block"`
	MaxBlockRange uint64        `yaml:"max_block_range"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	// IndexAt is latest or safe.
	IndexAt string `yaml:"index_at"`

	// PrivateKey signs relays submitted on this chain. Chains without a key
	// are indexed but never relayed to.
	PrivateKey string `yaml:"private_key"`

	AttestationTime time.Duration `yaml:"attestation_time"`
	FinalityTime    time.Duration `yaml:"finality_time"`
}

// CCTPConfig configures the CCTP message state machine.
type CCTPConfig struct {
	Enabled        bool   `yaml:"enabled"`
	AttestationURL string `yaml:"attestation_url"`
	// MessageTransmitters by chain id. Chains without a transmitter are not
	// served by the machine.
	MessageTransmitters map[domain.ChainID]string `yaml:"message_transmitters"`
	// SenderFilter restricts relays to burns from these depositors.
	SenderFilter []string `yaml:"sender_filter"`

	TransitionBuffer  time.Duration `yaml:"transition_buffer"`
	SentPollInterval  time.Duration `yaml:"sent_poll_interval"`
	RelayPollInterval time.Duration `yaml:"relay_poll_interval"`
	// AttemptTTL bounds relay attempt records kept in redis.
	AttemptTTL time.Duration `yaml:"attempt_ttl"`
}

// Bridge families served by one-shot relays.
const (
	BridgeArbitrum  = "arbitrum"
	BridgeCCTP      = "cctp"
	BridgeGnosis    = "gnosis"
	BridgePolygon   = "polygon"
	BridgePolygonZk = "polygonzk"
)

// BridgeConfig describes one L1/L2 bridge pair.
type BridgeConfig struct {
	Type string         `yaml:"type"`
	L1   domain.ChainID `yaml:"l1"`
	L2   domain.ChainID `yaml:"l2"`

	// arbitrum
	Outbox string `yaml:"outbox"`
	// gnosis
	L1AMB string `yaml:"l1_amb"`
	L2AMB string `yaml:"l2_amb"`
	// polygon
	ProofAPIURL string `yaml:"proof_api_url"`
	// polygonzk
	Bridge           string `yaml:"bridge"`
	BridgeServiceURL string `yaml:"bridge_service_url"`
}

// Chain returns the configuration of id.
func (c *AppConfig) Chain(id domain.ChainID) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.ChainID == id {
			return ch, true
		}
	}
	return ChainConfig{}, false
}
