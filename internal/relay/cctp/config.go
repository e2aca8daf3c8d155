// Package cctp tracks Circle CCTP messages from MessageSent to
// MessageReceived and relays them once their attestation is available.
package cctp

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/indexing/filter"
	"github.com/vietddude/relayer/internal/indexing/indexer"
	cctpadapter "github.com/vietddude/relayer/internal/infra/bridge/cctp"
)

// MachineName names the persisted state machine.
const MachineName = "cctp"

const (
	StateSent    = "sent"
	StateRelayed = "relayed"
)

// States in lifecycle order.
var States = []string{StateSent, StateRelayed}

const (
	DefaultTransitionBuffer  = 60 * time.Second
	DefaultRelayPollInterval = 60 * time.Second
	DefaultSentPollInterval  = 60 * time.Second
)

// ChainConfig describes one chain served by the machine.
type ChainConfig struct {
	ChainID            domain.ChainID
	MessageTransmitter common.Address
	StartBlock         uint64
	MaxBlockRange      uint64
	PollInterval       time.Duration
	// IndexAt applies to MessageSent; MessageReceived is always indexed at latest.
	IndexAt indexer.IndexAt

	// AttestationTime is how long the attestation service usually takes
	// for messages sent from this chain.
	AttestationTime time.Duration
	// FinalityTime is how long a relay on this chain takes to finalize.
	FinalityTime time.Duration
}

// Config holds machine configuration.
type Config struct {
	Network domain.Network
	Chains  []ChainConfig
	// Senders restricts relays to burns from these depositors. Nil serves everyone.
	Senders filter.Filter

	TransitionBuffer  time.Duration
	SentPollInterval  time.Duration
	RelayPollInterval time.Duration

	// InstanceID is stamped on relay attempt records.
	InstanceID string
	Now        func() time.Time
}

func (c Config) chain(id domain.ChainID) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.ChainID == id {
			return ch, true
		}
	}
	return ChainConfig{}, false
}

// Filters returns the indexer filters the machine consumes.
func (c Config) Filters() []indexer.Filter {
	var out []indexer.Filter
	for _, ch := range c.Chains {
		base := indexer.Filter{
			ChainID:       ch.ChainID,
			Address:       ch.MessageTransmitter,
			StartBlock:    ch.StartBlock,
			MaxBlockRange: ch.MaxBlockRange,
			PollInterval:  ch.PollInterval,
		}

		sent := base
		sent.Name = "cctp-sent-" + ch.ChainID.Name()
		sent.Topic0 = cctpadapter.MessageSentTopic
		sent.IndexAt = ch.IndexAt
		sent.LookupKey = cctpadapter.SentLookupKey

		received := base
		received.Name = "cctp-received-" + ch.ChainID.Name()
		received.Topic0 = cctpadapter.MessageReceivedTopic
		received.IndexAt = indexer.IndexAtLatest
		received.LookupKey = cctpadapter.ReceivedLookupKey

		out = append(out, sent, received)
	}
	return out
}

func sentFilterID(ch ChainConfig) string {
	return indexer.FilterID(ch.ChainID, ch.MessageTransmitter, cctpadapter.MessageSentTopic)
}

func receivedFilterID(ch ChainConfig) string {
	return indexer.FilterID(ch.ChainID, ch.MessageTransmitter, cctpadapter.MessageReceivedTopic)
}
