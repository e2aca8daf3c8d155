package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MessageDirection is the direction a message travels between a rollup and its L1.
type MessageDirection int

const (
	L1ToL2 MessageDirection = iota
	L2ToL1
)

func (d MessageDirection) String() string {
	switch d {
	case L1ToL2:
		return "l1-to-l2"
	case L2ToL1:
		return "l2-to-l1"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseMessageDirection accepts the String form.
func ParseMessageDirection(s string) (MessageDirection, error) {
	switch s {
	case "l1-to-l2":
		return L1ToL2, nil
	case "l2-to-l1":
		return L2ToL1, nil
	}
	return 0, fmt.Errorf("unknown message direction %q", s)
}

// Message is a cross-chain message tracked by the relay state machine.
type Message struct {
	SourceChainID      ChainID     `json:"source_chain_id"`
	DestinationChainID ChainID     `json:"destination_chain_id"`
	Nonce              uint64      `json:"nonce"`
	MessageHash        common.Hash `json:"message_hash"`
	Message            []byte      `json:"message"`
	SentTxHash         common.Hash `json:"sent_tx_hash"`
	SentTimestampMs    int64       `json:"sent_timestamp_ms"`

	RelayTxHash      *common.Hash `json:"relay_tx_hash,omitempty"`
	RelayTimestampMs int64        `json:"relay_timestamp_ms,omitempty"`
	RelayBlockNumber uint64       `json:"relay_block_number,omitempty"`
}

// ID is the natural key of a message: "<sourceChainId>:<nonce>".
func (m Message) ID() string {
	return fmt.Sprintf("%d:%d", m.SourceChainID, m.Nonce)
}

// SentAt returns the source transaction time.
func (m Message) SentAt() time.Time {
	return time.UnixMilli(m.SentTimestampMs)
}

// RelayAttempt records that a relay transaction was submitted for a message hash.
type RelayAttempt struct {
	MessageHash common.Hash `json:"message_hash"`
	ChainID     ChainID     `json:"chain_id"`
	InstanceID  string      `json:"instance_id"`
	CreatedAt   time.Time   `json:"created_at"`
}
