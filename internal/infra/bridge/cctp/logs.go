package cctp

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var errUnexpectedLog = errors.New("cctp: unexpected log")

// DecodeMessageSent returns the message carried by a MessageSent log.
func DecodeMessageSent(data []byte) (*Message, error) {
	values, err := transmitter.Unpack("MessageSent", data)
	if err != nil {
		return nil, fmt.Errorf("unpack MessageSent: %w", err)
	}
	raw, _ := values[0].([]byte)
	return DecodeMessage(raw)
}

// SentLookupKey indexes a MessageSent log by "<sourceDomain>:<nonce>".
func SentLookupKey(l types.Log) (string, error) {
	if len(l.Topics) == 0 || l.Topics[0] != MessageSentTopic {
		return "", errUnexpectedLog
	}
	msg, err := DecodeMessageSent(l.Data)
	if err != nil {
		return "", err
	}
	return LookupKey(msg.SourceDomain, msg.Nonce), nil
}

// Received is a decoded MessageReceived log.
type Received struct {
	SourceDomain uint32
	Nonce        uint64
}

// DecodeMessageReceived reads the source domain and nonce of a
// MessageReceived log. The nonce is an indexed topic.
func DecodeMessageReceived(topics []common.Hash, data []byte) (Received, error) {
	if len(topics) != 3 || topics[0] != MessageReceivedTopic {
		return Received{}, errUnexpectedLog
	}
	values, err := transmitter.Unpack("MessageReceived", data)
	if err != nil {
		return Received{}, fmt.Errorf("unpack MessageReceived: %w", err)
	}
	sourceDomain, _ := values[0].(uint32)
	nonce := new(big.Int).SetBytes(topics[2].Bytes())
	if !nonce.IsUint64() {
		return Received{}, fmt.Errorf("%w: nonce overflows uint64", errUnexpectedLog)
	}
	return Received{SourceDomain: sourceDomain, Nonce: nonce.Uint64()}, nil
}

// ReceivedLookupKey indexes a MessageReceived log by "<sourceDomain>:<nonce>".
func ReceivedLookupKey(l types.Log) (string, error) {
	r, err := DecodeMessageReceived(l.Topics, l.Data)
	if err != nil {
		return "", err
	}
	return LookupKey(r.SourceDomain, r.Nonce), nil
}
