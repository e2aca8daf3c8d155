package cctp

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Offsets of the fixed-size message header.
const (
	versionOffset           = 0
	sourceDomainOffset      = 4
	destinationDomainOffset = 8
	nonceOffset             = 12
	senderOffset            = 20
	recipientOffset         = 52
	destinationCallerOffset = 84
	bodyOffset              = 116

	// burn message body: version, burnToken, mintRecipient, amount, messageSender
	burnSenderOffset = 100
	burnBodyLength   = 132
)

// Message is a decoded CCTP message.
type Message struct {
	Raw []byte

	Version           uint32
	SourceDomain      uint32
	DestinationDomain uint32
	Nonce             uint64
	Sender            common.Hash
	Recipient         common.Hash
	DestinationCaller common.Hash
	Body              []byte
}

// DecodeMessage parses the packed message emitted in MessageSent.
func DecodeMessage(raw []byte) (*Message, error) {
	if len(raw) < bodyOffset {
		return nil, fmt.Errorf("cctp message too short: %d bytes", len(raw))
	}
	return &Message{
		Raw:               raw,
		Version:           binary.BigEndian.Uint32(raw[versionOffset:sourceDomainOffset]),
		SourceDomain:      binary.BigEndian.Uint32(raw[sourceDomainOffset:destinationDomainOffset]),
		DestinationDomain: binary.BigEndian.Uint32(raw[destinationDomainOffset:nonceOffset]),
		Nonce:             binary.BigEndian.Uint64(raw[nonceOffset:senderOffset]),
		Sender:            common.BytesToHash(raw[senderOffset:recipientOffset]),
		Recipient:         common.BytesToHash(raw[recipientOffset:destinationCallerOffset]),
		DestinationCaller: common.BytesToHash(raw[destinationCallerOffset:bodyOffset]),
		Body:              raw[bodyOffset:],
	}, nil
}

// Hash is the key of the message in the attestation service.
func (m *Message) Hash() common.Hash {
	return crypto.Keccak256Hash(m.Raw)
}

// NonceKey is the usedNonces key on the destination transmitter.
func (m *Message) NonceKey() common.Hash {
	return NonceKey(m.SourceDomain, m.Nonce)
}

// NonceKey hashes abi.encodePacked(uint32 sourceDomain, uint64 nonce).
func NonceKey(sourceDomain uint32, nonce uint64) common.Hash {
	var packed [12]byte
	binary.BigEndian.PutUint32(packed[:4], sourceDomain)
	binary.BigEndian.PutUint64(packed[4:], nonce)
	return crypto.Keccak256Hash(packed[:])
}

// BurnSender returns the depositor of a TokenMessenger burn message.
func (m *Message) BurnSender() (common.Address, bool) {
	if len(m.Body) < burnBodyLength {
		return common.Address{}, false
	}
	return common.BytesToAddress(m.Body[burnSenderOffset:burnBodyLength]), true
}

// LookupKey identifies a message across chains as "sourceDomain:nonce".
func LookupKey(sourceDomain uint32, nonce uint64) string {
	return fmt.Sprintf("%d:%d", sourceDomain, nonce)
}
