package cctp

import "github.com/vietddude/relayer/internal/infra/bridge"

const messageTransmitterABI = `[
	{"anonymous":false,"name":"MessageSent","type":"event","inputs":[
		{"indexed":false,"name":"message","type":"bytes"}]},
	{"anonymous":false,"name":"MessageReceived","type":"event","inputs":[
		{"indexed":true,"name":"caller","type":"address"},
		{"indexed":false,"name":"sourceDomain","type":"uint32"},
		{"indexed":true,"name":"nonce","type":"uint64"},
		{"indexed":false,"name":"sender","type":"bytes32"},
		{"indexed":false,"name":"messageBody","type":"bytes"}]},
	{"name":"usedNonces","type":"function","stateMutability":"view",
		"inputs":[{"name":"","type":"bytes32"}],
		"outputs":[{"name":"","type":"uint256"}]},
	{"name":"receiveMessage","type":"function","stateMutability":"nonpayable",
		"inputs":[{"name":"message","type":"bytes"},{"name":"attestation","type":"bytes"}],
		"outputs":[{"name":"success","type":"bool"}]}
]`

var (
	transmitter = bridge.MustParseABI(messageTransmitterABI)

	// TransmitterABI is the subset of the MessageTransmitter ABI the relayer uses.
	TransmitterABI = transmitter

	// MessageSentTopic is emitted by the source MessageTransmitter.
	MessageSentTopic = transmitter.Events["MessageSent"].ID
	// MessageReceivedTopic is emitted by the destination MessageTransmitter.
	MessageReceivedTopic = transmitter.Events["MessageReceived"].ID
)
