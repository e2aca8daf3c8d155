package gnosis

import "github.com/vietddude/relayer/internal/infra/bridge"

const l2AMBABI = `[
	{"anonymous":false,"name":"UserRequestForSignature","type":"event","inputs":[
		{"indexed":true,"name":"messageId","type":"bytes32"},
		{"indexed":false,"name":"encodedData","type":"bytes"}]},
	{"name":"numMessagesSigned","type":"function","stateMutability":"view",
		"inputs":[{"name":"_message","type":"bytes32"}],
		"outputs":[{"name":"","type":"uint256"}]},
	{"name":"isAlreadyProcessed","type":"function","stateMutability":"pure",
		"inputs":[{"name":"_number","type":"uint256"}],
		"outputs":[{"name":"","type":"bool"}]},
	{"name":"requiredSignatures","type":"function","stateMutability":"view",
		"inputs":[],
		"outputs":[{"name":"","type":"uint256"}]},
	{"name":"signature","type":"function","stateMutability":"view",
		"inputs":[{"name":"_hash","type":"bytes32"},{"name":"_index","type":"uint256"}],
		"outputs":[{"name":"","type":"bytes"}]}
]`

const l1AMBABI = `[
	{"name":"relayedMessages","type":"function","stateMutability":"view",
		"inputs":[{"name":"_txHash","type":"bytes32"}],
		"outputs":[{"name":"","type":"bool"}]},
	{"name":"executeSignatures","type":"function","stateMutability":"nonpayable",
		"inputs":[{"name":"_data","type":"bytes"},{"name":"_signatures","type":"bytes"}],
		"outputs":[]}
]`

var (
	l2AMB = bridge.MustParseABI(l2AMBABI)
	l1AMB = bridge.MustParseABI(l1AMBABI)

	userRequestForSignatureTopic = l2AMB.Events["UserRequestForSignature"].ID
)
