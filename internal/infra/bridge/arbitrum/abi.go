package arbitrum

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/relayer/internal/infra/bridge"
)

var (
	// ArbSysAddress is the ArbSys precompile that emits L2ToL1Tx.
	ArbSysAddress = common.HexToAddress("0x0000000000000000000000000000000000000064")
	// NodeInterfaceAddress is the virtual contract serving outbox proofs.
	NodeInterfaceAddress = common.HexToAddress("0x00000000000000000000000000000000000000C8")
)

const arbSysABI = `[
	{"anonymous":false,"name":"L2ToL1Tx","type":"event","inputs":[
		{"indexed":false,"name":"caller","type":"address"},
		{"indexed":true,"name":"destination","type":"address"},
		{"indexed":true,"name":"hash","type":"uint256"},
		{"indexed":true,"name":"position","type":"uint256"},
		{"indexed":false,"name":"arbBlockNum","type":"uint256"},
		{"indexed":false,"name":"ethBlockNum","type":"uint256"},
		{"indexed":false,"name":"timestamp","type":"uint256"},
		{"indexed":false,"name":"callvalue","type":"uint256"},
		{"indexed":false,"name":"data","type":"bytes"}]}
]`

const outboxABI = `[
	{"name":"isSpent","type":"function","stateMutability":"view",
		"inputs":[{"name":"index","type":"uint256"}],
		"outputs":[{"name":"","type":"bool"}]},
	{"name":"executeTransaction","type":"function","stateMutability":"nonpayable",
		"inputs":[
			{"name":"proof","type":"bytes32[]"},
			{"name":"index","type":"uint256"},
			{"name":"l2Sender","type":"address"},
			{"name":"to","type":"address"},
			{"name":"l2Block","type":"uint256"},
			{"name":"l1Block","type":"uint256"},
			{"name":"l2Timestamp","type":"uint256"},
			{"name":"value","type":"uint256"},
			{"name":"data","type":"bytes"}],
		"outputs":[]},
	{"anonymous":false,"name":"SendRootUpdated","type":"event","inputs":[
		{"indexed":true,"name":"outputRoot","type":"bytes32"},
		{"indexed":true,"name":"l2BlockHash","type":"bytes32"}]}
]`

const nodeInterfaceABI = `[
	{"name":"constructOutboxProof","type":"function","stateMutability":"view",
		"inputs":[{"name":"size","type":"uint64"},{"name":"leaf","type":"uint64"}],
		"outputs":[{"name":"send","type":"bytes32"},{"name":"root","type":"bytes32"},{"name":"proof","type":"bytes32[]"}]}
]`

var (
	arbSys        = bridge.MustParseABI(arbSysABI)
	outbox        = bridge.MustParseABI(outboxABI)
	nodeInterface = bridge.MustParseABI(nodeInterfaceABI)

	l2ToL1TxTopic        = arbSys.Events["L2ToL1Tx"].ID
	sendRootUpdatedTopic = outbox.Events["SendRootUpdated"].ID
)
