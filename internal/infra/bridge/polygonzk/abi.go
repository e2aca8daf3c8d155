package polygonzk

import "github.com/vietddude/relayer/internal/infra/bridge"

const claimInputs = `[
	{"name":"smtProof","type":"bytes32[32]"},
	{"name":"index","type":"uint32"},
	{"name":"mainnetExitRoot","type":"bytes32"},
	{"name":"rollupExitRoot","type":"bytes32"},
	{"name":"originNetwork","type":"uint32"},
	{"name":"originTokenAddress","type":"address"},
	{"name":"destinationNetwork","type":"uint32"},
	{"name":"destinationAddress","type":"address"},
	{"name":"amount","type":"uint256"},
	{"name":"metadata","type":"bytes"}]`

const bridgeABI = `[
	{"anonymous":false,"name":"BridgeEvent","type":"event","inputs":[
		{"indexed":false,"name":"leafType","type":"uint8"},
		{"indexed":false,"name":"originNetwork","type":"uint32"},
		{"indexed":false,"name":"originAddress","type":"address"},
		{"indexed":false,"name":"destinationNetwork","type":"uint32"},
		{"indexed":false,"name":"destinationAddress","type":"address"},
		{"indexed":false,"name":"amount","type":"uint256"},
		{"indexed":false,"name":"metadata","type":"bytes"},
		{"indexed":false,"name":"depositCount","type":"uint32"}]},
	{"name":"isClaimed","type":"function","stateMutability":"view",
		"inputs":[{"name":"index","type":"uint256"}],
		"outputs":[{"name":"","type":"bool"}]},
	{"name":"networkID","type":"function","stateMutability":"view",
		"inputs":[],
		"outputs":[{"name":"","type":"uint32"}]},
	{"name":"claimAsset","type":"function","stateMutability":"nonpayable","inputs":` + claimInputs + `,"outputs":[]},
	{"name":"claimMessage","type":"function","stateMutability":"nonpayable","inputs":` + claimInputs + `,"outputs":[]}
]`

var (
	zkBridge = bridge.MustParseABI(bridgeABI)

	bridgeEventTopic = zkBridge.Events["BridgeEvent"].ID
)
