// Package polygon exits Polygon PoS fx-portal messages to L1 once their block
// is checkpointed.
package polygon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	logger "log/slog"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/infra/bridge"
	"github.com/vietddude/relayer/internal/infra/chain"
	"github.com/vietddude/relayer/internal/infra/chain/wallet"
	"github.com/vietddude/relayer/internal/infra/rpc/provider"
	"github.com/vietddude/relayer/internal/infra/rpc/routing"
)

const tunnelABI = `[
	{"anonymous":false,"name":"MessageSent","type":"event","inputs":[{"indexed":false,"name":"message","type":"bytes"}]},
	{"name":"messengerProxy","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"name":"fxRootTunnel","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"name":"receiveMessage","type":"function","stateMutability":"nonpayable","inputs":[{"name":"inputData","type":"bytes"}],"outputs":[]}
]`

var (
	tunnel = bridge.MustParseABI(tunnelABI)

	messageSentTopic = tunnel.Events["MessageSent"].ID
	// TransfersCommitted(uint256,bytes32,uint256,uint256) on the L2 bridge
	transfersCommittedTopic = common.HexToHash("0xf52ad20d3b4f50d1c40901dfb95a9ce5270b2fc32694e5c668354721cd87aa74")
)

const (
	blockIncludedSuccess = "success"
	exitAlreadyProcessed = "EXIT_ALREADY_PROCESSED"
)

type MessageStatus int

const (
	StatusNotCheckpointed MessageStatus = iota
	StatusCheckpointed
	StatusProcessed
)

var Statuses = []MessageStatus{StatusNotCheckpointed, StatusCheckpointed, StatusProcessed}

func (s MessageStatus) String() string {
	switch s {
	case StatusNotCheckpointed:
		return "not_checkpointed"
	case StatusCheckpointed:
		return "checkpointed"
	case StatusProcessed:
		return "processed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Message identifies an fx-portal message by its L2 transaction.
type Message struct {
	TxHash      common.Hash
	BlockNumber uint64
	RootTunnel  common.Address
	// Index of the MessageSent log within the transaction.
	Index int

	mu      sync.Mutex
	payload []byte
}

type Config struct {
	// ProofAPIURL is the proof generator base, e.g.
	// https://proof-generator.polygon.technology/api/v1/matic
	ProofAPIURL string
}

type Adapter struct {
	l1      chain.Client
	l2      chain.Client
	api     *provider.HTTPProvider
	retrier *routing.Retrier
	log     *logger.Logger
}

var _ bridge.Adapter[*Message, MessageStatus] = (*Adapter)(nil)

func New(l1, l2 chain.Client, cfg Config, retry routing.RetryConfig) *Adapter {
	return &Adapter{
		l1:      l1,
		l2:      l2,
		api:     provider.NewHTTPProvider("polygon-proof-generator", cfg.ProofAPIURL, 60*time.Second),
		retrier: routing.NewRetrier("polygon-proof-generator", retry),
		log:     logger.Default().With("bridge", "polygon", "chain", l2.ChainID().Name()),
	}
}

// Provider returns the proof generator endpoint.
func (a *Adapter) Provider() provider.Provider {
	return a.api
}

func (a *Adapter) GetMessage(ctx context.Context, txHash common.Hash, opts bridge.MessageOpts) (*Message, error) {
	if opts.Direction != domain.L2ToL1 {
		// L1 to L2 messages are delivered by a system transaction
		return nil, fmt.Errorf("%w: %s", bridge.ErrUnsupportedDirection, opts.Direction)
	}

	receipt, err := a.l2.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	if _, err := bridge.SelectLog(bridge.LogsByTopic(receipt, common.Address{}, messageSentTopic), opts.MessageIndex, txHash); err != nil {
		return nil, err
	}

	rootTunnel, err := a.rootTunnel(ctx, receipt)
	if err != nil {
		return nil, err
	}

	return &Message{
		TxHash:      txHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		RootTunnel:  rootTunnel,
		Index:       opts.MessageIndex,
	}, nil
}

// rootTunnel resolves the L1 tunnel via the emitting bridge's messenger proxy.
func (a *Adapter) rootTunnel(ctx context.Context, receipt *types.Receipt) (common.Address, error) {
	var bridgeAddr common.Address
	for _, l := range bridge.LogsByTopic(receipt, common.Address{}, transfersCommittedTopic) {
		bridgeAddr = l.Address
	}
	if bridgeAddr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("bridge address not found for %s", receipt.TxHash.Hex())
	}

	out, err := bridge.CallView(ctx, a.l2, bridgeAddr, tunnel, "messengerProxy")
	if err != nil {
		return common.Address{}, err
	}
	proxy, _ := out[0].(common.Address)

	out, err = bridge.CallView(ctx, a.l2, proxy, tunnel, "fxRootTunnel")
	if err != nil {
		return common.Address{}, err
	}
	root, _ := out[0].(common.Address)
	if root == (common.Address{}) {
		return common.Address{}, fmt.Errorf("root tunnel not set on messenger proxy %s", proxy.Hex())
	}
	return root, nil
}

func (a *Adapter) GetMessageStatus(ctx context.Context, msg *Message, _ bridge.MessageOpts) (MessageStatus, error) {
	var included struct {
		Message string `json:"message"`
	}
	if err := a.get(ctx, fmt.Sprintf("block-included/%d", msg.BlockNumber), &included); err != nil {
		return 0, err
	}
	if included.Message != blockIncludedSuccess {
		a.log.Debug("Block not checkpointed", "block", msg.BlockNumber, "message", included.Message)
		return StatusNotCheckpointed, nil
	}

	data, err := a.calldata(ctx, msg)
	if err != nil {
		return 0, err
	}

	// The root tunnel rejects processed exits during estimation.
	rootTunnel := msg.RootTunnel
	_, err = a.l1.EstimateGas(ctx, ethereum.CallMsg{To: &rootTunnel, Data: data})
	if err != nil && strings.Contains(err.Error(), exitAlreadyProcessed) {
		return StatusProcessed, nil
	}
	if err != nil {
		a.log.Warn("Exit estimation failed", "txHash", msg.TxHash.Hex(), "error", err)
	}
	return StatusCheckpointed, nil
}

func (a *Adapter) IsMessageInFlight(s MessageStatus) bool  { return s == StatusNotCheckpointed }
func (a *Adapter) IsMessageRelayable(s MessageStatus) bool { return s == StatusCheckpointed }
func (a *Adapter) IsMessageRelayed(s MessageStatus) bool   { return s == StatusProcessed }

func (a *Adapter) SendRelayTx(ctx context.Context, w wallet.Wallet, msg *Message, _ bridge.MessageOpts) (*types.Transaction, error) {
	data, err := a.calldata(ctx, msg)
	if err != nil {
		return nil, err
	}
	return w.SendTransaction(ctx, wallet.TxRequest{
		To:       msg.RootTunnel,
		Data:     data,
		GasLimit: bridge.RelayGasLimit,
	})
}

// calldata builds receiveMessage(payload), fetching the exit payload once per message.
func (a *Adapter) calldata(ctx context.Context, msg *Message) ([]byte, error) {
	msg.mu.Lock()
	defer msg.mu.Unlock()

	if msg.payload == nil {
		q := url.Values{}
		q.Set("eventSignature", messageSentTopic.Hex())
		if msg.Index > 0 {
			q.Set("tokenIndex", fmt.Sprint(msg.Index))
		}

		var resp struct {
			Message string `json:"message"`
			Result  string `json:"result"`
		}
		if err := a.get(ctx, "exit-payload/"+msg.TxHash.Hex()+"?"+q.Encode(), &resp); err != nil {
			return nil, err
		}
		payload, err := hexutil.Decode(resp.Result)
		if err != nil {
			return nil, fmt.Errorf("exit payload for %s (%s): %w", msg.TxHash.Hex(), resp.Message, err)
		}
		msg.payload = payload
	}

	data, err := tunnel.Pack("receiveMessage", msg.payload)
	if err != nil {
		return nil, fmt.Errorf("pack receiveMessage: %w", err)
	}
	return data, nil
}

func (a *Adapter) get(ctx context.Context, path string, out any) error {
	raw, err := routing.Call(ctx, a.retrier, "proof-generator", func(ctx context.Context) (json.RawMessage, error) {
		var raw json.RawMessage
		err := a.api.Get(ctx, path, &raw)

		// "No block found" is served with a 404
		var statusErr *provider.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound && json.Valid(statusErr.Body) {
			return statusErr.Body, nil
		}
		return raw, err
	})
	if err != nil {
		return fmt.Errorf("proof generator %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("proof generator %s: invalid json response body: %w", path, err)
	}
	return nil
}
