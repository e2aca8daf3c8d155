// Package arbitrum relays L2 to L1 messages through the Arbitrum Nitro outbox.
package arbitrum

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	logger "log/slog"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/infra/bridge"
	"github.com/vietddude/relayer/internal/infra/chain"
	"github.com/vietddude/relayer/internal/infra/chain/wallet"
)

// MessageStatus mirrors the outbox lifecycle of an L2 to L1 message.
type MessageStatus int

const (
	StatusUnconfirmed MessageStatus = iota
	StatusConfirmed
	StatusExecuted
)

// Statuses lists every MessageStatus.
var Statuses = []MessageStatus{StatusUnconfirmed, StatusConfirmed, StatusExecuted}

func (s MessageStatus) String() string {
	switch s {
	case StatusUnconfirmed:
		return "UNCONFIRMED"
	case StatusConfirmed:
		return "CONFIRMED"
	case StatusExecuted:
		return "EXECUTED"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

var errNoSendRoot = errors.New("no SendRootUpdated event in lookback range")

// Message is a decoded L2ToL1Tx event.
type Message struct {
	TxHash      common.Hash
	Caller      common.Address
	Destination common.Address
	Hash        *big.Int
	Position    *big.Int
	ArbBlockNum *big.Int
	EthBlockNum *big.Int
	Timestamp   *big.Int
	CallValue   *big.Int
	Data        []byte
}

type Config struct {
	Outbox common.Address
	// LookbackWindow is the L1 block range scanned per FilterLogs call when
	// searching for the latest SendRootUpdated event.
	LookbackWindow uint64
	// MaxLookbackWindows bounds the search.
	MaxLookbackWindows int
}

// Adapter implements bridge.Adapter for Arbitrum.
type Adapter struct {
	l1  chain.Client
	l2  chain.Client
	cfg Config
	log *logger.Logger
}

var _ bridge.Adapter[*Message, MessageStatus] = (*Adapter)(nil)

func New(l1, l2 chain.Client, cfg Config) *Adapter {
	if cfg.LookbackWindow == 0 {
		cfg.LookbackWindow = 10_000
	}
	if cfg.MaxLookbackWindows <= 0 {
		cfg.MaxLookbackWindows = 20
	}
	return &Adapter{
		l1:  l1,
		l2:  l2,
		cfg: cfg,
		log: logger.Default().With("bridge", "arbitrum", "chain", l2.ChainID().Name()),
	}
}

func (a *Adapter) GetMessage(ctx context.Context, txHash common.Hash, opts bridge.MessageOpts) (*Message, error) {
	if opts.Direction != domain.L2ToL1 {
		return nil, fmt.Errorf("%w: %s", bridge.ErrUnsupportedDirection, opts.Direction)
	}

	receipt, err := a.l2.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}

	l, err := bridge.SelectLog(bridge.LogsByTopic(receipt, ArbSysAddress, l2ToL1TxTopic), opts.MessageIndex, txHash)
	if err != nil {
		return nil, err
	}
	return decodeL2ToL1Tx(l)
}

func decodeL2ToL1Tx(l *types.Log) (*Message, error) {
	if len(l.Topics) != 4 {
		return nil, fmt.Errorf("L2ToL1Tx: expected 4 topics, got %d", len(l.Topics))
	}
	values, err := arbSys.Unpack("L2ToL1Tx", l.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack L2ToL1Tx: %w", err)
	}
	if len(values) != 6 {
		return nil, fmt.Errorf("L2ToL1Tx: expected 6 values, got %d", len(values))
	}

	return &Message{
		TxHash:      l.TxHash,
		Caller:      values[0].(common.Address),
		Destination: common.BytesToAddress(l.Topics[1].Bytes()),
		Hash:        l.Topics[2].Big(),
		Position:    l.Topics[3].Big(),
		ArbBlockNum: values[1].(*big.Int),
		EthBlockNum: values[2].(*big.Int),
		Timestamp:   values[3].(*big.Int),
		CallValue:   values[4].(*big.Int),
		Data:        values[5].([]byte),
	}, nil
}

func (a *Adapter) GetMessageStatus(ctx context.Context, msg *Message, _ bridge.MessageOpts) (MessageStatus, error) {
	out, err := bridge.CallView(ctx, a.l1, a.cfg.Outbox, outbox, "isSpent", msg.Position)
	if err != nil {
		return 0, err
	}
	if spent, _ := out[0].(bool); spent {
		return StatusExecuted, nil
	}

	sendCount, err := a.confirmedSendCount(ctx)
	if errors.Is(err, errNoSendRoot) {
		return StatusUnconfirmed, nil
	}
	if err != nil {
		return 0, err
	}

	if sendCount.Cmp(msg.Position) > 0 {
		return StatusConfirmed, nil
	}
	return StatusUnconfirmed, nil
}

func (a *Adapter) IsMessageInFlight(s MessageStatus) bool  { return s == StatusUnconfirmed }
func (a *Adapter) IsMessageRelayable(s MessageStatus) bool { return s == StatusConfirmed }
func (a *Adapter) IsMessageRelayed(s MessageStatus) bool   { return s == StatusExecuted }

func (a *Adapter) SendRelayTx(ctx context.Context, w wallet.Wallet, msg *Message, _ bridge.MessageOpts) (*types.Transaction, error) {
	sendCount, err := a.confirmedSendCount(ctx)
	if err != nil {
		return nil, err
	}

	out, err := bridge.CallView(ctx, a.l2, NodeInterfaceAddress, nodeInterface, "constructOutboxProof", sendCount.Uint64(), msg.Position.Uint64())
	if err != nil {
		return nil, err
	}
	proof, ok := out[2].([][32]byte)
	if !ok {
		return nil, fmt.Errorf("constructOutboxProof: unexpected proof type %T", out[2])
	}

	data, err := outbox.Pack("executeTransaction",
		proof,
		msg.Position,
		msg.Caller,
		msg.Destination,
		msg.ArbBlockNum,
		msg.EthBlockNum,
		msg.Timestamp,
		msg.CallValue,
		msg.Data,
	)
	if err != nil {
		return nil, fmt.Errorf("pack executeTransaction: %w", err)
	}

	return w.SendTransaction(ctx, wallet.TxRequest{
		To:       a.cfg.Outbox,
		Data:     data,
		GasLimit: bridge.RelayGasLimit,
	})
}

// confirmedSendCount returns the send count of the L2 block referenced by the
// latest SendRootUpdated event on L1.
func (a *Adapter) confirmedSendCount(ctx context.Context) (*big.Int, error) {
	head, err := a.l1.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	window := a.cfg.LookbackWindow
	to := head
	for i := 0; i < a.cfg.MaxLookbackWindows; i++ {
		from := uint64(0)
		if to >= window {
			from = to - window + 1
		}

		logs, err := a.l1.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{a.cfg.Outbox},
			Topics:    [][]common.Hash{{sendRootUpdatedTopic}},
		})
		if err != nil {
			return nil, fmt.Errorf("filter SendRootUpdated: %w", err)
		}
		if len(logs) > 0 {
			latest := logs[len(logs)-1]
			if len(latest.Topics) < 3 {
				return nil, fmt.Errorf("SendRootUpdated: expected 3 topics, got %d", len(latest.Topics))
			}
			return a.sendCountAt(ctx, latest.Topics[2])
		}

		if from == 0 {
			break
		}
		to = from - 1
	}
	return nil, errNoSendRoot
}

func (a *Adapter) sendCountAt(ctx context.Context, l2BlockHash common.Hash) (*big.Int, error) {
	var block struct {
		SendCount *hexutil.Big `json:"sendCount"`
	}
	if err := a.l2.RawCall(ctx, &block, "eth_getBlockByHash", l2BlockHash, false); err != nil {
		return nil, fmt.Errorf("get l2 block %s: %w", l2BlockHash.Hex(), err)
	}
	if block.SendCount == nil {
		return nil, fmt.Errorf("l2 block %s has no sendCount", l2BlockHash.Hex())
	}
	return block.SendCount.ToInt(), nil
}
