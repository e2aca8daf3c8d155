// Package gnosis relays Gnosis chain AMB messages to L1 using the collected
// validator signatures.
package gnosis

import (
	"context"
	"fmt"
	"math/big"

	logger "log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/infra/bridge"
	"github.com/vietddude/relayer/internal/infra/chain"
	"github.com/vietddude/relayer/internal/infra/chain/wallet"
)

type MessageStatus int

const (
	// StatusAwaitingSignatures means the validators have not finished signing.
	StatusAwaitingSignatures MessageStatus = iota
	StatusSigned
	StatusRelayed
)

var Statuses = []MessageStatus{StatusAwaitingSignatures, StatusSigned, StatusRelayed}

func (s MessageStatus) String() string {
	switch s {
	case StatusAwaitingSignatures:
		return "awaiting_signatures"
	case StatusSigned:
		return "signed"
	case StatusRelayed:
		return "relayed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

const signatureLength = 65

// Message is the AMB encoded message. Its first 32 bytes are the message id.
type Message struct {
	TxHash      common.Hash
	MessageID   common.Hash
	EncodedData []byte
}

// Hash is the value validators sign.
func (m *Message) Hash() common.Hash {
	return crypto.Keccak256Hash(m.EncodedData)
}

type Config struct {
	L1AMB common.Address
	L2AMB common.Address
}

type Adapter struct {
	l1  chain.Client
	l2  chain.Client
	cfg Config
	log *logger.Logger
}

var _ bridge.Adapter[*Message, MessageStatus] = (*Adapter)(nil)

func New(l1, l2 chain.Client, cfg Config) *Adapter {
	return &Adapter{
		l1:  l1,
		l2:  l2,
		cfg: cfg,
		log: logger.Default().With("bridge", "gnosis", "chain", l2.ChainID().Name()),
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

	l, err := bridge.SelectLog(bridge.LogsByTopic(receipt, a.cfg.L2AMB, userRequestForSignatureTopic), opts.MessageIndex, txHash)
	if err != nil {
		return nil, err
	}

	values, err := l2AMB.Unpack("UserRequestForSignature", l.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack UserRequestForSignature: %w", err)
	}
	encoded, _ := values[0].([]byte)
	if len(encoded) < common.HashLength {
		return nil, fmt.Errorf("%w: encoded data too short in tx %s", bridge.ErrMessageNotFound, txHash.Hex())
	}

	return &Message{
		TxHash:      txHash,
		MessageID:   common.BytesToHash(encoded[:common.HashLength]),
		EncodedData: encoded,
	}, nil
}

func (a *Adapter) GetMessageStatus(ctx context.Context, msg *Message, _ bridge.MessageOpts) (MessageStatus, error) {
	out, err := bridge.CallView(ctx, a.l1, a.cfg.L1AMB, l1AMB, "relayedMessages", msg.MessageID)
	if err != nil {
		return 0, err
	}
	if relayed, _ := out[0].(bool); relayed {
		return StatusRelayed, nil
	}

	out, err = bridge.CallView(ctx, a.l2, a.cfg.L2AMB, l2AMB, "numMessagesSigned", msg.Hash())
	if err != nil {
		return 0, err
	}
	signed, _ := out[0].(*big.Int)

	out, err = bridge.CallView(ctx, a.l2, a.cfg.L2AMB, l2AMB, "isAlreadyProcessed", signed)
	if err != nil {
		return 0, err
	}
	if processed, _ := out[0].(bool); processed {
		return StatusSigned, nil
	}
	return StatusAwaitingSignatures, nil
}

func (a *Adapter) IsMessageInFlight(s MessageStatus) bool  { return s == StatusAwaitingSignatures }
func (a *Adapter) IsMessageRelayable(s MessageStatus) bool { return s == StatusSigned }
func (a *Adapter) IsMessageRelayed(s MessageStatus) bool   { return s == StatusRelayed }

func (a *Adapter) SendRelayTx(ctx context.Context, w wallet.Wallet, msg *Message, _ bridge.MessageOpts) (*types.Transaction, error) {
	out, err := bridge.CallView(ctx, a.l2, a.cfg.L2AMB, l2AMB, "requiredSignatures")
	if err != nil {
		return nil, err
	}
	required, _ := out[0].(*big.Int)
	if required == nil || !required.IsInt64() || required.Int64() > 255 {
		return nil, fmt.Errorf("unexpected required signatures %v", out[0])
	}

	hash := msg.Hash()
	sigs := make([][]byte, 0, required.Int64())
	for i := int64(0); i < required.Int64(); i++ {
		out, err := bridge.CallView(ctx, a.l2, a.cfg.L2AMB, l2AMB, "signature", hash, big.NewInt(i))
		if err != nil {
			return nil, err
		}
		sig, _ := out[0].([]byte)
		if len(sig) != signatureLength {
			return nil, fmt.Errorf("signature %d: expected %d bytes, got %d", i, signatureLength, len(sig))
		}
		sigs = append(sigs, sig)
	}

	data, err := l1AMB.Pack("executeSignatures", msg.EncodedData, PackSignatures(sigs))
	if err != nil {
		return nil, fmt.Errorf("pack executeSignatures: %w", err)
	}

	return w.SendTransaction(ctx, wallet.TxRequest{
		To:       a.cfg.L1AMB,
		Data:     data,
		GasLimit: bridge.RelayGasLimit,
	})
}

// PackSignatures encodes 65 byte r||s||v signatures as count || v... || r... || s...
func PackSignatures(sigs [][]byte) []byte {
	out := make([]byte, 0, 1+len(sigs)*signatureLength)
	out = append(out, byte(len(sigs)))
	for _, sig := range sigs {
		out = append(out, sig[64])
	}
	for _, sig := range sigs {
		out = append(out, sig[:32]...)
	}
	for _, sig := range sigs {
		out = append(out, sig[32:64]...)
	}
	return out
}
