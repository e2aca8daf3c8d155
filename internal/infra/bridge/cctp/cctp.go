// Package cctp relays Circle CCTP messages by submitting the attested message
// to the destination MessageTransmitter.
package cctp

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	logger "log/slog"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/infra/attestation"
	"github.com/vietddude/relayer/internal/infra/bridge"
	"github.com/vietddude/relayer/internal/infra/chain"
	"github.com/vietddude/relayer/internal/infra/chain/wallet"
)

type MessageStatus int

const (
	StatusPendingAttestation MessageStatus = iota
	StatusAttested
	StatusReceived
)

var Statuses = []MessageStatus{StatusPendingAttestation, StatusAttested, StatusReceived}

func (s MessageStatus) String() string {
	switch s {
	case StatusPendingAttestation:
		return "pending_attestation"
	case StatusAttested:
		return "attested"
	case StatusReceived:
		return "received"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ErrUnknownChain is returned for chains without a client, transmitter or domain.
var ErrUnknownChain = errors.New("cctp: unknown chain")

// gas estimates get this much headroom, in percent
const gasLimitBuffer = 20

// SentMessage is a CCTP message located in its source transaction.
type SentMessage struct {
	*Message
	TxHash             common.Hash
	SourceChainID      domain.ChainID
	DestinationChainID domain.ChainID

	mu          sync.Mutex
	attestation []byte
}

type Config struct {
	Network domain.Network
	// MessageTransmitters by chain id.
	MessageTransmitters map[domain.ChainID]common.Address
}

// Adapter serves every chain with a configured transmitter, so one instance
// can back several Services.
type Adapter struct {
	clients      chain.Registry
	attestations attestation.Fetcher
	cfg          Config
	log          *logger.Logger
}

var _ bridge.Adapter[*SentMessage, MessageStatus] = (*Adapter)(nil)

func New(clients chain.Registry, attestations attestation.Fetcher, cfg Config) *Adapter {
	return &Adapter{
		clients:      clients,
		attestations: attestations,
		cfg:          cfg,
		log:          logger.Default().With("bridge", "cctp", "network", string(cfg.Network)),
	}
}

// Transmitter returns the client and MessageTransmitter address of a chain.
func (a *Adapter) Transmitter(id domain.ChainID) (chain.Client, common.Address, error) {
	client, ok := a.clients.Get(id)
	if !ok {
		return nil, common.Address{}, fmt.Errorf("%w: no client for %s", ErrUnknownChain, id.Name())
	}
	addr, ok := a.cfg.MessageTransmitters[id]
	if !ok {
		return nil, common.Address{}, fmt.Errorf("%w: no message transmitter for %s", ErrUnknownChain, id.Name())
	}
	return client, addr, nil
}

// DestinationChainID maps the destination domain of msg to a chain id.
func (a *Adapter) DestinationChainID(msg *Message) (domain.ChainID, error) {
	id, ok := domain.ChainIDFromCCTPDomain(a.cfg.Network, msg.DestinationDomain)
	if !ok {
		return 0, fmt.Errorf("%w: domain %d", ErrUnknownChain, msg.DestinationDomain)
	}
	return id, nil
}

func (a *Adapter) GetMessage(ctx context.Context, txHash common.Hash, opts bridge.MessageOpts) (*SentMessage, error) {
	client, addr, err := a.Transmitter(opts.SourceChainID)
	if err != nil {
		return nil, err
	}

	receipt, err := client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	l, err := bridge.SelectLog(bridge.LogsByTopic(receipt, addr, MessageSentTopic), opts.MessageIndex, txHash)
	if err != nil {
		return nil, err
	}

	msg, err := DecodeMessageSent(l.Data)
	if err != nil {
		return nil, err
	}

	dst, err := a.DestinationChainID(msg)
	if err != nil {
		return nil, err
	}
	return &SentMessage{
		Message:            msg,
		TxHash:             txHash,
		SourceChainID:      opts.SourceChainID,
		DestinationChainID: dst,
	}, nil
}

// IsNonceUsed reports whether the destination transmitter already received
// the message identified by sourceDomain and nonce.
func (a *Adapter) IsNonceUsed(ctx context.Context, dst domain.ChainID, sourceDomain uint32, nonce uint64) (bool, error) {
	client, addr, err := a.Transmitter(dst)
	if err != nil {
		return false, err
	}
	out, err := bridge.CallView(ctx, client, addr, transmitter, "usedNonces", NonceKey(sourceDomain, nonce))
	if err != nil {
		return false, err
	}
	used, _ := out[0].(*big.Int)
	return used != nil && used.Sign() != 0, nil
}

func (a *Adapter) GetMessageStatus(ctx context.Context, msg *SentMessage, _ bridge.MessageOpts) (MessageStatus, error) {
	used, err := a.IsNonceUsed(ctx, msg.DestinationChainID, msg.SourceDomain, msg.Nonce)
	if err != nil {
		return 0, err
	}
	if used {
		return StatusReceived, nil
	}

	_, err = a.attestation(ctx, msg)
	switch {
	case errors.Is(err, attestation.ErrAttestationNotComplete), errors.Is(err, attestation.ErrMessageHashNotFound):
		a.log.Debug("Attestation not available", "messageHash", msg.Hash().Hex(), "reason", err)
		return StatusPendingAttestation, nil
	case err != nil:
		return 0, err
	}
	return StatusAttested, nil
}

func (a *Adapter) IsMessageInFlight(s MessageStatus) bool  { return s == StatusPendingAttestation }
func (a *Adapter) IsMessageRelayable(s MessageStatus) bool { return s == StatusAttested }
func (a *Adapter) IsMessageRelayed(s MessageStatus) bool   { return s == StatusReceived }

func (a *Adapter) SendRelayTx(ctx context.Context, w wallet.Wallet, msg *SentMessage, _ bridge.MessageOpts) (*types.Transaction, error) {
	if w.ChainID() != msg.DestinationChainID {
		return nil, fmt.Errorf("%w: message for %s cannot be received on %s",
			bridge.ErrMessageInvalid, msg.DestinationChainID.Name(), w.ChainID().Name())
	}
	att, err := a.attestation(ctx, msg)
	if err != nil {
		return nil, err
	}
	return a.ReceiveMessage(ctx, w, msg.Raw, att)
}

// ReceiveMessage submits receiveMessage(message, attestation) on the chain of w.
// Gas is estimated first so a consumed nonce surfaces as "Nonce already used"
// before anything is broadcast.
func (a *Adapter) ReceiveMessage(ctx context.Context, w wallet.Wallet, message, att []byte) (*types.Transaction, error) {
	client, addr, err := a.Transmitter(w.ChainID())
	if err != nil {
		return nil, err
	}

	data, err := transmitter.Pack("receiveMessage", message, att)
	if err != nil {
		return nil, fmt.Errorf("pack receiveMessage: %w", err)
	}

	from := w.Address()
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &addr, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate receiveMessage: %w", err)
	}

	return w.SendTransaction(ctx, wallet.TxRequest{
		To:       addr,
		Data:     data,
		GasLimit: gas + gas*gasLimitBuffer/100,
	})
}

func (a *Adapter) attestation(ctx context.Context, msg *SentMessage) ([]byte, error) {
	msg.mu.Lock()
	defer msg.mu.Unlock()

	if msg.attestation != nil {
		return msg.attestation, nil
	}
	att, err := a.attestations.FetchAttestation(ctx, msg.Hash())
	if err != nil {
		return nil, err
	}
	msg.attestation = att
	return att, nil
}
