// Package bridge defines the message adapter contract shared by every bridge
// family and the orchestration that validates a message before relaying it.
package bridge

import (
	"context"
	"errors"
	"fmt"

	logger "log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/infra/chain/wallet"
)

var (
	ErrMessageNotFound      = errors.New("message not found")
	ErrMessageInFlight      = errors.New("message in flight")
	ErrMessageInvalid       = errors.New("message invalid")
	ErrUnsupportedDirection = errors.New("unsupported message direction")
)

// MessageOpts selects a message within a source transaction.
type MessageOpts struct {
	Direction domain.MessageDirection
	// MessageIndex picks among several messages emitted by one transaction.
	MessageIndex int
	// SourceChainID is set by Service from Direction. Adapters that serve
	// more than one chain pair read it to pick the source client.
	SourceChainID domain.ChainID
}

// Adapter is implemented once per bridge family. M is the decoded message and
// S its status. For every S exactly one of the classifiers returns true.
type Adapter[M any, S any] interface {
	// GetMessage decodes the message sent by txHash. Returns ErrMessageNotFound
	// when the transaction emitted fewer messages than opts.MessageIndex+1.
	GetMessage(ctx context.Context, txHash common.Hash, opts MessageOpts) (M, error)
	GetMessageStatus(ctx context.Context, msg M, opts MessageOpts) (S, error)

	IsMessageInFlight(status S) bool
	IsMessageRelayable(status S) bool
	IsMessageRelayed(status S) bool

	SendRelayTx(ctx context.Context, w wallet.Wallet, msg M, opts MessageOpts) (*types.Transaction, error)
}

// WalletSource resolves the signer for a chain.
type WalletSource interface {
	Get(chainID domain.ChainID) (wallet.Wallet, error)
}

// Relayer is the type-erased view of a Service held by the Registry.
type Relayer interface {
	Name() string
	ChainID() domain.ChainID
	Relay(ctx context.Context, txHash common.Hash, opts MessageOpts) (*types.Transaction, error)
}

// Service validates a message against its on-chain status and submits the
// relay from the wallet on the receiving side.
type Service[M any, S any] struct {
	name      string
	l1ChainID domain.ChainID
	l2ChainID domain.ChainID
	adapter   Adapter[M, S]
	wallets   WalletSource
	log       *logger.Logger
}

func NewService[M any, S any](name string, l1, l2 domain.ChainID, adapter Adapter[M, S], wallets WalletSource) *Service[M, S] {
	return &Service[M, S]{
		name:      name,
		l1ChainID: l1,
		l2ChainID: l2,
		adapter:   adapter,
		wallets:   wallets,
		log:       logger.Default().With("bridge", name, "chain", l2.Name()),
	}
}

func (s *Service[M, S]) Name() string            { return s.name }
func (s *Service[M, S]) ChainID() domain.ChainID { return s.l2ChainID }

// ValidateMessageAndSendTransaction relays the message sent by txHash.
// An already relayed message returns (nil, nil).
func (s *Service[M, S]) ValidateMessageAndSendTransaction(ctx context.Context, txHash common.Hash, opts MessageOpts) (*types.Transaction, error) {
	opts.SourceChainID = s.source(opts.Direction)

	msg, err := s.adapter.GetMessage(ctx, txHash, opts)
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", txHash.Hex(), err)
	}

	status, err := s.adapter.GetMessageStatus(ctx, msg, opts)
	if err != nil {
		return nil, fmt.Errorf("get message status %s: %w", txHash.Hex(), err)
	}

	if s.adapter.IsMessageRelayed(status) {
		s.log.Info("Message already relayed", "txHash", txHash.Hex(), "status", status)
		return nil, nil
	}
	if s.adapter.IsMessageInFlight(status) {
		return nil, fmt.Errorf("%w: %s (status %v)", ErrMessageInFlight, txHash.Hex(), status)
	}
	if !s.adapter.IsMessageRelayable(status) {
		return nil, fmt.Errorf("%w: %s (status %v)", ErrMessageInvalid, txHash.Hex(), status)
	}

	w, err := s.wallets.Get(s.destination(opts.Direction))
	if err != nil {
		return nil, err
	}

	tx, err := s.adapter.SendRelayTx(ctx, w, msg, opts)
	if err != nil {
		return nil, fmt.Errorf("send relay tx for %s: %w", txHash.Hex(), err)
	}
	s.log.Info("Relayed message", "txHash", txHash.Hex(), "relayTx", tx.Hash().Hex(), "direction", opts.Direction)
	return tx, nil
}

func (s *Service[M, S]) Relay(ctx context.Context, txHash common.Hash, opts MessageOpts) (*types.Transaction, error) {
	return s.ValidateMessageAndSendTransaction(ctx, txHash, opts)
}

func (s *Service[M, S]) source(d domain.MessageDirection) domain.ChainID {
	if d == domain.L1ToL2 {
		return s.l1ChainID
	}
	return s.l2ChainID
}

func (s *Service[M, S]) destination(d domain.MessageDirection) domain.ChainID {
	if d == domain.L1ToL2 {
		return s.l2ChainID
	}
	return s.l1ChainID
}
