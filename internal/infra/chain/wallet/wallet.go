// Package wallet signs and submits transactions for a chain.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	logger "log/slog"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vietddude/relayer/internal/core/domain"
)

var ErrWalletNotFound = errors.New("wallet not found")

// TxRequest describes a contract call to submit.
type TxRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	// GasLimit is estimated when zero.
	GasLimit uint64
}

// Wallet submits transactions from one account on one chain.
type Wallet interface {
	Address() common.Address
	ChainID() domain.ChainID
	SendTransaction(ctx context.Context, req TxRequest) (*types.Transaction, error)
}

// Backend is the chain access a KeyedWallet needs.
type Backend interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// KeyedWallet signs EIP-1559 transactions with an in-process private key.
type KeyedWallet struct {
	chainID   domain.ChainID
	key       *ecdsa.PrivateKey
	address   common.Address
	backend   Backend
	signer    types.Signer
	minTipCap *big.Int
	log       *logger.Logger

	// serializes nonce assignment
	mu sync.Mutex
}

// Option configures a KeyedWallet.
type Option func(*KeyedWallet)

// WithMinTipCap raises the suggested priority fee to at least tip.
func WithMinTipCap(tip *big.Int) Option {
	return func(w *KeyedWallet) { w.minTipCap = tip }
}

// NewKeyedWallet parses a hex private key, with or without 0x prefix.
func NewKeyedWallet(chainID domain.ChainID, hexKey string, backend Backend, opts ...Option) (*KeyedWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key for %s: %w", chainID.Name(), err)
	}

	w := &KeyedWallet{
		chainID: chainID,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		backend: backend,
		signer:  types.LatestSignerForChainID(new(big.Int).SetUint64(uint64(chainID))),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = logger.Default().With("chain", chainID.Name(), "address", w.address.Hex())
	return w, nil
}

func (w *KeyedWallet) Address() common.Address { return w.address }
func (w *KeyedWallet) ChainID() domain.ChainID { return w.chainID }

func (w *KeyedWallet) SendTransaction(ctx context.Context, req TxRequest) (*types.Transaction, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		to := req.To
		estimated, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  w.address,
			To:    &to,
			Value: value,
			Data:  req.Data,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to estimate gas: %w", err)
		}
		gasLimit = estimated
	}

	tipCap, err := w.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest tip cap: %w", err)
	}
	if w.minTipCap != nil && tipCap.Cmp(w.minTipCap) < 0 {
		tipCap = new(big.Int).Set(w.minTipCap)
	}

	head, err := w.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("get head: %w", err)
	}
	feeCap := new(big.Int).Set(tipCap)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	nonce, err := w.backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}

	to := req.To
	tx, err := types.SignNewTx(w.key, w.signer, &types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(uint64(w.chainID)),
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	if err := w.backend.SendTransaction(ctx, tx); err != nil {
		return nil, err
	}

	w.log.Info("Submitted transaction", "hash", tx.Hash().Hex(), "to", to.Hex(), "nonce", nonce)
	return tx, nil
}

// Registry resolves wallets by chain id.
type Registry struct {
	mu      sync.RWMutex
	wallets map[domain.ChainID]Wallet
}

func NewRegistry() *Registry {
	return &Registry{wallets: make(map[domain.ChainID]Wallet)}
}

func (r *Registry) Register(w Wallet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wallets[w.ChainID()] = w
}

func (r *Registry) Get(chainID domain.ChainID) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: chain %s", ErrWalletNotFound, chainID.Name())
	}
	return w, nil
}
