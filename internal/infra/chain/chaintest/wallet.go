package chaintest

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/infra/chain/wallet"
)

var _ wallet.Wallet = (*Wallet)(nil)

// Wallet records requests instead of signing them.
type Wallet struct {
	mu       sync.RWMutex
	ID       domain.ChainID
	Addr     common.Address
	Requests []wallet.TxRequest
	// Err, when set, is returned by SendTransaction.
	Err error
}

func NewWallet(id domain.ChainID) *Wallet {
	return &Wallet{ID: id, Addr: common.HexToAddress("0x00000000000000000000000000000000000000aa")}
}

func (w *Wallet) Address() common.Address { return w.Addr }
func (w *Wallet) ChainID() domain.ChainID { return w.ID }

func (w *Wallet) SendTransaction(_ context.Context, req wallet.TxRequest) (*types.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return nil, w.Err
	}
	w.Requests = append(w.Requests, req)
	to := req.To
	return types.NewTx(&types.DynamicFeeTx{
		ChainID: new(big.Int).SetUint64(uint64(w.ID)),
		Nonce:   uint64(len(w.Requests) - 1),
		To:      &to,
		Data:    req.Data,
		Gas:     req.GasLimit,
	}), nil
}

// Sent returns a copy of recorded requests.
func (w *Wallet) Sent() []wallet.TxRequest {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]wallet.TxRequest(nil), w.Requests...)
}

// SetErr makes subsequent sends fail with err.
func (w *Wallet) SetErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Err = err
}
