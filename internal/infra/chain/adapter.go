package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/relayer/internal/core/domain"
)

// Client is the RPC boundary between the relayer and an EVM chain.
// Implementations route every call through the retry layer.
type Client interface {
	// ChainID returns the configured chain identifier
	ChainID() domain.ChainID

	// BlockNumber returns the latest block number
	BlockNumber(ctx context.Context) (uint64, error)

	// HeaderByNumber fetches a header by number. Negative numbers map to block tags
	// (rpc.SafeBlockNumber, rpc.FinalizedBlockNumber); nil means latest.
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)

	// HeaderByHash fetches a header by hash
	HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error)

	// FilterLogs returns the logs matching q
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)

	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)

	// CallContract executes a read-only call at block (nil means latest)
	CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)

	SendTransaction(ctx context.Context, tx *types.Transaction) error
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)

	// RawCall performs a JSON-RPC call for methods the typed client does not cover
	RawCall(ctx context.Context, result any, method string, args ...any) error
}

// Registry resolves clients by chain id.
type Registry map[domain.ChainID]Client

// Get returns the client for id.
func (r Registry) Get(id domain.ChainID) (Client, bool) {
	c, ok := r[id]
	return c, ok
}
