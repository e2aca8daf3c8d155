package evm

import (
	"context"
	"fmt"
	"math/big"

	logger "log/slog"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/infra/chain"
	"github.com/vietddude/relayer/internal/infra/rpc/routing"
)

var _ chain.Client = (*Client)(nil)

// Client is a chain.Client backed by go-ethereum's ethclient.
type Client struct {
	chainID domain.ChainID
	rpc     *rpc.Client
	eth     *ethclient.Client
	retrier *routing.Retrier
	log     *logger.Logger
}

// Dial connects to url and wraps every call with the given retry policy.
func Dial(ctx context.Context, chainID domain.ChainID, url string, cfg routing.RetryConfig) (*Client, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", chainID.Name(), err)
	}
	return NewClient(chainID, rc, cfg), nil
}

// NewClient wraps an existing rpc client.
func NewClient(chainID domain.ChainID, rc *rpc.Client, cfg routing.RetryConfig) *Client {
	return &Client{
		chainID: chainID,
		rpc:     rc,
		eth:     ethclient.NewClient(rc),
		retrier: routing.NewRetrier(chainID.Name(), cfg),
		log:     logger.Default().With("chain", chainID.Name()),
	}
}

func (c *Client) ChainID() domain.ChainID { return c.chainID }

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return routing.Call(ctx, c.retrier, "eth_blockNumber", c.eth.BlockNumber)
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return routing.Call(ctx, c.retrier, "eth_getBlockByNumber", func(ctx context.Context) (*types.Header, error) {
		return c.eth.HeaderByNumber(ctx, number)
	})
}

func (c *Client) HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error) {
	return routing.Call(ctx, c.retrier, "eth_getBlockByHash", func(ctx context.Context) (*types.Header, error) {
		return c.eth.HeaderByHash(ctx, hash)
	})
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return routing.Call(ctx, c.retrier, "eth_getLogs", func(ctx context.Context) ([]types.Log, error) {
		return c.eth.FilterLogs(ctx, q)
	})
}

type txResult struct {
	tx      *types.Transaction
	pending bool
}

func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	res, err := routing.Call(ctx, c.retrier, "eth_getTransactionByHash", func(ctx context.Context) (txResult, error) {
		tx, pending, err := c.eth.TransactionByHash(ctx, hash)
		return txResult{tx: tx, pending: pending}, err
	})
	return res.tx, res.pending, err
}

func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return routing.Call(ctx, c.retrier, "eth_getTransactionReceipt", func(ctx context.Context) (*types.Receipt, error) {
		return c.eth.TransactionReceipt(ctx, hash)
	})
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	return routing.Call(ctx, c.retrier, "eth_call", func(ctx context.Context) ([]byte, error) {
		return c.eth.CallContract(ctx, msg, block)
	})
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return routing.Call(ctx, c.retrier, "eth_estimateGas", func(ctx context.Context) (uint64, error) {
		return c.eth.EstimateGas(ctx, msg)
	})
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	err := c.retrier.Do(ctx, "eth_sendRawTransaction", func(ctx context.Context) error {
		return c.eth.SendTransaction(ctx, tx)
	})
	if err != nil {
		return err
	}
	c.log.Info("Transaction sent", "hash", tx.Hash().Hex(), "nonce", tx.Nonce())
	return nil
}

func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return routing.Call(ctx, c.retrier, "eth_getTransactionCount", func(ctx context.Context) (uint64, error) {
		return c.eth.PendingNonceAt(ctx, account)
	})
}

func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return routing.Call(ctx, c.retrier, "eth_maxPriorityFeePerGas", c.eth.SuggestGasTipCap)
}

func (c *Client) RawCall(ctx context.Context, result any, method string, args ...any) error {
	return c.retrier.Do(ctx, method, func(ctx context.Context) error {
		return c.rpc.CallContext(ctx, result, method, args...)
	})
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}
