// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/infra/chain"
)

var ErrNotFound = ethereum.NotFound

var _ chain.Client = (*Client)(nil)

// CallFunc answers eth_call for a contract address and calldata.
type CallFunc func(to common.Address, data []byte) ([]byte, error)

// Client is a scriptable chain.Client. Zero values answer with ErrNotFound.
type Client struct {
	mu sync.RWMutex

	ID       domain.ChainID
	Head     uint64
	Headers  map[uint64]*types.Header
	Receipts map[common.Hash]*types.Receipt
	Logs     []types.Log

	Call        CallFunc
	Estimate    func(msg ethereum.CallMsg) (uint64, error)
	Raw         map[string]any
	Sent        []*types.Transaction
	FilterCalls int
}

func NewClient(id domain.ChainID) *Client {
	return &Client{
		ID:       id,
		Headers:  make(map[uint64]*types.Header),
		Receipts: make(map[common.Hash]*types.Receipt),
		Raw:      make(map[string]any),
	}
}

// SetHead moves the chain head.
func (c *Client) SetHead(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Head = n
}

// AddLogs appends logs served by FilterLogs.
func (c *Client) AddLogs(logs ...types.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Logs = append(c.Logs, logs...)
}

// SentTransactions returns a copy of submitted transactions.
func (c *Client) SentTransactions() []*types.Transaction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*types.Transaction(nil), c.Sent...)
}

func (c *Client) ChainID() domain.ChainID { return c.ID }

func (c *Client) BlockNumber(context.Context) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Head, nil
}

func (c *Client) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := c.Head
	if number != nil && number.Sign() >= 0 {
		n = number.Uint64()
	}
	if h, ok := c.Headers[n]; ok {
		return h, nil
	}
	return &types.Header{Number: new(big.Int).SetUint64(n), Time: n, BaseFee: big.NewInt(1)}, nil
}

func (c *Client) HeaderByHash(_ context.Context, hash common.Hash) (*types.Header, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, h := range c.Headers {
		if h.Hash() == hash {
			return h, nil
		}
	}
	return nil, ErrNotFound
}

func (c *Client) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FilterCalls++

	var out []types.Log
	for _, l := range c.Logs {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, l.Address) {
			continue
		}
		if !matchTopics(q.Topics, l.Topics) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (c *Client) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	return nil, false, ErrNotFound
}

func (c *Client) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := c.Receipts[hash]; ok {
		return r, nil
	}
	return nil, ErrNotFound
}

func (c *Client) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.mu.RLock()
	call := c.Call
	c.mu.RUnlock()
	if call == nil || msg.To == nil {
		return nil, errors.New("execution reverted")
	}
	return call(*msg.To, msg.Data)
}

func (c *Client) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	c.mu.RLock()
	estimate := c.Estimate
	c.mu.RUnlock()
	if estimate == nil {
		return 21000, nil
	}
	return estimate(msg)
}

func (c *Client) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sent = append(c.Sent, tx)
	return nil
}

func (c *Client) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint64(len(c.Sent)), nil
}

func (c *Client) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

// RawCall serves Raw[method] by JSON round trip into result.
func (c *Client) RawCall(_ context.Context, result any, method string, _ ...any) error {
	c.mu.RLock()
	v, ok := c.Raw[method]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("method %s not found", method)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, result)
}

func containsAddress(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func matchTopics(query [][]common.Hash, topics []common.Hash) bool {
	for i, alternatives := range query {
		if len(alternatives) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		found := false
		for _, t := range alternatives {
			if t == topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
