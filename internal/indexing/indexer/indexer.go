// Package indexer persists the logs of configured contract events and
// notifies consumers about them.
//
// Each filter owns a sync marker. A poll reads logs from marker+1 up to the
// chain's sync head in windows of MaxBlockRange blocks and writes every window
// together with the advanced marker in one storage batch, so a crash replays
// at most the window in progress and never skips one.
package indexer

import (
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vietddude/relayer/internal/core/cursor"
	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/indexing/emitter"
	"github.com/vietddude/relayer/internal/indexing/throttle"
	"github.com/vietddude/relayer/internal/infra/chain"
	"github.com/vietddude/relayer/internal/infra/chain/finality"
	"github.com/vietddude/relayer/internal/infra/storage"
)

// IndexAt selects the block a filter indexes up to.
type IndexAt string

const (
	IndexAtLatest IndexAt = "latest"
	IndexAtSafe   IndexAt = "safe"
)

const (
	DefaultMaxBlockRange uint64 = 1000
	DefaultPollInterval         = 12 * time.Second
)

// LookupKeyFunc derives the secondary key a log can be looked up by.
type LookupKeyFunc func(types.Log) (string, error)

// Filter selects the logs of one event on one contract.
type Filter struct {
	// Name labels metrics and logs; defaults to the filter id
	Name          string
	ChainID       domain.ChainID
	Address       common.Address
	Topic0        common.Hash
	StartBlock    uint64
	MaxBlockRange uint64
	PollInterval  time.Duration
	IndexAt       IndexAt
	LookupKey     LookupKeyFunc
}

// ID returns the filter id.
func (f Filter) ID() string {
	return FilterID(f.ChainID, f.Address, f.Topic0)
}

func (f Filter) label() string {
	if f.Name != "" {
		return f.Name
	}
	return f.ID()
}

// FilterID is keccak256(chainId, address, topic0) in hex.
func FilterID(chainID domain.ChainID, address common.Address, topic0 common.Hash) string {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], uint64(chainID))
	return crypto.Keccak256Hash(id[:], address.Bytes(), topic0.Bytes()).Hex()
}

// Chain is the RPC surface a filter reads from.
type Chain struct {
	Client   chain.Client
	Finality finality.Strategy
}

// Config holds indexer configuration
type Config struct {
	Chains  map[domain.ChainID]Chain
	Cursor  cursor.Manager
	Logs    *storage.LogStore
	Emitter emitter.Emitter

	Throttle throttle.AdaptiveConfig

	// Fatal is called with an error that survived retries.
	// Defaults to exiting the process with status 1.
	Fatal func(error)
}

// Status is a snapshot of one filter.
type Status struct {
	FilterID        string
	Name            string
	ChainID         domain.ChainID
	LastBlockSynced uint64
	Head            uint64
	Lag             int64
	State           cursor.State
	BlocksPerSecond float64
}
