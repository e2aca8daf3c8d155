package domain

import (
	"github.com/ethereum/go-ethereum/common"
)

// IndexedLogVersion is bumped whenever the persisted layout of IndexedLog changes.
const IndexedLogVersion = 1

// IndexedLog is a chain log as persisted by the event indexer.
type IndexedLog struct {
	Version     int            `json:"version"`
	FilterID    string         `json:"filter_id"`
	ChainID     ChainID        `json:"chain_id"`
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        []byte         `json:"data"`
	BlockNumber uint64         `json:"block_number"`
	BlockHash   common.Hash    `json:"block_hash"`
	TxHash      common.Hash    `json:"tx_hash"`
	TxIndex     uint           `json:"tx_index"`
	LogIndex    uint           `json:"log_index"`
	Timestamp   uint64         `json:"timestamp"`
	// LookupKey is the filter-defined secondary key used for point lookups.
	LookupKey string `json:"lookup_key"`
}
