package domain

import "time"

// SyncMarker is the indexing position of one log filter.
type SyncMarker struct {
	FilterID        string    `json:"filter_id"`
	ChainID         ChainID   `json:"chain_id"`
	LastBlockSynced uint64    `json:"last_block_synced"`
	UpdatedAt       time.Time `json:"updated_at"`
}
