// Package filter decides which message senders the relayer serves.
package filter

import "github.com/ethereum/go-ethereum/common"

// Filter defines the interface for sender filtering
type Filter interface {
	// Contains checks if an address is served
	Contains(address common.Address) bool

	// Size returns the number of tracked addresses
	Size() int
}

// AllowAll serves every sender.
type AllowAll struct{}

func (AllowAll) Contains(common.Address) bool { return true }
func (AllowAll) Size() int                    { return 0 }
