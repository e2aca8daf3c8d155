package filter

import (
	"bytes"
	"fmt"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryFilter implements Filter using an in-memory set.
type MemoryFilter struct {
	addresses map[common.Address]struct{}
	mu        sync.RWMutex
}

// NewMemoryFilter creates a filter from hex addresses.
func NewMemoryFilter(addresses ...string) (*MemoryFilter, error) {
	f := &MemoryFilter{addresses: make(map[common.Address]struct{}, len(addresses))}
	if err := f.AddBatch(addresses); err != nil {
		return nil, err
	}
	return f, nil
}

// Contains checks if an address is tracked.
func (f *MemoryFilter) Contains(address common.Address) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, exists := f.addresses[address]
	return exists
}

// Add adds a hex address to the filter.
func (f *MemoryFilter) Add(address string) error {
	return f.AddBatch([]string{address})
}

// AddBatch adds multiple addresses. Nothing is added if one is malformed.
func (f *MemoryFilter) AddBatch(addresses []string) error {
	parsed := make([]common.Address, 0, len(addresses))
	for _, a := range addresses {
		if !common.IsHexAddress(a) {
			return fmt.Errorf("invalid address %q", a)
		}
		parsed = append(parsed, common.HexToAddress(a))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, addr := range parsed {
		f.addresses[addr] = struct{}{}
	}
	return nil
}

// Remove removes an address from the filter.
func (f *MemoryFilter) Remove(address common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.addresses, address)
}

// Size returns the number of tracked addresses.
func (f *MemoryFilter) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.addresses)
}

// Addresses returns the tracked addresses in byte order.
func (f *MemoryFilter) Addresses() []common.Address {
	f.mu.RLock()
	result := make([]common.Address, 0, len(f.addresses))
	for addr := range f.addresses {
		result = append(result, addr)
	}
	f.mu.RUnlock()

	slices.SortFunc(result, func(a, b common.Address) int {
		return bytes.Compare(a[:], b[:])
	})
	return result
}
