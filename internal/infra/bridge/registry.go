package bridge

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vietddude/relayer/internal/core/domain"
)

// Registry maps a chain to the relayer of its bridge family.
type Registry struct {
	mu       sync.RWMutex
	relayers map[domain.ChainID]Relayer
}

func NewRegistry() *Registry {
	return &Registry{relayers: make(map[domain.ChainID]Relayer)}
}

// Register adds r. Registering a chain twice is an error.
func (r *Registry) Register(rel Relayer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.relayers[rel.ChainID()]; ok {
		return fmt.Errorf("chain %s already served by %s", rel.ChainID().Name(), existing.Name())
	}
	r.relayers[rel.ChainID()] = rel
	return nil
}

func (r *Registry) Get(chainID domain.ChainID) (Relayer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rel, ok := r.relayers[chainID]
	if !ok {
		return nil, fmt.Errorf("no bridge registered for chain %s", chainID.Name())
	}
	return rel, nil
}

// Chains returns the registered chain ids in ascending order.
func (r *Registry) Chains() []domain.ChainID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]domain.ChainID, 0, len(r.relayers))
	for id := range r.relayers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
