package finality

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

type mockHeaders struct {
	mu        sync.RWMutex
	head      uint64
	safe      uint64
	finalized uint64
	byHash    map[common.Hash]uint64
}

func (m *mockHeaders) BlockNumber(context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.head, nil
}

func (m *mockHeaders) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n uint64
	switch {
	case number == nil:
		n = m.head
	case number.Int64() == rpc.SafeBlockNumber.Int64():
		n = m.safe
	case number.Int64() == rpc.FinalizedBlockNumber.Int64():
		n = m.finalized
	default:
		n = number.Uint64()
	}
	return &types.Header{Number: new(big.Int).SetUint64(n)}, nil
}

func (m *mockHeaders) HeaderByHash(_ context.Context, hash common.Hash) (*types.Header, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.byHash[hash]
	if !ok {
		return nil, errors.New("not found")
	}
	return &types.Header{Number: new(big.Int).SetUint64(n)}, nil
}

type failingLookup struct{}

func (failingLookup) CustomBlockNumber(context.Context, BlockTag) (uint64, error) {
	return 0, errors.New("zkevm_virtualBatchNumber: connection refused")
}

type fixedLookup uint64

func (f fixedLookup) CustomBlockNumber(context.Context, BlockTag) (uint64, error) {
	return uint64(f), nil
}

func TestDefault_UsesNativeTags(t *testing.T) {
	s := NewDefault(&mockHeaders{head: 100, safe: 90, finalized: 80})
	ctx := context.Background()

	safe, err := s.SafeBlockNumber(ctx)
	if err != nil || safe != 90 {
		t.Errorf("expected safe 90, got %d (%v)", safe, err)
	}
	finalized, err := s.FinalizedBlockNumber(ctx)
	if err != nil || finalized != 80 {
		t.Errorf("expected finalized 80, got %d (%v)", finalized, err)
	}
	if _, err := s.CustomBlockNumber(ctx, Safe); !errors.Is(err, ErrCustomBlockNumberUnsupported) {
		t.Errorf("expected ErrCustomBlockNumberUnsupported, got %v", err)
	}
}

func TestProbabilistic(t *testing.T) {
	tests := []struct {
		name              string
		head              uint64
		wantSafe, wantFin uint64
	}{
		{"deep chain", 1000, 872, 744},
		{"short chain clamps to zero", 100, 0, 0},
		{"between depths", 200, 72, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewProbabilistic(&mockHeaders{head: tt.head}, 0, 0)
			safe, err := s.SafeBlockNumber(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			fin, err := s.FinalizedBlockNumber(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if safe != tt.wantSafe || fin != tt.wantFin {
				t.Errorf("got safe=%d finalized=%d, want %d/%d", safe, fin, tt.wantSafe, tt.wantFin)
			}
		})
	}
}

func TestCollateralized_FallsBackToFinalized(t *testing.T) {
	headers := &mockHeaders{head: 500, safe: 499, finalized: 420}
	s := NewCollateralized(headers, failingLookup{})

	got, err := s.SafeBlockNumber(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 420 {
		t.Errorf("expected finalized fallback 420, got %d", got)
	}
	if got > headers.head {
		t.Errorf("safe block %d exceeds head %d", got, headers.head)
	}
}

func TestCollateralized_NoLookupFallsBack(t *testing.T) {
	s := NewCollateralized(&mockHeaders{head: 50, finalized: 40}, nil)
	got, err := s.SafeBlockNumber(context.Background())
	if err != nil || got != 40 {
		t.Errorf("expected 40, got %d (%v)", got, err)
	}
}

func TestCollateralized_ClampsToHead(t *testing.T) {
	s := NewCollateralized(&mockHeaders{head: 300, finalized: 200}, fixedLookup(350))
	got, err := s.SafeBlockNumber(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 300 {
		t.Errorf("expected clamp to head 300, got %d", got)
	}
}

func TestNew(t *testing.T) {
	h := &mockHeaders{}
	for _, kind := range []string{"", "default", "probabilistic", "collateralized", "polygonzk"} {
		if _, err := New(kind, h, Options{}); err != nil {
			t.Errorf("New(%q) failed: %v", kind, err)
		}
	}
	if _, err := New("optimistic", h, Options{}); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("expected ErrUnknownStrategy, got %v", err)
	}
}
