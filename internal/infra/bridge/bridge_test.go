package bridge

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/infra/chain/wallet"
)

type fakeStatus int

const (
	fakePending fakeStatus = iota
	fakeReady
	fakeDone
	fakeBroken // classified by none, used to reach ErrMessageInvalid
)

type fakeAdapter struct {
	mu     sync.RWMutex
	status fakeStatus
	sentBy []domain.ChainID
}

func (f *fakeAdapter) GetMessage(_ context.Context, txHash common.Hash, opts MessageOpts) (string, error) {
	if opts.MessageIndex > 0 {
		return "", ErrMessageNotFound
	}
	return txHash.Hex(), nil
}

func (f *fakeAdapter) GetMessageStatus(context.Context, string, MessageOpts) (fakeStatus, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status, nil
}

func (f *fakeAdapter) IsMessageInFlight(s fakeStatus) bool  { return s == fakePending }
func (f *fakeAdapter) IsMessageRelayable(s fakeStatus) bool { return s == fakeReady }
func (f *fakeAdapter) IsMessageRelayed(s fakeStatus) bool   { return s == fakeDone }

func (f *fakeAdapter) SendRelayTx(_ context.Context, w wallet.Wallet, _ string, _ MessageOpts) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentBy = append(f.sentBy, w.ChainID())
	return types.NewTx(&types.DynamicFeeTx{ChainID: big.NewInt(1)}), nil
}

type fakeWallet struct{ chainID domain.ChainID }

func (w fakeWallet) Address() common.Address { return common.Address{} }
func (w fakeWallet) ChainID() domain.ChainID { return w.chainID }
func (w fakeWallet) SendTransaction(context.Context, wallet.TxRequest) (*types.Transaction, error) {
	return nil, errors.New("not used")
}

func newWallets() *wallet.Registry {
	r := wallet.NewRegistry()
	r.Register(fakeWallet{chainID: domain.ChainIDEthereum})
	r.Register(fakeWallet{chainID: domain.ChainIDArbitrum})
	return r
}

func TestService_ValidateMessageAndSendTransaction(t *testing.T) {
	tests := []struct {
		name      string
		status    fakeStatus
		direction domain.MessageDirection
		wantErr   error
		wantTx    bool
		wantChain domain.ChainID
	}{
		{name: "relayed is a no-op", status: fakeDone},
		{name: "in flight", status: fakePending, wantErr: ErrMessageInFlight},
		{name: "invalid", status: fakeBroken, wantErr: ErrMessageInvalid},
		{name: "l2 to l1 uses l1 wallet", status: fakeReady, direction: domain.L2ToL1, wantTx: true, wantChain: domain.ChainIDEthereum},
		{name: "l1 to l2 uses l2 wallet", status: fakeReady, direction: domain.L1ToL2, wantTx: true, wantChain: domain.ChainIDArbitrum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := &fakeAdapter{status: tt.status}
			svc := NewService("fake", domain.ChainIDEthereum, domain.ChainIDArbitrum, Adapter[string, fakeStatus](adapter), newWallets())

			tx, err := svc.ValidateMessageAndSendTransaction(context.Background(), common.HexToHash("0x01"), MessageOpts{Direction: tt.direction})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (tx != nil) != tt.wantTx {
				t.Fatalf("expected tx=%v, got %v", tt.wantTx, tx)
			}
			if tt.wantTx {
				if len(adapter.sentBy) != 1 || adapter.sentBy[0] != tt.wantChain {
					t.Errorf("expected relay from %s, got %v", tt.wantChain.Name(), adapter.sentBy)
				}
			} else if len(adapter.sentBy) != 0 {
				t.Errorf("expected no relay, got %v", adapter.sentBy)
			}
		})
	}
}

func TestService_MessageIndexOutOfRange(t *testing.T) {
	svc := NewService[string, fakeStatus]("fake", domain.ChainIDEthereum, domain.ChainIDArbitrum, &fakeAdapter{}, newWallets())
	_, err := svc.Relay(context.Background(), common.HexToHash("0x01"), MessageOpts{MessageIndex: 3})
	if !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	svc := NewService[string, fakeStatus]("fake", domain.ChainIDEthereum, domain.ChainIDArbitrum, &fakeAdapter{}, newWallets())
	if err := r.Register(svc); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(svc); err == nil {
		t.Error("expected duplicate registration to fail")
	}

	got, err := r.Get(domain.ChainIDArbitrum)
	if err != nil || got.Name() != "fake" {
		t.Errorf("unexpected relayer %v (%v)", got, err)
	}
	if _, err := r.Get(domain.ChainIDGnosis); err == nil {
		t.Error("expected unknown chain to fail")
	}
	if chains := r.Chains(); len(chains) != 1 || chains[0] != domain.ChainIDArbitrum {
		t.Errorf("unexpected chains %v", chains)
	}
}

func TestLogsByTopicAndSelect(t *testing.T) {
	topic := common.HexToHash("0xaa")
	emitter := common.HexToAddress("0x01")
	receipt := &types.Receipt{Logs: []*types.Log{
		{Address: emitter, Topics: []common.Hash{topic}},
		{Address: common.HexToAddress("0x02"), Topics: []common.Hash{topic}},
		{Address: emitter, Topics: []common.Hash{common.HexToHash("0xbb")}},
		{Address: emitter},
	}}

	if got := LogsByTopic(receipt, emitter, topic); len(got) != 1 {
		t.Errorf("expected 1 log, got %d", len(got))
	}
	logs := LogsByTopic(receipt, common.Address{}, topic)
	if len(logs) != 2 {
		t.Errorf("expected 2 logs for any emitter, got %d", len(logs))
	}
	if _, err := SelectLog(logs, 2, common.Hash{}); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}
