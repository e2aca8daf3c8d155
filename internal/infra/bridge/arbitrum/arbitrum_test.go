package arbitrum

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/infra/bridge"
	"github.com/vietddude/relayer/internal/infra/chain/chaintest"
	"github.com/vietddude/relayer/internal/infra/chain/wallet"
)

var (
	testOutbox = common.HexToAddress("0x0B9857ae2D4A3DBe74ffE1d7DF045bb7F96E4840")
	testTx     = common.HexToHash("0x1111")
)

func l2ToL1Log(t *testing.T, position int64) *types.Log {
	t.Helper()
	data, err := arbSys.Events["L2ToL1Tx"].Inputs.NonIndexed().Pack(
		common.HexToAddress("0xca11e4"),
		big.NewInt(100),
		big.NewInt(200),
		big.NewInt(300),
		big.NewInt(0),
		[]byte{0xde, 0xad},
	)
	if err != nil {
		t.Fatalf("pack event: %v", err)
	}
	return &types.Log{
		Address: ArbSysAddress,
		Topics: []common.Hash{
			l2ToL1TxTopic,
			common.BytesToHash(common.HexToAddress("0xde57").Bytes()),
			common.BigToHash(big.NewInt(42)),
			common.BigToHash(big.NewInt(position)),
		},
		Data:   data,
		TxHash: testTx,
	}
}

type fixture struct {
	l1, l2 *chaintest.Client
	spent  bool
}

func newFixture(t *testing.T, sendCount string, withRoot bool) *fixture {
	t.Helper()
	f := &fixture{
		l1: chaintest.NewClient(domain.ChainIDEthereum),
		l2: chaintest.NewClient(domain.ChainIDArbitrum),
	}
	f.l1.SetHead(50_000)
	f.l2.Receipts[testTx] = &types.Receipt{TxHash: testTx, Logs: []*types.Log{l2ToL1Log(t, 7)}}

	if withRoot {
		f.l1.AddLogs(types.Log{
			Address:     testOutbox,
			BlockNumber: 35_000,
			Topics:      []common.Hash{sendRootUpdatedTopic, common.HexToHash("0x01"), common.HexToHash("0xb10c")},
		})
	}
	f.l2.Raw["eth_getBlockByHash"] = map[string]any{"sendCount": sendCount}

	f.l1.Call = func(to common.Address, data []byte) ([]byte, error) {
		if to == testOutbox && bytes.Equal(data[:4], outbox.Methods["isSpent"].ID) {
			return outbox.Methods["isSpent"].Outputs.Pack(f.spent)
		}
		return nil, errors.New("execution reverted")
	}
	f.l2.Call = func(to common.Address, data []byte) ([]byte, error) {
		if to == NodeInterfaceAddress {
			return nodeInterface.Methods["constructOutboxProof"].Outputs.Pack(
				[32]byte{1}, [32]byte{2}, [][32]byte{{3}, {4}},
			)
		}
		return nil, errors.New("execution reverted")
	}
	return f
}

func (f *fixture) adapter() *Adapter {
	return New(f.l1, f.l2, Config{Outbox: testOutbox, LookbackWindow: 10_000, MaxLookbackWindows: 3})
}

func TestGetMessage(t *testing.T) {
	f := newFixture(t, "0x8", true)
	a := f.adapter()

	msg, err := a.GetMessage(context.Background(), testTx, bridge.MessageOpts{Direction: domain.L2ToL1})
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if msg.Position.Int64() != 7 || msg.Hash.Int64() != 42 {
		t.Errorf("unexpected position/hash %s/%s", msg.Position, msg.Hash)
	}
	if msg.Caller != common.HexToAddress("0xca11e4") || msg.Destination != common.HexToAddress("0xde57") {
		t.Errorf("unexpected caller/destination %s/%s", msg.Caller.Hex(), msg.Destination.Hex())
	}
	if !bytes.Equal(msg.Data, []byte{0xde, 0xad}) {
		t.Errorf("unexpected data %x", msg.Data)
	}

	if _, err := a.GetMessage(context.Background(), testTx, bridge.MessageOpts{Direction: domain.L2ToL1, MessageIndex: 1}); !errors.Is(err, bridge.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
	if _, err := a.GetMessage(context.Background(), testTx, bridge.MessageOpts{Direction: domain.L1ToL2}); !errors.Is(err, bridge.ErrUnsupportedDirection) {
		t.Errorf("expected ErrUnsupportedDirection, got %v", err)
	}
}

func TestGetMessageStatus(t *testing.T) {
	tests := []struct {
		name      string
		sendCount string
		withRoot  bool
		spent     bool
		want      MessageStatus
	}{
		{"executed", "0x8", true, true, StatusExecuted},
		{"confirmed", "0x8", true, false, StatusConfirmed},
		{"send count not past position", "0x7", true, false, StatusUnconfirmed},
		{"no root yet", "0x8", false, false, StatusUnconfirmed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.sendCount, tt.withRoot)
			f.spent = tt.spent
			a := f.adapter()

			msg, err := a.GetMessage(context.Background(), testTx, bridge.MessageOpts{Direction: domain.L2ToL1})
			if err != nil {
				t.Fatalf("GetMessage failed: %v", err)
			}
			got, err := a.GetMessageStatus(context.Background(), msg, bridge.MessageOpts{})
			if err != nil {
				t.Fatalf("GetMessageStatus failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestSendRelayTx(t *testing.T) {
	f := newFixture(t, "0x8", true)
	a := f.adapter()
	w := chaintest.NewWallet(domain.ChainIDEthereum)

	svc := bridge.NewService[*Message, MessageStatus]("arbitrum", domain.ChainIDEthereum, domain.ChainIDArbitrum, a, wallets(w))
	tx, err := svc.ValidateMessageAndSendTransaction(context.Background(), testTx, bridge.MessageOpts{Direction: domain.L2ToL1})
	if err != nil {
		t.Fatalf("relay failed: %v", err)
	}
	if tx == nil {
		t.Fatal("expected a relay transaction")
	}

	sent := w.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 request, got %d", len(sent))
	}
	if sent[0].To != testOutbox {
		t.Errorf("expected outbox target, got %s", sent[0].To.Hex())
	}
	if !bytes.Equal(sent[0].Data[:4], outbox.Methods["executeTransaction"].ID) {
		t.Errorf("expected executeTransaction selector, got %x", sent[0].Data[:4])
	}

	args, err := outbox.Methods["executeTransaction"].Inputs.Unpack(sent[0].Data[4:])
	if err != nil {
		t.Fatalf("unpack calldata: %v", err)
	}
	if proof := args[0].([][32]byte); len(proof) != 2 {
		t.Errorf("expected 2 proof nodes, got %d", len(proof))
	}
}

func TestClassifiersAreExclusiveAndExhaustive(t *testing.T) {
	a := &Adapter{}
	for _, s := range Statuses {
		n := 0
		for _, ok := range []bool{a.IsMessageInFlight(s), a.IsMessageRelayable(s), a.IsMessageRelayed(s)} {
			if ok {
				n++
			}
		}
		if n != 1 {
			t.Errorf("status %s matched %d classifiers", s, n)
		}
	}
}

func wallets(ws ...*chaintest.Wallet) *wallet.Registry {
	r := wallet.NewRegistry()
	for _, w := range ws {
		r.Register(w)
	}
	return r
}
