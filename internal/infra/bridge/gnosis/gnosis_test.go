package gnosis

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/infra/bridge"
	"github.com/vietddude/relayer/internal/infra/chain/chaintest"
	"github.com/vietddude/relayer/internal/infra/chain/wallet"
)

var (
	testL1AMB = common.HexToAddress("0x4C36d2919e407f0Cc2Ee3c993ccF8ac26d9CE64e")
	testL2AMB = common.HexToAddress("0x75Df5AF045d91108662D8080fD1FEFAd6aA0bb59")
	testTx    = common.HexToHash("0x2222")
	testID    = common.HexToHash("0x000500004ac82b41bd819dd871590b510316f2385cb196fb0000000000000001")
)

type fixture struct {
	l1, l2    *chaintest.Client
	relayed   bool
	processed bool
}

func method(parsed abi.ABI, data []byte) string {
	for name, m := range parsed.Methods {
		if bytes.Equal(m.ID, data[:4]) {
			return name
		}
	}
	return ""
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		l1: chaintest.NewClient(domain.ChainIDEthereum),
		l2: chaintest.NewClient(domain.ChainIDGnosis),
	}

	encoded := append(testID.Bytes(), 0x01, 0x02, 0x03)
	data, err := l2AMB.Events["UserRequestForSignature"].Inputs.NonIndexed().Pack(encoded)
	if err != nil {
		t.Fatalf("pack event: %v", err)
	}
	f.l2.Receipts[testTx] = &types.Receipt{Logs: []*types.Log{{
		Address: testL2AMB,
		Topics:  []common.Hash{userRequestForSignatureTopic, testID},
		Data:    data,
		TxHash:  testTx,
	}}}

	f.l1.Call = func(to common.Address, data []byte) ([]byte, error) {
		if to == testL1AMB && method(l1AMB, data) == "relayedMessages" {
			return l1AMB.Methods["relayedMessages"].Outputs.Pack(f.relayed)
		}
		return nil, errors.New("execution reverted")
	}
	f.l2.Call = func(to common.Address, data []byte) ([]byte, error) {
		if to != testL2AMB {
			return nil, errors.New("execution reverted")
		}
		switch name := method(l2AMB, data); name {
		case "numMessagesSigned":
			return l2AMB.Methods[name].Outputs.Pack(big.NewInt(3))
		case "isAlreadyProcessed":
			return l2AMB.Methods[name].Outputs.Pack(f.processed)
		case "requiredSignatures":
			return l2AMB.Methods[name].Outputs.Pack(big.NewInt(2))
		case "signature":
			args, _ := l2AMB.Methods[name].Inputs.Unpack(data[4:])
			i := byte(args[1].(*big.Int).Int64())
			sig := bytes.Repeat([]byte{0x10 + i}, 32)
			sig = append(sig, bytes.Repeat([]byte{0x20 + i}, 32)...)
			sig = append(sig, 27+i)
			return l2AMB.Methods[name].Outputs.Pack(sig)
		}
		return nil, errors.New("execution reverted")
	}
	return f
}

func (f *fixture) adapter() *Adapter {
	return New(f.l1, f.l2, Config{L1AMB: testL1AMB, L2AMB: testL2AMB})
}

func TestGetMessage(t *testing.T) {
	a := newFixture(t).adapter()

	msg, err := a.GetMessage(context.Background(), testTx, bridge.MessageOpts{Direction: domain.L2ToL1})
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if msg.MessageID != testID {
		t.Errorf("expected message id %s, got %s", testID.Hex(), msg.MessageID.Hex())
	}
	if len(msg.EncodedData) != 35 {
		t.Errorf("unexpected encoded data length %d", len(msg.EncodedData))
	}
	if _, err := a.GetMessage(context.Background(), testTx, bridge.MessageOpts{Direction: domain.L2ToL1, MessageIndex: 1}); !errors.Is(err, bridge.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestGetMessageStatus(t *testing.T) {
	tests := []struct {
		name               string
		relayed, processed bool
		want               MessageStatus
	}{
		{"awaiting signatures", false, false, StatusAwaitingSignatures},
		{"signed", false, true, StatusSigned},
		{"relayed", true, true, StatusRelayed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.relayed, f.processed = tt.relayed, tt.processed
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
	f := newFixture(t)
	f.processed = true
	w := chaintest.NewWallet(domain.ChainIDEthereum)
	r := wallet.NewRegistry()
	r.Register(w)

	svc := bridge.NewService[*Message, MessageStatus]("gnosis", domain.ChainIDEthereum, domain.ChainIDGnosis, f.adapter(), r)
	if _, err := svc.Relay(context.Background(), testTx, bridge.MessageOpts{Direction: domain.L2ToL1}); err != nil {
		t.Fatalf("relay failed: %v", err)
	}

	sent := w.Sent()
	if len(sent) != 1 || sent[0].To != testL1AMB {
		t.Fatalf("expected one executeSignatures call to L1 AMB, got %+v", sent)
	}
	args, err := l1AMB.Methods["executeSignatures"].Inputs.Unpack(sent[0].Data[4:])
	if err != nil {
		t.Fatalf("unpack calldata: %v", err)
	}
	packed := args[1].([]byte)
	if len(packed) != 1+2*65 {
		t.Fatalf("unexpected packed signature length %d", len(packed))
	}
	if packed[0] != 2 || packed[1] != 27 || packed[2] != 28 {
		t.Errorf("unexpected count/v prefix %x", packed[:3])
	}
	if packed[3] != 0x10 || packed[35] != 0x11 || packed[67] != 0x20 {
		t.Errorf("unexpected r/s layout %x", packed)
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
