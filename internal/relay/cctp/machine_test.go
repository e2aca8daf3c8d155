package cctp

import (
	"context"
	"encoding/binary"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/core/statemachine"
	"github.com/vietddude/relayer/internal/indexing/filter"
	"github.com/vietddude/relayer/internal/infra/attestation"
	cctpadapter "github.com/vietddude/relayer/internal/infra/bridge/cctp"
	"github.com/vietddude/relayer/internal/infra/chain/chaintest"
	"github.com/vietddude/relayer/internal/infra/chain/wallet"
	"github.com/vietddude/relayer/internal/infra/storage"
	"github.com/vietddude/relayer/internal/infra/storage/memory"
)

var (
	ethTransmitter = common.HexToAddress("0x0a992d191DEeC32aFe36203Ad87D7d289a738F81")
	arbTransmitter = common.HexToAddress("0xC30362313FBBA5cf9163F0bb16a0e01f01A896ca")
	depositor      = common.HexToAddress("0x00000000000000000000000000000000000d0d0d")
	t0             = time.Unix(1_700_000_000, 0)
)

// rawMessage lays out a CCTP message from ethereum (domain 0) to dst.
func rawMessage(dst uint32, nonce uint64, sender common.Address) []byte {
	raw := make([]byte, 116+132)
	binary.BigEndian.PutUint32(raw[4:], 0)
	binary.BigEndian.PutUint32(raw[8:], dst)
	binary.BigEndian.PutUint64(raw[12:], nonce)
	copy(raw[116+100:], common.LeftPadBytes(sender.Bytes(), 32))
	return raw
}

type fakeAttestations struct {
	mu    sync.RWMutex
	err   error
	calls int
}

func (f *fakeAttestations) FetchAttestation(context.Context, common.Hash) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte{0xaa}, nil
}

func (f *fakeAttestations) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeReceiver struct {
	mu    sync.RWMutex
	err   error
	calls int
	last  []byte
}

func (f *fakeReceiver) ReceiveMessage(_ context.Context, w wallet.Wallet, message, _ []byte) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.last = message
	return types.NewTx(&types.DynamicFeeTx{
		ChainID: new(big.Int).SetUint64(uint64(w.ChainID())),
		Nonce:   uint64(f.calls),
		To:      &arbTransmitter,
		Data:    message,
	}), nil
}

func (f *fakeReceiver) count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.calls
}

func (f *fakeReceiver) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fixture struct {
	kv           storage.KV
	logs         *storage.LogStore
	cfg          Config
	receiver     *fakeReceiver
	attestations *fakeAttestations
	wallets      *wallet.Registry
	clock        *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv := memory.NewMemoryStorage()
	c := &clock{now: t0}
	wallets := wallet.NewRegistry()
	wallets.Register(chaintest.NewWallet(domain.ChainIDArbitrum))

	return &fixture{
		kv:   kv,
		logs: storage.NewLogStore(kv),
		cfg: Config{
			Network: domain.NetworkMainnet,
			Chains: []ChainConfig{
				{ChainID: domain.ChainIDEthereum, MessageTransmitter: ethTransmitter, AttestationTime: 60 * time.Second, FinalityTime: 15 * time.Second},
				{ChainID: domain.ChainIDArbitrum, MessageTransmitter: arbTransmitter, AttestationTime: 20 * time.Second, FinalityTime: 30 * time.Second},
			},
			InstanceID: "test-instance",
			Now:        c.Now,
		},
		receiver:     &fakeReceiver{},
		attestations: &fakeAttestations{},
		wallets:      wallets,
		clock:        c,
	}
}

func (f *fixture) machine(t *testing.T) *MessageStateMachine {
	t.Helper()
	m, err := NewMessageStateMachine(f.cfg, Deps{
		KV:           f.kv,
		Logs:         f.logs,
		Receiver:     f.receiver,
		Attestations: f.attestations,
		Wallets:      f.wallets,
	})
	if err != nil {
		t.Fatalf("NewMessageStateMachine failed: %v", err)
	}
	return m
}

func (f *fixture) index(t *testing.T, l domain.IndexedLog) {
	t.Helper()
	ops, err := f.logs.Ops(l)
	if err != nil {
		t.Fatalf("encode log: %v", err)
	}
	if err := f.kv.Batch(context.Background(), ops); err != nil {
		t.Fatalf("write log: %v", err)
	}
}

func sentLog(t *testing.T, cfg Config, raw []byte, nonce uint64) domain.IndexedLog {
	t.Helper()
	data, err := cctpadapter.TransmitterABI.Events["MessageSent"].Inputs.Pack(raw)
	if err != nil {
		t.Fatalf("pack MessageSent: %v", err)
	}
	return domain.IndexedLog{
		Version:     domain.IndexedLogVersion,
		FilterID:    sentFilterID(cfg.Chains[0]),
		ChainID:     domain.ChainIDEthereum,
		Address:     ethTransmitter,
		Topics:      []common.Hash{cctpadapter.MessageSentTopic},
		Data:        data,
		BlockNumber: 100 + nonce,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(0x5000 + nonce)),
		Timestamp:   uint64(t0.Unix()),
		LookupKey:   cctpadapter.LookupKey(0, nonce),
	}
}

func receivedLog(cfg Config, nonce uint64, relayTx common.Hash) domain.IndexedLog {
	return domain.IndexedLog{
		Version:     domain.IndexedLogVersion,
		FilterID:    receivedFilterID(cfg.Chains[1]),
		ChainID:     domain.ChainIDArbitrum,
		Address:     arbTransmitter,
		Topics:      []common.Hash{cctpadapter.MessageReceivedTopic},
		BlockNumber: 9000,
		TxHash:      relayTx,
		Timestamp:   uint64(t0.Add(2 * time.Minute).Unix()),
		LookupKey:   cctpadapter.LookupKey(0, nonce),
	}
}

// sendMessage indexes a message from ethereum to arbitrum sent at t0.
func (f *fixture) sendMessage(t *testing.T, nonce uint64) domain.IndexedLog {
	t.Helper()
	l := sentLog(t, f.cfg, rawMessage(3, nonce, depositor), nonce)
	f.index(t, l)
	return l
}

func TestRepository_GetItem(t *testing.T) {
	f := newFixture(t)
	repo := NewRepository(f.cfg, f.logs)
	ctx := context.Background()
	f.sendMessage(t, 7)

	partial := domain.Message{SourceChainID: domain.ChainIDEthereum, DestinationChainID: domain.ChainIDArbitrum, Nonce: 7}
	sent, ok, err := repo.GetItem(ctx, StateSent, partial)
	if err != nil || !ok {
		t.Fatalf("sent formatter: ok=%v err=%v", ok, err)
	}
	if sent.ID() != "1:7" || sent.SentTimestampMs != t0.UnixMilli() || len(sent.Message) != 248 {
		t.Errorf("unexpected sent message %+v", sent)
	}

	if _, ok, err := repo.GetItem(ctx, StateRelayed, sent); err != nil || ok {
		t.Fatalf("expected relayed to be absent, ok=%v err=%v", ok, err)
	}

	relayTx := common.HexToHash("0xabc")
	f.index(t, receivedLog(f.cfg, 7, relayTx))
	relayed, ok, err := repo.GetItem(ctx, StateRelayed, sent)
	if err != nil || !ok {
		t.Fatalf("relayed formatter: ok=%v err=%v", ok, err)
	}
	if relayed.RelayTxHash == nil || *relayed.RelayTxHash != relayTx || relayed.RelayBlockNumber != 9000 {
		t.Errorf("unexpected relayed message %+v", relayed)
	}
	if relayed.MessageHash != sent.MessageHash {
		t.Error("relayed formatter must keep the sent fields")
	}
}

func TestRepository_UnknownState(t *testing.T) {
	f := newFixture(t)
	repo := NewRepository(f.cfg, f.logs)

	_, _, err := repo.GetItem(context.Background(), "bridged", domain.Message{})
	if !errors.Is(err, statemachine.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if got := err.Error(); got != "Invalid state: bridged" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestRepository_MessageFromLog(t *testing.T) {
	f := newFixture(t)
	other := common.HexToAddress("0x0000000000000000000000000000000000000bad")

	senders, err := filter.NewMemoryFilter(depositor.Hex())
	if err != nil {
		t.Fatalf("NewMemoryFilter failed: %v", err)
	}
	cfg := f.cfg
	cfg.Senders = senders
	repo := NewRepository(cfg, f.logs)

	tests := []struct {
		name string
		log  domain.IndexedLog
		want bool
	}{
		{"served sender", sentLog(t, cfg, rawMessage(3, 1, depositor), 1), true},
		{"filtered sender", sentLog(t, cfg, rawMessage(3, 2, other), 2), false},
		// base is a known domain but not configured
		{"unconfigured destination", sentLog(t, cfg, rawMessage(6, 3, depositor), 3), false},
		{"unknown destination domain", sentLog(t, cfg, rawMessage(99, 4, depositor), 4), false},
		{"received log", receivedLog(cfg, 1, common.Hash{}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := repo.MessageFromLog(tt.log)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.want {
				t.Errorf("expected ok=%v, got %v", tt.want, ok)
			}
		})
	}
}

func TestInit_ReplaysIndexedMessages(t *testing.T) {
	f := newFixture(t)
	for nonce := uint64(1); nonce <= 3; nonce++ {
		f.sendMessage(t, nonce)
	}
	m := f.machine(t)
	ctx := context.Background()

	// replaying twice does not duplicate items
	for i := 0; i < 2; i++ {
		if err := m.Init(ctx); err != nil {
			t.Fatalf("Init failed: %v", err)
		}
	}

	counts, err := m.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if counts[StateSent] != 3 || counts[StateRelayed] != 0 {
		t.Errorf("unexpected counts %v", counts)
	}
}

func TestInit_SkipsUndecodableLogs(t *testing.T) {
	f := newFixture(t)
	f.index(t, sentLog(t, f.cfg, make([]byte, 10), 90))
	// the payload claims ethereum but the log comes from arbitrum
	mismatched := sentLog(t, f.cfg, rawMessage(3, 91, depositor), 91)
	mismatched.ChainID = domain.ChainIDArbitrum
	f.index(t, mismatched)
	f.sendMessage(t, 1)

	m := f.machine(t)
	ctx := context.Background()
	if err := m.Init(ctx); err != nil {
		t.Fatalf("Init must skip bad logs: %v", err)
	}

	counts, err := m.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if counts[StateSent] != 1 {
		t.Errorf("expected only the valid message, got counts %v", counts)
	}
}

func TestRelayPoll_HappyPathTiming(t *testing.T) {
	f := newFixture(t)
	f.sendMessage(t, 1)
	m := f.machine(t)
	ctx := context.Background()
	if err := m.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// attestation 60s on ethereum, finality 30s on arbitrum
	f.clock.set(t0.Add(89 * time.Second))
	if err := m.RelayPoll(ctx); err != nil {
		t.Fatalf("RelayPoll failed: %v", err)
	}
	if n := f.receiver.count(); n != 0 {
		t.Fatalf("expected no relay at T0+89s, got %d", n)
	}
	if f.attestations.calls != 0 {
		t.Errorf("expected no attestation fetch before due time, got %d", f.attestations.calls)
	}

	f.clock.set(t0.Add(91 * time.Second))
	if err := m.RelayPoll(ctx); err != nil {
		t.Fatalf("RelayPoll failed: %v", err)
	}
	if n := f.receiver.count(); n != 1 {
		t.Fatalf("expected one relay at T0+91s, got %d", n)
	}

	// the attempt record stops further submissions
	f.clock.set(t0.Add(5 * time.Minute))
	if err := m.RelayPoll(ctx); err != nil {
		t.Fatalf("RelayPoll failed: %v", err)
	}
	if n := f.receiver.count(); n != 1 {
		t.Errorf("expected still one relay, got %d", n)
	}
}

func TestRelayPoll_AtMostOneRelayAcrossPollers(t *testing.T) {
	f := newFixture(t)
	f.sendMessage(t, 1)
	f.clock.set(t0.Add(time.Hour))
	ctx := context.Background()

	const pollers = 8
	machines := make([]*MessageStateMachine, pollers)
	for i := range machines {
		machines[i] = f.machine(t)
		if err := machines[i].Init(ctx); err != nil {
			t.Fatalf("Init failed: %v", err)
		}
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, m := range machines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := m.RelayPoll(ctx); err != nil {
				t.Errorf("RelayPoll failed: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if n := f.receiver.count(); n != 1 {
		t.Errorf("expected exactly one relay, got %d", n)
	}
}

func TestRelayPoll_DuplicateNonceKeepsRecord(t *testing.T) {
	f := newFixture(t)
	l := f.sendMessage(t, 1)
	f.clock.set(t0.Add(time.Hour))
	f.receiver.setErr(errors.New("estimate receiveMessage: execution reverted: Nonce already used"))
	m := f.machine(t)
	ctx := context.Background()
	if err := m.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if err := m.RelayPoll(ctx); err != nil {
		t.Fatalf("duplicate nonce must not fail the poll: %v", err)
	}

	msg, _, _ := m.repo.MessageFromLog(l)
	attempted, err := storage.NewKVRelayAttempts(f.kv).Has(ctx, msg.MessageHash)
	if err != nil {
		t.Fatalf("Has failed: %v", err)
	}
	if !attempted {
		t.Fatal("expected the relay attempt record to be kept")
	}

	if err := m.RelayPoll(ctx); err != nil {
		t.Fatalf("RelayPoll failed: %v", err)
	}
	if n := f.receiver.count(); n != 1 {
		t.Errorf("expected no second relay attempt, got %d calls", n)
	}
}

func TestRelayPoll_AlreadyKnownKeepsRecord(t *testing.T) {
	f := newFixture(t)
	l := f.sendMessage(t, 1)
	f.clock.set(t0.Add(time.Hour))
	f.receiver.setErr(errors.New("send receiveMessage: already known"))
	m := f.machine(t)
	ctx := context.Background()
	if err := m.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if err := m.RelayPoll(ctx); err != nil {
		t.Fatalf("already known transaction must not fail the poll: %v", err)
	}

	msg, _, _ := m.repo.MessageFromLog(l)
	if attempted, _ := storage.NewKVRelayAttempts(f.kv).Has(ctx, msg.MessageHash); !attempted {
		t.Fatal("expected the relay attempt record to be kept")
	}

	f.receiver.setErr(nil)
	if err := m.RelayPoll(ctx); err != nil {
		t.Fatalf("RelayPoll failed: %v", err)
	}
	if n := f.receiver.count(); n != 1 {
		t.Errorf("expected a single submission, got %d", n)
	}
}

func TestRelayPoll_AttestationPending(t *testing.T) {
	f := newFixture(t)
	l := f.sendMessage(t, 1)
	f.clock.set(t0.Add(time.Hour))
	f.attestations.setErr(attestation.ErrAttestationNotComplete)
	m := f.machine(t)
	ctx := context.Background()
	if err := m.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if err := m.RelayPoll(ctx); err != nil {
		t.Fatalf("pending attestation must not fail the poll: %v", err)
	}
	if n := f.receiver.count(); n != 0 {
		t.Fatalf("expected no relay, got %d", n)
	}
	msg, _, _ := m.repo.MessageFromLog(l)
	if attempted, _ := storage.NewKVRelayAttempts(f.kv).Has(ctx, msg.MessageHash); attempted {
		t.Fatal("expected no relay attempt record while attestation is pending")
	}

	f.attestations.setErr(nil)
	if err := m.RelayPoll(ctx); err != nil {
		t.Fatalf("RelayPoll failed: %v", err)
	}
	if n := f.receiver.count(); n != 1 {
		t.Errorf("expected relay once attested, got %d", n)
	}
}

func TestRelayPoll_MessageHashNotFound(t *testing.T) {
	f := newFixture(t)
	f.sendMessage(t, 1)
	f.clock.set(t0.Add(time.Hour))
	f.attestations.setErr(attestation.ErrMessageHashNotFound)
	m := f.machine(t)
	ctx := context.Background()
	if err := m.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	err := m.RelayPoll(ctx)
	if !errors.Is(err, attestation.ErrMessageHashNotFound) {
		t.Fatalf("expected ErrMessageHashNotFound, got %v", err)
	}
	if n := f.receiver.count(); n != 0 {
		t.Errorf("expected no relay, got %d", n)
	}
}

func TestRelayPoll_OtherErrorRemovesRecord(t *testing.T) {
	f := newFixture(t)
	l := f.sendMessage(t, 1)
	f.clock.set(t0.Add(time.Hour))
	f.receiver.setErr(errors.New("dial tcp: connection refused"))
	m := f.machine(t)
	ctx := context.Background()
	if err := m.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if err := m.RelayPoll(ctx); err == nil {
		t.Fatal("expected relay error to surface")
	}
	msg, _, _ := m.repo.MessageFromLog(l)
	if attempted, _ := storage.NewKVRelayAttempts(f.kv).Has(ctx, msg.MessageHash); attempted {
		t.Fatal("expected the relay attempt record to be removed")
	}

	f.receiver.setErr(nil)
	if err := m.RelayPoll(ctx); err != nil {
		t.Fatalf("RelayPoll failed: %v", err)
	}
	if n := f.receiver.count(); n != 2 {
		t.Errorf("expected a retry, got %d calls", n)
	}
}

func TestRelay_MissingWallet(t *testing.T) {
	f := newFixture(t)
	f.sendMessage(t, 1)
	f.wallets = wallet.NewRegistry()
	f.clock.set(t0.Add(time.Hour))
	m := f.machine(t)
	ctx := context.Background()
	if err := m.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if err := m.RelayPoll(ctx); !errors.Is(err, wallet.ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
	// nothing was recorded, so a configured wallet can relay later
	items, _ := m.Items(ctx, StateSent)
	if attempted, _ := storage.NewKVRelayAttempts(f.kv).Has(ctx, items[0].MessageHash); attempted {
		t.Error("expected no relay attempt record without a wallet")
	}
}

func TestTransition_SentToRelayed(t *testing.T) {
	f := newFixture(t)
	f.sendMessage(t, 1)
	m := f.machine(t)
	ctx := context.Background()
	if err := m.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	relayTx := common.HexToHash("0xdef")
	f.index(t, receivedLog(f.cfg, 1, relayTx))

	// attestation 60s + finality 30s + 60s buffer
	f.clock.set(t0.Add(149 * time.Second))
	if err := m.Poll(ctx, StateSent); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if state, _, _ := m.Get(ctx, "1:1"); state != StateSent {
		t.Fatalf("expected message to stay sent before the buffer elapses, got %s", state)
	}

	f.clock.set(t0.Add(151 * time.Second))
	if err := m.Poll(ctx, StateSent); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	state, msg, err := m.Get(ctx, "1:1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state != StateRelayed || msg.RelayTxHash == nil || *msg.RelayTxHash != relayTx {
		t.Errorf("expected relayed message with relay tx, got %s %+v", state, msg)
	}
	if len(msg.Message) == 0 {
		t.Error("merge must keep the sent message bytes")
	}
}

func TestFromLog_CreatesItem(t *testing.T) {
	f := newFixture(t)
	m := f.machine(t)
	ctx := context.Background()

	msg, ok, err := m.FromLog(ctx, sentLog(t, f.cfg, rawMessage(3, 5, depositor), 5))
	if err != nil || !ok {
		t.Fatalf("FromLog failed: ok=%v err=%v", ok, err)
	}
	if m.ItemID(msg) != "1:5" || msg.DestinationChainID != domain.ChainIDArbitrum {
		t.Errorf("unexpected message %+v", msg)
	}
	created, err := m.CreateIfNotExist(ctx, msg)
	if err != nil || !created {
		t.Fatalf("CreateIfNotExist failed: created=%v err=%v", created, err)
	}
}

func TestPruneBefore(t *testing.T) {
	f := newFixture(t)
	f.sendMessage(t, 1)
	f.sendMessage(t, 2)
	m := f.machine(t)
	ctx := context.Background()
	if err := m.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	f.index(t, receivedLog(f.cfg, 1, common.HexToHash("0x01")))
	f.clock.set(t0.Add(time.Hour))
	if err := m.Poll(ctx, StateSent); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	// the relay log is stamped at t0+2m
	n, err := m.PruneBefore(ctx, t0.Add(time.Minute))
	if err != nil || n != 0 {
		t.Fatalf("expected nothing pruned before the relay, n=%d err=%v", n, err)
	}
	n, err = m.PruneBefore(ctx, t0.Add(3*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("expected one pruned message, n=%d err=%v", n, err)
	}

	counts, _ := m.Count(ctx)
	if counts[StateSent] != 1 || counts[StateRelayed] != 0 {
		t.Errorf("unexpected counts %v", counts)
	}

	// a restart does not resurrect the pruned message
	if err := m.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if _, _, err := m.Get(ctx, "1:1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected pruned message to stay gone, got %v", err)
	}
}
