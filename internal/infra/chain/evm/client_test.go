package evm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/relayer/internal/infra/rpc/routing"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params []any           `json:"params"`
}

// mockNode answers JSON-RPC requests from a method table.
type mockNode struct {
	mu       sync.RWMutex
	handlers map[string]func(params []any) (any, int)
	calls    map[string]int
}

func newMockNode() *mockNode {
	return &mockNode{
		handlers: make(map[string]func(params []any) (any, int)),
		calls:    make(map[string]int),
	}
}

func (m *mockNode) handle(method string, fn func(params []any) (any, int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method] = fn
}

func (m *mockNode) count(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[method]
}

func (m *mockNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.calls[req.Method]++
	fn := m.handlers[req.Method]
	m.mu.Unlock()

	if fn == nil {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]any{"code": -32601, "message": "method not found"},
		})
		return
	}

	result, status := fn(req.Params)
	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("upstream unavailable"))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func newTestClient(t *testing.T, node *mockNode) *Client {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	c, err := Dial(context.Background(), 1, srv.URL, routing.RetryConfig{
		MaxRetries: 3,
		Timeout:    2 * time.Second,
		BaseDelay:  time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestClient_BlockNumber(t *testing.T) {
	node := newMockNode()
	node.handle("eth_blockNumber", func([]any) (any, int) { return "0x12d687", 0 })

	c := newTestClient(t, node)
	height, err := c.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if height != 1234567 {
		t.Errorf("expected height 1234567, got %d", height)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	node := newMockNode()
	var mu sync.Mutex
	failures := 2
	node.handle("eth_blockNumber", func([]any) (any, int) {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return nil, http.StatusTooManyRequests
		}
		return "0x10", 0
	})

	c := newTestClient(t, node)
	height, err := c.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if height != 16 {
		t.Errorf("expected 16, got %d", height)
	}
	if got := node.count("eth_blockNumber"); got != 3 {
		t.Errorf("expected 3 calls, got %d", got)
	}
}

func TestClient_RevertIsNotRetried(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		calls++
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]any{"code": 3, "message": "execution reverted: BRG: paused"},
		})
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), 1, srv.URL, routing.RetryConfig{MaxRetries: 5, Timeout: time.Second, BaseDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	to := common.HexToAddress("0x01")
	if _, err := c.CallContract(context.Background(), ethereum.CallMsg{To: &to}, nil); err == nil {
		t.Fatal("expected revert error")
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("expected a single eth_call, got %d", calls)
	}
}

func TestClient_RawCall(t *testing.T) {
	node := newMockNode()
	node.handle("zkevm_virtualBatchNumber", func([]any) (any, int) { return "0x20", 0 })

	c := newTestClient(t, node)

	var out string
	if err := c.RawCall(context.Background(), &out, "zkevm_virtualBatchNumber"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "0x20" {
		t.Errorf("expected 0x20, got %s", out)
	}
}
