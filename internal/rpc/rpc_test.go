package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tidepool-exchange/tidepool/internal/storage"
	"github.com/tidepool-exchange/tidepool/internal/swap"
	"github.com/tidepool-exchange/tidepool/pkg/logging"
)

type stubRepo struct {
	swaps map[string]*storage.ReverseSwap
}

func (r *stubRepo) SaveReverseSwap(s *storage.ReverseSwap) error {
	r.swaps[s.ID] = s
	return nil
}

func (r *stubRepo) GetReverseSwap(id string) (*storage.ReverseSwap, error) {
	s, ok := r.swaps[id]
	if !ok {
		return nil, storage.ErrSwapNotFound
	}
	return s, nil
}

func (r *stubRepo) FindReverseSwaps(statuses []string) ([]*storage.ReverseSwap, error) {
	return nil, nil
}

func (r *stubRepo) SetReverseSwapStatus(id, status string) (*storage.ReverseSwap, error) {
	s, ok := r.swaps[id]
	if !ok {
		return nil, storage.ErrSwapNotFound
	}
	s.Status = status
	return s, nil
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	repo := &stubRepo{swaps: map[string]*storage.ReverseSwap{
		"swap-1": {
			ID:            "swap-1",
			PairID:        "BTC/L-BTC",
			Status:        "swap.created",
			LockupAddress: "bcrt1qexample",
			OnchainAmount: 100000,
		},
	}}

	server := NewServer(logging.Disabled(), nil, repo, nil, nil, swap.NewEventBus())
	httpServer := httptest.NewServer(http.HandlerFunc(server.handleRPC))
	t.Cleanup(httpServer.Close)

	return server, httpServer
}

func call(t *testing.T, url string, body string) *Response {
	t.Helper()

	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	var decoded Response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return &decoded
}

func TestSwapGet(t *testing.T) {
	_, httpServer := newTestServer(t)

	resp := call(t, httpServer.URL, `{"jsonrpc":"2.0","method":"swap_get","params":{"id":"swap-1"},"id":1}`)
	if resp.Error != nil {
		t.Fatalf("error: %+v", resp.Error)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result type %T", resp.Result)
	}
	if result["id"] != "swap-1" || result["status"] != "swap.created" {
		t.Errorf("result = %+v", result)
	}
}

func TestSwapGetNotFound(t *testing.T) {
	_, httpServer := newTestServer(t)

	resp := call(t, httpServer.URL, `{"jsonrpc":"2.0","method":"swap_get","params":{"id":"missing"},"id":2}`)
	if resp.Error == nil {
		t.Fatal("expected error")
	}
	if resp.Error.Code != InvalidParams {
		t.Errorf("code = %d, want %d", resp.Error.Code, InvalidParams)
	}
}

func TestMethodNotFound(t *testing.T) {
	_, httpServer := newTestServer(t)

	resp := call(t, httpServer.URL, `{"jsonrpc":"2.0","method":"nope","id":3}`)
	if resp.Error == nil || resp.Error.Code != MethodNotFound {
		t.Fatalf("error = %+v, want method not found", resp.Error)
	}
}

func TestParseError(t *testing.T) {
	_, httpServer := newTestServer(t)

	resp := call(t, httpServer.URL, `{not json`)
	if resp.Error == nil || resp.Error.Code != ParseError {
		t.Fatalf("error = %+v, want parse error", resp.Error)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, httpServer := newTestServer(t)

	resp, err := http.Get(httpServer.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}
