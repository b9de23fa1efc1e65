// Package rpc exposes the swap engine over JSON-RPC 2.0 and streams lifecycle
// events to websocket subscribers.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tidepool-exchange/tidepool/internal/rates"
	"github.com/tidepool-exchange/tidepool/internal/storage"
	"github.com/tidepool-exchange/tidepool/internal/swap"
	"github.com/tidepool-exchange/tidepool/internal/wallet"
	"github.com/tidepool-exchange/tidepool/pkg/logging"
)

// Config holds the listen address of the API server.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Server is the JSON-RPC 2.0 front of the daemon.
type Server struct {
	manager *swap.Manager
	repo    swap.ReverseSwapRepository
	wallets map[string]wallet.Provider
	rates   *rates.Provider
	log     *logging.Logger
	hub     *Hub

	server   *http.Server
	listener net.Listener

	handlers map[string]Handler
	mu       sync.RWMutex
}

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// NewServer wires the API server. Swap events published on the bus are fanned
// out to websocket subscribers.
func NewServer(logger *logging.Logger, manager *swap.Manager, repo swap.ReverseSwapRepository, wallets map[string]wallet.Provider, rateProvider *rates.Provider, events *swap.EventBus) *Server {
	s := &Server{
		manager:  manager,
		repo:     repo,
		wallets:  wallets,
		rates:    rateProvider,
		log:      logger.Component("rpc"),
		hub:      NewHub(logger),
		handlers: make(map[string]Handler),
	}

	s.handlers["swap_create"] = s.swapCreate
	s.handlers["swap_get"] = s.swapGet
	s.handlers["swap_lockup"] = s.swapLockup
	s.handlers["swap_settle"] = s.swapSettle
	s.handlers["swap_refund"] = s.swapRefund
	s.handlers["wallet_balance"] = s.walletBalance
	s.handlers["rates_get"] = s.ratesGet

	events.OnStatusUpdate(func(update swap.StatusUpdate) {
		s.hub.Broadcast(EventSwapUpdate, update)
	})
	events.OnInvoiceExpiry(func(event swap.InvoiceExpiry) {
		s.hub.Broadcast(EventInvoiceExpired, event)
	})

	return s
}

// Start begins serving on the configured address.
func (s *Server) Start(cfg Config) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)
	mux.HandleFunc("/ws", s.handleWS)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go s.hub.Run()
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server stopped", "error", err)
		}
	}()

	s.log.Info("listening", "address", listener.Addr().String())
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeResponse(w, &Response{
			JSONRPC: "2.0",
			Error:   &Error{Code: ParseError, Message: "parse error"},
		})
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	resp := &Response{JSONRPC: "2.0", ID: req.ID}
	if !ok {
		resp.Error = &Error{Code: MethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
		s.writeResponse(w, resp)
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		resp.Error = &Error{Code: errorCode(err), Message: err.Error()}
	} else {
		resp.Result = result
	}
	s.writeResponse(w, resp)
}

func (s *Server) writeResponse(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("writing response failed", "error", err)
	}
}

func errorCode(err error) int {
	switch {
	case errors.Is(err, storage.ErrSwapNotFound),
		errors.Is(err, swap.ErrUnknownCurrency),
		errors.Is(err, swap.ErrInvalidPair),
		errors.Is(err, rates.ErrRateUnavailable):
		return InvalidParams
	default:
		return InternalError
	}
}
