// Package rpc provides the daemon's HTTP surface: a JSON-RPC 2.0 host API,
// a WebSocket event hub for the host UI, the plugin bridge channel and
// Prometheus metrics.
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

	"github.com/klingon-exchange/walletbridge/internal/config"
	"github.com/klingon-exchange/walletbridge/internal/currency"
	"github.com/klingon-exchange/walletbridge/internal/prompt"
	"github.com/klingon-exchange/walletbridge/internal/storage"
	"github.com/klingon-exchange/walletbridge/internal/wallet"
	"github.com/klingon-exchange/walletbridge/pkg/logging"
)

// Server is a JSON-RPC 2.0 server.
type Server struct {
	config     *config.Config
	currencies *currency.Config
	store      *storage.Storage
	wallet     *wallet.Service
	prompts    *prompt.Broker
	version    string
	startTime  time.Time

	baseLog *logging.Logger
	log     *logging.Logger
	wsHub   *WSHub
	metrics *Metrics

	server   *http.Server
	listener net.Listener

	handlers map[string]Handler
	mu       sync.RWMutex

	sessions  map[string]*BridgeSession
	sessionMu sync.RWMutex
}

// ServerConfig holds the collaborators of a Server.
type ServerConfig struct {
	Config     *config.Config
	Currencies *currency.Config
	Storage    *storage.Storage
	Wallet     *wallet.Service
	Prompts    *prompt.Broker
	Version    string
	Logger     *logging.Logger
}

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Application error codes.
const (
	WalletLocked   = -32001
	PromptNotFound = -32002
	NotFound       = -32003
)

// errInvalidParams marks handler errors caused by bad params.
var errInvalidParams = errors.New("invalid params")

// NewServer creates a new JSON-RPC server. The WebSocket hub starts running
// immediately so prompts can be delivered before Start.
func NewServer(cfg ServerConfig) *Server {
	conf := cfg.Config
	if conf == nil {
		conf = config.DefaultConfig()
	}
	currencies := cfg.Currencies
	if currencies == nil {
		currencies = conf.Currencies()
	}
	log := cfg.Logger
	if log == nil {
		log = logging.GetDefault()
	}

	s := &Server{
		config:     conf,
		currencies: currencies,
		store:      cfg.Storage,
		wallet:     cfg.Wallet,
		prompts:    cfg.Prompts,
		version:    cfg.Version,
		startTime:  time.Now(),
		baseLog:    log,
		log:        log.Component("rpc"),
		wsHub:      NewWSHub(),
		handlers:   make(map[string]Handler),
		sessions:   make(map[string]*BridgeSession),
	}
	if s.version == "" {
		s.version = Version
	}
	if s.prompts == nil {
		s.prompts = prompt.NewBroker(prompt.Config{Logger: log}, nil)
	}
	s.prompts.SetNotifier(s.wsHub)
	s.metrics = NewMetrics(s.wsHub.ClientCount)

	go s.wsHub.Run()

	// Register handlers
	s.registerHandlers()

	return s
}

// registerHandlers registers all JSON-RPC method handlers.
func (s *Server) registerHandlers() {
	// Node methods
	s.handlers["node_info"] = s.nodeInfo

	// Currency methods
	s.handlers["currency_list"] = s.currencyList
	s.handlers["currency_get"] = s.currencyGet
	s.handlers["currency_upgrade"] = s.currencyUpgrade
	s.handlers["currency_returnCode"] = s.currencyReturnCode
	s.handlers["currency_explorer"] = s.currencyExplorer

	// Wallet methods
	s.handlers["wallet_status"] = s.walletStatus
	s.handlers["wallet_generate"] = s.walletGenerate
	s.handlers["wallet_create"] = s.walletCreate
	s.handlers["wallet_unlock"] = s.walletUnlock
	s.handlers["wallet_lock"] = s.walletLock
	s.handlers["wallet_changePassword"] = s.walletChangePassword
	s.handlers["wallet_list"] = s.walletList
	s.handlers["wallet_getBalance"] = s.walletGetBalance

	// Plugin methods
	s.handlers["plugins_list"] = s.pluginsList
	s.handlers["plugins_data"] = s.pluginData
	s.handlers["plugins_clearData"] = s.pluginClearData

	// Prompt methods
	s.handlers["prompt_list"] = s.promptList
	s.handlers["prompt_resolve"] = s.promptResolve

	// History methods
	s.handlers["spends_list"] = s.spendsList
	s.handlers["spends_get"] = s.spendGet
	s.handlers["conversions_list"] = s.conversionsList
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("POST /{$}", s.handleRPC)
	mux.HandleFunc("OPTIONS /", s.handleCORS)
	mux.HandleFunc("OPTIONS /{$}", s.handleCORS)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /ws/", s.handleWS)
	mux.HandleFunc("GET /plugins/{pluginId}/bridge", s.handleBridge)
	if s.config.API.Metrics {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return corsMiddleware(mux)
}

// Start starts the RPC server.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("RPC server error", "error", err)
		}
	}()

	s.log.Info("RPC server started", "addr", listener.Addr().String(), "ws", "ws://"+listener.Addr().String()+"/ws")
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the RPC server, rejecting pending prompts.
func (s *Server) Stop() error {
	s.prompts.Close()
	s.wsHub.Stop()
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.observeRequest("invalid", time.Now(), true)
		s.writeError(w, nil, ParseError, "Parse error", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.metrics.observeRequest("invalid", time.Now(), true)
		s.writeError(w, req.ID, InvalidRequest, "Invalid Request", nil)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		s.metrics.observeRequest("unknown", time.Now(), true)
		s.writeError(w, req.ID, MethodNotFound, "Method not found", req.Method)
		return
	}

	start := time.Now()
	result, err := handler(r.Context(), req.Params)
	s.metrics.observeRequest(req.Method, start, err != nil)
	if err != nil {
		s.log.Debug("RPC call failed", "method", req.Method, "error", err)
		s.writeError(w, req.ID, errorCode(err), err.Error(), nil)
		return
	}

	s.writeResult(w, req.ID, result)
}

// errorCode maps handler errors to JSON-RPC codes.
func errorCode(err error) int {
	switch {
	case errors.Is(err, errInvalidParams):
		return InvalidParams
	case errors.Is(err, wallet.ErrLocked):
		return WalletLocked
	case errors.Is(err, prompt.ErrPromptNotFound):
		return PromptNotFound
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, wallet.ErrWalletNotFound):
		return NotFound
	default:
		return InternalError
	}
}

// writeResult writes a successful response.
func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// handleCORS handles CORS preflight requests.
func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// corsMiddleware adds CORS headers to all responses.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Allow requests from any origin (for Electron apps and web clients)
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400") // Cache preflight for 24 hours

		// Handle preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
