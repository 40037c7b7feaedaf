package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"lendcore/core"
	"lendcore/observability"
	"lendcore/rpc/modules"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	rateLimitWindow           = time.Minute
	defaultMutationsPerWindow = 60
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// ServerConfig tunes transport-level behaviour. The zero value requires TLS
// material before Serve accepts a listener.
type ServerConfig struct {
	// AuthToken is the bearer token required on mutating methods. When
	// empty the LEND_RPC_TOKEN environment variable is consulted.
	AuthToken string
	// TrustedProxies lists peer addresses whose X-Forwarded-For header is
	// honoured when attributing a request source.
	TrustedProxies []string
	// AllowInsecure permits plaintext HTTP, restricted to loopback
	// listeners.
	AllowInsecure bool
	TLSCertFile   string
	TLSKeyFile    string
	// MutationsPerMinute caps balance-changing calls per source address.
	MutationsPerMinute int
	ReadHeaderTimeout  time.Duration
}

type rateLimiter struct {
	count       int
	windowStart time.Time
}

// Server terminates JSON-RPC over HTTP for the lending ledger and bridges the
// event stream over websockets.
type Server struct {
	ledger  *core.Ledger
	stream  *core.EventStream
	lending *modules.LendingModule

	cfg           ServerConfig
	authToken     string
	mutationLimit int
	log           *slog.Logger
	metrics       *observability.ModuleMetrics

	mu           sync.Mutex
	rateLimiters map[string]*rateLimiter

	serverMu   sync.Mutex
	httpServer *http.Server
}

func NewServer(ledger *core.Ledger, stream *core.EventStream, cfg ServerConfig) *Server {
	token := strings.TrimSpace(cfg.AuthToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("LEND_RPC_TOKEN"))
	}
	limit := cfg.MutationsPerMinute
	if limit <= 0 {
		limit = defaultMutationsPerWindow
	}
	return &Server{
		ledger:        ledger,
		stream:        stream,
		lending:       modules.NewLendingModule(ledger),
		cfg:           cfg,
		authToken:     token,
		mutationLimit: limit,
		log:           slog.Default(),
		metrics:       observability.Module(),
		rateLimiters:  make(map[string]*rateLimiter),
	}
}

// SetLogger overrides the default logger. Nil loggers are ignored.
func (s *Server) SetLogger(log *slog.Logger) {
	if log != nil {
		s.log = log
	}
}

// Handler exposes the RPC endpoint and the websocket event stream.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/ws/events", s.handleEventsWS)
	return mux
}

// Serve accepts connections on the listener. Plaintext transport is refused
// unless AllowInsecure is set and the listener is bound to a loopback address.
func (s *Server) Serve(listener net.Listener) error {
	if listener == nil {
		return fmt.Errorf("rpc: listener required")
	}
	useTLS := strings.TrimSpace(s.cfg.TLSCertFile) != "" && strings.TrimSpace(s.cfg.TLSKeyFile) != ""
	if !useTLS {
		if !s.cfg.AllowInsecure {
			return fmt.Errorf("rpc: TLS is required; provide certificate material or enable allow-insecure for local use")
		}
		if !isLoopbackListener(listener) {
			return fmt.Errorf("rpc: plaintext transport is limited to loopback listeners")
		}
	}
	headerTimeout := s.cfg.ReadHeaderTimeout
	if headerTimeout <= 0 {
		headerTimeout = 10 * time.Second
	}
	server := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: headerTimeout}
	s.serverMu.Lock()
	s.httpServer = server
	s.serverMu.Unlock()

	s.log.Info("rpc server listening", "addr", listener.Addr().String(), "tls", useTLS)
	if useTLS {
		return server.ServeTLS(listener, s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}
	return server.Serve(listener)
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	server := s.httpServer
	s.serverMu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func isLoopbackListener(listener net.Listener) bool {
	addr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		return false
	}
	return addr.IP.IsLoopback()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeModuleError(w http.ResponseWriter, id interface{}, err *modules.ModuleError) {
	if err == nil {
		writeError(w, http.StatusInternalServerError, id, codeServerError, "unknown module failure", nil)
		return
	}
	writeError(w, err.HTTPStatus, id, err.Code, err.Message, err.Data)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	method := s.dispatch(rec, r)
	if s.metrics != nil {
		s.metrics.Observe(method, rec.status, time.Since(start))
	}
}

// dispatch routes a decoded request and reports the method label used for
// instrumentation.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) string {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return "invalid"
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return "invalid"
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return "invalid"
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return "invalid"
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return "invalid"
	}

	switch req.Method {
	case "lend_initReserve":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return req.Method
		}
		s.handleInitReserve(w, r, req)
	case "lend_setOracle":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return req.Method
		}
		s.handleSetOracle(w, r, req)
	case "lend_setRateModel":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return req.Method
		}
		s.handleSetRateModel(w, r, req)
	case "lend_setPrice":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return req.Method
		}
		s.handleSetPrice(w, r, req)
	case "lend_grantRole":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return req.Method
		}
		s.handleGrantRole(w, r, req)
	case "lend_mint":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return req.Method
		}
		s.handleMint(w, r, req)
	case "lend_deposit":
		s.handleDeposit(w, r, req)
	case "lend_withdraw":
		s.handleWithdraw(w, r, req)
	case "lend_borrow":
		s.handleBorrow(w, r, req)
	case "lend_repay":
		s.handleRepay(w, r, req)
	case "lend_liquidate":
		s.handleLiquidate(w, r, req)
	case "lend_getReserve":
		s.handleGetReserve(w, r, req)
	case "lend_getReserves":
		s.handleGetReserves(w, r, req)
	case "lend_getPosition":
		s.handleGetPosition(w, r, req)
	case "lend_getUserAccountData":
		s.handleGetUserAccountData(w, r, req)
	case "lend_getHealthFactor":
		s.handleGetHealthFactor(w, r, req)
	case "lend_getPrice":
		s.handleGetPrice(w, r, req)
	case "lend_getRateModel":
		s.handleGetRateModel(w, r, req)
	case "lend_balance":
		s.handleBalance(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
	return req.Method
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

// allowMutation applies bearer auth plus the per-source rate limit shared by
// every balance-changing method.
func (s *Server) allowMutation(w http.ResponseWriter, r *http.Request, req *RPCRequest) bool {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return false
	}
	source := s.clientSource(r)
	if !s.allowSource(source, time.Now()) {
		if s.metrics != nil {
			s.metrics.RecordThrottle("mutation-rate")
		}
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "mutation rate limit exceeded", source)
		return false
	}
	return true
}

func (s *Server) allowSource(source string, now time.Time) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.rateLimiters[source]
	if !ok {
		limiter = &rateLimiter{windowStart: now}
		s.rateLimiters[source] = limiter
	}
	if now.Sub(limiter.windowStart) >= rateLimitWindow {
		limiter.windowStart = now
		limiter.count = 0
	}
	if limiter.count >= s.mutationLimit {
		return false
	}
	limiter.count++
	return true
}

// clientSource attributes a request to a peer address. Forwarding headers are
// honoured only when the direct peer is a trusted proxy.
func (s *Server) clientSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" && s.isTrustedProxy(host) {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			if candidate := strings.TrimSpace(parts[0]); candidate != "" {
				return candidate
			}
		}
	}
	return host
}

func (s *Server) isTrustedProxy(host string) bool {
	for _, proxy := range s.cfg.TrustedProxies {
		if strings.TrimSpace(proxy) == host {
			return true
		}
	}
	return false
}
