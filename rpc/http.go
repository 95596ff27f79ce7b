package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"forwardnet/core/events"
	"forwardnet/native/factory"
	"forwardnet/observability"
	"forwardnet/runtime"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rateLimitWindow = time.Minute
	maxTxPerWindow  = 30
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeDuplicate      = -32010
	codeRateLimited    = -32020
)

type rateLimiter struct {
	count       int
	windowStart time.Time
}

// Server exposes the runtime over JSON-RPC plus the metrics and event
// stream endpoints. Write methods require the bearer token from
// FORWARD_RPC_TOKEN; without a token configured they are refused outright.
type Server struct {
	rt  *runtime.Runtime
	hub *events.Hub

	mu           sync.Mutex
	rateLimiters map[string]*rateLimiter
	authToken    string
	nowFn        func() time.Time
}

func NewServer(rt *runtime.Runtime, hub *events.Hub) *Server {
	token := strings.TrimSpace(os.Getenv("FORWARD_RPC_TOKEN"))
	return &Server{
		rt:           rt,
		hub:          hub,
		rateLimiters: make(map[string]*rateLimiter),
		authToken:    token,
		nowFn:        time.Now,
	}
}

// Handler builds the full HTTP mux with tracing middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/events", s.handleEventsWS)
	return otelhttp.NewHandler(mux, "forward.rpc")
}

func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
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

type rpcHandler func(http.ResponseWriter, *http.Request, *RPCRequest)

type methodEntry struct {
	handler rpcHandler
	write   bool
}

func (s *Server) methods() map[string]methodEntry {
	return map[string]methodEntry{
		"market_mint":               {s.handleMarketMint, true},
		"market_settle":             {s.handleMarketSettle, true},
		"market_redeem":             {s.handleMarketRedeem, true},
		"market_setPaused":          {s.handleMarketSetPaused, true},
		"market_get":                {s.handleMarketGet, false},
		"market_list":               {s.handleMarketList, false},
		"market_previewSettlement":  {s.handleMarketPreviewSettlement, false},
		"market_deposit":            {s.handleMarketDeposit, false},
		"market_pendingAction":      {s.handleMarketPendingAction, false},
		"factory_deployMarket":      {s.handleFactoryDeployMarket, true},
		"factory_markets":           {s.handleFactoryMarkets, false},
		"factory_marketByParams":    {s.handleFactoryMarketByParams, false},
		"factory_marketCount":       {s.handleFactoryMarketCount, false},
		"factory_marketsByCreator":  {s.handleFactoryMarketsByCreator, false},
		"factory_deployment":        {s.handleFactoryDeployment, false},
		"factory_deployments":       {s.handleFactoryDeployments, false},
		"factory_setPaused":         {s.handleFactorySetPaused, true},
		"factory_setCost":           {s.handleFactorySetCost, true},
		"factory_cost":              {s.handleFactoryCost, false},
		"factory_setCodeBlob":       {s.handleFactorySetCodeBlob, true},
		"factory_setOracle":         {s.handleFactorySetWiring((*factory.Engine).SetOracle, "oracle"), true},
		"factory_setFeeCollector":   {s.handleFactorySetWiring((*factory.Engine).SetFeeCollector, "collector"), true},
		"factory_setGuardian":       {s.handleFactorySetWiring((*factory.Engine).SetGuardian, "guardian"), true},
		"factory_transferOwnership": {s.handleFactorySetWiring((*factory.Engine).TransferOwnership, "owner"), true},
		"oracle_postPrice":          {s.handleOraclePostPrice, true},
		"oracle_getPrice":           {s.handleOracleGetPrice, false},
		"oracle_setPairConfig":      {s.handleOracleSetPairConfig, true},
		"oracle_pairConfig":         {s.handleOraclePairConfig, false},
		"oracle_authorizeSource":    {s.handleOracleAuthorizeSource, true},
		"oracle_revokeSource":       {s.handleOracleRevokeSource, true},
		"fees_collected":            {s.handleFeesCollected, false},
		"fees_withdraw":             {s.handleFeesWithdraw, true},
		"fees_treasury":             {s.handleFeesTreasury, false},
		"fees_authorizeMarket":      {s.handleFeesAuthorizeMarket, true},
		"fees_revokeMarket":         {s.handleFeesRevokeMarket, true},
		"fees_setTreasury":          {s.handleFeesSetTreasury, true},
		"token_balance":             {s.handleTokenBalance, false},
		"token_supply":              {s.handleTokenSupply, false},
		"token_meta":                {s.handleTokenMeta, false},
		"token_list":                {s.handleTokenList, false},
		"token_transfer":            {s.handleTokenTransfer, true},
		"state_root":                {s.handleStateRoot, false},
		"state_queueDepth":          {s.handleStateQueueDepth, false},
	}
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := s.nowFn()
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
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	entry, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
		observeRPC(req.Method, http.StatusNotFound, start, s.nowFn)
		return
	}

	if entry.write {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			observeRPC(req.Method, http.StatusUnauthorized, start, s.nowFn)
			return
		}
		source := clientSource(r)
		if !s.allowSource(source, s.nowFn()) {
			observability.RPCMetrics().RecordThrottle(moduleOf(req.Method), "window")
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "write rate limit exceeded", source)
			observeRPC(req.Method, http.StatusTooManyRequests, start, s.nowFn)
			return
		}
	}

	entry.handler(w, r, req)
	observeRPC(req.Method, http.StatusOK, start, s.nowFn)
}

func moduleOf(method string) string {
	if idx := strings.IndexByte(method, '_'); idx > 0 {
		return method[:idx]
	}
	return method
}

func observeRPC(method string, status int, start time.Time, now func() time.Time) {
	observability.RPCMetrics().Observe(moduleOf(method), method, status, now().Sub(start))
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
	if limiter.count >= maxTxPerWindow {
		return false
	}
	limiter.count++
	return true
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
