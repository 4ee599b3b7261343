package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dripsledger/native/drips"
	"dripsledger/native/splits"
	"dripsledger/native/streams"
	"dripsledger/observability/metrics"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeForbidden      = -32031
	codeConflict       = -32032
)

// Server exposes the ledger hub over JSON-RPC 2.0.
type Server struct {
	hub     *drips.Hub
	log     *slog.Logger
	metrics *metrics.DripsMetrics

	httpServer *http.Server
}

// NewServer wires a hub behind the RPC surface. A nil logger falls back to the
// process default.
func NewServer(hub *drips.Hub, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{hub: hub, log: log, metrics: metrics.Drips()}
}

// Start serves requests on addr until the listener fails or Shutdown is
// called.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("json-rpc server listening", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
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

// writeHubError maps ledger errors onto JSON-RPC error codes.
func writeHubError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, drips.ErrNotDriver), errors.Is(err, drips.ErrUnknownDriver):
		writeError(w, http.StatusForbidden, id, codeForbidden, err.Error(), nil)
	case errors.Is(err, streams.ErrInvalidCurrentReceivers),
		errors.Is(err, splits.ErrInvalidCurrentSplits):
		writeError(w, http.StatusConflict, id, codeConflict, err.Error(), nil)
	case errors.Is(err, streams.ErrInvalidReceiverList),
		errors.Is(err, streams.ErrBalanceTooLarge),
		errors.Is(err, streams.ErrTimestampBeforeLastUpdate),
		errors.Is(err, splits.ErrInvalidSplitsReceivers),
		errors.Is(err, drips.ErrBalanceTooLarge),
		errors.Is(err, drips.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) == 0 {
		return fmt.Errorf("parameter object required")
	}
	return json.Unmarshal(req.Params[0], out)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
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

	switch req.Method {
	case "drips_setStreams":
		s.handleSetStreams(w, r, req)
	case "drips_balanceAt":
		s.handleBalanceAt(w, r, req)
	case "drips_receiveStreams":
		s.handleReceiveStreams(w, r, req)
	case "drips_receivableCycles":
		s.handleReceivableCycles(w, r, req)
	case "drips_squeezeStreams":
		s.handleSqueezeStreams(w, r, req)
	case "drips_setSplits":
		s.handleSetSplits(w, r, req)
	case "drips_split":
		s.handleSplit(w, r, req)
	case "drips_splitResult":
		s.handleSplitResult(w, r, req)
	case "drips_splittableBalance":
		s.handleSplittableBalance(w, r, req)
	case "drips_collectableBalance":
		s.handleCollectableBalance(w, r, req)
	case "drips_collect":
		s.handleCollect(w, r, req)
	case "drips_give":
		s.handleGive(w, r, req)
	case "drips_registerDriver":
		s.handleRegisterDriver(w, r, req)
	case "drips_driverAddress":
		s.handleDriverAddress(w, r, req)
	case "drips_updateDriverAddress":
		s.handleUpdateDriverAddress(w, r, req)
	case "drips_emitAccountMetadata":
		s.handleEmitAccountMetadata(w, r, req)
	case "drips_totalBalance":
		s.handleTotalBalance(w, r, req)
	default:
		s.metrics.RPCRequest(req.Method, "not_found")
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
}
