// Package transport provides HTTP API handlers.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/xosactivity/internal/errs"
	"github.com/gateway-fm/xosactivity/internal/storage"
	"github.com/gateway-fm/xosactivity/pkg/types"
)

const (
	defaultPageSize  = 50
	maxPageSize      = 500
	defaultLogLimit  = 100
	maxLogLimit      = 1000
	maxRequestBody   = 1 << 20
	readyCheckBudget = 10 * time.Second
)

// ActivityAPI is the service behind the control surface.
type ActivityAPI interface {
	Status() types.StatusResponse
	Start() error
	Stop() error

	Config() types.ActivityConfig
	SetConfig(cfg types.ActivityConfig) (types.ActivityConfig, error)

	Wallets(ctx context.Context, selected int) ([]types.WalletSnapshot, error)
	CreateToken(ctx context.Context, req types.CreateTokenRequest) (*types.OperationResult, error)
	DeployContract(ctx context.Context, req types.DeployContractRequest) (*types.OperationResult, error)

	ListOperations(ctx context.Context, filter storage.OperationFilter, limit, offset int) (*storage.PaginatedOperations, error)
	ListCycles(ctx context.Context, limit, offset int) (*storage.PaginatedCycles, error)
	GetCycle(ctx context.Context, id string) (*types.CycleRecord, error)
	RecentLogs(limit int) []types.LogEvent
}

// HealthChecker defines the interface for health checking.
type HealthChecker interface {
	CheckRPC(ctx context.Context) error
}

// Streams feed the WebSocket endpoint.
type Streams struct {
	Logs    LogSource
	Wallets WalletSource
}

// Server handles HTTP requests for the activity service.
type Server struct {
	api       ActivityAPI
	health    HealthChecker
	logger    *slog.Logger
	startTime time.Time
	wsServer  *WebSocketServer
	gatherer  prometheus.Gatherer

	// CORS configuration
	corsAllowedOrigins []string
	corsAllowAll       bool
}

// NewServer creates a new HTTP server. gatherer may be nil to serve the
// default registry.
func NewServer(api ActivityAPI, health HealthChecker, streams Streams, gatherer prometheus.Gatherer, logger *slog.Logger, corsAllowedOrigins string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		api:       api,
		health:    health,
		logger:    logger,
		startTime: time.Now(),
		wsServer:  NewWebSocketServer(streams, logger),
		gatherer:  gatherer,
	}

	origins := strings.TrimSpace(corsAllowedOrigins)
	if origins == "" || origins == "*" {
		s.corsAllowAll = true
	} else {
		s.corsAllowedOrigins = strings.Split(origins, ",")
		for i, o := range s.corsAllowedOrigins {
			s.corsAllowedOrigins[i] = strings.TrimSpace(o)
		}
	}

	return s
}

// WebSocket returns the stream server, so callers can run and stop it.
func (s *Server) WebSocket() *WebSocketServer {
	return s.wsServer
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/status", s.corsMiddleware(s.handleStatus))
	mux.HandleFunc("/v1/start", s.corsMiddleware(s.handleStart))
	mux.HandleFunc("/v1/stop", s.corsMiddleware(s.handleStop))
	mux.HandleFunc("/v1/config", s.corsMiddleware(s.handleConfig))
	mux.HandleFunc("/v1/wallets", s.corsMiddleware(s.handleWallets))
	mux.HandleFunc("/v1/token", s.corsMiddleware(s.handleCreateToken))
	mux.HandleFunc("/v1/deploy", s.corsMiddleware(s.handleDeploy))
	mux.HandleFunc("/v1/operations", s.corsMiddleware(s.handleOperations))
	mux.HandleFunc("/v1/cycles", s.corsMiddleware(s.handleCycles))
	mux.HandleFunc("/v1/cycles/", s.corsMiddleware(s.handleCycleDetail))
	mux.HandleFunc("/v1/logs", s.corsMiddleware(s.handleLogs))
	mux.HandleFunc("/v1/ws", s.wsServer.Handler())

	// Health endpoints (unversioned - standard Kubernetes probes)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return mux
}

// corsMiddleware adds CORS headers based on the configured allowed origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.corsAllowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			allowed := false
			for _, o := range s.corsAllowedOrigins {
				if o == origin {
					allowed = true
					break
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// statusCode maps a service error onto an HTTP status.
func statusCode(err error) int {
	var (
		balance  *errs.InsufficientBalanceError
		funding  *errs.InsufficientFundingError
		provider *errs.ProviderUnavailableError
		mismatch *errs.ChainIDMismatchError
		reverted *errs.TransactionRevertedError
	)
	switch {
	case errs.IsInvalidInput(err):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrAlreadyRunning), errors.Is(err, errs.ErrNotRunning), errors.Is(err, errs.ErrProcessStopped):
		return http.StatusConflict
	case errors.As(err, &balance), errors.As(err, &funding), errors.As(err, &reverted):
		return http.StatusUnprocessableEntity
	case errors.As(err, &provider), errors.As(err, &mismatch):
		return http.StatusBadGateway
	case errors.Is(err, errs.ErrReceiptTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errs.Retryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes v with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", slog.String("error", err.Error()))
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, map[string]string{"error": message})
}

func (s *Server) writeServiceError(w http.ResponseWriter, prefix string, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error(prefix, slog.String("error", err.Error()))
	}
	body := map[string]string{"error": prefix + ": " + err.Error()}
	if kind := errs.Kind(err); kind != "none" {
		body["kind"] = kind
	}
	s.writeJSON(w, code, body)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// pagination parses limit and offset, falling back to defaults on bad input.
func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= maxPageSize {
		limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}
	return limit, offset
}

// handleStatus returns the scheduler state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.api.Status())
}

// handleStart starts a cycle.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.api.Start(); err != nil {
		s.writeServiceError(w, "Failed to start daily activity", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// handleStop requests a cooperative stop.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.api.Stop(); err != nil {
		s.writeServiceError(w, "Failed to stop daily activity", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// handleConfig reads or replaces the daily activity configuration.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.api.Config())
	case http.MethodPut, http.MethodPost:
		var cfg types.ActivityConfig
		if !s.decode(w, r, &cfg) {
			return
		}
		saved, err := s.api.SetConfig(cfg)
		if err != nil {
			s.writeServiceError(w, "Failed to save config", err)
			return
		}
		s.writeJSON(w, http.StatusOK, saved)
	default:
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleWallets returns fresh snapshots of every account.
func (s *Server) handleWallets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	selected := -1
	if raw := r.URL.Query().Get("selected"); raw != "" {
		i, err := strconv.Atoi(raw)
		if err != nil {
			s.writeJSONError(w, "selected must be an integer", http.StatusBadRequest)
			return
		}
		selected = i
	}
	snaps, err := s.api.Wallets(r.Context(), selected)
	if err != nil {
		s.writeServiceError(w, "Failed to load wallets", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"wallets": snaps})
}

// handleCreateToken creates a token from the requested account.
func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req types.CreateTokenRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.api.CreateToken(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, "Failed to create token", err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleDeploy deploys a contract from the requested account.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req types.DeployContractRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.api.DeployContract(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, "Failed to deploy contract", err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleOperations returns operation history, newest first.
func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	filter := storage.OperationFilter{
		CycleID: q.Get("cycleId"),
		Account: q.Get("account"),
		Kind:    types.OperationKind(q.Get("kind")),
		Status:  types.OperationStatus(q.Get("status")),
	}
	limit, offset := pagination(r)
	page, err := s.api.ListOperations(r.Context(), filter, limit, offset)
	if err != nil {
		s.writeServiceError(w, "Failed to get operations", err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

// handleCycles returns cycle history, newest first.
func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit, offset := pagination(r)
	page, err := s.api.ListCycles(r.Context(), limit, offset)
	if err != nil {
		s.writeServiceError(w, "Failed to get cycles", err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

// handleCycleDetail handles /v1/cycles/{id}.
func (s *Server) handleCycleDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/cycles/"), "/")
	if id == "" {
		s.writeJSONError(w, "Missing cycle ID", http.StatusBadRequest)
		return
	}
	cycle, err := s.api.GetCycle(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "Failed to get cycle", err)
		return
	}
	if cycle == nil {
		s.writeJSONError(w, "Cycle not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, cycle)
}

// handleLogs returns the most recent log events, oldest first.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := defaultLogLimit
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= maxLogLimit {
		limit = l
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": s.api.RecentLogs(limit)})
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// ReadinessCheck represents a single readiness check result.
type ReadinessCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // "ok", "failed"
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleReady handles readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := []ReadinessCheck{}
	allHealthy := true

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyCheckBudget)
		defer cancel()

		start := time.Now()
		err := s.health.CheckRPC(ctx)
		check := ReadinessCheck{
			Name:      "chain-rpc",
			Status:    "ok",
			LatencyMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			check.Status = "failed"
			check.Error = err.Error()
			allHealthy = false
		}
		checks = append(checks, check)
	}

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]any{
		"ready":  allHealthy,
		"checks": checks,
	})
}
