package server

import (
	"StructuredVault/internal/core"
	"StructuredVault/internal/ledger"
	"StructuredVault/internal/observability"
	"StructuredVault/internal/query"
	"StructuredVault/internal/vault"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server exposes vault actions and queries over HTTP/JSON. Action
// endpoints accept an optional Idempotency-Key header; retries with the
// same key are no-ops.
type Server struct {
	engine  *core.Engine
	queries *query.Service
	health  *observability.HealthChecker
	metrics *observability.Metrics
	logger  zerolog.Logger

	httpServer *http.Server
}

func New(addr string, engine *core.Engine, queries *query.Service, health *observability.HealthChecker, metrics *observability.Metrics) *Server {
	s := &Server{
		engine:  engine,
		queries: queries,
		health:  health,
		metrics: metrics,
		logger:  observability.NewLogger("server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", health.LivenessHandler)
	r.Get("/readyz", health.ReadinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/actions/start", s.handleStart)
		r.Post("/actions/disburse", s.handleDisburse)
		r.Post("/actions/repay", s.handleRepay)
		r.Post("/actions/update-state", s.handleUpdateState)
		r.Post("/actions/checkpoint", s.handleCheckpoint)
		r.Post("/actions/close", s.handleClose)
		r.Post("/actions/pause", s.handlePause)
		r.Post("/actions/unpause", s.handleUnpause)

		r.Post("/tranches/{idx}/deposit", s.handleDeposit)
		r.Post("/tranches/{idx}/withdraw", s.handleWithdraw)

		r.Post("/accounts/{entity}/credit", s.handleCredit)
		r.Put("/vault/minimum-size", s.handleSetMinimumSize)

		r.Get("/vault", s.handleVaultSummary)
		r.Get("/tranches", s.handleTranches)
		r.Get("/tranches/{idx}", s.handleTranche)
		r.Get("/waterfall", s.handleWaterfall)
		r.Get("/balances", s.handleBalances)
		r.Get("/reports", s.handleReports)
		r.Get("/events", s.handleEvents)
		r.Get("/events/{sequence}/entries", s.handleEntries)
		r.Get("/integrity", s.handleIntegrity)
	})

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the configured router, used by tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- Action handlers ---

type startRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respondAction(w, r, "start", s.engine.Start(req.Caller, idempotencyKey(r)))
}

type disburseRequest struct {
	Caller               string `json:"caller"`
	Recipient            string `json:"recipient"`
	Amount               int64  `json:"amount"`
	NewOutstandingAssets int64  `json:"new_outstanding_assets"`
	AssetReportID        string `json:"asset_report_id"`
}

func (s *Server) handleDisburse(w http.ResponseWriter, r *http.Request) {
	var req disburseRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.engine.Disburse(req.Caller, req.Recipient, req.Amount, req.NewOutstandingAssets, req.AssetReportID, idempotencyKey(r))
	s.respondAction(w, r, "disburse", err)
}

type repayRequest struct {
	Caller               string `json:"caller"`
	Payer                string `json:"payer"`
	Principal            int64  `json:"principal"`
	Interest             int64  `json:"interest"`
	NewOutstandingAssets int64  `json:"new_outstanding_assets"`
	AssetReportID        string `json:"asset_report_id"`
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.engine.Repay(req.Caller, req.Payer, req.Principal, req.Interest, req.NewOutstandingAssets, req.AssetReportID, idempotencyKey(r))
	s.respondAction(w, r, "repay", err)
}

type updateStateRequest struct {
	Caller               string `json:"caller"`
	NewOutstandingAssets int64  `json:"new_outstanding_assets"`
	AssetReportID        string `json:"asset_report_id"`
}

func (s *Server) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	var req updateStateRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.engine.UpdateState(req.Caller, req.NewOutstandingAssets, req.AssetReportID, idempotencyKey(r))
	s.respondAction(w, r, "update_state", err)
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	s.respondAction(w, r, "update_checkpoints", s.engine.UpdateCheckpoints(idempotencyKey(r)))
}

type closeRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respondAction(w, r, "close", s.engine.Close(req.Caller, idempotencyKey(r)))
}

type pauseRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respondAction(w, r, "pause", s.engine.Pause(req.Caller, idempotencyKey(r)))
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respondAction(w, r, "unpause", s.engine.Unpause(req.Caller, idempotencyKey(r)))
}

type depositRequest struct {
	Depositor string `json:"depositor"`
	Amount    int64  `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	idx, ok := s.trancheIndex(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.engine.Deposit(idx, req.Depositor, req.Amount, idempotencyKey(r))
	s.respondAction(w, r, "deposit", err)
}

type withdrawRequest struct {
	Receiver string `json:"receiver"`
	Amount   int64  `json:"amount"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	idx, ok := s.trancheIndex(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.engine.Withdraw(idx, req.Receiver, req.Amount, idempotencyKey(r))
	s.respondAction(w, r, "withdraw", err)
}

type creditRequest struct {
	Amount int64 `json:"amount"`
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	var req creditRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respondAction(w, r, "credit_external", s.engine.CreditExternal(entity, req.Amount))
}

type minimumSizeRequest struct {
	Caller string `json:"caller"`
	Size   int64  `json:"size"`
}

func (s *Server) handleSetMinimumSize(w http.ResponseWriter, r *http.Request) {
	var req minimumSizeRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respondAction(w, r, "set_minimum_size", s.engine.SetMinimumSize(req.Caller, req.Size))
}

// --- Query handlers ---

func (s *Server) handleVaultSummary(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, "vault", http.StatusOK, s.queries.VaultSummary())
}

func (s *Server) handleTranches(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, "tranches", http.StatusOK, s.queries.Tranches())
}

func (s *Server) handleTranche(w http.ResponseWriter, r *http.Request) {
	idx, ok := s.trancheIndex(w, r)
	if !ok {
		return
	}
	detail, err := s.queries.Tranche(idx)
	if err != nil {
		s.respondError(w, "tranche", http.StatusNotFound, err)
		return
	}
	s.respondJSON(w, "tranche", http.StatusOK, detail)
}

func (s *Server) handleWaterfall(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, "waterfall", http.StatusOK, s.queries.Waterfall())
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, "balances", http.StatusOK, s.queries.Balances())
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, "reports", http.StatusOK, s.queries.AssetReports())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	from, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	events, err := s.queries.Events(r.Context(), from, limit)
	if err != nil {
		s.respondError(w, "events", http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, "events", http.StatusOK, events)
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	sequence, err := strconv.ParseInt(chi.URLParam(r, "sequence"), 10, 64)
	if err != nil {
		s.respondError(w, "entries", http.StatusBadRequest, err)
		return
	}
	entries, err := s.queries.Entries(r.Context(), sequence)
	if err != nil {
		s.respondError(w, "entries", http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, "entries", http.StatusOK, entries)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.queries.VerifyIntegrity(r.Context())
	if err != nil {
		s.respondError(w, "integrity", http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, "integrity", http.StatusOK, report)
}

// --- helpers ---

func idempotencyKey(r *http.Request) string {
	return r.Header.Get("Idempotency-Key")
}

func (s *Server) trancheIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil {
		s.respondError(w, "tranche", http.StatusBadRequest, errors.New("tranche index must be an integer"))
		return 0, false
	}
	return idx, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, "decode", http.StatusBadRequest, err)
		return false
	}
	return true
}

func (s *Server) respondAction(w http.ResponseWriter, r *http.Request, action string, err error) {
	if err != nil {
		s.respondError(w, action, statusForErr(err), err)
		return
	}
	s.respondJSON(w, action, http.StatusOK, map[string]interface{}{
		"status":   "applied",
		"sequence": s.engine.Sequence(),
	})
}

func statusForErr(err error) int {
	switch {
	case errors.Is(err, vault.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrInvalidStatus), errors.Is(err, vault.ErrPaused):
		return http.StatusConflict
	case errors.Is(err, vault.ErrIndexOutOfBounds):
		return http.StatusNotFound
	case errors.Is(err, vault.ErrRatioViolation),
		errors.Is(err, vault.ErrInsufficientFunds),
		errors.Is(err, vault.ErrOverpayment),
		errors.Is(err, vault.ErrMinimumSizeNotReached),
		errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, endpoint string, status int, v interface{}) {
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("response encode failed")
	}
}

func (s *Server) respondError(w http.ResponseWriter, endpoint string, status int, err error) {
	if s.metrics != nil {
		s.metrics.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	}
	s.logger.Debug().Err(err).Str("endpoint", endpoint).Int("status", status).Msg("request rejected")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
