/*
handlers.go - HTTP API handlers for the balance monitor

PURPOSE:
  Exposes the reconciliation engine and scheduler over a small JSON API
  and an HTML status page. Handlers parse the request, delegate to the
  monitor package and serialize the result.

ENDPOINTS:
  Status:
    GET    /                          HTML status page
    GET    /api/status                Run status + scheduler state

  Monitoring:
    POST   /api/monitoring/start      Start the daily scheduler
    POST   /api/monitoring/stop       Stop the daily scheduler
    POST   /api/run                   Run a check immediately

  Config:
    GET    /api/config                Editable configuration (password masked)
    PUT    /api/config                Merge, validate and persist changes;
                                      email/webhook edits swap the notifier

  Data:
    GET    /api/ledger                Ledger rows (?limit=N keeps the newest N)
    GET    /api/runs                  Check-run history (?limit=N, default 50)
    GET    /api/meter/consumption     Upstream daily usage (?date=DD-MM-YYYY)

ERROR HANDLING:
  Errors are returned as JSON {"error","details"}:
  - 400: Invalid configuration or query parameters
  - 409: Scheduler already running / not running
  - 502: Upstream balance API failure
  - 503: Feature not configured
  - 500: Internal errors

SECURITY NOTE:
  No authentication. Bind to localhost or put a proxy in front.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mhrishan/desco-monitor/config"
	"github.com/mhrishan/desco-monitor/ledger"
	"github.com/mhrishan/desco-monitor/logger"
	"github.com/mhrishan/desco-monitor/monitor"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

// NotifierFactory builds the notifier a configuration describes.
type NotifierFactory func(cfg config.Config) (monitor.Notifier, error)

// ConsumptionFetcher looks up the utility's own daily usage figure.
type ConsumptionFetcher interface {
	FetchDailyConsumption(ctx context.Context, account monitor.Account, day ledger.Date) (decimal.Decimal, error)
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *monitor.Engine
	Scheduler *monitor.Scheduler

	// Optional collaborators.
	Runs      ledger.RunLog
	Meter     ConsumptionFetcher
	Notifiers NotifierFactory
	Logger    *zap.Logger

	tracker *monitor.Tracker
	now     func() time.Time

	mu      sync.RWMutex
	cfg     config.Config
	cfgPath string // empty: changes are kept in memory only
}

// NewHandler creates a handler around an engine and its scheduler.
func NewHandler(engine *monitor.Engine, scheduler *monitor.Scheduler, cfg config.Config, cfgPath string) *Handler {
	tracker := engine.Tracker()
	if tracker == nil {
		tracker = monitor.NewTracker(engine.Store())
	}
	return &Handler{
		Engine:    engine,
		Scheduler: scheduler,
		Logger:    zap.NewNop(),
		tracker:   tracker,
		now:       time.Now,
		cfg:       cfg,
		cfgPath:   cfgPath,
	}
}

// Config returns the current configuration.
func (h *Handler) Config() config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// =============================================================================
// STATUS HANDLERS
// =============================================================================

// GetStatus returns the run-status snapshot.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status(r.Context()))
}

func (h *Handler) status(ctx context.Context) StatusDTO {
	snap := h.tracker.Snapshot()
	if !snap.LastConsumption.Valid {
		c, err := h.tracker.Consumption(ctx)
		if err != nil {
			logger.FromContext(ctx).Warn("consumption lookup failed", zap.Error(err))
		}
		snap.LastConsumption = c
	}
	if next := h.Scheduler.NextRun(); !next.IsZero() {
		snap.NextRun = next
	}
	return toStatusDTO(snap, h.Scheduler.State(), h.Scheduler.Active())
}

// =============================================================================
// MONITORING HANDLERS
// =============================================================================

// StartMonitoring starts the daily scheduler with the current config.
func (h *Handler) StartMonitoring(w http.ResponseWriter, r *http.Request) {
	cfg := h.Config()
	sc, err := cfg.ScheduleConfig()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if err := h.Scheduler.Start(sc, cfg.CheckConfig()); err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.status(r.Context()))
}

// StopMonitoring stops the daily scheduler. An in-flight check completes.
func (h *Handler) StopMonitoring(w http.ResponseWriter, r *http.Request) {
	if err := h.Scheduler.Stop(); err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.status(r.Context()))
}

// RunNow performs a manual check and returns its outcome. The check is not
// cancelled if the client disconnects.
func (h *Handler) RunNow(w http.ResponseWriter, r *http.Request) {
	cfg := h.Config()
	status := h.Scheduler.RunNow(context.WithoutCancel(r.Context()), cfg.CheckConfig())
	if status.State == monitor.StateConfigError {
		writeError(w, http.StatusBadRequest, "Invalid configuration", errors.New(status.Err()))
		return
	}
	writeJSON(w, http.StatusOK, toStatusDTO(status, h.Scheduler.State(), h.Scheduler.Active()))
}

// =============================================================================
// CONFIG HANDLERS
// =============================================================================

// GetConfig returns the editable configuration with the password masked.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toConfigDTO(h.Config()))
}

// UpdateConfig merges the request into the configuration, validates it,
// persists it and restarts a running scheduler with the new schedule. When
// the email or webhook section is present the engine's notifier is rebuilt
// so the next check uses it.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	next := req.apply(h.cfg)
	if err := next.Validate(); err != nil {
		h.handleError(w, r, err)
		return
	}
	sc, err := next.ScheduleConfig()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	cc := next.CheckConfig()
	if req.Account != nil {
		if err := cc.Validate(); err != nil {
			h.handleError(w, r, err)
			return
		}
	}

	var notifier monitor.Notifier
	if (req.Email != nil || req.Webhook != nil) && h.Notifiers != nil {
		if notifier, err = h.Notifiers(next); err != nil {
			h.handleError(w, r, err)
			return
		}
	}

	if h.cfgPath != "" {
		if err := next.Save(h.cfgPath); err != nil {
			h.handleError(w, r, err)
			return
		}
	}
	h.cfg = next

	if notifier != nil {
		if err := h.Engine.SetNotifier(notifier); err != nil {
			h.handleError(w, r, err)
			return
		}
	}
	if h.Scheduler.Active() {
		if err := h.restartScheduler(sc, cc); err != nil {
			h.handleError(w, r, err)
			return
		}
	}

	logger.FromContext(r.Context()).Info("configuration updated",
		zap.String("schedule", next.Schedule.Time),
		zap.String("timezone", next.Schedule.Timezone),
		zap.Bool("persisted", h.cfgPath != ""),
		zap.Bool("notifier_rebuilt", notifier != nil),
	)
	writeJSON(w, http.StatusOK, toConfigDTO(next))
}

func (h *Handler) restartScheduler(sc monitor.ScheduleConfig, cc monitor.CheckConfig) error {
	if err := h.Scheduler.Stop(); err != nil && !errors.Is(err, monitor.ErrSchedulerStopped) {
		return err
	}
	return h.Scheduler.Start(sc, cc)
}

// =============================================================================
// DATA HANDLERS
// =============================================================================

// GetLedger returns the ledger rows in date order.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 0, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	store := h.Engine.Store()
	entries, err := store.ReadAll(r.Context())
	if err != nil {
		h.handleError(w, r, &monitor.StoreError{Op: "read", Err: err})
		return
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, LedgerDTO{Reference: store.Reference(), Entries: dtos})
}

// ListRuns returns persisted check runs, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	if h.Runs == nil {
		writeJSON(w, http.StatusOK, []RunDTO{})
		return
	}

	runs, err := h.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetMeterConsumption asks the utility for one day's usage. Without a date
// it returns the day the next check would reconcile (yesterday).
func (h *Handler) GetMeterConsumption(w http.ResponseWriter, r *http.Request) {
	if h.Meter == nil {
		writeError(w, http.StatusServiceUnavailable, "Meter lookup not configured", nil)
		return
	}

	cfg := h.Config()
	day := monitor.TargetDate(h.now(), cfg.Location())
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := ledger.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date, expected DD-MM-YYYY", err)
			return
		}
		day = parsed
	}

	account := cfg.Account
	if err := account.Validate(); err != nil {
		h.handleError(w, r, err)
		return
	}

	amount, err := h.Meter.FetchDailyConsumption(r.Context(), account, day)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ConsumptionDTO{Date: day.String(), Consumption: amount.StringFixed(2)})
}

// =============================================================================
// HELPERS
// =============================================================================

func queryLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}

// handleError maps domain errors to HTTP statuses.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())

	var ce *monitor.ConfigError
	switch {
	case errors.As(err, &ce):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid configuration",
			Details: map[string]string{"field": ce.Field, "reason": ce.Reason},
		})
	case errors.Is(err, monitor.ErrSchedulerRunning):
		writeError(w, http.StatusConflict, "Monitoring is already running", nil)
	case errors.Is(err, monitor.ErrSchedulerStopped):
		writeError(w, http.StatusConflict, "Monitoring is not running", nil)
	case errors.Is(err, monitor.ErrFetch):
		log.Warn("upstream error", zap.Error(err))
		writeError(w, http.StatusBadGateway, "Balance API request failed", err)
	default:
		log.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
