/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     One zap line per request, request-scoped logger in context
  3. Recoverer:  Panic recovery (JSON 500 instead of crash)
  4. Metrics:    Prometheus request count and latency (when enabled)
  5. CORS:       Cross-origin requests for a separate frontend

ROUTE GROUPS:
  /                     HTML status page
  /api/status           Run status
  /api/monitoring/*     Scheduler start/stop
  /api/run              Manual check
  /api/config           Configuration read/write
  /api/ledger           Ledger rows
  /api/runs             Check-run history
  /api/meter/*          Upstream lookups
  /metrics              Prometheus exposition

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mhrishan/desco-monitor/metrics"
)

// DefaultCORSOrigins is used when RouterOptions.CORSOrigins is empty.
var DefaultCORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// RouterOptions holds the optional parts of the router.
type RouterOptions struct {
	CORSOrigins []string
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer // nil: /metrics is not mounted
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	log := h.Logger
	if log == nil {
		log = zap.NewNop()
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = DefaultCORSOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(log))
	r.Use(jsonRecoverer(log))
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware())
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Get("/", h.Index)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.GetStatus)

		r.Route("/monitoring", func(r chi.Router) {
			r.Post("/start", h.StartMonitoring)
			r.Post("/stop", h.StopMonitoring)
		})
		r.Post("/run", h.RunNow)

		r.Get("/config", h.GetConfig)
		r.Put("/config", h.UpdateConfig)

		r.Get("/ledger", h.GetLedger)
		r.Get("/runs", h.ListRuns)
		r.Get("/meter/consumption", h.GetMeterConsumption)
	})

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}
