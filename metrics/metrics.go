// Package metrics exposes Prometheus collectors for daily checks, the
// scheduler and the HTTP control surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mhrishan/desco-monitor/monitor"
)

const namespace = "desco_monitor"

// Metrics bundles the monitor's collectors. It implements monitor.Observer.
type Metrics struct {
	ChecksTotal      *prometheus.CounterVec
	CheckDuration    prometheus.Histogram
	SkippedTotal     prometheus.Counter
	LastBalance      prometheus.Gauge
	LastConsumption  prometheus.Gauge
	LastSuccess      prometheus.Gauge
	SchedulerActive  prometheus.Gauge
	HTTPRequests     *prometheus.CounterVec
	HTTPRequestTimes *prometheus.HistogramVec
}

// New constructs the collectors and registers them with reg. A nil reg
// uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checks_total",
				Help:      "Daily checks by final state and trigger",
			},
			[]string{"state", "trigger"},
		),
		CheckDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Daily check duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		SkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_skipped_total",
			Help:      "Checks that found the target date already recorded",
		}),
		LastBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance_bdt",
			Help:      "Most recently fetched prepaid balance in BDT",
		}),
		LastConsumption: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_consumption_bdt",
			Help:      "Most recently computed daily consumption in BDT",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful check",
		}),
		SchedulerActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_active",
			Help:      "1 when the daily scheduler is running",
		}),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestTimes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 90},
			},
			[]string{"method", "path", "status"},
		),
	}
	reg.MustRegister(
		m.ChecksTotal,
		m.CheckDuration,
		m.SkippedTotal,
		m.LastBalance,
		m.LastConsumption,
		m.LastSuccess,
		m.SchedulerActive,
		m.HTTPRequests,
		m.HTTPRequestTimes,
	)
	return m
}

// ObserveRun records one finished check.
func (m *Metrics) ObserveRun(s monitor.RunStatus, elapsed time.Duration) {
	m.ChecksTotal.WithLabelValues(string(s.State), string(s.Trigger)).Inc()
	m.CheckDuration.Observe(elapsed.Seconds())
	if s.Skipped {
		m.SkippedTotal.Inc()
	}
	if s.LastBalance.Valid {
		m.LastBalance.Set(s.LastBalance.Decimal.InexactFloat64())
	}
	if s.LastConsumption.Valid {
		m.LastConsumption.Set(s.LastConsumption.Decimal.InexactFloat64())
	}
	if s.State == monitor.StateSuccess {
		m.LastSuccess.Set(float64(s.LastRun.Unix()))
	}
}

// ObserveScheduler records scheduler start and stop.
func (m *Metrics) ObserveScheduler(active bool) {
	if active {
		m.SchedulerActive.Set(1)
		return
	}
	m.SchedulerActive.Set(0)
}

// Middleware records HTTP request duration and count.
func (m *Metrics) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			status := strconv.Itoa(ww.status)
			path := "unknown"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				path = rc.RoutePattern()
			}

			m.HTTPRequestTimes.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
			m.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		})
	}
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}
