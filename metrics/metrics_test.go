package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/mhrishan/desco-monitor/ledger"
	"github.com/mhrishan/desco-monitor/monitor"
)

func TestObserveRun(t *testing.T) {
	m := New(prometheus.NewRegistry())
	lastRun := time.Date(2025, time.January, 11, 11, 50, 0, 0, time.UTC)

	m.ObserveRun(monitor.RunStatus{
		State:           monitor.StateSuccess,
		Trigger:         ledger.TriggerSchedule,
		LastRun:         lastRun,
		LastBalance:     decimal.NewNullDecimal(decimal.RequireFromString("70.20")),
		LastConsumption: decimal.NewNullDecimal(decimal.RequireFromString("17.50")),
	}, 2*time.Second)
	m.ObserveRun(monitor.RunStatus{
		State:   monitor.StateFetchFailed,
		Trigger: ledger.TriggerManual,
	}, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChecksTotal.WithLabelValues("Success", "schedule")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChecksTotal.WithLabelValues("Failed to fetch balance", "manual")))
	assert.Equal(t, 70.2, testutil.ToFloat64(m.LastBalance))
	assert.Equal(t, 17.5, testutil.ToFloat64(m.LastConsumption))
	assert.Equal(t, float64(lastRun.Unix()), testutil.ToFloat64(m.LastSuccess))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SkippedTotal))
}

func TestObserveScheduler(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveScheduler(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchedulerActive))
	m.ObserveScheduler(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SchedulerActive))
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	m := New(prometheus.NewRegistry())
	r := chi.NewRouter()
	r.Use(m.Middleware())
	r.Get("/api/status", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/status", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/status", "418")))
}
