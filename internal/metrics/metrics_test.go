package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.WebhookDelivery("bank", "accepted")
		m.ReconciliationOutcome("APPLIED")
		m.LockAcquisition("TRANSACTION", "acquired")
		m.LocksReapedAdd(3)
		m.AlertEmitted("X")
		m.QueueDepth(1)
	})
}

func TestCountersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg, reg)

	m.ReconciliationOutcome("APPLIED")
	m.ReconciliationOutcome("APPLIED")
	m.LocksReapedAdd(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReconciliationOutcomes.WithLabelValues("APPLIED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LocksReaped))
}

func TestHTTPMiddlewareUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg, reg)

	r := chi.NewRouter()
	r.Use(m.HTTPMiddleware)
	r.Get("/transactions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", m.Handler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/transactions/abc", nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `route="/transactions/{id}"`))
	assert.True(t, strings.Contains(body, `status="418"`))
}
