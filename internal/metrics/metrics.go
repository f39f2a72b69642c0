// Package metrics holds the Prometheus collectors for ingestion, reconciliation and
// locking. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry prometheus.Gatherer

	WebhookDeliveries      *prometheus.CounterVec
	ReconciliationOutcomes *prometheus.CounterVec
	LockAcquisitions       *prometheus.CounterVec
	LocksReaped            prometheus.Counter
	AlertsEmitted          *prometheus.CounterVec
	WorkerQueueDepth       prometheus.Gauge
	httpLatency            *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegisterer(registry, registry)
}

// NewWithRegisterer registers collectors on reg and serves gatherer from Handler.
func NewWithRegisterer(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		registry: gatherer,
		WebhookDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_webhook_deliveries_total",
				Help: "Webhook deliveries by vendor and ingestion result.",
			},
			[]string{"vendor", "result"},
		),
		ReconciliationOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_reconciliation_outcomes_total",
				Help: "Reconciliation outcomes by kind.",
			},
			[]string{"outcome"},
		),
		LockAcquisitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_lock_acquisitions_total",
				Help: "Lock acquisition attempts by object type and result.",
			},
			[]string{"object_type", "result"},
		),
		LocksReaped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "settlement_locks_reaped_total",
				Help: "Locks deleted by the reaper after their lease expired.",
			},
		),
		AlertsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_alerts_emitted_total",
				Help: "Operator alerts by key.",
			},
			[]string{"key"},
		),
		WorkerQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "settlement_worker_queue_depth",
				Help: "Current inline dispatcher queue depth.",
			},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "settlement_http_request_duration_seconds",
				Help:    "Latency of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
	reg.MustRegister(
		m.WebhookDeliveries,
		m.ReconciliationOutcomes,
		m.LockAcquisitions,
		m.LocksReaped,
		m.AlertsEmitted,
		m.WorkerQueueDepth,
		m.httpLatency,
	)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) WebhookDelivery(vendor, result string) {
	if m == nil {
		return
	}
	m.WebhookDeliveries.WithLabelValues(vendor, result).Inc()
}

func (m *Metrics) ReconciliationOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ReconciliationOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LockAcquisition(objectType, result string) {
	if m == nil {
		return
	}
	m.LockAcquisitions.WithLabelValues(objectType, result).Inc()
}

func (m *Metrics) LocksReapedAdd(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.LocksReaped.Add(float64(n))
}

func (m *Metrics) AlertEmitted(key string) {
	if m == nil {
		return
	}
	m.AlertsEmitted.WithLabelValues(key).Inc()
}

func (m *Metrics) QueueDepth(depth int) {
	if m == nil {
		return
	}
	m.WorkerQueueDepth.Set(float64(depth))
}
