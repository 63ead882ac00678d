// Package metrics exposes the wallet counters on a dedicated registry.
// All methods are safe on a nil *Metrics so components can run without it.
package metrics

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "walletbot"

// Metrics groups the application collectors.
type Metrics struct {
	registry *prometheus.Registry

	updates    *prometheus.CounterVec
	callbacks  *prometheus.CounterVec
	reconciled *prometheus.CounterVec
	credited   *prometheus.CounterVec
	webhooks   *prometheus.CounterVec
	broadcasts *prometheus.CounterVec
	invoices   *prometheus.CounterVec
}

// New creates the collectors and registers them together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Inbound chat events by kind and reply result.",
		}, []string{"kind", "result"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Routed callbacks by action kind.",
		}, []string{"action"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "reconciled_total",
			Help:      "Payment events by provider and reconciliation outcome.",
		}, []string{"provider", "outcome"}),
		credited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "credited_amount_total",
			Help:      "Sum of credited amounts in the ledger currency.",
		}, []string{"provider"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "webhooks_total",
			Help:      "Payment provider webhook deliveries by response status word.",
		}, []string{"status"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "deliveries_total",
			Help:      "Broadcast deliveries by result.",
		}, []string{"result"}),
		invoices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "invoices_total",
			Help:      "Invoice creation attempts by provider and result.",
		}, []string{"provider", "result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.updates, m.callbacks, m.reconciled, m.credited, m.webhooks, m.broadcasts, m.invoices,
	)
	return m
}

// RegisterDB exports connection pool statistics for db.
func (m *Metrics) RegisterDB(db *sql.DB, name string) {
	if m == nil || db == nil {
		return
	}
	m.registry.MustRegister(collectors.NewDBStatsCollector(db, name))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// Update counts one inbound chat event.
func (m *Metrics) Update(kind, result string) {
	if m != nil {
		m.updates.WithLabelValues(kind, result).Inc()
	}
}

// Callback counts one routed callback.
func (m *Metrics) Callback(action string) {
	if m != nil {
		m.callbacks.WithLabelValues(action).Inc()
	}
}

// Reconciled counts one reconciliation outcome; amount is added to the
// credited total when positive.
func (m *Metrics) Reconciled(provider, outcome string, amount float64) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(provider, outcome).Inc()
	if amount > 0 {
		m.credited.WithLabelValues(provider).Add(amount)
	}
}

// Webhook counts one webhook response.
func (m *Metrics) Webhook(status string) {
	if m != nil {
		m.webhooks.WithLabelValues(status).Inc()
	}
}

// Broadcast adds delivery results of one broadcast.
func (m *Metrics) Broadcast(succeeded, failed int) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues("delivered").Add(float64(succeeded))
	m.broadcasts.WithLabelValues("failed").Add(float64(failed))
}

// Invoice counts one invoice creation attempt.
func (m *Metrics) Invoice(provider, result string) {
	if m != nil {
		m.invoices.WithLabelValues(provider, result).Inc()
	}
}
