package graphql

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Label values for the requests counter.
const (
	transportHTTP = "http"
	transportWS   = "websocket"

	outcomeOK       = "ok"
	outcomeError    = "error"
	outcomeRejected = "rejected"
)

// Metrics contains the gateway's operational metrics.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	ActiveConnections   prometheus.Gauge
	ActiveSubscriptions prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics set backed by its own registry, including
// the Go runtime collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "libraria",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total number of GraphQL operations by transport and outcome",
			},
			[]string{"transport", "outcome"},
		),
		ActiveConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "libraria",
				Subsystem: "gateway",
				Name:      "active_connections",
				Help:      "Number of open subscription connections",
			},
		),
		ActiveSubscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "libraria",
				Subsystem: "gateway",
				Name:      "active_subscriptions",
				Help:      "Number of in-flight subscription operations",
			},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.RequestsTotal,
		m.ActiveConnections,
		m.ActiveSubscriptions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveRequest records one completed or rejected operation.
func (m *Metrics) ObserveRequest(transport, outcome string) {
	m.RequestsTotal.WithLabelValues(transport, outcome).Inc()
}

// ConnectionOpened records a new subscription connection.
func (m *Metrics) ConnectionOpened() {
	m.ActiveConnections.Inc()
}

// ConnectionClosed records a subscription connection teardown.
func (m *Metrics) ConnectionClosed() {
	m.ActiveConnections.Dec()
}

// SubscriptionStarted records a new in-flight subscription operation.
func (m *Metrics) SubscriptionStarted() {
	m.ActiveSubscriptions.Inc()
}

// SubscriptionEnded records a subscription operation teardown.
func (m *Metrics) SubscriptionEnded() {
	m.ActiveSubscriptions.Dec()
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
