// ABOUTME: Prometheus collectors for tenant lifecycle, inbound messages, and gateway calls
// ABOUTME: Each Metrics owns its registry so tests and processes never collide on registration

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "botfactory"

// Metrics groups every collector exported by the process.
//
// All recording methods are safe to call on a nil *Metrics, which turns them
// into no-ops. Components accept a nil Metrics when observability is disabled.
type Metrics struct {
	registry *prometheus.Registry

	// TenantsRunning is the number of tenants currently registered as live.
	TenantsRunning prometheus.Gauge

	// TenantStarts counts start attempts.
	// Labels: result (ok|duplicate|failed)
	TenantStarts *prometheus.CounterVec

	// TenantStops counts stop attempts.
	// Labels: result (ok|not_found|timeout)
	TenantStops *prometheus.CounterVec

	// Messages counts inbound units handled by workers.
	// Labels: kind (text|start|reset|duplicate)
	Messages *prometheus.CounterVec

	// GatewayRequests counts completion calls by outcome.
	// Labels: outcome (success|timeout|http_error|transport_error|malformed)
	GatewayRequests *prometheus.CounterVec

	// GatewayDuration measures completion call latency in seconds.
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 20s, 30s
	GatewayDuration prometheus.Histogram
}

// New creates a Metrics instance backed by a fresh registry that also carries
// the standard Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TenantsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tenants_running",
			Help:      "Number of tenant workers currently running.",
		}),
		TenantStarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_starts_total",
			Help:      "Tenant start attempts by result.",
		}, []string{"result"}),
		TenantStops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_stops_total",
			Help:      "Tenant stop attempts by result.",
		}, []string{"result"}),
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound units handled by tenant workers, by kind.",
		}, []string{"kind"}),
		GatewayRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Completion gateway calls by outcome.",
		}, []string{"outcome"}),
		GatewayDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Completion gateway call latency.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// TenantStarted records a start attempt and adjusts the running gauge on success.
func (m *Metrics) TenantStarted(result string) {
	if m == nil {
		return
	}
	m.TenantStarts.WithLabelValues(result).Inc()
	if result == "ok" {
		m.TenantsRunning.Inc()
	}
}

// TenantStopped records a stop attempt and adjusts the running gauge when a
// tenant was actually removed.
func (m *Metrics) TenantStopped(result string, removed bool) {
	if m == nil {
		return
	}
	m.TenantStops.WithLabelValues(result).Inc()
	if removed {
		m.TenantsRunning.Dec()
	}
}

// MessageHandled records an inbound unit of the given kind.
func (m *Metrics) MessageHandled(kind string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(kind).Inc()
}

// GatewayCall records one completion call.
func (m *Metrics) GatewayCall(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.GatewayRequests.WithLabelValues(outcome).Inc()
	m.GatewayDuration.Observe(elapsed.Seconds())
}
