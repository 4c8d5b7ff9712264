package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the agent's self-instrumentation, registered on a
// dedicated registry so tests can run side by side.
type Metrics struct {
	registry *prometheus.Registry

	ProbesTotal      *prometheus.CounterVec
	ProbeErrorsTotal *prometheus.CounterVec
	ProbeLatency     *prometheus.GaugeVec
	HealthState      *prometheus.GaugeVec
	AnomaliesTotal   *prometheus.CounterVec
	AnomalyScore     *prometheus.GaugeVec
	FailoversTotal   *prometheus.CounterVec
	AlertsTotal      *prometheus.CounterVec
}

// New creates and registers the agent metric set
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redisguard_probes_total",
			Help: "Number of Redis probes performed",
		}, []string{"instance", "datacenter"}),
		ProbeErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redisguard_probe_errors_total",
			Help: "Number of failed Redis probes",
		}, []string{"instance", "datacenter"}),
		ProbeLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "redisguard_probe_latency_ms",
			Help: "Latency of the most recent probe in milliseconds",
		}, []string{"instance", "datacenter"}),
		HealthState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "redisguard_health_state",
			Help: "Health state of an endpoint (0 unknown, 1 healthy, 2 degraded, 3 failing, 4 failed)",
		}, []string{"instance", "datacenter"}),
		AnomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redisguard_anomalies_total",
			Help: "Number of anomalous samples flagged by the detector",
		}, []string{"instance", "datacenter"}),
		AnomalyScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "redisguard_anomaly_score",
			Help: "Anomaly score of the most recent sample",
		}, []string{"instance", "datacenter"}),
		FailoversTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redisguard_failovers_total",
			Help: "Number of failovers executed",
		}, []string{"instance", "result"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redisguard_alerts_total",
			Help: "Number of alerts dispatched to channels",
		}, []string{"type", "severity"}),
	}

	registry.MustRegister(
		m.ProbesTotal,
		m.ProbeErrorsTotal,
		m.ProbeLatency,
		m.HealthState,
		m.AnomaliesTotal,
		m.AnomalyScore,
		m.FailoversTotal,
		m.AlertsTotal,
	)

	return m
}

// Handler returns the /metrics HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
