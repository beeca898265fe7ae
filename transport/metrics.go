package transport

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the ingest counters, registered on a private registry
// so tests can run servers side by side without collisions.
type Metrics struct {
	registry *prometheus.Registry

	ConnsAccepted    prometheus.Counter
	ConnsRejected    prometheus.Counter
	ActiveSessions   prometheus.Gauge
	PointsCommitted  prometheus.Counter
	FramingErrors    prometheus.Counter
	ValidationErrors prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ConnsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stela_connections_accepted_total",
			Help: "Connections admitted to a session.",
		}),
		ConnsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stela_connections_rejected_total",
			Help: "Connections refused by the admission gate.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stela_active_sessions",
			Help: "Sessions currently running.",
		}),
		PointsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stela_points_committed_total",
			Help: "Data points accepted and written to storage.",
		}),
		FramingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stela_framing_errors_total",
			Help: "Writes rejected for malformed line structure.",
		}),
		ValidationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stela_validation_errors_total",
			Help: "Writes rejected for an invalid series identifier.",
		}),
	}

	m.registry.MustRegister(
		m.ConnsAccepted,
		m.ConnsRejected,
		m.ActiveSessions,
		m.PointsCommitted,
		m.FramingErrors,
		m.ValidationErrors,
	)

	return m
}

// Registry exposes the private registry for the HTTP metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
