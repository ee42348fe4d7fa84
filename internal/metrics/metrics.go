package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"liveclass/pkg/types"
)

const namespace = "liveclass"

// Metrics owns the relay's collectors and the registry they live in. All
// methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	connections      prometheus.Gauge
	rooms            prometheus.Gauge
	liveSessions     prometheus.Gauge
	routed           *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	rejected         *prometheus.CounterVec
	transitions      *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms with at least one member or an active session.",
		}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Rooms currently in the LIVE state.",
		}),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_routed_total",
			Help:      "Envelopes accepted for routing, by type.",
		}, []string{"type"}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Per-recipient deliveries that could not be queued, by type.",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_rejected_total",
			Help:      "Envelopes answered with an error, by error code.",
		}, []string{"code"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state changes, by target state.",
		}, []string{"to"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections,
		m.rooms,
		m.liveSessions,
		m.routed,
		m.deliveryFailures,
		m.rejected,
		m.transitions,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

func (m *Metrics) EnvelopeRouted(t types.Type) {
	if m == nil {
		return
	}
	m.routed.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) DeliveryFailed(t types.Type) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) EnvelopeRejected(code string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(code).Inc()
}

// SessionTransition counts a state change and keeps the live gauge in step.
func (m *Metrics) SessionTransition(from, to types.SessionState) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(to)).Inc()
	if to == types.StateLive && from != types.StateLive {
		m.liveSessions.Inc()
	}
	if from == types.StateLive && to != types.StateLive {
		m.liveSessions.Dec()
	}
}
