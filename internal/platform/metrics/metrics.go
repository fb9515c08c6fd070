package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DoyleJ11/jamsync/internal/engine"
)

// Metrics holds the Prometheus collectors for the jam server. It implements
// jam.Observer so every session reports into it.
type Metrics struct {
	registry           *prometheus.Registry
	requestsTotal      prometheus.Counter
	errorsTotal        prometheus.Counter
	commandsApplied    *prometheus.CounterVec
	commandsRejected   *prometheus.CounterVec
	subscribersDropped prometheus.Counter
	sessionsEnded      *prometheus.CounterVec
	activeSessions     prometheus.Gauge
	connections        prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jam_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jam_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		commandsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jam_commands_applied_total",
			Help: "Session commands accepted by the authority",
		}, []string{"command"}),
		commandsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jam_commands_rejected_total",
			Help: "Session commands rejected by the authority",
		}, []string{"command", "code"}),
		subscribersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jam_subscribers_dropped_total",
			Help: "Connections dropped because their broadcast buffer was full",
		}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jam_sessions_ended_total",
			Help: "Sessions terminated, by reason",
		}, []string{"reason"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jam_active_sessions",
			Help: "Number of sessions currently running",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jam_ws_connections",
			Help: "Open websocket connections",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.commandsApplied,
		m.commandsRejected,
		m.subscribersDropped,
		m.sessionsEnded,
		m.activeSessions,
		m.connections,
	)
	return m
}

func (m *Metrics) IncRequests() { m.requestsTotal.Inc() }
func (m *Metrics) IncErrors()   { m.errorsTotal.Inc() }

func (m *Metrics) CommandApplied(cmd engine.CommandType) {
	m.commandsApplied.WithLabelValues(string(cmd)).Inc()
}

func (m *Metrics) CommandRejected(cmd engine.CommandType, code string) {
	m.commandsRejected.WithLabelValues(string(cmd), code).Inc()
}

func (m *Metrics) SubscriberDropped() { m.subscribersDropped.Inc() }

func (m *Metrics) SessionEnded(reason string) {
	m.sessionsEnded.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetActiveSessions(n int) { m.activeSessions.Set(float64(n)) }

func (m *Metrics) ConnOpened() { m.connections.Inc() }
func (m *Metrics) ConnClosed() { m.connections.Dec() }

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry. updateGauges is called before each scrape to
// refresh gauge values such as the active session count.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
