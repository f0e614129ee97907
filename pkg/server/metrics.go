package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors. Each server instance
// carries its own registry so tests can spin up servers side by side
// without collector collisions.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions  prometheus.Gauge
	sessionsCreated prometheus.Counter
	sessionsClosed  prometheus.Counter
	framesReceived  *prometheus.CounterVec
	framesSent      prometheus.Counter
	broadcastsSent  prometheus.Counter
	decodeErrors    prometheus.Counter
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatd_active_sessions",
			Help: "Number of currently connected sessions",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatd_sessions_created_total",
			Help: "Total sessions accepted since startup",
		}),
		sessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatd_sessions_closed_total",
			Help: "Total sessions closed since startup",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatd_frames_received_total",
			Help: "Request frames received, by command",
		}, []string{"command"}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatd_frames_sent_total",
			Help: "Response frames sent",
		}),
		broadcastsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatd_broadcasts_sent_total",
			Help: "Unsolicited frames fanned out to other sessions",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatd_decode_errors_total",
			Help: "Inbound frames that failed to decode",
		}),
	}

	m.registry.MustRegister(
		m.activeSessions,
		m.sessionsCreated,
		m.sessionsClosed,
		m.framesReceived,
		m.framesSent,
		m.broadcastsSent,
		m.decodeErrors,
	)

	return m
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordActiveSessions sets the active session gauge.
func (m *Metrics) RecordActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

// RecordSessionCreated increments the accepted-session counter.
func (m *Metrics) RecordSessionCreated() {
	m.sessionsCreated.Inc()
}

// RecordSessionClosed increments the closed-session counter.
func (m *Metrics) RecordSessionClosed() {
	m.sessionsClosed.Inc()
}

// RecordFrameReceived counts one inbound request frame.
func (m *Metrics) RecordFrameReceived(command string) {
	m.framesReceived.WithLabelValues(command).Inc()
}

// RecordFrameSent counts one outbound response frame.
func (m *Metrics) RecordFrameSent() {
	m.framesSent.Inc()
}

// RecordBroadcast counts one fanned-out frame.
func (m *Metrics) RecordBroadcast() {
	m.broadcastsSent.Inc()
}

// RecordDecodeError counts one undecodable inbound frame.
func (m *Metrics) RecordDecodeError() {
	m.decodeErrors.Inc()
}

// HealthHandler reports basic liveness for load balancers and monitoring.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startTime).Seconds()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","uptime_seconds":%.0f,"sessions":%d,"channels":%d}`,
		uptime, s.sessions.Count(), s.channels.Count())
}
