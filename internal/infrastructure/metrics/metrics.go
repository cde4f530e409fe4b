// Package metrics provides Prometheus metrics for the livechat-api service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"livechat-api/internal/domain/hub"
	"livechat-api/internal/domain/sla"
)

var (
	// ActiveConnections tracks open operator websockets on this process.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livechat_ws_active_connections",
			Help: "Number of currently open operator websocket connections",
		},
	)

	// ConnectionsTotal tracks accepted websocket connections.
	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livechat_ws_connections_total",
			Help: "Total number of authenticated operator websocket connections",
		},
	)

	// FramesReceived tracks client frames by type.
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_ws_frames_received_total",
			Help: "Total number of client frames received",
		},
		[]string{"type"},
	)

	// FramesSent tracks frames written to sockets.
	FramesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livechat_ws_frames_sent_total",
			Help: "Total number of frames written to operator sockets",
		},
	)

	// FrameErrors tracks error frames by code.
	FrameErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_ws_frame_errors_total",
			Help: "Total number of error frames sent to clients",
		},
		[]string{"code"},
	)

	// RateLimited tracks frames rejected by the per-operator limiter.
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livechat_ws_rate_limited_total",
			Help: "Total number of frames rejected by the rate limiter",
		},
	)

	// FrameDuration tracks frame handling latency.
	FrameDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "livechat_ws_frame_duration_seconds",
			Help:    "Duration of client frame handling",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"type"},
	)

	// Broadcasts tracks broadcast requests by scope.
	Broadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_broadcasts_total",
			Help: "Total number of broadcast requests",
		},
		[]string{"scope"},
	)

	// BrokerErrors tracks failed broker operations.
	BrokerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_broker_errors_total",
			Help: "Total number of failed broker operations",
		},
		[]string{"op"},
	)

	// RelaysDropped tracks relays discarded because a channel queue was full.
	RelaysDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livechat_broker_relays_dropped_total",
			Help: "Total number of broker messages dropped by a full dispatch queue",
		},
	)

	// SLAAlerts tracks SLA breaches.
	SLAAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_sla_alerts_total",
			Help: "Total number of SLA breach alerts",
		},
		[]string{"metric", "severity"},
	)

	// SessionTransitions tracks lifecycle changes.
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_session_transitions_total",
			Help: "Total number of chat session state transitions",
		},
		[]string{"to_state"},
	)

	// HTTPRequestDuration tracks REST latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "livechat_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordFrame records one handled client frame.
func RecordFrame(frameType string, elapsed time.Duration) {
	FramesReceived.WithLabelValues(frameType).Inc()
	FrameDuration.WithLabelValues(frameType).Observe(elapsed.Seconds())
}

// RecordFrameError records an error frame sent to a client.
func RecordFrameError(code string) {
	FrameErrors.WithLabelValues(code).Inc()
}

// RecordTransition records a session state change.
func RecordTransition(toState string) {
	SessionTransitions.WithLabelValues(toState).Inc()
}

// RecordRelayDropped is the dispatcher drop hook.
func RecordRelayDropped(string) {
	RelaysDropped.Inc()
}

var (
	_ hub.Metrics  = Recorder{}
	_ sla.Recorder = Recorder{}
)

// Recorder adapts the package counters to the hub and SLA ports.
type Recorder struct{}

func (Recorder) ConnectionOpened() {
	ConnectionsTotal.Inc()
	ActiveConnections.Inc()
}

func (Recorder) ConnectionClosed() {
	ActiveConnections.Dec()
}

func (Recorder) Broadcast(scope string) {
	Broadcasts.WithLabelValues(scope).Inc()
}

func (Recorder) BrokerError(op string) {
	BrokerErrors.WithLabelValues(op).Inc()
}

func (Recorder) SLAAlert(metric, severity string) {
	SLAAlerts.WithLabelValues(metric, severity).Inc()
}

func (Recorder) SessionTransition(toState string) {
	RecordTransition(toState)
}
