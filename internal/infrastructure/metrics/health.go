package metrics

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Health states reported by WSHealth.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const maxLatencySamples = 1000

// WSHealth keeps in-process websocket counters for the /healthz/ws report.
type WSHealth struct {
	mu            sync.Mutex
	started       time.Time
	total         int64
	active        int64
	peak          int64
	sent          int64
	received      int64
	errors        int64
	latencies     []float64 // ring buffer, milliseconds
	next          int
	latencySum    float64
	peakLatencyMS float64
	now           func() time.Time
}

// NewWSHealth creates a monitor whose uptime starts now.
func NewWSHealth() *WSHealth {
	return &WSHealth{started: time.Now(), now: time.Now, latencies: make([]float64, 0, maxLatencySamples)}
}

// ConnectionOpened records an authenticated connection.
func (h *WSHealth) ConnectionOpened() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total++
	h.active++
	if h.active > h.peak {
		h.peak = h.active
	}
}

// ConnectionClosed records a disconnect.
func (h *WSHealth) ConnectionClosed() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active > 0 {
		h.active--
	}
}

// MessageReceived records one client frame.
func (h *WSHealth) MessageReceived() {
	h.mu.Lock()
	h.received++
	h.mu.Unlock()
}

// MessageSent records one server frame and, when latency is positive, its
// handling latency.
func (h *WSHealth) MessageSent(latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent++
	if latency <= 0 {
		return
	}
	ms := float64(latency) / float64(time.Millisecond)
	if len(h.latencies) < maxLatencySamples {
		h.latencies = append(h.latencies, ms)
	} else {
		h.latencySum -= h.latencies[h.next]
		h.latencies[h.next] = ms
		h.next = (h.next + 1) % maxLatencySamples
	}
	h.latencySum += ms
	if ms > h.peakLatencyMS {
		h.peakLatencyMS = ms
	}
}

// Error records a failed frame or socket error.
func (h *WSHealth) Error() {
	h.mu.Lock()
	h.errors++
	h.mu.Unlock()
}

// HealthMetrics is the counter section of a HealthReport.
type HealthMetrics struct {
	ActiveConnections int64   `json:"active_connections"`
	PeakConnections   int64   `json:"peak_connections"`
	TotalConnections  int64   `json:"total_connections"`
	Operators         int     `json:"operators"`
	Rooms             int     `json:"rooms"`
	MessagesSent      int64   `json:"messages_sent"`
	MessagesReceived  int64   `json:"messages_received"`
	TotalMessages     int64   `json:"total_messages"`
	Errors            int64   `json:"errors"`
	ErrorRate         float64 `json:"error_rate"`
	AvgLatencyMS      float64 `json:"avg_latency_ms"`
	PeakLatencyMS     float64 `json:"peak_latency_ms"`
}

// HealthReport is the /healthz/ws body.
type HealthReport struct {
	Status          string        `json:"status"`
	Issues          []string      `json:"issues"`
	Timestamp       string        `json:"timestamp"`
	UptimeSeconds   float64       `json:"uptime_seconds"`
	ServerID        string        `json:"server_id"`
	BrokerConnected bool          `json:"broker_connected"`
	Metrics         HealthMetrics `json:"metrics"`
}

// Topology is the registry view folded into a report.
type Topology struct {
	ServerID  string
	Operators int
	Rooms     int
}

// Report builds the health view. ping checks the broker; a failing ping
// makes the process unhealthy because cross-process delivery is down.
func (h *WSHealth) Report(ctx context.Context, topo Topology, ping func(context.Context) error) HealthReport {
	h.mu.Lock()
	m := HealthMetrics{
		ActiveConnections: h.active,
		PeakConnections:   h.peak,
		TotalConnections:  h.total,
		Operators:         topo.Operators,
		Rooms:             topo.Rooms,
		MessagesSent:      h.sent,
		MessagesReceived:  h.received,
		TotalMessages:     h.sent + h.received,
		Errors:            h.errors,
		PeakLatencyMS:     round(h.peakLatencyMS, 2),
	}
	if len(h.latencies) > 0 {
		m.AvgLatencyMS = round(h.latencySum/float64(len(h.latencies)), 2)
	}
	now := h.now()
	uptime := now.Sub(h.started).Seconds()
	h.mu.Unlock()

	if m.TotalMessages > 0 {
		m.ErrorRate = round(float64(m.Errors)/float64(m.TotalMessages), 4)
	}

	report := HealthReport{
		Status:          StatusHealthy,
		Issues:          []string{},
		Timestamp:       now.UTC().Format(time.RFC3339),
		UptimeSeconds:   math.Round(uptime),
		ServerID:        topo.ServerID,
		BrokerConnected: true,
		Metrics:         m,
	}

	// only a broker ping failure makes the process unhealthy
	switch {
	case m.ErrorRate > 0.10:
		report.Status = StatusDegraded
		report.Issues = append(report.Issues, fmt.Sprintf("High error rate: %.2f%%", m.ErrorRate*100))
	case m.ErrorRate > 0.05:
		report.Status = StatusDegraded
		report.Issues = append(report.Issues, fmt.Sprintf("Elevated error rate: %.2f%%", m.ErrorRate*100))
	}
	if m.AvgLatencyMS > 1000 {
		if report.Status == StatusHealthy {
			report.Status = StatusDegraded
		}
		report.Issues = append(report.Issues, fmt.Sprintf("High latency: %.0fms", m.AvgLatencyMS))
	}
	if ping != nil {
		if err := ping(ctx); err != nil {
			report.BrokerConnected = false
			report.Status = StatusUnhealthy
			report.Issues = append(report.Issues, "Broker disconnected")
		}
	}
	return report
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
