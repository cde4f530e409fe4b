// Package sla evaluates response-time thresholds when a conversation changes
// lifecycle state and announces breaches.
package sla

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"livechat-api/internal/domain/conversation"
	"livechat-api/internal/domain/event"
)

// Metric names a measured interval.
type Metric string

const (
	MetricQueueWait     Metric = "queue_wait_seconds"
	MetricFirstResponse Metric = "first_response_seconds"
	MetricResolution    Metric = "resolution_seconds"
)

// Severity of a breach.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Thresholds are the maximum allowed intervals.
type Thresholds struct {
	QueueWait     time.Duration
	FirstResponse time.Duration
	Resolution    time.Duration
}

// DefaultThresholds returns the out-of-the-box limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		QueueWait:     300 * time.Second,
		FirstResponse: 120 * time.Second,
		Resolution:    3600 * time.Second,
	}
}

// Alert is one breach.
type Alert struct {
	Metric           Metric
	ValueSeconds     float64
	ThresholdSeconds float64
	UserID           string
	SessionID        uint
	Severity         Severity
	Message          string
	At               time.Time
}

// Payload renders the alert for sla_alert frames.
func (a Alert) Payload() event.SLAAlertPayload {
	return event.SLAAlertPayload{
		Metric:           string(a.Metric),
		ValueSeconds:     a.ValueSeconds,
		ThresholdSeconds: a.ThresholdSeconds,
		UserID:           a.UserID,
		SessionID:        a.SessionID,
		Severity:         string(a.Severity),
		Message:          a.Message,
	}
}

// Broadcaster delivers frames to every operator.
type Broadcaster interface {
	BroadcastToAll(ctx context.Context, env event.Envelope, excludeOperator string) int
}

// Notifier forwards alerts to an out-of-band channel such as a chat group.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Recorder counts alerts; see infrastructure/metrics.
type Recorder interface {
	SLAAlert(metric string, severity string)
}

// DefaultNotifyTimeout bounds one out-of-band notification.
const DefaultNotifyTimeout = 10 * time.Second

// Monitor checks thresholds on lifecycle transitions. Each hook evaluates
// once and never retries.
type Monitor struct {
	thresholds    Thresholds
	broadcaster   Broadcaster
	notifier      Notifier
	notifyTimeout time.Duration
	recorder      Recorder
	now           func() time.Time
	log           zerolog.Logger

	pending sync.WaitGroup
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithNotifier forwards alerts to n in addition to the broadcast.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

// WithNotifyTimeout overrides DefaultNotifyTimeout.
func WithNotifyTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.notifyTimeout = d
		}
	}
}

// WithRecorder counts alerts.
func WithRecorder(r Recorder) Option {
	return func(m *Monitor) { m.recorder = r }
}

// WithClock overrides the time source used for alert timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a Monitor.
func NewMonitor(thresholds Thresholds, broadcaster Broadcaster, log zerolog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		thresholds:    thresholds,
		broadcaster:   broadcaster,
		notifyTimeout: DefaultNotifyTimeout,
		now:           time.Now,
		log:           log.With().Str("component", "sla-monitor").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Thresholds returns the configured limits.
func (m *Monitor) Thresholds() Thresholds {
	return m.thresholds
}

// OnClaimed checks queue wait: claimed minus started.
func (m *Monitor) OnClaimed(ctx context.Context, s *conversation.Session) *Alert {
	if s == nil || s.ClaimedAt == nil || s.StartedAt.IsZero() {
		return nil
	}
	return m.check(ctx, MetricQueueWait, s.ClaimedAt.Sub(s.StartedAt), m.thresholds.QueueWait, s)
}

// OnFirstResponse checks first response time: first response minus claimed.
func (m *Monitor) OnFirstResponse(ctx context.Context, s *conversation.Session) *Alert {
	if s == nil || s.ClaimedAt == nil || s.FirstResponseAt == nil {
		return nil
	}
	return m.check(ctx, MetricFirstResponse, s.FirstResponseAt.Sub(*s.ClaimedAt), m.thresholds.FirstResponse, s)
}

// OnClosed checks resolution time: closed minus started.
func (m *Monitor) OnClosed(ctx context.Context, s *conversation.Session) *Alert {
	if s == nil || s.ClosedAt == nil || s.StartedAt.IsZero() {
		return nil
	}
	return m.check(ctx, MetricResolution, s.ClosedAt.Sub(s.StartedAt), m.thresholds.Resolution, s)
}

func (m *Monitor) check(ctx context.Context, metric Metric, elapsed, limit time.Duration, s *conversation.Session) *Alert {
	alert, ok := Evaluate(metric, elapsed, limit)
	if !ok {
		return nil
	}
	alert.UserID = s.UserID
	alert.SessionID = s.ID
	alert.At = m.now()

	m.log.Warn().
		Str("metric", string(metric)).
		Float64("value_seconds", alert.ValueSeconds).
		Float64("threshold_seconds", alert.ThresholdSeconds).
		Str("severity", string(alert.Severity)).
		Str("user_id", s.UserID).
		Uint("session_id", s.ID).
		Msg(alert.Message)

	if m.recorder != nil {
		m.recorder.SLAAlert(string(metric), string(alert.Severity))
	}
	if m.broadcaster != nil {
		m.broadcaster.BroadcastToAll(ctx, event.Must(event.TypeSLAAlert, alert.Payload(), alert.At), "")
	}
	if m.notifier != nil {
		m.notify(ctx, alert)
	}
	return &alert
}

// notify forwards alert in the background. The send outlives the caller's
// request but not notifyTimeout.
func (m *Monitor) notify(ctx context.Context, alert Alert) {
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.notifyTimeout)
		defer cancel()
		if err := m.notifier.Notify(ctx, alert); err != nil {
			m.log.Warn().Err(err).Str("metric", string(alert.Metric)).Msg("sla notifier failed")
		}
	}()
}

// Wait blocks until every notification in flight has finished.
func (m *Monitor) Wait() {
	m.pending.Wait()
}

// Evaluate compares elapsed against limit. It reports a breach only when
// elapsed is strictly greater; a breach of at least twice the limit is critical.
func Evaluate(metric Metric, elapsed, limit time.Duration) (Alert, bool) {
	if limit <= 0 || elapsed <= limit {
		return Alert{}, false
	}
	value := elapsed.Seconds()
	threshold := limit.Seconds()
	severity := SeverityWarning
	if value >= 2*threshold {
		severity = SeverityCritical
	}
	return Alert{
		Metric:           metric,
		ValueSeconds:     math.Round(value*10) / 10,
		ThresholdSeconds: threshold,
		Severity:         severity,
		Message:          fmt.Sprintf("SLA breach: %s %.1fs > %ss", metric, value, strconv.FormatFloat(threshold, 'f', -1, 64)),
	}, true
}
