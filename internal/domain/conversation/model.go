// Package conversation defines the live-chat session lifecycle and the
// collaborator ports the broadcaster relies on: the lifecycle and message
// store, the audit trail and the outbound delivery channel.
package conversation

import (
	"math"
	"time"

	"livechat-api/internal/domain/event"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusWaiting Status = "WAITING"
	StatusActive  Status = "ACTIVE"
	StatusClosed  Status = "CLOSED"
)

// ClosedBy records who ended a session.
type ClosedBy string

const (
	ClosedByOperator      ClosedBy = "OPERATOR"
	ClosedBySystem        ClosedBy = "SYSTEM"
	ClosedByUser          ClosedBy = "USER"
	ClosedBySystemTimeout ClosedBy = "SYSTEM_TIMEOUT"
)

// Direction of a message relative to the end-user.
type Direction string

const (
	DirectionIncoming Direction = "INCOMING"
	DirectionOutgoing Direction = "OUTGOING"
)

// SenderRole identifies who authored a message.
type SenderRole string

const (
	SenderUser  SenderRole = "USER"
	SenderAdmin SenderRole = "ADMIN"
	SenderBot   SenderRole = "BOT"
)

// Session is one human-handoff episode for an end-user.
type Session struct {
	ID              uint
	UserID          string
	OperatorID      string
	Status          Status
	StartedAt       time.Time
	ClaimedAt       *time.Time
	FirstResponseAt *time.Time
	ClosedAt        *time.Time
	ClosedBy        ClosedBy
	MessageCount    int
	TransferCount   int
	LastActivityAt  time.Time
}

// Open reports whether the session is waiting or active.
func (s *Session) Open() bool {
	return s.Status == StatusWaiting || s.Status == StatusActive
}

// View renders the session for websocket frames.
func (s *Session) View() *event.SessionView {
	if s == nil {
		return nil
	}
	v := &event.SessionView{
		ID:           s.ID,
		Status:       string(s.Status),
		OperatorID:   s.OperatorID,
		StartedAt:    event.FormatTime(s.StartedAt),
		ClosedBy:     string(s.ClosedBy),
		MessageCount: s.MessageCount,
	}
	if s.ClaimedAt != nil {
		v.ClaimedAt = event.FormatTime(*s.ClaimedAt)
	}
	if s.FirstResponseAt != nil {
		v.FirstResponseAt = event.FormatTime(*s.FirstResponseAt)
	}
	if s.ClosedAt != nil {
		v.ClosedAt = event.FormatTime(*s.ClosedAt)
	}
	return v
}

// Message is one chat message in a conversation.
type Message struct {
	ID          string
	UserID      string
	Direction   Direction
	MessageType string
	Content     string
	SenderRole  SenderRole
	OperatorID  string
	CreatedAt   time.Time
}

// Payload renders the message for websocket frames.
func (m *Message) Payload() event.MessagePayload {
	return event.MessagePayload{
		ID:          m.ID,
		UserID:      m.UserID,
		Direction:   string(m.Direction),
		Content:     m.Content,
		MessageType: m.MessageType,
		SenderRole:  string(m.SenderRole),
		OperatorID:  m.OperatorID,
		CreatedAt:   event.FormatTime(m.CreatedAt),
	}
}

// KPIs are the live dashboard figures.
type KPIs struct {
	Waiting                 int64
	Active                  int64
	AvgFirstResponseSeconds float64
	AvgResolutionSeconds    float64
}

// Payload renders the KPIs for analytics_update frames.
func (k KPIs) Payload() event.AnalyticsPayload {
	return event.AnalyticsPayload{
		Waiting:                 k.Waiting,
		Active:                  k.Active,
		AvgFirstResponseSeconds: k.AvgFirstResponseSeconds,
		AvgResolutionSeconds:    k.AvgResolutionSeconds,
	}
}

// FirstResponseWindow bounds the sessions averaged into AvgFirstResponseSeconds.
const FirstResponseWindow = time.Hour

// ComputeKPIs derives the dashboard averages from candidate sessions.
// First response time averages sessions claimed within FirstResponseWindow
// that have a first response. Resolution averages sessions closed since UTC
// midnight. Callers may pass a superset; non-matching sessions are ignored.
func ComputeKPIs(waiting, active int64, sessions []*Session, now time.Time) KPIs {
	now = now.UTC()
	claimedSince := now.Add(-FirstResponseWindow)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var frtSum, resSum float64
	var frtN, resN int
	for _, s := range sessions {
		if s.ClaimedAt != nil && s.FirstResponseAt != nil && s.ClaimedAt.After(claimedSince) {
			frtSum += s.FirstResponseAt.Sub(*s.ClaimedAt).Seconds()
			frtN++
		}
		if s.Status == StatusClosed && s.ClosedAt != nil && s.ClosedAt.After(dayStart) {
			resSum += s.ClosedAt.Sub(s.StartedAt).Seconds()
			resN++
		}
	}

	k := KPIs{Waiting: waiting, Active: active}
	if frtN > 0 {
		k.AvgFirstResponseSeconds = roundTenth(frtSum / float64(frtN))
	}
	if resN > 0 {
		k.AvgResolutionSeconds = roundTenth(resSum / float64(resN))
	}
	return k
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
