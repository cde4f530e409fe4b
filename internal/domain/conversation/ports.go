package conversation

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned when the end-user has no open session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionConflict is returned when an open session exists but the
	// requested transition no longer applies to the caller.
	ErrSessionConflict = errors.New("session conflict")
)

// Repository stores sessions and messages. Every transition is a
// conditional update so that concurrent callers on different processes
// cannot apply it twice.
type Repository interface {
	// CreateSession opens a WAITING session. ErrSessionConflict if one is already open.
	CreateSession(ctx context.Context, userID string, at time.Time) (*Session, error)
	// OpenSession returns the WAITING or ACTIVE session of userID.
	OpenSession(ctx context.Context, userID string) (*Session, error)
	// Claim moves a WAITING session to ACTIVE. claimed is false when
	// operatorID already owned it.
	Claim(ctx context.Context, userID, operatorID string, at time.Time) (s *Session, claimed bool, err error)
	// Close ends the open session. When operatorID is set, an ACTIVE session
	// owned by someone else is ErrSessionConflict.
	Close(ctx context.Context, userID, operatorID string, by ClosedBy, at time.Time) (*Session, error)
	// CloseIfIdle closes sessionID only if it is still in status and its
	// last activity is not after idleSince. closed is false when another
	// caller got there first or the session saw new activity.
	CloseIfIdle(ctx context.Context, sessionID uint, status Status, idleSince time.Time, by ClosedBy, at time.Time) (s *Session, closed bool, err error)
	// Transfer hands an ACTIVE session owned by fromOperator to toOperator.
	Transfer(ctx context.Context, userID, fromOperator, toOperator string, at time.Time) (*Session, error)
	// RecordOperatorMessage stores an outgoing message and bumps the open
	// session. firstResponse is true when this message set FirstResponseAt.
	RecordOperatorMessage(ctx context.Context, msg *Message) (s *Session, firstResponse bool, err error)
	// SaveInbound stores an end-user message.
	SaveInbound(ctx context.Context, msg *Message) error
	// CountInbound counts incoming messages created after since, or all when since is nil.
	CountInbound(ctx context.Context, userID string, since *time.Time) (int64, error)
	// RecentMessages returns the newest limit messages, oldest first.
	RecentMessages(ctx context.Context, userID string, limit int) ([]*Message, error)
	// StaleSessions lists sessions in status whose last activity is before idleSince.
	StaleSessions(ctx context.Context, status Status, idleSince time.Time) ([]*Session, error)
	// LiveKPIs computes dashboard figures as of now.
	LiveKPIs(ctx context.Context, now time.Time) (KPIs, error)
}

// AuditEntry is one row of the operator action trail.
type AuditEntry struct {
	OperatorID   string
	Action       string
	ResourceType string
	ResourceID   string
	Details      map[string]any
	At           time.Time
}

// Audit actions.
const (
	ActionClaim    = "live_chat.claim"
	ActionClose    = "live_chat.close"
	ActionTransfer = "live_chat.transfer"
	ActionSend     = "live_chat.send_message"
	ActionHandoff  = "live_chat.handoff"
	ActionTimeout  = "live_chat.auto_close"
)

// AuditRecorder persists audit entries. Implementations are best effort:
// a failing recorder never blocks the action being audited.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// Outbound delivers operator replies to the end-user's channel.
type Outbound interface {
	Deliver(ctx context.Context, userID, text string) error
}
