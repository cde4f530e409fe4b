package dbschema

import (
	"time"

	"livechat-api/internal/domain/conversation"
)

// BaseModel carries the surrogate key and bookkeeping timestamps.
type BaseModel struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// ChatSession is one human-handoff episode.
type ChatSession struct {
	BaseModel
	UserID string `gorm:"type:varchar(64);not null;index:idx_chat_sessions_user_status"`
	// OpenUserID mirrors UserID while the session is open and is NULL once
	// closed, so the unique index allows one open session per user.
	OpenUserID      *string    `gorm:"type:varchar(64);uniqueIndex:ux_chat_sessions_open_user"`
	OperatorID      string     `gorm:"type:varchar(64);not null;default:''"`
	Status          string     `gorm:"type:varchar(20);not null;index:idx_chat_sessions_user_status;index:idx_chat_sessions_status_activity"`
	StartedAt       time.Time  `gorm:"not null"`
	ClaimedAt       *time.Time `gorm:"index"`
	FirstResponseAt *time.Time
	ClosedAt        *time.Time `gorm:"index"`
	ClosedBy        string     `gorm:"type:varchar(20);not null;default:''"`
	MessageCount    int        `gorm:"not null;default:0"`
	TransferCount   int        `gorm:"not null;default:0"`
	LastActivityAt  time.Time  `gorm:"not null;index:idx_chat_sessions_status_activity"`
}

// TableName pins the table name.
func (ChatSession) TableName() string {
	return "chat_sessions"
}

// NewSchemaChatSession converts a domain session into a schema instance.
func NewSchemaChatSession(s *conversation.Session) *ChatSession {
	if s == nil {
		return nil
	}
	row := &ChatSession{
		BaseModel:       BaseModel{ID: s.ID},
		UserID:          s.UserID,
		OperatorID:      s.OperatorID,
		Status:          string(s.Status),
		StartedAt:       s.StartedAt,
		ClaimedAt:       s.ClaimedAt,
		FirstResponseAt: s.FirstResponseAt,
		ClosedAt:        s.ClosedAt,
		ClosedBy:        string(s.ClosedBy),
		MessageCount:    s.MessageCount,
		TransferCount:   s.TransferCount,
		LastActivityAt:  s.LastActivityAt,
	}
	if s.Open() {
		userID := s.UserID
		row.OpenUserID = &userID
	}
	return row
}

// EtoD converts a schema session back to the domain representation.
func (s *ChatSession) EtoD() *conversation.Session {
	if s == nil {
		return nil
	}
	return &conversation.Session{
		ID:              s.ID,
		UserID:          s.UserID,
		OperatorID:      s.OperatorID,
		Status:          conversation.Status(s.Status),
		StartedAt:       s.StartedAt.UTC(),
		ClaimedAt:       utc(s.ClaimedAt),
		FirstResponseAt: utc(s.FirstResponseAt),
		ClosedAt:        utc(s.ClosedAt),
		ClosedBy:        conversation.ClosedBy(s.ClosedBy),
		MessageCount:    s.MessageCount,
		TransferCount:   s.TransferCount,
		LastActivityAt:  s.LastActivityAt.UTC(),
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
