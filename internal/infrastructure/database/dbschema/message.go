package dbschema

import (
	"time"

	"livechat-api/internal/domain/conversation"
)

// Message is one chat message. ID is the public message ID, so redelivered
// webhook messages collide on the primary key.
type Message struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)"`
	UserID      string    `gorm:"type:varchar(64);not null;index:idx_live_chat_messages_user_created"`
	Direction   string    `gorm:"type:varchar(10);not null"`
	MessageType string    `gorm:"type:varchar(20);not null;default:'text'"`
	Content     string    `gorm:"type:text;not null"`
	SenderRole  string    `gorm:"type:varchar(10);not null"`
	OperatorID  string    `gorm:"type:varchar(64);not null;default:''"`
	CreatedAt   time.Time `gorm:"not null;index:idx_live_chat_messages_user_created"`
}

// TableName pins the table name.
func (Message) TableName() string {
	return "live_chat_messages"
}

// NewSchemaMessage converts a domain message into a schema instance.
func NewSchemaMessage(m *conversation.Message) *Message {
	if m == nil {
		return nil
	}
	return &Message{
		ID:          m.ID,
		UserID:      m.UserID,
		Direction:   string(m.Direction),
		MessageType: m.MessageType,
		Content:     m.Content,
		SenderRole:  string(m.SenderRole),
		OperatorID:  m.OperatorID,
		CreatedAt:   m.CreatedAt.UTC(),
	}
}

// EtoD converts a schema message back to the domain representation.
func (m *Message) EtoD() *conversation.Message {
	if m == nil {
		return nil
	}
	return &conversation.Message{
		ID:          m.ID,
		UserID:      m.UserID,
		Direction:   conversation.Direction(m.Direction),
		MessageType: m.MessageType,
		Content:     m.Content,
		SenderRole:  conversation.SenderRole(m.SenderRole),
		OperatorID:  m.OperatorID,
		CreatedAt:   m.CreatedAt.UTC(),
	}
}
