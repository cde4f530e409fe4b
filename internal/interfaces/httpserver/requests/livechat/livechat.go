// Package livechat contains HTTP request DTOs for the live-chat endpoints.
package livechat

import (
	"encoding/json"
	"time"
)

// BroadcastRequest pushes a frame to operators on behalf of another service.
type BroadcastRequest struct {
	Scope             string          `json:"scope" binding:"required,oneof=room all operator"`
	UserID            string          `json:"user_id,omitempty"`
	OperatorID        string          `json:"operator_id,omitempty"`
	ExcludeOperatorID string          `json:"exclude_operator_id,omitempty"`
	Type              string          `json:"type" binding:"required,max=64"`
	Payload           json.RawMessage `json:"payload,omitempty"`
}

// InboundMessageRequest is an end-user message forwarded by the webhook service.
type InboundMessageRequest struct {
	// ID is the channel's message ID. Redeliveries with the same ID are dropped.
	ID          string     `json:"id" binding:"max=128"`
	Content     string     `json:"content" binding:"required,max=20000"`
	MessageType string     `json:"message_type,omitempty" binding:"max=32"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

// HandoffRequest starts a human handoff.
type HandoffRequest struct {
	Reason string `json:"reason,omitempty" binding:"max=500"`
}
