// Package livechatres contains HTTP response DTOs for the live-chat endpoints.
package livechatres

import (
	"livechat-api/internal/domain/conversation"
	"livechat-api/internal/domain/event"
)

// OnlineOperatorsResponse lists operators with a live heartbeat.
type OnlineOperatorsResponse struct {
	Object string                 `json:"object"`
	Data   []event.OperatorStatus `json:"data"`
}

// UnreadResponse is the unread count of one conversation for one operator.
type UnreadResponse struct {
	UserID      string `json:"user_id"`
	OperatorID  string `json:"operator_id"`
	UnreadCount int64  `json:"unread_count"`
}

// MarkReadResponse acknowledges a read marker.
type MarkReadResponse struct {
	UserID     string `json:"user_id"`
	OperatorID string `json:"operator_id"`
	Read       bool   `json:"read"`
}

// BroadcastResponse reports how many sockets on this process received the frame.
type BroadcastResponse struct {
	Scope          string `json:"scope"`
	Type           string `json:"type"`
	LocalDelivered int    `json:"local_delivered"`
}

// IngestResponse acknowledges an inbound message.
type IngestResponse struct {
	ID        string                `json:"id"`
	Duplicate bool                  `json:"duplicate"`
	Message   *event.MessagePayload `json:"message,omitempty"`
}

// SessionResponse is a session in API responses.
type SessionResponse struct {
	Object  string             `json:"object"`
	UserID  string             `json:"user_id"`
	Session *event.SessionView `json:"session"`
}

// InRoomResponse answers whether an operator watches a conversation on any process.
type InRoomResponse struct {
	UserID     string `json:"user_id"`
	OperatorID string `json:"operator_id"`
	InRoom     bool   `json:"in_room"`
}

// NewOnlineOperatorsResponse wraps the presence list.
func NewOnlineOperatorsResponse(ops []event.OperatorStatus) *OnlineOperatorsResponse {
	if ops == nil {
		ops = []event.OperatorStatus{}
	}
	return &OnlineOperatorsResponse{Object: "list", Data: ops}
}

// NewIngestResponse renders the result of an ingest call.
func NewIngestResponse(id string, msg *conversation.Message, duplicate bool) *IngestResponse {
	resp := &IngestResponse{ID: id, Duplicate: duplicate}
	if msg != nil {
		p := msg.Payload()
		resp.ID = msg.ID
		resp.Message = &p
	}
	return resp
}

// NewSessionResponse renders a lifecycle session.
func NewSessionResponse(s *conversation.Session) *SessionResponse {
	return &SessionResponse{
		Object:  "livechat.session",
		UserID:  s.UserID,
		Session: s.View(),
	}
}
