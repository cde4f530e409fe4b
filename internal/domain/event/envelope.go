// Package event defines the websocket wire protocol: the frame envelope, the
// recognised frame types, their typed payloads and the error codes carried
// by error frames.
package event

import (
	"encoding/json"
	"strings"
	"time"
)

// Type identifies a frame.
type Type string

// Client to server frames.
const (
	TypeAuth                 Type = "auth"
	TypeJoinRoom             Type = "join_room"
	TypeLeaveRoom            Type = "leave_room"
	TypeSendMessage          Type = "send_message"
	TypeTypingStart          Type = "typing_start"
	TypeTypingStop           Type = "typing_stop"
	TypeClaimSession         Type = "claim_session"
	TypeCloseSession         Type = "close_session"
	TypeTransferSession      Type = "transfer_session"
	TypeSubscribeAnalytics   Type = "subscribe_analytics"
	TypeUnsubscribeAnalytics Type = "unsubscribe_analytics"
	TypePing                 Type = "ping"
)

// Server to client frames.
const (
	TypeAuthSuccess        Type = "auth_success"
	TypeAuthError          Type = "auth_error"
	TypeNewMessage         Type = "new_message"
	TypeMessageSent        Type = "message_sent"
	TypeTypingIndicator    Type = "typing_indicator"
	TypeSessionClaimed     Type = "session_claimed"
	TypeSessionClosed      Type = "session_closed"
	TypeSessionTransferred Type = "session_transferred"
	TypePresenceUpdate     Type = "presence_update"
	TypeConversationUpdate Type = "conversation_update"
	TypeOperatorJoined     Type = "operator_joined"
	TypeOperatorLeft       Type = "operator_left"
	TypeSLAAlert           Type = "sla_alert"
	TypeAnalyticsUpdate    Type = "analytics_update"
	TypeError              Type = "error"
	TypePong               Type = "pong"
)

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

// TimestampFormat is used for every timestamp this service writes.
const TimestampFormat = time.RFC3339Nano

// FormatTime renders t in UTC using TimestampFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// New builds an envelope around payload. A nil payload is encoded as JSON null.
func New(t Type, payload any, at time.Time) (Envelope, error) {
	raw := json.RawMessage("null")
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		raw = b
	}
	return Envelope{Type: t, Payload: raw, Timestamp: FormatTime(at)}, nil
}

// Must is New for payloads that are known to marshal.
func Must(t Type, payload any, at time.Time) Envelope {
	env, err := New(t, payload, at)
	if err != nil {
		panic(err)
	}
	return env
}

// Encode serialises the envelope.
func (e Envelope) Encode() ([]byte, error) {
	if len(e.Payload) == 0 {
		e.Payload = json.RawMessage("null")
	}
	return json.Marshal(e)
}

// DecodePayload unmarshals the payload into v. A null or missing payload leaves v untouched.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

const roomPrefix = "conversation:"

// RoomID derives the room for an end-user conversation.
func RoomID(userID string) string {
	return roomPrefix + userID
}

// UserIDFromRoom reverses RoomID.
func UserIDFromRoom(roomID string) (string, bool) {
	if !strings.HasPrefix(roomID, roomPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(roomID, roomPrefix)
	return id, id != ""
}
