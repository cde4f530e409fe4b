package event

// AuthPayload authenticates a connection. Token may be empty when the token
// was supplied on the query string, or when a development build accepts a
// bare OperatorID.
type AuthPayload struct {
	Token      string `json:"token" validate:"omitempty,min=10,max=2000"`
	OperatorID string `json:"operator_id" validate:"omitempty,max=64"`
}

// JoinRoomPayload selects the conversation to watch.
type JoinRoomPayload struct {
	UserID string `json:"user_id" validate:"required,enduser"`
}

// SendMessagePayload is an operator reply. Text is sanitised during decoding.
type SendMessagePayload struct {
	Text   string `json:"text"`
	TempID string `json:"temp_id" validate:"max=100"`
}

// TransferSessionPayload hands the current conversation to another operator.
type TransferSessionPayload struct {
	ToOperatorID string `json:"to_operator_id" validate:"required,max=64"`
	Reason       string `json:"reason" validate:"max=500"`
}

// EmptyPayload is used by frames that carry no data.
type EmptyPayload struct{}

// AuthSuccessPayload acknowledges a successful auth frame.
type AuthSuccessPayload struct {
	OperatorID   string `json:"operator_id"`
	ServerID     string `json:"server_id"`
	ConnectionID string `json:"connection_id"`
}

// OperatorStatus is one entry of a presence_update frame.
type OperatorStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ActiveChats int    `json:"active_chats"`
}

// PresenceUpdatePayload lists online operators.
type PresenceUpdatePayload struct {
	Operators []OperatorStatus `json:"operators"`
}

// MessagePayload is a chat message as shown to operators.
type MessagePayload struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Direction   string `json:"direction"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	SenderRole  string `json:"sender_role"`
	OperatorID  string `json:"operator_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// MessageSentPayload confirms an operator's own message.
type MessageSentPayload struct {
	TempID  string         `json:"temp_id,omitempty"`
	Message MessagePayload `json:"message"`
}

// TypingPayload is the typing_indicator payload.
type TypingPayload struct {
	OperatorID string `json:"operator_id"`
	UserID     string `json:"user_id"`
	IsTyping   bool   `json:"is_typing"`
}

// SessionView is the lifecycle summary embedded in conversation frames.
type SessionView struct {
	ID              uint   `json:"id"`
	Status          string `json:"status"`
	OperatorID      string `json:"operator_id,omitempty"`
	StartedAt       string `json:"started_at,omitempty"`
	ClaimedAt       string `json:"claimed_at,omitempty"`
	FirstResponseAt string `json:"first_response_at,omitempty"`
	ClosedAt        string `json:"closed_at,omitempty"`
	ClosedBy        string `json:"closed_by,omitempty"`
	MessageCount    int    `json:"message_count"`
}

// SessionClaimedPayload announces a claim.
type SessionClaimedPayload struct {
	UserID     string `json:"user_id"`
	SessionID  uint   `json:"session_id"`
	OperatorID string `json:"operator_id"`
}

// SessionClosedPayload announces a close.
type SessionClosedPayload struct {
	UserID    string `json:"user_id"`
	SessionID uint   `json:"session_id"`
	ClosedBy  string `json:"closed_by"`
	Reason    string `json:"reason,omitempty"`
}

// SessionTransferredPayload announces a transfer.
type SessionTransferredPayload struct {
	UserID         string `json:"user_id"`
	SessionID      uint   `json:"session_id"`
	FromOperatorID string `json:"from_operator_id"`
	ToOperatorID   string `json:"to_operator_id"`
	Reason         string `json:"reason,omitempty"`
}

// ConversationUpdatePayload refreshes an operator's view of one conversation.
type ConversationUpdatePayload struct {
	UserID      string           `json:"user_id"`
	Session     *SessionView     `json:"session,omitempty"`
	UnreadCount *int64           `json:"unread_count,omitempty"`
	Unread      bool             `json:"unread,omitempty"`
	Messages    []MessagePayload `json:"messages,omitempty"`
	LastMessage *MessagePayload  `json:"last_message,omitempty"`
}

// RoomMemberPayload is carried by operator_joined and operator_left.
type RoomMemberPayload struct {
	OperatorID string `json:"operator_id"`
	RoomID     string `json:"room_id"`
	UserID     string `json:"user_id"`
}

// SLAAlertPayload describes a threshold breach.
type SLAAlertPayload struct {
	Metric           string  `json:"metric"`
	ValueSeconds     float64 `json:"value_seconds"`
	ThresholdSeconds float64 `json:"threshold_seconds"`
	UserID           string  `json:"user_id"`
	SessionID        uint    `json:"session_id"`
	Severity         string  `json:"severity"`
	Message          string  `json:"message"`
}

// AnalyticsPayload carries live dashboard KPIs.
type AnalyticsPayload struct {
	Waiting                 int64   `json:"waiting"`
	Active                  int64   `json:"active"`
	AvgFirstResponseSeconds float64 `json:"avg_first_response_seconds"`
	AvgResolutionSeconds    float64 `json:"avg_resolution_seconds"`
}

// PongPayload answers ping.
type PongPayload struct {
	ServerTime string `json:"server_time"`
}
