package livechat

import (
	"errors"

	"livechat-api/internal/domain/conversation"
	"livechat-api/internal/domain/event"
	"livechat-api/internal/domain/hub"
)

// FrameCode maps a service error onto the code of the error frame sent back
// to the client.
func FrameCode(err error) event.Code {
	var fe *event.FrameError
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, conversation.ErrSessionNotFound):
		return event.CodeSessionNotFound
	case errors.Is(err, conversation.ErrSessionConflict):
		return event.CodeSessionConflict
	case errors.Is(err, hub.ErrNotAuthenticated), errors.Is(err, hub.ErrUnknownConnection):
		return event.CodeNotAuthenticated
	default:
		return event.CodeInternal
	}
}

// FrameMessage is the client-facing text for err. Internal failures never
// leak their cause.
func FrameMessage(err error) string {
	var fe *event.FrameError
	if errors.As(err, &fe) {
		return fe.Message
	}
	switch FrameCode(err) {
	case event.CodeSessionNotFound:
		return "Session not found"
	case event.CodeSessionConflict:
		return "Session was claimed or changed by another operator"
	case event.CodeNotAuthenticated:
		return "Not authenticated"
	default:
		return "Internal error"
	}
}
