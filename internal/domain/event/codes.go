package event

import (
	"errors"
	"fmt"
)

// Code is the machine-readable reason carried by auth_error and error frames.
type Code string

const (
	CodeAuthInvalidToken  Code = "auth_invalid_token"
	CodeAuthExpiredToken  Code = "auth_expired_token"
	CodeAuthMissingToken  Code = "auth_missing_token"
	CodeRateLimitExceeded Code = "rate_limit_exceeded"
	CodeValidation        Code = "validation_error"
	CodeMessageTooLong    Code = "message_too_long"
	CodeNotAuthenticated  Code = "not_authenticated"
	CodeNotInRoom         Code = "not_in_room"
	CodeUnknownEvent      Code = "unknown_event"
	CodeSessionNotFound   Code = "session_not_found"
	// CodeSessionConflict means the session exists but the action no longer
	// applies, e.g. another operator claimed it first.
	CodeSessionConflict Code = "session_conflict"
	CodeInternal        Code = "internal_error"
)

// ErrorPayload is the payload of error and auth_error frames.
type ErrorPayload struct {
	Message   string `json:"message"`
	Code      Code   `json:"code"`
	Remaining *int   `json:"remaining,omitempty"`
}

// FrameError is a recoverable protocol error that is reported to the client
// as an error frame.
type FrameError struct {
	Code    Code
	Message string
	Err     error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FrameError) Unwrap() error { return e.Err }

// NewFrameError builds a FrameError.
func NewFrameError(code Code, message string, err error) *FrameError {
	return &FrameError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the frame code from err, defaulting to internal_error.
func CodeOf(err error) Code {
	var fe *FrameError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeInternal
}
