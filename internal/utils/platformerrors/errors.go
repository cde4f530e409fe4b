package platformerrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrorType is the category of a failure. It decides the HTTP status and
// the "type" field clients see.
type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "NOT_FOUND"
	ErrorTypeValidation    ErrorType = "VALIDATION"
	ErrorTypeConflict      ErrorType = "CONFLICT"
	ErrorTypeUnauthorized  ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden     ErrorType = "FORBIDDEN"
	ErrorTypeRateLimited   ErrorType = "RATE_LIMITED"
	ErrorTypeUnavailable   ErrorType = "UNAVAILABLE"
	ErrorTypeDatabaseError ErrorType = "DATABASE_ERROR"
	ErrorTypeInternal      ErrorType = "INTERNAL"
)

type typeInfo struct {
	status int
	api    string
}

var typeTable = map[ErrorType]typeInfo{
	ErrorTypeNotFound:      {http.StatusNotFound, "not_found_error"},
	ErrorTypeValidation:    {http.StatusBadRequest, "validation_error"},
	ErrorTypeConflict:      {http.StatusConflict, "conflict_error"},
	ErrorTypeUnauthorized:  {http.StatusUnauthorized, "unauthorized_error"},
	ErrorTypeForbidden:     {http.StatusForbidden, "forbidden_error"},
	ErrorTypeRateLimited:   {http.StatusTooManyRequests, "rate_limited_error"},
	ErrorTypeUnavailable:   {http.StatusServiceUnavailable, "unavailable_error"},
	ErrorTypeDatabaseError: {http.StatusInternalServerError, "internal_error"},
	ErrorTypeInternal:      {http.StatusInternalServerError, "internal_error"},
}

func lookup(t ErrorType) typeInfo {
	if info, ok := typeTable[t]; ok {
		return info
	}
	return typeTable[ErrorTypeInternal]
}

// HTTPStatus maps the type to a response status.
func (t ErrorType) HTTPStatus() int { return lookup(t).status }

// APIType is the snake_case name used in response bodies.
func (t ErrorType) APIType() string { return lookup(t).api }

// Layer is where the error was raised.
type Layer string

const (
	LayerRepository     Layer = "repository"
	LayerDomain         Layer = "domain"
	LayerRoute          Layer = "route"
	LayerInfrastructure Layer = "infrastructure"
)

type requestIDKey struct{}

// WithRequestID stores the request ID on ctx so errors created further down
// the call chain can report it.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func requestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// PlatformError carries a stable code and request correlation alongside
// the wrapped cause.
type PlatformError struct {
	UUID      string
	Type      ErrorType
	Message   string
	Err       error
	RequestID string
	Layer     Layer
	Timestamp time.Time
}

func (e *PlatformError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s][%s][%s] %s", e.Layer, e.Type, e.UUID, e.Message)
	}
	return fmt.Sprintf("[%s][%s][%s] %s: %v", e.Layer, e.Type, e.UUID, e.Message, e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// Log writes e at warn level for client faults and error level otherwise.
func (e *PlatformError) Log(log zerolog.Logger) {
	ev := log.Error()
	if e.Type.HTTPStatus() < http.StatusInternalServerError {
		ev = log.Warn()
	}
	ev = ev.
		Str("error_uuid", e.UUID).
		Str("error_type", string(e.Type)).
		Str("layer", string(e.Layer))
	if e.RequestID != "" {
		ev = ev.Str("request_id", e.RequestID)
	}
	ev.Err(e.Err).Msg(e.Message)
}

// NewError creates a PlatformError. An empty code gets a random UUID.
func NewError(ctx context.Context, layer Layer, errorType ErrorType, message string, err error, code string) *PlatformError {
	if code == "" {
		code = uuid.NewString()
	}
	return &PlatformError{
		UUID:      code,
		Type:      errorType,
		Message:   message,
		Err:       err,
		RequestID: requestIDFrom(ctx),
		Layer:     layer,
		Timestamp: time.Now().UTC(),
	}
}

// AsError wraps err for layer. A PlatformError in the chain keeps its type
// and code; anything else becomes internal.
func AsError(ctx context.Context, layer Layer, err error, message string) *PlatformError {
	if err == nil {
		return nil
	}
	if pe, ok := As(err); ok {
		return NewError(ctx, layer, pe.Type, message+": "+pe.Message, pe, pe.UUID)
	}
	return NewError(ctx, layer, ErrorTypeInternal, message, err, "")
}

// As returns the first PlatformError in err's chain.
func As(err error) (*PlatformError, bool) {
	var pe *PlatformError
	ok := errors.As(err, &pe)
	return pe, ok
}

// IsType reports whether err carries a PlatformError of type t.
func IsType(err error, t ErrorType) bool {
	pe, ok := As(err)
	return ok && pe.Type == t
}
