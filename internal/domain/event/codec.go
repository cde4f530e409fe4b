package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

// DefaultMaxTextLength caps operator replies.
const DefaultMaxTextLength = 5000

var endUserIDPattern = regexp.MustCompile(`^U[a-f0-9]{32}$`)

// ValidUserID reports whether id is a well-formed end-user identifier.
func ValidUserID(id string) bool {
	return endUserIDPattern.MatchString(id)
}

// Frame is a decoded client frame. Payload holds a pointer to the typed
// payload registered for Type.
type Frame struct {
	Type      Type
	Payload   any
	Timestamp string
}

// clientPayloads is the type-then-payload dispatch table for inbound frames.
var clientPayloads = map[Type]func() any{
	TypeAuth:                 func() any { return &AuthPayload{} },
	TypeJoinRoom:             func() any { return &JoinRoomPayload{} },
	TypeLeaveRoom:            func() any { return &EmptyPayload{} },
	TypeSendMessage:          func() any { return &SendMessagePayload{} },
	TypeTypingStart:          func() any { return &EmptyPayload{} },
	TypeTypingStop:           func() any { return &EmptyPayload{} },
	TypeClaimSession:         func() any { return &EmptyPayload{} },
	TypeCloseSession:         func() any { return &EmptyPayload{} },
	TypeTransferSession:      func() any { return &TransferSessionPayload{} },
	TypeSubscribeAnalytics:   func() any { return &EmptyPayload{} },
	TypeUnsubscribeAnalytics: func() any { return &EmptyPayload{} },
	TypePing:                 func() any { return &EmptyPayload{} },
}

// IsClientType reports whether t is a recognised client frame type.
func IsClientType(t Type) bool {
	_, ok := clientPayloads[t]
	return ok
}

// Codec decodes and validates client frames.
type Codec struct {
	validate      *validator.Validate
	policy        *bluemonday.Policy
	maxTextLength int
}

// NewCodec returns a codec enforcing maxTextLength on send_message text.
func NewCodec(maxTextLength int) *Codec {
	if maxTextLength <= 0 {
		maxTextLength = DefaultMaxTextLength
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("enduser", func(fl validator.FieldLevel) bool {
		return endUserIDPattern.MatchString(fl.Field().String())
	})
	return &Codec{
		validate:      v,
		policy:        bluemonday.StrictPolicy(),
		maxTextLength: maxTextLength,
	}
}

// Decode parses a raw frame, resolves its payload type and validates it.
// Errors are *FrameError values ready to be reported to the client.
func (c *Codec) Decode(data []byte) (Frame, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, NewFrameError(CodeValidation, "malformed frame", err)
	}
	if env.Type == "" {
		return Frame{}, NewFrameError(CodeValidation, "frame type is required", nil)
	}

	newPayload, ok := clientPayloads[env.Type]
	if !ok {
		return Frame{Type: env.Type}, NewFrameError(CodeUnknownEvent, fmt.Sprintf("unknown event type: %s", env.Type), nil)
	}

	payload := newPayload()
	if err := env.DecodePayload(payload); err != nil {
		return Frame{Type: env.Type}, NewFrameError(CodeValidation, fmt.Sprintf("invalid %s payload", env.Type), err)
	}
	if err := c.normalize(payload); err != nil {
		return Frame{Type: env.Type}, err
	}
	if err := c.validate.Struct(payload); err != nil {
		return Frame{Type: env.Type}, NewFrameError(CodeValidation, validationMessage(env.Type, err), err)
	}

	return Frame{Type: env.Type, Payload: payload, Timestamp: env.Timestamp}, nil
}

func (c *Codec) normalize(payload any) error {
	switch p := payload.(type) {
	case *AuthPayload:
		p.Token = strings.TrimSpace(p.Token)
		p.OperatorID = strings.TrimSpace(p.OperatorID)
	case *JoinRoomPayload:
		p.UserID = strings.TrimSpace(p.UserID)
	case *SendMessagePayload:
		p.Text = c.SanitizeText(p.Text)
		n := utf8.RuneCountInString(p.Text)
		if n == 0 {
			return NewFrameError(CodeValidation, "message text is required", nil)
		}
		if n > c.maxTextLength {
			return NewFrameError(CodeMessageTooLong, fmt.Sprintf("message exceeds %d characters", c.maxTextLength), nil)
		}
	case *TransferSessionPayload:
		p.ToOperatorID = strings.TrimSpace(p.ToOperatorID)
		p.Reason = strings.TrimSpace(p.Reason)
	}
	return nil
}

// SanitizeText strips HTML and collapses whitespace.
func (c *Codec) SanitizeText(text string) string {
	cleaned := html.UnescapeString(c.policy.Sanitize(text))
	return strings.Join(strings.Fields(cleaned), " ")
}

func validationMessage(t Type, err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Sprintf("invalid %s payload", t)
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "enduser":
		return fmt.Sprintf("%s must be a valid end-user identifier", field)
	case "min", "max":
		return fmt.Sprintf("%s length out of range", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
