package platformerrors

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ginRequestIDKey matches middlewares.RequestIDKey.
const ginRequestIDKey = "request_id"

// HTTPErrorResponse is the JSON body of every error response.
type HTTPErrorResponse struct {
	Error *HTTPErrorDetail `json:"error"`
}

// HTTPErrorDetail describes one failure.
type HTTPErrorDetail struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func abort(c *gin.Context, t ErrorType, message, code, requestID string) {
	if requestID == "" {
		requestID = c.GetString(ginRequestIDKey)
	}
	c.AbortWithStatusJSON(t.HTTPStatus(), HTTPErrorResponse{
		Error: &HTTPErrorDetail{
			Message:   message,
			Type:      t.APIType(),
			Code:      code,
			RequestID: requestID,
		},
	})
}

// WriteHTTPError logs err and aborts with its status.
func WriteHTTPError(c *gin.Context, err *PlatformError, log zerolog.Logger) {
	if err == nil {
		abort(c, ErrorTypeInternal, "unknown error", "", "")
		return
	}
	err.Log(log)
	abort(c, err.Type, err.Message, err.UUID, err.RequestID)
}

// WriteError aborts with err. Causes that are not PlatformErrors are
// reported as internal without their text.
func WriteError(c *gin.Context, err error, log zerolog.Logger) {
	if pe, ok := As(err); ok {
		WriteHTTPError(c, pe, log)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("unhandled error")
	}
	abort(c, ErrorTypeInternal, "internal server error", "", "")
}

func WriteNotFound(c *gin.Context, message string) {
	abort(c, ErrorTypeNotFound, message, "", "")
}

func WriteValidationError(c *gin.Context, message string) {
	abort(c, ErrorTypeValidation, message, "", "")
}

func WriteUnauthorized(c *gin.Context, message string) {
	abort(c, ErrorTypeUnauthorized, message, "", "")
}

func WriteForbidden(c *gin.Context, message string) {
	abort(c, ErrorTypeForbidden, message, "", "")
}

func WriteConflict(c *gin.Context, message string) {
	abort(c, ErrorTypeConflict, message, "", "")
}
