// Package responses maps domain errors onto the platform error response format.
package responses

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"livechat-api/internal/domain/conversation"
	"livechat-api/internal/domain/event"
	"livechat-api/internal/utils/platformerrors"
)

// HandleError writes err as an HTTP error response. Lifecycle sentinels and
// validation frame errors keep their meaning; everything else goes through the
// platform error handler.
func HandleError(c *gin.Context, err error, message string) {
	logger := log.With().Str("path", c.Request.URL.Path).Logger()

	switch {
	case errors.Is(err, conversation.ErrSessionNotFound):
		platformerrors.WriteNotFound(c, message)
		return
	case errors.Is(err, conversation.ErrSessionConflict):
		platformerrors.WriteConflict(c, message)
		return
	}

	var fe *event.FrameError
	if errors.As(err, &fe) && (fe.Code == event.CodeValidation || fe.Code == event.CodeMessageTooLong) {
		platformerrors.WriteValidationError(c, fe.Message)
		return
	}

	platformerrors.WriteError(c, err, logger)
}

// HandleNewError writes a typed error that has no underlying cause, such as a
// malformed path parameter.
func HandleNewError(c *gin.Context, errorType platformerrors.ErrorType, message string) {
	err := platformerrors.NewError(c.Request.Context(), platformerrors.LayerRoute, errorType, message, nil, "")
	platformerrors.WriteHTTPError(c, err, log.With().Str("path", c.Request.URL.Path).Logger())
}
