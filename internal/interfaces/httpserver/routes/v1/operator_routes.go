package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"livechat-api/internal/domain/event"
	"livechat-api/internal/infrastructure/auth"
	"livechat-api/internal/interfaces/httpserver/handlers"
	"livechat-api/internal/interfaces/httpserver/responses"
	"livechat-api/internal/utils/platformerrors"
)

// RegisterOperatorRoutes registers the dashboard routes for the
// authenticated operator.
func RegisterOperatorRoutes(router gin.IRoutes, handler *handlers.LiveChatHandler) {
	router.GET("/operators/online", onlineOperators(handler))
	router.GET("/conversations/:user_id/unread", unreadCount(handler))
	router.POST("/conversations/:user_id/read", markRead(handler))
}

func onlineOperators(handler *handlers.LiveChatHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, handler.OnlineOperators(c.Request.Context()))
	}
}

func unreadCount(handler *handlers.LiveChatHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDParam(c)
		if !ok {
			return
		}
		resp, err := handler.UnreadCount(c.Request.Context(), userID, auth.OperatorID(c))
		if err != nil {
			responses.HandleError(c, err, "failed to count unread messages")
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func markRead(handler *handlers.LiveChatHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDParam(c)
		if !ok {
			return
		}
		resp, err := handler.MarkRead(c.Request.Context(), auth.OperatorID(c), userID)
		if err != nil {
			responses.HandleError(c, err, "failed to mark conversation read")
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// userIDParam reads and validates the :user_id path parameter. On failure
// the response is already written.
func userIDParam(c *gin.Context) (string, bool) {
	userID := c.Param("user_id")
	if !event.ValidUserID(userID) {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "user_id must be a valid end-user identifier")
		return "", false
	}
	return userID, true
}
