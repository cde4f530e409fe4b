package v1

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"livechat-api/internal/interfaces/httpserver/handlers"
	livechatreq "livechat-api/internal/interfaces/httpserver/requests/livechat"
	"livechat-api/internal/interfaces/httpserver/responses"
	"livechat-api/internal/utils/platformerrors"
)

// RegisterInternalRoutes registers the routes other services call.
func RegisterInternalRoutes(router gin.IRoutes, handler *handlers.LiveChatHandler) {
	router.POST("/broadcast", broadcast(handler))
	router.POST("/conversations/:user_id/messages", ingestMessage(handler))
	router.POST("/conversations/:user_id/handoff", handoff(handler))
	router.GET("/conversations/:user_id/unread/:operator_id", operatorUnread(handler))
	router.GET("/rooms/:user_id/operators/:operator_id", operatorInRoom(handler))
}

func broadcast(handler *handlers.LiveChatHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req livechatreq.BroadcastRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "invalid broadcast request: "+err.Error())
			return
		}
		resp, err := handler.Broadcast(c.Request.Context(), req)
		if err != nil {
			responses.HandleError(c, err, "failed to broadcast")
			return
		}
		c.JSON(http.StatusAccepted, resp)
	}
}

func ingestMessage(handler *handlers.LiveChatHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDParam(c)
		if !ok {
			return
		}
		var req livechatreq.InboundMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "invalid message: "+err.Error())
			return
		}
		resp, err := handler.Ingest(c.Request.Context(), userID, req)
		if err != nil {
			responses.HandleError(c, err, "failed to ingest message")
			return
		}
		status := http.StatusCreated
		if resp.Duplicate {
			status = http.StatusOK
		}
		c.JSON(status, resp)
	}
}

func handoff(handler *handlers.LiveChatHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDParam(c)
		if !ok {
			return
		}
		var req livechatreq.HandoffRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "invalid handoff request: "+err.Error())
				return
			}
		}
		resp, err := handler.Handoff(c.Request.Context(), userID, req)
		if err != nil {
			responses.HandleError(c, err, "an open session already exists")
			return
		}
		c.JSON(http.StatusCreated, resp)
	}
}

func operatorUnread(handler *handlers.LiveChatHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDParam(c)
		if !ok {
			return
		}
		operatorID, ok := operatorIDParam(c)
		if !ok {
			return
		}
		resp, err := handler.UnreadCount(c.Request.Context(), userID, operatorID)
		if err != nil {
			responses.HandleError(c, err, "failed to count unread messages")
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func operatorInRoom(handler *handlers.LiveChatHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDParam(c)
		if !ok {
			return
		}
		operatorID, ok := operatorIDParam(c)
		if !ok {
			return
		}
		resp, err := handler.OperatorInRoom(c.Request.Context(), operatorID, userID)
		if err != nil {
			responses.HandleError(c, err, "failed to look up room membership")
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func operatorIDParam(c *gin.Context) (string, bool) {
	operatorID := strings.TrimSpace(c.Param("operator_id"))
	if operatorID == "" || len(operatorID) > 64 {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "operator_id is invalid")
		return "", false
	}
	return operatorID, true
}
