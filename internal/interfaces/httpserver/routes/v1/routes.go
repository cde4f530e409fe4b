package v1

import (
	"github.com/gin-gonic/gin"

	"livechat-api/internal/interfaces/httpserver/handlers"
)

// Routes holds the v1 route configuration.
type Routes struct {
	handlers *handlers.Provider
}

// NewRoutes creates a new v1 routes instance.
func NewRoutes(handlerProvider *handlers.Provider) *Routes {
	return &Routes{
		handlers: handlerProvider,
	}
}

// Register registers all v1 routes on the engine. The websocket endpoint
// authenticates in-band; operatorAuth guards the dashboard routes and
// internalAuth the service-to-service routes.
func (r *Routes) Register(engine *gin.Engine, operatorAuth, internalAuth gin.HandlerFunc) {
	v1 := engine.Group("/v1")
	v1.GET("/ws", r.handlers.WebSocket.Serve)

	operator := v1.Group("")
	if operatorAuth != nil {
		operator.Use(operatorAuth)
	}
	RegisterOperatorRoutes(operator, r.handlers.LiveChat)

	internal := v1.Group("/internal")
	if internalAuth != nil {
		internal.Use(internalAuth)
	}
	RegisterInternalRoutes(internal, r.handlers.LiveChat)
}
