package handlers

import "github.com/google/wire"

// Provider groups the HTTP handlers.
type Provider struct {
	LiveChat  *LiveChatHandler
	WebSocket *WebSocketHandler
	Health    *HealthHandler
}

// NewProvider creates a new handler provider.
func NewProvider(liveChat *LiveChatHandler, webSocket *WebSocketHandler, health *HealthHandler) *Provider {
	return &Provider{
		LiveChat:  liveChat,
		WebSocket: webSocket,
		Health:    health,
	}
}

// HandlerProvider is the wire provider set for handlers.
var HandlerProvider = wire.NewSet(
	NewLiveChatHandler,
	NewWebSocketHandler,
	NewHealthHandler,
	NewProvider,
)
