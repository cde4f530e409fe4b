package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/google/wire"

	"livechat-api/internal/config"
	"livechat-api/internal/infrastructure/auth"
	"livechat-api/internal/interfaces/httpserver/handlers"
	v1 "livechat-api/internal/interfaces/httpserver/routes/v1"
)

// Provider holds all route providers.
type Provider struct {
	V1          *v1.Routes
	verifier    *auth.Verifier
	internalKey string
}

// NewProvider creates a new route provider.
func NewProvider(cfg *config.Config, handlerProvider *handlers.Provider, verifier *auth.Verifier) *Provider {
	return &Provider{
		V1:          v1.NewRoutes(handlerProvider),
		verifier:    verifier,
		internalKey: cfg.InternalAPIKey,
	}
}

// Register registers all routes on the engine.
func (p *Provider) Register(engine *gin.Engine) {
	var operatorAuth gin.HandlerFunc
	if p.verifier != nil {
		operatorAuth = p.verifier.Middleware()
	}
	p.V1.Register(engine, operatorAuth, auth.RequireInternalKey(p.internalKey))
}

// RouteProvider is the wire provider set for routes.
var RouteProvider = wire.NewSet(NewProvider)
