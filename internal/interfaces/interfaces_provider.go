package interfaces

import (
	"github.com/google/wire"

	"livechat-api/internal/interfaces/httpserver"
	"livechat-api/internal/interfaces/httpserver/handlers"
	"livechat-api/internal/interfaces/httpserver/routes"
)

// InterfacesProvider is the wire provider set for the HTTP surface.
var InterfacesProvider = wire.NewSet(
	handlers.HandlerProvider,
	routes.RouteProvider,
	httpserver.New,
)
