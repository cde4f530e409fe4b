package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"livechat-api/internal/config"
	"livechat-api/internal/interfaces/httpserver/handlers"
	"livechat-api/internal/interfaces/httpserver/middlewares"
	"livechat-api/internal/interfaces/httpserver/routes"
)

const readHeaderTimeout = 10 * time.Second

// HTTPServer serves the websocket endpoint, the REST API and the health endpoints.
type HTTPServer struct {
	cfg         *config.Config
	engine      *gin.Engine
	log         zerolog.Logger
	handlerProv *handlers.Provider
	routeProv   *routes.Provider
}

// New creates a new HTTP server.
func New(
	cfg *config.Config,
	log zerolog.Logger,
	handlerProvider *handlers.Provider,
	routeProvider *routes.Provider,
) *HTTPServer {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.Use(middlewares.RequestID())
	engine.Use(middlewares.Tracing(cfg.ServiceName))
	engine.Use(middlewares.Metrics())
	engine.Use(middlewares.CORS(cfg.CORSOrigins))
	engine.Use(middlewares.RequestLogger(log))

	registerCoreRoutes(engine, handlerProvider.Health)
	routeProvider.Register(engine)

	return &HTTPServer{
		cfg:         cfg,
		engine:      engine,
		log:         log,
		handlerProv: handlerProvider,
		routeProv:   routeProvider,
	}
}

// Handler exposes the engine, mainly for httptest.
func (s *HTTPServer) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then drains HTTP requests and closes
// every hijacked websocket with 1001.
func (s *HTTPServer) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	server.RegisterOnShutdown(s.handlerProv.WebSocket.Shutdown)

	serveErr := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			s.log.Error().Err(err).Msg("HTTP server error")
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info().Dur("timeout", s.cfg.ShutdownTimeout).Msg("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func registerCoreRoutes(engine *gin.Engine, health *handlers.HealthHandler) {
	engine.GET("/", health.Root)
	engine.GET("/healthz", health.Liveness)
	engine.GET("/healthz/ws", health.WebSocket)
	engine.GET("/readyz", health.Readiness)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
