package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"livechat-api/internal/config"
	"livechat-api/internal/domain"
	"livechat-api/internal/domain/hub"
	"livechat-api/internal/infrastructure/crontab"
	"livechat-api/internal/infrastructure/logger"
	"livechat-api/internal/infrastructure/observability"
	"livechat-api/internal/interfaces/httpserver"
	"livechat-api/internal/interfaces/httpserver/handlers"
	"livechat-api/internal/interfaces/httpserver/routes"
)

// Application holds the main application components.
type Application struct {
	httpServer  *httpserver.HTTPServer
	broadcaster *hub.Broadcaster
	heartbeat   *hub.Heartbeat
	cron        *crontab.Crontab
	log         zerolog.Logger
}

// NewApplication creates a new application instance. cron may be nil.
func NewApplication(
	httpServer *httpserver.HTTPServer,
	broadcaster *hub.Broadcaster,
	heartbeat *hub.Heartbeat,
	cron *crontab.Crontab,
	log zerolog.Logger,
) *Application {
	return &Application{
		httpServer:  httpServer,
		broadcaster: broadcaster,
		heartbeat:   heartbeat,
		cron:        cron,
		log:         log,
	}
}

// Start runs the application until ctx is cancelled.
func (a *Application) Start(ctx context.Context) error {
	// A broker outage at boot only disables fan-out; local rooms still work.
	if err := a.broadcaster.Start(ctx); err != nil {
		a.log.Error().Err(err).Msg("global channel subscription failed, cross-instance broadcast disabled")
	}

	a.heartbeat.Start(ctx)
	defer a.heartbeat.Stop()

	if a.cron != nil {
		if err := a.cron.Start(ctx); err != nil {
			return err
		}
		defer a.cron.Stop()
	}

	// Blocks until the context is cancelled
	return a.httpServer.Run(ctx)
}

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverID, err := ProvideServerID()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to generate server id")
	}
	log = log.With().Str("server_id", string(serverID)).Logger()

	// Setup observability
	shutdownTelemetry, err := observability.Setup(ctx, cfg, string(serverID), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize observability")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}()

	app, cleanup, err := buildApplication(ctx, cfg, serverID, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build application")
	}
	defer cleanup()

	log.Info().
		Str("service", cfg.ServiceName).
		Int("port", cfg.HTTPPort).
		Str("environment", cfg.Environment).
		Msg("starting application")

	if err := app.Start(ctx); err != nil {
		log.Error().Err(err).Msg("application stopped with error")
		return
	}

	log.Info().Msg("application exited cleanly")
}

// buildApplication wires the dependency graph by hand, in the order the
// wire injector resolves it.
func buildApplication(ctx context.Context, cfg *config.Config, serverID domain.ServerID, log zerolog.Logger) (*Application, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Application, func(), error) {
		cleanup()
		return nil, nil, err
	}

	client, closeBroker, err := ProvideBroker(ctx, cfg, log)
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, closeBroker)

	db, closeDB, err := ProvideDatabase(cfg, log)
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, closeDB)

	verifier, closeVerifier, err := ProvideVerifier(ctx, cfg, log)
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, closeVerifier)

	repo := ProvideRepository(db, log)
	store := domain.ProvidePresenceStore(client, serverID, repo, cfg, log)
	registry := domain.ProvideRegistry(store, ProvideHubMetrics(), log)
	broadcaster := domain.ProvideBroadcaster(registry, store, client, serverID, ProvideHubMetrics(), log)
	limiter := domain.ProvideLimiter(cfg)
	heartbeat := domain.ProvideHeartbeat(registry, broadcaster, limiter, cfg, log)
	monitor := domain.ProvideSLAMonitor(cfg, broadcaster, ProvideNotifier(cfg, log), ProvideSLARecorder(), log)
	cleanups = append(cleanups, monitor.Wait)

	svc, err := domain.ProvideLiveChatService(
		cfg, repo, registry, broadcaster, store, limiter, monitor,
		ProvideAuditRecorder(db, log),
		ProvideOutbound(cfg, log),
		ProvideTransitionRecorder(),
		log,
	)
	if err != nil {
		return fail(err)
	}

	health := ProvideWSHealth()
	handlerProvider := handlers.NewProvider(
		handlers.NewLiveChatHandler(svc),
		handlers.NewWebSocketHandler(cfg, svc, verifier, domain.ProvideCodec(cfg), health, log),
		handlers.NewHealthHandler(cfg, registry, broadcaster, client, health, ProvideReadinessChecks(db)),
	)
	routeProvider := routes.NewProvider(cfg, handlerProvider, verifier)
	httpServer := httpserver.New(cfg, log, handlerProvider, routeProvider)

	app := NewApplication(httpServer, broadcaster, heartbeat, ProvideCrontab(cfg, svc, log), log)
	return app, cleanup, nil
}

func loadEnvFiles() {
	paths := []string{".env", "../.env", "../../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
