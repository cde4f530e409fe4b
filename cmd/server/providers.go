package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"livechat-api/internal/config"
	"livechat-api/internal/domain"
	"livechat-api/internal/domain/broker"
	"livechat-api/internal/domain/conversation"
	"livechat-api/internal/domain/hub"
	"livechat-api/internal/domain/livechat"
	"livechat-api/internal/domain/sla"
	"livechat-api/internal/infrastructure/audit"
	"livechat-api/internal/infrastructure/auth"
	"livechat-api/internal/infrastructure/crontab"
	"livechat-api/internal/infrastructure/database"
	"livechat-api/internal/infrastructure/database/dbschema"
	"livechat-api/internal/infrastructure/database/repository/conversationrepo"
	"livechat-api/internal/infrastructure/metrics"
	"livechat-api/internal/infrastructure/notifier"
	"livechat-api/internal/infrastructure/outbound"
	"livechat-api/internal/infrastructure/pubsub"
	"livechat-api/internal/infrastructure/store"
	"livechat-api/internal/interfaces/httpserver/handlers"
	"livechat-api/internal/utils/idgen"
)

const (
	dbConnMaxLifetime = 30 * time.Minute
	notifierCooldown  = 30 * time.Second
)

// ProvideServerID provides the process identity used in broker keys.
func ProvideServerID() (domain.ServerID, error) {
	id, err := idgen.ServerID()
	return domain.ServerID(id), err
}

// ProvideBroker provides the shared broker. Without REDIS_URL the process
// runs on an in-memory broker and cannot share rooms with other instances.
func ProvideBroker(ctx context.Context, cfg *config.Config, log zerolog.Logger) (broker.Client, func(), error) {
	dispatcher := broker.NewDispatcher(log, broker.WithDropHook(metrics.RecordRelayDropped))

	var client broker.Client
	if cfg.RedisURL != "" {
		rc, err := pubsub.NewRedisClient(ctx, pubsub.RedisOptions{
			URL:      cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, dispatcher, log)
		if err != nil {
			dispatcher.Close()
			return nil, nil, err
		}
		client = rc
	} else {
		log.Warn().Msg("REDIS_URL not set, using in-memory broker (single instance only)")
		client = pubsub.NewMemoryClient(pubsub.NewMemoryStore(), dispatcher, log)
	}

	cleanup := func() {
		if err := client.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close broker")
		}
		dispatcher.Close()
	}
	return client, cleanup, nil
}

// ProvideDatabase connects and migrates the database. It returns a nil
// handle when DATABASE_URL is empty.
func ProvideDatabase(cfg *config.Config, log zerolog.Logger) (*gorm.DB, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, conversations are kept in memory")
		return nil, func() {}, nil
	}
	db, err := database.Connect(database.Config{
		DatabaseURL: cfg.DatabaseURL,
		MaxIdle:     cfg.DBMaxIdle,
		MaxOpen:     cfg.DBMaxOpen,
		MaxLifetime: dbConnMaxLifetime,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(db, dbschema.All()...); err != nil {
		_ = database.Close(db)
		return nil, nil, err
	}
	cleanup := func() {
		if err := database.Close(db); err != nil {
			log.Error().Err(err).Msg("failed to close database")
		}
	}
	return db, cleanup, nil
}

// ProvideRepository provides the conversation repository.
func ProvideRepository(db *gorm.DB, log zerolog.Logger) conversation.Repository {
	if db == nil {
		return store.NewMemoryStore(log)
	}
	return conversationrepo.NewConversationGormRepository(db)
}

// ProvideAuditRecorder provides the lifecycle audit sink.
func ProvideAuditRecorder(db *gorm.DB, log zerolog.Logger) conversation.AuditRecorder {
	if db == nil {
		return audit.NewLogRecorder(log)
	}
	return audit.NewGormRecorder(db)
}

// ProvideOutbound provides the end-user delivery client.
func ProvideOutbound(cfg *config.Config, log zerolog.Logger) conversation.Outbound {
	if client := outbound.NewWebhookClient(cfg.OutboundWebhookURL, cfg.InternalAPIKey, cfg.OutboundTimeout); client != nil {
		return client
	}
	return outbound.NewNoopClient(log)
}

// ProvideNotifier provides the SLA alert fan-out. It returns nil when no
// channel is enabled.
func ProvideNotifier(cfg *config.Config, log zerolog.Logger) sla.Notifier {
	var channels []notifier.Channel
	if cfg.SLAAlertTelegramEnabled {
		if tg := notifier.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.OutboundTimeout); tg != nil {
			channels = append(channels, notifier.NewGuarded(tg, notifierCooldown, log))
		} else {
			log.Warn().Msg("telegram alerts enabled but bot token or chat id missing")
		}
	}
	if cfg.SLAAlertLarkEnabled {
		if lk := notifier.NewLarkNotifier(cfg.LarkAppID, cfg.LarkAppSecret, cfg.LarkChatID); lk != nil {
			channels = append(channels, notifier.NewGuarded(lk, notifierCooldown, log))
		} else {
			log.Warn().Msg("lark alerts enabled but app credentials or chat id missing")
		}
	}
	if len(channels) == 0 {
		return nil
	}
	return notifier.NewMulti(channels...)
}

// ProvideHubMetrics provides the prometheus hub recorder.
func ProvideHubMetrics() hub.Metrics { return metrics.Recorder{} }

// ProvideSLARecorder provides the prometheus alert recorder.
func ProvideSLARecorder() sla.Recorder { return metrics.Recorder{} }

// ProvideTransitionRecorder provides the prometheus transition recorder.
func ProvideTransitionRecorder() livechat.TransitionRecorder { return metrics.Recorder{} }

// ProvideWSHealth provides the websocket health tracker.
func ProvideWSHealth() *metrics.WSHealth {
	return metrics.NewWSHealth()
}

// ProvideVerifier provides the operator token verifier.
func ProvideVerifier(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*auth.Verifier, func(), error) {
	v, err := auth.NewVerifier(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return v, v.Close, nil
}

// ProvideReadinessChecks provides the extra /readyz checks.
func ProvideReadinessChecks(db *gorm.DB) handlers.ReadinessChecks {
	checks := handlers.ReadinessChecks{}
	if db != nil {
		checks["database"] = func(context.Context) error { return database.Ping(db) }
	}
	return checks
}

// ProvideCrontab provides the stale session sweep. It returns nil when
// cleanup is disabled.
func ProvideCrontab(cfg *config.Config, svc *livechat.Service, log zerolog.Logger) *crontab.Crontab {
	if !cfg.SessionCleanupEnabled {
		return nil
	}
	return crontab.NewCrontab(svc, cfg.SessionCleanupSchedule, log)
}
