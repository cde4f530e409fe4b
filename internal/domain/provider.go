package domain

import (
	"github.com/google/wire"
	"github.com/rs/zerolog"

	"livechat-api/internal/config"
	"livechat-api/internal/domain/broker"
	"livechat-api/internal/domain/conversation"
	"livechat-api/internal/domain/event"
	"livechat-api/internal/domain/hub"
	"livechat-api/internal/domain/livechat"
	"livechat-api/internal/domain/presence"
	"livechat-api/internal/domain/ratelimit"
	"livechat-api/internal/domain/sla"
)

// ServerID identifies this process in broker keys and relays.
type ServerID string

// ProvidePresenceStore provides the shared presence and read-marker store.
func ProvidePresenceStore(
	client broker.Client,
	serverID ServerID,
	repo conversation.Repository,
	cfg *config.Config,
	log zerolog.Logger,
) *presence.Store {
	return presence.NewStore(client, string(serverID), log,
		presence.WithWindow(cfg.PresenceWindow),
		presence.WithInboundCounter(repo),
	)
}

// ProvideRegistry provides the local connection registry.
func ProvideRegistry(store *presence.Store, metrics hub.Metrics, log zerolog.Logger) *hub.Registry {
	return hub.NewRegistry(store, metrics, log)
}

// ProvideBroadcaster provides the room broadcaster. It must be started
// before the first connection is accepted.
func ProvideBroadcaster(
	registry *hub.Registry,
	store *presence.Store,
	client broker.Client,
	serverID ServerID,
	metrics hub.Metrics,
	log zerolog.Logger,
) *hub.Broadcaster {
	return hub.NewBroadcaster(registry, store, client, string(serverID), metrics, log)
}

// ProvideLimiter provides the per-operator frame limiter.
func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.WSRateLimitMessages, cfg.WSRateLimitWindow)
}

// ProvideHeartbeat provides the presence heartbeat loop.
func ProvideHeartbeat(
	registry *hub.Registry,
	broadcaster *hub.Broadcaster,
	limiter *ratelimit.Limiter,
	cfg *config.Config,
	log zerolog.Logger,
) *hub.Heartbeat {
	return hub.NewHeartbeat(registry, broadcaster, limiter, 2*cfg.WSRateLimitWindow, cfg.HeartbeatInterval, log)
}

// ProvideSLAMonitor provides the SLA monitor. notifier may be nil.
func ProvideSLAMonitor(
	cfg *config.Config,
	broadcaster *hub.Broadcaster,
	notifier sla.Notifier,
	recorder sla.Recorder,
	log zerolog.Logger,
) *sla.Monitor {
	opts := []sla.Option{sla.WithRecorder(recorder)}
	if notifier != nil {
		opts = append(opts, sla.WithNotifier(notifier))
	}
	return sla.NewMonitor(sla.Thresholds{
		QueueWait:     cfg.SLAMaxQueueWait,
		FirstResponse: cfg.SLAMaxFirstResponse,
		Resolution:    cfg.SLAMaxResolution,
	}, broadcaster, log, opts...)
}

// ProvideCodec provides the client frame codec.
func ProvideCodec(cfg *config.Config) *event.Codec {
	return event.NewCodec(cfg.WSMaxMessageLength)
}

// ProvideLiveChatService provides the live-chat orchestration service.
func ProvideLiveChatService(
	cfg *config.Config,
	repo conversation.Repository,
	registry *hub.Registry,
	broadcaster *hub.Broadcaster,
	store *presence.Store,
	limiter *ratelimit.Limiter,
	monitor *sla.Monitor,
	audit conversation.AuditRecorder,
	outbound conversation.Outbound,
	transitions livechat.TransitionRecorder,
	log zerolog.Logger,
) (*livechat.Service, error) {
	return livechat.NewService(livechat.Deps{
		Repository:  repo,
		Registry:    registry,
		Broadcaster: broadcaster,
		Presence:    store,
		Limiter:     limiter,
		Monitor:     monitor,
		Audit:       audit,
		Outbound:    outbound,
		Transitions: transitions,
	}, livechat.Options{
		HistoryLimit:    cfg.ConversationHistoryLimit,
		DedupeSize:      cfg.InboundDedupeCacheSize,
		InactiveTimeout: cfg.SessionInactiveTimeout,
		WaitingTimeout:  cfg.SessionWaitingTimeout,
	}, log)
}

// ServiceProvider provides all domain services.
var ServiceProvider = wire.NewSet(
	ProvidePresenceStore,
	ProvideRegistry,
	ProvideBroadcaster,
	ProvideLimiter,
	ProvideHeartbeat,
	ProvideSLAMonitor,
	ProvideCodec,
	ProvideLiveChatService,
)
