package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the livechat-api service.
type Config struct {
	// Service settings
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"livechat-api"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	HTTPPort        int           `env:"LIVECHAT_API_PORT" envDefault:"8190"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	// OpenTelemetry
	EnableTracing bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTLPEndpoint  string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`

	// Operator auth. A shared HS256 secret, a JWKS endpoint, or both.
	AuthSecret    string `env:"AUTH_SECRET"`
	AuthAlgorithm string `env:"AUTH_ALGORITHM" envDefault:"HS256"`
	AuthIssuer    string `env:"ISSUER"`
	AuthAudience  string `env:"AUDIENCE"`
	AuthJWKSURL   string `env:"JWKS_URL"`
	// Shared key for service-to-service calls on /v1/internal.
	InternalAPIKey string `env:"INTERNAL_API_KEY"`

	// Broker. Empty RedisURL selects the in-process broker (single instance only).
	RedisURL      string `env:"REDIS_URL"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Conversation store. Empty DatabaseURL selects the in-memory store.
	DatabaseURL string `env:"DATABASE_URL"`
	DBMaxIdle   int    `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBMaxOpen   int    `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`

	// Websocket
	WSRateLimitMessages int           `env:"WS_RATE_LIMIT_MESSAGES" envDefault:"30"`
	WSRateLimitWindow   time.Duration `env:"WS_RATE_LIMIT_WINDOW" envDefault:"60s"`
	WSMaxMessageLength  int           `env:"WS_MAX_MESSAGE_LENGTH" envDefault:"5000"`
	WSAuthTimeout       time.Duration `env:"WS_AUTH_TIMEOUT" envDefault:"10s"`
	WSPongWait          time.Duration `env:"WS_PONG_WAIT" envDefault:"60s"`
	WSWriteTimeout      time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`

	// Presence
	PresenceWindow    time.Duration `env:"PRESENCE_WINDOW" envDefault:"90s"`
	HeartbeatInterval time.Duration `env:"PRESENCE_HEARTBEAT_INTERVAL" envDefault:"30s"`

	// SLA thresholds
	SLAMaxQueueWait         time.Duration `env:"SLA_MAX_QUEUE_WAIT" envDefault:"300s"`
	SLAMaxFirstResponse     time.Duration `env:"SLA_MAX_FRT" envDefault:"120s"`
	SLAMaxResolution        time.Duration `env:"SLA_MAX_RESOLUTION" envDefault:"3600s"`
	SLAAlertTelegramEnabled bool          `env:"SLA_ALERT_TELEGRAM_ENABLED" envDefault:"false"`
	SLAAlertLarkEnabled     bool          `env:"SLA_ALERT_LARK_ENABLED" envDefault:"false"`

	// Notification channels
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `env:"TELEGRAM_CHAT_ID"`
	LarkAppID        string `env:"LARK_APP_ID"`
	LarkAppSecret    string `env:"LARK_APP_SECRET"`
	LarkChatID       string `env:"LARK_CHAT_ID"`

	// Outbound delivery to the end-user channel
	OutboundWebhookURL string        `env:"OUTBOUND_WEBHOOK_URL"`
	OutboundTimeout    time.Duration `env:"OUTBOUND_TIMEOUT" envDefault:"10s"`

	// Session cleanup
	SessionCleanupEnabled    bool          `env:"SESSION_CLEANUP_ENABLED" envDefault:"true"`
	SessionCleanupSchedule   string        `env:"SESSION_CLEANUP_SCHEDULE" envDefault:"*/5 * * * *"`
	SessionInactiveTimeout   time.Duration `env:"SESSION_INACTIVE_TIMEOUT" envDefault:"30m"`
	SessionWaitingTimeout    time.Duration `env:"SESSION_WAITING_TIMEOUT" envDefault:"10m"`
	InboundDedupeCacheSize   int           `env:"INBOUND_DEDUPE_CACHE_SIZE" envDefault:"4096"`
	ConversationHistoryLimit int           `env:"CONVERSATION_HISTORY_LIMIT" envDefault:"50"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	if !c.IsDevelopment() && strings.TrimSpace(c.AuthSecret) == "" && strings.TrimSpace(c.AuthJWKSURL) == "" {
		return fmt.Errorf("AUTH_SECRET or JWKS_URL is required when ENVIRONMENT is %s", c.Environment)
	}
	if strings.TrimSpace(c.AuthJWKSURL) != "" && strings.TrimSpace(c.AuthIssuer) == "" {
		return fmt.Errorf("ISSUER is required when JWKS_URL is set")
	}
	if c.SLAAlertTelegramEnabled {
		if strings.TrimSpace(c.TelegramBotToken) == "" || strings.TrimSpace(c.TelegramChatID) == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID are required when SLA_ALERT_TELEGRAM_ENABLED is true")
		}
	}
	if c.SLAAlertLarkEnabled {
		if strings.TrimSpace(c.LarkAppID) == "" || strings.TrimSpace(c.LarkAppSecret) == "" || strings.TrimSpace(c.LarkChatID) == "" {
			return fmt.Errorf("LARK_APP_ID, LARK_APP_SECRET and LARK_CHAT_ID are required when SLA_ALERT_LARK_ENABLED is true")
		}
	}
	if c.WSRateLimitMessages <= 0 {
		return fmt.Errorf("WS_RATE_LIMIT_MESSAGES must be positive")
	}
	if c.WSRateLimitWindow <= 0 {
		return fmt.Errorf("WS_RATE_LIMIT_WINDOW must be positive")
	}
	if c.PresenceWindow <= 0 {
		return fmt.Errorf("PRESENCE_WINDOW must be positive")
	}
	return nil
}

// IsDevelopment reports whether dev-only shortcuts (bare operator_id auth) are allowed.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Addr returns the HTTP server address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
