package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "livechat-api", cfg.ServiceName)
	assert.Equal(t, 30, cfg.WSRateLimitMessages)
	assert.Equal(t, 60*time.Second, cfg.WSRateLimitWindow)
	assert.Equal(t, 90*time.Second, cfg.PresenceWindow)
	assert.Equal(t, 300*time.Second, cfg.SLAMaxQueueWait)
	assert.Equal(t, ":8190", cfg.Addr())
	assert.True(t, cfg.IsDevelopment())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "production without verifier",
			mutate:  func(c *Config) { c.Environment = "production" },
			wantErr: "AUTH_SECRET or JWKS_URL is required",
		},
		{
			name: "jwks without issuer",
			mutate: func(c *Config) {
				c.AuthJWKSURL = "https://idp/jwks"
			},
			wantErr: "ISSUER is required",
		},
		{
			name:    "telegram enabled without token",
			mutate:  func(c *Config) { c.SLAAlertTelegramEnabled = true },
			wantErr: "TELEGRAM_BOT_TOKEN",
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *Config) { c.WSRateLimitMessages = 0 },
			wantErr: "WS_RATE_LIMIT_MESSAGES",
		},
		{
			name: "production with secret",
			mutate: func(c *Config) {
				c.Environment = "production"
				c.AuthSecret = "secret"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Environment:         "development",
				WSRateLimitMessages: 30,
				WSRateLimitWindow:   time.Minute,
				PresenceWindow:      90 * time.Second,
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
