// Package outbound delivers operator replies to the end-user's messaging channel.
package outbound

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"livechat-api/internal/domain/conversation"
)

var (
	_ conversation.Outbound = (*WebhookClient)(nil)
	_ conversation.Outbound = (*NoopClient)(nil)
)

// WebhookClient posts replies to the channel gateway, which owns the
// platform credentials.
type WebhookClient struct {
	url        string
	httpClient *resty.Client
}

type deliverRequest struct {
	UserID string `json:"user_id"`
	Type   string `json:"type"`
	Text   string `json:"text"`
}

// NewWebhookClient returns nil when url is empty.
func NewWebhookClient(url, internalKey string, timeout time.Duration) *WebhookClient {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetHeader("User-Agent", "livechat-api/1.0").
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	if internalKey != "" {
		client.SetHeader("X-Internal-Key", internalKey)
	}
	return &WebhookClient{url: url, httpClient: client}
}

// Deliver implements conversation.Outbound.
func (c *WebhookClient) Deliver(ctx context.Context, userID, text string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(deliverRequest{UserID: userID, Type: "text", Text: text}).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("outbound webhook request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("outbound webhook error (%d): %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// NoopClient only logs. It is used when no webhook is configured.
type NoopClient struct {
	log zerolog.Logger
}

func NewNoopClient(log zerolog.Logger) *NoopClient {
	return &NoopClient{log: log.With().Str("component", "outbound").Logger()}
}

// Deliver implements conversation.Outbound.
func (c *NoopClient) Deliver(ctx context.Context, userID, text string) error {
	c.log.Debug().Str("user_id", userID).Int("length", len(text)).Msg("outbound delivery skipped: no webhook configured")
	return nil
}
