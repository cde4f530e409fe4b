package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"livechat-api/internal/domain/sla"
)

const telegramBaseURL = "https://api.telegram.org"

// TelegramNotifier posts SLA alerts to a Telegram chat through the Bot API.
type TelegramNotifier struct {
	chatID     string
	token      string
	httpClient *resty.Client
}

type telegramSendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// NewTelegramNotifier returns nil when token or chatID is empty.
func NewTelegramNotifier(token, chatID string, timeout time.Duration) *TelegramNotifier {
	return newTelegramNotifier(telegramBaseURL, token, chatID, timeout)
}

func newTelegramNotifier(baseURL, token, chatID string, timeout time.Duration) *TelegramNotifier {
	token = strings.TrimSpace(token)
	chatID = strings.TrimSpace(chatID)
	if token == "" || chatID == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("User-Agent", "livechat-api/1.0").
		SetTimeout(timeout)
	return &TelegramNotifier{chatID: chatID, token: token, httpClient: client}
}

// Name identifies the channel in logs and breaker names.
func (n *TelegramNotifier) Name() string { return "telegram" }

// Notify implements sla.Notifier.
func (n *TelegramNotifier) Notify(ctx context.Context, alert sla.Alert) error {
	if n == nil {
		return fmt.Errorf("telegram notifier is not configured")
	}
	var result telegramResponse
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(telegramSendMessageRequest{
			ChatID:    n.chatID,
			Text:      FormatAlert(alert),
			ParseMode: "HTML",
		}).
		SetResult(&result).
		SetError(&result).
		Post("/bot" + n.token + "/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	if resp.IsError() || !result.OK {
		return fmt.Errorf("telegram error (%d): %s", resp.StatusCode(), result.Description)
	}
	return nil
}
