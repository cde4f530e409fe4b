package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"livechat-api/internal/domain/sla"
)

// LarkNotifier posts SLA alerts to a Lark (Feishu) group chat.
type LarkNotifier struct {
	chatID  string
	larkCli *lark.Client
}

// NewLarkNotifier returns nil when any credential is empty.
func NewLarkNotifier(appID, appSecret, chatID string, opts ...lark.ClientOptionFunc) *LarkNotifier {
	appID = strings.TrimSpace(appID)
	appSecret = strings.TrimSpace(appSecret)
	chatID = strings.TrimSpace(chatID)
	if appID == "" || appSecret == "" || chatID == "" {
		return nil
	}
	return &LarkNotifier{
		chatID:  chatID,
		larkCli: lark.NewClient(appID, appSecret, opts...),
	}
}

// Name identifies the channel in logs and breaker names.
func (n *LarkNotifier) Name() string { return "lark" }

// Notify implements sla.Notifier.
func (n *LarkNotifier) Notify(ctx context.Context, alert sla.Alert) error {
	if n == nil {
		return fmt.Errorf("lark notifier is not configured")
	}
	content, err := json.Marshal(map[string]string{"text": PlainAlert(alert)})
	if err != nil {
		return fmt.Errorf("encode lark message: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(n.chatID).
			MsgType(larkim.MsgTypeText).
			Content(string(content)).
			Build()).
		Build()

	resp, err := n.larkCli.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("lark send message failed: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("lark send message error: %s", resp.Msg)
	}
	return nil
}
