package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"wisefido-telemetry/internal/broadcast"
)

// WebhookNotifier critical 作用域事件的 HTTP 回调
// 实现 broadcast.Broadcaster，非 critical 作用域的事件直接忽略
type WebhookNotifier struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewWebhookNotifier 创建 Webhook 通知器
func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookNotifier{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

// Notify 只转发 critical 作用域的事件
func (n *WebhookNotifier) Notify(ctx context.Context, scope string, event string, payload interface{}) error {
	if scope != broadcast.CriticalScope {
		return nil
	}

	envelope := broadcast.Envelope{
		Scope:     scope,
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(envelope).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("failed to post critical event webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	n.logger.Info("Critical event delivered to webhook",
		zap.String("event", event),
		zap.Int("status", resp.StatusCode()),
	)
	return nil
}
