package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
)

// WebhookNotifier envia TransactionEvent via HTTP POST
type WebhookNotifier struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

// NewWebhookNotifier cria uma nova instância de WebhookNotifier com retry
func NewWebhookNotifier(url string, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(5*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &WebhookNotifier{client: client, url: url, logger: logger}
}

func (n *WebhookNotifier) NotifyTransactionCompleted(ctx context.Context, t *domain.Transaction, notifySender, notifyRecipient bool) error {
	return n.post(ctx, CompletedEvent(t, notifySender, notifyRecipient))
}

func (n *WebhookNotifier) NotifyTransactionFailed(ctx context.Context, t *domain.Transaction) error {
	return n.post(ctx, FailedEvent(t))
}

func (n *WebhookNotifier) NotifyReversalCompleted(ctx context.Context, reversal, original *domain.Transaction) error {
	return n.post(ctx, ReversalEvent(reversal, original))
}

func (n *WebhookNotifier) post(ctx context.Context, event TransactionEvent) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("X-Event", event.Event).
		SetBody(event).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("webhook %s failed: %w", event.Event, err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook %s returned status %d", event.Event, resp.StatusCode())
	}

	n.logger.Debug("📤 webhook delivered", zap.String("event", event.Event), zap.Int("status", resp.StatusCode()))
	return nil
}
