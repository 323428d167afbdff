package ledger

import (
	"context"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
)

// Notifier entrega notificações de transações. Best-effort: falhas nunca
// afetam o resultado da operação no ledger.
type Notifier interface {
	NotifyTransactionCompleted(ctx context.Context, t *domain.Transaction, notifySender, notifyRecipient bool) error
	NotifyTransactionFailed(ctx context.Context, t *domain.Transaction) error
	NotifyReversalCompleted(ctx context.Context, reversal, original *domain.Transaction) error
}

// Auditor registra ações executadas sobre recursos do ledger
type Auditor interface {
	RecordAction(ctx context.Context, action, resourceType string, details map[string]any) error
}

type NopNotifier struct{}

func (NopNotifier) NotifyTransactionCompleted(context.Context, *domain.Transaction, bool, bool) error {
	return nil
}

func (NopNotifier) NotifyTransactionFailed(context.Context, *domain.Transaction) error {
	return nil
}

func (NopNotifier) NotifyReversalCompleted(context.Context, *domain.Transaction, *domain.Transaction) error {
	return nil
}

type NopAuditor struct{}

func (NopAuditor) RecordAction(context.Context, string, string, map[string]any) error {
	return nil
}
