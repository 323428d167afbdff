package notification

import (
	"context"
	"errors"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
	"github.com/matheusmosca/ledger-transactions/internal/ledger"
)

// Multi entrega para todos os notifiers; uma falha não impede os demais
type Multi []ledger.Notifier

func (m Multi) NotifyTransactionCompleted(ctx context.Context, t *domain.Transaction, notifySender, notifyRecipient bool) error {
	return m.each(func(n ledger.Notifier) error {
		return n.NotifyTransactionCompleted(ctx, t, notifySender, notifyRecipient)
	})
}

func (m Multi) NotifyTransactionFailed(ctx context.Context, t *domain.Transaction) error {
	return m.each(func(n ledger.Notifier) error {
		return n.NotifyTransactionFailed(ctx, t)
	})
}

func (m Multi) NotifyReversalCompleted(ctx context.Context, reversal, original *domain.Transaction) error {
	return m.each(func(n ledger.Notifier) error {
		return n.NotifyReversalCompleted(ctx, reversal, original)
	})
}

func (m Multi) each(fn func(ledger.Notifier) error) error {
	var errs []error
	for _, n := range m {
		if err := fn(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
