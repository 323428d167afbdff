// Package notification entrega eventos de transações para sistemas externos (Kafka, webhooks).
// Entregas são best-effort: o chamador apenas registra as falhas.
package notification

import (
	"time"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
	"github.com/matheusmosca/ledger-transactions/internal/ledger"
)

const (
	EventTransactionCompleted = "transaction.completed"
	EventTransactionFailed    = "transaction.failed"
	EventReversalCompleted    = "reversal.completed"
)

// Noop descarta todas as notificações
type Noop = ledger.NopNotifier

// TransactionEvent é o payload publicado para cada notificação
type TransactionEvent struct {
	Event           string    `json:"event"`
	TransactionID   string    `json:"transaction_id"`
	Type            string    `json:"type"`
	Status          string    `json:"status"`
	Amount          string    `json:"amount"`
	FromAccountID   *int64    `json:"from_account_id,omitempty"`
	ToAccountID     *int64    `json:"to_account_id,omitempty"`
	NotifySender    bool      `json:"notify_sender"`
	NotifyRecipient bool      `json:"notify_recipient"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	OriginalID      string    `json:"original_transaction_id,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

func newEvent(name string, t *domain.Transaction) TransactionEvent {
	event := TransactionEvent{
		Event:         name,
		TransactionID: t.PublicID,
		Type:          string(t.Type),
		Status:        string(t.Status),
		Amount:        domain.FormatMoney(t.Amount),
		OccurredAt:    time.Now().UTC(),
	}
	if t.Detail != nil {
		event.FromAccountID = t.Detail.FromAccountID
		event.ToAccountID = t.Detail.ToAccountID
	}
	if t.ErrorMessage != nil {
		event.ErrorMessage = *t.ErrorMessage
	}
	return event
}

// CompletedEvent monta o evento de conclusão com os destinatários solicitados
func CompletedEvent(t *domain.Transaction, notifySender, notifyRecipient bool) TransactionEvent {
	event := newEvent(EventTransactionCompleted, t)
	event.NotifySender = notifySender
	event.NotifyRecipient = notifyRecipient
	return event
}

// FailedEvent notifica quem iniciou a transação
func FailedEvent(t *domain.Transaction) TransactionEvent {
	event := newEvent(EventTransactionFailed, t)
	event.NotifySender = true
	if event.ErrorMessage == "" {
		event.ErrorMessage = "unknown error"
	}
	return event
}

// ReversalEvent notifica as duas partes do estorno
func ReversalEvent(reversal, original *domain.Transaction) TransactionEvent {
	event := newEvent(EventReversalCompleted, reversal)
	event.NotifySender = true
	event.NotifyRecipient = true
	if original != nil {
		event.OriginalID = original.PublicID
	}
	return event
}
