// Package jobs executa depósitos, transferências e estornos de forma assíncrona,
// com tentativas limitadas, backoff fixo e registro de falhas no ledger.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matheusmosca/ledger-transactions/internal/ledger"
)

// Name identifica o tipo de job
type Name string

const (
	JobDeposit  Name = "deposit"
	JobTransfer Name = "transfer"
	JobReversal Name = "reversal"
)

// Job é a unidade de trabalho enfileirada
type Job struct {
	ID         string          `json:"id"`
	Name       Name            `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewJob serializa o payload num novo job
func NewJob(name Name, payload any) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", name, err)
	}
	return &Job{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Queue abstrai o transporte dos jobs
type Queue interface {
	Enqueue(ctx context.Context, job *Job) error

	// Dequeue bloqueia até haver um job ou o contexto ser cancelado
	Dequeue(ctx context.Context) (*Job, error)

	// Complete registra o resultado final do job (err == nil em caso de sucesso)
	Complete(ctx context.Context, job *Job, err error) error

	// Release devolve à fila um job interrompido, preservando as tentativas já feitas;
	// ele volta a ficar disponível após delay
	Release(ctx context.Context, job *Job, delay time.Duration) error
}

// ErrInterrupted indica que o worker foi encerrado antes de o job terminar
var ErrInterrupted = errors.New("job interrupted")

// Monitor recebe o ciclo de vida dos jobs; puramente observacional
type Monitor interface {
	RecordJobStart(ctx context.Context, job *Job) error
	RecordJobSuccess(ctx context.Context, job *Job, result map[string]any) error
	RecordJobFailure(ctx context.Context, job *Job, cause error) error
}

// Stats resume os jobs conhecidos pelo monitor
type Stats struct {
	Active       int64 `json:"active"`
	Completed    int64 `json:"completed"`
	Failed       int64 `json:"failed"`
	FailureCount int64 `json:"failure_count"`
}

// DepositPayload é o payload do job de depósito
type DepositPayload struct {
	ActorUserID       int64           `json:"actor_user_id"`
	ToAccountPublicID string          `json:"to_account_id"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description,omitempty"`
	TransactionKey    string          `json:"transaction_key"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
}

func (p DepositPayload) Input() ledger.DepositInput {
	return ledger.DepositInput{
		ActorUserID:       p.ActorUserID,
		ToAccountPublicID: p.ToAccountPublicID,
		Amount:            p.Amount,
		Description:       p.Description,
		TransactionKey:    p.TransactionKey,
		Metadata:          p.Metadata,
	}
}

// TransferPayload é o payload do job de transferência
type TransferPayload struct {
	ActorUserID         int64           `json:"actor_user_id"`
	FromAccountPublicID string          `json:"from_account_id"`
	ToAccountPublicID   string          `json:"to_account_id"`
	Amount              decimal.Decimal `json:"amount"`
	Description         string          `json:"description,omitempty"`
	TransactionKey      string          `json:"transaction_key"`
	Metadata            map[string]any  `json:"metadata,omitempty"`
}

func (p TransferPayload) Input() ledger.TransferInput {
	return ledger.TransferInput{
		ActorUserID:         p.ActorUserID,
		FromAccountPublicID: p.FromAccountPublicID,
		ToAccountPublicID:   p.ToAccountPublicID,
		Amount:              p.Amount,
		Description:         p.Description,
		TransactionKey:      p.TransactionKey,
		Metadata:            p.Metadata,
	}
}

// ReversalPayload é o payload do job de estorno
type ReversalPayload struct {
	ActorUserID      int64  `json:"actor_user_id"`
	OriginalID       int64  `json:"original_id,omitempty"`
	OriginalPublicID string `json:"original_public_id,omitempty"`
	Reason           string `json:"reason,omitempty"`
	TransactionKey   string `json:"transaction_key"`
}

func (p ReversalPayload) Input() ledger.ReversalInput {
	return ledger.ReversalInput{
		ActorUserID:      p.ActorUserID,
		OriginalID:       p.OriginalID,
		OriginalPublicID: p.OriginalPublicID,
		Reason:           p.Reason,
		TransactionKey:   p.TransactionKey,
	}
}

// payloadKey extrai a chave de idempotência sem conhecer o tipo do payload
func payloadKey(job *Job) (string, error) {
	var keyed struct {
		TransactionKey string `json:"transaction_key"`
	}
	if err := json.Unmarshal(job.Payload, &keyed); err != nil {
		return "", fmt.Errorf("failed to decode %s payload: %w", job.Name, err)
	}
	return keyed.TransactionKey, nil
}
