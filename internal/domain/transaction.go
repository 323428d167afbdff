package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType representa os tipos de transação suportados
type TransactionType string

const (
	TransactionTypeDeposit  TransactionType = "deposit"
	TransactionTypeTransfer TransactionType = "transfer"
	TransactionTypeReversal TransactionType = "reversal"
)

// ParseTransactionType converte o valor persistido em TransactionType
func ParseTransactionType(s string) (TransactionType, error) {
	switch TransactionType(s) {
	case TransactionTypeDeposit, TransactionTypeTransfer, TransactionTypeReversal:
		return TransactionType(s), nil
	}
	return "", fmt.Errorf("unknown transaction type %q", s)
}

// TransactionStatus representa os estados do ciclo de vida de uma transação
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusReversed  TransactionStatus = "reversed"
)

// ParseTransactionStatus converte o valor persistido em TransactionStatus
func ParseTransactionStatus(s string) (TransactionStatus, error) {
	switch TransactionStatus(s) {
	case TransactionStatusPending, TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusReversed:
		return TransactionStatus(s), nil
	}
	return "", fmt.Errorf("unknown transaction status %q", s)
}

var ErrInvalidTransition = errors.New("invalid transaction status transition")

// Transaction representa uma movimentação de saldo
type Transaction struct {
	ID             int64              `json:"-" db:"id"`
	PublicID       string             `json:"public_id" db:"public_id"`
	AccountID      int64              `json:"-" db:"account_id"`
	Type           TransactionType    `json:"type" db:"type"`
	Amount         decimal.Decimal    `json:"amount" db:"amount"`
	ReferenceID    *int64             `json:"-" db:"reference_id"`
	Status         TransactionStatus  `json:"status" db:"status"`
	Description    *string            `json:"description,omitempty" db:"description"`
	TransactionKey *string            `json:"transaction_key,omitempty" db:"transaction_key"`
	ErrorMessage   *string            `json:"error_message,omitempty" db:"error_message"`
	Detail         *TransactionDetail `json:"detail,omitempty" db:"-"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" db:"updated_at"`
}

// NewTransaction cria uma transação pendente; o public_id é atribuído pelo store
func NewTransaction(accountID int64, txType TransactionType, amount decimal.Decimal) *Transaction {
	now := time.Now()
	return &Transaction{
		AccountID: accountID,
		Type:      txType,
		Amount:    RoundMoney(amount),
		Status:    TransactionStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (t *Transaction) IsDeposit() bool   { return t.Type == TransactionTypeDeposit }
func (t *Transaction) IsTransfer() bool  { return t.Type == TransactionTypeTransfer }
func (t *Transaction) IsReversal() bool  { return t.Type == TransactionTypeReversal }
func (t *Transaction) IsPending() bool   { return t.Status == TransactionStatusPending }
func (t *Transaction) IsCompleted() bool { return t.Status == TransactionStatusCompleted }
func (t *Transaction) IsFailed() bool    { return t.Status == TransactionStatusFailed }
func (t *Transaction) WasReversed() bool { return t.Status == TransactionStatusReversed }

// CanBeReversed verifica as condições locais de estorno.
// A existência de outro estorno pendente ou concluído é verificada pelo orquestrador.
func (t *Transaction) CanBeReversed() bool {
	return t.ReversalBlocker() == nil
}

// ReversalBlocker retorna o motivo pelo qual a transação não pode ser estornada, ou nil
func (t *Transaction) ReversalBlocker() error {
	switch {
	case t.WasReversed():
		return NewTransactionError("transaction %s has already been reversed", t.PublicID)
	case t.IsReversal():
		return NewTransactionError("transaction %s is a reversal and cannot be reversed", t.PublicID)
	case !t.IsCompleted():
		return NewTransactionError("only completed transactions can be reversed (transaction %s is %s)", t.PublicID, t.Status)
	}
	return nil
}

// MarkCompleted: pending -> completed
func (t *Transaction) MarkCompleted() error {
	if !t.IsPending() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, TransactionStatusCompleted)
	}
	t.Status = TransactionStatusCompleted
	t.ErrorMessage = nil
	t.UpdatedAt = time.Now()
	return nil
}

// MarkFailed registra a falha. Também é usado pelo runner para atualizar uma linha já falha.
func (t *Transaction) MarkFailed(message string) error {
	if !t.IsPending() && !t.IsFailed() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, TransactionStatusFailed)
	}
	t.Status = TransactionStatusFailed
	t.ErrorMessage = &message
	t.UpdatedAt = time.Now()
	return nil
}

// MarkReversed: completed -> reversed
func (t *Transaction) MarkReversed() error {
	if !t.IsCompleted() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, TransactionStatusReversed)
	}
	t.Status = TransactionStatusReversed
	t.UpdatedAt = time.Now()
	return nil
}

// Key retorna a chave de idempotência ou "" quando ausente
func (t *Transaction) Key() string {
	if t.TransactionKey == nil {
		return ""
	}
	return *t.TransactionKey
}

// TransactionDetail guarda as contrapartes e metadados de uma transação (1:1)
type TransactionDetail struct {
	ID            int64          `json:"-" db:"id"`
	PublicID      string         `json:"public_id" db:"public_id"`
	TransactionID int64          `json:"-" db:"transaction_id"`
	FromAccountID *int64         `json:"-" db:"from_account_id"`
	ToAccountID   *int64         `json:"-" db:"to_account_id"`
	Metadata      map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

// NewTransactionDetail cria o detalhe; from/to podem ser nil
func NewTransactionDetail(from, to *int64, metadata map[string]any) *TransactionDetail {
	now := time.Now()
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &TransactionDetail{
		FromAccountID: from,
		ToAccountID:   to,
		Metadata:      metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// SwappedForReversal cria o detalhe do estorno com origem e destino invertidos
func (d *TransactionDetail) SwappedForReversal(metadata map[string]any) *TransactionDetail {
	return NewTransactionDetail(d.ToAccountID, d.FromAccountID, metadata)
}

// Stamp adiciona uma chave de metadado (único tipo de mutação permitido após a criação)
func (d *TransactionDetail) Stamp(key string, value any) {
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	d.Metadata[key] = value
	d.UpdatedAt = time.Now()
}

// Int64Ptr é um atalho para campos opcionais de id
func Int64Ptr(v int64) *int64 {
	return &v
}

// StringPtr retorna nil para string vazia
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
