package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound é o sentinel para qualquer busca sem resultado
	ErrNotFound = errors.New("not found")

	// ErrDuplicateTransactionKey indica que a constraint única de transaction_key rejeitou a inserção
	ErrDuplicateTransactionKey = errors.New("duplicate transaction key")

	ErrInvalidAmount   = &ValidationError{Field: "amount", Message: "amount must be greater than 0"}
	ErrInactiveAccount = &ValidationError{Field: "account", Message: "account is not active"}
)

// InsufficientFundsError indica que a conta de origem não cobre o movimento solicitado
type InsufficientFundsError struct {
	Operation string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for %s: required %s, available %s, short %s",
		e.Operation,
		FormatMoney(e.Required),
		FormatMoney(e.Available),
		FormatMoney(e.Shortfall()),
	)
}

// Shortfall retorna quanto falta para cobrir o movimento
func (e *InsufficientFundsError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Available)
}

// TransactionError representa a violação de uma regra de domínio
type TransactionError struct {
	Message string
	Err     error
}

func NewTransactionError(format string, args ...any) *TransactionError {
	return &TransactionError{Message: fmt.Sprintf(format, args...)}
}

func (e *TransactionError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// NotFoundError indica que uma conta ou transação não existe
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ValidationError indica dados de entrada inválidos, detectados antes de qualquer escrita
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsInsufficientFunds verifica se o erro (ou algum erro encadeado) é de saldo insuficiente
func IsInsufficientFunds(err error) bool {
	var target *InsufficientFundsError
	return errors.As(err, &target)
}

// IsTransactionError verifica se o erro é uma violação de regra de domínio
func IsTransactionError(err error) bool {
	var target *TransactionError
	return errors.As(err, &target)
}

// IsRetryable informa se uma falha pode ser tentada novamente.
// Erros de domínio são definitivos; qualquer outra falha (storage, rede) é transitória.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var (
		funds      *InsufficientFundsError
		txErr      *TransactionError
		validation *ValidationError
	)
	switch {
	case errors.As(err, &funds), errors.As(err, &txErr), errors.As(err, &validation):
		return false
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicateTransactionKey):
		return false
	}
	return true
}
