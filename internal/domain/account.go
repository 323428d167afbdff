package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus representa os possíveis status de uma conta
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusInactive AccountStatus = "inactive"
)

// ParseAccountStatus converte o valor persistido em AccountStatus
func ParseAccountStatus(s string) (AccountStatus, error) {
	switch AccountStatus(s) {
	case AccountStatusActive, AccountStatusInactive:
		return AccountStatus(s), nil
	}
	return "", fmt.Errorf("unknown account status %q", s)
}

// Account representa a conta (saldo) de um usuário
type Account struct {
	ID        int64           `json:"-" db:"id"`
	PublicID  string          `json:"public_id" db:"public_id"`
	UserID    int64           `json:"user_id" db:"user_id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Status    AccountStatus   `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time      `json:"-" db:"deleted_at"`
}

// NewAccount cria uma nova instância de Account ativa
func NewAccount(publicID string, userID int64, initialBalance decimal.Decimal) *Account {
	now := time.Now()
	return &Account{
		PublicID:  publicID,
		UserID:    userID,
		Balance:   RoundMoney(initialBalance),
		Status:    AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive && a.DeletedAt == nil
}

func (a *Account) Activate() {
	a.Status = AccountStatusActive
	a.UpdatedAt = time.Now()
}

func (a *Account) Deactivate() {
	a.Status = AccountStatusInactive
	a.UpdatedAt = time.Now()
}

// Credit aumenta o saldo incondicionalmente
func (a *Account) Credit(amount decimal.Decimal) {
	a.Balance = RoundMoney(a.Balance.Add(amount))
	a.UpdatedAt = time.Now()
}

// Debit diminui o saldo; falha com InsufficientFundsError se amount > saldo
func (a *Account) Debit(amount decimal.Decimal, operation string) error {
	if amount.GreaterThan(a.Balance) {
		return &InsufficientFundsError{
			Operation: operation,
			Required:  amount,
			Available: a.Balance,
		}
	}

	a.Balance = RoundMoney(a.Balance.Sub(amount))
	a.UpdatedAt = time.Now()
	return nil
}

// CanCover verifica se o saldo cobre o valor, sem alterar a conta
func (a *Account) CanCover(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}
