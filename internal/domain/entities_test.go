package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNewAccount(t *testing.T) {
	// Arrange & Act
	account := NewAccount("acc-123", 42, dec("10.005"))

	// Assert
	assert.Equal(t, "acc-123", account.PublicID)
	assert.Equal(t, int64(42), account.UserID)
	assert.True(t, account.Balance.Equal(dec("10.01")), "balance should be rounded to 2dp, got %s", account.Balance)
	assert.Equal(t, AccountStatusActive, account.Status)
	assert.True(t, account.IsActive())
	assert.False(t, account.CreatedAt.IsZero())
}

func TestAccountDebit(t *testing.T) {
	account := NewAccount("acc", 1, dec("100"))

	err := account.Debit(dec("500"), "transfer")

	var funds *InsufficientFundsError
	require.ErrorAs(t, err, &funds)
	assert.True(t, funds.Shortfall().Equal(dec("400")))
	assert.Contains(t, err.Error(), "short 400.00")
	assert.True(t, account.Balance.Equal(dec("100")), "balance must not change on failed debit")

	require.NoError(t, account.Debit(dec("100"), "transfer"))
	assert.True(t, account.Balance.IsZero())
}

func TestAccountCredit(t *testing.T) {
	account := NewAccount("acc", 1, decimal.Zero)

	account.Credit(dec("500"))
	account.Credit(dec("0.10"))

	assert.Equal(t, "500.10", FormatMoney(account.Balance))
}

func TestAccountDeactivate(t *testing.T) {
	account := NewAccount("acc", 1, decimal.Zero)

	account.Deactivate()
	assert.False(t, account.IsActive())

	account.Activate()
	assert.True(t, account.IsActive())
}

func TestTransactionTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    TransactionStatus
		apply   func(*Transaction) error
		want    TransactionStatus
		wantErr bool
	}{
		{"pending to completed", TransactionStatusPending, (*Transaction).MarkCompleted, TransactionStatusCompleted, false},
		{"pending to failed", TransactionStatusPending, func(tx *Transaction) error { return tx.MarkFailed("boom") }, TransactionStatusFailed, false},
		{"failed stays failed", TransactionStatusFailed, func(tx *Transaction) error { return tx.MarkFailed("again") }, TransactionStatusFailed, false},
		{"completed to reversed", TransactionStatusCompleted, (*Transaction).MarkReversed, TransactionStatusReversed, false},
		{"completed cannot complete", TransactionStatusCompleted, (*Transaction).MarkCompleted, TransactionStatusCompleted, true},
		{"failed cannot complete", TransactionStatusFailed, (*Transaction).MarkCompleted, TransactionStatusFailed, true},
		{"pending cannot be reversed", TransactionStatusPending, (*Transaction).MarkReversed, TransactionStatusPending, true},
		{"reversed is terminal", TransactionStatusReversed, func(tx *Transaction) error { return tx.MarkFailed("x") }, TransactionStatusReversed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := NewTransaction(1, TransactionTypeDeposit, dec("10"))
			tx.Status = tt.from

			err := tt.apply(tx)

			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidTransition))
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, tx.Status)
		})
	}
}

func TestReversalBlocker(t *testing.T) {
	completed := NewTransaction(1, TransactionTypeTransfer, dec("10"))
	completed.Status = TransactionStatusCompleted
	assert.True(t, completed.CanBeReversed())

	reversed := NewTransaction(1, TransactionTypeTransfer, dec("10"))
	reversed.Status = TransactionStatusReversed
	assert.ErrorContains(t, reversed.ReversalBlocker(), "already been reversed")

	reversal := NewTransaction(1, TransactionTypeReversal, dec("10"))
	reversal.Status = TransactionStatusCompleted
	assert.ErrorContains(t, reversal.ReversalBlocker(), "is a reversal")

	pending := NewTransaction(1, TransactionTypeDeposit, dec("10"))
	assert.ErrorContains(t, pending.ReversalBlocker(), "only completed")
	assert.True(t, IsTransactionError(pending.ReversalBlocker()))
}

func TestSwappedForReversal(t *testing.T) {
	detail := NewTransactionDetail(Int64Ptr(1), Int64Ptr(2), nil)

	swapped := detail.SwappedForReversal(map[string]any{"reason": "chargeback"})

	assert.Equal(t, int64(2), *swapped.FromAccountID)
	assert.Equal(t, int64(1), *swapped.ToAccountID)
	assert.Equal(t, "chargeback", swapped.Metadata["reason"])

	depositDetail := NewTransactionDetail(nil, Int64Ptr(7), nil)
	swappedDeposit := depositDetail.SwappedForReversal(nil)
	assert.Equal(t, int64(7), *swappedDeposit.FromAccountID)
	assert.Nil(t, swappedDeposit.ToAccountID)
}

func TestParseEnums(t *testing.T) {
	_, err := ParseTransactionType("withdrawal")
	assert.Error(t, err)

	tp, err := ParseTransactionType("reversal")
	assert.NoError(t, err)
	assert.Equal(t, TransactionTypeReversal, tp)

	_, err = ParseTransactionStatus("rejected")
	assert.Error(t, err)

	_, err = ParseAccountStatus("blocked")
	assert.Error(t, err)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(&InsufficientFundsError{}))
	assert.False(t, IsRetryable(NewTransactionError("nope")))
	assert.False(t, IsRetryable(&NotFoundError{Resource: "account", Key: "x"}))
	assert.False(t, IsRetryable(ErrInvalidAmount))
	assert.True(t, IsRetryable(errors.New("connection reset by peer")))
	assert.True(t, errors.Is(&NotFoundError{Resource: "account", Key: "x"}, ErrNotFound))
}

func TestValidateAmount(t *testing.T) {
	assert.ErrorIs(t, ValidateAmount(decimal.Zero), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(dec("-1")), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(dec("0.001")), ErrInvalidAmount)
	assert.NoError(t, ValidateAmount(dec("0.01")))

	v, err := ParseMoney("12.345")
	require.NoError(t, err)
	assert.Equal(t, "12.35", FormatMoney(v))

	_, err = ParseMoney("abc")
	assert.Error(t, err)
}
