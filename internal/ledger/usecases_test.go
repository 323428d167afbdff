package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
	"github.com/matheusmosca/ledger-transactions/internal/ledger"
	"github.com/matheusmosca/ledger-transactions/internal/repository/memory"
)

type recordingAuditor struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAuditor) RecordAction(_ context.Context, action, _ string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	return nil
}

func (a *recordingAuditor) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.actions...)
}

type fixture struct {
	store        *memory.Store
	transactions *memory.TransactionStore
	useCase      *ledger.TransactionUseCase
	accounts     *ledger.AccountService
	auditor      *recordingAuditor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	transactions := store.Transactions()
	logger := zap.NewNop()
	auditor := &recordingAuditor{}

	processor := ledger.NewProcessor(store, store, transactions, logger)
	return &fixture{
		store:        store,
		transactions: transactions,
		useCase:      ledger.NewTransactionUseCase(store, store, transactions, processor, auditor, logger),
		accounts:     ledger.NewAccountService(store, store, auditor, logger),
		auditor:      auditor,
	}
}

var nextUserID atomic.Int64

func (f *fixture) open(t *testing.T, balance string) *domain.Account {
	t.Helper()
	account, err := f.store.CreateForUser(context.Background(), nil, nextUserID.Add(1), dec(balance))
	require.NoError(t, err)
	return account
}

func (f *fixture) balance(t *testing.T, account *domain.Account) decimal.Decimal {
	t.Helper()
	reloaded, err := f.store.FindByID(context.Background(), nil, account.ID)
	require.NoError(t, err)
	return reloaded.Balance
}

func (f *fixture) history(t *testing.T, account *domain.Account) []*domain.Transaction {
	t.Helper()
	page, err := f.transactions.FindByAccount(context.Background(), nil, account.ID, ledger.Page{PerPage: ledger.MaxPerPage})
	require.NoError(t, err)
	return page.Items
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "expected %s, got %s", want, got.StringFixed(2))
}

func TestCreateDeposit_IdempotentKey(t *testing.T) {
	// Arrange
	f := newFixture(t)
	ctx := context.Background()
	account := f.open(t, "0")
	input := ledger.DepositInput{ActorUserID: 7, ToAccountPublicID: account.PublicID, Amount: dec("500"), TransactionKey: "K1"}

	// Act
	first, err := f.useCase.CreateDeposit(ctx, input)
	require.NoError(t, err)
	second, err := f.useCase.CreateDeposit(ctx, input)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, first.PublicID, second.PublicID)
	assert.Equal(t, domain.TransactionStatusCompleted, second.Status)
	assertMoney(t, "500", f.balance(t, account))
	assert.Len(t, f.history(t, account), 1)
	assert.Equal(t, int64(7), first.Detail.Metadata["requested_by"])
}

func TestCreateDeposit_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.open(t, "0")

	_, err := f.useCase.CreateDeposit(ctx, ledger.DepositInput{ToAccountPublicID: account.PublicID, Amount: decimal.Zero})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.useCase.CreateDeposit(ctx, ledger.DepositInput{ToAccountPublicID: "missing", Amount: dec("10")})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.accounts.Deactivate(ctx, account.PublicID)
	require.NoError(t, err)
	_, err = f.useCase.CreateDeposit(ctx, ledger.DepositInput{ToAccountPublicID: account.PublicID, Amount: dec("10")})
	assert.ErrorIs(t, err, domain.ErrInactiveAccount)

	assert.Empty(t, f.history(t, account), "validation failures must not write")
	assertMoney(t, "0", f.balance(t, account))
}

func TestCreateTransfer_MovesBalance(t *testing.T) {
	// Arrange
	f := newFixture(t)
	from := f.open(t, "1000")
	to := f.open(t, "0")

	// Act
	tx, err := f.useCase.CreateTransfer(context.Background(), ledger.TransferInput{
		ActorUserID:         1,
		FromAccountPublicID: from.PublicID,
		ToAccountPublicID:   to.PublicID,
		Amount:              dec("250.50"),
		Description:         "rent",
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, tx.Status)
	assert.Equal(t, from.ID, tx.AccountID)
	assert.Equal(t, from.ID, *tx.Detail.FromAccountID)
	assert.Equal(t, to.ID, *tx.Detail.ToAccountID)
	assertMoney(t, "749.50", f.balance(t, from))
	assertMoney(t, "250.50", f.balance(t, to))
	assert.Len(t, f.history(t, to), 1, "incoming transfers appear in the destination history")
}

func TestCreateTransfer_InsufficientFunds(t *testing.T) {
	// Arrange
	f := newFixture(t)
	from := f.open(t, "100")
	to := f.open(t, "0")

	// Act
	_, err := f.useCase.CreateTransfer(context.Background(), ledger.TransferInput{
		FromAccountPublicID: from.PublicID,
		ToAccountPublicID:   to.PublicID,
		Amount:              dec("500"),
		TransactionKey:      "K2",
	})

	// Assert
	var funds *domain.InsufficientFundsError
	require.ErrorAs(t, err, &funds)
	assertMoney(t, "500", funds.Required)
	assertMoney(t, "100", funds.Available)
	assertMoney(t, "400", funds.Shortfall())
	assert.False(t, domain.IsRetryable(err))

	assertMoney(t, "100", f.balance(t, from))
	assertMoney(t, "0", f.balance(t, to))
	assert.Empty(t, f.history(t, from))
}

func TestCreateTransfer_RejectsSameAccount(t *testing.T) {
	f := newFixture(t)
	account := f.open(t, "100")

	_, err := f.useCase.CreateTransfer(context.Background(), ledger.TransferInput{
		FromAccountPublicID: account.PublicID,
		ToAccountPublicID:   account.PublicID,
		Amount:              dec("10"),
	})

	var validation *domain.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestCreateTransfer_AtomicOnStorageFailure(t *testing.T) {
	// Arrange
	f := newFixture(t)
	from := f.open(t, "1000")
	to := f.open(t, "0")

	var saves atomic.Int32
	f.store.InjectFailure(func(op string) error {
		if op == "account.save" && saves.Add(1) == 2 {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	// Act
	tx, err := f.useCase.CreateTransfer(context.Background(), ledger.TransferInput{
		FromAccountPublicID: from.PublicID,
		ToAccountPublicID:   to.PublicID,
		Amount:              dec("300"),
	})
	f.store.InjectFailure(nil)

	// Assert
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
	assertMoney(t, "1000", f.balance(t, from))
	assertMoney(t, "0", f.balance(t, to))

	require.NotNil(t, tx)
	stored, findErr := f.transactions.FindByPublicID(context.Background(), nil, tx.PublicID)
	require.NoError(t, findErr)
	assert.Equal(t, domain.TransactionStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "connection reset by peer")
}

func TestReverseTransaction_Transfer(t *testing.T) {
	// Arrange
	f := newFixture(t)
	ctx := context.Background()
	from := f.open(t, "1000")
	to := f.open(t, "0")

	original, err := f.useCase.CreateTransfer(ctx, ledger.TransferInput{
		FromAccountPublicID: from.PublicID,
		ToAccountPublicID:   to.PublicID,
		Amount:              dec("300"),
	})
	require.NoError(t, err)

	// Act
	reversal, err := f.useCase.ReverseTransaction(ctx, ledger.ReversalInput{
		ActorUserID:      9,
		OriginalPublicID: original.PublicID,
		Reason:           "chargeback",
		TransactionKey:   "R1",
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, reversal.Status)
	assert.Equal(t, domain.TransactionTypeReversal, reversal.Type)
	assert.Equal(t, original.ID, *reversal.ReferenceID)
	assert.Equal(t, to.ID, *reversal.Detail.FromAccountID)
	assert.Equal(t, from.ID, *reversal.Detail.ToAccountID)
	assert.Equal(t, "chargeback", reversal.Detail.Metadata["reason"])
	assert.Equal(t, original.PublicID, reversal.Detail.Metadata["original_public_id"])

	assertMoney(t, "1000", f.balance(t, from))
	assertMoney(t, "0", f.balance(t, to))

	reloaded, err := f.transactions.FindByID(ctx, nil, original.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusReversed, reloaded.Status)
	assert.Equal(t, reversal.PublicID, reloaded.Detail.Metadata["reversed_by"])
	assert.NotEmpty(t, reloaded.Detail.Metadata["reversed_at"])
}

func TestReverseTransaction_Rules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.open(t, "0")

	deposit, err := f.useCase.CreateDeposit(ctx, ledger.DepositInput{ToAccountPublicID: account.PublicID, Amount: dec("100")})
	require.NoError(t, err)

	reversal, err := f.useCase.ReverseTransaction(ctx, ledger.ReversalInput{OriginalID: deposit.ID})
	require.NoError(t, err)
	assertMoney(t, "0", f.balance(t, account))
	assert.Contains(t, *reversal.Description, deposit.PublicID)

	t.Run("already reversed", func(t *testing.T) {
		_, err := f.useCase.ReverseTransaction(ctx, ledger.ReversalInput{OriginalID: deposit.ID})
		assert.True(t, domain.IsTransactionError(err))
		assert.ErrorContains(t, err, "already been reversed")
	})

	t.Run("reversal of a reversal", func(t *testing.T) {
		_, err := f.useCase.ReverseTransaction(ctx, ledger.ReversalInput{OriginalID: reversal.ID})
		assert.ErrorContains(t, err, "is a reversal")
	})

	t.Run("missing original", func(t *testing.T) {
		_, err := f.useCase.ReverseTransaction(ctx, ledger.ReversalInput{OriginalPublicID: "nope"})
		assert.True(t, domain.IsTransactionError(err))
		assert.ErrorContains(t, err, "not found")
	})

	assertMoney(t, "0", f.balance(t, account))
}

func TestReverseTransaction_DepositAlreadySpent(t *testing.T) {
	// Arrange
	f := newFixture(t)
	ctx := context.Background()
	account := f.open(t, "0")
	other := f.open(t, "0")

	deposit, err := f.useCase.CreateDeposit(ctx, ledger.DepositInput{ToAccountPublicID: account.PublicID, Amount: dec("100")})
	require.NoError(t, err)
	_, err = f.useCase.CreateTransfer(ctx, ledger.TransferInput{
		FromAccountPublicID: account.PublicID,
		ToAccountPublicID:   other.PublicID,
		Amount:              dec("80"),
	})
	require.NoError(t, err)

	// Act
	reversal, err := f.useCase.ReverseTransaction(ctx, ledger.ReversalInput{OriginalID: deposit.ID})

	// Assert
	require.True(t, domain.IsInsufficientFunds(err))
	require.NotNil(t, reversal)
	assert.Equal(t, domain.TransactionStatusFailed, reversal.Status)
	assertMoney(t, "20", f.balance(t, account))

	original, err := f.transactions.FindByID(ctx, nil, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, original.Status)

	reversals, err := f.transactions.FindReversals(ctx, nil, deposit.ID)
	require.NoError(t, err)
	require.Len(t, reversals, 1)
	assert.Equal(t, domain.TransactionStatusFailed, reversals[0].Status)

	// A failed reversal does not block a new attempt
	_, err = f.useCase.CreateDeposit(ctx, ledger.DepositInput{ToAccountPublicID: account.PublicID, Amount: dec("80")})
	require.NoError(t, err)
	_, err = f.useCase.ReverseTransaction(ctx, ledger.ReversalInput{OriginalID: deposit.ID})
	require.NoError(t, err)
	assertMoney(t, "0", f.balance(t, account))
}

func TestConcurrentDeposits_SameKey(t *testing.T) {
	// Arrange
	f := newFixture(t)
	account := f.open(t, "0")
	const workers = 10

	var (
		wg   sync.WaitGroup
		ids  = make([]string, workers)
		errs = make([]error, workers)
	)

	// Act
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := f.useCase.CreateDeposit(context.Background(), ledger.DepositInput{
				ToAccountPublicID: account.PublicID,
				Amount:            dec("50"),
				TransactionKey:    "same-key",
			})
			errs[i] = err
			if tx != nil {
				ids[i] = tx.PublicID
			}
		}(i)
	}
	wg.Wait()

	// Assert
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assertMoney(t, "50", f.balance(t, account))
	assert.Len(t, f.history(t, account), 1)
}

func TestConcurrentTransfers_NeverOverdraw(t *testing.T) {
	// Arrange
	f := newFixture(t)
	from := f.open(t, "100")
	to := f.open(t, "0")
	const workers = 20

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		declined  atomic.Int32
	)

	// Act
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.useCase.CreateTransfer(context.Background(), ledger.TransferInput{
				FromAccountPublicID: from.PublicID,
				ToAccountPublicID:   to.PublicID,
				Amount:              dec("10"),
				TransactionKey:      fmt.Sprintf("transfer-%d", i),
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case domain.IsInsufficientFunds(err):
				declined.Add(1)
			}
		}(i)
	}
	wg.Wait()

	// Assert
	assert.Equal(t, int32(10), succeeded.Load())
	assert.Equal(t, int32(10), declined.Load())
	assertMoney(t, "0", f.balance(t, from))
	assertMoney(t, "100", f.balance(t, to))
}

func TestConcurrentReversals_OnlyOneWins(t *testing.T) {
	// Arrange
	f := newFixture(t)
	ctx := context.Background()
	from := f.open(t, "500")
	to := f.open(t, "0")
	original, err := f.useCase.CreateTransfer(ctx, ledger.TransferInput{
		FromAccountPublicID: from.PublicID,
		ToAccountPublicID:   to.PublicID,
		Amount:              dec("200"),
	})
	require.NoError(t, err)

	const workers = 5
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)

	// Act
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.useCase.ReverseTransaction(ctx, ledger.ReversalInput{
				OriginalID:     original.ID,
				TransactionKey: fmt.Sprintf("reversal-%d", i),
			})
			if err == nil {
				succeeded.Add(1)
			}
		}(i)
	}
	wg.Wait()

	// Assert
	assert.Equal(t, int32(1), succeeded.Load())
	assertMoney(t, "500", f.balance(t, from))
	assertMoney(t, "0", f.balance(t, to))

	reversals, err := f.transactions.FindReversals(ctx, nil, original.ID)
	require.NoError(t, err)
	assert.Len(t, reversals, 1)
}

func TestConservationAcrossOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.open(t, "300")
	b := f.open(t, "200")
	c := f.open(t, "0")

	_, err := f.useCase.CreateTransfer(ctx, ledger.TransferInput{FromAccountPublicID: a.PublicID, ToAccountPublicID: b.PublicID, Amount: dec("120.25")})
	require.NoError(t, err)
	transfer, err := f.useCase.CreateTransfer(ctx, ledger.TransferInput{FromAccountPublicID: b.PublicID, ToAccountPublicID: c.PublicID, Amount: dec("300")})
	require.NoError(t, err)
	_, err = f.useCase.CreateTransfer(ctx, ledger.TransferInput{FromAccountPublicID: c.PublicID, ToAccountPublicID: a.PublicID, Amount: dec("999")})
	require.Error(t, err)
	_, err = f.useCase.ReverseTransaction(ctx, ledger.ReversalInput{OriginalID: transfer.ID})
	require.NoError(t, err)

	total := f.balance(t, a).Add(f.balance(t, b)).Add(f.balance(t, c))
	assertMoney(t, "500", total)
	assertMoney(t, "179.75", f.balance(t, a))
	assertMoney(t, "320.25", f.balance(t, b))
	assertMoney(t, "0", f.balance(t, c))
}

func TestAuditIsRecorded(t *testing.T) {
	f := newFixture(t)
	account := f.open(t, "0")

	_, err := f.useCase.CreateDeposit(context.Background(), ledger.DepositInput{ToAccountPublicID: account.PublicID, Amount: dec("5")})
	require.NoError(t, err)
	_, err = f.useCase.CreateDeposit(context.Background(), ledger.DepositInput{ToAccountPublicID: account.PublicID, Amount: dec("-5")})
	require.Error(t, err)

	assert.Equal(t, []string{"deposit.created", "deposit.failed"}, f.auditor.Actions())
}

func TestListAccountTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.open(t, "0")

	for i := 0; i < 20; i++ {
		_, err := f.useCase.CreateDeposit(ctx, ledger.DepositInput{ToAccountPublicID: account.PublicID, Amount: dec("1")})
		require.NoError(t, err)
	}

	first, err := f.useCase.ListAccountTransactions(ctx, account.PublicID, ledger.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(20), first.Total)
	assert.Len(t, first.Items, ledger.DefaultPerPage)
	assert.Greater(t, first.Items[0].ID, first.Items[1].ID, "newest first")

	second, err := f.useCase.ListAccountTransactions(ctx, account.PublicID, ledger.Page{Number: 2})
	require.NoError(t, err)
	assert.Len(t, second.Items, 5)

	fetched, err := f.useCase.GetTransaction(ctx, first.Items[0].PublicID)
	require.NoError(t, err)
	assert.Equal(t, first.Items[0].ID, fetched.ID)
}
