package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
)

func TestStore_SavepointRollback(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := NewStore()
	account, err := store.CreateForUser(ctx, nil, 1, decimal.NewFromInt(100))
	require.NoError(t, err)

	outer, err := store.BeginTx(ctx)
	require.NoError(t, err)

	// Act
	nested, err := outer.Begin(ctx)
	require.NoError(t, err)
	locked, err := store.FindByIDForUpdate(ctx, nested, account.ID)
	require.NoError(t, err)
	locked.Credit(decimal.NewFromInt(50))
	require.NoError(t, store.Save(ctx, nested, locked))
	require.NoError(t, nested.Rollback(ctx))
	require.NoError(t, outer.Commit(ctx))

	// Assert
	reloaded, err := store.FindByID(ctx, nil, account.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Balance.Equal(decimal.NewFromInt(100)))
	assert.NoError(t, outer.Rollback(ctx), "rollback after commit is a no-op")
}

func TestStore_OuterRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	transactions := store.Transactions()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	pending := domain.NewTransaction(1, domain.TransactionTypeDeposit, decimal.NewFromInt(1))
	require.NoError(t, transactions.CreateWithDetail(ctx, tx, pending, nil))
	require.NoError(t, tx.Rollback(ctx))

	_, err = transactions.FindByID(ctx, nil, pending.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_DuplicateKey(t *testing.T) {
	ctx := context.Background()
	transactions := NewStore().Transactions()
	key := "K1"

	first := domain.NewTransaction(1, domain.TransactionTypeDeposit, decimal.NewFromInt(1))
	first.TransactionKey = &key
	require.NoError(t, transactions.CreateWithDetail(ctx, nil, first, domain.NewTransactionDetail(nil, domain.Int64Ptr(1), nil)))

	second := domain.NewTransaction(1, domain.TransactionTypeDeposit, decimal.NewFromInt(1))
	second.TransactionKey = &key
	err := transactions.CreateWithDetail(ctx, nil, second, nil)

	assert.ErrorIs(t, err, domain.ErrDuplicateTransactionKey)
	loaded, err := transactions.FindByTransactionKey(ctx, nil, key)
	require.NoError(t, err)
	assert.Equal(t, first.PublicID, loaded.PublicID)
	assert.NotNil(t, loaded.Detail)
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	account, err := store.CreateForUser(ctx, nil, 1, decimal.Zero)
	require.NoError(t, err)

	loaded, err := store.FindByID(ctx, nil, account.ID)
	require.NoError(t, err)
	loaded.Credit(decimal.NewFromInt(10))

	again, err := store.FindByID(ctx, nil, account.ID)
	require.NoError(t, err)
	assert.True(t, again.Balance.IsZero(), "mutating a loaded entity must not touch the store")
}
