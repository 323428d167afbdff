package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
	"github.com/matheusmosca/ledger-transactions/internal/ledger"
)

const accountColumns = `id, public_id::text, user_id, balance, status, created_at, updated_at, deleted_at`

// AccountRepository implementa ledger.AccountRepository usando PostgreSQL
type AccountRepository struct {
	db *DB
}

// NewAccountRepository cria uma nova instância de AccountRepository
func NewAccountRepository(db *DB) ledger.AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) FindByID(ctx context.Context, tx ledger.Tx, id int64) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 AND deleted_at IS NULL`
	return r.findOne(ctx, tx, strconv.FormatInt(id, 10), query, id)
}

// FindByIDForUpdate obtém a conta com lock pessimista (FOR UPDATE)
func (r *AccountRepository) FindByIDForUpdate(ctx context.Context, tx ledger.Tx, id int64) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	return r.findOne(ctx, tx, strconv.FormatInt(id, 10), query, id)
}

func (r *AccountRepository) FindByPublicID(ctx context.Context, tx ledger.Tx, publicID string) (*domain.Account, error) {
	if _, err := uuid.Parse(publicID); err != nil {
		return nil, &domain.NotFoundError{Resource: "account", Key: publicID}
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE public_id = $1 AND deleted_at IS NULL`
	return r.findOne(ctx, tx, publicID, query, publicID)
}

func (r *AccountRepository) FindByUserID(ctx context.Context, tx ledger.Tx, userID int64) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 AND deleted_at IS NULL`
	return r.findOne(ctx, tx, "user "+strconv.FormatInt(userID, 10), query, userID)
}

// CreateForUser cria a conta ativa do usuário com public_id gerado aqui
func (r *AccountRepository) CreateForUser(ctx context.Context, tx ledger.Tx, userID int64, initialBalance decimal.Decimal) (*domain.Account, error) {
	account := domain.NewAccount(uuid.NewString(), userID, initialBalance)

	query := `
		INSERT INTO accounts (public_id, user_id, balance, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	err := r.db.querier(tx).QueryRow(ctx, query,
		account.PublicID,
		account.UserID,
		account.Balance,
		string(account.Status),
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.NewTransactionError("user %d already owns an account", userID)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return account, nil
}

// Save persiste saldo e status
func (r *AccountRepository) Save(ctx context.Context, tx ledger.Tx, account *domain.Account) error {
	query := `
		UPDATE accounts
		SET balance = $1,
		    status = $2,
		    updated_at = NOW()
		WHERE id = $3 AND deleted_at IS NULL
		RETURNING updated_at
	`
	err := r.db.querier(tx).QueryRow(ctx, query, account.Balance, string(account.Status), account.ID).Scan(&account.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.NotFoundError{Resource: "account", Key: account.PublicID}
		}
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}

// Delete faz soft delete
func (r *AccountRepository) Delete(ctx context.Context, tx ledger.Tx, id int64) error {
	tag, err := r.db.querier(tx).Exec(ctx, `
		UPDATE accounts
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Resource: "account", Key: strconv.FormatInt(id, 10)}
	}
	return nil
}

func (r *AccountRepository) findOne(ctx context.Context, tx ledger.Tx, key, query string, args ...any) (*domain.Account, error) {
	account, err := scanAccount(r.db.querier(tx).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.NotFoundError{Resource: "account", Key: key}
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account domain.Account
		status  string
	)
	err := row.Scan(
		&account.ID,
		&account.PublicID,
		&account.UserID,
		&account.Balance,
		&status,
		&account.CreatedAt,
		&account.UpdatedAt,
		&account.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if account.Status, err = domain.ParseAccountStatus(status); err != nil {
		return nil, err
	}
	return &account, nil
}
