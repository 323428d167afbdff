package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
	"github.com/matheusmosca/ledger-transactions/internal/ledger"
)

// Transações são sempre carregadas com o detalhe
const transactionSelect = `
	SELECT t.id, t.public_id::text, t.account_id, t.type, t.amount, t.reference_id, t.status,
	       t.description, t.transaction_key, t.error_message, t.created_at, t.updated_at,
	       d.id, d.public_id::text, d.from_account_id, d.to_account_id, d.metadata, d.created_at, d.updated_at
	FROM transactions t
	LEFT JOIN transaction_details d ON d.transaction_id = t.id
`

// TransactionRepository implementa ledger.TransactionRepository usando PostgreSQL
type TransactionRepository struct {
	db *DB
}

// NewTransactionRepository cria uma nova instância de TransactionRepository
func NewTransactionRepository(db *DB) ledger.TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) FindByID(ctx context.Context, tx ledger.Tx, id int64) (*domain.Transaction, error) {
	return r.findOne(ctx, tx, strconv.FormatInt(id, 10), transactionSelect+`WHERE t.id = $1`, id)
}

// FindByIDForUpdate bloqueia apenas a linha de transactions (lado não-nulo do join)
func (r *TransactionRepository) FindByIDForUpdate(ctx context.Context, tx ledger.Tx, id int64) (*domain.Transaction, error) {
	return r.findOne(ctx, tx, strconv.FormatInt(id, 10), transactionSelect+`WHERE t.id = $1 FOR UPDATE OF t`, id)
}

func (r *TransactionRepository) FindByPublicID(ctx context.Context, tx ledger.Tx, publicID string) (*domain.Transaction, error) {
	if _, err := uuid.Parse(publicID); err != nil {
		return nil, &domain.NotFoundError{Resource: "transaction", Key: publicID}
	}
	return r.findOne(ctx, tx, publicID, transactionSelect+`WHERE t.public_id = $1`, publicID)
}

func (r *TransactionRepository) FindByTransactionKey(ctx context.Context, tx ledger.Tx, key string) (*domain.Transaction, error) {
	return r.findOne(ctx, tx, key, transactionSelect+`WHERE t.transaction_key = $1`, key)
}

// Create insere a transação sem detalhe
func (r *TransactionRepository) Create(ctx context.Context, tx ledger.Tx, t *domain.Transaction) error {
	return r.insertTransaction(ctx, r.db.querier(tx), t)
}

// CreateWithDetail insere transação e detalhe numa unidade atômica (SAVEPOINT quando há tx)
func (r *TransactionRepository) CreateWithDetail(ctx context.Context, tx ledger.Tx, t *domain.Transaction, detail *domain.TransactionDetail) error {
	return r.db.unit(ctx, tx, func(q pgx.Tx) error {
		if err := r.insertTransaction(ctx, q, t); err != nil {
			return err
		}
		if detail == nil {
			return nil
		}

		metadata, err := encodeMetadata(detail.Metadata)
		if err != nil {
			return err
		}

		detail.PublicID = uuid.NewString()
		detail.TransactionID = t.ID

		query := `
			INSERT INTO transaction_details (public_id, transaction_id, from_account_id, to_account_id, metadata)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at, updated_at
		`
		err = q.QueryRow(ctx, query,
			detail.PublicID,
			detail.TransactionID,
			detail.FromAccountID,
			detail.ToAccountID,
			metadata,
		).Scan(&detail.ID, &detail.CreatedAt, &detail.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert transaction detail: %w", err)
		}

		t.Detail = detail
		return nil
	})
}

func (r *TransactionRepository) insertTransaction(ctx context.Context, q querier, t *domain.Transaction) error {
	t.PublicID = uuid.NewString()

	query := `
		INSERT INTO transactions (public_id, account_id, type, amount, reference_id, status, description, transaction_key, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	err := q.QueryRow(ctx, query,
		t.PublicID,
		t.AccountID,
		string(t.Type),
		t.Amount,
		t.ReferenceID,
		string(t.Status),
		t.Description,
		t.TransactionKey,
		t.ErrorMessage,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateTransactionKey
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// Save persiste status, mensagem de erro, descrição e os metadados do detalhe
func (r *TransactionRepository) Save(ctx context.Context, tx ledger.Tx, t *domain.Transaction) error {
	return r.db.unit(ctx, tx, func(q pgx.Tx) error {
		err := q.QueryRow(ctx, `
			UPDATE transactions
			SET status = $1,
			    error_message = $2,
			    description = $3,
			    updated_at = NOW()
			WHERE id = $4
			RETURNING updated_at
		`, string(t.Status), t.ErrorMessage, t.Description, t.ID).Scan(&t.UpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &domain.NotFoundError{Resource: "transaction", Key: t.PublicID}
			}
			return fmt.Errorf("failed to update transaction: %w", err)
		}

		if t.Detail == nil {
			return nil
		}
		metadata, err := encodeMetadata(t.Detail.Metadata)
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `
			UPDATE transaction_details
			SET metadata = $1, updated_at = NOW()
			WHERE transaction_id = $2
		`, metadata, t.ID); err != nil {
			return fmt.Errorf("failed to update transaction detail: %w", err)
		}
		return nil
	})
}

// FindByAccount lista transações em que a conta participa, mais recentes primeiro
func (r *TransactionRepository) FindByAccount(ctx context.Context, tx ledger.Tx, accountID int64, page ledger.Page) (ledger.PageResult[*domain.Transaction], error) {
	page = page.Normalize()
	result := ledger.PageResult[*domain.Transaction]{Page: page.Number, PerPage: page.PerPage}
	q := r.db.querier(tx)

	where := `WHERE t.account_id = $1 OR d.from_account_id = $1 OR d.to_account_id = $1`

	err := q.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM transactions t
		LEFT JOIN transaction_details d ON d.transaction_id = t.id
		`+where, accountID).Scan(&result.Total)
	if err != nil {
		return result, fmt.Errorf("failed to count transactions: %w", err)
	}

	items, err := r.findMany(ctx, tx,
		transactionSelect+where+` ORDER BY t.created_at DESC, t.id DESC LIMIT $2 OFFSET $3`,
		accountID, page.PerPage, page.Offset(),
	)
	if err != nil {
		return result, err
	}
	result.Items = items
	return result, nil
}

func (r *TransactionRepository) FindReversals(ctx context.Context, tx ledger.Tx, originalID int64) ([]*domain.Transaction, error) {
	return r.findMany(ctx, tx,
		transactionSelect+`WHERE t.reference_id = $1 AND t.type = $2 ORDER BY t.id`,
		originalID, string(domain.TransactionTypeReversal),
	)
}

func (r *TransactionRepository) FindCreatedBetween(ctx context.Context, tx ledger.Tx, from, to time.Time) ([]*domain.Transaction, error) {
	return r.findMany(ctx, tx,
		transactionSelect+`WHERE t.created_at >= $1 AND t.created_at < $2 ORDER BY t.id`,
		from, to,
	)
}

func (r *TransactionRepository) findOne(ctx context.Context, tx ledger.Tx, key, query string, args ...any) (*domain.Transaction, error) {
	t, err := scanTransaction(r.db.querier(tx).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.NotFoundError{Resource: "transaction", Key: key}
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

func (r *TransactionRepository) findMany(ctx context.Context, tx ledger.Tx, query string, args ...any) ([]*domain.Transaction, error) {
	rows, err := r.db.querier(tx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		t              domain.Transaction
		txType, status string

		detailID        *int64
		detailPublicID  *string
		fromAccountID   *int64
		toAccountID     *int64
		metadata        []byte
		detailCreatedAt *time.Time
		detailUpdatedAt *time.Time
	)

	err := row.Scan(
		&t.ID, &t.PublicID, &t.AccountID, &txType, &t.Amount, &t.ReferenceID, &status,
		&t.Description, &t.TransactionKey, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt,
		&detailID, &detailPublicID, &fromAccountID, &toAccountID, &metadata, &detailCreatedAt, &detailUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if t.Type, err = domain.ParseTransactionType(txType); err != nil {
		return nil, err
	}
	if t.Status, err = domain.ParseTransactionStatus(status); err != nil {
		return nil, err
	}

	if detailID != nil {
		detail := &domain.TransactionDetail{
			ID:            *detailID,
			TransactionID: t.ID,
			FromAccountID: fromAccountID,
			ToAccountID:   toAccountID,
		}
		if detailPublicID != nil {
			detail.PublicID = *detailPublicID
		}
		if detailCreatedAt != nil {
			detail.CreatedAt = *detailCreatedAt
		}
		if detailUpdatedAt != nil {
			detail.UpdatedAt = *detailUpdatedAt
		}
		if detail.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, err
		}
		t.Detail = detail
	}

	return &t, nil
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return b, nil
}

func decodeMetadata(b []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return out, nil
}
