// Package postgres implementa os repositórios do ledger sobre PostgreSQL (pgx).
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/matheusmosca/ledger-transactions/internal/config"
	"github.com/matheusmosca/ledger-transactions/internal/ledger"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// querier é satisfeito tanto por *pgxpool.Pool quanto por pgx.Tx.
// Begin abre uma transação no pool ou um SAVEPOINT dentro de uma transação.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Connect cria o pool de conexões e aguarda o banco ficar disponível
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Aguarda o banco
	for i := 0; i < 30; i++ {
		if err := pool.Ping(ctx); err == nil {
			logger.Info("✅ Connected to ledger database", zap.String("host", cfg.Host), zap.String("database", cfg.Name))
			return pool, nil
		}
		logger.Info("⏳ Waiting for database...", zap.Int("attempt", i+1), zap.Int("max", 30))

		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after 30 attempts")
}

// Migrate aplica o schema (idempotente)
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// DB implementa ledger.TxManager sobre o pool
type DB struct {
	pool *pgxpool.Pool
}

// NewDB cria uma nova instância de DB
func NewDB(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

// BeginTx inicia uma transação READ COMMITTED; a consistência vem dos locks FOR UPDATE
func (db *DB) BeginTx(ctx context.Context) (ledger.Tx, error) {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	return &PostgresTx{tx: tx}, nil
}

// querier devolve a transação corrente ou o pool quando tx == nil
func (db *DB) querier(tx ledger.Tx) querier {
	if tx == nil {
		return db.pool
	}
	return tx.(*PostgresTx).tx
}

// unit executa fn numa unidade atômica: SAVEPOINT quando há tx, transação própria caso contrário
func (db *DB) unit(ctx context.Context, tx ledger.Tx, fn func(q pgx.Tx) error) error {
	inner, err := db.querier(tx).Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin unit: %w", err)
	}
	defer inner.Rollback(ctx)

	if err := fn(inner); err != nil {
		return err
	}
	return inner.Commit(ctx)
}

// PostgresTx implementa a interface ledger.Tx
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback após Commit é um no-op
func (t *PostgresTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// Begin abre um SAVEPOINT
func (t *PostgresTx) Begin(ctx context.Context) (ledger.Tx, error) {
	nested, err := t.tx.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &PostgresTx{tx: nested}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var _ ledger.TxManager = (*DB)(nil)
