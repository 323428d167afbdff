package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
)

// Tx representa uma unidade de trabalho atômica.
// Begin abre uma unidade aninhada (SAVEPOINT) que pode ser desfeita sem descartar a externa.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Begin(ctx context.Context) (Tx, error)
}

// TxManager inicia unidades de trabalho
type TxManager interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// AccountRepository define as operações de persistência de contas.
// Todos os métodos aceitam tx == nil para operar fora de uma unidade de trabalho.
// Buscas sem resultado retornam *domain.NotFoundError.
type AccountRepository interface {
	FindByID(ctx context.Context, tx Tx, id int64) (*domain.Account, error)

	// FindByIDForUpdate obtém a conta com lock pessimista (FOR UPDATE)
	FindByIDForUpdate(ctx context.Context, tx Tx, id int64) (*domain.Account, error)

	FindByPublicID(ctx context.Context, tx Tx, publicID string) (*domain.Account, error)
	FindByUserID(ctx context.Context, tx Tx, userID int64) (*domain.Account, error)

	// CreateForUser cria a conta do usuário, gerando o public_id
	CreateForUser(ctx context.Context, tx Tx, userID int64, initialBalance decimal.Decimal) (*domain.Account, error)

	Save(ctx context.Context, tx Tx, account *domain.Account) error

	// Delete faz soft delete; a conta deixa de ser visível para as buscas
	Delete(ctx context.Context, tx Tx, id int64) error
}

// TransactionRepository define as operações de persistência de transações e seus detalhes.
// Transações são sempre carregadas com o detalhe.
type TransactionRepository interface {
	FindByID(ctx context.Context, tx Tx, id int64) (*domain.Transaction, error)
	FindByIDForUpdate(ctx context.Context, tx Tx, id int64) (*domain.Transaction, error)
	FindByPublicID(ctx context.Context, tx Tx, publicID string) (*domain.Transaction, error)
	FindByTransactionKey(ctx context.Context, tx Tx, key string) (*domain.Transaction, error)

	// Create insere apenas a transação (usado para registrar falhas sem contrapartes)
	Create(ctx context.Context, tx Tx, t *domain.Transaction) error

	// CreateWithDetail insere transação e detalhe atomicamente.
	// Retorna domain.ErrDuplicateTransactionKey quando a chave já existe.
	CreateWithDetail(ctx context.Context, tx Tx, t *domain.Transaction, detail *domain.TransactionDetail) error

	// Save persiste status, mensagem de erro, descrição e os metadados do detalhe
	Save(ctx context.Context, tx Tx, t *domain.Transaction) error

	FindByAccount(ctx context.Context, tx Tx, accountID int64, page Page) (PageResult[*domain.Transaction], error)
	FindReversals(ctx context.Context, tx Tx, originalID int64) ([]*domain.Transaction, error)
	FindCreatedBetween(ctx context.Context, tx Tx, from, to time.Time) ([]*domain.Transaction, error)
}

const (
	DefaultPerPage = 15
	MaxPerPage     = 100
)

// Page descreve a página solicitada (1-based)
type Page struct {
	Number  int
	PerPage int
}

// Normalize aplica os valores padrão
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Number - 1) * p.PerPage
}

// PageResult é uma página de resultados com o total geral
type PageResult[T any] struct {
	Items   []T   `json:"items"`
	Total   int64 `json:"total"`
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
}
