// Package memory implementa os repositórios do ledger em memória.
// Unidades de trabalho são serializadas por um lock global; rollback restaura um snapshot.
package memory

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
	"github.com/matheusmosca/ledger-transactions/internal/ledger"
)

var ErrTxDone = errors.New("memory: transaction already closed")

// FailureFunc permite simular falhas de storage nos testes. op identifica a operação
// ("account.save", "transaction.save", "transaction.create").
type FailureFunc func(op string) error

type state struct {
	accounts     map[int64]domain.Account
	transactions map[int64]domain.Transaction
	details      map[int64]domain.TransactionDetail // por transaction id

	nextAccountID     int64
	nextTransactionID int64
	nextDetailID      int64
}

func newState() *state {
	return &state{
		accounts:     map[int64]domain.Account{},
		transactions: map[int64]domain.Transaction{},
		details:      map[int64]domain.TransactionDetail{},
	}
}

func (s *state) clone() *state {
	c := &state{
		accounts:          make(map[int64]domain.Account, len(s.accounts)),
		transactions:      make(map[int64]domain.Transaction, len(s.transactions)),
		details:           make(map[int64]domain.TransactionDetail, len(s.details)),
		nextAccountID:     s.nextAccountID,
		nextTransactionID: s.nextTransactionID,
		nextDetailID:      s.nextDetailID,
	}
	for id, a := range s.accounts {
		c.accounts[id] = a
	}
	for id, t := range s.transactions {
		c.transactions[id] = t
	}
	for id, d := range s.details {
		d.Metadata = copyMetadata(d.Metadata)
		c.details[id] = d
	}
	return c
}

// Store implementa ledger.TxManager, ledger.AccountRepository e ledger.TransactionRepository
type Store struct {
	txLock sync.Mutex
	data   *state

	failMu  sync.Mutex
	failure FailureFunc
}

// NewStore cria uma nova instância de Store vazia
func NewStore() *Store {
	return &Store{data: newState()}
}

// InjectFailure instala (ou remove, com nil) o hook de falhas
func (s *Store) InjectFailure(fn FailureFunc) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failure = fn
}

func (s *Store) fail(op string) error {
	s.failMu.Lock()
	fn := s.failure
	s.failMu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(op)
}

// run executa fn sobre o estado; fora de uma unidade de trabalho adquire o lock global
func (s *Store) run(tx ledger.Tx, fn func(d *state) error) error {
	if tx == nil {
		s.txLock.Lock()
		defer s.txLock.Unlock()
	} else if mt, ok := tx.(*Tx); ok && mt.done {
		return ErrTxDone
	}
	return fn(s.data)
}

// Tx é uma unidade de trabalho em memória; unidades aninhadas funcionam como savepoints
type Tx struct {
	store    *Store
	snapshot *state
	nested   bool
	done     bool
}

func (s *Store) BeginTx(ctx context.Context) (ledger.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txLock.Lock()
	return &Tx{store: s, snapshot: s.data.clone()}, nil
}

func (t *Tx) Begin(ctx context.Context) (ledger.Tx, error) {
	if t.done {
		return nil, ErrTxDone
	}
	return &Tx{store: t.store, snapshot: t.store.data.clone(), nested: true}, nil
}

func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.snapshot = nil
	if !t.nested {
		t.store.txLock.Unlock()
	}
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.data = t.snapshot
	t.snapshot = nil
	if !t.nested {
		t.store.txLock.Unlock()
	}
	return nil
}

// ===== Accounts =====

func (s *Store) FindByID(ctx context.Context, tx ledger.Tx, id int64) (*domain.Account, error) {
	var out *domain.Account
	err := s.run(tx, func(d *state) error {
		a, ok := d.accounts[id]
		if !ok || a.DeletedAt != nil {
			return &domain.NotFoundError{Resource: "account", Key: strconv.FormatInt(id, 10)}
		}
		out = &a
		return nil
	})
	return out, err
}

// FindByIDForUpdate: o lock global já garante exclusividade
func (s *Store) FindByIDForUpdate(ctx context.Context, tx ledger.Tx, id int64) (*domain.Account, error) {
	return s.FindByID(ctx, tx, id)
}

func (s *Store) FindByPublicID(ctx context.Context, tx ledger.Tx, publicID string) (*domain.Account, error) {
	return s.findAccount(tx, "public_id="+publicID, func(a domain.Account) bool { return a.PublicID == publicID })
}

func (s *Store) FindByUserID(ctx context.Context, tx ledger.Tx, userID int64) (*domain.Account, error) {
	return s.findAccount(tx, "user_id="+strconv.FormatInt(userID, 10), func(a domain.Account) bool { return a.UserID == userID })
}

func (s *Store) findAccount(tx ledger.Tx, key string, match func(domain.Account) bool) (*domain.Account, error) {
	var out *domain.Account
	err := s.run(tx, func(d *state) error {
		for _, a := range d.accounts {
			if a.DeletedAt == nil && match(a) {
				out = &a
				return nil
			}
		}
		return &domain.NotFoundError{Resource: "account", Key: key}
	})
	return out, err
}

func (s *Store) CreateForUser(ctx context.Context, tx ledger.Tx, userID int64, initialBalance decimal.Decimal) (*domain.Account, error) {
	var out *domain.Account
	err := s.run(tx, func(d *state) error {
		if err := s.fail("account.create"); err != nil {
			return err
		}
		d.nextAccountID++
		a := domain.NewAccount(uuid.NewString(), userID, initialBalance)
		a.ID = d.nextAccountID
		d.accounts[a.ID] = *a
		out = a
		return nil
	})
	return out, err
}

func (s *Store) Save(ctx context.Context, tx ledger.Tx, account *domain.Account) error {
	return s.run(tx, func(d *state) error {
		if err := s.fail("account.save"); err != nil {
			return err
		}
		current, ok := d.accounts[account.ID]
		if !ok || current.DeletedAt != nil {
			return &domain.NotFoundError{Resource: "account", Key: strconv.FormatInt(account.ID, 10)}
		}
		account.UpdatedAt = time.Now()
		d.accounts[account.ID] = *account
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, tx ledger.Tx, id int64) error {
	return s.run(tx, func(d *state) error {
		a, ok := d.accounts[id]
		if !ok || a.DeletedAt != nil {
			return &domain.NotFoundError{Resource: "account", Key: strconv.FormatInt(id, 10)}
		}
		now := time.Now()
		a.DeletedAt = &now
		a.UpdatedAt = now
		d.accounts[id] = a
		return nil
	})
}

// ===== Transactions =====

// Transactions expõe o mesmo Store como ledger.TransactionRepository,
// já que os nomes FindByID/Save colidem com os de contas.
func (s *Store) Transactions() *TransactionStore {
	return &TransactionStore{store: s}
}

// Accounts devolve o Store como ledger.AccountRepository
func (s *Store) Accounts() ledger.AccountRepository {
	return s
}

type TransactionStore struct {
	store *Store
}

func (r *TransactionStore) FindByID(ctx context.Context, tx ledger.Tx, id int64) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := r.store.run(tx, func(d *state) error {
		t, ok := d.transactions[id]
		if !ok {
			return &domain.NotFoundError{Resource: "transaction", Key: strconv.FormatInt(id, 10)}
		}
		out = d.load(t)
		return nil
	})
	return out, err
}

func (r *TransactionStore) FindByIDForUpdate(ctx context.Context, tx ledger.Tx, id int64) (*domain.Transaction, error) {
	return r.FindByID(ctx, tx, id)
}

func (r *TransactionStore) FindByPublicID(ctx context.Context, tx ledger.Tx, publicID string) (*domain.Transaction, error) {
	return r.find(tx, "public_id="+publicID, func(t domain.Transaction) bool { return t.PublicID == publicID })
}

func (r *TransactionStore) FindByTransactionKey(ctx context.Context, tx ledger.Tx, key string) (*domain.Transaction, error) {
	return r.find(tx, "transaction_key="+key, func(t domain.Transaction) bool { return key != "" && t.Key() == key })
}

func (r *TransactionStore) find(tx ledger.Tx, key string, match func(domain.Transaction) bool) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := r.store.run(tx, func(d *state) error {
		for _, t := range d.transactions {
			if match(t) {
				out = d.load(t)
				return nil
			}
		}
		return &domain.NotFoundError{Resource: "transaction", Key: key}
	})
	return out, err
}

func (r *TransactionStore) Create(ctx context.Context, tx ledger.Tx, t *domain.Transaction) error {
	return r.CreateWithDetail(ctx, tx, t, nil)
}

func (r *TransactionStore) CreateWithDetail(ctx context.Context, tx ledger.Tx, t *domain.Transaction, detail *domain.TransactionDetail) error {
	return r.store.run(tx, func(d *state) error {
		if key := t.Key(); key != "" {
			for _, existing := range d.transactions {
				if existing.Key() == key {
					return domain.ErrDuplicateTransactionKey
				}
			}
		}
		if err := r.store.fail("transaction.create"); err != nil {
			return err
		}

		now := time.Now()
		d.nextTransactionID++
		t.ID = d.nextTransactionID
		t.PublicID = uuid.NewString()
		t.CreatedAt, t.UpdatedAt = now, now

		stored := *t
		stored.Detail = nil
		d.transactions[t.ID] = stored

		if detail != nil {
			d.nextDetailID++
			detail.ID = d.nextDetailID
			detail.PublicID = uuid.NewString()
			detail.TransactionID = t.ID
			detail.CreatedAt, detail.UpdatedAt = now, now

			storedDetail := *detail
			storedDetail.Metadata = copyMetadata(detail.Metadata)
			d.details[t.ID] = storedDetail
			t.Detail = detail
		}
		return nil
	})
}

func (r *TransactionStore) Save(ctx context.Context, tx ledger.Tx, t *domain.Transaction) error {
	return r.store.run(tx, func(d *state) error {
		if err := r.store.fail("transaction.save"); err != nil {
			return err
		}
		current, ok := d.transactions[t.ID]
		if !ok {
			return &domain.NotFoundError{Resource: "transaction", Key: strconv.FormatInt(t.ID, 10)}
		}

		current.Status = t.Status
		current.ErrorMessage = t.ErrorMessage
		current.Description = t.Description
		current.UpdatedAt = time.Now()
		d.transactions[t.ID] = current

		if t.Detail != nil {
			if stored, ok := d.details[t.ID]; ok {
				stored.Metadata = copyMetadata(t.Detail.Metadata)
				stored.UpdatedAt = current.UpdatedAt
				d.details[t.ID] = stored
			}
		}
		return nil
	})
}

func (r *TransactionStore) FindByAccount(ctx context.Context, tx ledger.Tx, accountID int64, page ledger.Page) (ledger.PageResult[*domain.Transaction], error) {
	page = page.Normalize()
	result := ledger.PageResult[*domain.Transaction]{Page: page.Number, PerPage: page.PerPage}

	err := r.store.run(tx, func(d *state) error {
		var matched []*domain.Transaction
		for _, t := range d.transactions {
			loaded := d.load(t)
			if involves(loaded, accountID) {
				matched = append(matched, loaded)
			}
		}
		sort.Slice(matched, func(i, j int) bool {
			if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
				return matched[i].CreatedAt.After(matched[j].CreatedAt)
			}
			return matched[i].ID > matched[j].ID
		})

		result.Total = int64(len(matched))
		start := page.Offset()
		if start > len(matched) {
			start = len(matched)
		}
		end := start + page.PerPage
		if end > len(matched) {
			end = len(matched)
		}
		result.Items = matched[start:end]
		return nil
	})
	return result, err
}

func (r *TransactionStore) FindReversals(ctx context.Context, tx ledger.Tx, originalID int64) ([]*domain.Transaction, error) {
	return r.filter(tx, func(t *domain.Transaction) bool {
		return t.IsReversal() && t.ReferenceID != nil && *t.ReferenceID == originalID
	})
}

func (r *TransactionStore) FindCreatedBetween(ctx context.Context, tx ledger.Tx, from, to time.Time) ([]*domain.Transaction, error) {
	return r.filter(tx, func(t *domain.Transaction) bool {
		return !t.CreatedAt.Before(from) && t.CreatedAt.Before(to)
	})
}

func (r *TransactionStore) filter(tx ledger.Tx, match func(*domain.Transaction) bool) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	err := r.store.run(tx, func(d *state) error {
		for _, t := range d.transactions {
			loaded := d.load(t)
			if match(loaded) {
				out = append(out, loaded)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	return out, err
}

// load devolve uma cópia da transação com o detalhe anexado
func (d *state) load(t domain.Transaction) *domain.Transaction {
	out := t
	if detail, ok := d.details[t.ID]; ok {
		detail.Metadata = copyMetadata(detail.Metadata)
		out.Detail = &detail
	}
	return &out
}

func involves(t *domain.Transaction, accountID int64) bool {
	if t.AccountID == accountID {
		return true
	}
	if t.Detail == nil {
		return false
	}
	return (t.Detail.FromAccountID != nil && *t.Detail.FromAccountID == accountID) ||
		(t.Detail.ToAccountID != nil && *t.Detail.ToAccountID == accountID)
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var (
	_ ledger.TxManager             = (*Store)(nil)
	_ ledger.AccountRepository     = (*Store)(nil)
	_ ledger.TransactionRepository = (*TransactionStore)(nil)
)
