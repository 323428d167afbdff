package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
)

const instrumentationName = "github.com/matheusmosca/ledger-transactions/internal/ledger"

// Processor aplica o efeito de saldo de uma transação pendente.
// É o único componente que escreve saldos.
type Processor struct {
	txManager    TxManager
	accounts     AccountRepository
	transactions TransactionRepository
	logger       *zap.Logger
	tracer       trace.Tracer

	processedCounter metric.Int64Counter
}

// NewProcessor cria uma nova instância de Processor
func NewProcessor(txManager TxManager, accounts AccountRepository, transactions TransactionRepository, logger *zap.Logger) *Processor {
	meter := otel.Meter(instrumentationName)
	processedCounter, err := meter.Int64Counter(
		"ledger_transactions_processed_total",
		metric.WithDescription("Transações processadas por tipo e status final"),
	)
	if err != nil {
		logger.Warn("⚠️ failed to create processed counter", zap.Error(err))
	}

	return &Processor{
		txManager:        txManager,
		accounts:         accounts,
		transactions:     transactions,
		logger:           logger,
		tracer:           otel.Tracer(instrumentationName),
		processedCounter: processedCounter,
	}
}

// Process executa o movimento de uma transação pendente dentro de uma unidade aninhada.
// Com tx == nil abre e comita sua própria transação no banco.
// Transações que não estão pendentes são devolvidas sem alteração.
func (p *Processor) Process(ctx context.Context, tx Tx, t *domain.Transaction) (*domain.Transaction, error) {
	if !t.IsPending() {
		return t, nil
	}

	ctx, span := p.tracer.Start(ctx, "ledger.process", trace.WithAttributes(
		attribute.String("transaction.public_id", t.PublicID),
		attribute.String("transaction.type", string(t.Type)),
		attribute.String("transaction.amount", domain.FormatMoney(t.Amount)),
	))
	defer span.End()

	// 1. Unidade de trabalho externa (própria quando o chamador não fornece)
	owned := false
	if tx == nil {
		var err error
		tx, err = p.txManager.BeginTx(ctx)
		if err != nil {
			span.RecordError(err)
			return t, fmt.Errorf("erro ao iniciar transação: %w", err)
		}
		owned = true
		defer tx.Rollback(ctx)
	}

	// 2. Unidade aninhada: o movimento pode ser desfeito sem perder o registro da falha
	unit, err := tx.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return t, fmt.Errorf("erro ao abrir savepoint: %w", err)
	}

	// 3. Movimento + conclusão
	if err := p.applyAndComplete(ctx, unit, t); err != nil {
		_ = unit.Rollback(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return t, p.fail(ctx, tx, owned, t, err)
	}

	if err := unit.Commit(ctx); err != nil {
		p.revertToPending(t)
		span.RecordError(err)
		return t, p.fail(ctx, tx, owned, t, fmt.Errorf("erro ao liberar savepoint: %w", err))
	}

	if owned {
		if err := tx.Commit(ctx); err != nil {
			span.RecordError(err)
			return t, fmt.Errorf("erro ao comitar processamento: %w", err)
		}
	}

	p.count(ctx, t)
	p.logger.Info("✅ transaction processed",
		zap.String("public_id", t.PublicID),
		zap.String("type", string(t.Type)),
		zap.String("amount", domain.FormatMoney(t.Amount)),
	)
	return t, nil
}

func (p *Processor) applyAndComplete(ctx context.Context, unit Tx, t *domain.Transaction) error {
	var err error
	switch t.Type {
	case domain.TransactionTypeDeposit:
		err = p.applyDeposit(ctx, unit, t)
	case domain.TransactionTypeTransfer:
		err = p.applyTransfer(ctx, unit, t)
	case domain.TransactionTypeReversal:
		err = p.applyReversal(ctx, unit, t)
	default:
		err = domain.NewTransactionError("unsupported transaction type %q", t.Type)
	}
	if err != nil {
		return err
	}

	if err := t.MarkCompleted(); err != nil {
		return err
	}
	if err := p.transactions.Save(ctx, unit, t); err != nil {
		p.revertToPending(t)
		return fmt.Errorf("erro ao salvar transação: %w", err)
	}
	return nil
}

// applyDeposit credita a conta de destino
func (p *Processor) applyDeposit(ctx context.Context, unit Tx, t *domain.Transaction) error {
	if t.Detail == nil || t.Detail.ToAccountID == nil {
		return domain.NewTransactionError("deposit %s has no destination account", t.PublicID)
	}

	locked, err := p.lockAccounts(ctx, unit, *t.Detail.ToAccountID)
	if err != nil {
		return err
	}
	to := locked[*t.Detail.ToAccountID]

	to.Credit(t.Amount)
	return p.saveAccounts(ctx, unit, to)
}

// applyTransfer debita a origem e credita o destino, revalidando o saldo sob lock
func (p *Processor) applyTransfer(ctx context.Context, unit Tx, t *domain.Transaction) error {
	if t.Detail == nil || t.Detail.FromAccountID == nil || t.Detail.ToAccountID == nil {
		return domain.NewTransactionError("transfer %s is missing a counterparty", t.PublicID)
	}
	fromID, toID := *t.Detail.FromAccountID, *t.Detail.ToAccountID

	locked, err := p.lockAccounts(ctx, unit, fromID, toID)
	if err != nil {
		return err
	}
	from, to := locked[fromID], locked[toID]

	if err := from.Debit(t.Amount, "transfer"); err != nil {
		return err
	}
	to.Credit(t.Amount)

	return p.saveAccounts(ctx, unit, from, to)
}

// applyReversal resolve a transação original e desfaz seu efeito
func (p *Processor) applyReversal(ctx context.Context, unit Tx, t *domain.Transaction) error {
	if t.ReferenceID == nil {
		return domain.NewTransactionError("reversal %s has no original transaction", t.PublicID)
	}

	original, err := p.transactions.FindByID(ctx, unit, *t.ReferenceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewTransactionError("original transaction %d not found", *t.ReferenceID)
		}
		return fmt.Errorf("erro ao buscar transação original: %w", err)
	}

	switch original.Type {
	case domain.TransactionTypeDeposit:
		return p.reverseDeposit(ctx, unit, t, original)
	case domain.TransactionTypeTransfer:
		return p.reverseTransfer(ctx, unit, t, original)
	default:
		return domain.NewTransactionError("transaction %s is a reversal and cannot be reversed", original.PublicID)
	}
}

// reverseDeposit debita a conta que recebeu o depósito
func (p *Processor) reverseDeposit(ctx context.Context, unit Tx, reversal, original *domain.Transaction) error {
	accountID := original.AccountID
	if original.Detail != nil && original.Detail.ToAccountID != nil {
		accountID = *original.Detail.ToAccountID
	}

	locked, err := p.lockAccounts(ctx, unit, accountID)
	if err != nil {
		return err
	}
	account := locked[accountID]

	if err := account.Debit(reversal.Amount, "deposit reversal"); err != nil {
		return err
	}
	return p.saveAccounts(ctx, unit, account)
}

// reverseTransfer devolve o valor: debita o destino original e credita a origem original
func (p *Processor) reverseTransfer(ctx context.Context, unit Tx, reversal, original *domain.Transaction) error {
	var debitID, creditID int64
	switch {
	case reversal.Detail != nil && reversal.Detail.FromAccountID != nil && reversal.Detail.ToAccountID != nil:
		debitID, creditID = *reversal.Detail.FromAccountID, *reversal.Detail.ToAccountID
	case original.Detail != nil && original.Detail.FromAccountID != nil && original.Detail.ToAccountID != nil:
		debitID, creditID = *original.Detail.ToAccountID, *original.Detail.FromAccountID
	default:
		return domain.NewTransactionError("transfer %s is missing a counterparty", original.PublicID)
	}

	locked, err := p.lockAccounts(ctx, unit, debitID, creditID)
	if err != nil {
		return err
	}
	originalDestination, originalOrigin := locked[debitID], locked[creditID]

	if err := originalDestination.Debit(reversal.Amount, "transfer reversal"); err != nil {
		return err
	}
	originalOrigin.Credit(reversal.Amount)

	return p.saveAccounts(ctx, unit, originalDestination, originalOrigin)
}

// lockAccounts obtém as contas com FOR UPDATE em ordem crescente de id
func (p *Processor) lockAccounts(ctx context.Context, unit Tx, ids ...int64) (map[int64]*domain.Account, error) {
	ordered := append([]int64(nil), ids...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	locked := make(map[int64]*domain.Account, len(ordered))
	for _, id := range ordered {
		if _, ok := locked[id]; ok {
			continue
		}
		account, err := p.accounts.FindByIDForUpdate(ctx, unit, id)
		if err != nil {
			return nil, err
		}
		locked[id] = account
	}
	return locked, nil
}

func (p *Processor) saveAccounts(ctx context.Context, unit Tx, accounts ...*domain.Account) error {
	seen := make(map[int64]bool, len(accounts))
	for _, account := range accounts {
		if seen[account.ID] {
			continue
		}
		seen[account.ID] = true
		if err := p.accounts.Save(ctx, unit, account); err != nil {
			return fmt.Errorf("erro ao salvar conta %s: %w", account.PublicID, err)
		}
	}
	return nil
}

// fail marca a transação como falha na unidade externa e devolve a causa
func (p *Processor) fail(ctx context.Context, tx Tx, owned bool, t *domain.Transaction, cause error) error {
	if err := t.MarkFailed(cause.Error()); err != nil {
		return errors.Join(cause, err)
	}

	if err := p.transactions.Save(ctx, tx, t); err != nil {
		p.logger.Error("❌ failed to record transaction failure",
			zap.String("public_id", t.PublicID), zap.Error(err))
		return errors.Join(cause, fmt.Errorf("erro ao registrar falha: %w", err))
	}

	if owned {
		if err := tx.Commit(ctx); err != nil {
			return errors.Join(cause, fmt.Errorf("erro ao comitar falha: %w", err))
		}
	}

	p.count(ctx, t)
	p.logger.Warn("❌ transaction failed",
		zap.String("public_id", t.PublicID),
		zap.String("type", string(t.Type)),
		zap.Error(cause),
	)

	if domain.IsInsufficientFunds(cause) {
		return cause
	}
	return fmt.Errorf("falha ao processar transação %s: %w", t.PublicID, cause)
}

// revertToPending desfaz a conclusão em memória quando a persistência falha
func (p *Processor) revertToPending(t *domain.Transaction) {
	t.Status = domain.TransactionStatusPending
	t.ErrorMessage = nil
}

func (p *Processor) count(ctx context.Context, t *domain.Transaction) {
	if p.processedCounter == nil {
		return
	}
	p.processedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(t.Type)),
		attribute.String("status", string(t.Status)),
	))
}
