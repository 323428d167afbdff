package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
)

// DepositInput representa um pedido de depósito
type DepositInput struct {
	ActorUserID       int64
	ToAccountPublicID string
	Amount            decimal.Decimal
	Description       string
	TransactionKey    string
	Metadata          map[string]any
}

// TransferInput representa um pedido de transferência entre contas
type TransferInput struct {
	ActorUserID         int64
	FromAccountPublicID string
	ToAccountPublicID   string
	Amount              decimal.Decimal
	Description         string
	TransactionKey      string
	Metadata            map[string]any
}

// ReversalInput identifica a transação original por id interno ou public_id
type ReversalInput struct {
	ActorUserID      int64
	OriginalID       int64
	OriginalPublicID string
	Reason           string
	TransactionKey   string
}

// TransactionUseCase orquestra depósitos, transferências e estornos.
// Valida, cria a transação pendente, processa e comita numa única unidade de trabalho.
type TransactionUseCase struct {
	txManager    TxManager
	accounts     AccountRepository
	transactions TransactionRepository
	processor    *Processor
	auditor      Auditor
	logger       *zap.Logger
	tracer       trace.Tracer
}

// NewTransactionUseCase cria uma nova instância de TransactionUseCase
func NewTransactionUseCase(
	txManager TxManager,
	accounts AccountRepository,
	transactions TransactionRepository,
	processor *Processor,
	auditor Auditor,
	logger *zap.Logger,
) *TransactionUseCase {
	if auditor == nil {
		auditor = NopAuditor{}
	}
	return &TransactionUseCase{
		txManager:    txManager,
		accounts:     accounts,
		transactions: transactions,
		processor:    processor,
		auditor:      auditor,
		logger:       logger,
		tracer:       otel.Tracer(instrumentationName),
	}
}

// unitHooks executam dentro da unidade de trabalho, antes da criação e depois do processamento
type unitHooks struct {
	beforeCreate func(ctx context.Context, tx Tx) error
	afterProcess func(ctx context.Context, tx Tx, t *domain.Transaction) error
}

// CreateDeposit credita uma conta ativa
func (uc *TransactionUseCase) CreateDeposit(ctx context.Context, in DepositInput) (result *domain.Transaction, err error) {
	ctx, span := uc.tracer.Start(ctx, "ledger.create_deposit", trace.WithAttributes(
		attribute.String("account.public_id", in.ToAccountPublicID),
		attribute.String("transaction.key", in.TransactionKey),
	))
	defer func() {
		uc.audit(ctx, "deposit", result, err, map[string]any{
			"to_account": in.ToAccountPublicID,
			"amount":     domain.FormatMoney(in.Amount),
			"user_id":    in.ActorUserID,
		})
		endSpan(span, err)
	}()

	// 1. Idempotência: a chave já usada devolve a transação existente
	if existing, found, err := uc.replay(ctx, in.TransactionKey); err != nil || found {
		return existing, err
	}

	// 2. Validações
	if err := domain.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}

	account, err := uc.accounts.FindByPublicID(ctx, nil, in.ToAccountPublicID)
	if err != nil {
		return nil, err
	}
	if !account.IsActive() {
		return nil, domain.ErrInactiveAccount
	}

	// 3. Transação pendente + detalhe
	t := domain.NewTransaction(account.ID, domain.TransactionTypeDeposit, in.Amount)
	t.Description = domain.StringPtr(in.Description)
	t.TransactionKey = domain.StringPtr(in.TransactionKey)

	detail := domain.NewTransactionDetail(nil, domain.Int64Ptr(account.ID), withActor(in.Metadata, in.ActorUserID))

	return uc.createAndProcess(ctx, t, detail, unitHooks{})
}

// CreateTransfer move saldo entre duas contas ativas
func (uc *TransactionUseCase) CreateTransfer(ctx context.Context, in TransferInput) (result *domain.Transaction, err error) {
	ctx, span := uc.tracer.Start(ctx, "ledger.create_transfer", trace.WithAttributes(
		attribute.String("account.from", in.FromAccountPublicID),
		attribute.String("account.to", in.ToAccountPublicID),
		attribute.String("transaction.key", in.TransactionKey),
	))
	defer func() {
		uc.audit(ctx, "transfer", result, err, map[string]any{
			"from_account": in.FromAccountPublicID,
			"to_account":   in.ToAccountPublicID,
			"amount":       domain.FormatMoney(in.Amount),
			"user_id":      in.ActorUserID,
		})
		endSpan(span, err)
	}()

	if existing, found, err := uc.replay(ctx, in.TransactionKey); err != nil || found {
		return existing, err
	}

	if err := domain.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}
	if in.FromAccountPublicID == "" || in.ToAccountPublicID == "" {
		return nil, &domain.ValidationError{Field: "account", Message: "origin and destination accounts are required"}
	}
	if in.FromAccountPublicID == in.ToAccountPublicID {
		return nil, &domain.ValidationError{Field: "account", Message: "origin and destination accounts must differ"}
	}

	from, err := uc.accounts.FindByPublicID(ctx, nil, in.FromAccountPublicID)
	if err != nil {
		return nil, err
	}
	to, err := uc.accounts.FindByPublicID(ctx, nil, in.ToAccountPublicID)
	if err != nil {
		return nil, err
	}
	if !from.IsActive() || !to.IsActive() {
		return nil, domain.ErrInactiveAccount
	}

	// Pré-checagem de saldo: falha antes de qualquer escrita
	amount := domain.RoundMoney(in.Amount)
	if !from.CanCover(amount) {
		return nil, &domain.InsufficientFundsError{
			Operation: "transfer",
			Required:  amount,
			Available: from.Balance,
		}
	}

	t := domain.NewTransaction(from.ID, domain.TransactionTypeTransfer, amount)
	t.Description = domain.StringPtr(in.Description)
	t.TransactionKey = domain.StringPtr(in.TransactionKey)

	detail := domain.NewTransactionDetail(domain.Int64Ptr(from.ID), domain.Int64Ptr(to.ID), withActor(in.Metadata, in.ActorUserID))

	return uc.createAndProcess(ctx, t, detail, unitHooks{})
}

// ReverseTransaction estorna uma transação concluída.
// A original só é marcada como estornada quando o estorno conclui.
func (uc *TransactionUseCase) ReverseTransaction(ctx context.Context, in ReversalInput) (result *domain.Transaction, err error) {
	ctx, span := uc.tracer.Start(ctx, "ledger.reverse_transaction", trace.WithAttributes(
		attribute.Int64("original.id", in.OriginalID),
		attribute.String("original.public_id", in.OriginalPublicID),
		attribute.String("transaction.key", in.TransactionKey),
	))
	defer func() {
		uc.audit(ctx, "reversal", result, err, map[string]any{
			"original_id":        in.OriginalID,
			"original_public_id": in.OriginalPublicID,
			"reason":             in.Reason,
			"user_id":            in.ActorUserID,
		})
		endSpan(span, err)
	}()

	// 1. Idempotência
	if existing, found, err := uc.replay(ctx, in.TransactionKey); err != nil || found {
		return existing, err
	}

	// 2. Original deve existir e ser estornável
	original, err := uc.findOriginal(ctx, nil, in)
	if err != nil {
		return nil, err
	}
	if err := uc.checkReversible(ctx, nil, original); err != nil {
		return nil, err
	}

	// 3. Estorno pendente com detalhe invertido
	reversal := domain.NewTransaction(original.AccountID, domain.TransactionTypeReversal, original.Amount)
	reversal.ReferenceID = domain.Int64Ptr(original.ID)
	reversal.TransactionKey = domain.StringPtr(in.TransactionKey)
	description := in.Reason
	if description == "" {
		description = fmt.Sprintf("Reversal of transaction %s", original.PublicID)
	}
	reversal.Description = &description

	metadata := map[string]any{
		"original_transaction_id": original.ID,
		"original_public_id":      original.PublicID,
		"reason":                  in.Reason,
		"reversal_timestamp":      time.Now().UTC().Format(time.RFC3339),
		"transaction_key":         in.TransactionKey,
		"requested_by":            in.ActorUserID,
	}
	var detail *domain.TransactionDetail
	if original.Detail != nil {
		detail = original.Detail.SwappedForReversal(metadata)
	} else {
		detail = domain.NewTransactionDetail(nil, nil, metadata)
	}

	hooks := unitHooks{
		// Revalida sob lock da original para que dois estornos concorrentes não passem juntos
		beforeCreate: func(ctx context.Context, tx Tx) error {
			locked, err := uc.transactions.FindByIDForUpdate(ctx, tx, original.ID)
			if err != nil {
				return err
			}
			return uc.checkReversible(ctx, tx, locked)
		},
		afterProcess: func(ctx context.Context, tx Tx, processed *domain.Transaction) error {
			if !processed.IsCompleted() {
				return nil
			}
			locked, err := uc.transactions.FindByID(ctx, tx, original.ID)
			if err != nil {
				return fmt.Errorf("erro ao recarregar transação original: %w", err)
			}
			if err := locked.MarkReversed(); err != nil {
				return err
			}
			if locked.Detail != nil {
				locked.Detail.Stamp("reversed_by", processed.PublicID)
				locked.Detail.Stamp("reversed_at", time.Now().UTC().Format(time.RFC3339))
			}
			if err := uc.transactions.Save(ctx, tx, locked); err != nil {
				return fmt.Errorf("erro ao marcar transação original como estornada: %w", err)
			}
			return nil
		},
	}

	return uc.createAndProcess(ctx, reversal, detail, hooks)
}

// GetTransaction busca uma transação pelo public_id
func (uc *TransactionUseCase) GetTransaction(ctx context.Context, publicID string) (*domain.Transaction, error) {
	return uc.transactions.FindByPublicID(ctx, nil, publicID)
}

// ListAccountTransactions lista as transações de uma conta, mais recentes primeiro
func (uc *TransactionUseCase) ListAccountTransactions(ctx context.Context, accountPublicID string, page Page) (PageResult[*domain.Transaction], error) {
	account, err := uc.accounts.FindByPublicID(ctx, nil, accountPublicID)
	if err != nil {
		return PageResult[*domain.Transaction]{}, err
	}
	return uc.transactions.FindByAccount(ctx, nil, account.ID, page.Normalize())
}

// createAndProcess cria transação+detalhe e processa na mesma unidade de trabalho.
// Falhas de processamento comitam a linha failed e devolvem o erro.
func (uc *TransactionUseCase) createAndProcess(ctx context.Context, t *domain.Transaction, detail *domain.TransactionDetail, hooks unitHooks) (*domain.Transaction, error) {
	tx, err := uc.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("erro ao iniciar transação: %w", err)
	}
	defer tx.Rollback(ctx)

	if hooks.beforeCreate != nil {
		if err := hooks.beforeCreate(ctx, tx); err != nil {
			return nil, err
		}
	}

	if err := uc.transactions.CreateWithDetail(ctx, tx, t, detail); err != nil {
		if errors.Is(err, domain.ErrDuplicateTransactionKey) {
			// Outra submissão com a mesma chave venceu a corrida
			_ = tx.Rollback(ctx)
			uc.logger.Info("ℹ️ [IDEMPOTENCY] duplicate key lost the race", zap.String("transaction_key", t.Key()))
			return uc.transactions.FindByTransactionKey(ctx, nil, t.Key())
		}
		return nil, fmt.Errorf("erro ao criar transação: %w", err)
	}

	processed, procErr := uc.processor.Process(ctx, tx, t)
	if procErr == nil && hooks.afterProcess != nil {
		if err := hooks.afterProcess(ctx, tx, processed); err != nil {
			// Nada é persistido: o estorno não pode concluir sem marcar a original
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Join(procErr, fmt.Errorf("erro ao comitar transação: %w", err))
	}

	return processed, procErr
}

// replay devolve a transação existente para a chave, quando houver
func (uc *TransactionUseCase) replay(ctx context.Context, key string) (*domain.Transaction, bool, error) {
	if key == "" {
		return nil, false, nil
	}

	existing, err := uc.transactions.FindByTransactionKey(ctx, nil, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("erro ao verificar idempotência: %w", err)
	}

	uc.logger.Info("ℹ️ [IDEMPOTENCY] transaction key already used",
		zap.String("transaction_key", key),
		zap.String("public_id", existing.PublicID),
		zap.String("status", string(existing.Status)),
	)
	return existing, true, nil
}

func (uc *TransactionUseCase) findOriginal(ctx context.Context, tx Tx, in ReversalInput) (*domain.Transaction, error) {
	var (
		original *domain.Transaction
		err      error
	)
	switch {
	case in.OriginalID != 0:
		original, err = uc.transactions.FindByID(ctx, tx, in.OriginalID)
	case in.OriginalPublicID != "":
		original, err = uc.transactions.FindByPublicID(ctx, tx, in.OriginalPublicID)
	default:
		return nil, &domain.ValidationError{Field: "original_transaction", Message: "original transaction is required"}
	}

	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewTransactionError("original transaction not found")
	}
	return original, err
}

// checkReversible aplica as regras locais e a exclusividade de estorno
func (uc *TransactionUseCase) checkReversible(ctx context.Context, tx Tx, original *domain.Transaction) error {
	if err := original.ReversalBlocker(); err != nil {
		return err
	}

	reversals, err := uc.transactions.FindReversals(ctx, tx, original.ID)
	if err != nil {
		return fmt.Errorf("erro ao buscar estornos: %w", err)
	}
	for _, r := range reversals {
		if r.IsPending() || r.IsCompleted() {
			return domain.NewTransactionError("transaction %s already has a reversal (%s is %s)", original.PublicID, r.PublicID, r.Status)
		}
	}
	return nil
}

// audit registra a ação; falhas de auditoria são apenas logadas
func (uc *TransactionUseCase) audit(ctx context.Context, kind string, t *domain.Transaction, opErr error, details map[string]any) {
	action := kind + ".created"
	if opErr != nil {
		action = kind + ".failed"
		details["error"] = opErr.Error()
	}
	if t != nil {
		details["transaction_id"] = t.PublicID
		details["status"] = string(t.Status)
	}

	if err := uc.auditor.RecordAction(ctx, action, "transaction", details); err != nil {
		uc.logger.Warn("⚠️ failed to record audit entry", zap.String("action", action), zap.Error(err))
	}
}

func withActor(metadata map[string]any, actorUserID int64) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out["requested_by"] = actorUserID
	return out
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
