package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
)

// AccountService gerencia o ciclo de vida das contas. Nunca altera saldos.
type AccountService struct {
	txManager TxManager
	accounts  AccountRepository
	auditor   Auditor
	logger    *zap.Logger
}

// NewAccountService cria uma nova instância de AccountService
func NewAccountService(txManager TxManager, accounts AccountRepository, auditor Auditor, logger *zap.Logger) *AccountService {
	if auditor == nil {
		auditor = NopAuditor{}
	}
	return &AccountService{
		txManager: txManager,
		accounts:  accounts,
		auditor:   auditor,
		logger:    logger,
	}
}

// Open cria a conta do usuário com saldo zero; cada usuário tem no máximo uma conta
func (s *AccountService) Open(ctx context.Context, userID int64) (*domain.Account, error) {
	if userID <= 0 {
		return nil, &domain.ValidationError{Field: "user_id", Message: "user id is required"}
	}

	existing, err := s.accounts.FindByUserID(ctx, nil, userID)
	switch {
	case err == nil:
		return nil, domain.NewTransactionError("user %d already owns account %s", userID, existing.PublicID)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("erro ao buscar conta do usuário: %w", err)
	}

	account, err := s.accounts.CreateForUser(ctx, nil, userID, decimal.Zero)
	if err != nil {
		return nil, fmt.Errorf("erro ao criar conta: %w", err)
	}

	s.record(ctx, "account.opened", account)
	s.logger.Info("✅ account opened", zap.String("public_id", account.PublicID), zap.Int64("user_id", userID))
	return account, nil
}

func (s *AccountService) Get(ctx context.Context, publicID string) (*domain.Account, error) {
	return s.accounts.FindByPublicID(ctx, nil, publicID)
}

// Activate reativa a conta
func (s *AccountService) Activate(ctx context.Context, publicID string) (*domain.Account, error) {
	return s.changeStatus(ctx, publicID, "account.activated", (*domain.Account).Activate)
}

// Deactivate impede novos depósitos e transferências envolvendo a conta
func (s *AccountService) Deactivate(ctx context.Context, publicID string) (*domain.Account, error) {
	return s.changeStatus(ctx, publicID, "account.deactivated", (*domain.Account).Deactivate)
}

// Close faz soft delete da conta; só contas com saldo zero podem ser encerradas
func (s *AccountService) Close(ctx context.Context, publicID string) error {
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("erro ao iniciar transação: %w", err)
	}
	defer tx.Rollback(ctx)

	account, err := s.lockByPublicID(ctx, tx, publicID)
	if err != nil {
		return err
	}
	if !account.Balance.IsZero() {
		return domain.NewTransactionError("account %s has balance %s and cannot be closed", account.PublicID, domain.FormatMoney(account.Balance))
	}

	if err := s.accounts.Delete(ctx, tx, account.ID); err != nil {
		return fmt.Errorf("erro ao encerrar conta: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("erro ao comitar encerramento: %w", err)
	}

	s.record(ctx, "account.closed", account)
	return nil
}

// changeStatus altera o status sob lock, preservando o saldo corrente
func (s *AccountService) changeStatus(ctx context.Context, publicID, action string, apply func(*domain.Account)) (*domain.Account, error) {
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("erro ao iniciar transação: %w", err)
	}
	defer tx.Rollback(ctx)

	account, err := s.lockByPublicID(ctx, tx, publicID)
	if err != nil {
		return nil, err
	}

	apply(account)
	if err := s.accounts.Save(ctx, tx, account); err != nil {
		return nil, fmt.Errorf("erro ao salvar conta: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("erro ao comitar conta: %w", err)
	}

	s.record(ctx, action, account)
	return account, nil
}

func (s *AccountService) lockByPublicID(ctx context.Context, tx Tx, publicID string) (*domain.Account, error) {
	account, err := s.accounts.FindByPublicID(ctx, tx, publicID)
	if err != nil {
		return nil, err
	}
	return s.accounts.FindByIDForUpdate(ctx, tx, account.ID)
}

func (s *AccountService) record(ctx context.Context, action string, account *domain.Account) {
	details := map[string]any{
		"account_id": account.PublicID,
		"user_id":    account.UserID,
		"status":     string(account.Status),
	}
	if err := s.auditor.RecordAction(ctx, action, "account", details); err != nil {
		s.logger.Warn("⚠️ failed to record audit entry", zap.String("action", action), zap.Error(err))
	}
}
