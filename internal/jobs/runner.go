package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
	"github.com/matheusmosca/ledger-transactions/internal/ledger"
)

const instrumentationName = "github.com/matheusmosca/ledger-transactions/internal/jobs"

// TransactionService é o subconjunto do TransactionUseCase usado pelos jobs
type TransactionService interface {
	CreateDeposit(ctx context.Context, in ledger.DepositInput) (*domain.Transaction, error)
	CreateTransfer(ctx context.Context, in ledger.TransferInput) (*domain.Transaction, error)
	ReverseTransaction(ctx context.Context, in ledger.ReversalInput) (*domain.Transaction, error)
}

// Options configura tentativas, backoff e concorrência do runner
type Options struct {
	MaxAttempts int
	Backoff     time.Duration
	Workers     int
}

// leaseMargin cobre a duração das próprias tentativas além das esperas de backoff
const leaseMargin = 5 * time.Minute

// Lease é o tempo que um job pode ficar em execução antes de outro worker reivindicá-lo
func (o Options) Lease() time.Duration {
	o = o.withDefaults()
	return time.Duration(o.MaxAttempts)*o.Backoff + leaseMargin
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return o
}

// Runner consome a fila e executa os casos de uso com retry
type Runner struct {
	service      TransactionService
	accounts     ledger.AccountRepository
	transactions ledger.TransactionRepository
	queue        Queue
	monitor      Monitor
	notifier     ledger.Notifier
	opts         Options
	logger       *zap.Logger

	tracer   trace.Tracer
	attempts metric.Int64Counter
}

// NewRunner cria uma nova instância de Runner
func NewRunner(
	service TransactionService,
	accounts ledger.AccountRepository,
	transactions ledger.TransactionRepository,
	queue Queue,
	monitor Monitor,
	notifier ledger.Notifier,
	opts Options,
	logger *zap.Logger,
) *Runner {
	if notifier == nil {
		notifier = ledger.NopNotifier{}
	}
	if monitor == nil {
		monitor = NewLogMonitor(logger)
	}

	attempts, err := otel.Meter(instrumentationName).Int64Counter(
		"ledger_job_attempts_total",
		metric.WithDescription("Number of job attempts by job name and outcome"),
	)
	if err != nil {
		logger.Warn("⚠️ failed to create job attempts counter", zap.Error(err))
	}

	return &Runner{
		service:      service,
		accounts:     accounts,
		transactions: transactions,
		queue:        queue,
		monitor:      monitor,
		notifier:     notifier,
		opts:         opts.withDefaults(),
		logger:       logger.Named("jobs"),
		tracer:       otel.Tracer(instrumentationName),
		attempts:     attempts,
	}
}

// SubmitDeposit valida o pedido e enfileira o job; devolve o id do job e a chave gerada
func (r *Runner) SubmitDeposit(ctx context.Context, in ledger.DepositInput) (*Job, string, error) {
	if err := domain.ValidateAmount(in.Amount); err != nil {
		return nil, "", err
	}
	if in.ToAccountPublicID == "" {
		return nil, "", &domain.ValidationError{Field: "to_account_id", Message: "destination account is required"}
	}

	key := keyOrNew(in.TransactionKey)
	return r.submit(ctx, JobDeposit, DepositPayload{
		ActorUserID:       in.ActorUserID,
		ToAccountPublicID: in.ToAccountPublicID,
		Amount:            in.Amount,
		Description:       in.Description,
		TransactionKey:    key,
		Metadata:          in.Metadata,
	}, key)
}

// SubmitTransfer valida o pedido e enfileira o job de transferência
func (r *Runner) SubmitTransfer(ctx context.Context, in ledger.TransferInput) (*Job, string, error) {
	if err := domain.ValidateAmount(in.Amount); err != nil {
		return nil, "", err
	}
	if in.FromAccountPublicID == "" || in.ToAccountPublicID == "" {
		return nil, "", &domain.ValidationError{Field: "account", Message: "source and destination accounts are required"}
	}
	if in.FromAccountPublicID == in.ToAccountPublicID {
		return nil, "", &domain.ValidationError{Field: "to_account_id", Message: "cannot transfer to the same account"}
	}

	key := keyOrNew(in.TransactionKey)
	return r.submit(ctx, JobTransfer, TransferPayload{
		ActorUserID:         in.ActorUserID,
		FromAccountPublicID: in.FromAccountPublicID,
		ToAccountPublicID:   in.ToAccountPublicID,
		Amount:              in.Amount,
		Description:         in.Description,
		TransactionKey:      key,
		Metadata:            in.Metadata,
	}, key)
}

// SubmitReversal enfileira o job de estorno
func (r *Runner) SubmitReversal(ctx context.Context, in ledger.ReversalInput) (*Job, string, error) {
	if in.OriginalID == 0 && in.OriginalPublicID == "" {
		return nil, "", &domain.ValidationError{Field: "original_transaction", Message: "original transaction is required"}
	}

	key := keyOrNew(in.TransactionKey)
	return r.submit(ctx, JobReversal, ReversalPayload{
		ActorUserID:      in.ActorUserID,
		OriginalID:       in.OriginalID,
		OriginalPublicID: in.OriginalPublicID,
		Reason:           in.Reason,
		TransactionKey:   key,
	}, key)
}

func (r *Runner) submit(ctx context.Context, name Name, payload any, key string) (*Job, string, error) {
	job, err := NewJob(name, payload)
	if err != nil {
		return nil, "", err
	}
	if err := r.queue.Enqueue(ctx, job); err != nil {
		return nil, "", fmt.Errorf("erro ao enfileirar job %s: %w", name, err)
	}

	r.logger.Info("📥 job enqueued",
		zap.String("job_id", job.ID),
		zap.String("job", string(name)),
		zap.String("transaction_key", key),
	)
	return job, key, nil
}

// Start executa os workers até o contexto ser cancelado
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("🚀 job runner started", zap.Int("workers", r.opts.Workers), zap.Int("max_attempts", r.opts.MaxAttempts))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.opts.Workers; i++ {
		worker := i
		g.Go(func() error {
			return r.work(ctx, worker)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runner) work(ctx context.Context, worker int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		job, err := r.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("❌ failed to dequeue job", zap.Int("worker", worker), zap.Error(err))
			if err := sleep(ctx, time.Second); err != nil {
				return err
			}
			continue
		}

		execErr := r.Execute(ctx, job)
		if errors.Is(execErr, ErrInterrupted) {
			// O job volta para a fila com as tentativas já feitas
			if err := r.queue.Release(context.WithoutCancel(ctx), job, r.opts.Backoff); err != nil {
				r.logger.Error("❌ failed to release job", zap.String("job_id", job.ID), zap.Error(err))
			}
			continue
		}
		if err := r.queue.Complete(context.WithoutCancel(ctx), job, execErr); err != nil {
			r.logger.Error("❌ failed to complete job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

// Execute roda o job com até MaxAttempts tentativas.
// Retorna nil quando a chave já existe no ledger ou quando o caso de uso conclui.
// Um cancelamento do contexto no meio do job devolve ErrInterrupted sem registrar falha terminal.
func (r *Runner) Execute(ctx context.Context, job *Job) (err error) {
	ctx, span := r.tracer.Start(ctx, "jobs.execute", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.name", string(job.Name)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	r.observe(r.monitor.RecordJobStart(ctx, job), "start", job)

	for {
		job.Attempts++
		span.SetAttributes(attribute.Int("job.attempt", job.Attempts))

		result, attemptErr := r.attempt(ctx, job)
		if attemptErr == nil {
			outcome := "success"
			if skipped, _ := result["skipped"].(bool); skipped {
				outcome = "skipped"
			}
			r.count(ctx, job, outcome)
			r.observe(r.monitor.RecordJobSuccess(ctx, job, result), "success", job)
			return nil
		}

		if interrupted(ctx, attemptErr) {
			// A tentativa foi cortada pelo encerramento e não consome o orçamento
			job.Attempts--
			r.count(ctx, job, "interrupted")
			r.logger.Warn("⏸️ job interrupted, releasing", zap.String("job_id", job.ID), zap.Error(attemptErr))
			return errors.Join(ErrInterrupted, attemptErr)
		}

		r.count(ctx, job, "failure")
		r.logger.Warn("⚠️ job attempt failed",
			zap.String("job_id", job.ID),
			zap.String("job", string(job.Name)),
			zap.Int("attempt", job.Attempts),
			zap.Error(attemptErr),
		)

		if !domain.IsRetryable(attemptErr) || job.Attempts >= r.opts.MaxAttempts {
			r.logger.Error("❌ job failed permanently",
				zap.String("job_id", job.ID),
				zap.Int("attempts", job.Attempts),
				zap.Error(attemptErr),
			)
			r.observe(r.monitor.RecordJobFailure(ctx, job, attemptErr), "failure", job)
			return attemptErr
		}

		if err := sleep(ctx, r.opts.Backoff); err != nil {
			r.logger.Warn("⏸️ job interrupted during backoff, releasing",
				zap.String("job_id", job.ID),
				zap.Int("attempts", job.Attempts),
			)
			return errors.Join(ErrInterrupted, attemptErr, err)
		}
	}
}

// attempt executa uma tentativa: curto-circuito pela chave, caso de uso e registro de falha
func (r *Runner) attempt(ctx context.Context, job *Job) (map[string]any, error) {
	key, err := payloadKey(job)
	if err != nil {
		return nil, &domain.ValidationError{Field: "payload", Message: err.Error()}
	}

	// 1. A chave já existe no ledger: nada a fazer
	if key != "" {
		existing, err := r.transactions.FindByTransactionKey(ctx, nil, key)
		switch {
		case err == nil && failedByJob(existing, job):
			// A falha desta execução já está no ledger: encerra sem nova escrita
			return nil, domain.NewTransactionError("transaction %s failed: %s", existing.PublicID, errorMessage(existing))
		case err == nil:
			r.logger.Info("ℹ️ [IDEMPOTENCY] job skipped, transaction key already recorded",
				zap.String("job_id", job.ID),
				zap.String("transaction_key", key),
				zap.String("status", string(existing.Status)),
			)
			return map[string]any{
				"skipped":        true,
				"transaction_id": existing.PublicID,
				"status":         string(existing.Status),
			}, nil
		case !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("erro ao verificar idempotência: %w", err)
		}
	}

	// 2. Executa o caso de uso
	t, runErr := r.run(ctx, job)
	if runErr != nil {
		if !interrupted(ctx, runErr) {
			r.recordFailure(ctx, job, key, runErr)
		}
		return nil, runErr
	}

	// 3. O caso de uso devolve a linha existente quando outra entrega venceu a corrida pela chave
	switch {
	case t.IsCompleted():
		// Notificações de sucesso; falhas não revertem o ledger
		r.notifySuccess(ctx, job, t)
		return map[string]any{
			"transaction_id": t.PublicID,
			"status":         string(t.Status),
			"amount":         domain.FormatMoney(t.Amount),
		}, nil
	case t.IsFailed():
		return nil, domain.NewTransactionError("transaction %s failed: %s", t.PublicID, errorMessage(t))
	default:
		r.logger.Info("ℹ️ [IDEMPOTENCY] job settled by another execution",
			zap.String("job_id", job.ID),
			zap.String("transaction_key", key),
			zap.String("status", string(t.Status)),
		)
		return map[string]any{
			"skipped":        true,
			"transaction_id": t.PublicID,
			"status":         string(t.Status),
		}, nil
	}
}

func (r *Runner) run(ctx context.Context, job *Job) (*domain.Transaction, error) {
	switch job.Name {
	case JobDeposit:
		var p DepositPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, &domain.ValidationError{Field: "payload", Message: err.Error()}
		}
		return r.service.CreateDeposit(ctx, p.Input())
	case JobTransfer:
		var p TransferPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, &domain.ValidationError{Field: "payload", Message: err.Error()}
		}
		return r.service.CreateTransfer(ctx, p.Input())
	case JobReversal:
		var p ReversalPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, &domain.ValidationError{Field: "payload", Message: err.Error()}
		}
		return r.service.ReverseTransaction(ctx, p.Input())
	}
	return nil, &domain.ValidationError{Field: "job", Message: fmt.Sprintf("unknown job %q", job.Name)}
}

func (r *Runner) notifySuccess(ctx context.Context, job *Job, t *domain.Transaction) {
	var err error
	switch job.Name {
	case JobDeposit:
		err = r.notifier.NotifyTransactionCompleted(ctx, t, false, true)
	case JobTransfer:
		err = r.notifier.NotifyTransactionCompleted(ctx, t, true, true)
	case JobReversal:
		var original *domain.Transaction
		if t.ReferenceID != nil {
			original, err = r.transactions.FindByID(ctx, nil, *t.ReferenceID)
		}
		if err == nil {
			err = r.notifier.NotifyReversalCompleted(ctx, t, original)
		}
	}
	if err != nil {
		r.logger.Warn("⚠️ failed to send notification", zap.String("transaction_id", t.PublicID), zap.Error(err))
	}
}

// recordFailure garante que existe uma linha failed para a chave do job
func (r *Runner) recordFailure(ctx context.Context, job *Job, key string, cause error) {
	ctx = context.WithoutCancel(ctx)

	recorded, err := r.markExisting(ctx, job, key, cause)
	if err == nil && recorded == nil {
		recorded, err = r.createFailed(ctx, job, key, cause)
	}
	if err != nil {
		r.logger.Error("❌ failed to record transaction failure",
			zap.String("job_id", job.ID),
			zap.String("transaction_key", key),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	if recorded == nil {
		return
	}

	if err := r.notifier.NotifyTransactionFailed(ctx, recorded); err != nil {
		r.logger.Warn("⚠️ failed to send failure notification", zap.String("transaction_id", recorded.PublicID), zap.Error(err))
	}
}

// markExisting atualiza uma linha pending/failed da mesma chave ou, para estornos,
// um estorno falho da mesma original
func (r *Runner) markExisting(ctx context.Context, job *Job, key string, cause error) (*domain.Transaction, error) {
	var existing *domain.Transaction

	if key != "" {
		t, err := r.transactions.FindByTransactionKey(ctx, nil, key)
		switch {
		case err == nil:
			existing = t
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	}

	if existing == nil && job.Name == JobReversal {
		original, err := r.reversalOriginal(ctx, job)
		if err != nil || original == nil {
			return nil, err
		}
		reversals, err := r.transactions.FindReversals(ctx, nil, original.ID)
		if err != nil {
			return nil, err
		}
		for _, rev := range reversals {
			if rev.IsFailed() {
				existing = rev
				break
			}
		}
	}

	if existing == nil {
		return nil, nil
	}
	if !existing.IsPending() && !existing.IsFailed() {
		// Linha concluída pertence a outra execução; não há o que registrar
		return nil, nil
	}

	if err := existing.MarkFailed(cause.Error()); err != nil {
		return nil, err
	}
	if existing.Detail != nil {
		existing.Detail.Stamp("failed_by_job", job.ID)
		existing.Detail.Stamp("failed_attempt", job.Attempts)
	}
	if err := r.transactions.Save(ctx, nil, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// createFailed insere uma nova transação failed com os dados do payload.
// Sem conta identificável não há linha a criar; a falha fica apenas no log.
func (r *Runner) createFailed(ctx context.Context, job *Job, key string, cause error) (*domain.Transaction, error) {
	t, detail, err := r.failedFromPayload(ctx, job)
	if err != nil || t == nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("⚠️ failure not recorded, account could not be resolved",
				zap.String("job_id", job.ID),
				zap.NamedError("cause", cause),
			)
			return nil, nil
		}
		return nil, err
	}

	if err := t.MarkFailed(cause.Error()); err != nil {
		return nil, err
	}
	t.TransactionKey = domain.StringPtr(key)
	detail.Stamp("failed_by_job", job.ID)
	detail.Stamp("failed_attempt", job.Attempts)

	if err := r.transactions.CreateWithDetail(ctx, nil, t, detail); err != nil {
		if errors.Is(err, domain.ErrDuplicateTransactionKey) {
			return nil, nil
		}
		return nil, err
	}

	r.logger.Info("📝 failed transaction recorded",
		zap.String("job_id", job.ID),
		zap.String("transaction_id", t.PublicID),
		zap.String("transaction_key", key),
	)
	return t, nil
}

func (r *Runner) failedFromPayload(ctx context.Context, job *Job) (*domain.Transaction, *domain.TransactionDetail, error) {
	switch job.Name {
	case JobDeposit:
		var p DepositPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, nil, err
		}
		if !p.Amount.IsPositive() {
			return nil, nil, nil
		}
		account, err := r.accounts.FindByPublicID(ctx, nil, p.ToAccountPublicID)
		if err != nil {
			return nil, nil, err
		}
		t := domain.NewTransaction(account.ID, domain.TransactionTypeDeposit, p.Amount)
		t.Description = domain.StringPtr(p.Description)
		return t, domain.NewTransactionDetail(nil, domain.Int64Ptr(account.ID), failureMetadata(p.Metadata, p.ActorUserID)), nil

	case JobTransfer:
		var p TransferPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, nil, err
		}
		if !p.Amount.IsPositive() {
			return nil, nil, nil
		}
		from, err := r.accounts.FindByPublicID(ctx, nil, p.FromAccountPublicID)
		if err != nil {
			return nil, nil, err
		}
		var to *int64
		if account, err := r.accounts.FindByPublicID(ctx, nil, p.ToAccountPublicID); err == nil {
			to = domain.Int64Ptr(account.ID)
		}
		t := domain.NewTransaction(from.ID, domain.TransactionTypeTransfer, p.Amount)
		t.Description = domain.StringPtr(p.Description)
		return t, domain.NewTransactionDetail(domain.Int64Ptr(from.ID), to, failureMetadata(p.Metadata, p.ActorUserID)), nil

	case JobReversal:
		var p ReversalPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, nil, err
		}
		original, err := r.reversalOriginal(ctx, job)
		if err != nil {
			return nil, nil, err
		}
		if original == nil {
			return nil, nil, &domain.NotFoundError{Resource: "transaction", Key: p.OriginalPublicID}
		}
		t := domain.NewTransaction(original.AccountID, domain.TransactionTypeReversal, original.Amount)
		t.ReferenceID = domain.Int64Ptr(original.ID)
		t.Description = domain.StringPtr(fmt.Sprintf("Reversal of transaction %s", original.PublicID))

		metadata := failureMetadata(map[string]any{
			"original_transaction_id": original.ID,
			"original_public_id":      original.PublicID,
			"reason":                  p.Reason,
		}, p.ActorUserID)
		detail := domain.NewTransactionDetail(nil, nil, metadata)
		if original.Detail != nil {
			detail = original.Detail.SwappedForReversal(metadata)
		}
		return t, detail, nil
	}
	return nil, nil, nil
}

func (r *Runner) reversalOriginal(ctx context.Context, job *Job) (*domain.Transaction, error) {
	var p ReversalPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, err
	}

	var (
		original *domain.Transaction
		err      error
	)
	switch {
	case p.OriginalID != 0:
		original, err = r.transactions.FindByID(ctx, nil, p.OriginalID)
	case p.OriginalPublicID != "":
		original, err = r.transactions.FindByPublicID(ctx, nil, p.OriginalPublicID)
	default:
		return nil, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return original, err
}

func (r *Runner) count(ctx context.Context, job *Job, outcome string) {
	if r.attempts == nil {
		return
	}
	r.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job", string(job.Name)),
		attribute.String("outcome", outcome),
	))
}

func (r *Runner) observe(err error, stage string, job *Job) {
	if err != nil {
		r.logger.Warn("⚠️ job monitor failed", zap.String("stage", stage), zap.String("job_id", job.ID), zap.Error(err))
	}
}

func failureMetadata(metadata map[string]any, actorUserID int64) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out["requested_by"] = actorUserID
	return out
}

func failedByJob(t *domain.Transaction, job *Job) bool {
	if !t.IsFailed() || t.Detail == nil {
		return false
	}
	owner, _ := t.Detail.Metadata["failed_by_job"].(string)
	return owner == job.ID
}

func errorMessage(t *domain.Transaction) string {
	if t.ErrorMessage == nil {
		return "unknown error"
	}
	return *t.ErrorMessage
}

// interrupted indica que err veio do cancelamento do próprio contexto do worker
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}

func keyOrNew(key string) string {
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
