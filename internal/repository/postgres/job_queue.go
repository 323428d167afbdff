package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/matheusmosca/ledger-transactions/internal/jobs"
)

const jobsChannel = "ledger_jobs"

// JobQueue implementa jobs.Queue sobre a tabela ledger_jobs.
// Workers disputam jobs com FOR UPDATE SKIP LOCKED; LISTEN/NOTIFY acorda quem está ocioso.
type JobQueue struct {
	db           *DB
	listener     *pq.Listener
	pollInterval time.Duration
	lease        time.Duration
	logger       *zap.Logger
}

// NewJobListener abre a conexão LISTEN usada para acordar os workers
func NewJobListener(dsn string, logger *zap.Logger) (*pq.Listener, error) {
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("⚠️ job listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := listener.Listen(jobsChannel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", jobsChannel, err)
	}
	return listener, nil
}

// NewJobQueue cria uma nova instância de JobQueue; listener pode ser nil (apenas polling)
func NewJobQueue(db *DB, listener *pq.Listener, pollInterval, lease time.Duration, logger *zap.Logger) *JobQueue {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	return &JobQueue{
		db:           db,
		listener:     listener,
		pollInterval: pollInterval,
		lease:        lease,
		logger:       logger,
	}
}

func (q *JobQueue) Enqueue(ctx context.Context, job *jobs.Job) error {
	return q.db.unit(ctx, nil, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO ledger_jobs (id, name, payload, attempts, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			job.ID, string(job.Name), []byte(job.Payload), job.Attempts, job.EnqueuedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, jobsChannel, job.ID); err != nil {
			return fmt.Errorf("failed to notify job: %w", err)
		}
		return nil
	})
}

// Dequeue reivindica o próximo job disponível, aguardando NOTIFY ou o intervalo de polling
func (q *JobQueue) Dequeue(ctx context.Context) (*jobs.Job, error) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	var notifications <-chan *pq.Notification
	if q.listener != nil {
		notifications = q.listener.Notify
	}

	for {
		job, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-notifications:
		case <-ticker.C:
		}
	}
}

// claim marca um job como running; jobs running além do lease voltam a ser elegíveis
func (q *JobQueue) claim(ctx context.Context) (*jobs.Job, error) {
	var (
		job  jobs.Job
		name string
	)
	err := q.db.pool.QueryRow(ctx, `
		UPDATE ledger_jobs SET status = 'running', updated_at = NOW()
		WHERE id = (
			SELECT id FROM ledger_jobs
			WHERE (status = 'queued' AND available_at <= NOW())
			   OR (status = 'running' AND updated_at < NOW() - make_interval(secs => $1))
			ORDER BY available_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id::text, name, payload, attempts, created_at`,
		q.lease.Seconds(),
	).Scan(&job.ID, &name, &job.Payload, &job.Attempts, &job.EnqueuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job.Name = jobs.Name(name)
	return &job, nil
}

func (q *JobQueue) Complete(ctx context.Context, job *jobs.Job, jobErr error) error {
	status := "done"
	var lastError *string
	if jobErr != nil {
		status = "failed"
		message := jobErr.Error()
		lastError = &message
	}

	tag, err := q.db.pool.Exec(ctx, `
		UPDATE ledger_jobs
		SET status = $2, attempts = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1`,
		job.ID, status, job.Attempts, lastError,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		q.logger.Warn("⚠️ completed job not found", zap.String("job_id", job.ID))
	}
	return nil
}

// Release devolve um job em execução para queued, mantendo attempts e adiando available_at
func (q *JobQueue) Release(ctx context.Context, job *jobs.Job, delay time.Duration) error {
	tag, err := q.db.pool.Exec(ctx, `
		UPDATE ledger_jobs
		SET status = 'queued', attempts = $2, available_at = NOW() + make_interval(secs => $3), updated_at = NOW()
		WHERE id = $1 AND status = 'running'`,
		job.ID, job.Attempts, delay.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to release job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		q.logger.Warn("⚠️ released job not found", zap.String("job_id", job.ID))
	}
	return nil
}

// Close encerra o listener
func (q *JobQueue) Close() error {
	if q.listener == nil {
		return nil
	}
	return q.listener.Close()
}

var _ jobs.Queue = (*JobQueue)(nil)
