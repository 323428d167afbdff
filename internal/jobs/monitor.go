package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
)

const (
	jobStatusStarted   = "started"
	jobStatusCompleted = "completed"
	jobStatusFailed    = "failed"

	jobTTL       = 24 * time.Hour
	failedJobTTL = 3 * 24 * time.Hour

	activeJobsKey    = "jobs:active"
	completedJobsKey = "jobs:completed"
	failedJobsKey    = "jobs:failed"
	failureCountKey  = "jobs:failure_count"
)

// StatusReader expõe o estado agregado e individual dos jobs
type StatusReader interface {
	Stats(ctx context.Context) (Stats, error)
	Status(ctx context.Context, jobID string) (map[string]string, error)
}

func jobKey(id string) string {
	return "job:" + id
}

// RedisMonitor guarda o ciclo de vida dos jobs em hashes e sets no Redis
type RedisMonitor struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisMonitor cria uma nova instância de RedisMonitor
func NewRedisMonitor(client *redis.Client, logger *zap.Logger) *RedisMonitor {
	return &RedisMonitor{client: client, logger: logger}
}

func (m *RedisMonitor) RecordJobStart(ctx context.Context, job *Job) error {
	key := jobKey(job.ID)
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"status", jobStatusStarted,
			"job_name", string(job.Name),
			"payload", string(job.Payload),
			"started_at", time.Now().UTC().Format(time.RFC3339),
		)
		pipe.Expire(ctx, key, jobTTL)
		pipe.SAdd(ctx, activeJobsKey, job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record job start: %w", err)
	}
	return nil
}

func (m *RedisMonitor) RecordJobSuccess(ctx context.Context, job *Job, result map[string]any) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode job result: %w", err)
	}

	key := jobKey(job.ID)
	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"status", jobStatusCompleted,
			"result", string(encoded),
			"attempts", job.Attempts,
			"completed_at", time.Now().UTC().Format(time.RFC3339),
		)
		pipe.Expire(ctx, key, jobTTL)
		pipe.SRem(ctx, activeJobsKey, job.ID)
		pipe.SAdd(ctx, completedJobsKey, job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record job success: %w", err)
	}
	return nil
}

func (m *RedisMonitor) RecordJobFailure(ctx context.Context, job *Job, cause error) error {
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}

	key := jobKey(job.ID)
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"status", jobStatusFailed,
			"error", message,
			"attempts", job.Attempts,
			"failed_at", time.Now().UTC().Format(time.RFC3339),
		)
		pipe.Expire(ctx, key, failedJobTTL)
		pipe.SRem(ctx, activeJobsKey, job.ID)
		pipe.SAdd(ctx, failedJobsKey, job.ID)
		pipe.Incr(ctx, failureCountKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record job failure: %w", err)
	}

	m.logger.Error("❌ job failed", zap.String("job_id", job.ID), zap.String("job", string(job.Name)), zap.String("error", message))
	return nil
}

func (m *RedisMonitor) Stats(ctx context.Context) (Stats, error) {
	pipe := m.client.Pipeline()
	active := pipe.SCard(ctx, activeJobsKey)
	completed := pipe.SCard(ctx, completedJobsKey)
	failed := pipe.SCard(ctx, failedJobsKey)
	failures := pipe.Get(ctx, failureCountKey)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("failed to read job stats: %w", err)
	}

	count, err := failures.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("failed to read failure count: %w", err)
	}

	return Stats{
		Active:       active.Val(),
		Completed:    completed.Val(),
		Failed:       failed.Val(),
		FailureCount: count,
	}, nil
}

func (m *RedisMonitor) Status(ctx context.Context, jobID string) (map[string]string, error) {
	fields, err := m.client.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, &domain.NotFoundError{Resource: "job", Key: jobID}
	}
	return fields, nil
}

// LogMonitor registra o ciclo de vida no log e mantém o estado em memória
type LogMonitor struct {
	logger *zap.Logger

	mu       sync.Mutex
	jobs     map[string]map[string]string
	failures int64
}

// NewLogMonitor cria uma nova instância de LogMonitor
func NewLogMonitor(logger *zap.Logger) *LogMonitor {
	return &LogMonitor{logger: logger, jobs: map[string]map[string]string{}}
}

func (m *LogMonitor) RecordJobStart(_ context.Context, job *Job) error {
	m.set(job.ID, map[string]string{"status": jobStatusStarted, "job_name": string(job.Name)})
	m.logger.Info("▶️ job started", zap.String("job_id", job.ID), zap.String("job", string(job.Name)))
	return nil
}

func (m *LogMonitor) RecordJobSuccess(_ context.Context, job *Job, result map[string]any) error {
	m.set(job.ID, map[string]string{"status": jobStatusCompleted, "attempts": fmt.Sprint(job.Attempts)})
	m.logger.Info("✅ job completed", zap.String("job_id", job.ID), zap.String("job", string(job.Name)), zap.Any("result", result))
	return nil
}

func (m *LogMonitor) RecordJobFailure(_ context.Context, job *Job, cause error) error {
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	m.set(job.ID, map[string]string{"status": jobStatusFailed, "error": message, "attempts": fmt.Sprint(job.Attempts)})

	m.mu.Lock()
	m.failures++
	m.mu.Unlock()

	m.logger.Error("❌ job failed", zap.String("job_id", job.ID), zap.String("job", string(job.Name)), zap.String("error", message))
	return nil
}

func (m *LogMonitor) Stats(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{FailureCount: m.failures}
	for _, fields := range m.jobs {
		switch fields["status"] {
		case jobStatusStarted:
			stats.Active++
		case jobStatusCompleted:
			stats.Completed++
		case jobStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (m *LogMonitor) Status(_ context.Context, jobID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields, ok := m.jobs[jobID]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "job", Key: jobID}
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out, nil
}

func (m *LogMonitor) set(jobID string, fields map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.jobs[jobID]
	if !ok {
		current = map[string]string{}
		m.jobs[jobID] = current
	}
	for k, v := range fields {
		current[k] = v
	}
}
