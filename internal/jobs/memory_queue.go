package jobs

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrQueueFull = errors.New("job queue is full")

// MemoryQueue é uma fila em memória sobre um canal bufferizado
type MemoryQueue struct {
	jobs chan *Job

	mu      sync.Mutex
	results map[string]error
}

// NewMemoryQueue cria uma nova instância de MemoryQueue
func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{
		jobs:    make(chan *Job, size),
		results: map[string]error{},
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) Complete(_ context.Context, job *Job, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results[job.ID] = err
	return nil
}

// Release recoloca o job no canal após delay
func (q *MemoryQueue) Release(_ context.Context, job *Job, delay time.Duration) error {
	if delay <= 0 {
		return q.requeue(job)
	}
	time.AfterFunc(delay, func() {
		if err := q.requeue(job); err != nil {
			q.mu.Lock()
			q.results[job.ID] = err
			q.mu.Unlock()
		}
	})
	return nil
}

func (q *MemoryQueue) requeue(job *Job) error {
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Result informa se o job foi concluído e com qual erro
func (q *MemoryQueue) Result(jobID string) (done bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	err, done = q.results[jobID]
	return done, err
}

// Len devolve quantos jobs aguardam execução
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}
