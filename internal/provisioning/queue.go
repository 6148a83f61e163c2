package provisioning

import (
	"context"
	"errors"
	"sync"

	"provisioning-service/prometheus"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrQueueFull is returned when the job buffer has no room for another
// provisioning request.
var ErrQueueFull = errors.New("provisioning queue is full")

// ErrQueueClosed is returned when enqueueing after shutdown has started.
var ErrQueueClosed = errors.New("provisioning queue is closed")

// Job is one enqueued provisioning request. Each job is attempted exactly
// once; a failed pipeline requires a new, manually triggered request.
type Job struct {
	ID      string
	Request Request
}

// Queue is the in-process job queue feeding the orchestrator. One worker runs
// one tenant's pipeline to completion before picking up the next job, so steps
// of a single run never interleave across goroutines. Multiple tenants may
// provision concurrently across workers.
type Queue struct {
	orch *Orchestrator
	jobs chan Job
	log  *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueue creates a queue with the given buffer size.
func NewQueue(orch *Orchestrator, size int, log *zap.Logger) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{
		orch: orch,
		jobs: make(chan Job, size),
		log:  log,
	}
}

// Start launches the worker pool. Workers exit when the queue is stopped or
// the context is cancelled.
func (q *Queue) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	log := q.log.With(zap.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			prometheus.QueueDepthGauge.Dec()
			log.Info("Provisioning job started",
				zap.String("job_id", job.ID),
				zap.String("tenant_name", job.Request.Name))

			// Single attempt: the job's terminal error is logged, never retried.
			if _, err := q.orch.Provision(ctx, job.Request); err != nil {
				log.Error("Provisioning job failed",
					zap.String("job_id", job.ID),
					zap.String("tenant_name", job.Request.Name),
					zap.Error(err))
				continue
			}
			log.Info("Provisioning job completed", zap.String("job_id", job.ID))
		}
	}
}

// Enqueue submits a provisioning request and returns its job id without
// blocking. Returns ErrQueueFull when the buffer is saturated.
func (q *Queue) Enqueue(req Request) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrQueueClosed
	}

	job := Job{ID: uuid.NewString(), Request: req}
	select {
	case q.jobs <- job:
		prometheus.QueueDepthGauge.Inc()
		return job.ID, nil
	default:
		return "", ErrQueueFull
	}
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
