package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

var (
	// ErrQueueFull is returned when a job could not be queued before the
	// caller's context ended.
	ErrQueueFull = errors.New("job queue full")

	// ErrPoolClosed is returned by Dispatch after Shutdown.
	ErrPoolClosed = errors.New("worker pool closed")

	ErrUnknownJobKind = errors.New("unknown job kind")
)

// JobKind names one of the orchestrator's entry points.
type JobKind string

const (
	JobRejectPullRequest JobKind = "reject_pull_request"
	JobCancelWorkflowRun JobKind = "cancel_workflow_run"
)

// Job is one corrective-action request. It carries identifiers only; every
// resource is fetched fresh when the job runs.
type Job struct {
	ID             string    `json:"id"`
	Kind           JobKind   `json:"kind"`
	DeliveryID     string    `json:"delivery_id,omitempty"`
	InstallationID int64     `json:"installation_id"`
	Repository     string    `json:"repository"`
	PullRequest    int       `json:"pull_request,omitempty"`
	WorkflowRunID  int64     `json:"workflow_run_id,omitempty"`
	PullRequests   []int     `json:"pull_requests,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// Key identifies the resource a job acts on. Jobs with equal keys never run
// concurrently within one pool.
func (j Job) Key() string {
	if j.Kind == JobCancelWorkflowRun {
		return fmt.Sprintf("%s/runs/%d", j.Repository, j.WorkflowRunID)
	}
	return fmt.Sprintf("%s/pulls/%d", j.Repository, j.PullRequest)
}

// JobResult is the observable completion of a job.
type JobResult struct {
	Job        Job
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Dispatcher accepts jobs for asynchronous execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Runner executes a job to completion.
type Runner interface {
	Run(ctx context.Context, job Job) error
}

// WorkerPool runs jobs on a fixed set of workers, each draining its own
// bounded channel. A job goes to the worker chosen by hashing its key.
type WorkerPool struct {
	runner    Runner
	shards    []chan Job
	timeout   time.Duration
	reporters []func(JobResult)

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewWorkerPool creates a pool of workers with queueSize slots each. A zero
// timeout leaves jobs without a deadline.
func NewWorkerPool(runner Runner, workers, queueSize int, timeout time.Duration, reporters ...func(JobResult)) *WorkerPool {
	workers = max(workers, 1)
	queueSize = max(queueSize, 0)
	shards := make([]chan Job, workers)
	for i := range shards {
		shards[i] = make(chan Job, queueSize)
	}
	return &WorkerPool{
		runner:    runner,
		shards:    shards,
		timeout:   timeout,
		reporters: reporters,
	}
}

// Start launches the workers. Jobs run under contexts derived from ctx.
func (p *WorkerPool) Start(ctx context.Context) {
	for i, shard := range p.shards {
		p.wg.Add(1)
		go p.work(ctx, i, shard)
	}
	log.Printf("[Worker] Started %d workers\n", len(p.shards))
}

func (p *WorkerPool) work(ctx context.Context, id int, jobs <-chan Job) {
	defer p.wg.Done()
	for job := range jobs {
		p.report(p.run(ctx, job))
	}
	log.Printf("[Worker] Worker %d stopped\n", id)
}

func (p *WorkerPool) run(ctx context.Context, job Job) (result JobResult) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	result = JobResult{Job: job, StartedAt: time.Now()}
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
		result.FinishedAt = time.Now()
		if result.Err != nil {
			log.Printf("[Worker] Job %s (%s %s) failed: %v\n", job.ID, job.Kind, job.Key(), result.Err)
		} else {
			log.Printf("[Worker] Job %s (%s %s) done in %s\n", job.ID, job.Kind, job.Key(), result.FinishedAt.Sub(result.StartedAt))
		}
	}()

	result.Err = p.runner.Run(ctx, job)
	return result
}

func (p *WorkerPool) report(result JobResult) {
	for _, r := range p.reporters {
		r(result)
	}
}

// Dispatch queues job, assigning an ID and enqueue time if missing. It blocks
// until a slot frees up or ctx ends.
func (p *WorkerPool) Dispatch(ctx context.Context, job Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	shard := p.shards[xxhash.Sum64String(job.Key())%uint64(len(p.shards))]
	select {
	case shard <- job:
		log.Printf("[Worker] Queued job %s (%s %s)\n", job.ID, job.Kind, job.Key())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrQueueFull, ctx.Err())
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish or for
// ctx to end.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, shard := range p.shards {
			close(shard)
		}
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
