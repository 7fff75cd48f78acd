package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type runnerFunc func(ctx context.Context, job Job) error

func (f runnerFunc) Run(ctx context.Context, job Job) error { return f(ctx, job) }

// resultLog collects reported results.
type resultLog struct {
	mu      sync.Mutex
	results []JobResult
}

func (l *resultLog) report(r JobResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, r)
}

func (l *resultLog) all() []JobResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]JobResult(nil), l.results...)
}

func TestWorkerPoolReportsResults(t *testing.T) {
	boom := errors.New("boom")
	var log resultLog
	pool := NewWorkerPool(runnerFunc(func(_ context.Context, job Job) error {
		if job.PullRequest == 2 {
			return boom
		}
		return nil
	}), 2, 4, 0, log.report)
	pool.Start(context.Background())

	for _, n := range []int{1, 2} {
		job := Job{Kind: JobRejectPullRequest, Repository: "octo/app", PullRequest: n}
		if err := pool.Dispatch(context.Background(), job); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	results := log.all()
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.Job.ID == "" || r.Job.EnqueuedAt.IsZero() {
			t.Errorf("job %+v lacks ID or enqueue time", r.Job)
		}
		if r.FinishedAt.Before(r.StartedAt) {
			t.Errorf("job %s finished before it started", r.Job.ID)
		}
		wantErr := r.Job.PullRequest == 2
		if (r.Err != nil) != wantErr || (wantErr && !errors.Is(r.Err, boom)) {
			t.Errorf("job for #%d: err = %v", r.Job.PullRequest, r.Err)
		}
	}
}

func TestWorkerPoolSerializesSameKey(t *testing.T) {
	var (
		mu      sync.Mutex
		running = map[string]int{}
		overlap bool
	)
	pool := NewWorkerPool(runnerFunc(func(_ context.Context, job Job) error {
		mu.Lock()
		running[job.Key()]++
		if running[job.Key()] > 1 {
			overlap = true
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		running[job.Key()]--
		mu.Unlock()
		return nil
	}), 4, 16, 0)
	pool.Start(context.Background())

	for i := range 8 {
		job := Job{Kind: JobRejectPullRequest, Repository: "octo/app", PullRequest: 7, DeliveryID: string(rune('a' + i))}
		if err := pool.Dispatch(context.Background(), job); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if overlap {
		t.Error("two jobs for the same pull request ran concurrently")
	}
}

func TestJobKey(t *testing.T) {
	pr := Job{Kind: JobRejectPullRequest, Repository: "octo/app", PullRequest: 7}
	run := Job{Kind: JobCancelWorkflowRun, Repository: "octo/app", WorkflowRunID: 7}
	if pr.Key() == run.Key() {
		t.Errorf("pull request and run jobs share key %q", pr.Key())
	}
	if pr.Key() != "octo/app/pulls/7" || run.Key() != "octo/app/runs/7" {
		t.Errorf("keys = %q, %q", pr.Key(), run.Key())
	}
}

func TestWorkerPoolQueueFull(t *testing.T) {
	release := make(chan struct{})
	pool := NewWorkerPool(runnerFunc(func(context.Context, Job) error {
		<-release
		return nil
	}), 1, 0, 0)
	pool.Start(context.Background())

	job := Job{Kind: JobRejectPullRequest, Repository: "octo/app", PullRequest: 1}
	if err := pool.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("first Dispatch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Dispatch(ctx, job)
	if !errors.Is(err, ErrQueueFull) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Dispatch err = %v, want ErrQueueFull", err)
	}

	close(release)
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := pool.Dispatch(context.Background(), job); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Dispatch after Shutdown err = %v, want ErrPoolClosed", err)
	}
}

func TestWorkerPoolJobTimeout(t *testing.T) {
	var log resultLog
	pool := NewWorkerPool(runnerFunc(func(ctx context.Context, _ Job) error {
		<-ctx.Done()
		return ctx.Err()
	}), 1, 1, 10*time.Millisecond, log.report)
	pool.Start(context.Background())

	if err := pool.Dispatch(context.Background(), Job{Kind: JobCancelWorkflowRun, Repository: "octo/app"}); err != nil {
		t.Fatal(err)
	}
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if results := log.all(); len(results) != 1 || !errors.Is(results[0].Err, context.DeadlineExceeded) {
		t.Errorf("results = %+v, want a deadline error", results)
	}
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	var log resultLog
	pool := NewWorkerPool(runnerFunc(func(context.Context, Job) error {
		panic("nil map")
	}), 1, 1, 0, log.report)
	pool.Start(context.Background())

	if err := pool.Dispatch(context.Background(), Job{Kind: JobRejectPullRequest, Repository: "octo/app"}); err != nil {
		t.Fatal(err)
	}
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if results := log.all(); len(results) != 1 || results[0].Err == nil {
		t.Errorf("results = %+v, want the panic as an error", results)
	}
}

func TestWorkerPoolShutdownDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	pool := NewWorkerPool(runnerFunc(func(context.Context, Job) error {
		<-release
		return nil
	}), 1, 1, 0)
	pool.Start(context.Background())
	if err := pool.Dispatch(context.Background(), Job{Kind: JobRejectPullRequest, Repository: "octo/app"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := pool.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown err = %v, want deadline exceeded", err)
	}
}
