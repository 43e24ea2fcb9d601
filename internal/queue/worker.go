package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dsil-design/joot-reconcile/internal/common"
	"github.com/dsil-design/joot-reconcile/internal/model"
)

// Pool runs a fixed number of workers that poll for claimable jobs and
// dispatch them to registered handlers. Each job runs to completion on one
// worker; a handler failure never crashes the worker or touches unrelated
// jobs.
type Pool struct {
	queue *Queue
}

// NewPool creates a worker pool over a queue.
func NewPool(queue *Queue) *Pool {
	return &Pool{queue: queue}
}

// Run starts the workers and blocks until ctx is cancelled and all in-flight
// jobs have finished.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.queue.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.workerLoop(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, worker int) {
	for {
		processed, err := p.RunOnce(ctx)
		if err != nil {
			slog.Error("Worker poll failed", "worker", worker, "error", err)
		}
		if processed {
			// Drain eagerly while work is available.
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.queue.cfg.PollInterval):
		}
	}
}

// RunOnce claims and executes at most one job. Returns whether a job was
// processed. Exported so tests and one-shot CLI commands can drain the queue
// deterministically.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	job, err := p.queue.storage.ClaimNextJob(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	p.execute(ctx, job)
	return true, nil
}

func (p *Pool) execute(ctx context.Context, job *model.Job) {
	handler, ok := p.queue.handler(job.Type)
	if !ok {
		// No registered handler is terminal; retrying cannot fix it.
		p.finish(ctx, job, fmt.Errorf("no handler registered for job type %q", job.Type), false)
		return
	}

	attemptCtx := ctx
	cancel := func() {}
	if p.queue.cfg.AttemptTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, p.queue.cfg.AttemptTimeout)
	}
	defer cancel()

	err := p.invoke(attemptCtx, handler, job)
	p.finish(ctx, job, err, true)
}

// invoke runs the handler, converting a panic into a handler error so one
// bad job cannot take down the worker.
func (p *Pool) invoke(ctx context.Context, handler Handler, job *model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, job.Payload)
}

func (p *Pool) finish(ctx context.Context, job *model.Job, err error, retryable bool) {
	if err == nil {
		if completeErr := p.queue.storage.CompleteJob(ctx, job.ID); completeErr != nil {
			slog.Error("Failed to mark job completed", "job_id", job.ID, "error", completeErr)
		}
		slog.Debug("Job completed", "job_id", job.ID, "type", job.Type)
		return
	}

	if retryable && job.RetryCount < job.MaxRetries {
		delay := common.Backoff(p.queue.cfg.InitialBackoff, p.queue.cfg.BackoffFactor,
			job.RetryCount, p.queue.cfg.MaxBackoff)
		availableAt := time.Now().UTC().Add(delay)
		if retryErr := p.queue.storage.RetryJob(ctx, job.ID, availableAt, err.Error()); retryErr != nil {
			slog.Error("Failed to mark job retrying", "job_id", job.ID, "error", retryErr)
			return
		}
		slog.Warn("Job failed, will retry",
			"job_id", job.ID,
			"type", job.Type,
			"attempt", job.RetryCount+1,
			"max_retries", job.MaxRetries,
			"delay", delay,
			"error", err)
		return
	}

	if failErr := p.queue.storage.FailJob(ctx, job.ID, err.Error()); failErr != nil {
		slog.Error("Failed to mark job failed", "job_id", job.ID, "error", failErr)
		return
	}
	slog.Error("Job failed permanently",
		"job_id", job.ID,
		"type", job.Type,
		"retries", job.RetryCount,
		"error", err)
}
