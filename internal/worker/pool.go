package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/norish-recipes/norish-sub000/internal/jobqueue"
	"github.com/norish-recipes/norish-sub000/pkg/log"
)

// Handler processes one leased job. A nil return completes the job; an error
// schedules a retry (or a final failure once the attempt budget is spent).
type Handler func(ctx context.Context, job *jobqueue.Job) error

// Callbacks observe job outcomes. Either field may be nil.
type Callbacks struct {
	// OnCompleted fires after a job is durably completed.
	OnCompleted func(ctx context.Context, job *jobqueue.Job)
	// OnFailed fires after every failed attempt. final is true only when no
	// further attempt will be made.
	OnFailed func(ctx context.Context, job *jobqueue.Job, jobErr error, final bool)
}

// PoolOptions configures a pool.
type PoolOptions struct {
	// Concurrency caps simultaneously running handlers. Defaults to 1.
	Concurrency int64
	// PollEvery is the idle polling interval. Defaults to 250ms.
	PollEvery time.Duration
	// Backoff schedules retry delays.
	Backoff Backoff
	Logger  log.Logger
}

// Pool consumes one queue with bounded concurrency.
type Pool struct {
	queue   *jobqueue.Queue
	handler Handler
	cb      Callbacks
	opts    PoolOptions
	sem     *semaphore.Weighted
	logger  log.Logger

	stop chan struct{}
	done chan struct{}
}

// NewPool builds a pool over an opened queue.
func NewPool(q *jobqueue.Queue, handler Handler, opts PoolOptions, cb Callbacks) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollEvery <= 0 {
		opts.PollEvery = 250 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	return &Pool{
		queue:   q,
		handler: handler,
		cb:      cb,
		opts:    opts,
		sem:     semaphore.NewWeighted(opts.Concurrency),
		logger:  logger.WithComponent("worker").With(log.Str("queue", q.Name())),
	}
}

// Start launches the polling loop. Call Stop to drain.
func (p *Pool) Start(ctx context.Context) {
	if p.stop != nil {
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop(ctx)
}

func (p *Pool) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.opts.PollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		p.dispatchBatch(ctx)
	}
}

// dispatchBatch leases as many jobs as there are free slots and hands each to
// a goroutine holding one semaphore unit.
func (p *Pool) dispatchBatch(ctx context.Context) {
	free := 0
	for int64(free) < p.opts.Concurrency && p.sem.TryAcquire(1) {
		free++
	}
	if free == 0 {
		return
	}
	jobs, err := p.queue.Dequeue(ctx, free, 0)
	if err != nil {
		p.logger.Error("dequeue failed", log.Err(err))
	}
	for _, job := range jobs {
		j := job
		go func() {
			defer p.sem.Release(1)
			p.runOne(ctx, j)
		}()
	}
	// Return slots we acquired but did not use.
	if unused := free - len(jobs); unused > 0 {
		p.sem.Release(int64(unused))
	}
}

func (p *Pool) runOne(ctx context.Context, job *jobqueue.Job) {
	jobErr := p.invoke(ctx, job)
	if jobErr == nil {
		if err := p.queue.Complete(ctx, job.ID); err != nil {
			p.logger.Error("complete failed", log.Str("jobId", job.ID), log.Err(err))
			return
		}
		p.logger.Debug("job completed", log.Str("jobId", job.ID), log.Int("attempts", job.Attempts))
		if p.cb.OnCompleted != nil {
			p.cb.OnCompleted(ctx, job)
		}
		return
	}

	final := false
	if IsTerminal(jobErr) {
		final = true
		if err := p.queue.Remove(ctx, job.ID); err != nil {
			p.logger.Error("remove failed", log.Str("jobId", job.ID), log.Err(err))
		}
	} else {
		delay := p.opts.Backoff.DelayMs(job.Attempts)
		var err error
		final, err = p.queue.Fail(ctx, job.ID, jobErr.Error(), delay, 0)
		if err != nil {
			p.logger.Error("fail transition failed", log.Str("jobId", job.ID), log.Err(err))
			return
		}
	}
	p.logger.Warn("job attempt failed",
		log.Str("jobId", job.ID),
		log.Int("attempts", job.Attempts+1),
		log.Int("maxAttempts", job.MaxAttempts),
		log.Bool("final", final),
		log.Err(jobErr))
	if p.cb.OnFailed != nil {
		p.cb.OnFailed(ctx, job, jobErr, final)
	}
}

// invoke runs the handler with panic recovery. A panicking handler fails the
// attempt like any other error; it must not take the pool down.
func (p *Pool) invoke(ctx context.Context, job *jobqueue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			p.logger.Error("handler panicked", log.Str("jobId", job.ID), log.Any("panic", r))
		}
	}()
	return p.handler(ctx, job)
}

// Stop halts polling and waits for in-flight handlers to finish, bounded by
// ctx. Jobs still running at the deadline keep their leases; the sweeper
// reclaims them later.
func (p *Pool) Stop(ctx context.Context) error {
	if p.stop == nil {
		return nil
	}
	close(p.stop)
	<-p.done
	p.stop = nil

	// Draining the full semaphore weight means no handler is running.
	if err := p.sem.Acquire(ctx, p.opts.Concurrency); err != nil {
		return fmt.Errorf("worker drain: %w", err)
	}
	p.sem.Release(p.opts.Concurrency)
	return nil
}
