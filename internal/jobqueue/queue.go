package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/norish-recipes/norish-sub000/internal/storage/pebble"
)

var (
	// ErrDuplicate indicates a job with the same ID is already queued or running.
	ErrDuplicate = errors.New("jobqueue: duplicate job id")
	// ErrNotFound indicates no job record exists for the given ID.
	ErrNotFound = errors.New("jobqueue: job not found")
	// ErrBadID indicates a job ID that is empty or contains reserved characters.
	ErrBadID = errors.New("jobqueue: invalid job id")
)

// Options configures a queue's retry and lease behavior.
type Options struct {
	// MaxAttempts is the default attempt budget for jobs that do not set one.
	MaxAttempts int
	// LeaseMs is how long a dequeued job stays leased before the sweeper may
	// hand it back to waiting.
	LeaseMs int64
	// SweepEvery is the sweeper tick interval.
	SweepEvery time.Duration
	// SweepMax caps reclaimed jobs per tick.
	SweepMax int
}

// Queue is a named durable job queue.
type Queue struct {
	db   *pebblestore.DB
	name string
	opts Options

	mu        sync.Mutex
	sweepStop chan struct{}
}

// Open initializes a queue over the shared store. Multiple queues share one
// Pebble database; the key layout keeps them disjoint.
func Open(db *pebblestore.DB, name string, opts Options) (*Queue, error) {
	if name == "" || strings.ContainsRune(name, '/') {
		return nil, fmt.Errorf("jobqueue: invalid queue name %q", name)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.LeaseMs <= 0 {
		opts.LeaseMs = 120_000
	}
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = 5 * time.Second
	}
	if opts.SweepMax <= 0 {
		opts.SweepMax = 1024
	}
	return &Queue{db: db, name: name, opts: opts}, nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// EnqueueOptions carries per-job overrides.
type EnqueueOptions struct {
	// MaxAttempts overrides the queue default when > 0.
	MaxAttempts int
	// DelayMs schedules the job instead of making it immediately available.
	DelayMs int64
}

func validJobID(id string) bool {
	return id != "" && !strings.ContainsRune(id, '/')
}

// newIter is swapped by tests to inject iterator failures.
var newIter = func(db *pebblestore.DB, o *pebble.IterOptions) (*pebble.Iterator, error) {
	return db.NewIter(o)
}

// Enqueue inserts a job if and only if no record with the same ID exists.
// Returns ErrDuplicate when the ID is already queued, delayed, or active.
// If nowMs <= 0, time.Now().UnixMilli() is used.
func (q *Queue) Enqueue(ctx context.Context, id string, payload []byte, eo EnqueueOptions, nowMs int64) error {
	if !validJobID(id) {
		return fmt.Errorf("%w: %q", ErrBadID, id)
	}
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}

	// Pebble has no compare-and-set; the queue mutex serializes the
	// exists-check with the insert so two producers cannot both win.
	q.mu.Lock()
	defer q.mu.Unlock()

	jk := jobKey(q.name, id)
	if ok, err := q.db.Has(jk); err != nil {
		return err
	} else if ok {
		return ErrDuplicate
	}

	maxAttempts := q.opts.MaxAttempts
	if eo.MaxAttempts > 0 {
		maxAttempts = eo.MaxAttempts
	}
	j := &Job{
		Queue:        q.name,
		ID:           id,
		Payload:      payload,
		State:        StateWaiting,
		MaxAttempts:  maxAttempts,
		EnqueuedAtMs: nowMs,
		UpdatedAtMs:  nowMs,
	}

	b := q.db.NewBatch()
	defer b.Close()

	if eo.DelayMs > 0 {
		j.State = StateDelayed
		if err := b.Set(delayKey(q.name, nowMs+eo.DelayMs, id), nil, nil); err != nil {
			return err
		}
	} else {
		if err := b.Set(readyKey(q.name, nowMs, id), nil, nil); err != nil {
			return err
		}
	}
	val, err := encodeJob(j)
	if err != nil {
		return err
	}
	if err := b.Set(jk, val, nil); err != nil {
		return err
	}
	return q.db.CommitBatch(ctx, b)
}

// Get loads a job record by ID. Returns ErrNotFound for completed or
// terminally failed jobs; only live records are retained.
func (q *Queue) Get(id string) (*Job, error) {
	val, err := q.db.Get(jobKey(q.name, id))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeJob(val)
}

// promoteDue moves delayed jobs that are due into the ready index.
func (q *Queue) promoteDue(ctx context.Context, nowMs int64, max int) error {
	lo, hi := keyRange(delayPrefix(q.name))
	iter, err := newIter(q.db, &pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return err
	}
	defer iter.Close()

	b := q.db.NewBatch()
	defer b.Close()
	promoted := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		id, fire, okKey := jobIDFromIdxKey(iter.Key(), lo)
		if !okKey {
			continue
		}
		if fire > nowMs {
			break
		}
		if err := b.Delete(iter.Key(), nil); err != nil {
			return err
		}
		if err := b.Set(readyKey(q.name, fire, id), nil, nil); err != nil {
			return err
		}
		if err := q.touchState(b, id, StateWaiting, nowMs); err != nil {
			return err
		}
		promoted++
		if max > 0 && promoted >= max {
			break
		}
	}
	if promoted == 0 {
		return nil
	}
	return q.db.CommitBatch(ctx, b)
}

// touchState rewrites a job record with a new state inside the given batch.
// Missing records are skipped; the index entry is orphan cleanup's problem.
func (q *Queue) touchState(b *pebble.Batch, id string, st State, nowMs int64) error {
	val, err := q.db.Get(jobKey(q.name, id))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil
		}
		return err
	}
	j, err := decodeJob(val)
	if err != nil {
		return nil
	}
	j.State = st
	j.UpdatedAtMs = nowMs
	out, err := encodeJob(j)
	if err != nil {
		return err
	}
	return b.Set(jobKey(q.name, id), out, nil)
}

// Dequeue leases up to count ready jobs in FIFO order and marks them active.
func (q *Queue) Dequeue(ctx context.Context, count int, nowMs int64) ([]*Job, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	if count <= 0 {
		count = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	_ = q.promoteDue(ctx, nowMs, count*4)

	lo, hi := keyRange(readyPrefix(q.name))
	iter, err := newIter(q.db, &pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	b := q.db.NewBatch()
	defer b.Close()
	jobs := make([]*Job, 0, count)
	for ok := iter.First(); ok && len(jobs) < count; ok = iter.Next() {
		id, _, okKey := jobIDFromIdxKey(iter.Key(), lo)
		if !okKey {
			continue
		}
		val, errGet := q.db.Get(jobKey(q.name, id))
		if errGet != nil {
			// index orphan; drop it
			_ = b.Delete(iter.Key(), nil)
			continue
		}
		j, errDec := decodeJob(val)
		if errDec != nil {
			_ = b.Delete(iter.Key(), nil)
			_ = b.Delete(jobKey(q.name, id), nil)
			continue
		}
		exp := nowMs + q.opts.LeaseMs
		j.State = StateActive
		j.UpdatedAtMs = nowMs
		out, errEnc := encodeJob(j)
		if errEnc != nil {
			return nil, errEnc
		}
		if err := b.Set(jobKey(q.name, id), out, nil); err != nil {
			return nil, err
		}
		if err := b.Set(leaseKey(q.name, id), encodeLease(exp), nil); err != nil {
			return nil, err
		}
		if err := b.Set(leaseIdxKey(q.name, exp, id), nil, nil); err != nil {
			return nil, err
		}
		if err := b.Delete(iter.Key(), nil); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}
	return jobs, nil
}

// dropLease deletes the lease record and its expiry index entry in the batch.
func (q *Queue) dropLease(b *pebble.Batch, id string) {
	lk := leaseKey(q.name, id)
	if val, err := q.db.Get(lk); err == nil {
		if exp, ok := decodeLease(val); ok {
			_ = b.Delete(leaseIdxKey(q.name, exp, id), nil)
		}
	}
	_ = b.Delete(lk, nil)
}

// Complete removes a finished job. The record is not retained; a later
// enqueue with the same ID starts a fresh job.
func (q *Queue) Complete(ctx context.Context, id string) error {
	return q.remove(ctx, id)
}

// Remove deletes a job and its lease without treating it as success. Used for
// terminal errors where retrying cannot help.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.remove(ctx, id)
}

func (q *Queue) remove(ctx context.Context, id string) error {
	b := q.db.NewBatch()
	defer b.Close()
	q.dropLease(b, id)
	if err := b.Delete(jobKey(q.name, id), nil); err != nil {
		return err
	}
	return q.db.CommitBatch(ctx, b)
}

// Fail records a failed attempt. When attempts remain, the job is re-scheduled
// retryAfterMs in the future and final=false. When the budget is exhausted the
// record is removed and final=true; the caller owns surfacing the failure.
// If nowMs <= 0, time.Now().UnixMilli() is used.
func (q *Queue) Fail(ctx context.Context, id string, jobErr string, retryAfterMs int64, nowMs int64) (final bool, err error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	j, err := q.Get(id)
	if err != nil {
		return false, err
	}
	j.Attempts++
	j.LastError = jobErr
	j.UpdatedAtMs = nowMs

	b := q.db.NewBatch()
	defer b.Close()
	q.dropLease(b, id)

	if j.Attempts >= j.MaxAttempts {
		if err := b.Delete(jobKey(q.name, id), nil); err != nil {
			return false, err
		}
		return true, q.db.CommitBatch(ctx, b)
	}

	j.State = StateDelayed
	if retryAfterMs < 0 {
		retryAfterMs = 0
	}
	if err := b.Set(delayKey(q.name, nowMs+retryAfterMs, id), nil, nil); err != nil {
		return false, err
	}
	out, err := encodeJob(j)
	if err != nil {
		return false, err
	}
	if err := b.Set(jobKey(q.name, id), out, nil); err != nil {
		return false, err
	}
	return false, q.db.CommitBatch(ctx, b)
}

// ReclaimExpired scans the lease index and returns expired jobs to waiting.
// Attempts are not incremented; a crash is not the handler's failure.
func (q *Queue) ReclaimExpired(ctx context.Context, nowMs int64, max int) (int, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	lo, hi := keyRange(leaseIdxPrefix(q.name))
	iter, err := newIter(q.db, &pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	b := q.db.NewBatch()
	defer b.Close()
	reclaimed := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		id, exp, okKey := jobIDFromIdxKey(iter.Key(), lo)
		if !okKey {
			continue
		}
		if exp > nowMs {
			break
		}
		_ = b.Delete(iter.Key(), nil)
		_ = b.Delete(leaseKey(q.name, id), nil)
		if err := b.Set(readyKey(q.name, nowMs, id), nil, nil); err != nil {
			return reclaimed, err
		}
		if err := q.touchState(b, id, StateWaiting, nowMs); err != nil {
			return reclaimed, err
		}
		reclaimed++
		if max > 0 && reclaimed >= max {
			break
		}
	}
	if reclaimed == 0 {
		return 0, nil
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return reclaimed, err
	}
	if reclaimed >= 4096 {
		_ = q.db.CompactRange(lo, hi)
	}
	return reclaimed, nil
}

// StartSweeper runs a background loop that reclaims expired leases.
func (q *Queue) StartSweeper() {
	if q.sweepStop != nil {
		return
	}
	q.sweepStop = make(chan struct{})
	stop := q.sweepStop
	go func() {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		jitter := int64(q.opts.SweepEvery/10 + 1)
		for {
			select {
			case <-stop:
				return
			case <-time.After(q.opts.SweepEvery + time.Duration(rng.Int63n(jitter))):
				_, _ = q.ReclaimExpired(context.Background(), time.Now().UnixMilli(), q.opts.SweepMax)
			}
		}
	}()
}

// StopSweeper stops the background sweeper.
func (q *Queue) StopSweeper() {
	if q.sweepStop != nil {
		close(q.sweepStop)
		q.sweepStop = nil
	}
}
