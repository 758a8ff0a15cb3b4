package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/norish-recipes/norish-sub000/internal/storage/pebble"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	q, err := Open(db, "import-by-url", Options{MaxAttempts: 3, LeaseMs: 1_000, SweepEvery: time.Hour})
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	return q
}

func TestEnqueueRejectsDuplicateID(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	if err := q.Enqueue(ctx, "import_h1_example.com", []byte(`{"url":"x"}`), EnqueueOptions{}, 1000); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	err := q.Enqueue(ctx, "import_h1_example.com", []byte(`{"url":"x"}`), EnqueueOptions{}, 1001)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
	// A different ID is independent.
	if err := q.Enqueue(ctx, "import_h2_example.com", nil, EnqueueOptions{}, 1002); err != nil {
		t.Fatalf("other id: %v", err)
	}
}

func TestEnqueueRejectsBadID(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	for _, id := range []string{"", "a/b"} {
		if err := q.Enqueue(ctx, id, nil, EnqueueOptions{}, 1000); !errors.Is(err, ErrBadID) {
			t.Fatalf("id %q: want ErrBadID, got %v", id, err)
		}
	}
}

func TestDequeueFIFOAndDelayPromotion(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	if err := q.Enqueue(ctx, "j1", nil, EnqueueOptions{}, 1000); err != nil {
		t.Fatalf("enqueue j1: %v", err)
	}
	if err := q.Enqueue(ctx, "j2", nil, EnqueueOptions{DelayMs: 500}, 1000); err != nil {
		t.Fatalf("enqueue j2: %v", err)
	}
	if err := q.Enqueue(ctx, "j3", nil, EnqueueOptions{}, 1100); err != nil {
		t.Fatalf("enqueue j3: %v", err)
	}

	// Before j2 is due: j1 then j3, in enqueue order.
	jobs, err := q.Dequeue(ctx, 10, 1200)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "j1" || jobs[1].ID != "j3" {
		t.Fatalf("unexpected batch: %+v", jobs)
	}
	if jobs[0].State != StateActive {
		t.Fatalf("dequeued job state: %s", jobs[0].State)
	}

	// After the delay fires, j2 becomes available.
	jobs, err = q.Dequeue(ctx, 10, 1600)
	if err != nil {
		t.Fatalf("dequeue2: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "j2" {
		t.Fatalf("expected j2 after promote, got %+v", jobs)
	}
}

func TestCompleteFreesTheID(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	if err := q.Enqueue(ctx, "once", nil, EnqueueOptions{}, 1000); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Dequeue(ctx, 1, 1100); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := q.Complete(ctx, "once"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := q.Get("once"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("record should be gone: %v", err)
	}
	// Same ID may be enqueued again after completion.
	if err := q.Enqueue(ctx, "once", nil, EnqueueOptions{}, 2000); err != nil {
		t.Fatalf("re-enqueue after complete: %v", err)
	}
}

func TestFailRetriesUntilBudgetExhausted(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	if err := q.Enqueue(ctx, "flaky", nil, EnqueueOptions{MaxAttempts: 3}, 1000); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	now := int64(1000)
	for attempt := 1; attempt <= 3; attempt++ {
		now += 10_000
		jobs, err := q.Dequeue(ctx, 1, now)
		if err != nil || len(jobs) != 1 {
			t.Fatalf("attempt %d dequeue: %v %v", attempt, jobs, err)
		}
		final, err := q.Fail(ctx, "flaky", "boom", 1_000, now)
		if err != nil {
			t.Fatalf("attempt %d fail: %v", attempt, err)
		}
		wantFinal := attempt == 3
		if final != wantFinal {
			t.Fatalf("attempt %d: final=%v want %v", attempt, final, wantFinal)
		}
	}
	// Exactly maxAttempts attempts; record gone after the final one.
	if _, err := q.Get("flaky"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("record should be removed after final failure: %v", err)
	}
	if jobs, _ := q.Dequeue(ctx, 1, now+100_000); len(jobs) != 0 {
		t.Fatalf("no further attempts expected, got %+v", jobs)
	}
}

func TestFailThenSucceed(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	if err := q.Enqueue(ctx, "recovers", nil, EnqueueOptions{MaxAttempts: 3}, 1000); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	for i := 0; i < 2; i++ {
		now := int64(2000 + i*10_000)
		jobs, err := q.Dequeue(ctx, 1, now)
		if err != nil || len(jobs) != 1 {
			t.Fatalf("dequeue %d: %v %v", i, jobs, err)
		}
		if final, err := q.Fail(ctx, "recovers", "transient", 500, now); err != nil || final {
			t.Fatalf("fail %d: final=%v err=%v", i, final, err)
		}
	}
	jobs, err := q.Dequeue(ctx, 1, 60_000)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("third dequeue: %v %v", jobs, err)
	}
	if jobs[0].Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", jobs[0].Attempts)
	}
	if err := q.Complete(ctx, "recovers"); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func TestReclaimExpiredLeases(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	if err := q.Enqueue(ctx, "orphan", nil, EnqueueOptions{}, 1000); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	jobs, err := q.Dequeue(ctx, 1, 1100)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("dequeue: %v %v", jobs, err)
	}

	// Lease is 1000ms; before expiry nothing is reclaimed.
	n, err := q.ReclaimExpired(ctx, 1500, 0)
	if err != nil || n != 0 {
		t.Fatalf("early reclaim: n=%d err=%v", n, err)
	}
	n, err = q.ReclaimExpired(ctx, 2500, 0)
	if err != nil || n != 1 {
		t.Fatalf("reclaim: n=%d err=%v", n, err)
	}

	// The job is waiting again and attempts were not charged.
	jobs, err = q.Dequeue(ctx, 1, 2600)
	if err != nil || len(jobs) != 1 || jobs[0].ID != "orphan" {
		t.Fatalf("re-dequeue after reclaim: %v %v", jobs, err)
	}
	if jobs[0].Attempts != 0 {
		t.Fatalf("reclaim must not consume attempts: %d", jobs[0].Attempts)
	}
}

func TestIteratorFailureSurfacesAsError(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	if err := q.Enqueue(ctx, "stuck", nil, EnqueueOptions{}, 1000); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	errBroken := errors.New("iterator unavailable")
	orig := newIter
	newIter = func(*pebblestore.DB, *pebble.IterOptions) (*pebble.Iterator, error) {
		return nil, errBroken
	}
	defer func() { newIter = orig }()

	// A storage error must not masquerade as an empty queue.
	if _, err := q.Dequeue(ctx, 1, 1100); !errors.Is(err, errBroken) {
		t.Fatalf("dequeue: want errBroken, got %v", err)
	}
	if _, err := q.ReclaimExpired(ctx, 1100, 0); !errors.Is(err, errBroken) {
		t.Fatalf("reclaim: want errBroken, got %v", err)
	}

	newIter = orig
	if jobs, err := q.Dequeue(ctx, 1, 1200); err != nil || len(jobs) != 1 {
		t.Fatalf("dequeue after recovery: %v %v", jobs, err)
	}
}
