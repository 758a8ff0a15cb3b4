package syncstate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/norish-recipes/norish-sub000/internal/bus"
	"github.com/norish-recipes/norish-sub000/internal/events"
	pebblestore "github.com/norish-recipes/norish-sub000/internal/storage/pebble"
	"github.com/norish-recipes/norish-sub000/internal/visibility"
	"github.com/norish-recipes/norish-sub000/pkg/log"
)

func newTestTracker(t *testing.T) (*Tracker, *bus.Bus) {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	logger := log.NewLogger(log.WithLevel(log.FatalLevel))
	b := bus.New(logger)
	router := visibility.NewRouter(b, visibility.PolicyHousehold, logger)
	return NewTracker(db, router, 500, logger), b
}

func drain(sub *bus.Subscription) []bus.Message {
	var out []bus.Message
	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, msg)
		case <-time.After(100 * time.Millisecond):
			return out
		}
	}
}

func TestPendingToSynced(t *testing.T) {
	tr, b := newTestTracker(t)
	ctx := context.Background()
	statusSub := b.Subscribe(ctx, "user:u1:itemStatusUpdated")
	defer statusSub.Close()

	if err := tr.MarkPending(ctx, "u1", "recipe-1", "recipe"); err != nil {
		t.Fatalf("pending: %v", err)
	}
	if err := tr.MarkSynced(ctx, "u1", "recipe-1", "gcal-evt-9"); err != nil {
		t.Fatalf("synced: %v", err)
	}

	r, err := tr.Get("u1", "recipe-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.Status != StatusSynced || r.ExternalID != "gcal-evt-9" || r.LastSyncAt.IsZero() {
		t.Fatalf("record: %+v", r)
	}

	msgs := drain(statusSub)
	if len(msgs) != 2 {
		t.Fatalf("itemStatusUpdated events = %d, want 2", len(msgs))
	}
	var last events.ItemStatusUpdatedPayload
	if err := events.Decode(msgs[1].Payload, &last); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if last.Status != "synced" || last.ExternalID != "gcal-evt-9" {
		t.Fatalf("payload: %+v", last)
	}
}

func TestTenFailuresEmitSyncFailedOnce(t *testing.T) {
	tr, b := newTestTracker(t)
	ctx := context.Background()
	statusSub := b.Subscribe(ctx, "user:u1:itemStatusUpdated")
	defer statusSub.Close()
	failSub := b.Subscribe(ctx, "user:u1:syncFailed")
	defer failSub.Close()

	if err := tr.MarkPending(ctx, "u1", "item-7", "shoppingItem"); err != nil {
		t.Fatalf("pending: %v", err)
	}
	for i := 1; i <= 10; i++ {
		final := i == 10
		if err := tr.MarkFailed(ctx, "u1", "item-7", errors.New("remote 503"), final); err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
	}

	r, err := tr.Get("u1", "item-7")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.Status != StatusFailed || r.RetryCount != 10 {
		t.Fatalf("record after 10 failures: %+v", r)
	}

	// One pending + ten failure transitions, each visible to the user.
	if msgs := drain(statusSub); len(msgs) != 11 {
		t.Fatalf("itemStatusUpdated events = %d, want 11", len(msgs))
	}
	// syncFailed only on the final transition.
	fails := drain(failSub)
	if len(fails) != 1 {
		t.Fatalf("syncFailed events = %d, want 1", len(fails))
	}
	var p events.SyncFailedPayload
	if err := events.Decode(fails[0].Payload, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.ItemID != "item-7" || p.RetryCount != 10 {
		t.Fatalf("syncFailed payload: %+v", p)
	}
}

func TestErrorMessageTruncated(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	if err := tr.MarkPending(ctx, "u1", "item-1", "recipe"); err != nil {
		t.Fatalf("pending: %v", err)
	}
	long := strings.Repeat("x", 2_000)
	if err := tr.MarkFailed(ctx, "u1", "item-1", errors.New(long), false); err != nil {
		t.Fatalf("failed: %v", err)
	}
	r, err := tr.Get("u1", "item-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(r.ErrorMessage) != 500 {
		t.Fatalf("error message length = %d, want 500", len(r.ErrorMessage))
	}
}

func TestMarkPendingResetsFailedEpisode(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	if err := tr.MarkPending(ctx, "u1", "item-2", "recipe"); err != nil {
		t.Fatalf("pending: %v", err)
	}
	if err := tr.MarkFailed(ctx, "u1", "item-2", errors.New("boom"), true); err != nil {
		t.Fatalf("failed: %v", err)
	}
	if err := tr.MarkPending(ctx, "u1", "item-2", "recipe"); err != nil {
		t.Fatalf("re-pending: %v", err)
	}
	r, err := tr.Get("u1", "item-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.Status != StatusPending || r.RetryCount != 0 || r.ErrorMessage != "" {
		t.Fatalf("episode not reset: %+v", r)
	}
}

func TestListIsPerUser(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	for _, it := range []string{"a", "b"} {
		if err := tr.MarkPending(ctx, "u1", it, "recipe"); err != nil {
			t.Fatalf("pending: %v", err)
		}
	}
	if err := tr.MarkPending(ctx, "u2", "c", "recipe"); err != nil {
		t.Fatalf("pending: %v", err)
	}

	recs, err := tr.List("u1")
	if err != nil || len(recs) != 2 {
		t.Fatalf("list u1: %v %v", recs, err)
	}
	if _, err := tr.Get("u2", "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-user read should miss: %v", err)
	}
}
