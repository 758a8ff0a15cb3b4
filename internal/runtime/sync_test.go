package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/norish-recipes/norish-sub000/internal/jobqueue"
	"github.com/norish-recipes/norish-sub000/internal/syncstate"
)

func enqueueSyncJob(t *testing.T, rt *Runtime, jobID string, sj SyncJob, maxAttempts int) {
	t.Helper()
	payload, err := json.Marshal(sj)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	d, err := rt.Gate(QueueCalendarSync).Admit(context.Background(), jobID, payload,
		jobqueue.EnqueueOptions{MaxAttempts: maxAttempts})
	if err != nil || d.Status != jobqueue.AdmitQueued {
		t.Fatalf("admit: %+v %v", d, err)
	}
}

func waitForStatus(t *testing.T, rt *Runtime, userID, itemID string, want syncstate.Status) *syncstate.Record {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		r, err := rt.Tracker().Get(userID, itemID)
		if err == nil && r.Status == want {
			return r
		}
		select {
		case <-deadline:
			t.Fatalf("record never reached %s: %+v %v", want, r, err)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSyncHandlerMarksSynced(t *testing.T) {
	rt := openTestRuntime(t)
	ctx := context.Background()

	rt.RegisterSyncHandler(func(_ context.Context, job SyncJob) (string, error) {
		return "cal-" + job.ItemID, nil
	})
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	enqueueSyncJob(t, rt, "calendar-sync_u9_meal-1", SyncJob{UserID: "u9", ItemID: "meal-1", ItemType: "mealPlan"}, 0)

	r := waitForStatus(t, rt, "u9", "meal-1", syncstate.StatusSynced)
	if r.ExternalID != "cal-meal-1" || r.RetryCount != 0 || r.ErrorMessage != "" {
		t.Fatalf("synced record: %+v", r)
	}
}

func TestSyncWorkerExhaustsRetryBudget(t *testing.T) {
	rt := openTestRuntime(t)
	ctx := context.Background()

	failedSub := rt.Bus().Subscribe(ctx, "user:u9:syncFailed")
	defer failedSub.Close()
	statusSub := rt.Bus().Subscribe(ctx, "user:u9:itemStatusUpdated")
	defer statusSub.Close()

	var calls atomic.Int32
	rt.RegisterSyncHandler(func(context.Context, SyncJob) (string, error) {
		calls.Add(1)
		return "", errors.New("remote calendar down")
	})
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	enqueueSyncJob(t, rt, "calendar-sync_u9_meal-2", SyncJob{UserID: "u9", ItemID: "meal-2", ItemType: "mealPlan"}, 10)

	r := waitForStatus(t, rt, "u9", "meal-2", syncstate.StatusFailed)
	if r.RetryCount != 10 {
		t.Fatalf("retryCount = %d, want 10", r.RetryCount)
	}
	if r.ErrorMessage != "remote calendar down" {
		t.Fatalf("error message: %q", r.ErrorMessage)
	}

	// Let any in-flight emissions land, then count: one syncFailed for the
	// whole episode, one status event per transition (pending + 10 failures).
	time.Sleep(100 * time.Millisecond)
	if got := len(failedSub.C()); got != 1 {
		t.Fatalf("syncFailed events = %d, want 1", got)
	}
	if got := len(statusSub.C()); got != 11 {
		t.Fatalf("itemStatusUpdated events = %d, want 11", got)
	}
	if got := calls.Load(); got != 10 {
		t.Fatalf("handler calls = %d, want 10", got)
	}
}

func TestSyncHandlerRejectsUndecodablePayload(t *testing.T) {
	rt := openTestRuntime(t)
	ctx := context.Background()

	rt.RegisterSyncHandler(func(context.Context, SyncJob) (string, error) {
		t.Error("handler must not run for a broken payload")
		return "", nil
	})
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	d, err := rt.Gate(QueueCalendarSync).Admit(ctx, "calendar-sync_broken", []byte(`not json`), jobqueue.EnqueueOptions{})
	if err != nil || d.Status != jobqueue.AdmitQueued {
		t.Fatalf("admit: %+v %v", d, err)
	}

	// Terminal decode failure: the job is removed without retries.
	deadline := time.After(10 * time.Second)
	for {
		if _, err := rt.Queue(QueueCalendarSync).Get("calendar-sync_broken"); errors.Is(err, jobqueue.ErrNotFound) {
			return
		}
		select {
		case <-deadline:
			t.Fatal("broken job never removed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
