package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/norish-recipes/norish-sub000/internal/config"
	"github.com/norish-recipes/norish-sub000/internal/events"
	"github.com/norish-recipes/norish-sub000/internal/jobqueue"
	pebblestore "github.com/norish-recipes/norish-sub000/internal/storage/pebble"
	"github.com/norish-recipes/norish-sub000/internal/worker"
	"github.com/norish-recipes/norish-sub000/pkg/log"
)

func openTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	cfg := config.Default()
	cfg.Queue.BackoffBaseMs = 1
	cfg.Queue.BackoffCapMs = 10
	cfg.ShutdownGraceMs = 5_000
	rt, err := Open(Options{
		DataDir:   t.TempDir(),
		Config:    cfg,
		Logger:    log.NewLogger(log.WithLevel(log.FatalLevel)),
		Fsync:     pebblestore.FsyncModeNever,
		PollEvery: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func TestOpenBuildsQueueCatalog(t *testing.T) {
	rt := openTestRuntime(t)
	for _, spec := range Catalog {
		if rt.Queue(spec.Name) == nil {
			t.Fatalf("queue %s missing", spec.Name)
		}
		if rt.Gate(spec.Name) == nil {
			t.Fatalf("gate %s missing", spec.Name)
		}
	}
	if rt.Queue("no-such-queue") != nil {
		t.Fatal("unknown queue should be nil")
	}
}

func TestOpenRejectsBadPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.VisibilityPolicy = "friends-only"
	_, err := Open(Options{DataDir: t.TempDir(), Config: cfg, Fsync: pebblestore.FsyncModeNever,
		Logger: log.NewLogger(log.WithLevel(log.FatalLevel))})
	if err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestOpenForwardsFsyncInterval(t *testing.T) {
	cfg := config.Default()
	rt, err := Open(Options{
		DataDir:       t.TempDir(),
		Config:        cfg,
		Logger:        log.NewLogger(log.WithLevel(log.FatalLevel)),
		Fsync:         pebblestore.FsyncModeInterval,
		FsyncInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("open with interval fsync: %v", err)
	}
	defer rt.Close(context.Background())

	// Writes still commit under the grouped-commit window.
	ctx := context.Background()
	if err := rt.Queue(QueueImportByURL).Enqueue(ctx, "j1", nil, jobqueue.EnqueueOptions{}, 1000); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := rt.Queue(QueueImportByURL).Get("j1"); err != nil {
		t.Fatalf("get: %v", err)
	}
}

func TestHandlerConsumesEnqueuedJob(t *testing.T) {
	rt := openTestRuntime(t)
	ctx := context.Background()
	done := make(chan string, 1)

	rt.RegisterHandler(QueueImportByURL, func(_ context.Context, job *jobqueue.Job) error {
		done <- job.ID
		return nil
	}, worker.Callbacks{})
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	d, err := rt.Gate(QueueImportByURL).Admit(ctx, "import_h1_example.com", []byte(`{"url":"https://example.com"}`), jobqueue.EnqueueOptions{})
	if err != nil || d.Status != jobqueue.AdmitQueued {
		t.Fatalf("admit: %+v %v", d, err)
	}

	select {
	case id := <-done:
		if id != "import_h1_example.com" {
			t.Fatalf("handled job %q", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}
}

func TestMaintenanceJobEmitsGlobalEvent(t *testing.T) {
	rt := openTestRuntime(t)
	ctx := context.Background()
	sub := rt.Bus().Subscribe(ctx, "global:maintenanceCompleted")
	defer sub.Close()

	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Drive the cron entry by hand instead of waiting for the schedule.
	rt.enqueueMaintenance()

	select {
	case msg := <-sub.C():
		var p events.MaintenanceCompletedPayload
		if err := events.Decode(msg.Payload, &p); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if p.At.IsZero() {
			t.Fatalf("payload missing timestamp: %+v", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("maintenance event never arrived")
	}

	// Same-day re-admit is a duplicate or already consumed; never a second
	// concurrent run.
	rt.enqueueMaintenance()
}

func TestSetExistsFuncShortCircuitsGate(t *testing.T) {
	rt := openTestRuntime(t)
	ctx := context.Background()
	rt.SetExistsFunc(QueueImportByURL, func(_ context.Context, _ string) (string, bool, error) {
		return "recipe-1", true, nil
	})
	d, err := rt.Gate(QueueImportByURL).Admit(ctx, "import_h1_known.com", nil, jobqueue.EnqueueOptions{})
	if err != nil || d.Status != jobqueue.AdmitExists || d.ResultID != "recipe-1" {
		t.Fatalf("admit: %+v %v", d, err)
	}
}

func TestCloseIsIdempotentish(t *testing.T) {
	rt := openTestRuntime(t)
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rt.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}
