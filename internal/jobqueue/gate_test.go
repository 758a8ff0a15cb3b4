package jobqueue

import (
	"context"
	"testing"
	"time"

	pebblestore "github.com/norish-recipes/norish-sub000/internal/storage/pebble"
)

func openGateQueue(t *testing.T) *Queue {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	q, err := Open(db, "import-by-url", Options{SweepEvery: time.Hour})
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	return q
}

func TestGateOrderExistsThenDuplicateThenQueued(t *testing.T) {
	q := openGateQueue(t)
	ctx := context.Background()

	imported := map[string]string{"import_h1_done.com": "recipe-42"}
	gate := NewGate(q, func(_ context.Context, jobID string) (string, bool, error) {
		id, ok := imported[jobID]
		return id, ok, nil
	})

	// Result already exists in the domain: no job inserted.
	d, err := gate.Admit(ctx, "import_h1_done.com", nil, EnqueueOptions{})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if d.Status != AdmitExists || d.ResultID != "recipe-42" {
		t.Fatalf("want exists/recipe-42, got %+v", d)
	}

	// Fresh target: queued.
	d, err = gate.Admit(ctx, "import_h1_new.com", []byte(`{"url":"new.com"}`), EnqueueOptions{})
	if err != nil || d.Status != AdmitQueued {
		t.Fatalf("want queued, got %+v err=%v", d, err)
	}

	// Second admit while the first is pending: duplicate.
	d, err = gate.Admit(ctx, "import_h1_new.com", []byte(`{"url":"new.com"}`), EnqueueOptions{})
	if err != nil || d.Status != AdmitDuplicate {
		t.Fatalf("want duplicate, got %+v err=%v", d, err)
	}
}

func TestGateWithoutExistsFunc(t *testing.T) {
	q := openGateQueue(t)
	gate := NewGate(q, nil)
	d, err := gate.Admit(context.Background(), "maintenance_daily", nil, EnqueueOptions{})
	if err != nil || d.Status != AdmitQueued {
		t.Fatalf("want queued, got %+v err=%v", d, err)
	}
}
