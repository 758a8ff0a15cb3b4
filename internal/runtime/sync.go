package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/norish-recipes/norish-sub000/internal/jobqueue"
	"github.com/norish-recipes/norish-sub000/internal/worker"
	"github.com/norish-recipes/norish-sub000/pkg/log"
)

// SyncJob is the payload carried by calendar-sync jobs.
type SyncJob struct {
	UserID   string `json:"userId"`
	ItemID   string `json:"itemId"`
	ItemType string `json:"itemType"`
}

// SyncFunc pushes one item to the remote calendar and returns the identifier
// the remote assigned to it.
type SyncFunc func(ctx context.Context, job SyncJob) (externalID string, err error)

// RegisterSyncHandler installs fn as the calendar-sync worker. The pool's
// outcome callbacks drive the sync-state tracker: the first attempt marks the
// item pending, completion marks it synced with the remote ID, and each
// failed attempt bumps the retry count until the final one marks it failed.
func (rt *Runtime) RegisterSyncHandler(fn SyncFunc) {
	// Hands the external ID from the handler to the completion callback.
	var mu sync.Mutex
	externalIDs := make(map[string]string)

	h := func(ctx context.Context, job *jobqueue.Job) error {
		var sj SyncJob
		if err := json.Unmarshal(job.Payload, &sj); err != nil {
			return worker.Terminal(fmt.Errorf("sync payload: %w", err))
		}
		if job.Attempts == 0 {
			if err := rt.tracker.MarkPending(ctx, sj.UserID, sj.ItemID, sj.ItemType); err != nil {
				return err
			}
		}
		extID, err := fn(ctx, sj)
		if err != nil {
			return err
		}
		mu.Lock()
		externalIDs[job.ID] = extID
		mu.Unlock()
		return nil
	}

	cb := worker.Callbacks{
		OnCompleted: func(ctx context.Context, job *jobqueue.Job) {
			var sj SyncJob
			if json.Unmarshal(job.Payload, &sj) != nil {
				return
			}
			mu.Lock()
			extID := externalIDs[job.ID]
			delete(externalIDs, job.ID)
			mu.Unlock()
			if err := rt.tracker.MarkSynced(ctx, sj.UserID, sj.ItemID, extID); err != nil {
				rt.logger.Error("mark synced", log.Str("itemId", sj.ItemID), log.Err(err))
			}
		},
		OnFailed: func(ctx context.Context, job *jobqueue.Job, jobErr error, final bool) {
			var sj SyncJob
			if json.Unmarshal(job.Payload, &sj) != nil {
				return
			}
			if err := rt.tracker.MarkFailed(ctx, sj.UserID, sj.ItemID, jobErr, final); err != nil {
				rt.logger.Error("mark failed", log.Str("itemId", sj.ItemID), log.Err(err))
			}
		},
	}
	rt.RegisterHandler(QueueCalendarSync, h, cb)
}
