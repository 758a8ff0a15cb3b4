package syncstate

import (
	"context"
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/pebble"

	"github.com/norish-recipes/norish-sub000/internal/events"
	pebblestore "github.com/norish-recipes/norish-sub000/internal/storage/pebble"
	"github.com/norish-recipes/norish-sub000/internal/visibility"
	"github.com/norish-recipes/norish-sub000/pkg/log"
)

// Status is the sync lifecycle state of an item.
type Status string

const (
	StatusPending Status = "pending"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
)

// ErrNotFound indicates no sync record exists for the (user, item) pair.
var ErrNotFound = errors.New("syncstate: record not found")

// Record is the durable sync state for one item of one user.
type Record struct {
	UserID       string    `json:"userId"`
	ItemID       string    `json:"itemId"`
	ItemType     string    `json:"itemType"`
	Status       Status    `json:"status"`
	RetryCount   int       `json:"retryCount"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	ExternalID   string    `json:"externalId,omitempty"`
	LastSyncAt   time.Time `json:"lastSyncAt,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Tracker owns sync records and their event emission.
type Tracker struct {
	db       *pebblestore.DB
	router   *visibility.Router
	logger   log.Logger
	errBytes int
}

// NewTracker builds a tracker. errMaxBytes bounds stored error messages;
// values <= 0 fall back to 500.
func NewTracker(db *pebblestore.DB, router *visibility.Router, errMaxBytes int, logger log.Logger) *Tracker {
	if errMaxBytes <= 0 {
		errMaxBytes = 500
	}
	if logger == nil {
		logger = log.NewLogger()
	}
	return &Tracker{
		db:       db,
		router:   router,
		logger:   logger.WithComponent("syncstate"),
		errBytes: errMaxBytes,
	}
}

// recordKey: sync/{userId}/{itemId}
func recordKey(userID, itemID string) []byte {
	return []byte("sync/" + userID + "/" + itemID)
}

func (t *Tracker) load(userID, itemID string) (*Record, error) {
	val, err := t.db.Get(recordKey(userID, itemID))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(val, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *Tracker) store(r *Record) error {
	val, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return t.db.Set(recordKey(r.UserID, r.ItemID), val)
}

// Get returns the sync record for (user, item).
func (t *Tracker) Get(userID, itemID string) (*Record, error) {
	return t.load(userID, itemID)
}

// List returns all sync records of a user, ordered by item ID.
func (t *Tracker) List(userID string) ([]*Record, error) {
	lo := []byte("sync/" + userID + "/")
	hi := append(append([]byte{}, lo...), 0xFF)
	iter, err := t.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*Record
	for ok := iter.First(); ok; ok = iter.Next() {
		var r Record
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			t.logger.Warn("skipping corrupt sync record", log.Str("key", string(iter.Key())), log.Err(err))
			continue
		}
		out = append(out, &r)
	}
	return out, nil
}

// MarkPending starts (or restarts) a sync episode for an item. Restarting a
// failed item clears its error and retry count.
func (t *Tracker) MarkPending(ctx context.Context, userID, itemID, itemType string) error {
	r, err := t.load(userID, itemID)
	if errors.Is(err, ErrNotFound) {
		r = &Record{UserID: userID, ItemID: itemID, ItemType: itemType}
	} else if err != nil {
		return err
	}
	r.ItemType = itemType
	r.Status = StatusPending
	r.RetryCount = 0
	r.ErrorMessage = ""
	r.UpdatedAt = time.Now().UTC()
	if err := t.store(r); err != nil {
		return err
	}
	t.emitStatus(r)
	return nil
}

// MarkSynced records a successful sync and the external identifier assigned
// by the remote system.
func (t *Tracker) MarkSynced(ctx context.Context, userID, itemID, externalID string) error {
	r, err := t.load(userID, itemID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	r.Status = StatusSynced
	r.ErrorMessage = ""
	r.ExternalID = externalID
	r.LastSyncAt = now
	r.UpdatedAt = now
	if err := t.store(r); err != nil {
		return err
	}
	t.emitStatus(r)
	return nil
}

// MarkFailed records a failed sync attempt. Non-final attempts keep the item
// pending and bump the retry count; the final attempt moves it to failed and
// emits syncFailed once.
func (t *Tracker) MarkFailed(ctx context.Context, userID, itemID string, jobErr error, final bool) error {
	r, err := t.load(userID, itemID)
	if err != nil {
		return err
	}
	alreadyFailed := r.Status == StatusFailed

	r.RetryCount++
	r.ErrorMessage = truncate(jobErr.Error(), t.errBytes)
	r.UpdatedAt = time.Now().UTC()
	if final {
		r.Status = StatusFailed
	}
	if err := t.store(r); err != nil {
		return err
	}

	t.emitStatus(r)
	if final && !alreadyFailed {
		payload, err := events.Encode(events.SyncFailedPayload{
			ItemID:     r.ItemID,
			ItemType:   r.ItemType,
			Reason:     r.ErrorMessage,
			RetryCount: r.RetryCount,
			At:         r.UpdatedAt,
		})
		if err != nil {
			t.logger.Error("encode syncFailed", log.Err(err))
			return nil
		}
		t.router.EmitUser(userID, events.SyncFailed, payload)
	}
	return nil
}

func (t *Tracker) emitStatus(r *Record) {
	payload, err := events.Encode(events.ItemStatusUpdatedPayload{
		ItemID:       r.ItemID,
		ItemType:     r.ItemType,
		Status:       string(r.Status),
		RetryCount:   r.RetryCount,
		ErrorMessage: r.ErrorMessage,
		ExternalID:   r.ExternalID,
		At:           r.UpdatedAt,
	})
	if err != nil {
		t.logger.Error("encode itemStatusUpdated", log.Err(err))
		return
	}
	t.router.EmitUser(r.UserID, events.ItemStatusUpdated, payload)
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
