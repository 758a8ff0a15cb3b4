package events

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Event names. These are the trailing segment of bus channel names.
const (
	RecipeImported       = "recipeImported"
	ImportFailed         = "importFailed"
	NutritionEstimated   = "nutritionEstimated"
	ItemStatusUpdated    = "itemStatusUpdated"
	SyncFailed           = "syncFailed"
	MaintenanceCompleted = "maintenanceCompleted"
)

// RecipeImportedPayload announces a recipe that finished importing.
type RecipeImportedPayload struct {
	RecipeID   string    `json:"recipeId"`
	Title      string    `json:"title,omitempty"`
	SourceURL  string    `json:"sourceUrl,omitempty"`
	ImportedBy string    `json:"importedBy"`
	Tags       []string  `json:"tags,omitempty"`
	At         time.Time `json:"at"`
}

// ImportFailedPayload announces a failed import attempt. Final marks the
// attempt that exhausted the retry budget.
type ImportFailedPayload struct {
	Target string    `json:"target"`
	Reason string    `json:"reason"`
	Final  bool      `json:"final"`
	At     time.Time `json:"at"`
}

// NutritionEstimatedPayload announces freshly computed nutrition values.
type NutritionEstimatedPayload struct {
	RecipeID string    `json:"recipeId"`
	Calories float64   `json:"calories,omitempty"`
	At       time.Time `json:"at"`
}

// ItemStatusUpdatedPayload mirrors a sync record transition.
type ItemStatusUpdatedPayload struct {
	ItemID       string    `json:"itemId"`
	ItemType     string    `json:"itemType"`
	Status       string    `json:"status"`
	RetryCount   int       `json:"retryCount"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	ExternalID   string    `json:"externalId,omitempty"`
	At           time.Time `json:"at"`
}

// SyncFailedPayload announces a terminal sync failure. Emitted at most once
// per item per failure episode.
type SyncFailedPayload struct {
	ItemID     string    `json:"itemId"`
	ItemType   string    `json:"itemType"`
	Reason     string    `json:"reason"`
	RetryCount int       `json:"retryCount"`
	At         time.Time `json:"at"`
}

// MaintenanceCompletedPayload summarizes a scheduled maintenance run.
type MaintenanceCompletedPayload struct {
	ReclaimedJobs  int       `json:"reclaimedJobs"`
	AuditedRecords int       `json:"auditedRecords"`
	At             time.Time `json:"at"`
}

// Encode marshals a payload for publishing. Set-valued fields are sorted so
// equal payloads encode identically regardless of construction order.
func Encode(v any) ([]byte, error) {
	if p, ok := v.(RecipeImportedPayload); ok && len(p.Tags) > 1 {
		tags := append([]string(nil), p.Tags...)
		sort.Strings(tags)
		p.Tags = tags
		v = p
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("events: encode: %w", err)
	}
	return b, nil
}

// Decode unmarshals a received payload. Subscribers log and skip on error;
// a malformed payload must never terminate a subscription.
func Decode(b []byte, v any) error {
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("events: decode: %w", err)
	}
	return nil
}
