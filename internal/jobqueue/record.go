package jobqueue

import (
	"encoding/binary"
	"encoding/json"
)

// State is the lifecycle state of a job record.
type State string

const (
	StateWaiting State = "waiting"
	StateDelayed State = "delayed"
	StateActive  State = "active"
)

// Job is the durable job record. Payload is opaque to the queue; handlers
// decode it themselves.
type Job struct {
	Queue        string          `json:"queue"`
	ID           string          `json:"id"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	State        State           `json:"state"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"maxAttempts"`
	EnqueuedAtMs int64           `json:"enqueuedAtMs"`
	UpdatedAtMs  int64           `json:"updatedAtMs"`
	LastError    string          `json:"lastError,omitempty"`
}

func encodeJob(j *Job) ([]byte, error) {
	return json.Marshal(j)
}

func decodeJob(b []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Lease value: expires_ms(8B BE). Kept tiny so complete/fail can locate and
// drop the matching lease_idx entry without a scan.
func encodeLease(expiresMs int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(expiresMs))
	return b[:]
}

func decodeLease(b []byte) (int64, bool) {
	if len(b) < 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(b[:8])), true
}
