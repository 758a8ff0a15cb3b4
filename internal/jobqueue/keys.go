package jobqueue

import (
	"encoding/binary"
)

// Key prefixes for queue data structures
const (
	prefixJob      = "job/"       // Job records (JSON)
	prefixReady    = "ready_idx/" // FIFO availability index
	prefixDelay    = "delay_idx/" // Scheduled/retry index
	prefixLease    = "lease/"     // Active leases
	prefixLeaseIdx = "lease_idx/" // Lease expiry index
)

// queuePrefix returns the base prefix for a queue.
// Format: jq/{queue}/
func queuePrefix(queue string) string {
	return "jq/" + queue + "/"
}

// jobKey returns the record key for a job.
// Format: jq/{queue}/job/{jobId}
func jobKey(queue, jobID string) []byte {
	return []byte(queuePrefix(queue) + prefixJob + jobID)
}

// readyKey returns the availability index key.
// Format: jq/{queue}/ready_idx/{ready_at_ms}/{jobId}
// Big-endian timestamps keep iteration order FIFO.
func readyKey(queue string, readyAtMs int64, jobID string) []byte {
	prefix := queuePrefix(queue) + prefixReady
	key := make([]byte, len(prefix)+8+len(jobID))
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(readyAtMs))
	copy(key[len(prefix)+8:], jobID)
	return key
}

// delayKey returns the scheduled index key.
// Format: jq/{queue}/delay_idx/{fire_at_ms}/{jobId}
func delayKey(queue string, fireAtMs int64, jobID string) []byte {
	prefix := queuePrefix(queue) + prefixDelay
	key := make([]byte, len(prefix)+8+len(jobID))
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(fireAtMs))
	copy(key[len(prefix)+8:], jobID)
	return key
}

// leaseKey returns the lease record key.
// Format: jq/{queue}/lease/{jobId}
func leaseKey(queue, jobID string) []byte {
	return []byte(queuePrefix(queue) + prefixLease + jobID)
}

// leaseIdxKey returns the lease expiry index key.
// Format: jq/{queue}/lease_idx/{expires_ms}/{jobId}
func leaseIdxKey(queue string, expiresMs int64, jobID string) []byte {
	prefix := queuePrefix(queue) + prefixLeaseIdx
	key := make([]byte, len(prefix)+8+len(jobID))
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(expiresMs))
	copy(key[len(prefix)+8:], jobID)
	return key
}

// readyPrefix returns the prefix for availability scanning.
func readyPrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixReady)
}

// delayPrefix returns the prefix for scheduled-index scanning.
func delayPrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixDelay)
}

// leaseIdxPrefix returns the prefix for lease expiry scanning.
func leaseIdxPrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixLeaseIdx)
}

// keyRange returns inclusive lower and exclusive upper bounds for a prefix scan.
func keyRange(prefix []byte) ([]byte, []byte) {
	hi := make([]byte, len(prefix)+1)
	copy(hi, prefix)
	hi[len(prefix)] = 0xFF
	return prefix, hi
}

// jobIDFromIdxKey extracts the job ID trailing an 8-byte timestamp index key.
func jobIDFromIdxKey(key, prefix []byte) (string, int64, bool) {
	if len(key) < len(prefix)+8+1 {
		return "", 0, false
	}
	ts := int64(binary.BigEndian.Uint64(key[len(prefix) : len(prefix)+8]))
	return string(key[len(prefix)+8:]), ts, true
}
