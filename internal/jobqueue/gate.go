package jobqueue

import (
	"context"
	"errors"
)

// AdmitStatus is the outcome of a gate-checked enqueue.
type AdmitStatus string

const (
	// AdmitQueued means a new job was inserted.
	AdmitQueued AdmitStatus = "queued"
	// AdmitDuplicate means a job with the same ID is already queued or running.
	AdmitDuplicate AdmitStatus = "duplicate"
	// AdmitExists means the work's result already exists in the domain, so no
	// job is needed at all.
	AdmitExists AdmitStatus = "exists"
)

// ExistsFunc reports whether the result the job would produce already exists.
// On true it returns the identifier of the existing result.
type ExistsFunc func(ctx context.Context, jobID string) (resultID string, exists bool, err error)

// Decision is the gate's answer for one admit request.
type Decision struct {
	Status   AdmitStatus
	ResultID string
}

// Gate performs the pre-enqueue check: domain existence first, then the
// queue's insert-if-absent. Between the existence check and the insert the
// queue's dedup is the authority, so two racing admits resolve to exactly one
// queued job.
type Gate struct {
	queue  *Queue
	exists ExistsFunc
}

// NewGate wraps a queue. existsFn may be nil when the work category has no
// meaningful existence check (e.g. maintenance jobs).
func NewGate(q *Queue, existsFn ExistsFunc) *Gate {
	return &Gate{queue: q, exists: existsFn}
}

// Admit runs the gate for one job. Callers treat AdmitDuplicate and
// AdmitExists as success: the work is already done or underway.
func (g *Gate) Admit(ctx context.Context, jobID string, payload []byte, eo EnqueueOptions) (Decision, error) {
	if g.exists != nil {
		resultID, ok, err := g.exists(ctx, jobID)
		if err != nil {
			return Decision{}, err
		}
		if ok {
			return Decision{Status: AdmitExists, ResultID: resultID}, nil
		}
	}
	err := g.queue.Enqueue(ctx, jobID, payload, eo, 0)
	if errors.Is(err, ErrDuplicate) {
		return Decision{Status: AdmitDuplicate}, nil
	}
	if err != nil {
		return Decision{}, err
	}
	return Decision{Status: AdmitQueued}, nil
}
