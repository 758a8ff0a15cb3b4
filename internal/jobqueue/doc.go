// Package jobqueue implements named, durable job queues on Pebble.
//
// Jobs are keyed by a caller-supplied deterministic ID; inserting a job whose
// ID is already present fails with ErrDuplicate, which is the only concurrency
// control between competing producers. A ready index orders waiting jobs FIFO,
// a delay index holds scheduled retries until due, and a lease index lets a
// background sweeper reclaim jobs abandoned by crashed workers.
package jobqueue
