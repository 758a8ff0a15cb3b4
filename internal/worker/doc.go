// Package worker runs one bounded-concurrency consumer per job queue. A pool
// polls its queue, dispatches leased jobs to a handler under a semaphore cap,
// recovers handler panics, schedules capped exponential-backoff retries, and
// reports outcomes through completion/failure callbacks. At-least-once
// delivery: handlers must be idempotent.
package worker
