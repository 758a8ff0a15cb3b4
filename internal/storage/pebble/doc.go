// Package pebblestore wraps a Pebble database with the durability policy and
// small helpers the job queue and sync tracker need. All multi-key updates go
// through batches so a crash never leaves a half-written job record.
package pebblestore
