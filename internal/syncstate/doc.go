// Package syncstate tracks per-item external sync status. Records are keyed
// by (user, item) and persisted in Pebble; every transition emits a
// user-scoped itemStatusUpdated event, and the transition into failed emits
// syncFailed exactly once per failure episode.
package syncstate
