// Package scheduler wraps robfig/cron for periodic background jobs. Entries
// are registered by name; re-registering a name replaces the old entry, so a
// config reload never stacks duplicate schedules.
package scheduler
