package config

import (
	"os"
	"strconv"
)

// FromEnv overlays NORISH_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("NORISH_VISIBILITY_POLICY"); v != "" {
		cfg.VisibilityPolicy = v
	}
	if v := os.Getenv("NORISH_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("NORISH_QUEUE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Queue.MaxAttempts = n
		}
	}
	if v := os.Getenv("NORISH_QUEUE_BACKOFF_BASE_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			cfg.Queue.BackoffBaseMs = n
		}
	}
	if v := os.Getenv("NORISH_QUEUE_BACKOFF_CAP_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			cfg.Queue.BackoffCapMs = n
		}
	}
	if v := os.Getenv("NORISH_QUEUE_LEASE_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Queue.LeaseMs = n
		}
	}
	if v := os.Getenv("NORISH_QUEUE_SWEEP_EVERY_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Queue.SweepEveryMs = n
		}
	}
	if v := os.Getenv("NORISH_SYNC_ERROR_MAX_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SyncErrorMaxBytes = n
		}
	}
	if v := os.Getenv("NORISH_MAINTENANCE_SPEC"); v != "" {
		cfg.MaintenanceSpec = v
	}
	if v := os.Getenv("NORISH_SHUTDOWN_GRACE_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			cfg.ShutdownGraceMs = n
		}
	}
}
