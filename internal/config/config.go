package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// VisibilityPolicy is the deployment-wide default policy level:
	// "everyone", "household", or "owner". Admins may change it at runtime
	// through the policy store; this value seeds a fresh deployment.
	VisibilityPolicy string        `json:"visibilityPolicy"`
	HTTPAddr         string        `json:"httpAddr"`
	Queue            QueueDefaults `json:"queue"`
	// SyncErrorMaxBytes bounds the stored error message on sync records.
	SyncErrorMaxBytes int `json:"syncErrorMaxBytes"`
	// MaintenanceSpec is the cron expression for the periodic maintenance job.
	MaintenanceSpec string `json:"maintenanceSpec"`
	// ShutdownGraceMs bounds how long in-flight jobs may run after a stop
	// signal before their leases are abandoned for reclaim.
	ShutdownGraceMs int64 `json:"shutdownGraceMs"`
}

// QueueDefaults captures per-queue baseline retry/lease behavior. Individual
// queues may override MaxAttempts per job at enqueue time.
type QueueDefaults struct {
	MaxAttempts   int   `json:"maxAttempts"`
	BackoffBaseMs int64 `json:"backoffBaseMs"`
	BackoffCapMs  int64 `json:"backoffCapMs"`
	LeaseMs       int64 `json:"leaseMs"`
	SweepEveryMs  int64 `json:"sweepEveryMs"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		VisibilityPolicy: "household",
		HTTPAddr:         ":8686",
		Queue: QueueDefaults{
			MaxAttempts:   3,
			BackoffBaseMs: 1_000,
			BackoffCapMs:  60_000,
			LeaseMs:       120_000,
			SweepEveryMs:  5_000,
		},
		SyncErrorMaxBytes: 500,
		MaintenanceSpec:   "17 3 * * *",
		ShutdownGraceMs:   15_000,
	}
}

// Load reads configuration from a JSON file. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
