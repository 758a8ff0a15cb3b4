// Package config loads the Norish background-service configuration from an
// optional JSON file with NORISH_* environment overrides layered on top.
// Defaults are chosen so a bare `norishd serve` works on a fresh host.
package config
