// Package log provides the structured logging system used by Norish services.
//
// Loggers are constructed explicitly and passed by dependency injection;
// there is no package-level default logger. A Logger carries a minimum
// level, a set of base fields, a Formatter (JSON or text), and one or more
// Outputs. The typed Field API (Str, Int, Err, ...) is preferred; the
// printf-style methods exist for call sites migrating from the stdlib.
//
// A slog bridge is included so components built on log/slog, and stdlib
// log output from third-party code (e.g. Pebble), can be routed through
// the same formatter/output pipeline.
package log
