// Package serverrun boots the norishd daemon: config, logger, runtime, and
// the HTTP/SSE server, wired for signal-aware graceful shutdown.
package serverrun
