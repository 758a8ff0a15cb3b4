// Package httpserver exposes the background subsystem over HTTP: health,
// gate-checked job submission, job status, a policy-aware SSE event stream
// with optional CEL filtering, and the admin policy switch.
package httpserver
