// Package runtime wires the node together: Pebble storage, the event bus and
// policy router, the queue catalog with its worker pools, the sync tracker,
// and the maintenance schedule. Construction is explicit open/close; every
// component is reached through the Runtime value.
package runtime
