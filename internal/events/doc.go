// Package events defines the typed event set flowing over the bus and the
// JSON codec for their payloads. Timestamps travel as RFC 3339 strings.
package events
