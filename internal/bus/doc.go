// Package bus is the in-process pub/sub fabric for real-time events.
//
// Delivery is fire-and-forget: Publish hands the payload to every subscriber
// currently registered on the channel and returns; nothing is buffered for
// absent subscribers and slow subscribers lose messages rather than stall
// publishers. Channel names are plain strings; the visibility package owns
// their structure.
package bus
