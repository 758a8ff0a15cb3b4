// Package visibility decides who sees background work and its events.
//
// A single deployment-wide policy level controls both sides of the system:
// which bus channel an event is emitted on, and how wide the dedup key for a
// piece of work is. "everyone" shares work and events across the deployment,
// "household" scopes them to a household, "owner" to a single user.
package visibility
