// Package id generates 128-bit, lexicographically sortable identifiers for
// bus messages and job sequencing. IDs encode a millisecond timestamp in the
// high 8 bytes and a per-process sequence in the low 8 bytes, so IDs sort by
// creation time and never collide within a process.
package id
