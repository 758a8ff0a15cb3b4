package worker

// Backoff computes retry delays: base * 2^attempts, capped. The sequence is
// non-decreasing in attempts.
type Backoff struct {
	BaseMs int64
	CapMs  int64
}

// DelayMs returns the delay before the next attempt given the number of
// attempts already made.
func (b Backoff) DelayMs(attempts int) int64 {
	base := b.BaseMs
	if base <= 0 {
		base = 1_000
	}
	cap := b.CapMs
	if cap <= 0 {
		cap = 60_000
	}
	if attempts < 0 {
		attempts = 0
	}
	// Shifting past 62 bits overflows int64 long before any sane cap.
	if attempts > 62 {
		return cap
	}
	d := base << uint(attempts)
	if d <= 0 || d > cap {
		return cap
	}
	return d
}
