package worker

import "testing"

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := Backoff{BaseMs: 1_000, CapMs: 60_000}
	cases := []struct {
		attempts int
		want     int64
	}{
		{0, 1_000},
		{1, 2_000},
		{2, 4_000},
		{5, 32_000},
		{6, 60_000},
		{20, 60_000},
	}
	for _, c := range cases {
		if got := b.DelayMs(c.attempts); got != c.want {
			t.Fatalf("DelayMs(%d) = %d, want %d", c.attempts, got, c.want)
		}
	}
}

func TestBackoffNonDecreasing(t *testing.T) {
	b := Backoff{BaseMs: 500, CapMs: 30_000}
	prev := int64(0)
	for attempts := 0; attempts < 100; attempts++ {
		d := b.DelayMs(attempts)
		if d < prev {
			t.Fatalf("delay decreased at attempts=%d: %d < %d", attempts, d, prev)
		}
		prev = d
	}
}

func TestBackoffOverflowGuard(t *testing.T) {
	b := Backoff{BaseMs: 1 << 40, CapMs: 60_000}
	if got := b.DelayMs(63); got != 60_000 {
		t.Fatalf("overflowing shift should return cap, got %d", got)
	}
}

func TestTerminalMarker(t *testing.T) {
	if Terminal(nil) != nil {
		t.Fatal("Terminal(nil) should be nil")
	}
	err := Terminal(errTest)
	if !IsTerminal(err) {
		t.Fatal("wrapped error should be terminal")
	}
	if IsTerminal(errTest) {
		t.Fatal("plain error should not be terminal")
	}
}
