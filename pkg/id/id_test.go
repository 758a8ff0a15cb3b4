package id

import (
	"testing"
	"time"
)

func TestNextMonotonic(t *testing.T) {
	g := NewGenerator()
	prev := g.Next()
	for i := 0; i < 1000; i++ {
		cur := g.Next()
		if string(cur[:]) <= string(prev[:]) {
			t.Fatalf("ids not increasing at %d: %s <= %s", i, cur, prev)
		}
		prev = cur
	}
}

func TestClockBackwards(t *testing.T) {
	g := NewGenerator()
	now := int64(10_000)
	NowMs = func() int64 { return now }
	defer func() { NowMs = func() int64 { return time.Now().UnixMilli() } }()

	a := g.Next()
	now = 9_000 // clock regression
	b := g.Next()
	if string(b[:]) <= string(a[:]) {
		t.Fatalf("regressed clock produced non-increasing id")
	}
	if b.TimeMs() != a.TimeMs() {
		t.Fatalf("expected reused timestamp, got %d vs %d", b.TimeMs(), a.TimeMs())
	}
}
