package log

import (
	"errors"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	out := &CaptureOutput{}
	l := NewLogger(WithLevel(WarnLevel), WithOutput(out))
	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")
	got := out.Entries()
	if len(got) != 2 {
		t.Fatalf("want 2 entries, got %d", len(got))
	}
	if got[0].Message != "w" || got[1].Message != "e" {
		t.Fatalf("unexpected messages: %+v", got)
	}
}

func TestWithFieldsMerge(t *testing.T) {
	out := &CaptureOutput{}
	l := NewLogger(WithOutput(out)).With(Str("queue", "import-url")).WithComponent("worker")
	l.Info("pulled", Int("n", 3))
	got := out.Entries()
	if len(got) != 1 {
		t.Fatalf("want 1 entry")
	}
	f := got[0].Fields
	if f["queue"] != "import-url" || f[ComponentKey] != "worker" || f["n"] != 3 {
		t.Fatalf("fields not merged: %+v", f)
	}
}

func TestWithErrorDoesNotMutateParent(t *testing.T) {
	out := &CaptureOutput{}
	parent := NewLogger(WithOutput(out))
	child := parent.WithError(errors.New("boom"))
	child.Error("failed")
	parent.Info("fine")
	got := out.Entries()
	if got[0].Error == nil || got[1].Error != nil {
		t.Fatalf("error field leaked between loggers: %+v", got)
	}
}

func TestTextFormatterSortedKeys(t *testing.T) {
	out := &CaptureOutput{}
	l := NewLogger(WithOutput(out))
	l.Info("m", Str("b", "2"), Str("a", "1"))
	b, err := (&TextFormatter{}).Format(&out.Entries()[0])
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	s := string(b)
	if strings.Index(s, "a=1") > strings.Index(s, "b=2") {
		t.Fatalf("keys not sorted: %s", s)
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, err := ParseLevel("WARN"); err != nil || lvl != WarnLevel {
		t.Fatalf("parse WARN: %v %v", lvl, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("want error for unknown level")
	}
}
