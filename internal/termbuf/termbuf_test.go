package termbuf

import (
	"strings"
	"testing"
)

func TestAppendMergesSplitLines(t *testing.T) {
	b := New(0, 0)
	b.Append("p1", "foo")
	b.Append("p1", "bar\nbaz")

	snap, ok := b.Get("p1")
	if !ok {
		t.Fatal("buffer missing")
	}
	if len(snap.Lines) != 2 || snap.Lines[0] != "foobar" || snap.Lines[1] != "baz" {
		t.Errorf("lines = %q, want [foobar baz]", snap.Lines)
	}
	if snap.Raw != "foobar\nbaz" {
		t.Errorf("raw = %q, want %q", snap.Raw, "foobar\nbaz")
	}
}

func TestAppendAfterNewline(t *testing.T) {
	b := New(0, 0)
	b.Append("p1", "abc\n")
	b.Append("p1", "def")

	snap, _ := b.Get("p1")
	// No spurious empty line between the two: the trailing newline only
	// means the next fragment starts fresh.
	if len(snap.Lines) != 2 || snap.Lines[0] != "abc" || snap.Lines[1] != "def" {
		t.Errorf("lines = %q, want [abc def]", snap.Lines)
	}
	if snap.Raw != "abc\ndef" {
		t.Errorf("raw = %q, want %q", snap.Raw, "abc\ndef")
	}
}

func TestLazyCreation(t *testing.T) {
	b := New(0, 0)
	if _, ok := b.Get("silent"); ok {
		t.Error("buffer exists for process with no output")
	}
	b.Append("silent", "")
	if _, ok := b.Get("silent"); ok {
		t.Error("empty fragment created a buffer")
	}
}

func TestLineCap(t *testing.T) {
	b := New(10, 1<<20)
	for i := 0; i < 100; i++ {
		b.Append("p1", "line\n")
	}
	snap, _ := b.Get("p1")
	if len(snap.Lines) > 10 {
		t.Errorf("line count %d exceeds cap 10", len(snap.Lines))
	}
}

func TestByteCapKeepsSuffix(t *testing.T) {
	b := New(100000, 64)
	var full strings.Builder
	fragments := []string{"aaaa\nbb", "ccccc", "\ndddddddddd\n", strings.Repeat("e", 50), "ff\ngg"}
	for i := 0; i < 5; i++ {
		for _, f := range fragments {
			b.Append("p1", f)
			full.WriteString(f)

			snap, _ := b.Get("p1")
			if len(snap.Raw) > 64 {
				t.Fatalf("raw size %d exceeds cap", len(snap.Raw))
			}
			// Truncation only drops from the front: retained raw must be a
			// suffix of everything ever appended.
			if !strings.HasSuffix(full.String(), snap.Raw) {
				t.Fatalf("raw %q is not a suffix of the full stream", snap.Raw)
			}
		}
	}
}

func TestClear(t *testing.T) {
	b := New(0, 0)
	b.Append("p1", "data")
	b.Clear("p1")
	if _, ok := b.Get("p1"); ok {
		t.Error("buffer survived Clear")
	}
}

func TestScrollPosition(t *testing.T) {
	b := New(0, 0)
	b.Append("p1", "x")
	b.SetScroll("p1", 42)
	if got := b.Scroll("p1"); got != 42 {
		t.Errorf("scroll = %d, want 42", got)
	}
	// No validation of range; negative values are stored as-is.
	b.SetScroll("p1", -5)
	if got := b.Scroll("p1"); got != -5 {
		t.Errorf("scroll = %d, want -5", got)
	}
	if got := b.Scroll("unknown"); got != 0 {
		t.Errorf("scroll for unknown process = %d, want 0", got)
	}
}

func TestBuffersAreIndependent(t *testing.T) {
	b := New(0, 0)
	b.Append("p1", "one")
	b.Append("p2", "two")
	s1, _ := b.Get("p1")
	s2, _ := b.Get("p2")
	if s1.Raw != "one" || s2.Raw != "two" {
		t.Errorf("buffers leaked across processes: %q %q", s1.Raw, s2.Raw)
	}
}
