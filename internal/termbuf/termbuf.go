// Package termbuf holds per-process terminal output assembled from a stream
// of PTY fragments. Buffers are created lazily on first output and bounded
// by independent soft caps on line count and raw bytes.
package termbuf

import (
	"strings"
	"sync"
)

const (
	DefaultMaxLines = 5000
	DefaultMaxBytes = 2 << 20 // 2MB of raw scrollback per process
)

// Buffer is the retained output of one process.
type Buffer struct {
	lines  []string
	raw    strings.Builder
	scroll int
}

// Snapshot is a read-only copy handed to consumers.
type Snapshot struct {
	ProcessID string
	Lines     []string
	Raw       string
	Scroll    int
}

// Buffers owns all terminal buffers, keyed by process id.
type Buffers struct {
	mu       sync.Mutex
	byProc   map[string]*Buffer
	maxLines int
	maxBytes int
}

func New(maxLines, maxBytes int) *Buffers {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Buffers{
		byProc:   make(map[string]*Buffer),
		maxLines: maxLines,
		maxBytes: maxBytes,
	}
}

// Append merges one output fragment into the process's buffer, creating the
// buffer on first output. Fragments split lines arbitrarily: when the
// accumulated raw text does not end on a line boundary, the fragment's first
// segment continues the last stored line instead of opening a new one.
func (b *Buffers) Append(processID, fragment string) {
	if fragment == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	buf := b.byProc[processID]
	if buf == nil {
		buf = &Buffer{}
		b.byProc[processID] = buf
	}

	midLine := buf.raw.Len() > 0 && !strings.HasSuffix(rawTail(buf), "\n")
	buf.raw.WriteString(fragment)

	segments := strings.Split(fragment, "\n")
	// A fragment ending on a line boundary yields a trailing empty segment;
	// drop it so the next fragment opens the line instead of an empty one
	// sitting in the buffer meanwhile.
	if len(segments) > 1 && segments[len(segments)-1] == "" {
		segments = segments[:len(segments)-1]
	}
	if midLine && len(buf.lines) > 0 {
		buf.lines[len(buf.lines)-1] += segments[0]
		segments = segments[1:]
	}
	buf.lines = append(buf.lines, segments...)

	// Soft caps, checked every append: drop oldest first. The two caps are
	// independent; neither is realigned against the other.
	if n := len(buf.lines); n > b.maxLines {
		buf.lines = append([]string(nil), buf.lines[n-b.maxLines:]...)
	}
	if buf.raw.Len() > b.maxBytes {
		kept := buf.raw.String()
		kept = kept[len(kept)-b.maxBytes:]
		buf.raw.Reset()
		buf.raw.WriteString(kept)
	}
}

// Clear drops a process's buffer entirely. Used on process kill.
func (b *Buffers) Clear(processID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.byProc, processID)
}

// SetScroll records a scroll position for a process. No range validation;
// the value is advisory view state.
func (b *Buffers) SetScroll(processID string, pos int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf := b.byProc[processID]; buf != nil {
		buf.scroll = pos
	}
}

// Scroll returns the recorded scroll position, zero if none.
func (b *Buffers) Scroll(processID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf := b.byProc[processID]; buf != nil {
		return buf.scroll
	}
	return 0
}

// Get returns a copy of the process's buffer, or ok=false if the process
// has produced no output.
func (b *Buffers) Get(processID string) (Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf := b.byProc[processID]
	if buf == nil {
		return Snapshot{}, false
	}
	return Snapshot{
		ProcessID: processID,
		Lines:     append([]string(nil), buf.lines...),
		Raw:       buf.raw.String(),
		Scroll:    buf.scroll,
	}, true
}

// rawTail returns the last byte of raw as a string for the line-boundary
// check without copying the whole builder.
func rawTail(buf *Buffer) string {
	s := buf.raw.String()
	if s == "" {
		return ""
	}
	return s[len(s)-1:]
}
