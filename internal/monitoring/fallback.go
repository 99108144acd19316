package monitoring

import (
	"fmt"
	"sync"
	"time"
)

// DefaultFallbackCapacity bounds the number of lines kept by Fallback.
const DefaultFallbackCapacity = 256

// FallbackEntry is a line that could not be written to durable storage.
type FallbackEntry struct {
	At     time.Time `json:"at"`
	Source string    `json:"source"`
	Line   string    `json:"line"`
	Err    string    `json:"error,omitempty"`
}

// FallbackRing keeps the most recent persistence failures in memory so they
// can be inspected over the debug routes. The oldest entry is overwritten once
// the ring is full. It never returns an error.
type FallbackRing struct {
	mu       sync.Mutex
	entries  []FallbackEntry
	head     int
	size     int
	overflow uint64
}

// NewFallbackRing returns a ring holding up to capacity entries.
func NewFallbackRing(capacity int) *FallbackRing {
	if capacity <= 0 {
		capacity = DefaultFallbackCapacity
	}
	return &FallbackRing{entries: make([]FallbackEntry, capacity)}
}

// Fallback is the shared ring used by components that are not handed their own.
var Fallback = NewFallbackRing(DefaultFallbackCapacity)

// Add records a failed write. A nil ring is a no-op.
func (r *FallbackRing) Add(source, line string, err error) {
	if r == nil {
		return
	}
	e := FallbackEntry{At: time.Now().UTC(), Source: source, Line: line}
	if err != nil {
		e.Err = err.Error()
	}

	r.mu.Lock()
	r.entries[r.head] = e
	r.head = (r.head + 1) % len(r.entries)
	if r.size < len(r.entries) {
		r.size++
	} else {
		r.overflow++
	}
	r.mu.Unlock()

	Logf("[fallback] %s: %v", source, err)
}

// Addf records a formatted line with no underlying error.
func (r *FallbackRing) Addf(source, format string, v ...interface{}) {
	r.Add(source, fmt.Sprintf(format, v...), nil)
}

// Entries returns the buffered entries, oldest first.
func (r *FallbackRing) Entries() []FallbackEntry {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]FallbackEntry, 0, r.size)
	start := (r.head - r.size + len(r.entries)) % len(r.entries)
	for i := 0; i < r.size; i++ {
		out = append(out, r.entries[(start+i)%len(r.entries)])
	}
	return out
}

// Len returns the number of buffered entries.
func (r *FallbackRing) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Overflow returns how many entries have been overwritten.
func (r *FallbackRing) Overflow() uint64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overflow
}
