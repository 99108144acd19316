// Package decisionlog records every accept and reject decision made by the
// detection core as canonical JSON lines, so a recorded input stream can be
// replayed offline and compared byte for byte.
package decisionlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Components that write entries.
const (
	ComponentParking  = "parking"
	ComponentDwell    = "dwell"
	ComponentCamera   = "camera"
	ComponentEvidence = "evidence"
	ComponentEngine   = "engine"
)

// Outcomes.
const (
	Accepted = "accepted"
	Rejected = "rejected"
	Fired    = "fired"
	Noted    = "noted"
)

// Fields carries the decision context. Keys are emitted in sorted order.
type Fields map[string]any

// Entry is one immutable decision record. Timestamp is the event time of the
// input that produced the decision, never the wall clock, so replays are
// deterministic.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Component string    `json:"component"`
	Event     string    `json:"event"`
	Outcome   string    `json:"outcome"`
	Context   Fields    `json:"context,omitempty"`
}

type wireEntry struct {
	Timestamp string `json:"ts"`
	Component string `json:"component"`
	Event     string `json:"event"`
	Outcome   string `json:"outcome"`
	Context   Fields `json:"context,omitempty"`
}

// MarshalLine encodes e as a single canonical JSON line including the
// trailing newline. Struct fields keep declaration order, map keys are
// sorted by encoding/json and timestamps are rendered in UTC.
func (e Entry) MarshalLine() ([]byte, error) {
	b, err := json.Marshal(wireEntry{
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Component: e.Component,
		Event:     e.Event,
		Outcome:   e.Outcome,
		Context:   e.Context,
	})
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Recorder accepts decision entries. Implementations must never block
// detection on a storage failure.
type Recorder interface {
	Record(e Entry)
}

// Discard drops every entry.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(Entry) {}

// Memory keeps entries in memory. It is used by tests, the replay tool and
// the daemon's recent-decisions endpoint. A positive Limit keeps only the
// newest Limit entries.
type Memory struct {
	Limit int

	mu      sync.Mutex
	entries []Entry
}

// Record appends e.
func (m *Memory) Record(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	if m.Limit > 0 && len(m.entries) > m.Limit {
		m.entries = append(m.entries[:0:0], m.entries[len(m.entries)-m.Limit:]...)
	}
}

// Entries returns a copy of the recorded entries.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Filter returns the recorded entries from component.
func (m *Memory) Filter(component string) []Entry {
	var out []Entry
	for _, e := range m.Entries() {
		if e.Component == component {
			out = append(out, e)
		}
	}
	return out
}

// Reset discards all entries.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
}

// WriteTo writes every entry as canonical JSON lines.
func (m *Memory) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for _, e := range m.Entries() {
		line, err := e.MarshalLine()
		if err != nil {
			return n, err
		}
		k, err := w.Write(line)
		n += int64(k)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Multi fans entries out to several recorders.
func Multi(recorders ...Recorder) Recorder {
	return multi(recorders)
}

type multi []Recorder

func (m multi) Record(e Entry) {
	for _, r := range m {
		if r != nil {
			r.Record(e)
		}
	}
}

// ReadEntries decodes a stream written by Log or Memory.WriteTo.
func ReadEntries(r io.Reader) ([]Entry, error) {
	var out []Entry
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scan.Scan() {
		line++
		if len(scan.Bytes()) == 0 {
			continue
		}
		var w wireEntry
		if err := json.Unmarshal(scan.Bytes(), &w); err != nil {
			return out, fmt.Errorf("line %d: %w", line, err)
		}
		ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
		if err != nil {
			return out, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, Entry{
			Timestamp: ts,
			Component: w.Component,
			Event:     w.Event,
			Outcome:   w.Outcome,
			Context:   w.Context,
		})
	}
	return out, scan.Err()
}
