package camera

import (
	"sort"
	"sync"
	"time"
)

// Ledger is the per-camera deduplication table plus the time of the last
// alert of any kind. The engine is its only writer; readers get copies.
type Ledger struct {
	mu        sync.Mutex
	records   map[string]*AlertRecord
	lastAlert time.Time
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{records: make(map[string]*AlertRecord)}
}

// Get returns the record for id.
func (l *Ledger) Get(id string) (AlertRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[id]
	if !ok {
		return AlertRecord{}, false
	}
	return *r, true
}

// Fire records an alert for id at at.
func (l *Ledger) Fire(id string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[id] = &AlertRecord{CameraID: id, LastFiredAt: at}
	l.lastAlert = at
}

// MarkCleared flags id as cleared. It reports whether the flag changed.
func (l *Ledger) MarkCleared(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[id]
	if !ok || r.Cleared {
		return false
	}
	r.Cleared = true
	return true
}

// Prune removes records that are cleared and past their cooldown. It
// returns the removed ids in sorted order.
func (l *Ledger) Prune(now time.Time, cooldown time.Duration) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var removed []string
	for id, r := range l.records {
		if r.Cleared && now.Sub(r.LastFiredAt) >= cooldown {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	for _, id := range removed {
		delete(l.records, id)
	}
	return removed
}

// Pending returns the ids of records not yet cleared, sorted.
func (l *Ledger) Pending() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []string
	for id, r := range l.records {
		if !r.Cleared {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// LastAlert returns when the last alert of any kind fired.
func (l *Ledger) LastAlert() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastAlert
}

// Records returns a copy of every record sorted by camera id.
func (l *Ledger) Records() []AlertRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AlertRecord, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

// Restore replaces the ledger contents with persisted records.
func (l *Ledger) Restore(records []AlertRecord, lastAlert time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make(map[string]*AlertRecord, len(records))
	for _, r := range records {
		rec := r
		l.records[r.CameraID] = &rec
	}
	l.lastAlert = lastAlert
}
