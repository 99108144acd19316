package dwell

import (
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/curbwatch/internal/geo"
)

// Hotspot kinds.
const (
	KindFalsePositive = "false_positive"
	KindLockout       = "not_parked"
)

// Hotspot is a circular zone where dwell visits are not trusted. A zero
// Expires never expires.
type Hotspot struct {
	Zone    geo.Circle `json:"zone"`
	Kind    string     `json:"kind"`
	Created time.Time  `json:"created"`
	Expires time.Time  `json:"expires,omitempty"`
}

// Active reports whether h applies at now.
func (h Hotspot) Active(now time.Time) bool {
	return h.Expires.IsZero() || now.Before(h.Expires)
}

// Hotspots is the set of known false-positive zones and manual lockouts.
type Hotspots struct {
	mu    sync.Mutex
	zones []Hotspot
}

// NewHotspots returns a set seeded with zones.
func NewHotspots(zones ...Hotspot) *Hotspots {
	h := &Hotspots{}
	for _, z := range zones {
		h.Add(z)
	}
	return h
}

// Add inserts a zone.
func (h *Hotspots) Add(z Hotspot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.zones = append(h.zones, z)
}

// Lockout adds a temporary zone around p after a manual "not parked"
// override.
func (h *Hotspots) Lockout(p geo.Point, at time.Time, radiusM float64, d time.Duration) Hotspot {
	z := Hotspot{
		Zone:    geo.Circle{Center: p, RadiusM: radiusM},
		Kind:    KindLockout,
		Created: at,
		Expires: at.Add(d),
	}
	h.Add(z)
	return z
}

// Match returns the first active zone containing p. slack widens every zone,
// typically by the accuracy of the position.
func (h *Hotspots) Match(p geo.Point, slack float64, now time.Time) (Hotspot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, z := range h.zones {
		if z.Active(now) && z.Zone.Contains(p, slack) {
			return z, true
		}
	}
	return Hotspot{}, false
}

// Prune drops expired zones and returns how many were removed.
func (h *Hotspots) Prune(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.zones[:0]
	for _, z := range h.zones {
		if z.Active(now) {
			kept = append(kept, z)
		}
	}
	removed := len(h.zones) - len(kept)
	h.zones = kept
	return removed
}

// All returns the zones ordered by creation time.
func (h *Hotspots) All() []Hotspot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Hotspot, len(h.zones))
	copy(out, h.zones)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// Parking is one confirmed parking, kept to detect duplicate visits.
type Parking struct {
	At    time.Time `json:"at"`
	Point geo.Point `json:"point"`
}

// History keeps the most recent confirmed parkings.
type History struct {
	mu    sync.Mutex
	limit int
	items []Parking
}

// NewHistory returns a History holding at most limit entries.
func NewHistory(limit int) *History {
	if limit < 1 {
		limit = 16
	}
	return &History{limit: limit}
}

// Add records p, dropping the oldest entry when full.
func (h *History) Add(p Parking) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, p)
	if over := len(h.items) - h.limit; over > 0 {
		h.items = append(h.items[:0], h.items[over:]...)
	}
}

// Near returns the first parking within radiusM of p whose time is within
// window of at.
func (h *History) Near(p geo.Point, at time.Time, radiusM float64, window time.Duration) (Parking, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.items) - 1; i >= 0; i-- {
		prev := h.items[i]
		gap := at.Sub(prev.At)
		if gap < 0 {
			gap = -gap
		}
		if gap <= window && geo.Distance(prev.Point, p) <= radiusM {
			return prev, true
		}
	}
	return Parking{}, false
}

// All returns the recorded parkings oldest first.
func (h *History) All() []Parking {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Parking, len(h.items))
	copy(out, h.items)
	return out
}
