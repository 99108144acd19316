// Package location tracks the competing position candidates around a
// driving/parking transition and picks the best one for a given transition.
package location

import (
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/curbwatch/internal/motion"
)

// Transition selects the priority order used by BestAvailable.
type Transition string

const (
	StopStart  Transition = "stop_start"
	DriveStart Transition = "drive_start"
	OnDemand   Transition = "on_demand"
)

// Source names the candidate a snapshot came from.
type Source string

const (
	SourceStillness Source = "stillness"
	SourceDriving   Source = "driving"
	SourceOnDemand  Source = "on_demand"
	SourceCached    Source = "cached"
	SourceVisit     Source = "visit"
	SourceNone      Source = "none"
)

// Snapshot is the value handed to consumers. Degraded is set whenever the
// fix came from the last-resort cache, or when no candidate was available.
// Demoted is set when a stale candidate was ranked lower than its nominal
// priority.
type Snapshot struct {
	Fix      motion.Fix `json:"fix"`
	Source   Source     `json:"source"`
	Degraded bool       `json:"degraded"`
	Demoted  bool       `json:"demoted,omitempty"`
	Age      string     `json:"age,omitempty"`
}

// Found reports whether the snapshot carries a fix.
func (s Snapshot) Found() bool {
	return s.Source != SourceNone && !s.Fix.IsZero()
}

// FromVisit wraps the coarse position of a dwell visit. Visit positions are
// always degraded.
func FromVisit(v motion.Visit, at time.Time) Snapshot {
	fix := motion.Fix{
		Timestamp:  v.Arrival,
		Lat:        v.Lat,
		Lng:        v.Lng,
		AccuracyM:  v.AccuracyM,
		HeadingDeg: motion.NoHeading,
	}
	return Snapshot{Fix: fix, Source: SourceVisit, Degraded: true, Age: at.Sub(v.Arrival).String()}
}

// FixProvider supplies a fresh on-demand fix. Implementations return false
// when none is available in time.
type FixProvider interface {
	CurrentFix(at time.Time) (motion.Fix, bool)
}

// Capture owns the location candidates. The zero value is not usable; call
// New.
type Capture struct {
	mu        sync.Mutex
	staleness time.Duration
	provider  FixProvider

	cached    *motion.Fix
	driving   *motion.Fix
	stillness *motion.Fix

	// stillnessAt is when stillness was first classified. A fix arriving
	// after it fills the stillness candidate if none was close enough.
	stillnessAt time.Time
}

// New returns a Capture that demotes candidates older than staleness.
func New(staleness time.Duration, provider FixProvider) *Capture {
	return &Capture{staleness: staleness, provider: provider}
}

// SetStaleness updates the demotion threshold.
func (c *Capture) SetStaleness(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staleness = d
}

// RecordFix stores f as the latest cached fix, and as the last driving fix
// when driving is true. A pending stillness mark is filled by the first fix
// that follows it.
func (c *Capture) RecordFix(f motion.Fix, driving bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fix := f
	c.cached = &fix
	if driving {
		c.driving = &fix
	}
	if !c.stillnessAt.IsZero() && c.stillness == nil && !f.Timestamp.Before(c.stillnessAt) {
		c.stillness = &fix
	}
}

// MarkStillness records the instant stillness was first classified. A
// cached fix stamped at or after that instant becomes the stillness
// candidate; otherwise the provider is asked for one, and failing that the
// next recorded fix fills it. Repeated marks keep the first one until
// ClearStillness.
func (c *Capture) MarkStillness(at time.Time) {
	c.mu.Lock()
	if !c.stillnessAt.IsZero() {
		c.mu.Unlock()
		return
	}
	c.stillnessAt = at
	c.stillness = nil
	if c.cached != nil && !c.cached.Timestamp.Before(at) {
		fix := *c.cached
		c.stillness = &fix
	}
	provider := c.provider
	filled := c.stillness != nil
	c.mu.Unlock()

	if filled || provider == nil {
		return
	}
	if f, ok := provider.CurrentFix(at); ok {
		c.mu.Lock()
		if c.stillness == nil && c.stillnessAt.Equal(at) {
			c.stillness = &f
		}
		c.mu.Unlock()
	}
}

// ClearStillness discards the stillness candidate, typically because driving
// resumed.
func (c *Capture) ClearStillness() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stillnessAt = time.Time{}
	c.stillness = nil
}

// StillnessAt returns the current stillness mark, zero when none.
func (c *Capture) StillnessAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stillnessAt
}

// Latest returns the most recent fix of any kind.
func (c *Capture) Latest() (motion.Fix, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached == nil {
		return motion.Fix{}, false
	}
	return *c.cached, true
}

type candidate struct {
	source Source
	fix    motion.Fix
	rank   float64
	stale  bool
}

var priorities = map[Transition][]Source{
	StopStart:  {SourceStillness, SourceDriving, SourceOnDemand, SourceCached},
	DriveStart: {SourceOnDemand, SourceDriving, SourceStillness, SourceCached},
	OnDemand:   {SourceOnDemand, SourceCached},
}

// BestAvailable returns the highest-priority candidate for t at instant at.
// A candidate older than the staleness threshold relative to at drops one
// position, below the candidate that nominally follows it. The cached fix is
// always flagged as degraded.
func (c *Capture) BestAvailable(t Transition, at time.Time) Snapshot {
	order, ok := priorities[t]
	if !ok {
		order = priorities[OnDemand]
	}

	c.mu.Lock()
	staleness := c.staleness
	pool := map[Source]*motion.Fix{
		SourceStillness: c.stillness,
		SourceDriving:   c.driving,
		SourceCached:    c.cached,
	}
	provider := c.provider
	c.mu.Unlock()

	var cands []candidate
	for i, src := range order {
		var fix *motion.Fix
		if src == SourceOnDemand {
			if provider == nil {
				continue
			}
			f, ok := provider.CurrentFix(at)
			if !ok {
				continue
			}
			fix = &f
		} else {
			fix = pool[src]
		}
		if fix == nil {
			continue
		}
		stale := at.Sub(fix.Timestamp) > staleness
		rank := float64(i)
		if stale {
			rank += 1.5
		}
		cands = append(cands, candidate{source: src, fix: *fix, rank: rank, stale: stale})
	}

	if len(cands) == 0 {
		return Snapshot{Source: SourceNone, Degraded: true}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].rank < cands[j].rank })

	best := cands[0]
	return Snapshot{
		Fix:      best.fix,
		Source:   best.source,
		Degraded: best.source == SourceCached,
		Demoted:  best.stale,
		Age:      at.Sub(best.fix.Timestamp).String(),
	}
}

// State is the persisted form of a Capture.
type State struct {
	Cached      *motion.Fix `json:"cached,omitempty"`
	Driving     *motion.Fix `json:"driving,omitempty"`
	Stillness   *motion.Fix `json:"stillness,omitempty"`
	StillnessAt time.Time   `json:"stillness_at,omitempty"`
}

// Save returns a copy of the candidates.
func (c *Capture) Save() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := func(f *motion.Fix) *motion.Fix {
		if f == nil {
			return nil
		}
		v := *f
		return &v
	}
	return State{Cached: cp(c.cached), Driving: cp(c.driving), Stillness: cp(c.stillness), StillnessAt: c.stillnessAt}
}

// Restore replaces the candidates with s.
func (c *Capture) Restore(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached, c.driving, c.stillness, c.stillnessAt = s.Cached, s.Driving, s.Stillness, s.StillnessAt
}
