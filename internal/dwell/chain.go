// Package dwell evaluates coarse "visited this place" notifications through
// an ordered guard chain. A visit that survives every guard is a corrective
// parking confirmation, offered to the state machine only when the primary
// classifier appears stuck.
package dwell

import (
	"time"

	"github.com/banshee-data/curbwatch/internal/config"
	"github.com/banshee-data/curbwatch/internal/decisionlog"
	"github.com/banshee-data/curbwatch/internal/monitoring"
	"github.com/banshee-data/curbwatch/internal/motion"
)

// Reason is a guard rejection reason.
type Reason string

const (
	ReasonNoDeparture   Reason = "no_departure_confirmed"
	ReasonDwellTooShort Reason = "dwell_too_short"
	ReasonVisitStale    Reason = "visit_stale"
	ReasonStillMoving   Reason = "still_moving"
	ReasonDuplicate     Reason = "duplicate_parking"
	ReasonHotspot       Reason = "hotspot_lockout"
	ReasonNotStuck      Reason = "machine_not_stuck"
)

// Params holds the guard thresholds.
type Params struct {
	MinDwell         time.Duration
	MaxAge           time.Duration
	DuplicateRadiusM float64
	DuplicateWindow  time.Duration
	MovingSpeedMps   float64
	LiveFixMaxAge    time.Duration
	StuckThreshold   time.Duration
}

// ParamsFromConfig reads the thresholds from cfg.
func ParamsFromConfig(cfg *config.TuningConfig) Params {
	return Params{
		MinDwell:         cfg.GetMinDwell(),
		MaxAge:           cfg.GetVisitMaxAge(),
		DuplicateRadiusM: cfg.GetDuplicateRadiusM(),
		DuplicateWindow:  cfg.GetDuplicateWindow(),
		MovingSpeedMps:   cfg.GetMovingSpeedMps(),
		LiveFixMaxAge:    cfg.GetLiveFixMaxAge(),
		StuckThreshold:   cfg.GetStuckThreshold(),
	}
}

// Input is everything the guards look at besides the visit itself. The
// engine fills it from its context at evaluation time.
type Input struct {
	Visit motion.Visit
	Now   time.Time

	// TripDeparture is when the current trip was confirmed to have started.
	// Zero when no departure has been confirmed.
	TripDeparture time.Time

	LiveFix    motion.Fix
	LastSample motion.Sample

	// StuckFor is how long the machine has been in DRIVING or
	// PARKING_PENDING.
	StuckFor time.Duration
}

// Verdict is the result of one evaluation.
type Verdict struct {
	Accepted bool   `json:"accepted"`
	Reason   Reason `json:"reason,omitempty"`
}

type guard struct {
	reason Reason
	reject func(c *Chain, in Input) bool
}

// guards run in this order and stop at the first rejection.
var guards = []guard{
	{ReasonNoDeparture, func(_ *Chain, in Input) bool {
		return in.TripDeparture.IsZero() || in.Visit.Arrival.Before(in.TripDeparture)
	}},
	{ReasonDwellTooShort, func(c *Chain, in Input) bool {
		return in.Visit.Dwell(in.Now) < c.params.MinDwell
	}},
	{ReasonVisitStale, func(c *Chain, in Input) bool {
		return in.Now.Sub(in.Visit.Arrival) > c.params.MaxAge
	}},
	{ReasonStillMoving, func(c *Chain, in Input) bool {
		fresh := func(ts time.Time) bool {
			return !ts.IsZero() && in.Now.Sub(ts) <= c.params.LiveFixMaxAge
		}
		if fresh(in.LiveFix.Timestamp) && in.LiveFix.SpeedMps >= c.params.MovingSpeedMps {
			return true
		}
		return fresh(in.LastSample.Timestamp) && in.LastSample.Classification == motion.Automotive
	}},
	{ReasonDuplicate, func(c *Chain, in Input) bool {
		_, dup := c.history.Near(in.Visit.Point(), in.Visit.Arrival, c.params.DuplicateRadiusM, c.params.DuplicateWindow)
		return dup
	}},
	{ReasonHotspot, func(c *Chain, in Input) bool {
		_, hit := c.hotspots.Match(in.Visit.Point(), in.Visit.AccuracyM, in.Now)
		return hit
	}},
	{ReasonNotStuck, func(c *Chain, in Input) bool {
		return in.StuckFor < c.params.StuckThreshold
	}},
}

// Chain is the dwell guard chain.
type Chain struct {
	params   Params
	hotspots *Hotspots
	history  *History
	rec      decisionlog.Recorder
}

// New returns a chain over the given hotspot set and parking history. Nil
// collaborators are replaced with empty ones.
func New(p Params, hotspots *Hotspots, history *History, rec decisionlog.Recorder) *Chain {
	if hotspots == nil {
		hotspots = NewHotspots()
	}
	if history == nil {
		history = NewHistory(0)
	}
	if rec == nil {
		rec = decisionlog.Discard
	}
	return &Chain{params: p, hotspots: hotspots, history: history, rec: rec}
}

// SetParams replaces the thresholds.
func (c *Chain) SetParams(p Params) { c.params = p }

// Hotspots returns the zone set consulted by the chain.
func (c *Chain) Hotspots() *Hotspots { return c.hotspots }

// History returns the confirmed parking history.
func (c *Chain) History() *History { return c.history }

// Evaluate runs the guards in order. Every evaluation is written to the
// decision log with its outcome.
func (c *Chain) Evaluate(in Input) Verdict {
	v := Verdict{Accepted: true}
	for _, g := range guards {
		if g.reject(c, in) {
			v = Verdict{Reason: g.reason}
			break
		}
	}

	outcome := decisionlog.Accepted
	if !v.Accepted {
		outcome = decisionlog.Rejected
		monitoring.Logf("[dwell] visit rejected reason=%s", v.Reason)
	}
	ctx := decisionlog.Fields{
		"lat":        in.Visit.Lat,
		"lng":        in.Visit.Lng,
		"accuracy_m": in.Visit.AccuracyM,
		"dwell_s":    in.Visit.Dwell(in.Now).Seconds(),
		"age_s":      in.Now.Sub(in.Visit.Arrival).Seconds(),
		"stuck_s":    in.StuckFor.Seconds(),
	}
	if !v.Accepted {
		ctx["reason"] = string(v.Reason)
	}
	c.rec.Record(decisionlog.Entry{
		Timestamp: in.Now,
		Component: decisionlog.ComponentDwell,
		Event:     "visit",
		Outcome:   outcome,
		Context:   ctx,
	})
	return v
}
