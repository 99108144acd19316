package camera

import (
	"sort"
	"time"

	"github.com/banshee-data/curbwatch/internal/config"
	"github.com/banshee-data/curbwatch/internal/decisionlog"
	"github.com/banshee-data/curbwatch/internal/geo"
	"github.com/banshee-data/curbwatch/internal/monitoring"
	"github.com/banshee-data/curbwatch/internal/motion"
	"github.com/banshee-data/curbwatch/internal/units"
)

// Params holds the engine thresholds and switches.
type Params struct {
	Enabled         bool
	SpeedEnabled    bool
	RedLightEnabled bool
	Volume          float64

	AccuracyCeilingM float64
	Lookahead        time.Duration
	BaseRadiusM      float64
	MaxRadiusM       float64

	Cooldown         time.Duration
	ClearanceRadiusM float64
	GlobalInterval   time.Duration

	HeadingToleranceDeg float64
	BearingToleranceDeg float64
	HeadingFailOpen     bool

	SpeedMinMps    float64
	RedLightMinMps float64

	// Speed cameras are enforced between these offsets from local
	// midnight. Red-light cameras have no schedule.
	SpeedWindowStart time.Duration
	SpeedWindowEnd   time.Duration
	Location         *time.Location
}

// ParamsFromConfig reads the engine settings from cfg.
func ParamsFromConfig(cfg *config.TuningConfig) Params {
	start, end := cfg.GetSpeedCameraActiveWindow()
	return Params{
		Enabled:             cfg.GetAlertsEnabled(),
		SpeedEnabled:        cfg.GetSpeedAlertsEnabled(),
		RedLightEnabled:     cfg.GetRedLightAlertsEnabled(),
		Volume:              cfg.GetAlertVolume(),
		AccuracyCeilingM:    cfg.GetAccuracyCeilingM(),
		Lookahead:           cfg.GetLookahead(),
		BaseRadiusM:         cfg.GetBaseRadiusM(),
		MaxRadiusM:          cfg.GetMaxRadiusM(),
		Cooldown:            cfg.GetAlertCooldown(),
		ClearanceRadiusM:    cfg.GetClearanceRadiusM(),
		GlobalInterval:      cfg.GetGlobalAlertInterval(),
		HeadingToleranceDeg: cfg.GetHeadingToleranceDeg(),
		BearingToleranceDeg: cfg.GetBearingToleranceDeg(),
		HeadingFailOpen:     cfg.GetHeadingFailOpen(),
		SpeedMinMps:         cfg.GetSpeedCameraMinSpeedMps(),
		RedLightMinMps:      cfg.GetRedLightMinSpeedMps(),
		SpeedWindowStart:    start,
		SpeedWindowEnd:      end,
		Location:            cfg.GetLocation(),
	}
}

// Engine evaluates live fixes against the camera table.
type Engine struct {
	params Params
	table  *Table
	ledger *Ledger
	rec    decisionlog.Recorder
}

// NewEngine returns an engine over table. A nil ledger starts empty.
func NewEngine(p Params, table *Table, ledger *Ledger, rec decisionlog.Recorder) *Engine {
	if ledger == nil {
		ledger = NewLedger()
	}
	if rec == nil {
		rec = decisionlog.Discard
	}
	if table == nil {
		table, _ = NewTable(nil)
	}
	return &Engine{params: p, table: table, ledger: ledger, rec: rec}
}

// SetParams replaces the settings.
func (e *Engine) SetParams(p Params) { e.params = p }

// Params returns the active settings.
func (e *Engine) Params() Params { return e.params }

// SetTable swaps the camera table.
func (e *Engine) SetTable(t *Table) { e.table = t }

// Table returns the camera table.
func (e *Engine) Table() *Table { return e.table }

// Ledger returns the deduplication ledger.
func (e *Engine) Ledger() *Ledger { return e.ledger }

type candidate struct {
	def      Definition
	distance float64
}

// Evaluate runs one live fix through the alert pipeline and returns the
// alert to present, if any. At most one camera fires per fix.
func (e *Engine) Evaluate(fix motion.Fix) (Alert, bool) {
	p := e.params
	at := fix.Timestamp
	if !p.Enabled {
		return Alert{}, false
	}

	pos := fix.Point()
	switch {
	case at.IsZero():
		e.rejectUpdate(fix, ReasonMissingTimestamp)
		return Alert{}, false
	case !pos.Valid():
		e.rejectUpdate(fix, ReasonInvalidPosition)
		return Alert{}, false
	case fix.AccuracyM > p.AccuracyCeilingM:
		e.rejectUpdate(fix, ReasonAccuracy)
		return Alert{}, false
	}

	e.clearDeparted(fix)

	radius := Radius(fix.SpeedMps, p.Lookahead, p.BaseRadiusM, p.MaxRadiusM)
	var passed []candidate
	for _, i := range e.table.Within(pos, radius) {
		def := e.table.At(i)
		dist := geo.Distance(pos, def.Point())
		if reason := e.check(def, fix, dist, radius); reason != "" {
			e.record(fix, def, dist, radius, decisionlog.Rejected, reason)
			continue
		}
		passed = append(passed, candidate{def: def, distance: dist})
	}
	if len(passed) == 0 {
		return Alert{}, false
	}

	sort.SliceStable(passed, func(i, j int) bool {
		if passed[i].distance != passed[j].distance {
			return passed[i].distance < passed[j].distance
		}
		return passed[i].def.ID < passed[j].def.ID
	})
	winner := passed[0]
	for _, c := range passed[1:] {
		e.record(fix, c.def, c.distance, radius, decisionlog.Rejected, ReasonNotNearest)
	}

	if last := e.ledger.LastAlert(); !last.IsZero() && at.Sub(last) < p.GlobalInterval {
		e.record(fix, winner.def, winner.distance, radius, decisionlog.Rejected, ReasonGlobalInterval)
		return Alert{}, false
	}

	e.ledger.Fire(winner.def.ID, at)
	e.record(fix, winner.def, winner.distance, radius, decisionlog.Fired, "")
	monitoring.Logf("[camera] fired id=%s type=%s distance=%.0fm", winner.def.ID, winner.def.Type, winner.distance)

	return Alert{
		CameraID:       winner.def.ID,
		Type:           winner.def.Type,
		Address:        FormatAddress(winner.def.Address),
		DistanceMeters: winner.distance,
		Volume:         p.Volume,
		At:             at,
		Fix:            fix,
	}, true
}

// check applies the per-candidate filters in order and returns the first
// failing reason, or "" when the candidate qualifies.
func (e *Engine) check(def Definition, fix motion.Fix, dist, radius float64) string {
	p := e.params

	if (def.Type == Speed && !p.SpeedEnabled) || (def.Type == RedLight && !p.RedLightEnabled) {
		return ReasonTypeDisabled
	}
	if def.Type == Speed {
		loc := p.Location
		if loc == nil {
			loc = time.UTC
		}
		if !units.InDailyWindow(fix.Timestamp, loc, p.SpeedWindowStart, p.SpeedWindowEnd) {
			return ReasonOutsideSchedule
		}
	}
	if dist > radius {
		return ReasonOutOfRange
	}

	minSpeed := p.SpeedMinMps
	if def.Type == RedLight {
		minSpeed = p.RedLightMinMps
	}
	if fix.SpeedMps < minSpeed {
		return ReasonBelowMinSpeed
	}

	if r, ok := e.ledger.Get(def.ID); ok {
		if fix.Timestamp.Sub(r.LastFiredAt) < p.Cooldown {
			return ReasonCooldown
		}
		if !r.Cleared {
			return ReasonAwaitClearance
		}
	}

	if !fix.HasHeading() {
		if p.HeadingFailOpen {
			return ""
		}
		return ReasonHeadingMismatch
	}
	if len(def.Approaches) > 0 && !matchesApproach(fix.HeadingDeg, def.Approaches, p.HeadingToleranceDeg) {
		return ReasonHeadingMismatch
	}
	bearing := geo.Bearing(fix.Point(), def.Point())
	if geo.AngleDiff(bearing, fix.HeadingDeg) > p.BearingToleranceDeg {
		return ReasonBearingMismatch
	}
	return ""
}

func matchesApproach(heading float64, approaches []geo.Octant, tolerance float64) bool {
	for _, o := range approaches {
		deg, ok := o.Degrees()
		if ok && geo.AngleDiff(heading, deg) <= tolerance {
			return true
		}
	}
	return false
}

// clearDeparted marks ledger records cleared once the fix is beyond the
// clearance radius of their camera, then prunes records whose cooldown has
// also elapsed.
func (e *Engine) clearDeparted(fix motion.Fix) {
	pos := fix.Point()
	for _, id := range e.ledger.Pending() {
		def, ok := e.table.Get(id)
		if !ok {
			e.ledger.MarkCleared(id)
			continue
		}
		dist := geo.Distance(pos, def.Point())
		if dist > e.params.ClearanceRadiusM && e.ledger.MarkCleared(id) {
			e.rec.Record(decisionlog.Entry{
				Timestamp: fix.Timestamp,
				Component: decisionlog.ComponentCamera,
				Event:     "cleared",
				Outcome:   decisionlog.Noted,
				Context:   decisionlog.Fields{"camera_id": id, "distance_m": dist},
			})
		}
	}
	e.ledger.Prune(fix.Timestamp, e.params.Cooldown)
}

func (e *Engine) rejectUpdate(fix motion.Fix, reason string) {
	e.rec.Record(decisionlog.Entry{
		Timestamp: fix.Timestamp,
		Component: decisionlog.ComponentCamera,
		Event:     "update",
		Outcome:   decisionlog.Rejected,
		Context: decisionlog.Fields{
			"reason":     reason,
			"accuracy_m": fix.AccuracyM,
			"lat":        fix.Lat,
			"lng":        fix.Lng,
		},
	})
}

func (e *Engine) record(fix motion.Fix, def Definition, dist, radius float64, outcome, reason string) {
	ctx := decisionlog.Fields{
		"camera_id":   def.ID,
		"type":        string(def.Type),
		"distance_m":  dist,
		"radius_m":    radius,
		"speed_mps":   fix.SpeedMps,
		"heading_deg": fix.HeadingDeg,
	}
	if reason != "" {
		ctx["reason"] = reason
	}
	e.rec.Record(decisionlog.Entry{
		Timestamp: fix.Timestamp,
		Component: decisionlog.ComponentCamera,
		Event:     "candidate",
		Outcome:   outcome,
		Context:   ctx,
	})
}
