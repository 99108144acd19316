package engine

import (
	"fmt"
	"time"

	"github.com/banshee-data/curbwatch/internal/camera"
	"github.com/banshee-data/curbwatch/internal/config"
	"github.com/banshee-data/curbwatch/internal/decisionlog"
	"github.com/banshee-data/curbwatch/internal/dwell"
	"github.com/banshee-data/curbwatch/internal/evidence"
	"github.com/banshee-data/curbwatch/internal/location"
	"github.com/banshee-data/curbwatch/internal/monitoring"
	"github.com/banshee-data/curbwatch/internal/motion"
	"github.com/banshee-data/curbwatch/internal/parking"
)

// Status is a point-in-time view of the engine for the API.
type Status struct {
	State          parking.State          `json:"state"`
	Detection      parking.Snapshot       `json:"detection"`
	Location       location.Snapshot      `json:"location"`
	LastSample     motion.Sample          `json:"last_sample"`
	LastFix        motion.Fix             `json:"last_fix"`
	Cameras        int                    `json:"cameras"`
	PendingAlerts  []string               `json:"pending_clearance,omitempty"`
	Hotspots       []dwell.Hotspot        `json:"hotspots,omitempty"`
	EvidenceQueued int                    `json:"evidence_queued"`
	EvidenceLost   uint64                 `json:"evidence_dropped"`
	Dropped        map[motion.Kind]uint64 `json:"dropped"`
	FallbackLines  int                    `json:"fallback_lines"`
}

// State returns the current detection state.
func (e *Engine) State() parking.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.State()
}

// Status returns a view of the engine at now.
func (e *Engine) Status(now time.Time) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		State:          e.machine.State(),
		Detection:      e.machine.Snapshot(),
		Location:       e.capture.BestAvailable(location.OnDemand, now),
		LastSample:     e.lastSample,
		LastFix:        e.lastFix,
		Cameras:        e.cameras.Table().Len(),
		PendingAlerts:  e.cameras.Ledger().Pending(),
		Hotspots:       e.chain.Hotspots().All(),
		EvidenceQueued: e.evidence.Len(),
		EvidenceLost:   e.evidence.Dropped(),
		Dropped:        e.Dropped(),
		FallbackLines:  monitoring.Fallback.Len(),
	}
}

// Config returns the active configuration. Callers must not modify it.
func (e *Engine) Config() *config.TuningConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// UpdateConfig merges patch over the active configuration and pushes the
// result to every component. Queue sizes, the tick interval and the ring
// and history sizes only change on restart.
func (e *Engine) UpdateConfig(patch *config.TuningConfig) (*config.TuningConfig, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	merged, err := e.cfg.Merge(patch)
	if err != nil {
		return nil, fmt.Errorf("update config: %w", err)
	}
	e.cfg = merged
	e.capture.SetStaleness(merged.GetLocationStaleness())
	e.machine.SetParams(parking.ParamsFromConfig(merged))
	e.chain.SetParams(dwell.ParamsFromConfig(merged))
	e.cameras.SetParams(camera.ParamsFromConfig(merged))
	e.evidence.SetParams(evidence.ParamsFromConfig(merged))

	now := e.clock.Now()
	e.rec.Record(decisionlog.Entry{
		Timestamp: now,
		Component: decisionlog.ComponentEngine,
		Event:     "config",
		Outcome:   decisionlog.Noted,
		Context: decisionlog.Fields{
			"alerts_enabled":  merged.GetAlertsEnabled(),
			"speed_enabled":   merged.GetSpeedAlertsEnabled(),
			"red_light":       merged.GetRedLightAlertsEnabled(),
			"volume":          merged.GetAlertVolume(),
			"min_driving_s":   merged.GetMinDrivingDuration().Seconds(),
			"debounce_s":      merged.GetDebounceWindow().Seconds(),
			"accuracy_ceil_m": merged.GetAccuracyCeilingM(),
		},
	})
	monitoring.Logf("[engine] configuration updated")
	return merged, nil
}

// NotParked applies the manual "not parked" override at the current time:
// a pending or confirmed parking is reset to IDLE and the location is locked
// out so the same spot cannot immediately re-trigger. The lockout zone is
// returned; ok is false when no location was available to lock out.
func (e *Engine) NotParked() (zone dwell.Hotspot, ok bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	loc := e.capture.BestAvailable(location.StopStart, now)

	state := e.machine.State()
	if state == parking.Pending || state == parking.Parked {
		if _, err := e.machine.Reset(parking.TriggerNotParked, now); err != nil {
			return dwell.Hotspot{}, false, err
		}
	}

	ctx := decisionlog.Fields{"state": string(state), "source": string(loc.Source)}
	if loc.Found() {
		zone = e.chain.Hotspots().Lockout(loc.Fix.Point(), now, e.cfg.GetLockoutRadiusM(), e.cfg.GetLockoutDuration())
		e.hotspotsDirty = true
		ok = true
		ctx["lat"] = zone.Zone.Center.Lat
		ctx["lng"] = zone.Zone.Center.Lng
		ctx["radius_m"] = zone.Zone.RadiusM
	}
	e.rec.Record(decisionlog.Entry{
		Timestamp: now,
		Component: decisionlog.ComponentEngine,
		Event:     "not_parked",
		Outcome:   decisionlog.Accepted,
		Context:   ctx,
	})
	e.persistLocked(now)
	return zone, ok, nil
}

// Reset forces IDLE on an explicit user request.
func (e *Engine) Reset() (parking.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	ev, err := e.machine.Reset(parking.TriggerReset, now)
	if err != nil {
		return parking.Event{}, err
	}
	e.persistLocked(now)
	return ev, nil
}

// SetCameras replaces the camera table. Ledger records for cameras that
// are gone are cleared on the next fix.
func (e *Engine) SetCameras(t *camera.Table) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cameras.SetTable(t)
	monitoring.Logf("[engine] camera table replaced: %d cameras", t.Len())
}

// Evidence returns the unexpired evidence queue.
func (e *Engine) Evidence(now time.Time) []evidence.Bundle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evidence.Queue(now)
}

// DrainEvidence hands the queue to the uploader and empties it.
func (e *Engine) DrainEvidence(now time.Time) []evidence.Bundle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evidence.Drain(now)
}

// Cameras returns the active camera table.
func (e *Engine) Cameras() *camera.Table {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cameras.Table()
}
