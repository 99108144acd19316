// Package engine is the single serialized owner of the detection context. It
// consumes motion signals from one bounded queue per source and routes them
// to the parking state machine, the dwell guard chain, the camera engine and
// the evidence recorder.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
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
	"github.com/banshee-data/curbwatch/internal/timeutil"
)

var (
	// ErrQueueFull is returned by Submit when the source queue is full.
	ErrQueueFull = errors.New("signal queue full")
	// ErrUnknownSignal is returned for signals with an unrecognized kind.
	ErrUnknownSignal = errors.New("unknown signal kind")
)

// Sources lists the per-source queues in the order Run drains them.
var Sources = []motion.Kind{
	motion.KindActivity,
	motion.KindFix,
	motion.KindDevice,
	motion.KindVisit,
	motion.KindLifecycle,
}

// Options configures New. Zero values get defaults.
type Options struct {
	Config        *config.TuningConfig
	Clock         timeutil.Clock
	Recorder      decisionlog.Recorder
	Store         Store
	EvidenceStore evidence.Store
	Listener      Listener
	Cameras       *camera.Table
}

// Engine wires the detection components together.
type Engine struct {
	mu       sync.Mutex
	cfg      *config.TuningConfig
	clock    timeutil.Clock
	rec      decisionlog.Recorder
	store    Store
	listener Listener

	capture  *location.Capture
	machine  *parking.Machine
	chain    *dwell.Chain
	cameras  *camera.Engine
	evidence *evidence.Recorder

	lastSample motion.Sample
	lastFix    motion.Fix

	savedVersion  uint64
	savedSnap     parking.Snapshot
	saved         bool
	savedLedger   []camera.AlertRecord
	hotspotsDirty bool

	queues  map[motion.Kind]chan motion.Signal
	dropped map[motion.Kind]*atomic.Uint64
}

// liveFix answers on-demand location requests with the latest fix, but only
// one stamped at or after the requested instant.
type liveFix struct{ e *Engine }

func (p liveFix) CurrentFix(at time.Time) (motion.Fix, bool) {
	f := p.e.lastFix
	if f.IsZero() || f.Timestamp.Before(at) {
		return motion.Fix{}, false
	}
	return f, true
}

// New builds an engine in IDLE. Call Rehydrate before Run to restore a
// persisted context.
func New(opts Options) *Engine {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultTuningConfig()
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	rec := opts.Recorder
	if rec == nil {
		rec = decisionlog.Discard
	}
	listener := opts.Listener
	if listener == nil {
		listener = ListenerFuncs{}
	}

	e := &Engine{
		cfg:      cfg,
		clock:    clock,
		rec:      rec,
		store:    opts.Store,
		listener: listener,
		queues:   make(map[motion.Kind]chan motion.Signal, len(Sources)),
		dropped:  make(map[motion.Kind]*atomic.Uint64, len(Sources)),
	}
	for _, k := range Sources {
		e.queues[k] = make(chan motion.Signal, cfg.GetQueueSize())
		e.dropped[k] = new(atomic.Uint64)
	}

	e.capture = location.New(cfg.GetLocationStaleness(), liveFix{e})
	e.machine = parking.New(parking.ParamsFromConfig(cfg), e.capture, rec)
	e.chain = dwell.New(dwell.ParamsFromConfig(cfg), dwell.NewHotspots(), dwell.NewHistory(cfg.GetParkingHistoryLen()), rec)
	e.cameras = camera.NewEngine(camera.ParamsFromConfig(cfg), opts.Cameras, nil, rec)
	e.evidence = evidence.NewRecorder(evidence.ParamsFromConfig(cfg), opts.EvidenceStore, rec)
	return e
}

// Submit enqueues sig on its source queue without blocking.
func (e *Engine) Submit(sig motion.Signal) error {
	q, ok := e.queues[sig.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSignal, sig.Kind)
	}
	select {
	case q <- sig:
		return nil
	default:
		e.dropped[sig.Kind].Add(1)
		return fmt.Errorf("%s: %w", sig.Kind, ErrQueueFull)
	}
}

// SubmitSample queues an activity sample.
func (e *Engine) SubmitSample(s motion.Sample) error {
	return e.Submit(motion.ActivitySignal(s))
}

// SubmitFix queues a location fix.
func (e *Engine) SubmitFix(f motion.Fix) error {
	return e.Submit(motion.FixSignal(f))
}

// SubmitDevice queues a paired-device connect or disconnect.
func (e *Engine) SubmitDevice(d motion.DeviceEvent) error {
	return e.Submit(motion.DeviceSignal(d))
}

// SubmitVisit queues a dwell visit for the guard chain.
func (e *Engine) SubmitVisit(v motion.Visit) error {
	return e.Submit(motion.VisitSignal(v))
}

// SubmitLifecycle queues an app lifecycle event.
func (e *Engine) SubmitLifecycle(l motion.Lifecycle) error {
	return e.Submit(motion.LifecycleSignal(l))
}

// Dropped returns how many signals each source lost to a full queue.
func (e *Engine) Dropped() map[motion.Kind]uint64 {
	out := make(map[motion.Kind]uint64, len(e.dropped))
	for k, c := range e.dropped {
		out[k] = c.Load()
	}
	return out
}

// Run consumes the source queues until ctx is done. Signals from one source
// are applied in arrival order; a ticker re-evaluates deadlines when the
// sources are quiet.
func (e *Engine) Run(ctx context.Context) error {
	ticker := e.clock.NewTicker(e.cfg.GetTickInterval())
	defer ticker.Stop()

	monitoring.Logf("[engine] running state=%s", e.State())
	for {
		var sig motion.Signal
		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.persistLocked(e.clock.Now())
			e.mu.Unlock()
			return nil
		case now := <-ticker.C():
			e.Tick(now)
			continue
		case sig = <-e.queues[motion.KindActivity]:
		case sig = <-e.queues[motion.KindFix]:
		case sig = <-e.queues[motion.KindDevice]:
		case sig = <-e.queues[motion.KindVisit]:
		case sig = <-e.queues[motion.KindLifecycle]:
		}
		if err := e.Step(sig); err != nil {
			monitoring.Logf("[engine] step %s: %v", sig.Kind, err)
		}
	}
}

// Step applies one signal synchronously. Tests and replay drive the engine
// through Step directly.
func (e *Engine) Step(sig motion.Signal) error {
	e.mu.Lock()
	notices, err := e.stepLocked(sig)
	e.mu.Unlock()
	e.notify(notices)
	return err
}

func (e *Engine) stepLocked(sig motion.Signal) ([]notice, error) {
	var (
		events  []parking.Event
		notices []notice
	)
	at := sig.Timestamp()

	switch sig.Kind {
	case motion.KindActivity:
		s := *sig.Sample
		e.lastSample = s
		e.evidence.AddSample(s)
		events = e.machine.HandleSample(s)

	case motion.KindFix:
		f := *sig.Fix
		if f.Point().Valid() && !f.IsZero() {
			e.lastFix = f
			e.capture.RecordFix(f, e.machine.State() == parking.Driving)
			e.evidence.AddFix(f)
		}
		events = e.machine.Tick(at)
		if alert, ok := e.evaluateCamera(f); ok {
			e.evidence.Capture(alert)
			a := alert
			notices = append(notices, notice{alert: &a})
		}

	case motion.KindDevice:
		events = e.machine.HandleDevice(*sig.Device)

	case motion.KindVisit:
		events = e.handleVisit(*sig.Visit)
		at = e.clock.Now()

	case motion.KindLifecycle:
		events = e.handleLifecycle(*sig.Lifecycle)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignal, sig.Kind)
	}

	notices = append(e.record(events), notices...)
	e.persistLocked(at)
	return notices, nil
}

// evaluateCamera runs the fix through the camera engine when the vehicle is
// moving, by classification or by speed.
func (e *Engine) evaluateCamera(f motion.Fix) (camera.Alert, bool) {
	moving := e.lastSample.Classification == motion.Automotive || f.SpeedMps >= e.cfg.GetCameraMovingSpeedMps()
	if !moving {
		return camera.Alert{}, false
	}
	return e.cameras.Evaluate(f)
}

func (e *Engine) handleVisit(v motion.Visit) []parking.Event {
	now := e.clock.Now()
	verdict := e.chain.Evaluate(dwell.Input{
		Visit:         v,
		Now:           now,
		TripDeparture: e.machine.DriveStartedAt(),
		LiveFix:       e.lastFix,
		LastSample:    e.lastSample,
		StuckFor:      e.machine.StuckFor(now),
	})
	if !verdict.Accepted {
		return nil
	}
	events, err := e.machine.ConfirmParked(v, now)
	if err != nil {
		monitoring.Logf("[engine] dwell confirmation refused: %v", err)
	}
	return events
}

func (e *Engine) handleLifecycle(l motion.Lifecycle) []parking.Event {
	switch l.Kind {
	case motion.ColdStart:
		snap := e.machine.Snapshot()
		return e.machine.Rehydrate(&snap, l.Timestamp)
	case motion.Resume, motion.Foreground:
		return e.machine.Tick(l.Timestamp)
	}
	return nil
}

// record turns applied transitions into listener notices and parking
// history entries.
func (e *Engine) record(events []parking.Event) []notice {
	var out []notice
	for i := range events {
		ev := events[i]
		switch ev.To {
		case parking.Driving:
			if ev.From == parking.Idle || ev.From == parking.Parked {
				out = append(out, notice{driving: &ev})
			}
		case parking.Parked:
			out = append(out, notice{parked: &ev})
			if ev.Location.Found() {
				e.chain.History().Add(dwell.Parking{At: ev.At, Point: ev.Location.Fix.Point()})
			}
		}
		monitoring.Logf("[engine] %s -> %s (%s) v%d", ev.From, ev.To, ev.Trigger, ev.Version)
	}
	return out
}

func (e *Engine) notify(notices []notice) {
	for _, n := range notices {
		n.deliver(e.listener)
	}
}

// Tick re-evaluates deadlines and expires hotspots and evidence at now.
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	events := e.machine.Tick(now)
	if e.chain.Hotspots().Prune(now) > 0 {
		e.hotspotsDirty = true
	}
	e.evidence.Prune(now)
	notices := e.record(events)
	e.persistLocked(now)
	e.mu.Unlock()
	e.notify(notices)
}

// Rehydrate restores the persisted context and recomputes timers against
// now. Without a store, or with nothing saved, the engine cold-starts in
// IDLE.
func (e *Engine) Rehydrate(now time.Time) error {
	e.mu.Lock()
	notices, err := e.rehydrateLocked(now)
	e.mu.Unlock()
	e.notify(notices)
	return err
}

func (e *Engine) rehydrateLocked(now time.Time) ([]notice, error) {
	var (
		ctx     Context
		found   bool
		version uint64
		err     error
	)
	if e.store != nil {
		version, found, err = e.store.LoadState(stateKey, &ctx)
		if err != nil {
			monitoring.Fallback.Add("engine", "load state", err)
			// cold start, but keep the stored version so the next save
			// replaces the unreadable row
			found = false
			e.savedVersion = version
		}
	}

	var events []parking.Event
	if found {
		e.savedVersion = version
		e.capture.Restore(ctx.Location)
		e.lastSample = ctx.LastSample
		e.lastFix = ctx.LastFix
		for _, p := range ctx.History {
			e.chain.History().Add(p)
		}
		events = e.machine.Rehydrate(&ctx.Parking, now)
	} else {
		events = e.machine.Rehydrate(nil, now)
	}

	var loadErr error
	if e.store != nil {
		records, err := e.store.LoadAlertLedger()
		if err != nil {
			loadErr = errors.Join(loadErr, fmt.Errorf("load alert ledger: %w", err))
		} else {
			e.cameras.Ledger().Restore(records, ctx.LastAlert)
			e.savedLedger = e.cameras.Ledger().Records()
		}
		zones, err := e.store.LoadHotspots()
		if err != nil {
			loadErr = errors.Join(loadErr, fmt.Errorf("load hotspots: %w", err))
		}
		for _, z := range zones {
			e.chain.Hotspots().Add(z)
		}
	}
	if err := e.evidence.Load(); err != nil {
		loadErr = errors.Join(loadErr, fmt.Errorf("load evidence: %w", err))
	}

	notices := e.record(events)
	e.persistLocked(now)
	monitoring.Logf("[engine] rehydrated state=%s version=%d restored=%t", e.machine.State(), e.machine.Snapshot().Version, found)
	return notices, loadErr
}

// persistLocked saves whatever changed since the last save. Failures go to
// the fallback ring and never stop detection.
func (e *Engine) persistLocked(at time.Time) {
	if e.store == nil {
		return
	}

	snap := e.machine.Snapshot()
	if !e.saved || snap != e.savedSnap {
		ctx := Context{
			Parking:    snap,
			Location:   e.capture.Save(),
			LastSample: e.lastSample,
			LastFix:    e.lastFix,
			LastAlert:  e.cameras.Ledger().LastAlert(),
			History:    e.chain.History().All(),
			SavedAt:    at,
		}
		if err := e.store.SaveState(stateKey, ctx, e.savedVersion, snap.Version, at); err != nil {
			monitoring.Fallback.Add("engine", fmt.Sprintf("save state v%d", snap.Version), err)
			monitoring.Logf("[engine] save state failed: %v", err)
		} else {
			e.savedVersion = snap.Version
			e.savedSnap = snap
			e.saved = true
		}
	}

	if records := e.cameras.Ledger().Records(); !slices.Equal(records, e.savedLedger) {
		if err := e.store.ReplaceAlertLedger(e.cameras.Table(), records); err != nil {
			monitoring.Fallback.Add("engine", "save alert ledger", err)
		} else {
			e.savedLedger = records
		}
	}

	if e.hotspotsDirty {
		if err := e.store.ReplaceHotspots(e.chain.Hotspots().All()); err != nil {
			monitoring.Fallback.Add("engine", "save hotspots", err)
		} else {
			e.hotspotsDirty = false
		}
	}
}
