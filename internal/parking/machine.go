package parking

import (
	"fmt"
	"time"

	"github.com/banshee-data/curbwatch/internal/config"
	"github.com/banshee-data/curbwatch/internal/decisionlog"
	"github.com/banshee-data/curbwatch/internal/location"
	"github.com/banshee-data/curbwatch/internal/monitoring"
	"github.com/banshee-data/curbwatch/internal/motion"
	"github.com/banshee-data/curbwatch/internal/timeutil"
)

// Params holds the machine thresholds.
type Params struct {
	MinDrivingDuration time.Duration
	Debounce           time.Duration
	MinDriveBeforePark time.Duration
	DepartureDuration  time.Duration
	ColdStartMaxAge    time.Duration
}

// ParamsFromConfig reads the thresholds from cfg, falling back to defaults.
func ParamsFromConfig(cfg *config.TuningConfig) Params {
	return Params{
		MinDrivingDuration: cfg.GetMinDrivingDuration(),
		Debounce:           cfg.GetDebounceWindow(),
		MinDriveBeforePark: cfg.GetMinDriveBeforePark(),
		DepartureDuration:  cfg.GetDepartureDuration(),
		ColdStartMaxAge:    cfg.GetColdStartMaxAge(),
	}
}

// Snapshot is the persisted detection state. Deadlines are absolute times so
// they can be recomputed after the process is suspended or killed.
type Snapshot struct {
	State          State     `json:"state"`
	Version        uint64    `json:"version"`
	LastTransition time.Time `json:"last_transition"`
	LastTrigger    Trigger   `json:"last_trigger,omitempty"`

	// LastClass is the most recent definite classification. Unknown samples
	// do not overwrite it.
	LastClass motion.Classification `json:"last_class,omitempty"`

	// Automotive candidate: IDLE waiting for a sustained run, or PARKED
	// waiting for a sustained departure.
	AutoRunStart  time.Time `json:"auto_run_start,omitempty"`
	DriveDeadline time.Time `json:"drive_deadline,omitempty"`

	DriveStartedAt  time.Time `json:"drive_started_at,omitempty"`
	StillSince      time.Time `json:"still_since,omitempty"`
	PendingDeadline time.Time `json:"pending_deadline,omitempty"`
	ParkedAt        time.Time `json:"parked_at,omitempty"`

	// DepartureHint is set when the paired device disconnected mid-drive.
	// The next stillness then parks without waiting for the debounce.
	DepartureHint   bool      `json:"departure_hint,omitempty"`
	DeviceConnected bool      `json:"device_connected,omitempty"`
	DeviceDropAt    time.Time `json:"device_drop_at,omitempty"`
}

// Event is emitted for every applied transition.
type Event struct {
	From     State             `json:"from"`
	To       State             `json:"to"`
	Trigger  Trigger           `json:"trigger"`
	At       time.Time         `json:"at"`
	Version  uint64            `json:"version"`
	Location location.Snapshot `json:"location"`
}

// Machine is the parking state machine. It is not safe for concurrent use;
// the engine serializes every call.
type Machine struct {
	params  Params
	snap    Snapshot
	capture *location.Capture
	rec     decisionlog.Recorder

	// visitLoc overrides the location of dwell-confirmed transitions.
	visitLoc *location.Snapshot
}

// New returns a machine in IDLE.
func New(p Params, capture *location.Capture, rec decisionlog.Recorder) *Machine {
	if rec == nil {
		rec = decisionlog.Discard
	}
	if capture == nil {
		capture = location.New(2*time.Minute, nil)
	}
	return &Machine{
		params:  p,
		snap:    Snapshot{State: Idle},
		capture: capture,
		rec:     rec,
	}
}

// SetParams replaces the thresholds. Deadlines already scheduled keep their
// original values.
func (m *Machine) SetParams(p Params) { m.params = p }

// Params returns the active thresholds.
func (m *Machine) Params() Params { return m.params }

// State returns the current state.
func (m *Machine) State() State { return m.snap.State }

// Snapshot returns a copy of the persisted state.
func (m *Machine) Snapshot() Snapshot { return m.snap }

// StuckFor returns how long the machine has been in DRIVING or
// PARKING_PENDING as of now, and zero in any other state.
func (m *Machine) StuckFor(now time.Time) time.Duration {
	switch m.snap.State {
	case Driving, Pending:
		if m.snap.LastTransition.IsZero() || now.Before(m.snap.LastTransition) {
			return 0
		}
		return now.Sub(m.snap.LastTransition)
	}
	return 0
}

// DriveStartedAt returns when the current or last trip began.
func (m *Machine) DriveStartedAt() time.Time { return m.snap.DriveStartedAt }

// HandleSample consumes one activity classification.
func (m *Machine) HandleSample(s motion.Sample) []Event {
	at := s.Timestamp
	events := m.advance(at)

	switch {
	case s.Classification == motion.Automotive:
		events = append(events, m.onAutomotive(at)...)
	case s.Classification.IsStill():
		events = append(events, m.onStill(s.Classification, at)...)
	default:
		// unknown keeps the previous classification in force
		return events
	}
	return append(events, m.advance(at)...)
}

func (m *Machine) onAutomotive(at time.Time) []Event {
	m.snap.LastClass = motion.Automotive
	switch m.snap.State {
	case Idle, Parked:
		if m.snap.AutoRunStart.IsZero() {
			hold := m.params.MinDrivingDuration
			if m.snap.State == Parked {
				hold = m.params.DepartureDuration
			}
			m.snap.AutoRunStart = at
			m.snap.DriveDeadline = timeutil.Deadline(at, hold)
			m.note(at, "drive_candidate", decisionlog.Fields{
				"state":    string(m.snap.State),
				"deadline": m.snap.DriveDeadline.UTC().Format(time.RFC3339Nano),
			})
		}
	case Pending:
		ev, err := m.Transition(Driving, TriggerAutomotiveResumed, at)
		if err == nil {
			return []Event{ev}
		}
	}
	return nil
}

func (m *Machine) onStill(c motion.Classification, at time.Time) []Event {
	m.snap.LastClass = c
	switch m.snap.State {
	case Idle, Parked:
		if !m.snap.AutoRunStart.IsZero() {
			m.note(at, "drive_candidate_cancelled", decisionlog.Fields{
				"state":   string(m.snap.State),
				"held_ms": at.Sub(m.snap.AutoRunStart).Milliseconds(),
			})
			m.clearCandidate()
		}
	case Driving:
		ev, err := m.Transition(Pending, TriggerStillnessBegan, at)
		if err == nil {
			return []Event{ev}
		}
	}
	return nil
}

// HandleDevice consumes a paired-device connection change.
func (m *Machine) HandleDevice(d motion.DeviceEvent) []Event {
	at := d.Timestamp
	events := m.advance(at)

	if !d.Connected {
		m.snap.DeviceConnected = false
		m.snap.DeviceDropAt = at
		switch m.snap.State {
		case Driving, Pending:
			m.snap.DepartureHint = true
			m.note(at, "device_disconnected", decisionlog.Fields{"state": string(m.snap.State), "device": d.DeviceID})
			if m.snap.State == Pending {
				m.snap.PendingDeadline = at
			}
		}
		return append(events, m.advance(at)...)
	}

	dropped := !m.snap.DeviceDropAt.IsZero()
	m.snap.DeviceConnected = true
	if m.snap.State == Parked && dropped {
		ev, err := m.Transition(Driving, TriggerDeviceDeparture, at)
		if err == nil {
			m.snap.DriveStartedAt = at
			events = append(events, ev)
		}
	}
	m.snap.DeviceDropAt = time.Time{}
	return events
}

// Tick re-evaluates pending deadlines against the wall clock. The last
// classification is assumed to still hold.
func (m *Machine) Tick(now time.Time) []Event {
	return m.advance(now)
}

// advance fires every deadline at or before now. Transitions carry the
// deadline as their timestamp, not now.
func (m *Machine) advance(now time.Time) []Event {
	var events []Event
	switch m.snap.State {
	case Pending:
		if d := m.snap.PendingDeadline; !d.IsZero() && timeutil.Expired(d, now) {
			events = append(events, m.settlePending(d)...)
		}
	case Idle, Parked:
		d := m.snap.DriveDeadline
		if d.IsZero() || m.snap.LastClass != motion.Automotive || !timeutil.Expired(d, now) {
			break
		}
		trigger := TriggerSustainedAutomotive
		if m.snap.State == Parked {
			trigger = TriggerAutomotiveResumed
		}
		runStart := m.snap.AutoRunStart
		ev, err := m.Transition(Driving, trigger, d)
		if err == nil {
			m.snap.DriveStartedAt = runStart
			events = append(events, ev)
		}
	}
	return events
}

// settlePending resolves PARKING_PENDING once the debounce has elapsed:
// PARKED when the preceding drive was long enough, IDLE otherwise.
func (m *Machine) settlePending(at time.Time) []Event {
	drive := m.snap.StillSince.Sub(m.snap.DriveStartedAt)
	if m.snap.DriveStartedAt.IsZero() || drive < m.params.MinDriveBeforePark {
		ev, err := m.Transition(Idle, TriggerDriveTooShort, at)
		if err != nil {
			return nil
		}
		return []Event{ev}
	}
	ev, err := m.Transition(Parked, TriggerDebounceElapsed, at)
	if err != nil {
		return nil
	}
	return []Event{ev}
}

// ConfirmParked applies a corrective confirmation from an accepted dwell
// visit. From DRIVING it passes through PARKING_PENDING so both rows of the
// table are exercised.
func (m *Machine) ConfirmParked(v motion.Visit, at time.Time) ([]Event, error) {
	if m.snap.State != Driving && m.snap.State != Pending {
		m.reject(m.snap.State, Parked, TriggerDwellConfirmed, at)
		return nil, fmt.Errorf("confirm parked from %s: %w", m.snap.State, ErrInvalidTransition)
	}
	loc := location.FromVisit(v, at)
	m.visitLoc = &loc
	defer func() { m.visitLoc = nil }()

	var events []Event
	if m.snap.State == Driving {
		ev, err := m.Transition(Pending, TriggerDwellConfirmed, at)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	ev, err := m.Transition(Parked, TriggerDwellConfirmed, at)
	if err != nil {
		return events, err
	}
	return append(events, ev), nil
}

// Reset forces IDLE. trigger must be one of the IDLE triggers.
func (m *Machine) Reset(trigger Trigger, at time.Time) (Event, error) {
	return m.Transition(Idle, trigger, at)
}

// Transition applies one row of the table. Invalid requests are logged and
// rejected with ErrInvalidTransition, leaving the state unchanged.
func (m *Machine) Transition(to State, trigger Trigger, at time.Time) (Event, error) {
	from := m.snap.State
	if !Allowed(from, to, trigger) {
		m.reject(from, to, trigger, at)
		return Event{}, fmt.Errorf("%s -> %s on %s: %w", from, to, trigger, ErrInvalidTransition)
	}

	m.apply(from, to, at)
	m.snap.State = to
	m.snap.Version++
	m.snap.LastTransition = at
	m.snap.LastTrigger = trigger

	ev := Event{From: from, To: to, Trigger: trigger, At: at, Version: m.snap.Version, Location: m.locate(to, at)}
	m.rec.Record(decisionlog.Entry{
		Timestamp: at,
		Component: decisionlog.ComponentParking,
		Event:     "transition",
		Outcome:   decisionlog.Accepted,
		Context: decisionlog.Fields{
			"from":     string(from),
			"to":       string(to),
			"trigger":  string(trigger),
			"version":  ev.Version,
			"source":   string(ev.Location.Source),
			"lat":      ev.Location.Fix.Lat,
			"lng":      ev.Location.Fix.Lng,
			"degraded": ev.Location.Degraded,
		},
	})
	return ev, nil
}

// apply updates the bookkeeping fields for entering to.
func (m *Machine) apply(from, to State, at time.Time) {
	switch to {
	case Driving:
		m.clearCandidate()
		m.snap.StillSince = time.Time{}
		m.snap.PendingDeadline = time.Time{}
		m.snap.DepartureHint = false
		if from != Pending {
			m.snap.ParkedAt = time.Time{}
		}
		m.capture.ClearStillness()
	case Pending:
		m.snap.StillSince = at
		debounce := m.params.Debounce
		if m.snap.DepartureHint {
			debounce = 0
		}
		m.snap.PendingDeadline = timeutil.Deadline(at, debounce)
		m.capture.MarkStillness(at)
	case Parked:
		m.snap.PendingDeadline = time.Time{}
		m.snap.ParkedAt = at
		m.snap.DepartureHint = false
		m.clearCandidate()
	case Idle:
		m.clearCandidate()
		m.snap.StillSince = time.Time{}
		m.snap.PendingDeadline = time.Time{}
		m.snap.DriveStartedAt = time.Time{}
		m.snap.ParkedAt = time.Time{}
		m.snap.DepartureHint = false
		m.capture.ClearStillness()
	}
}

func (m *Machine) locate(to State, at time.Time) location.Snapshot {
	if m.visitLoc != nil {
		return *m.visitLoc
	}
	switch to {
	case Driving:
		return m.capture.BestAvailable(location.DriveStart, at)
	case Pending, Parked:
		return m.capture.BestAvailable(location.StopStart, at)
	default:
		return m.capture.BestAvailable(location.OnDemand, at)
	}
}

func (m *Machine) clearCandidate() {
	m.snap.AutoRunStart = time.Time{}
	m.snap.DriveDeadline = time.Time{}
}

func (m *Machine) reject(from, to State, trigger Trigger, at time.Time) {
	monitoring.Logf("[parking] rejected %s -> %s trigger=%s", from, to, trigger)
	m.rec.Record(decisionlog.Entry{
		Timestamp: at,
		Component: decisionlog.ComponentParking,
		Event:     "transition",
		Outcome:   decisionlog.Rejected,
		Context: decisionlog.Fields{
			"from":    string(from),
			"to":      string(to),
			"trigger": string(trigger),
			"reason":  "invalid_transition",
		},
	})
}

func (m *Machine) note(at time.Time, event string, ctx decisionlog.Fields) {
	m.rec.Record(decisionlog.Entry{
		Timestamp: at,
		Component: decisionlog.ComponentParking,
		Event:     event,
		Outcome:   decisionlog.Noted,
		Context:   ctx,
	})
}

// Rehydrate restores a persisted snapshot after a relaunch and recomputes
// the pending timers against now. A missing snapshot, or one whose last
// transition is older than the cold-start age while mid-trip, resets to
// IDLE. A debounce that expired while suspended settles at its deadline. An
// automotive candidate whose deadline passed while suspended is dropped,
// since nothing shows the run continued.
func (m *Machine) Rehydrate(s *Snapshot, now time.Time) []Event {
	if s == nil || !s.State.Valid() {
		m.snap = Snapshot{State: Idle}
		ev, err := m.Transition(Idle, TriggerColdStart, now)
		if err != nil {
			return nil
		}
		return []Event{ev}
	}

	m.snap = *s
	m.note(now, "rehydrate", decisionlog.Fields{
		"state":   string(s.State),
		"version": s.Version,
		"age_ms":  now.Sub(s.LastTransition).Milliseconds(),
	})

	var events []Event
	if m.snap.State == Pending && !m.snap.PendingDeadline.IsZero() && timeutil.Expired(m.snap.PendingDeadline, now) {
		events = append(events, m.settlePending(m.snap.PendingDeadline)...)
	}
	if !m.snap.DriveDeadline.IsZero() && timeutil.Expired(m.snap.DriveDeadline, now) {
		m.note(now, "drive_candidate_expired", decisionlog.Fields{"state": string(m.snap.State)})
		m.clearCandidate()
	}
	switch m.snap.State {
	case Driving, Pending:
		if now.Sub(m.snap.LastTransition) > m.params.ColdStartMaxAge {
			if ev, err := m.Transition(Idle, TriggerColdStart, now); err == nil {
				events = append(events, ev)
			}
		}
	}
	return events
}
