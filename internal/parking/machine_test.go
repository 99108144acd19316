package parking

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/curbwatch/internal/decisionlog"
	"github.com/banshee-data/curbwatch/internal/location"
	"github.com/banshee-data/curbwatch/internal/motion"
)

var t0 = time.Date(2026, 5, 4, 17, 30, 0, 0, time.UTC)

func defaultParams() Params {
	return Params{
		MinDrivingDuration: 60 * time.Second,
		Debounce:           5 * time.Second,
		MinDriveBeforePark: 60 * time.Second,
		DepartureDuration:  10 * time.Second,
		ColdStartMaxAge:    2 * time.Hour,
	}
}

func sample(offset time.Duration, c motion.Classification) motion.Sample {
	return motion.Sample{Timestamp: t0.Add(offset), Classification: c, Confidence: motion.High}
}

// feed sends one sample of class c every second in [from, to).
func feed(m *Machine, from, to time.Duration, c motion.Classification) []Event {
	var events []Event
	for off := from; off < to; off += time.Second {
		events = append(events, m.HandleSample(sample(off, c))...)
	}
	return events
}

func states(events []Event) []State {
	out := make([]State, len(events))
	for i, e := range events {
		out[i] = e.To
	}
	return out
}

func TestTableRows(t *testing.T) {
	cases := []struct {
		from, to State
		trigger  Trigger
		want     bool
	}{
		{Idle, Driving, TriggerSustainedAutomotive, true},
		{Driving, Pending, TriggerStillnessBegan, true},
		{Pending, Parked, TriggerDebounceElapsed, true},
		{Pending, Driving, TriggerAutomotiveResumed, true},
		{Parked, Driving, TriggerAutomotiveResumed, true},
		{Parked, Driving, TriggerDeviceDeparture, true},
		{Parked, Idle, TriggerReset, true},
		{Driving, Idle, TriggerColdStart, true},
		{Pending, Idle, TriggerDriveTooShort, true},
		{Idle, Parked, TriggerDebounceElapsed, false},
		{Idle, Parked, TriggerDwellConfirmed, false},
		{Idle, Pending, TriggerStillnessBegan, false},
		{Driving, Parked, TriggerDebounceElapsed, false},
		{Parked, Pending, TriggerStillnessBegan, false},
		{Idle, Driving, TriggerDeviceDeparture, false},
	}
	for _, tc := range cases {
		if got := Allowed(tc.from, tc.to, tc.trigger); got != tc.want {
			t.Errorf("Allowed(%s, %s, %s) = %v, want %v", tc.from, tc.to, tc.trigger, got, tc.want)
		}
	}
	assert.Len(t, Edges(), 24)
}

func TestSustainedDriveThenStop(t *testing.T) {
	mem := &decisionlog.Memory{}
	m := New(defaultParams(), nil, mem)

	var events []Event
	events = append(events, feed(m, 0, 70*time.Second, motion.Automotive)...)
	events = append(events, feed(m, 71*time.Second, 90*time.Second, motion.Stationary)...)

	if diff := cmp.Diff([]State{Driving, Pending, Parked}, states(events)); diff != "" {
		t.Fatalf("state sequence mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, t0.Add(60*time.Second), events[0].At, "drive confirmed at the end of the sustained run")
	assert.Equal(t, t0.Add(71*time.Second), events[1].At)
	assert.Equal(t, t0.Add(76*time.Second), events[2].At, "parked exactly at the debounce deadline")
	assert.Equal(t, uint64(3), m.Snapshot().Version)
	assert.Equal(t, t0, m.DriveStartedAt())

	accepted := 0
	for _, e := range mem.Filter(decisionlog.ComponentParking) {
		if e.Event == "transition" && e.Outcome == decisionlog.Accepted {
			accepted++
		}
	}
	assert.Equal(t, 3, accepted)
}

func TestLowConfidenceAutomotiveStillDrives(t *testing.T) {
	m := New(defaultParams(), nil, nil)
	for off := time.Duration(0); off <= 60*time.Second; off += 5 * time.Second {
		s := sample(off, motion.Automotive)
		s.Confidence = motion.Low
		m.HandleSample(s)
	}
	assert.Equal(t, Driving, m.State())
}

func TestShortAutomotiveRunNeverDrives(t *testing.T) {
	m := New(defaultParams(), nil, nil)
	events := feed(m, 0, 30*time.Second, motion.Automotive)
	events = append(events, feed(m, 30*time.Second, 120*time.Second, motion.Stationary)...)
	assert.Empty(t, events)
	assert.Equal(t, Idle, m.State())
	assert.True(t, m.Snapshot().AutoRunStart.IsZero())
}

func TestUnknownDoesNotBreakRun(t *testing.T) {
	m := New(defaultParams(), nil, nil)
	feed(m, 0, 30*time.Second, motion.Automotive)
	feed(m, 30*time.Second, 40*time.Second, motion.Unknown)
	events := feed(m, 40*time.Second, 61*time.Second, motion.Automotive)
	require.Len(t, events, 1)
	assert.Equal(t, t0.Add(60*time.Second), events[0].At)
}

func TestFalseStopResumesDriving(t *testing.T) {
	m := New(defaultParams(), nil, nil)
	feed(m, 0, 61*time.Second, motion.Automotive)
	events := feed(m, 61*time.Second, 64*time.Second, motion.Stationary)
	events = append(events, feed(m, 64*time.Second, 80*time.Second, motion.Automotive)...)

	assert.Equal(t, []State{Pending, Driving}, states(events))
	assert.Equal(t, TriggerAutomotiveResumed, events[1].Trigger)
	assert.True(t, m.Snapshot().PendingDeadline.IsZero())
	assert.Equal(t, t0, m.DriveStartedAt(), "a false stop keeps the same trip")
}

func TestDriveTooShortReturnsToIdle(t *testing.T) {
	p := defaultParams()
	p.MinDrivingDuration = 10 * time.Second
	m := New(p, nil, nil)

	events := feed(m, 0, 20*time.Second, motion.Automotive)
	events = append(events, feed(m, 20*time.Second, 30*time.Second, motion.Stationary)...)

	assert.Equal(t, []State{Driving, Pending, Idle}, states(events))
	assert.Equal(t, TriggerDriveTooShort, events[2].Trigger)
}

func TestParkedDepartureNeedsSustainedAutomotive(t *testing.T) {
	m := New(defaultParams(), nil, nil)
	feed(m, 0, 70*time.Second, motion.Automotive)
	feed(m, 70*time.Second, 80*time.Second, motion.Stationary)
	require.Equal(t, Parked, m.State())

	events := feed(m, 100*time.Second, 105*time.Second, motion.Automotive)
	events = append(events, feed(m, 105*time.Second, 110*time.Second, motion.Walking)...)
	assert.Empty(t, events)
	assert.Equal(t, Parked, m.State())

	events = feed(m, 200*time.Second, 211*time.Second, motion.Automotive)
	require.Len(t, events, 1)
	assert.Equal(t, Driving, events[0].To)
	assert.Equal(t, TriggerAutomotiveResumed, events[0].Trigger)
	assert.Equal(t, t0.Add(210*time.Second), events[0].At)
	assert.Equal(t, t0.Add(200*time.Second), m.DriveStartedAt())
}

func TestDeviceSignals(t *testing.T) {
	m := New(defaultParams(), nil, nil)
	feed(m, 0, 90*time.Second, motion.Automotive)
	m.HandleDevice(motion.DeviceEvent{Timestamp: t0.Add(90 * time.Second), DeviceID: "car", Connected: false})
	assert.True(t, m.Snapshot().DepartureHint)

	events := m.HandleSample(sample(91*time.Second, motion.Stationary))
	assert.Equal(t, []State{Pending, Parked}, states(events), "disconnect hint removes the debounce")
	assert.Equal(t, t0.Add(91*time.Second), events[1].At)

	events = m.HandleDevice(motion.DeviceEvent{Timestamp: t0.Add(30 * time.Minute), DeviceID: "car", Connected: true})
	require.Len(t, events, 1)
	assert.Equal(t, Driving, events[0].To)
	assert.Equal(t, TriggerDeviceDeparture, events[0].Trigger)
	assert.Equal(t, t0.Add(30*time.Minute), m.DriveStartedAt())
}

func TestDeviceConnectWithoutDisconnectIsIgnored(t *testing.T) {
	m := New(defaultParams(), nil, nil)
	feed(m, 0, 70*time.Second, motion.Automotive)
	feed(m, 70*time.Second, 80*time.Second, motion.Stationary)
	require.Equal(t, Parked, m.State())

	events := m.HandleDevice(motion.DeviceEvent{Timestamp: t0.Add(5 * time.Minute), Connected: true})
	assert.Empty(t, events)
	assert.Equal(t, Parked, m.State())
}

func TestDisconnectDuringPendingSettlesImmediately(t *testing.T) {
	m := New(defaultParams(), nil, nil)
	feed(m, 0, 70*time.Second, motion.Automotive)
	m.HandleSample(sample(70*time.Second, motion.Stationary))
	require.Equal(t, Pending, m.State())

	events := m.HandleDevice(motion.DeviceEvent{Timestamp: t0.Add(72 * time.Second), Connected: false})
	require.Len(t, events, 1)
	assert.Equal(t, Parked, events[0].To)
	assert.Equal(t, t0.Add(72*time.Second), events[0].At)
}

func TestTickFiresDeadlines(t *testing.T) {
	m := New(defaultParams(), nil, nil)
	m.HandleSample(sample(0, motion.Automotive))
	assert.Empty(t, m.Tick(t0.Add(59*time.Second)))

	events := m.Tick(t0.Add(65 * time.Second))
	require.Len(t, events, 1)
	assert.Equal(t, Driving, events[0].To)
	assert.Equal(t, t0.Add(60*time.Second), events[0].At)

	m.HandleSample(sample(120*time.Second, motion.Stationary))
	events = m.Tick(t0.Add(10 * time.Minute))
	require.Len(t, events, 1)
	assert.Equal(t, Parked, events[0].To)
	assert.Equal(t, t0.Add(125*time.Second), events[0].At)
}

func TestInvalidTransitionRejected(t *testing.T) {
	mem := &decisionlog.Memory{}
	m := New(defaultParams(), nil, mem)

	_, err := m.Transition(Parked, TriggerDebounceElapsed, t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, Idle, m.State())
	assert.Equal(t, uint64(0), m.Snapshot().Version)

	entries := mem.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, decisionlog.Rejected, entries[0].Outcome)
	assert.Equal(t, "invalid_transition", entries[0].Context["reason"])
}

func TestConfirmParked(t *testing.T) {
	m := New(defaultParams(), nil, nil)
	_, err := m.ConfirmParked(motion.Visit{Arrival: t0, Lat: 41.9, Lng: -87.6}, t0)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	feed(m, 0, 61*time.Second, motion.Automotive)
	visit := motion.Visit{Arrival: t0.Add(5 * time.Minute), Departure: t0.Add(20 * time.Minute), Lat: 41.9, Lng: -87.6, AccuracyM: 60}
	events, err := m.ConfirmParked(visit, t0.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []State{Pending, Parked}, states(events))
	for _, ev := range events {
		assert.Equal(t, TriggerDwellConfirmed, ev.Trigger)
		assert.Equal(t, location.SourceVisit, ev.Location.Source)
		assert.Equal(t, 41.9, ev.Location.Fix.Lat)
	}
}

func TestStuckFor(t *testing.T) {
	m := New(defaultParams(), nil, nil)
	assert.Zero(t, m.StuckFor(t0.Add(time.Hour)))
	feed(m, 0, 61*time.Second, motion.Automotive)
	assert.Equal(t, 14*time.Minute, m.StuckFor(t0.Add(15*time.Minute)))
}

func TestStopLocationUsesStillnessFix(t *testing.T) {
	capture := location.New(2*time.Minute, nil)
	m := New(defaultParams(), capture, nil)

	// 45 minute drive with a fix every 10s
	for off := time.Duration(0); off < 45*time.Minute; off += 10 * time.Second {
		capture.RecordFix(motion.Fix{Timestamp: t0.Add(off), Lat: 41.80 + off.Hours()/100, Lng: -87.62, AccuracyM: 8, SpeedMps: 12, HeadingDeg: 90}, m.State() == Driving)
		m.HandleSample(sample(off, motion.Automotive))
	}
	require.Equal(t, Driving, m.State())

	stop := 45 * time.Minute
	m.HandleSample(sample(stop, motion.Stationary))
	capture.RecordFix(motion.Fix{Timestamp: t0.Add(stop + time.Second), Lat: 41.95, Lng: -87.65, AccuracyM: 5, HeadingDeg: motion.NoHeading}, m.State() == Driving)

	var parked []Event
	for off := stop + time.Second; off < stop+3*time.Minute; off += time.Second {
		for _, ev := range m.HandleSample(sample(off, motion.Stationary)) {
			if ev.To == Parked {
				parked = append(parked, ev)
			}
		}
	}
	require.Len(t, parked, 1)
	assert.Equal(t, location.SourceStillness, parked[0].Location.Source)
	assert.Equal(t, 41.95, parked[0].Location.Fix.Lat)
	assert.Equal(t, -87.65, parked[0].Location.Fix.Lng)
}

func TestRehydrate(t *testing.T) {
	t.Run("no snapshot is a cold start", func(t *testing.T) {
		m := New(defaultParams(), nil, nil)
		events := m.Rehydrate(nil, t0)
		require.Len(t, events, 1)
		assert.Equal(t, TriggerColdStart, events[0].Trigger)
		assert.Equal(t, Idle, m.State())
	})

	t.Run("expired debounce settles at its deadline", func(t *testing.T) {
		m := New(defaultParams(), nil, nil)
		snap := &Snapshot{
			State:           Pending,
			Version:         7,
			LastTransition:  t0,
			LastClass:       motion.Stationary,
			DriveStartedAt:  t0.Add(-20 * time.Minute),
			StillSince:      t0,
			PendingDeadline: t0.Add(5 * time.Second),
		}
		events := m.Rehydrate(snap, t0.Add(time.Hour))
		require.Len(t, events, 1)
		assert.Equal(t, Parked, events[0].To)
		assert.Equal(t, t0.Add(5*time.Second), events[0].At)
		assert.Equal(t, uint64(8), m.Snapshot().Version)
	})

	t.Run("pending debounce keeps running", func(t *testing.T) {
		m := New(defaultParams(), nil, nil)
		snap := &Snapshot{State: Pending, Version: 2, LastTransition: t0, LastClass: motion.Stationary,
			DriveStartedAt: t0.Add(-10 * time.Minute), StillSince: t0, PendingDeadline: t0.Add(5 * time.Second)}
		assert.Empty(t, m.Rehydrate(snap, t0.Add(2*time.Second)))
		events := m.Tick(t0.Add(6 * time.Second))
		require.Len(t, events, 1)
		assert.Equal(t, t0.Add(5*time.Second), events[0].At)
	})

	t.Run("expired drive candidate is dropped", func(t *testing.T) {
		m := New(defaultParams(), nil, nil)
		snap := &Snapshot{State: Idle, Version: 1, LastTransition: t0, LastClass: motion.Automotive,
			AutoRunStart: t0, DriveDeadline: t0.Add(time.Minute)}
		assert.Empty(t, m.Rehydrate(snap, t0.Add(10*time.Minute)))
		assert.Equal(t, Idle, m.State())
		assert.True(t, m.Snapshot().DriveDeadline.IsZero())
	})

	t.Run("stale trip resets to idle", func(t *testing.T) {
		m := New(defaultParams(), nil, nil)
		snap := &Snapshot{State: Driving, Version: 4, LastTransition: t0, DriveStartedAt: t0}
		events := m.Rehydrate(snap, t0.Add(3*time.Hour))
		require.Len(t, events, 1)
		assert.Equal(t, Idle, events[0].To)
		assert.Equal(t, TriggerColdStart, events[0].Trigger)
	})
}

// Random interleavings of every input must only ever produce table rows,
// each starting where the previous one ended.
func TestRandomSequencesStayInTable(t *testing.T) {
	classes := []motion.Classification{motion.Automotive, motion.Automotive, motion.Stationary, motion.Walking, motion.Unknown}
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		p := defaultParams()
		p.MinDrivingDuration = time.Duration(rng.Intn(30)) * time.Second
		p.MinDriveBeforePark = time.Duration(rng.Intn(60)) * time.Second
		m := New(p, nil, nil)

		prev := m.State()
		at := t0
		for step := 0; step < 300; step++ {
			at = at.Add(time.Duration(1+rng.Intn(10)) * time.Second)
			var events []Event
			switch r := rng.Intn(20); {
			case r < 15:
				events = m.HandleSample(motion.Sample{Timestamp: at, Classification: classes[rng.Intn(len(classes))]})
			case r < 17:
				events = m.HandleDevice(motion.DeviceEvent{Timestamp: at, Connected: rng.Intn(2) == 0})
			case r < 18:
				events = m.Tick(at)
			case r < 19:
				evs, _ := m.ConfirmParked(motion.Visit{Arrival: at.Add(-5 * time.Minute), Departure: at}, at)
				events = evs
			default:
				if ev, err := m.Reset(TriggerReset, at); err == nil {
					events = []Event{ev}
				}
			}
			for _, ev := range events {
				if !Allowed(ev.From, ev.To, ev.Trigger) {
					t.Fatalf("run %d step %d: %s -> %s on %s is not in the table", run, step, ev.From, ev.To, ev.Trigger)
				}
				if ev.From != prev {
					t.Fatalf("run %d step %d: event starts at %s, machine was in %s", run, step, ev.From, prev)
				}
				prev = ev.To
			}
			require.Equal(t, prev, m.State())
			require.True(t, m.State().Valid())
		}
	}
}
