package dwell

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/curbwatch/internal/decisionlog"
	"github.com/banshee-data/curbwatch/internal/geo"
	"github.com/banshee-data/curbwatch/internal/motion"
)

var (
	t0   = time.Date(2026, 5, 4, 17, 30, 0, 0, time.UTC)
	spot = geo.Point{Lat: 41.8781, Lng: -87.6298}
)

func testParams() Params {
	return Params{
		MinDwell:         180 * time.Second,
		MaxAge:           2 * time.Hour,
		DuplicateRadiusM: 200,
		DuplicateWindow:  30 * time.Minute,
		MovingSpeedMps:   3,
		LiveFixMaxAge:    2 * time.Minute,
		StuckThreshold:   10 * time.Minute,
	}
}

// goodInput passes every guard.
func goodInput() Input {
	return Input{
		Visit: motion.Visit{
			Arrival:   t0.Add(20 * time.Minute),
			Departure: t0.Add(40 * time.Minute),
			Lat:       spot.Lat,
			Lng:       spot.Lng,
			AccuracyM: 50,
		},
		Now:           t0.Add(45 * time.Minute),
		TripDeparture: t0,
		LiveFix:       motion.Fix{Timestamp: t0.Add(44 * time.Minute), Lat: spot.Lat, Lng: spot.Lng, SpeedMps: 0},
		LastSample:    motion.Sample{Timestamp: t0.Add(44 * time.Minute), Classification: motion.Stationary},
		StuckFor:      40 * time.Minute,
	}
}

func TestChain_Accepts(t *testing.T) {
	mem := &decisionlog.Memory{}
	c := New(testParams(), nil, nil, mem)

	v := c.Evaluate(goodInput())
	assert.True(t, v.Accepted)
	assert.Empty(t, v.Reason)

	entries := mem.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, decisionlog.Accepted, entries[0].Outcome)
	assert.NotContains(t, entries[0].Context, "reason")
}

func TestChain_Rejections(t *testing.T) {
	lockedOut := NewHotspots()
	lockedOut.Lockout(spot, t0.Add(30*time.Minute), 150, 30*time.Minute)

	history := NewHistory(4)
	history.Add(Parking{At: t0.Add(30 * time.Minute), Point: geo.Offset(spot, 90, 100)})

	cases := []struct {
		name     string
		mutate   func(*Input)
		hotspots *Hotspots
		history  *History
		want     Reason
	}{
		{"no departure", func(in *Input) { in.TripDeparture = time.Time{} }, nil, nil, ReasonNoDeparture},
		{"arrival before trip", func(in *Input) { in.TripDeparture = t0.Add(25 * time.Minute) }, nil, nil, ReasonNoDeparture},
		{"dwell 90s", func(in *Input) { in.Visit.Departure = in.Visit.Arrival.Add(90 * time.Second) }, nil, nil, ReasonDwellTooShort},
		{"stale", func(in *Input) { in.Now = in.Visit.Arrival.Add(3 * time.Hour) }, nil, nil, ReasonVisitStale},
		{"moving fix", func(in *Input) { in.LiveFix.SpeedMps = 9 }, nil, nil, ReasonStillMoving},
		{"automotive", func(in *Input) { in.LastSample.Classification = motion.Automotive }, nil, nil, ReasonStillMoving},
		{"duplicate", func(in *Input) {}, nil, history, ReasonDuplicate},
		{"lockout", func(in *Input) {}, lockedOut, nil, ReasonHotspot},
		{"not stuck", func(in *Input) { in.StuckFor = 3 * time.Minute }, nil, nil, ReasonNotStuck},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mem := &decisionlog.Memory{}
			c := New(testParams(), tc.hotspots, tc.history, mem)
			in := goodInput()
			tc.mutate(&in)

			v := c.Evaluate(in)
			assert.False(t, v.Accepted)
			assert.Equal(t, tc.want, v.Reason)

			entries := mem.Entries()
			require.Len(t, entries, 1)
			assert.Equal(t, decisionlog.Rejected, entries[0].Outcome)
			assert.Equal(t, string(tc.want), entries[0].Context["reason"])
		})
	}
}

func TestChain_ShortCircuitsInOrder(t *testing.T) {
	c := New(testParams(), nil, nil, nil)
	in := goodInput()
	in.TripDeparture = time.Time{}
	in.Visit.Departure = in.Visit.Arrival.Add(10 * time.Second)
	in.StuckFor = 0

	assert.Equal(t, ReasonNoDeparture, c.Evaluate(in).Reason)

	in.TripDeparture = t0
	assert.Equal(t, ReasonDwellTooShort, c.Evaluate(in).Reason)
}

func TestChain_StaleLiveDataIsIgnored(t *testing.T) {
	c := New(testParams(), nil, nil, nil)
	in := goodInput()
	in.LiveFix = motion.Fix{Timestamp: t0, SpeedMps: 20}
	in.LastSample = motion.Sample{Timestamp: t0, Classification: motion.Automotive}

	assert.True(t, c.Evaluate(in).Accepted)
}

func TestHotspots(t *testing.T) {
	h := NewHotspots(Hotspot{Zone: geo.Circle{Center: spot, RadiusM: 100}, Kind: KindFalsePositive, Created: t0})
	z := h.Lockout(geo.Offset(spot, 0, 1000), t0, 150, 30*time.Minute)
	assert.Equal(t, KindLockout, z.Kind)

	_, hit := h.Match(geo.Offset(spot, 45, 80), 0, t0.Add(time.Hour))
	assert.True(t, hit, "permanent zone never expires")

	_, hit = h.Match(geo.Offset(spot, 0, 1100), 0, t0.Add(10*time.Minute))
	assert.True(t, hit)
	_, hit = h.Match(geo.Offset(spot, 0, 1100), 0, t0.Add(31*time.Minute))
	assert.False(t, hit, "lockout expired")

	_, hit = h.Match(geo.Offset(spot, 0, 130), 0, t0)
	assert.False(t, hit)
	_, hit = h.Match(geo.Offset(spot, 0, 130), 50, t0)
	assert.True(t, hit, "slack widens the zone")

	assert.Equal(t, 1, h.Prune(t0.Add(time.Hour)))
	assert.Len(t, h.All(), 1)
}

func TestHistory(t *testing.T) {
	h := NewHistory(2)
	h.Add(Parking{At: t0, Point: spot})
	h.Add(Parking{At: t0.Add(time.Hour), Point: spot})
	h.Add(Parking{At: t0.Add(2 * time.Hour), Point: geo.Offset(spot, 180, 5000)})

	all := h.All()
	require.Len(t, all, 2)
	assert.Equal(t, t0.Add(time.Hour), all[0].At)

	_, ok := h.Near(spot, t0.Add(70*time.Minute), 200, 30*time.Minute)
	assert.True(t, ok)
	_, ok = h.Near(spot, t0.Add(5*time.Minute), 200, 30*time.Minute)
	assert.False(t, ok, "oldest entry was evicted")
}
