package motion

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 17, 30, 0, 0, time.UTC)

func TestParseClassification(t *testing.T) {
	tests := map[string]Classification{
		"automotive": Automotive,
		"IN_VEHICLE": Automotive,
		"still":      Stationary,
		"stationary": Stationary,
		"on_foot":    Walking,
		"running":    Walking,
		"cycling":    Unknown,
		"":           Unknown,
	}
	for in, want := range tests {
		if got := ParseClassification(in); got != want {
			t.Errorf("ParseClassification(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseConfidence(t *testing.T) {
	tests := map[string]Confidence{
		"low":    Low,
		"HIGH":   High,
		"medium": Medium,
		"0":      Low,
		"1":      Medium,
		"2":      High,
		"20":     Low,
		"50":     Medium,
		"90":     High,
		"n/a":    Low,
	}
	for in, want := range tests {
		if got := ParseConfidence(in); got != want {
			t.Errorf("ParseConfidence(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizer_LowConfidenceAutomotiveIsForwarded(t *testing.T) {
	n := NewNormalizer()
	s := n.Activity(t0, "automotive", "low", "coremotion")
	if s.Classification != Automotive {
		t.Fatalf("classification = %q, want automotive", s.Classification)
	}
	if s.Confidence != Low {
		t.Errorf("confidence = %q, want low", s.Confidence)
	}
}

func TestNormalizer_ClampsOutOfOrder(t *testing.T) {
	n := NewNormalizer()
	first := n.Activity(t0, "automotive", "high", "a")
	second := n.Activity(t0.Add(-time.Second), "automotive", "high", "a")
	other := n.Activity(t0.Add(-time.Second), "automotive", "high", "b")

	if !second.Timestamp.Equal(first.Timestamp) {
		t.Errorf("second timestamp = %v, want clamp to %v", second.Timestamp, first.Timestamp)
	}
	if !other.Timestamp.Equal(t0.Add(-time.Second)) {
		t.Error("ordering is per source; source b must not be clamped")
	}
	if n.Clamped() != 1 {
		t.Errorf("Clamped() = %d, want 1", n.Clamped())
	}
}

func TestNormalizer_Unavailable(t *testing.T) {
	n := NewNormalizer()
	s := n.Unavailable(t0, "activity")
	if s.Classification != Unknown || s.Source != "capability:activity" {
		t.Errorf("unexpected sample %+v", s)
	}
}

func TestNormalizer_Fix(t *testing.T) {
	n := NewNormalizer()
	acc, speed, heading := 8.0, -1.0, 370.0

	f, ok := n.Fix(RawFix{Timestamp: t0, Lat: 41.9, Lng: -87.6, Accuracy: &acc, Speed: &speed, Heading: &heading})
	require.True(t, ok)
	assert.Equal(t, 8.0, f.AccuracyM)
	assert.Equal(t, 0.0, f.SpeedMps, "negative speed means unknown")
	assert.InDelta(t, 10.0, f.HeadingDeg, 1e-9)
	assert.True(t, f.HasHeading())

	f, ok = n.Fix(RawFix{Timestamp: t0.Add(time.Second), Lat: 41.9, Lng: -87.6})
	require.True(t, ok)
	assert.Equal(t, InvalidAccuracy, f.AccuracyM)
	assert.False(t, f.HasHeading())

	_, ok = n.Fix(RawFix{Timestamp: t0, Lat: 0, Lng: 0})
	assert.False(t, ok)
}

func TestParseLine(t *testing.T) {
	n := NewNormalizer()

	tests := []struct {
		name string
		line string
		want Signal
	}{
		{
			name: "activity",
			line: `{"kind":"activity","ts":"2026-05-04T17:30:00Z","activity":"automotive","confidence":"low","source":"coremotion"}`,
			want: ActivitySignal(Sample{Timestamp: t0, Classification: Automotive, Confidence: Low, Source: "coremotion"}),
		},
		{
			name: "numeric confidence and unix millis",
			line: `{"kind":"activity","ts":1777915801000,"activity":"still","confidence":2}`,
			want: ActivitySignal(Sample{Timestamp: t0.Add(time.Second), Classification: Stationary, Confidence: High, Source: "activity"}),
		},
		{
			name: "fix",
			line: `{"kind":"fix","ts":"2026-05-04T17:30:02Z","lat":41.88,"lng":-87.63,"accuracy":5,"speed":12.5,"heading":90}`,
			want: FixSignal(Fix{Timestamp: t0.Add(2 * time.Second), Lat: 41.88, Lng: -87.63, AccuracyM: 5, SpeedMps: 12.5, HeadingDeg: 90}),
		},
		{
			name: "device",
			line: `{"kind":"device","ts":"2026-05-04T17:30:03Z","device":"car","connected":true}`,
			want: DeviceSignal(DeviceEvent{Timestamp: t0.Add(3 * time.Second), DeviceID: "car", Connected: true}),
		},
		{
			name: "visit",
			line: `{"kind":"visit","arrival":"2026-05-04T17:00:00Z","departure":"2026-05-04T17:20:00Z","lat":41.88,"lng":-87.63,"accuracy":70}`,
			want: VisitSignal(Visit{Arrival: t0.Add(-30 * time.Minute), Departure: t0.Add(-10 * time.Minute), Lat: 41.88, Lng: -87.63, AccuracyM: 70}),
		},
		{
			name: "lifecycle",
			line: `{"kind":"lifecycle","ts":"2026-05-04T17:30:04Z","event":"resume"}`,
			want: LifecycleSignal(Lifecycle{Timestamp: t0.Add(4 * time.Second), Kind: Resume}),
		},
		{
			name: "capability lost",
			line: `{"kind":"capability","ts":"2026-05-04T17:30:05Z","capability":"activity","available":false}`,
			want: ActivitySignal(Sample{Timestamp: t0.Add(5 * time.Second), Classification: Unknown, Confidence: Low, Source: "capability:activity"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.ParseLine(tt.line)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseLine mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseLine_Errors(t *testing.T) {
	n := NewNormalizer()

	_, err := n.ParseLine("   ")
	assert.ErrorIs(t, err, ErrEmptyLine)
	_, err = n.ParseLine("# comment")
	assert.ErrorIs(t, err, ErrEmptyLine)
	_, err = n.ParseLine(`{"kind":"teleport"}`)
	assert.ErrorIs(t, err, ErrUnknownKind)
	_, err = n.ParseLine(`{"kind":"fix","ts":"2026-05-04T17:30:00Z","lat":0,"lng":0}`)
	assert.ErrorIs(t, err, ErrInvalidFix)
	_, err = n.ParseLine(`{"kind":"lifecycle","ts":"2026-05-04T17:30:00Z","event":"reboot"}`)
	assert.True(t, errors.Is(err, ErrUnknownKind))
	_, err = n.ParseLine(`{not json`)
	assert.Error(t, err)
	_, err = n.ParseLine(`{"kind":"activity","ts":"yesterday"}`)
	assert.Error(t, err)
}

func TestEncodeLineRoundTrip(t *testing.T) {
	signals := []Signal{
		ActivitySignal(Sample{Timestamp: t0, Classification: Walking, Confidence: Medium, Source: "coremotion"}),
		FixSignal(Fix{Timestamp: t0.Add(time.Second), Lat: 41.9, Lng: -87.6, AccuracyM: 4, SpeedMps: 0, HeadingDeg: NoHeading}),
		DeviceSignal(DeviceEvent{Timestamp: t0.Add(2 * time.Second), DeviceID: "car", Connected: false}),
		LifecycleSignal(Lifecycle{Timestamp: t0.Add(3 * time.Second), Kind: ColdStart}),
	}
	n := NewNormalizer()
	for _, s := range signals {
		line, err := EncodeLine(s)
		require.NoError(t, err)
		got, err := n.ParseLine(string(line))
		require.NoError(t, err, string(line))
		if diff := cmp.Diff(s, got); diff != "" {
			t.Errorf("round trip mismatch for %s (-want +got):\n%s", s.Kind, diff)
		}
	}
}

func TestSignalTimestamp(t *testing.T) {
	open := VisitSignal(Visit{Arrival: t0})
	closed := VisitSignal(Visit{Arrival: t0, Departure: t0.Add(time.Hour)})
	assert.Equal(t, t0, open.Timestamp())
	assert.Equal(t, t0.Add(time.Hour), closed.Timestamp())
	assert.True(t, Signal{}.Timestamp().IsZero())
}

func TestVisitDwell(t *testing.T) {
	v := Visit{Arrival: t0}
	assert.Equal(t, 5*time.Minute, v.Dwell(t0.Add(5*time.Minute)))
	v.Departure = t0.Add(90 * time.Second)
	assert.Equal(t, 90*time.Second, v.Dwell(t0.Add(time.Hour)))
}

func TestRing(t *testing.T) {
	r := NewSampleRing(4)
	if _, ok := r.Latest(); ok {
		t.Fatal("empty ring has no latest entry")
	}
	for i := 0; i < 6; i++ {
		r.Add(Sample{Timestamp: t0.Add(time.Duration(i) * time.Second), Classification: Automotive})
	}
	if r.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", r.Len())
	}
	all := r.All()
	if !all[0].Timestamp.Equal(t0.Add(2*time.Second)) || !all[3].Timestamp.Equal(t0.Add(5*time.Second)) {
		t.Errorf("unexpected order %v..%v", all[0].Timestamp, all[3].Timestamp)
	}
	latest, _ := r.Latest()
	if !latest.Timestamp.Equal(t0.Add(5 * time.Second)) {
		t.Errorf("Latest() = %v", latest.Timestamp)
	}

	win := r.Window(t0.Add(5*time.Second), 2*time.Second)
	if len(win) != 2 {
		t.Errorf("Window len = %d, want 2", len(win))
	}

	// mutations of the copy must not leak into the ring
	all[0].Classification = Walking
	if r.All()[0].Classification != Automotive {
		t.Error("All() must return a copy")
	}

	r.Reset()
	if r.Len() != 0 {
		t.Error("Reset() should empty the ring")
	}
}

func TestFixRingDefaultCapacity(t *testing.T) {
	r := NewFixRing(0)
	for i := 0; i < 100; i++ {
		r.Add(Fix{Timestamp: t0.Add(time.Duration(i) * time.Second)})
	}
	assert.Equal(t, 64, r.Len())
}
