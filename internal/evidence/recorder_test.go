package evidence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/curbwatch/internal/camera"
	"github.com/banshee-data/curbwatch/internal/decisionlog"
	"github.com/banshee-data/curbwatch/internal/monitoring"
	"github.com/banshee-data/curbwatch/internal/motion"
)

var t0 = time.Date(2026, 5, 4, 17, 30, 0, 0, time.UTC)

type memStore struct {
	bundles map[string]Bundle
	saveErr error
}

func newMemStore() *memStore { return &memStore{bundles: map[string]Bundle{}} }

func (s *memStore) SaveBundle(b Bundle) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.bundles[b.ID] = b
	return nil
}

func (s *memStore) DeleteBundle(id string) error {
	delete(s.bundles, id)
	return nil
}

func (s *memStore) LoadBundles() ([]Bundle, error) {
	var out []Bundle
	for _, b := range s.bundles {
		out = append(out, b)
	}
	return out, nil
}

func testParams() Params {
	return Params{Window: 30 * time.Second, Capacity: 3, TTL: 24 * time.Hour, Types: []camera.Type{camera.Speed}, RingSize: 128}
}

func alertAt(id string, typ camera.Type, at time.Time) camera.Alert {
	return camera.Alert{CameraID: id, Type: typ, At: at, Fix: motion.Fix{Timestamp: at, Lat: 41.9, Lng: -87.6, SpeedMps: 8}}
}

func TestCapture_TrailingWindow(t *testing.T) {
	mem := &decisionlog.Memory{}
	r := NewRecorder(testParams(), nil, mem)

	// 60s of history, speed dropping from 20 to 8 m/s over the last 6s
	for i := 0; i < 60; i++ {
		ts := t0.Add(time.Duration(i) * time.Second)
		r.AddSample(motion.Sample{Timestamp: ts, Classification: motion.Automotive})
		speed := 20.0
		if i >= 54 {
			speed = 20 - float64(i-53)*2
		}
		r.AddFix(motion.Fix{Timestamp: ts, SpeedMps: speed})
	}

	at := t0.Add(59 * time.Second)
	b, ok := r.Capture(alertAt("CHI001", camera.Speed, at))
	require.True(t, ok)
	assert.Len(t, b.Samples, 30)
	assert.Equal(t, t0.Add(30*time.Second), b.Samples[0].Timestamp)
	assert.Equal(t, at, b.Samples[29].Timestamp)
	require.NotNil(t, b.PeakDeceleration)
	assert.InDelta(t, 2.0, *b.PeakDeceleration, 1e-9)
	assert.Greater(t, b.MeanSpeedMps, 15.0)
	assert.Equal(t, at.Add(24*time.Hour), b.ExpiresAt)
	assert.Equal(t, BundleID("CHI001", at), b.ID)

	entries := mem.Filter(decisionlog.ComponentEvidence)
	require.Len(t, entries, 1)
	assert.Equal(t, b.ID, entries[0].Context["bundle_id"])
}

func TestCapture_OnlyConfiguredTypes(t *testing.T) {
	r := NewRecorder(testParams(), nil, nil)
	_, ok := r.Capture(alertAt("R1", camera.RedLight, t0))
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestCapture_CapacityDropsOldest(t *testing.T) {
	store := newMemStore()
	r := NewRecorder(testParams(), store, nil)

	var ids []string
	for i := 0; i < 5; i++ {
		b, ok := r.Capture(alertAt("CHI001", camera.Speed, t0.Add(time.Duration(i)*time.Minute)))
		require.True(t, ok)
		ids = append(ids, b.ID)
	}

	q := r.Queue(t0.Add(time.Hour))
	require.Len(t, q, 3)
	assert.Equal(t, ids[2], q[0].ID)
	assert.Equal(t, ids[4], q[2].ID)
	assert.Equal(t, uint64(2), r.Dropped())
	assert.Len(t, store.bundles, 3)
	assert.NotContains(t, store.bundles, ids[0])
}

func TestExpiryAndDrain(t *testing.T) {
	store := newMemStore()
	r := NewRecorder(testParams(), store, nil)
	r.Capture(alertAt("A", camera.Speed, t0))
	r.Capture(alertAt("B", camera.Speed, t0.Add(20*time.Hour)))

	now := t0.Add(25 * time.Hour)
	assert.Len(t, r.Queue(now), 1, "first bundle expired after 24h")
	assert.Equal(t, 1, r.Prune(now))
	assert.Len(t, store.bundles, 1)

	drained := r.Drain(now)
	require.Len(t, drained, 1)
	assert.Equal(t, "B", drained[0].CameraID)
	assert.Zero(t, r.Len())
	assert.Empty(t, store.bundles)
}

func TestLoadRestoresQueue(t *testing.T) {
	store := newMemStore()
	first := NewRecorder(testParams(), store, nil)
	for i := 0; i < 3; i++ {
		first.Capture(alertAt("CHI001", camera.Speed, t0.Add(time.Duration(i)*time.Second)))
	}

	second := NewRecorder(testParams(), store, nil)
	require.NoError(t, second.Load())
	q := second.Queue(t0)
	require.Len(t, q, 3)
	assert.Equal(t, t0, q[0].TriggerTimestamp)
}

func TestStoreFailureGoesToFallback(t *testing.T) {
	ring := monitoring.NewFallbackRing(8)
	prev := monitoring.Fallback
	monitoring.Fallback = ring
	t.Cleanup(func() { monitoring.Fallback = prev })

	store := newMemStore()
	store.saveErr = errors.New("disk full")
	r := NewRecorder(testParams(), store, nil)

	_, ok := r.Capture(alertAt("CHI001", camera.Speed, t0))
	assert.True(t, ok, "capture succeeds in memory even when persistence fails")
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, ring.Len())
}

func TestPeakDeceleration(t *testing.T) {
	_, ok := PeakDeceleration(nil)
	assert.False(t, ok)

	accelerating := []motion.Fix{{Timestamp: t0, SpeedMps: 5}, {Timestamp: t0.Add(time.Second), SpeedMps: 7}}
	_, ok = PeakDeceleration(accelerating)
	assert.False(t, ok)

	braking := []motion.Fix{
		{Timestamp: t0, SpeedMps: 20},
		{Timestamp: t0.Add(2 * time.Second), SpeedMps: 14},
		{Timestamp: t0.Add(2 * time.Second), SpeedMps: 0},
		{Timestamp: t0.Add(3 * time.Second), SpeedMps: 10},
	}
	peak, ok := PeakDeceleration(braking)
	require.True(t, ok)
	assert.InDelta(t, 3.0, peak, 1e-9)
}

func TestBundleIDStable(t *testing.T) {
	assert.Equal(t, BundleID("A", t0), BundleID("A", t0))
	assert.NotEqual(t, BundleID("A", t0), BundleID("B", t0))
	assert.NotEqual(t, BundleID("A", t0), BundleID("A", t0.Add(time.Nanosecond)))
}
