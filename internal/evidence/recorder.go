// Package evidence snapshots the trailing motion history when a camera alert
// fires, so the surrounding application can upload it for later disputes.
package evidence

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/curbwatch/internal/camera"
	"github.com/banshee-data/curbwatch/internal/config"
	"github.com/banshee-data/curbwatch/internal/decisionlog"
	"github.com/banshee-data/curbwatch/internal/monitoring"
	"github.com/banshee-data/curbwatch/internal/motion"
)

// bundleNamespace scopes the name-based bundle IDs.
var bundleNamespace = uuid.MustParse("6f1c2d0e-8b0a-4f43-9c57-2b7e5c8d4a10")

// Bundle is one evidence snapshot. It is handed off whole to the uploader.
type Bundle struct {
	ID               string          `json:"id"`
	TriggerTimestamp time.Time       `json:"trigger_ts"`
	CameraID         string          `json:"camera_id"`
	CameraType       camera.Type     `json:"camera_type"`
	Samples          []motion.Sample `json:"samples"`
	Fixes            []motion.Fix    `json:"fixes,omitempty"`
	Fix              motion.Fix      `json:"fix"`
	PeakDeceleration *float64        `json:"peak_deceleration_mps2,omitempty"`
	MeanSpeedMps     float64         `json:"mean_speed_mps"`
	ExpiresAt        time.Time       `json:"expires_at"`
}

// Store persists the queue so it survives a kill.
type Store interface {
	SaveBundle(b Bundle) error
	DeleteBundle(id string) error
	LoadBundles() ([]Bundle, error)
}

// Params holds the recorder settings.
type Params struct {
	Window   time.Duration
	Capacity int
	TTL      time.Duration
	Types    []camera.Type
	RingSize int
}

// ParamsFromConfig reads the settings from cfg. Unknown evidence types are
// skipped.
func ParamsFromConfig(cfg *config.TuningConfig) Params {
	var types []camera.Type
	for _, s := range cfg.GetEvidenceTypes() {
		if t, err := camera.ParseType(s); err == nil {
			types = append(types, t)
		}
	}
	return Params{
		Window:   cfg.GetEvidenceWindow(),
		Capacity: cfg.GetEvidenceCapacity(),
		TTL:      cfg.GetEvidenceTTL(),
		Types:    types,
		RingSize: cfg.GetSampleRingSize(),
	}
}

// Recorder keeps the trailing sample and fix rings plus the bounded bundle
// queue.
type Recorder struct {
	mu      sync.Mutex
	params  Params
	samples *motion.Ring[motion.Sample]
	fixes   *motion.Ring[motion.Fix]
	queue   []Bundle
	store   Store
	rec     decisionlog.Recorder
	dropped uint64
}

// NewRecorder returns a recorder. store may be nil for an in-memory queue.
func NewRecorder(p Params, store Store, rec decisionlog.Recorder) *Recorder {
	if p.Capacity < 1 {
		p.Capacity = 20
	}
	if rec == nil {
		rec = decisionlog.Discard
	}
	return &Recorder{
		params:  p,
		samples: motion.NewSampleRing(p.RingSize),
		fixes:   motion.NewFixRing(p.RingSize),
		store:   store,
		rec:     rec,
	}
}

// SetParams replaces the settings. Ring sizes are fixed at construction.
func (r *Recorder) SetParams(p Params) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.Capacity < 1 {
		p.Capacity = 20
	}
	r.params = p
}

// AddSample appends to the trailing sample ring.
func (r *Recorder) AddSample(s motion.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples.Add(s)
}

// AddFix appends to the trailing fix ring.
func (r *Recorder) AddFix(f motion.Fix) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fixes.Add(f)
}

// Wants reports whether alerts of type t require evidence.
func (r *Recorder) Wants(t camera.Type) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, want := range r.params.Types {
		if want == t {
			return true
		}
	}
	return false
}

// Capture snapshots the trailing window for a fired alert and enqueues it.
// It returns false when the alert type does not require evidence.
func (r *Recorder) Capture(a camera.Alert) (Bundle, bool) {
	if !r.Wants(a.Type) {
		return Bundle{}, false
	}

	r.mu.Lock()
	at := a.At
	b := Bundle{
		ID:               BundleID(a.CameraID, at),
		TriggerTimestamp: at,
		CameraID:         a.CameraID,
		CameraType:       a.Type,
		Samples:          r.samples.Window(at, r.params.Window),
		Fixes:            r.fixes.Window(at, r.params.Window),
		Fix:              a.Fix,
		ExpiresAt:        at.Add(r.params.TTL),
	}
	b.MeanSpeedMps = meanSpeed(b.Fixes)
	if peak, ok := PeakDeceleration(b.Fixes); ok {
		b.PeakDeceleration = &peak
	}

	var evicted []Bundle
	r.queue = append(r.queue, b)
	if over := len(r.queue) - r.params.Capacity; over > 0 {
		evicted = append(evicted, r.queue[:over]...)
		r.queue = append(r.queue[:0:0], r.queue[over:]...)
		r.dropped += uint64(over)
	}
	store := r.store
	r.mu.Unlock()

	ctx := decisionlog.Fields{
		"bundle_id": b.ID,
		"camera_id": b.CameraID,
		"samples":   len(b.Samples),
		"fixes":     len(b.Fixes),
		"evicted":   len(evicted),
	}
	if b.PeakDeceleration != nil {
		ctx["peak_decel_mps2"] = *b.PeakDeceleration
	}
	r.rec.Record(decisionlog.Entry{
		Timestamp: at,
		Component: decisionlog.ComponentEvidence,
		Event:     "capture",
		Outcome:   decisionlog.Accepted,
		Context:   ctx,
	})

	if store != nil {
		if err := store.SaveBundle(b); err != nil {
			monitoring.Fallback.Add("evidence", "save bundle "+b.ID, err)
		}
		for _, old := range evicted {
			if err := store.DeleteBundle(old.ID); err != nil {
				monitoring.Fallback.Add("evidence", "delete evicted bundle "+old.ID, err)
			}
		}
	}
	return b, true
}

// Queue returns the unexpired bundles, oldest first.
func (r *Recorder) Queue(now time.Time) []Bundle {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Bundle
	for _, b := range r.queue {
		if now.Before(b.ExpiresAt) {
			out = append(out, b)
		}
	}
	return out
}

// Len returns the number of queued bundles, expired or not.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Dropped returns how many bundles were evicted for capacity.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Drain hands every unexpired bundle to the caller and empties the queue.
// Ownership of the returned bundles passes to the caller.
func (r *Recorder) Drain(now time.Time) []Bundle {
	r.mu.Lock()
	all := r.queue
	r.queue = nil
	store := r.store
	r.mu.Unlock()

	var out []Bundle
	for _, b := range all {
		if now.Before(b.ExpiresAt) {
			out = append(out, b)
		}
		if store != nil {
			if err := store.DeleteBundle(b.ID); err != nil {
				monitoring.Fallback.Add("evidence", "delete drained bundle "+b.ID, err)
			}
		}
	}
	return out
}

// Prune removes expired bundles and returns how many were removed.
func (r *Recorder) Prune(now time.Time) int {
	r.mu.Lock()
	var kept, expired []Bundle
	for _, b := range r.queue {
		if now.Before(b.ExpiresAt) {
			kept = append(kept, b)
		} else {
			expired = append(expired, b)
		}
	}
	r.queue = kept
	store := r.store
	r.mu.Unlock()

	if store != nil {
		for _, b := range expired {
			if err := store.DeleteBundle(b.ID); err != nil {
				monitoring.Fallback.Add("evidence", "delete expired bundle "+b.ID, err)
			}
		}
	}
	return len(expired)
}

// Load replaces the queue with the persisted bundles, keeping the newest
// Capacity entries.
func (r *Recorder) Load() error {
	if r.store == nil {
		return nil
	}
	bundles, err := r.store.LoadBundles()
	if err != nil {
		return err
	}
	sort.SliceStable(bundles, func(i, j int) bool {
		return bundles[i].TriggerTimestamp.Before(bundles[j].TriggerTimestamp)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if over := len(bundles) - r.params.Capacity; over > 0 {
		bundles = bundles[over:]
	}
	r.queue = bundles
	return nil
}

// BundleID derives a stable UUID from the camera and trigger time, so a
// replayed stream produces the same IDs.
func BundleID(cameraID string, at time.Time) string {
	name := cameraID + "|" + at.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(bundleNamespace, []byte(name)).String()
}

// PeakDeceleration returns the largest speed drop per second between
// consecutive fixes, in m/s². It returns false when fewer than two fixes
// are available or speed never decreased.
func PeakDeceleration(fixes []motion.Fix) (float64, bool) {
	if len(fixes) < 2 {
		return 0, false
	}
	var decel []float64
	for i := 1; i < len(fixes); i++ {
		dt := fixes[i].Timestamp.Sub(fixes[i-1].Timestamp).Seconds()
		if dt <= 0 {
			continue
		}
		if drop := (fixes[i-1].SpeedMps - fixes[i].SpeedMps) / dt; drop > 0 {
			decel = append(decel, drop)
		}
	}
	if len(decel) == 0 {
		return 0, false
	}
	return floats.Max(decel), true
}

func meanSpeed(fixes []motion.Fix) float64 {
	if len(fixes) == 0 {
		return 0
	}
	speeds := make([]float64, len(fixes))
	for i, f := range fixes {
		speeds[i] = f.SpeedMps
	}
	return stat.Mean(speeds, nil)
}
