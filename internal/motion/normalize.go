package motion

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/curbwatch/internal/geo"
)

// Normalizer maps heterogeneous platform readings onto Sample and Fix. It
// keeps per-source timestamps monotonic: a reading stamped earlier than the
// previous one from the same source is re-stamped with the previous time, so
// arrival order and timestamp order always agree.
type Normalizer struct {
	mu      sync.Mutex
	last    map[string]time.Time
	clamped uint64
}

// NewNormalizer returns an empty Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{last: make(map[string]time.Time)}
}

// Clamped returns how many readings were re-stamped to preserve ordering.
func (n *Normalizer) Clamped() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clamped
}

func (n *Normalizer) order(source string, ts time.Time) time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	if prev, ok := n.last[source]; ok && ts.Before(prev) {
		n.clamped++
		return prev
	}
	n.last[source] = ts
	return ts
}

// ParseClassification maps platform activity labels onto a Classification.
// Anything unrecognized is Unknown.
func ParseClassification(label string) Classification {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "automotive", "in_vehicle", "vehicle", "driving", "in_car", "cycling_vehicle":
		return Automotive
	case "stationary", "still", "stopped", "tilting":
		return Stationary
	case "walking", "on_foot", "running":
		return Walking
	}
	return Unknown
}

// ParseConfidence maps a platform confidence onto a Confidence. It accepts
// labels, the 0..2 enumeration used by activity coprocessors and 0..100
// percentages. Unparseable values are Low.
func ParseConfidence(raw string) Confidence {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch v {
	case "low":
		return Low
	case "medium":
		return Medium
	case "high":
		return High
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return Low
	}
	if f <= 2 {
		switch {
		case f >= 2:
			return High
		case f >= 1:
			return Medium
		default:
			return Low
		}
	}
	switch {
	case f >= 67:
		return High
	case f >= 34:
		return Medium
	}
	return Low
}

// Activity normalizes one classification reading.
func (n *Normalizer) Activity(ts time.Time, label, confidence, source string) Sample {
	if source == "" {
		source = "activity"
	}
	return Sample{
		Timestamp:      n.order(source, ts),
		Classification: ParseClassification(label),
		Confidence:     ParseConfidence(confidence),
		Source:         source,
	}
}

// Unavailable returns the sample emitted when a capability is missing or
// permission was revoked. The stream continues with Unknown samples.
func (n *Normalizer) Unavailable(ts time.Time, capability string) Sample {
	source := "capability:" + capability
	return Sample{
		Timestamp:      n.order(source, ts),
		Classification: Unknown,
		Confidence:     Low,
		Source:         source,
	}
}

// RawFix is a position reading as delivered by the platform. Nil fields were
// not reported.
type RawFix struct {
	Timestamp time.Time
	Lat, Lng  float64
	Accuracy  *float64
	Speed     *float64
	Heading   *float64
}

// Fix normalizes a position reading. It reports false when the coordinates
// are unusable. Missing or negative accuracy becomes InvalidAccuracy, missing
// or negative speed becomes 0 and a missing or negative heading becomes
// NoHeading.
func (n *Normalizer) Fix(raw RawFix) (Fix, bool) {
	p := geo.Point{Lat: raw.Lat, Lng: raw.Lng}
	if !p.Valid() {
		return Fix{}, false
	}

	f := Fix{
		Timestamp:  n.order("location", raw.Timestamp),
		Lat:        raw.Lat,
		Lng:        raw.Lng,
		AccuracyM:  InvalidAccuracy,
		HeadingDeg: NoHeading,
	}
	if raw.Accuracy != nil && *raw.Accuracy > 0 {
		f.AccuracyM = *raw.Accuracy
	}
	if raw.Speed != nil && *raw.Speed > 0 {
		f.SpeedMps = *raw.Speed
	}
	if raw.Heading != nil && *raw.Heading >= 0 {
		f.HeadingDeg = geo.NormalizeDegrees(*raw.Heading)
	}
	return f, true
}

// Device normalizes a paired-device notification.
func (n *Normalizer) Device(ts time.Time, deviceID string, connected bool) DeviceEvent {
	return DeviceEvent{
		Timestamp: n.order("device", ts),
		DeviceID:  deviceID,
		Connected: connected,
	}
}
