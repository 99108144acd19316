// Package motion normalizes platform sensor callbacks (activity
// classification, position fixes, paired-device connections, dwell visits and
// lifecycle notifications) into one ordered stream of typed signals.
package motion

import (
	"time"

	"github.com/banshee-data/curbwatch/internal/geo"
)

// Classification is the activity reported by the motion coprocessor.
type Classification string

const (
	Stationary Classification = "stationary"
	Walking    Classification = "walking"
	Automotive Classification = "automotive"
	Unknown    Classification = "unknown"
)

// IsStill reports whether the classification means the vehicle is not moving.
// Walking counts as still: the driver has left the car.
func (c Classification) IsStill() bool {
	return c == Stationary || c == Walking
}

// Confidence is advisory only. Nothing in the detection path gates on it.
type Confidence string

const (
	Low    Confidence = "low"
	Medium Confidence = "medium"
	High   Confidence = "high"
)

// Sample is one activity classification.
type Sample struct {
	Timestamp      time.Time      `json:"ts"`
	Classification Classification `json:"activity"`
	Confidence     Confidence     `json:"confidence"`
	Source         string         `json:"source,omitempty"`
}

// NoHeading marks a fix without a usable course.
const NoHeading = -1.0

// InvalidAccuracy is substituted when the platform reports a negative or
// zero horizontal accuracy, which means the fix is unusable.
const InvalidAccuracy = 1e6

// Fix is a single position report.
type Fix struct {
	Timestamp  time.Time `json:"ts"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	AccuracyM  float64   `json:"accuracy_m"`
	SpeedMps   float64   `json:"speed_mps"`
	HeadingDeg float64   `json:"heading_deg"`
}

// Point returns the fix position.
func (f Fix) Point() geo.Point {
	return geo.Point{Lat: f.Lat, Lng: f.Lng}
}

// HasHeading reports whether the fix carries a course.
func (f Fix) HasHeading() bool {
	return f.HeadingDeg >= 0
}

// IsZero reports whether f is the zero fix.
func (f Fix) IsZero() bool {
	return f.Timestamp.IsZero()
}

// DeviceEvent is a paired-device (car Bluetooth, CarPlay) connection change.
type DeviceEvent struct {
	Timestamp time.Time `json:"ts"`
	DeviceID  string    `json:"device,omitempty"`
	Connected bool      `json:"connected"`
}

// Visit is a coarse, power-optimized "stayed here" notification. Departure is
// zero while the visit is still open.
type Visit struct {
	Arrival   time.Time `json:"arrival"`
	Departure time.Time `json:"departure,omitempty"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	AccuracyM float64   `json:"accuracy_m"`
}

// Point returns the visit position.
func (v Visit) Point() geo.Point {
	return geo.Point{Lat: v.Lat, Lng: v.Lng}
}

// Dwell returns how long the visit lasted, measured to now for open visits.
func (v Visit) Dwell(now time.Time) time.Duration {
	end := v.Departure
	if end.IsZero() {
		end = now
	}
	return end.Sub(v.Arrival)
}

// LifecycleKind names a host process lifecycle transition.
type LifecycleKind string

const (
	ColdStart  LifecycleKind = "cold_start"
	Resume     LifecycleKind = "resume"
	Foreground LifecycleKind = "foreground"
	Background LifecycleKind = "background"
)

// Lifecycle is a host process lifecycle notification.
type Lifecycle struct {
	Timestamp time.Time     `json:"ts"`
	Kind      LifecycleKind `json:"event"`
}
