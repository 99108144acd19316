// Package camera decides when a live position update should raise a
// proximity alert for a fixed enforcement camera.
package camera

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/banshee-data/curbwatch/internal/geo"
	"github.com/banshee-data/curbwatch/internal/motion"
)

// Type is the enforcement type of a camera.
type Type string

const (
	Speed    Type = "speed"
	RedLight Type = "redlight"
)

// ParseType accepts "speed", "redlight", "red_light" and "red light".
func ParseType(s string) (Type, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(v)
	switch v {
	case "speed":
		return Speed, nil
	case "redlight":
		return RedLight, nil
	}
	return "", fmt.Errorf("unknown camera type %q", s)
}

// UnmarshalText lets types be decoded from YAML.
func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Definition is one row of the static camera table.
type Definition struct {
	ID         string       `yaml:"id" json:"id"`
	Type       Type         `yaml:"type" json:"type"`
	Lat        float64      `yaml:"lat" json:"lat"`
	Lng        float64      `yaml:"lng" json:"lng"`
	Approaches []geo.Octant `yaml:"approaches,omitempty" json:"approaches,omitempty"`
	Address    string       `yaml:"address" json:"address"`
}

// Point returns the camera position.
func (d Definition) Point() geo.Point {
	return geo.Point{Lat: d.Lat, Lng: d.Lng}
}

var (
	ErrMissingID   = errors.New("camera: missing id")
	ErrBadPosition = errors.New("camera: invalid position")
	ErrDuplicateID = errors.New("camera: duplicate id")
)

// Validate checks the fields a camera needs to be evaluated.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return ErrMissingID
	}
	if d.Type != Speed && d.Type != RedLight {
		return fmt.Errorf("camera %s: unknown type %q", d.ID, d.Type)
	}
	if !d.Point().Valid() || math.Abs(d.Lat) > 90 || math.Abs(d.Lng) > 180 {
		return fmt.Errorf("camera %s: %w", d.ID, ErrBadPosition)
	}
	for _, o := range d.Approaches {
		if _, ok := o.Degrees(); !ok {
			return fmt.Errorf("camera %s: unknown approach %q", d.ID, o)
		}
	}
	return nil
}

// AlertRecord is the deduplication state of one camera.
type AlertRecord struct {
	CameraID    string    `json:"camera_id"`
	LastFiredAt time.Time `json:"last_fired_at"`
	// Cleared is set once the vehicle moved beyond the clearance radius
	// after the last fire.
	Cleared bool `json:"cleared"`
}

// Alert is emitted when a camera fires.
type Alert struct {
	CameraID       string     `json:"camera_id"`
	Type           Type       `json:"type"`
	Address        string     `json:"address"`
	DistanceMeters float64    `json:"distance_m"`
	Volume         float64    `json:"volume"`
	At             time.Time  `json:"at"`
	Fix            motion.Fix `json:"fix"`
}

// Rejection reasons, in the order the checks run.
const (
	ReasonDisabled         = "alerts_disabled"
	ReasonAccuracy         = "accuracy_exceeded"
	ReasonTypeDisabled     = "type_disabled"
	ReasonOutsideSchedule  = "outside_schedule"
	ReasonOutOfRange       = "out_of_range"
	ReasonBelowMinSpeed    = "below_min_speed"
	ReasonCooldown         = "cooldown"
	ReasonAwaitClearance   = "awaiting_clearance"
	ReasonHeadingMismatch  = "heading_mismatch"
	ReasonBearingMismatch  = "bearing_mismatch"
	ReasonNotNearest       = "not_nearest"
	ReasonGlobalInterval   = "global_interval"
	ReasonInvalidPosition  = "invalid_position"
	ReasonMissingTimestamp = "missing_timestamp"
)

// Radius returns the speed-adaptive alert radius: speed times lookahead,
// clamped to [base, max]. Negative or NaN speeds count as stationary.
func Radius(speedMps float64, lookahead time.Duration, base, max float64) float64 {
	if math.IsNaN(speedMps) || speedMps < 0 {
		speedMps = 0
	}
	if max < base {
		max = base
	}
	r := speedMps * lookahead.Seconds()
	return math.Min(math.Max(r, base), max)
}
