package engine

import (
	"time"

	"github.com/banshee-data/curbwatch/internal/camera"
	"github.com/banshee-data/curbwatch/internal/dwell"
	"github.com/banshee-data/curbwatch/internal/location"
	"github.com/banshee-data/curbwatch/internal/motion"
	"github.com/banshee-data/curbwatch/internal/parking"
)

// stateKey is the detection_state row holding the Context.
const stateKey = "engine"

// Context is the persisted detection context. The alert ledger and hotspots
// are stored in their own tables and are not part of it.
type Context struct {
	Parking    parking.Snapshot `json:"parking"`
	Location   location.State   `json:"location"`
	LastSample motion.Sample    `json:"last_sample"`
	LastFix    motion.Fix       `json:"last_fix"`
	LastAlert  time.Time        `json:"last_alert,omitempty"`
	History    []dwell.Parking  `json:"history,omitempty"`
	SavedAt    time.Time        `json:"saved_at"`
}

// Store persists the detection context. *db.DB implements it.
type Store interface {
	LoadState(key string, v any) (version uint64, found bool, err error)
	SaveState(key string, v any, expected, next uint64, at time.Time) error

	ReplaceAlertLedger(table *camera.Table, records []camera.AlertRecord) error
	LoadAlertLedger() ([]camera.AlertRecord, error)

	ReplaceHotspots(zones []dwell.Hotspot) error
	LoadHotspots() ([]dwell.Hotspot, error)
}

// Listener receives the outputs of the detection core. Calls are made from
// the engine goroutine after the state lock is released, in event order.
type Listener interface {
	OnDrivingStarted(at time.Time, loc location.Snapshot)
	OnParkingDetected(at time.Time, loc location.Snapshot)
	OnCameraAlert(a camera.Alert)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	DrivingStarted  func(at time.Time, loc location.Snapshot)
	ParkingDetected func(at time.Time, loc location.Snapshot)
	CameraAlert     func(a camera.Alert)
}

func (l ListenerFuncs) OnDrivingStarted(at time.Time, loc location.Snapshot) {
	if l.DrivingStarted != nil {
		l.DrivingStarted(at, loc)
	}
}

func (l ListenerFuncs) OnParkingDetected(at time.Time, loc location.Snapshot) {
	if l.ParkingDetected != nil {
		l.ParkingDetected(at, loc)
	}
}

func (l ListenerFuncs) OnCameraAlert(a camera.Alert) {
	if l.CameraAlert != nil {
		l.CameraAlert(a)
	}
}

// notice is a listener call queued while the state lock is held.
type notice struct {
	driving *parking.Event
	parked  *parking.Event
	alert   *camera.Alert
}

func (n notice) deliver(l Listener) {
	switch {
	case n.driving != nil:
		l.OnDrivingStarted(n.driving.At, n.driving.Location)
	case n.parked != nil:
		l.OnParkingDetected(n.parked.At, n.parked.Location)
	case n.alert != nil:
		l.OnCameraAlert(*n.alert)
	}
}
