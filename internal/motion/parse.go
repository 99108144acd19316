package motion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record kinds understood by ParseLine in addition to the Kind values.
const (
	RecordCapability = "capability"
)

var (
	// ErrEmptyLine is returned for blank lines and comments.
	ErrEmptyLine = errors.New("empty line")
	// ErrUnknownKind is returned for records whose kind is not recognized.
	ErrUnknownKind = errors.New("unknown record kind")
	// ErrInvalidFix is returned for position records with unusable coordinates.
	ErrInvalidFix = errors.New("invalid fix coordinates")
)

// record is the newline-delimited JSON format emitted by the sensor bridge
// and stored in replay files.
type record struct {
	Kind       string          `json:"kind"`
	TS         json.RawMessage `json:"ts"`
	Activity   string          `json:"activity"`
	Confidence json.RawMessage `json:"confidence"`
	Source     string          `json:"source"`

	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	Accuracy *float64 `json:"accuracy"`
	Speed    *float64 `json:"speed"`
	Heading  *float64 `json:"heading"`

	Device    string `json:"device"`
	Connected *bool  `json:"connected"`

	Arrival   json.RawMessage `json:"arrival"`
	Departure json.RawMessage `json:"departure"`

	Event      string `json:"event"`
	Capability string `json:"capability"`
	Available  *bool  `json:"available"`
}

// ParseTimestamp accepts RFC3339 strings or numeric Unix milliseconds.
func ParseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		if s == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339Nano, s)
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %s: %w", raw, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

// ParseLine decodes one JSON line into a Signal. Lines that cannot be decoded
// return an error and must be logged by the caller; capability records
// degrade to an Unknown activity sample so the stream keeps flowing.
func (n *Normalizer) ParseLine(line string) (Signal, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Signal{}, ErrEmptyLine
	}

	var rec record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return Signal{}, fmt.Errorf("decode record: %w", err)
	}

	ts, err := ParseTimestamp(rec.TS)
	if err != nil {
		return Signal{}, fmt.Errorf("%s record: %w", rec.Kind, err)
	}

	switch rec.Kind {
	case string(KindActivity):
		return ActivitySignal(n.Activity(ts, rec.Activity, rawString(rec.Confidence), rec.Source)), nil

	case RecordCapability:
		if rec.Available != nil && *rec.Available {
			return Signal{}, ErrEmptyLine
		}
		return ActivitySignal(n.Unavailable(ts, rec.Capability)), nil

	case string(KindFix):
		if rec.Lat == nil || rec.Lng == nil {
			return Signal{}, ErrInvalidFix
		}
		fix, ok := n.Fix(RawFix{
			Timestamp: ts,
			Lat:       *rec.Lat,
			Lng:       *rec.Lng,
			Accuracy:  rec.Accuracy,
			Speed:     rec.Speed,
			Heading:   rec.Heading,
		})
		if !ok {
			return Signal{}, ErrInvalidFix
		}
		return FixSignal(fix), nil

	case string(KindDevice):
		connected := rec.Connected != nil && *rec.Connected
		return DeviceSignal(n.Device(ts, rec.Device, connected)), nil

	case string(KindVisit):
		arrival, err := ParseTimestamp(rec.Arrival)
		if err != nil {
			return Signal{}, fmt.Errorf("visit arrival: %w", err)
		}
		departure, err := ParseTimestamp(rec.Departure)
		if err != nil {
			return Signal{}, fmt.Errorf("visit departure: %w", err)
		}
		if arrival.IsZero() || rec.Lat == nil || rec.Lng == nil {
			return Signal{}, fmt.Errorf("visit record missing arrival or position")
		}
		v := Visit{Arrival: arrival, Departure: departure, Lat: *rec.Lat, Lng: *rec.Lng, AccuracyM: InvalidAccuracy}
		if rec.Accuracy != nil && *rec.Accuracy > 0 {
			v.AccuracyM = *rec.Accuracy
		}
		return VisitSignal(v), nil

	case string(KindLifecycle):
		kind := LifecycleKind(strings.ToLower(rec.Event))
		switch kind {
		case ColdStart, Resume, Foreground, Background:
		default:
			return Signal{}, fmt.Errorf("%w: lifecycle event %q", ErrUnknownKind, rec.Event)
		}
		return LifecycleSignal(Lifecycle{Timestamp: ts, Kind: kind}), nil
	}

	return Signal{}, fmt.Errorf("%w: %q", ErrUnknownKind, rec.Kind)
}

// EncodeLine renders s in the format accepted by ParseLine.
func EncodeLine(s Signal) ([]byte, error) {
	ts := func(t time.Time) json.RawMessage {
		if t.IsZero() {
			return nil
		}
		b, _ := json.Marshal(t.UTC().Format(time.RFC3339Nano))
		return b
	}
	f := func(v float64) *float64 { return &v }
	b := func(v bool) *bool { return &v }

	rec := struct {
		Kind       string          `json:"kind"`
		TS         json.RawMessage `json:"ts,omitempty"`
		Activity   string          `json:"activity,omitempty"`
		Confidence string          `json:"confidence,omitempty"`
		Source     string          `json:"source,omitempty"`
		Lat        *float64        `json:"lat,omitempty"`
		Lng        *float64        `json:"lng,omitempty"`
		Accuracy   *float64        `json:"accuracy,omitempty"`
		Speed      *float64        `json:"speed,omitempty"`
		Heading    *float64        `json:"heading,omitempty"`
		Device     string          `json:"device,omitempty"`
		Connected  *bool           `json:"connected,omitempty"`
		Arrival    json.RawMessage `json:"arrival,omitempty"`
		Departure  json.RawMessage `json:"departure,omitempty"`
		Event      string          `json:"event,omitempty"`
	}{Kind: string(s.Kind)}

	switch s.Kind {
	case KindActivity:
		rec.TS = ts(s.Sample.Timestamp)
		rec.Activity = string(s.Sample.Classification)
		rec.Confidence = string(s.Sample.Confidence)
		rec.Source = s.Sample.Source
	case KindFix:
		rec.TS = ts(s.Fix.Timestamp)
		rec.Lat, rec.Lng = f(s.Fix.Lat), f(s.Fix.Lng)
		rec.Accuracy, rec.Speed = f(s.Fix.AccuracyM), f(s.Fix.SpeedMps)
		if s.Fix.HasHeading() {
			rec.Heading = f(s.Fix.HeadingDeg)
		}
	case KindDevice:
		rec.TS = ts(s.Device.Timestamp)
		rec.Device = s.Device.DeviceID
		rec.Connected = b(s.Device.Connected)
	case KindVisit:
		rec.Arrival = ts(s.Visit.Arrival)
		rec.Departure = ts(s.Visit.Departure)
		rec.Lat, rec.Lng = f(s.Visit.Lat), f(s.Visit.Lng)
		rec.Accuracy = f(s.Visit.AccuracyM)
	case KindLifecycle:
		rec.TS = ts(s.Lifecycle.Timestamp)
		rec.Event = string(s.Lifecycle.Kind)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, s.Kind)
	}
	return json.Marshal(rec)
}
