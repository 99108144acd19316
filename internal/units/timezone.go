package units

import (
	"fmt"
	"time"
)

// LoadZone resolves an IANA zone name against the system tz database.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		return nil, fmt.Errorf("empty timezone")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", name, err)
	}
	return loc, nil
}

func IsTimezoneValid(name string) bool {
	_, err := LoadZone(name)
	return err == nil
}

// SinceMidnight returns how far t is into its own local day.
func SinceMidnight(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
}

// InDailyWindow reports whether t, read in loc, falls in [start, end).
// A window whose end precedes its start wraps past midnight; equal bounds
// cover the whole day.
func InDailyWindow(t time.Time, loc *time.Location, start, end time.Duration) bool {
	if loc != nil {
		t = t.In(loc)
	}
	off := SinceMidnight(t)
	switch {
	case start == end:
		return true
	case start < end:
		return off >= start && off < end
	default:
		return off >= start || off < end
	}
}
