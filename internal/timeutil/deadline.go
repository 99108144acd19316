package timeutil

import "time"

// Deadline returns start+d, or the zero time when start is zero.
func Deadline(start time.Time, d time.Duration) time.Time {
	if start.IsZero() {
		return time.Time{}
	}
	return start.Add(d)
}

// Expired reports whether a non-zero deadline is at or before now.
func Expired(deadline, now time.Time) bool {
	return !deadline.IsZero() && !now.Before(deadline)
}

// Held reports whether a condition that began at since has lasted at least d
// by now. A zero since never holds.
func Held(since, now time.Time, d time.Duration) bool {
	if since.IsZero() {
		return false
	}
	return now.Sub(since) >= d
}

// Remaining returns the time left until deadline, clamped at zero.
func Remaining(deadline, now time.Time) time.Duration {
	if deadline.IsZero() {
		return 0
	}
	if r := deadline.Sub(now); r > 0 {
		return r
	}
	return 0
}
