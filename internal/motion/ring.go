package motion

import "time"

// Ring is a fixed-capacity circular buffer of timestamped values. It keeps
// the trailing window of samples and fixes used for evidence capture.
type Ring[T any] struct {
	items    []T
	capacity int
	head     int // next write position
	size     int
	stamp    func(T) time.Time
}

// NewSampleRing returns a ring of activity samples.
func NewSampleRing(capacity int) *Ring[Sample] {
	return newRing(capacity, func(s Sample) time.Time { return s.Timestamp })
}

// NewFixRing returns a ring of position fixes.
func NewFixRing(capacity int) *Ring[Fix] {
	return newRing(capacity, func(f Fix) time.Time { return f.Timestamp })
}

func newRing[T any](capacity int, stamp func(T) time.Time) *Ring[T] {
	if capacity < 1 {
		capacity = 64
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stamp:    stamp,
	}
}

// Add stores v, overwriting the oldest entry when full.
func (r *Ring[T]) Add(v T) {
	r.items[r.head] = v
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// Len returns the number of stored entries.
func (r *Ring[T]) Len() int { return r.size }

// Latest returns the most recently added entry.
func (r *Ring[T]) Latest() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[(r.head-1+r.capacity)%r.capacity], true
}

// All returns a copy of the stored entries, oldest first.
func (r *Ring[T]) All() []T {
	out := make([]T, 0, r.size)
	start := (r.head - r.size + r.capacity) % r.capacity
	for i := 0; i < r.size; i++ {
		out = append(out, r.items[(start+i)%r.capacity])
	}
	return out
}

// Window returns a copy of the entries stamped in (end-d, end], oldest first.
func (r *Ring[T]) Window(end time.Time, d time.Duration) []T {
	from := end.Add(-d)
	var out []T
	for _, v := range r.All() {
		ts := r.stamp(v)
		if ts.After(from) && !ts.After(end) {
			out = append(out, v)
		}
	}
	return out
}

// Reset discards every entry.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head, r.size = 0, 0
}
