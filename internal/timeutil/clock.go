// Package timeutil provides the clock the detector reads and the deadline
// arithmetic used by its timers. Live runs use RealClock; tests and replays
// drive a MockClock from event timestamps.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the detector's source of wall-clock time.
type Clock interface {
	Now() time.Time
	// NewTicker delivers the clock's time every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker is the part of time.Ticker the engine loop uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTicker struct{ *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

// MockClock only moves when told to. Moving it delivers due ticks to its
// tickers, at most one pending tick each.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*MockTicker
}

// NewMockClock returns a clock reading t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set jumps to t, backwards if need be.
func (c *MockClock) Set(t time.Time) {
	c.move(func(time.Time) (time.Time, bool) { return t, true })
}

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.move(func(now time.Time) (time.Time, bool) { return now.Add(d), true })
}

// AdvanceTo moves the clock to t if t is later, treating the clock as a
// watermark over event timestamps that may arrive out of order. It reports
// whether the clock moved.
func (c *MockClock) AdvanceTo(t time.Time) bool {
	return c.move(func(now time.Time) (time.Time, bool) { return t, t.After(now) })
}

func (c *MockClock) move(next func(time.Time) (time.Time, bool)) bool {
	c.mu.Lock()
	now, ok := next(c.now)
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.now = now
	tickers := append([]*MockTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range tickers {
		t.fire(now)
	}
	return true
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &MockTicker{ch: make(chan time.Time, 1), every: d, next: c.now.Add(d)}
	c.tickers = append(c.tickers, t)
	return t
}

// MockTicker ticks when its MockClock passes the next due time.
type MockTicker struct {
	mu      sync.Mutex
	ch      chan time.Time
	every   time.Duration
	next    time.Time
	stopped bool
}

func (t *MockTicker) C() <-chan time.Time { return t.ch }

func (t *MockTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *MockTicker) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || now.Before(t.next) {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
	t.next = now.Add(t.every)
}
