package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 17, 30, 0, 0, time.UTC)

func ticked(tk Ticker) (time.Time, bool) {
	select {
	case at := <-tk.C():
		return at, true
	default:
		return time.Time{}, false
	}
}

func TestRealClock(t *testing.T) {
	before := time.Now()
	now := RealClock{}.Now()
	assert.False(t, now.Before(before))

	tk := RealClock{}.NewTicker(time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker never fired")
	}
}

func TestMockClock_AdvanceFiresTicker(t *testing.T) {
	clock := NewMockClock(t0)
	tk := clock.NewTicker(time.Second)
	defer tk.Stop()

	clock.Advance(500 * time.Millisecond)
	_, ok := ticked(tk)
	assert.False(t, ok, "fired early")

	clock.Advance(500 * time.Millisecond)
	at, ok := ticked(tk)
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Second), at)

	// a long jump delivers one tick, not a backlog
	clock.Advance(10 * time.Second)
	_, ok = ticked(tk)
	assert.True(t, ok)
	_, ok = ticked(tk)
	assert.False(t, ok)
}

func TestMockClock_StoppedTicker(t *testing.T) {
	clock := NewMockClock(t0)
	tk := clock.NewTicker(time.Second)
	tk.Stop()
	clock.Advance(5 * time.Second)
	_, ok := ticked(tk)
	assert.False(t, ok)
}

func TestMockClock_AdvanceToIsAWatermark(t *testing.T) {
	clock := NewMockClock(t0)
	tk := clock.NewTicker(time.Minute)

	assert.True(t, clock.AdvanceTo(t0.Add(2*time.Minute)))
	assert.False(t, clock.AdvanceTo(t0.Add(time.Minute)), "late event does not rewind")
	assert.False(t, clock.AdvanceTo(t0.Add(2*time.Minute)))
	assert.Equal(t, t0.Add(2*time.Minute), clock.Now())
	_, ok := ticked(tk)
	assert.True(t, ok)

	clock.Set(t0)
	assert.Equal(t, t0, clock.Now(), "Set may rewind")
}

func TestDeadlineHelpers(t *testing.T) {
	assert.True(t, Deadline(time.Time{}, time.Minute).IsZero())
	d := Deadline(t0, time.Minute)
	assert.Equal(t, t0.Add(time.Minute), d)

	assert.False(t, Expired(time.Time{}, t0))
	assert.False(t, Expired(d, t0))
	assert.True(t, Expired(d, d))

	assert.False(t, Held(time.Time{}, t0, 0))
	assert.True(t, Held(t0, t0.Add(time.Minute), time.Minute))
	assert.False(t, Held(t0, t0.Add(59*time.Second), time.Minute))

	assert.Equal(t, 30*time.Second, Remaining(d, t0.Add(30*time.Second)))
	assert.Zero(t, Remaining(d, d.Add(time.Hour)))
	assert.Zero(t, Remaining(time.Time{}, t0))
}
