package serialmux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startMonitor(t *testing.T, ctx context.Context, m *SerialMux[*fakePort]) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- m.Monitor(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return")
		return nil
	}
}

func drain(ch chan string) []string {
	var out []string
	for l := range ch {
		out = append(out, l)
	}
	return out
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	m := NewSerialMux(newFakePort())
	a, chA := m.Subscribe()
	b, _ := m.Subscribe()
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, m.Stats().Subscribers)

	m.Unsubscribe(a)
	_, open := <-chA
	assert.False(t, open, "unsubscribe closes the channel")
	assert.Equal(t, 1, m.Stats().Subscribers)

	m.Unsubscribe("nope")
	m.Unsubscribe(a)
	assert.Equal(t, 1, m.Stats().Subscribers)
}

func TestSendCommand(t *testing.T) {
	port := newFakePort()
	m := NewSerialMux(port)

	require.NoError(t, m.SendCommand(`{"cmd":"ping"}`))
	require.NoError(t, m.SendCommand("{\"cmd\":\"pong\"}\n"))
	assert.Equal(t, "{\"cmd\":\"ping\"}\n{\"cmd\":\"pong\"}\n", port.raw())

	port.maxWrite = 3
	assert.ErrorIs(t, m.SendCommand(`{"cmd":"ping"}`), ErrWriteFailed)

	port.writeErr = io.ErrClosedPipe
	assert.ErrorIs(t, m.SendCommand(`{"cmd":"ping"}`), io.ErrClosedPipe)
}

func TestInitialise(t *testing.T) {
	port := newFakePort()
	m := NewSerialMux(port)
	at := time.Date(2026, 5, 4, 17, 30, 0, 0, time.UTC)
	m.now = func() time.Time { return at }

	require.NoError(t, m.Initialise())
	assert.Equal(t, []bridgeCommand{
		{Cmd: "clock", UnixMs: at.UnixMilli()},
		{Cmd: "format", Value: "jsonl"},
		{Cmd: "stream", Value: "activity"},
		{Cmd: "stream", Value: "fix"},
		{Cmd: "stream", Value: "device"},
		{Cmd: "stream", Value: "visit"},
		{Cmd: "stream", Value: "lifecycle"},
	}, port.commands(t))

	broken := newFakePort()
	broken.writeErr = errors.New("unplugged")
	err := NewSerialMux(broken).Initialise()
	assert.ErrorContains(t, err, "send clock command")
}

func TestMonitorBroadcastsToEverySubscriber(t *testing.T) {
	port := newFakePort()
	m := NewSerialMux(port)
	_, a := m.Subscribe()
	_, b := m.Subscribe()

	done := startMonitor(t, context.Background(), m)
	port.emit(t, `{"kind":"activity"}`, `{"kind":"fix"}`, `{"kind":"status"}`)
	port.hangUp(nil)
	require.NoError(t, waitDone(t, done), "EOF ends Monitor cleanly")

	require.NoError(t, m.Close())
	want := []string{`{"kind":"activity"}`, `{"kind":"fix"}`, `{"kind":"status"}`}
	assert.Equal(t, want, drain(a))
	assert.Equal(t, want, drain(b))
	assert.Equal(t, uint64(3), m.Stats().Lines)
}

func TestMonitorDropsForSlowSubscriber(t *testing.T) {
	port := newFakePort()
	m := NewSerialMux(port)
	_, slow := m.Subscribe()

	done := startMonitor(t, context.Background(), m)
	for i := 0; i < SubscriberBuffer+5; i++ {
		port.emit(t, fmt.Sprintf(`{"kind":"fix","seq":%d}`, i))
	}
	port.hangUp(nil)
	require.NoError(t, waitDone(t, done))

	st := m.Stats()
	assert.Equal(t, uint64(SubscriberBuffer+5), st.Lines)
	assert.Equal(t, uint64(5), st.Dropped)
	assert.Len(t, slow, SubscriberBuffer)
	assert.Equal(t, `{"kind":"fix","seq":0}`, <-slow, "oldest lines are kept")
}

func TestMonitorReturnsReadError(t *testing.T) {
	port := newFakePort()
	m := NewSerialMux(port)
	done := startMonitor(t, context.Background(), m)

	unplugged := errors.New("device unplugged")
	port.emit(t, `{"kind":"fix"}`)
	port.hangUp(unplugged)
	assert.ErrorIs(t, waitDone(t, done), unplugged)
}

func TestMonitorStopsOnCancel(t *testing.T) {
	m := NewSerialMux(newFakePort())
	ctx, cancel := context.WithCancel(context.Background())
	done := startMonitor(t, ctx, m)
	cancel()
	assert.ErrorIs(t, waitDone(t, done), context.Canceled)
}

func TestCloseEndsMonitorAndSubscriptions(t *testing.T) {
	port := newFakePort()
	m := NewSerialMux(port)
	_, ch := m.Subscribe()
	done := startMonitor(t, context.Background(), m)

	port.emit(t, `{"kind":"fix"}`)
	require.Eventually(t, func() bool { return m.Stats().Lines == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Close())
	assert.NoError(t, waitDone(t, done))
	assert.True(t, port.isClosed())
	assert.Equal(t, []string{`{"kind":"fix"}`}, drain(ch))

	require.NoError(t, m.Close(), "second close is a no-op")
	_, late := m.Subscribe()
	_, open := <-late
	assert.False(t, open, "subscribing after close yields a closed channel")
}
