// Package serialmux multiplexes the line stream of a serial-attached sensor
// bridge: many subscribers read lines, one writer at a time sends commands.
package serialmux

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"tailscale.com/tsweb"
)

// ErrWriteFailed is returned when the port accepted only part of a command.
var ErrWriteFailed = errors.New("short write to serial port")

// SubscriberBuffer is the number of lines a subscriber may fall behind
// before lines are dropped for it.
const SubscriberBuffer = 64

// maxLine bounds one bridge line.
const maxLine = 256 * 1024

// SerialMuxInterface is implemented by SerialMux and DisabledSerialMux.
type SerialMuxInterface interface {
	// Subscribe returns a subscription ID and a channel of lines. The
	// channel is closed by Unsubscribe or Close.
	Subscribe() (string, chan string)
	Unsubscribe(string)
	// SendCommand writes one newline-terminated command to the bridge.
	SendCommand(string) error
	// Monitor reads lines until ctx is done or the port fails.
	Monitor(context.Context) error
	Close() error
	// Initialise configures the bridge to stream signals.
	Initialise() error
	Stats() MuxStats
	// AttachAdminRoutes registers pages on the /debug/ handler.
	AttachAdminRoutes(*tsweb.DebugHandler)
}

// MuxStats counts lines seen by the multiplexer.
type MuxStats struct {
	Lines       uint64 `json:"lines"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// subscribers is the fan-out set shared by both multiplexers.
type subscribers struct {
	mu      sync.Mutex
	chans   map[string]chan string
	closed  bool
	dropped atomic.Uint64
}

func (s *subscribers) add(buffer int) (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, buffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return id, ch
	}
	if s.chans == nil {
		s.chans = make(map[string]chan string)
	}
	s.chans[id] = ch
	return id, ch
}

func (s *subscribers) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.chans[id]; ok {
		close(ch)
		delete(s.chans, id)
	}
}

// broadcast never blocks: a full subscriber loses the line.
func (s *subscribers) broadcast(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.chans {
		select {
		case ch <- line:
		default:
			s.dropped.Add(1)
		}
	}
}

// closeAll reports false when the set was already closed.
func (s *subscribers) closeAll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	for id, ch := range s.chans {
		close(ch)
		delete(s.chans, id)
	}
	return true
}

func (s *subscribers) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *subscribers) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chans)
}

// SerialMux fans the lines read from one port out to its subscribers.
type SerialMux[T SerialPorter] struct {
	port      T
	subs      subscribers
	commandMu sync.Mutex
	lines     atomic.Uint64
	now       func() time.Time
}

// NewSerialMux wraps port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{port: port, now: time.Now}
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	return s.subs.add(SubscriberBuffer)
}

func (s *SerialMux[T]) Unsubscribe(id string) { s.subs.remove(id) }

// bridgeCommand is the JSON command format understood by the sensor bridge.
type bridgeCommand struct {
	Cmd    string `json:"cmd"`
	UnixMs int64  `json:"unix_ms,omitempty"`
	Value  string `json:"value,omitempty"`
}

// streams are the signal kinds the bridge is asked to emit.
var streams = []string{"activity", "fix", "device", "visit", "lifecycle"}

// Initialise syncs the bridge clock to the host and enables every signal
// stream in JSONL format.
func (s *SerialMux[T]) Initialise() error {
	cmds := []bridgeCommand{
		{Cmd: "clock", UnixMs: s.now().UnixMilli()},
		{Cmd: "format", Value: "jsonl"},
	}
	for _, kind := range streams {
		cmds = append(cmds, bridgeCommand{Cmd: "stream", Value: kind})
	}
	for _, c := range cmds {
		b, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if err := s.SendCommand(string(b)); err != nil {
			return fmt.Errorf("send %s command: %w", c.Cmd, err)
		}
	}
	return nil
}

// SendCommand writes command to the port, appending a newline if missing.
func (s *SerialMux[T]) SendCommand(command string) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	n, err := io.WriteString(s.port, command)
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

func (s *SerialMux[T]) Stats() MuxStats {
	return MuxStats{Lines: s.lines.Load(), Dropped: s.subs.dropped.Load(), Subscribers: s.subs.len()}
}

// Monitor reads lines from the port and broadcasts them. It returns nil at
// EOF or after Close, the scanner's error if the port fails, and ctx.Err()
// on cancellation.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	// Scan blocks in Read, so it runs apart from the cancellation select.
	go func() {
		defer close(lines)
		scan := bufio.NewScanner(s.port)
		scan.Buffer(make([]byte, 4096), maxLine)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if s.subs.isClosed() {
					return nil
				}
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if s.subs.isClosed() {
				return nil
			}
			s.lines.Add(1)
			s.subs.broadcast(line)
		}
	}
}

// Close closes every subscription and then the port.
func (s *SerialMux[T]) Close() error {
	if !s.subs.closeAll() {
		return nil
	}
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(debug *tsweb.DebugHandler) {
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Wrote command %q to sensor bridge", command)
	})

	debug.HandleFunc("serial-stats", "sensor bridge line counters", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.Stats())
	})

	debug.HandleFunc("serial-ports", "attached serial devices", func(w http.ResponseWriter, r *http.Request) {
		ports, err := Ports()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ports)
	})

	debug.HandleFunc("tail", "live tail of sensor bridge lines", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		serveTail(w, r, s.Subscribe, s.Unsubscribe)
	})
}

// serveTail streams subscriber lines as server-sent events until the client
// goes away or the subscription is closed.
func serveTail(w http.ResponseWriter, r *http.Request, subscribe func() (string, chan string), unsubscribe func(string)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	id, lines := subscribe()
	defer unsubscribe(id)

	io.WriteString(w, ": ping\n\n")
	flusher.Flush()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
