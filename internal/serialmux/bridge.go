package serialmux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/banshee-data/curbwatch/internal/monitoring"
	"github.com/banshee-data/curbwatch/internal/motion"
)

// Line kinds reported by ClassifyLine.
const (
	LineSignal  = "signal"
	LineStatus  = "status"
	LineUnknown = "unknown"
)

// ClassifyLine inspects a bridge line and returns a simple type token.
// Status lines carry the bridge's own state and never reach the engine.
func ClassifyLine(line string) string {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return LineUnknown
	}
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal([]byte(line), &head); err != nil {
		return LineUnknown
	}
	if head.Kind == "status" {
		return LineStatus
	}
	return LineSignal
}

// Submitter accepts decoded signals. *engine.Engine implements it.
type Submitter interface {
	Submit(motion.Signal) error
}

// BridgeStats counts what the bridge did with the lines it saw.
type BridgeStats struct {
	Submitted uint64 `json:"submitted"`
	Skipped   uint64 `json:"skipped"`
	Rejected  uint64 `json:"rejected"`
	Status    uint64 `json:"status"`
}

// Bridge decodes sensor bridge lines into signals and submits them.
type Bridge struct {
	mux  SerialMuxInterface
	sink Submitter
	norm *motion.Normalizer

	mu     sync.Mutex
	stats  BridgeStats
	status map[string]any
	record io.Writer
}

// NewBridge returns a bridge reading from mux and submitting into sink.
func NewBridge(mux SerialMuxInterface, sink Submitter) *Bridge {
	return &Bridge{
		mux:    mux,
		sink:   sink,
		norm:   motion.NewNormalizer(),
		status: make(map[string]any),
	}
}

// Record copies every raw line to w so the stream can be replayed later.
func (b *Bridge) Record(w io.Writer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record = w
}

// Run consumes lines until ctx is done or the subscription is closed.
func (b *Bridge) Run(ctx context.Context) error {
	id, lines := b.mux.Subscribe()
	defer b.mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if _, err := b.HandleLine(line); err != nil {
				monitoring.Logf("[bridge] %v", err)
			}
		}
	}
}

// HandleLine decodes one line and submits the signal it carries, reporting
// whether a signal was submitted. Blank lines, comments and status lines
// submit nothing. Undecodable lines and full queues are counted and
// returned as errors for the caller to log.
func (b *Bridge) HandleLine(line string) (bool, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false, nil
	}

	b.mu.Lock()
	if b.record != nil {
		if _, err := io.WriteString(b.record, line+"\n"); err != nil {
			monitoring.Fallback.Add("bridge", line, err)
		}
	}
	b.mu.Unlock()

	if strings.HasPrefix(trimmed, "#") {
		return false, nil
	}

	switch ClassifyLine(trimmed) {
	case LineStatus:
		return false, b.handleStatus(trimmed)
	case LineUnknown:
		b.count(func(s *BridgeStats) { s.Skipped++ })
		return false, fmt.Errorf("skipped non-JSON line %q", truncate(trimmed, 80))
	}

	sig, err := b.norm.ParseLine(trimmed)
	if errors.Is(err, motion.ErrEmptyLine) {
		return false, nil
	}
	if err != nil {
		b.count(func(s *BridgeStats) { s.Skipped++ })
		return false, fmt.Errorf("decode line: %w", err)
	}
	if err := b.sink.Submit(sig); err != nil {
		b.count(func(s *BridgeStats) { s.Rejected++ })
		return false, fmt.Errorf("submit %s: %w", sig.Kind, err)
	}
	b.count(func(s *BridgeStats) { s.Submitted++ })
	return true, nil
}

func (b *Bridge) handleStatus(line string) error {
	var values map[string]any
	if err := json.Unmarshal([]byte(line), &values); err != nil {
		return fmt.Errorf("failed to unmarshal status: %w", err)
	}
	delete(values, "kind")

	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range values {
		b.status[k] = v
	}
	b.stats.Status++
	return nil
}

func (b *Bridge) count(f func(*BridgeStats)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f(&b.stats)
}

// Stats returns the bridge counters.
func (b *Bridge) Stats() BridgeStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// DeviceStatus returns a copy of the latest values reported by the bridge.
func (b *Bridge) DeviceStatus() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]any, len(b.status))
	for k, v := range b.status {
		out[k] = v
	}
	return out
}

// Clamped reports how many timestamps were clamped to keep a source ordered.
func (b *Bridge) Clamped() uint64 {
	return b.norm.Clamped()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
