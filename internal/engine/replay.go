package engine

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/curbwatch/internal/monitoring"
	"github.com/banshee-data/curbwatch/internal/motion"
	"github.com/banshee-data/curbwatch/internal/timeutil"
)

// ReplayStats counts what a replay did.
type ReplayStats struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
}

// Replay feeds a recorded JSONL signal stream through e. The clock is moved
// forward to each signal's event time before it is applied, so late visits
// are judged against the newest time seen so far. Undecodable lines are
// logged and skipped. A final Tick settles deadlines at the last event time.
func Replay(r io.Reader, e *Engine, clock *timeutil.MockClock) (ReplayStats, error) {
	var stats ReplayStats
	norm := motion.NewNormalizer()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		sig, err := norm.ParseLine(sc.Text())
		if errors.Is(err, motion.ErrEmptyLine) {
			continue
		}
		if err != nil {
			monitoring.Logf("[replay] line %d skipped: %v", line, err)
			stats.Skipped++
			continue
		}
		clock.AdvanceTo(sig.Timestamp())
		if err := e.Step(sig); err != nil {
			return stats, fmt.Errorf("line %d: %w", line, err)
		}
		stats.Applied++
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("read replay stream: %w", err)
	}
	e.Tick(clock.Now())
	return stats, nil
}
