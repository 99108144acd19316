// Package testutil builds synthetic sensor streams for tests: drives, stops
// and walks at one activity sample and one fix per second.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/curbwatch/internal/geo"
	"github.com/banshee-data/curbwatch/internal/motion"
)

// Cruise is the speed of a synthetic drive in m/s.
const Cruise = 11.0

// Drive heads north from p at Cruise for d. It returns the signals and the
// position of the last fix.
func Drive(from time.Time, d time.Duration, p geo.Point) ([]motion.Signal, geo.Point) {
	n := int(d / time.Second)
	sigs := make([]motion.Signal, 0, 2*n)
	for i := 0; i < n; i++ {
		ts := from.Add(time.Duration(i) * time.Second)
		pos := geo.Offset(p, 0, Cruise*float64(i))
		sigs = append(sigs,
			motion.ActivitySignal(motion.Sample{Timestamp: ts, Classification: motion.Automotive, Confidence: motion.High, Source: "activity"}),
			motion.FixSignal(motion.Fix{Timestamp: ts, Lat: pos.Lat, Lng: pos.Lng, AccuracyM: 5, SpeedMps: Cruise, HeadingDeg: 0}),
		)
	}
	return sigs, geo.Offset(p, 0, Cruise*float64(n-1))
}

// Stay holds position at p for d with samples of class and heading-less fixes.
func Stay(from time.Time, d time.Duration, p geo.Point, class motion.Classification) []motion.Signal {
	n := int(d / time.Second)
	sigs := make([]motion.Signal, 0, 2*n)
	for i := 0; i < n; i++ {
		ts := from.Add(time.Duration(i) * time.Second)
		sigs = append(sigs,
			motion.ActivitySignal(motion.Sample{Timestamp: ts, Classification: class, Confidence: motion.High, Source: "activity"}),
			motion.FixSignal(motion.Fix{Timestamp: ts, Lat: p.Lat, Lng: p.Lng, AccuracyM: 8, HeadingDeg: motion.NoHeading}),
		)
	}
	return sigs
}

// WriteSignals encodes sigs as a JSONL signal file in a temp dir and returns
// its path. A junk line is written after the signal at each index in junk.
func WriteSignals(t testing.TB, sigs []motion.Signal, junk map[int]string) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("# synthetic trip\n")
	for i, s := range sigs {
		line, err := motion.EncodeLine(s)
		if err != nil {
			t.Fatalf("encode signal %d: %v", i, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
		if j, ok := junk[i]; ok {
			buf.WriteString(j)
			buf.WriteByte('\n')
		}
	}
	path := filepath.Join(t.TempDir(), "trip.jsonl")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
