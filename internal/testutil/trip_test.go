package testutil

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/curbwatch/internal/geo"
	"github.com/banshee-data/curbwatch/internal/motion"
)

var t0 = time.Date(2026, 5, 4, 17, 30, 0, 0, time.UTC)

func TestDrive(t *testing.T) {
	p := geo.Point{Lat: 41.80, Lng: -87.65}
	sigs, last := Drive(t0, time.Minute, p)
	require.Len(t, sigs, 120)
	assert.InDelta(t, Cruise*59, geo.Distance(p, last), 0.5)
	assert.Equal(t, motion.KindActivity, sigs[0].Kind)
	assert.Equal(t, motion.KindFix, sigs[1].Kind)
	assert.True(t, t0.Add(59*time.Second).Equal(sigs[119].Timestamp()))
}

func TestStay(t *testing.T) {
	p := geo.Point{Lat: 41.80, Lng: -87.65}
	sigs := Stay(t0, 10*time.Second, p, motion.Walking)
	require.Len(t, sigs, 20)
	assert.Equal(t, motion.Walking, sigs[18].Sample.Classification)
	assert.Equal(t, motion.NoHeading, sigs[19].Fix.HeadingDeg)
}

func TestWriteSignals(t *testing.T) {
	sigs := Stay(t0, 2*time.Second, geo.Point{Lat: 41.80, Lng: -87.65}, motion.Stationary)
	path := WriteSignals(t, sigs, map[int]string{0: "junk"})
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "junk", lines[2])

	got, err := motion.NewNormalizer().ParseLine(lines[1])
	require.NoError(t, err)
	assert.Equal(t, motion.KindActivity, got.Kind)
}
