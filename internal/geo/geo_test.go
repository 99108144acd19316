package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Chicago Loop reference points.
var (
	loop      = Point{Lat: 41.8781, Lng: -87.6298}
	northLoop = Point{Lat: 41.8871, Lng: -87.6298} // ~1 km due north
)

func TestDistance(t *testing.T) {
	t.Parallel()

	d := Distance(loop, northLoop)
	assert.InDelta(t, 1000.8, d, 2.0)
	assert.Zero(t, Distance(loop, loop))
	assert.InDelta(t, d, Distance(northLoop, loop), 1e-9, "distance must be symmetric")
}

func TestBearing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		to   Point
		want float64
	}{
		{"north", Offset(loop, 0, 500), 0},
		{"east", Offset(loop, 90, 500), 90},
		{"south", Offset(loop, 180, 500), 180},
		{"west", Offset(loop, 270, 500), 270},
		{"north east", Offset(loop, 45, 500), 45},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bearing(loop, tt.to)
			assert.LessOrEqual(t, AngleDiff(got, tt.want), 0.5, "bearing %f", got)
		})
	}
}

func TestOffsetRoundTrip(t *testing.T) {
	t.Parallel()

	for _, b := range []float64{0, 33, 90, 181, 300} {
		p := Offset(loop, b, 250)
		assert.InDelta(t, 250, Distance(loop, p), 1.0, "bearing %f", b)
	}
}

func TestAngleDiff(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 20.0, AngleDiff(350, 10))
	assert.Equal(t, 180.0, AngleDiff(0, 180))
	assert.Equal(t, 0.0, AngleDiff(-90, 270))
	assert.InDelta(t, 45.0, AngleDiff(720+45, 0), 1e-9)
}

func TestNormalizeDegrees(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, NormalizeDegrees(360))
	assert.Equal(t, 270.0, NormalizeDegrees(-90))
	assert.Equal(t, 10.0, NormalizeDegrees(730))
}

func TestBoundingBoxCoversRadius(t *testing.T) {
	t.Parallel()

	box := BoundingBox(loop, 250)
	for b := 0.0; b < 360; b += 15 {
		p := Offset(loop, b, 249)
		assert.True(t, box.Contains(p), "bearing %f should be inside the box", b)
	}
	assert.False(t, box.Contains(Offset(loop, 0, 400)))
	assert.False(t, box.Contains(Offset(loop, 90, 400)))
}

func TestCircleContains(t *testing.T) {
	t.Parallel()

	c := Circle{Center: loop, RadiusM: 150}
	assert.True(t, c.Contains(Offset(loop, 10, 140), 0))
	assert.False(t, c.Contains(Offset(loop, 10, 160), 0))
	assert.True(t, c.Contains(Offset(loop, 10, 160), 20))
}

func TestPointValid(t *testing.T) {
	t.Parallel()

	assert.True(t, loop.Valid())
	assert.False(t, Point{}.Valid())
	assert.False(t, Point{Lat: 91, Lng: 0}.Valid())
	assert.False(t, Point{Lat: 0, Lng: math.Inf(1)}.Valid())
}

func TestParseOctant(t *testing.T) {
	t.Parallel()

	tests := map[string]Octant{
		"N":          North,
		"nb":         North,
		"Northbound": North,
		"EB":         East,
		"south east": SouthEast,
		"SWB":        SouthWest,
		"W":          West,
		"north-west": NorthWest,
	}
	for in, want := range tests {
		got, err := ParseOctant(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseOctant("up")
	assert.Error(t, err)
}

func TestOctantDegreesAndFor(t *testing.T) {
	t.Parallel()

	d, ok := SouthWest.Degrees()
	require.True(t, ok)
	assert.Equal(t, 225.0, d)

	_, ok = Octant("X").Degrees()
	assert.False(t, ok)

	assert.Equal(t, North, OctantFor(359))
	assert.Equal(t, NorthEast, OctantFor(30))
	assert.Equal(t, West, OctantFor(-90))
}

func TestOctantUnmarshalText(t *testing.T) {
	t.Parallel()

	var o Octant
	require.NoError(t, o.UnmarshalText([]byte("SB")))
	assert.Equal(t, South, o)
	assert.Error(t, o.UnmarshalText([]byte("sideways")))
}
