// Package geo implements the spherical geometry used by the proximity and
// dwell logic: great-circle distance, initial bearing, bounding boxes and
// compass octants.
package geo

import (
	"math"
)

// EarthRadiusM is the mean Earth radius used by Distance.
const EarthRadiusM = 6371008.8

// metersPerDegreeLat is the length of one degree of latitude on the sphere
// used by Distance.
const metersPerDegreeLat = EarthRadiusM * math.Pi / 180

// boxMargin widens bounding boxes so rounding never excludes a point the
// exact distance check would accept.
const boxMargin = 1.01

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Valid reports whether p lies within the WGS84 coordinate ranges and is not
// the (0,0) placeholder emitted by some feeds for missing data.
func (p Point) Valid() bool {
	if p.Lat == 0 && p.Lng == 0 {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }
func deg(rad float64) float64 { return rad * 180 / math.Pi }

// Distance returns the haversine great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	lat1, lat2 := rad(a.Lat), rad(b.Lat)
	dLat := lat2 - lat1
	dLng := rad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Bearing returns the initial compass bearing from a to b in degrees [0, 360).
func Bearing(a, b Point) float64 {
	lat1, lat2 := rad(a.Lat), rad(b.Lat)
	dLng := rad(b.Lng - a.Lng)

	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	return NormalizeDegrees(deg(math.Atan2(y, x)))
}

// NormalizeDegrees maps any angle onto [0, 360).
func NormalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// AngleDiff returns the smallest absolute difference between two compass
// angles, in [0, 180].
func AngleDiff(a, b float64) float64 {
	d := math.Abs(NormalizeDegrees(a) - NormalizeDegrees(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// Offset returns the point reached by travelling meters along bearingDeg
// from p. It uses the equirectangular approximation, which is accurate to
// well under a meter at the sub-kilometer scales used here.
func Offset(p Point, bearingDeg, meters float64) Point {
	b := rad(bearingDeg)
	dLat := meters * math.Cos(b) / metersPerDegreeLat
	dLng := meters * math.Sin(b) / (metersPerDegreeLat * math.Cos(rad(p.Lat)))
	return Point{Lat: p.Lat + dLat, Lng: p.Lng + dLng}
}

// Box is an axis-aligned latitude/longitude rectangle.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// BoundingBox returns a rectangle that contains every point within radius
// meters of center. It over-covers slightly so the exact distance check
// remains the authority.
func BoundingBox(center Point, radius float64) Box {
	radius *= boxMargin
	dLat := radius / metersPerDegreeLat
	cosLat := math.Cos(rad(center.Lat))
	if cosLat < 1e-6 {
		cosLat = 1e-6
	}
	dLng := radius / (metersPerDegreeLat * cosLat)
	return Box{
		MinLat: center.Lat - dLat,
		MaxLat: center.Lat + dLat,
		MinLng: center.Lng - dLng,
		MaxLng: center.Lng + dLng,
	}
}

// Contains reports whether p lies inside the box.
func (b Box) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// Circle is a geofence around a center point.
type Circle struct {
	Center  Point   `json:"center"`
	RadiusM float64 `json:"radius_m"`
}

// Contains reports whether p lies within the circle, with slack meters of
// extra tolerance for imprecise inputs.
func (c Circle) Contains(p Point, slack float64) bool {
	return Distance(c.Center, p) <= c.RadiusM+slack
}
