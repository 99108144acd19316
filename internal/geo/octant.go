package geo

import (
	"fmt"
	"strings"
)

// Octant is one of the eight compass directions used to describe the
// approach a camera enforces.
type Octant string

const (
	North     Octant = "N"
	NorthEast Octant = "NE"
	East      Octant = "E"
	SouthEast Octant = "SE"
	South     Octant = "S"
	SouthWest Octant = "SW"
	West      Octant = "W"
	NorthWest Octant = "NW"
)

var octantDegrees = map[Octant]float64{
	North:     0,
	NorthEast: 45,
	East:      90,
	SouthEast: 135,
	South:     180,
	SouthWest: 225,
	West:      270,
	NorthWest: 315,
}

// Degrees returns the compass heading at the center of the octant.
func (o Octant) Degrees() (float64, bool) {
	d, ok := octantDegrees[o]
	return d, ok
}

// OctantFor returns the octant containing heading.
func OctantFor(heading float64) Octant {
	order := []Octant{North, NorthEast, East, SouthEast, South, SouthWest, West, NorthWest}
	idx := int((NormalizeDegrees(heading)+22.5)/45) % 8
	return order[idx]
}

// ParseOctant accepts canonical labels ("NE"), travel-direction labels used
// by city open-data exports ("NB", "Eastbound", "SWB") and full names
// ("north east").
func ParseOctant(s string) (Octant, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(v)
	v = strings.TrimSuffix(v, "BOUND")
	if len(v) > 1 && strings.HasSuffix(v, "B") {
		v = strings.TrimSuffix(v, "B")
	}

	switch v {
	case "N", "NORTH":
		return North, nil
	case "NE", "NORTHEAST":
		return NorthEast, nil
	case "E", "EAST":
		return East, nil
	case "SE", "SOUTHEAST":
		return SouthEast, nil
	case "S", "SOUTH":
		return South, nil
	case "SW", "SOUTHWEST":
		return SouthWest, nil
	case "W", "WEST":
		return West, nil
	case "NW", "NORTHWEST":
		return NorthWest, nil
	}
	return "", fmt.Errorf("unknown compass direction %q", s)
}

// UnmarshalText lets octants be decoded from YAML and JSON strings.
func (o *Octant) UnmarshalText(b []byte) error {
	v, err := ParseOctant(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}
