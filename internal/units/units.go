// Package units holds the display-unit names accepted by the config, the
// m/s conversions the status API applies to fix speeds, and the local-time
// helpers behind camera enforcement windows.
package units

import (
	"sort"
	"strings"
)

const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// perMPS is how many of each unit make one metre per second.
var perMPS = map[string]float64{
	MPS:  1,
	MPH:  2.2369362920544,
	KMPH: 3.6,
	KPH:  3.6,
}

// Names returns the accepted unit names in order.
func Names() []string {
	names := make([]string, 0, len(perMPS))
	for u := range perMPS {
		names = append(names, u)
	}
	sort.Strings(names)
	return names
}

func IsValid(unit string) bool {
	_, ok := perMPS[unit]
	return ok
}

// NamesString joins Names for error messages.
func NamesString() string { return strings.Join(Names(), ", ") }

// ConvertSpeed converts m/s to unit. Unknown units pass the value through.
func ConvertSpeed(mps float64, unit string) float64 {
	if f, ok := perMPS[unit]; ok {
		return mps * f
	}
	return mps
}
