package motion

import "time"

// Kind tags the variant carried by a Signal.
type Kind string

const (
	KindActivity  Kind = "activity"
	KindFix       Kind = "fix"
	KindDevice    Kind = "device"
	KindVisit     Kind = "visit"
	KindLifecycle Kind = "lifecycle"
)

// Signal is the tagged union of every input the detection core consumes.
// Exactly one of the pointer fields matching Kind is set.
type Signal struct {
	Kind      Kind
	Sample    *Sample
	Fix       *Fix
	Device    *DeviceEvent
	Visit     *Visit
	Lifecycle *Lifecycle
}

// Timestamp returns the event time of the carried variant. Visits report
// their departure, or arrival for open visits.
func (s Signal) Timestamp() time.Time {
	switch s.Kind {
	case KindActivity:
		return s.Sample.Timestamp
	case KindFix:
		return s.Fix.Timestamp
	case KindDevice:
		return s.Device.Timestamp
	case KindVisit:
		if !s.Visit.Departure.IsZero() {
			return s.Visit.Departure
		}
		return s.Visit.Arrival
	case KindLifecycle:
		return s.Lifecycle.Timestamp
	}
	return time.Time{}
}

func ActivitySignal(s Sample) Signal     { return Signal{Kind: KindActivity, Sample: &s} }
func FixSignal(f Fix) Signal             { return Signal{Kind: KindFix, Fix: &f} }
func DeviceSignal(d DeviceEvent) Signal  { return Signal{Kind: KindDevice, Device: &d} }
func VisitSignal(v Visit) Signal         { return Signal{Kind: KindVisit, Visit: &v} }
func LifecycleSignal(l Lifecycle) Signal { return Signal{Kind: KindLifecycle, Lifecycle: &l} }
