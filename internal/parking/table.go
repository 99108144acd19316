// Package parking implements the driving/parking state machine. It is the
// single writer of the detection state and the only place transitions are
// decided.
package parking

import (
	"errors"
	"sort"
)

// State is the detection state.
type State string

const (
	Idle    State = "IDLE"
	Driving State = "DRIVING"
	Pending State = "PARKING_PENDING"
	Parked  State = "PARKED"
)

// States lists every state in declaration order.
var States = []State{Idle, Driving, Pending, Parked}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case Idle, Driving, Pending, Parked:
		return true
	}
	return false
}

// Trigger names the reason for a transition.
type Trigger string

const (
	TriggerSustainedAutomotive Trigger = "sustained_automotive"
	TriggerStillnessBegan      Trigger = "stillness_began"
	TriggerDebounceElapsed     Trigger = "debounce_elapsed"
	TriggerDwellConfirmed      Trigger = "dwell_confirmed"
	TriggerAutomotiveResumed   Trigger = "automotive_resumed"
	TriggerDeviceDeparture     Trigger = "device_departure"
	TriggerReset               Trigger = "reset"
	TriggerColdStart           Trigger = "cold_start"
	TriggerNotParked           Trigger = "not_parked"
	TriggerDriveTooShort       Trigger = "drive_too_short"
)

// ErrInvalidTransition is returned for a (from, to, trigger) combination
// that is not in the transition table. State is left unchanged.
var ErrInvalidTransition = errors.New("parking: invalid transition")

type edge struct {
	from, to State
}

// toIdle is allowed from every state, including IDLE itself.
var toIdle = []Trigger{TriggerReset, TriggerColdStart, TriggerNotParked, TriggerDriveTooShort}

var table = map[edge][]Trigger{
	{Idle, Driving}:    {TriggerSustainedAutomotive},
	{Driving, Pending}: {TriggerStillnessBegan, TriggerDwellConfirmed},
	{Pending, Parked}:  {TriggerDebounceElapsed, TriggerDwellConfirmed},
	{Pending, Driving}: {TriggerAutomotiveResumed},
	{Parked, Driving}:  {TriggerAutomotiveResumed, TriggerDeviceDeparture},
	{Idle, Idle}:       toIdle,
	{Driving, Idle}:    toIdle,
	{Pending, Idle}:    toIdle,
	{Parked, Idle}:     toIdle,
}

// Allowed reports whether the table permits moving from one state to
// another for trigger.
func Allowed(from, to State, trigger Trigger) bool {
	for _, t := range table[edge{from, to}] {
		if t == trigger {
			return true
		}
	}
	return false
}

// Edge is one row of the transition table.
type Edge struct {
	From    State
	To      State
	Trigger Trigger
}

// Edges returns every allowed transition in a stable order.
func Edges() []Edge {
	var out []Edge
	for e, triggers := range table {
		for _, t := range triggers {
			out = append(out, Edge{From: e.from, To: e.to, Trigger: t})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Trigger < b.Trigger
	})
	return out
}
