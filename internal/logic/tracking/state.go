package tracking

import (
	"errors"
	"fmt"
)

var (
	// ErrSensorRead marks a cycle skipped because no snapshot could be taken.
	ErrSensorRead = errors.New("sensor read failed")
	// ErrPrediction marks a power model that could not produce a value.
	ErrPrediction = errors.New("prediction failed")
	// ErrActuation marks a mount command that failed; the mount has been stopped.
	ErrActuation = errors.New("actuation failed")
	// ErrInvalidTransition is returned for a state change missing from the transition table.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// SystemState is the tracker operating mode.
type SystemState int

const (
	Initializing SystemState = iota
	Tracking
	Adjusting
	Returning
	Idle
)

func (s SystemState) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Tracking:
		return "tracking"
	case Adjusting:
		return "adjusting"
	case Returning:
		return "returning"
	case Idle:
		return "idle"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name (JSON, CSV).
func (s SystemState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists, for each state, the states it may move to.
var transitions = map[SystemState][]SystemState{
	Initializing: {Tracking, Returning, Idle},
	Tracking:     {Tracking, Adjusting, Returning, Idle},
	Adjusting:    {Tracking, Adjusting, Returning, Idle},
	Returning:    {Returning, Tracking, Idle},
	Idle:         {Idle, Tracking, Returning},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to SystemState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is one state change observed during a cycle.
type Transition struct {
	From SystemState `json:"from"`
	To   SystemState `json:"to"`
}

func (t Transition) String() string {
	return t.From.String() + "->" + t.To.String()
}
