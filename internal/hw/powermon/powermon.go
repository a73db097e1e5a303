package powermon

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnavailable is returned when a channel cannot be read.
var ErrUnavailable = errors.New("power monitor unavailable")

// Reading is one voltage/current sample.
type Reading struct {
	Voltage float64 // V
	Current float64 // A
	Power   float64 // W
}

// Monitor reads voltage and current on numbered channels (1-based).
type Monitor interface {
	Read(channel int) (Reading, error)
	Close() error
}

// Simulated is a Monitor holding values set by the caller (simulation, tests).
// Unset channels report ErrUnavailable.
type Simulated struct {
	mu       sync.Mutex
	channels map[int]Reading
}

// NewSimulated returns an empty simulated monitor.
func NewSimulated() *Simulated {
	return &Simulated{channels: make(map[int]Reading)}
}

// Set stores the reading returned for channel. Power is derived when zero.
func (s *Simulated) Set(channel int, r Reading) {
	if r.Power == 0 {
		r.Power = r.Voltage * r.Current
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[channel] = r
}

func (s *Simulated) Read(channel int) (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.channels[channel]
	if !ok {
		return Reading{}, fmt.Errorf("channel %d: %w", channel, ErrUnavailable)
	}
	return r, nil
}

func (s *Simulated) Close() error { return nil }
