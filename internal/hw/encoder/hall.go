package encoder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/SunGo/internal/debug"
	"github.com/cjeanneret/SunGo/internal/hw/gpio"
)

// HallConfig describes a two-channel Hall encoder on a linear actuator.
type HallConfig struct {
	Name        string
	Hall1Pin    int           // channel A
	Hall2Pin    int           // channel B
	PulsesPerMm float64       // channel A edges per millimetre of travel
	StrokeMm    float64       // full stroke length
	Poll        time.Duration // sampling period (default 1ms)
}

// Hall counts quadrature pulses from two Hall sensors.
//
// Decoding, on every edge of channel A:
// - A != B: rod extending, count +1
// - A == B: rod retracting, count -1
//
// One goroutine (Run) writes; any number of readers may query the position.
// The pulse count and derived position change together inside one critical section.
type Hall struct {
	gpio gpio.Driver
	cfg  HallConfig

	mu         sync.Mutex
	count      int64
	positionMm float64
	lastA      gpio.Level
	primed     bool
}

// NewHall configures both channels as pulled-up inputs.
func NewHall(g gpio.Driver, cfg HallConfig) (*Hall, error) {
	if cfg.PulsesPerMm <= 0 {
		return nil, fmt.Errorf("%s: pulses_per_mm must be > 0", cfg.Name)
	}
	if cfg.Poll <= 0 {
		cfg.Poll = time.Millisecond
	}
	for _, pin := range []int{cfg.Hall1Pin, cfg.Hall2Pin} {
		if err := g.SetupPin(pin, gpio.InputPullUp); err != nil {
			return nil, fmt.Errorf("%s: setup hall pin %d: %w", cfg.Name, pin, err)
		}
	}
	return &Hall{gpio: g, cfg: cfg}, nil
}

// Run samples the sensors until ctx is cancelled.
func (h *Hall) Run(ctx context.Context) error {
	debug.Verbose("Encoder %s: sampling every %v", h.cfg.Name, h.cfg.Poll)
	ticker := time.NewTicker(h.cfg.Poll)
	defer ticker.Stop()

	var lastErr string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := h.Sample(); err != nil {
				// log once per distinct error, keep sampling
				if err.Error() != lastErr {
					debug.Error(err)
					lastErr = err.Error()
				}
				continue
			}
			lastErr = ""
		}
	}
}

// Sample reads both channels once and integrates an edge if channel A changed.
func (h *Hall) Sample() error {
	a, err := h.gpio.ReadPin(h.cfg.Hall1Pin)
	if err != nil {
		return fmt.Errorf("%s: read hall1: %w", h.cfg.Name, err)
	}
	b, err := h.gpio.ReadPin(h.cfg.Hall2Pin)
	if err != nil {
		return fmt.Errorf("%s: read hall2: %w", h.cfg.Name, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.primed {
		h.lastA, h.primed = a, true
		return nil
	}
	if a == h.lastA {
		return nil
	}
	h.lastA = a
	if a != b {
		h.count++
	} else {
		h.count--
	}
	h.positionMm = float64(h.count) / h.cfg.PulsesPerMm
	return nil
}

// PositionMm returns the rod extension in millimetres.
func (h *Hall) PositionMm() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.positionMm
}

// PositionPercent returns the extension as a share of the stroke, clamped to 0-100.
func (h *Hall) PositionPercent() float64 {
	if h.cfg.StrokeMm <= 0 {
		return 0
	}
	p := h.PositionMm() / h.cfg.StrokeMm * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// PulseCount returns the raw signed pulse count.
func (h *Hall) PulseCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// ResetPosition declares the current rod position as zero (fully retracted).
func (h *Hall) ResetPosition() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count = 0
	h.positionMm = 0
	debug.Live("Encoder %s: position reset", h.cfg.Name)
}
