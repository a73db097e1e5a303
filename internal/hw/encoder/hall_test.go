package encoder

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/SunGo/internal/hw/gpio"
)

// scriptedDriver returns levels set by the test for the two hall pins.
type scriptedDriver struct {
	mu      sync.Mutex
	levels  map[int]gpio.Level
	modes   map[int]gpio.PinMode
	readErr error
}

func newScriptedDriver() *scriptedDriver {
	return &scriptedDriver{levels: map[int]gpio.Level{}, modes: map[int]gpio.PinMode{}}
}

func (d *scriptedDriver) SetupPin(pin int, mode gpio.PinMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.modes[pin] = mode
	return nil
}

func (d *scriptedDriver) WritePin(pin int, level gpio.Level) error { return nil }

func (d *scriptedDriver) ReadPin(pin int) (gpio.Level, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readErr != nil {
		return gpio.Low, d.readErr
	}
	return d.levels[pin], nil
}

func (d *scriptedDriver) Close() error { return nil }

func (d *scriptedDriver) set(a, b gpio.Level) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.levels[1] = a
	d.levels[2] = b
}

// forward quadrature: A leads B
var forward = [][2]gpio.Level{
	{gpio.Low, gpio.Low},
	{gpio.High, gpio.Low},
	{gpio.High, gpio.High},
	{gpio.Low, gpio.High},
}

func newTestHall(t *testing.T, d *scriptedDriver) *Hall {
	t.Helper()
	h, err := NewHall(d, HallConfig{Name: "tilt", Hall1Pin: 1, Hall2Pin: 2, PulsesPerMm: 2, StrokeMm: 10})
	if err != nil {
		t.Fatalf("NewHall: %v", err)
	}
	return h
}

// drive plays the quadrature sequence for n steps (negative = backwards), sampling each state.
func drive(t *testing.T, h *Hall, d *scriptedDriver, phase *int, n int) {
	t.Helper()
	dir := 1
	if n < 0 {
		dir, n = -1, -n
	}
	for i := 0; i < n; i++ {
		*phase = (*phase + dir + 4) % 4
		s := forward[*phase]
		d.set(s[0], s[1])
		if err := h.Sample(); err != nil {
			t.Fatalf("Sample: %v", err)
		}
	}
}

func TestNewHall_PullUpInputs(t *testing.T) {
	d := newScriptedDriver()
	newTestHall(t, d)
	for _, pin := range []int{1, 2} {
		if d.modes[pin] != gpio.InputPullUp {
			t.Errorf("pin %d mode = %v, want input-pullup", pin, d.modes[pin])
		}
	}
}

func TestNewHall_RejectsZeroResolution(t *testing.T) {
	if _, err := NewHall(newScriptedDriver(), HallConfig{Name: "x"}); err == nil {
		t.Fatal("expected error for pulses_per_mm = 0")
	}
}

func TestHall_CountsForward(t *testing.T) {
	d := newScriptedDriver()
	h := newTestHall(t, d)
	phase := 0
	d.set(forward[0][0], forward[0][1])
	_ = h.Sample() // prime

	drive(t, h, d, &phase, 8) // two full cycles = 4 edges on A

	if got := h.PulseCount(); got != 4 {
		t.Errorf("PulseCount = %d, want 4", got)
	}
	if got := h.PositionMm(); got != 2 {
		t.Errorf("PositionMm = %v, want 2", got)
	}
	if got := h.PositionPercent(); math.Abs(got-20) > 1e-9 {
		t.Errorf("PositionPercent = %v, want 20", got)
	}
}

func TestHall_CountsBackward(t *testing.T) {
	d := newScriptedDriver()
	h := newTestHall(t, d)
	phase := 0
	d.set(forward[0][0], forward[0][1])
	_ = h.Sample()

	drive(t, h, d, &phase, 8)
	drive(t, h, d, &phase, -4)

	if got := h.PulseCount(); got != 2 {
		t.Errorf("PulseCount = %d, want 2", got)
	}
}

func TestHall_FirstSampleOnlyPrimes(t *testing.T) {
	d := newScriptedDriver()
	h := newTestHall(t, d)
	d.set(gpio.High, gpio.Low)
	_ = h.Sample()
	if got := h.PulseCount(); got != 0 {
		t.Errorf("PulseCount after first sample = %d, want 0", got)
	}
}

func TestHall_ResetPosition(t *testing.T) {
	d := newScriptedDriver()
	h := newTestHall(t, d)
	phase := 0
	d.set(forward[0][0], forward[0][1])
	_ = h.Sample()
	drive(t, h, d, &phase, 4)

	h.ResetPosition()
	if h.PulseCount() != 0 || h.PositionMm() != 0 {
		t.Errorf("after reset: count=%d mm=%v", h.PulseCount(), h.PositionMm())
	}
}

func TestHall_PercentClamped(t *testing.T) {
	d := newScriptedDriver()
	h := newTestHall(t, d)
	phase := 0
	d.set(forward[0][0], forward[0][1])
	_ = h.Sample()
	drive(t, h, d, &phase, -8)
	if got := h.PositionPercent(); got != 0 {
		t.Errorf("negative position percent = %v, want 0", got)
	}
}

func TestHall_ReadError(t *testing.T) {
	d := newScriptedDriver()
	h := newTestHall(t, d)
	d.readErr = errors.New("i/o")
	if err := h.Sample(); err == nil {
		t.Fatal("expected read error")
	}
}

func TestHall_RunStopsOnCancel(t *testing.T) {
	d := newScriptedDriver()
	h := newTestHall(t, d)
	h.cfg.Poll = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	// concurrent readers must not race with the sampler
	for i := 0; i < 20; i++ {
		_ = h.PositionMm()
		_ = h.PulseCount()
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
