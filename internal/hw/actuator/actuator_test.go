package actuator

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/SunGo/internal/hw/gpio"
)

// recordingDriver records GPIO calls for verification.
type recordingDriver struct {
	mu      sync.Mutex
	calls   []gpioCall
	failPin int
}

type gpioCall struct {
	op    string // "setup", "write"
	pin   int
	level gpio.Level
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, gpioCall{op: "setup", pin: pin})
	return nil
}

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failPin != 0 && pin == d.failPin {
		return errors.New("bus error")
	}
	d.calls = append(d.calls, gpioCall{op: "write", pin: pin, level: level})
	return nil
}

func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	return gpio.Low, nil
}

func (d *recordingDriver) Close() error {
	return nil
}

func (d *recordingDriver) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

func (d *recordingDriver) writeCalls() []gpioCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" {
			result = append(result, c)
		}
	}
	return result
}

func testConfig() Config {
	return Config{
		Name:         "tilt",
		BrownHighPin: 17,
		BlueHighPin:  27,
		BrownLowPin:  22,
		BlueLowPin:   23,
		SwitchDelay:  time.Microsecond,
	}
}

func newTestActuator(t *testing.T, drv *recordingDriver, cfg Config) *Actuator {
	t.Helper()
	a, err := New(drv, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	drv.reset() // reset after init
	return a
}

func TestNew_SetsUpPinsAndStops(t *testing.T) {
	drv := &recordingDriver{}
	a, err := New(drv, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.State() != Stopped {
		t.Errorf("state = %v, want stop", a.State())
	}
	setups := 0
	for _, c := range drv.calls {
		if c.op == "setup" {
			setups++
		}
	}
	if setups != 4 {
		t.Errorf("expected 4 pin setups, got %d", setups)
	}
	for _, w := range drv.writeCalls() {
		if w.level != gpio.Low {
			t.Errorf("initial stop wrote HIGH on pin %d", w.pin)
		}
	}
}

func TestActuator_ExtendSequence(t *testing.T) {
	drv := &recordingDriver{}
	a := newTestActuator(t, drv, testConfig())

	if err := a.Extend(); err != nil {
		t.Fatalf("Extend: %v", err)
	}

	want := []gpioCall{
		{op: "write", pin: 17, level: gpio.Low},  // brown high released
		{op: "write", pin: 23, level: gpio.Low},  // blue low released
		{op: "write", pin: 27, level: gpio.High}, // blue high
		{op: "write", pin: 22, level: gpio.High}, // brown low
	}
	got := drv.writeCalls()
	if len(got) != len(want) {
		t.Fatalf("got %d writes, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if a.State() != Extending {
		t.Errorf("state = %v, want extend", a.State())
	}
}

func TestActuator_RetractSequence(t *testing.T) {
	drv := &recordingDriver{}
	a := newTestActuator(t, drv, testConfig())

	if err := a.Retract(); err != nil {
		t.Fatalf("Retract: %v", err)
	}
	got := drv.writeCalls()
	if len(got) != 4 {
		t.Fatalf("got %d writes, want 4", len(got))
	}
	if got[2].pin != 17 || got[2].level != gpio.High || got[3].pin != 23 || got[3].level != gpio.High {
		t.Errorf("retract should drive brown high and blue low, got %v", got[2:])
	}
}

func TestActuator_ExtendTwiceTogglesOnce(t *testing.T) {
	drv := &recordingDriver{}
	a := newTestActuator(t, drv, testConfig())

	if err := a.Extend(); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	first := len(drv.writeCalls())
	if err := a.Extend(); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if got := len(drv.writeCalls()); got != first {
		t.Errorf("second Extend wrote %d more pins, want 0", got-first)
	}
}

func TestActuator_StopIsIdempotent(t *testing.T) {
	drv := &recordingDriver{}
	a := newTestActuator(t, drv, testConfig())

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n := len(drv.writeCalls()); n != 0 {
		t.Errorf("Stop on a stopped actuator wrote %d pins", n)
	}

	_ = a.Extend()
	drv.reset()
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	writes := drv.writeCalls()
	if len(writes) != 4 {
		t.Fatalf("Stop after Extend wrote %d pins, want 4", len(writes))
	}
	for _, w := range writes {
		if w.level != gpio.Low {
			t.Errorf("Stop wrote HIGH on pin %d", w.pin)
		}
	}
}

func TestActuator_ReverseDirection(t *testing.T) {
	drv := &recordingDriver{}
	a := newTestActuator(t, drv, testConfig())

	_ = a.Extend()
	drv.reset()
	if err := a.Retract(); err != nil {
		t.Fatalf("Retract: %v", err)
	}
	writes := drv.writeCalls()
	if len(writes) != 4 {
		t.Fatalf("got %d writes, want 4", len(writes))
	}
	// extend pair must be released before the retract pair closes
	if writes[0].pin != 27 || writes[0].level != gpio.Low || writes[1].pin != 22 || writes[1].level != gpio.Low {
		t.Errorf("expected blue high and brown low released first, got %v", writes[:2])
	}
}

func TestActuator_WriteErrorForcesRedrive(t *testing.T) {
	drv := &recordingDriver{}
	a := newTestActuator(t, drv, testConfig())
	drv.mu.Lock()
	drv.failPin = 27
	drv.mu.Unlock()

	if err := a.Extend(); err == nil {
		t.Fatal("expected error from failing pin")
	}
	if a.State() == Extending {
		t.Error("state must not report extend after a failed write")
	}

	drv.mu.Lock()
	drv.failPin = 0
	drv.mu.Unlock()
	drv.reset()
	if err := a.Extend(); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if len(drv.writeCalls()) != 4 {
		t.Error("expected pins to be driven again after a failure")
	}
}

func waitForState(t *testing.T, a *Actuator, want State, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if a.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v after %v, want %v", a.State(), within, want)
}

func TestActuator_WatchdogStops(t *testing.T) {
	drv := &recordingDriver{}
	cfg := testConfig()
	cfg.AutoStop = 20 * time.Millisecond
	a := newTestActuator(t, drv, cfg)

	if err := a.Extend(); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	waitForState(t, a, Stopped, 2*time.Second)

	writes := drv.writeCalls()
	last := writes[len(writes)-4:]
	for _, w := range last {
		if w.level != gpio.Low {
			t.Errorf("watchdog stop wrote HIGH on pin %d", w.pin)
		}
	}
}

func TestActuator_RepeatedCommandFeedsWatchdog(t *testing.T) {
	drv := &recordingDriver{}
	cfg := testConfig()
	cfg.AutoStop = 300 * time.Millisecond
	a := newTestActuator(t, drv, cfg)

	for i := 0; i < 5; i++ {
		if err := a.Retract(); err != nil {
			t.Fatalf("Retract: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if a.State() != Retracting {
		t.Fatalf("state = %v, want retract while commands keep arriving", a.State())
	}
	waitForState(t, a, Stopped, 2*time.Second)
}

func TestActuator_StopCancelsWatchdog(t *testing.T) {
	drv := &recordingDriver{}
	cfg := testConfig()
	cfg.AutoStop = 20 * time.Millisecond
	a := newTestActuator(t, drv, cfg)

	_ = a.Extend()
	_ = a.Stop()
	drv.reset()
	time.Sleep(60 * time.Millisecond)
	if n := len(drv.writeCalls()); n != 0 {
		t.Errorf("cancelled watchdog still wrote %d pins", n)
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		Stopped:    "stop",
		Extending:  "extend",
		Retracting: "retract",
		unknown:    "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(s), got, want)
		}
	}
}
