package actuator

import (
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/SunGo/internal/debug"
	"github.com/cjeanneret/SunGo/internal/hw/gpio"
	"github.com/cjeanneret/SunGo/internal/metrics"
)

// Config holds the H-bridge wiring of a linear actuator (BCM numbering).
// The motor leads are named after their wire colours: the brown/blue high side
// and the brown/blue low side switches.
type Config struct {
	Name         string
	BrownHighPin int
	BlueHighPin  int
	BrownLowPin  int
	BlueLowPin   int
	SwitchDelay  time.Duration // dead time between releasing one pair and driving the other
	AutoStop     time.Duration // watchdog: stop if no command arrives within this delay. 0 = disabled.
}

// State is the last commanded motion.
type State int

const (
	Stopped State = iota
	Extending
	Retracting
	unknown // after a failed pin write; forces the next command to re-drive the pins
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stop"
	case Extending:
		return "extend"
	case Retracting:
		return "retract"
	default:
		return "unknown"
	}
}

// Actuator drives one linear actuator through an H-bridge.
// Commands are idempotent: repeating the current command only feeds the watchdog.
type Actuator struct {
	gpio gpio.Driver
	cfg  Config

	mu       sync.Mutex
	state    State
	watchdog *time.Timer
	gen      uint64 // invalidates timers that fired after being replaced
}

// New configures the four switch pins as outputs and leaves the motor stopped.
func New(g gpio.Driver, cfg Config) (*Actuator, error) {
	a := &Actuator{gpio: g, cfg: cfg, state: unknown}
	for _, pin := range a.pins() {
		if err := g.SetupPin(pin, gpio.Output); err != nil {
			return nil, fmt.Errorf("%s: setup pin %d: %w", cfg.Name, pin, err)
		}
	}
	if err := a.Stop(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Actuator) pins() []int {
	return []int{a.cfg.BrownHighPin, a.cfg.BlueHighPin, a.cfg.BrownLowPin, a.cfg.BlueLowPin}
}

// Name returns the configured axis name.
func (a *Actuator) Name() string { return a.cfg.Name }

// State returns the last commanded motion.
func (a *Actuator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Extend pushes the rod out.
func (a *Actuator) Extend() error {
	return a.drive(Extending)
}

// Retract pulls the rod in.
func (a *Actuator) Retract() error {
	return a.drive(Retracting)
}

// Stop releases all four switches.
func (a *Actuator) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disarm()
	return a.stopLocked("command")
}

func (a *Actuator) drive(target State) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.arm()
	if a.state == target {
		return nil
	}

	// release the opposite pair first, then close the requested pair
	var release, engage [2]int
	if target == Extending {
		release = [2]int{a.cfg.BrownHighPin, a.cfg.BlueLowPin}
		engage = [2]int{a.cfg.BlueHighPin, a.cfg.BrownLowPin}
	} else {
		release = [2]int{a.cfg.BlueHighPin, a.cfg.BrownLowPin}
		engage = [2]int{a.cfg.BrownHighPin, a.cfg.BlueLowPin}
	}
	if err := a.write(release, gpio.Low); err != nil {
		a.state = unknown
		return fmt.Errorf("%s %s: %w", a.cfg.Name, target, err)
	}
	if a.cfg.SwitchDelay > 0 {
		time.Sleep(a.cfg.SwitchDelay)
	}
	if err := a.write(engage, gpio.High); err != nil {
		a.state = unknown
		_ = a.write(engage, gpio.Low)
		return fmt.Errorf("%s %s: %w", a.cfg.Name, target, err)
	}

	debug.Move(a.cfg.Name, target.String())
	metrics.ActuatorCommands.WithLabelValues(a.cfg.Name, target.String()).Inc()
	a.state = target
	return nil
}

func (a *Actuator) write(pins [2]int, level gpio.Level) error {
	for _, pin := range pins {
		if err := a.gpio.WritePin(pin, level); err != nil {
			return fmt.Errorf("write pin %d: %w", pin, err)
		}
	}
	return nil
}

func (a *Actuator) stopLocked(reason string) error {
	if a.state == Stopped {
		return nil
	}
	var firstErr error
	for _, pin := range a.pins() {
		if err := a.gpio.WritePin(pin, gpio.Low); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s stop: write pin %d: %w", a.cfg.Name, pin, err)
		}
	}
	if firstErr != nil {
		a.state = unknown
		return firstErr
	}
	debug.Move(a.cfg.Name, "stop ("+reason+")")
	metrics.ActuatorCommands.WithLabelValues(a.cfg.Name, Stopped.String()).Inc()
	a.state = Stopped
	return nil
}

// arm (re)starts the auto-stop watchdog. Caller holds mu.
func (a *Actuator) arm() {
	if a.cfg.AutoStop <= 0 {
		return
	}
	a.disarm()
	gen := a.gen
	a.watchdog = time.AfterFunc(a.cfg.AutoStop, func() { a.expire(gen) })
}

// disarm cancels the pending watchdog. Caller holds mu.
func (a *Actuator) disarm() {
	a.gen++
	if a.watchdog != nil {
		a.watchdog.Stop()
		a.watchdog = nil
	}
}

func (a *Actuator) expire(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen {
		return
	}
	a.watchdog = nil
	if err := a.stopLocked("watchdog"); err != nil {
		debug.Error(err)
	}
}
