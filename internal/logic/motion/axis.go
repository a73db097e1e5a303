package motion

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.einride.tech/pid"

	"github.com/cjeanneret/SunGo/internal/debug"
	"github.com/cjeanneret/SunGo/internal/hw/encoder"
)

// Motor is the command side of a linear actuator.
type Motor interface {
	Extend() error
	Retract() error
	Stop() error
}

// AxisConfig tunes the closed-loop positioning of one axis.
type AxisConfig struct {
	Name      string
	Tolerance float64       // mm; the move ends inside this band
	Poll      time.Duration // control period
	Timeout   time.Duration // upper bound for a single move
	Kp        float64
	Ki        float64
	Kd        float64
}

// Axis drives a motor until its encoder reports the requested extension.
// The PID output is saturated to [-1, 1]; its sign selects extend or retract.
type Axis struct {
	motor Motor
	pos   encoder.Position
	cfg   AxisConfig
	pid   pid.AntiWindupController
}

// NewAxis binds a motor to its position sensor.
func NewAxis(m Motor, p encoder.Position, cfg AxisConfig) *Axis {
	if cfg.Poll <= 0 {
		cfg.Poll = 10 * time.Millisecond
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 1
	}
	if cfg.Kp == 0 && cfg.Ki == 0 && cfg.Kd == 0 {
		cfg.Kp = 1
	}
	return &Axis{
		motor: m,
		pos:   p,
		cfg:   cfg,
		pid: pid.AntiWindupController{
			Config: pid.AntiWindupControllerConfig{
				ProportionalGain:    cfg.Kp,
				IntegralGain:        cfg.Ki,
				DerivativeGain:      cfg.Kd,
				AntiWindUpGain:      1,
				LowPassTimeConstant: 5 * cfg.Poll,
				MaxOutput:           1,
				MinOutput:           -1,
			},
		},
	}
}

// Name returns the axis name.
func (a *Axis) Name() string { return a.cfg.Name }

// PositionMm returns the current extension.
func (a *Axis) PositionMm() float64 { return a.pos.PositionMm() }

// Stop halts the motor.
func (a *Axis) Stop() error { return a.motor.Stop() }

// Home declares the current rod position as zero.
func (a *Axis) Home() { a.pos.ResetPosition() }

// MoveTo runs the control loop until the extension is within tolerance of targetMm.
// The motor is always stopped on return.
func (a *Axis) MoveTo(ctx context.Context, targetMm float64) error {
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	a.pid.Reset()
	ticker := time.NewTicker(a.cfg.Poll)
	defer ticker.Stop()

	debug.Verbose("Axis %s: %.1f mm -> %.1f mm", a.cfg.Name, a.pos.PositionMm(), targetMm)
	last := time.Now()
	for {
		current := a.pos.PositionMm()
		if math.Abs(targetMm-current) <= a.cfg.Tolerance {
			return a.motor.Stop()
		}

		now := time.Now()
		a.pid.Update(pid.AntiWindupControllerInput{
			ReferenceSignal:  targetMm,
			ActualSignal:     current,
			SamplingInterval: now.Sub(last),
		})
		last = now

		var err error
		switch u := a.pid.State.ControlSignal; {
		case u > 0:
			err = a.motor.Extend()
		case u < 0:
			err = a.motor.Retract()
		default:
			err = a.motor.Stop()
		}
		if err != nil {
			_ = a.motor.Stop()
			return fmt.Errorf("axis %s: %w", a.cfg.Name, err)
		}

		select {
		case <-ctx.Done():
			_ = a.motor.Stop()
			return fmt.Errorf("axis %s: move to %.1f mm stopped at %.1f mm: %w",
				a.cfg.Name, targetMm, a.pos.PositionMm(), ctx.Err())
		case <-ticker.C:
		}
	}
}
