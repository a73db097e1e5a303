package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/SunGo/internal/debug"
	"github.com/cjeanneret/SunGo/internal/logic/tracking"
	"github.com/cjeanneret/SunGo/internal/metrics"
)

// Cycler is the decision core driven by the runner.
type Cycler interface {
	RunCycle(ctx context.Context, now time.Time) (tracking.CycleOutcome, error)
	ForceSafe(ctx context.Context) error
	Status() tracking.Status
}

// Report is published to observers after every cycle.
type Report struct {
	Cycle   uint64
	Time    time.Time
	Outcome tracking.CycleOutcome
	Status  tracking.Status // includes the accumulated energy
	Err     error
}

// Observer receives cycle reports. Observe must not block for long:
// it runs on the control loop.
type Observer interface {
	Observe(r Report)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(r Report)

func (f ObserverFunc) Observe(r Report) { f(r) }

// Params controls the loop timing.
type Params struct {
	Interval  time.Duration // between two cycles
	Cooldown  time.Duration // after an unexpected failure
	MaxCycles uint64        // 0 = run until cancelled
}

// Runner drives the tracking controller: one cycle, publish, wait, repeat.
type Runner struct {
	cycler    Cycler
	clock     Clock
	params    Params
	observers []Observer

	mu       sync.Mutex
	cycles   uint64
	energyWh float64
	lastTime time.Time
	status   tracking.Status
}

func New(c Cycler, clock Clock, p Params, observers ...Observer) *Runner {
	return &Runner{
		cycler:    c,
		clock:     clock,
		params:    p,
		observers: observers,
		status:    c.Status(),
	}
}

// Run loops until ctx is cancelled or MaxCycles cycles have run.
// Cycle failures never stop the loop; cancellation returns nil.
func (r *Runner) Run(ctx context.Context) error {
	debug.Summary("Tracking loop started")
	defer func() { debug.Info("Tracking loop stopped after %d cycles", r.Cycles()) }()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if r.params.MaxCycles > 0 && r.Cycles() >= r.params.MaxCycles {
			return nil
		}

		now := r.clock.Now()
		n := r.nextCycle()
		debug.Cycle(n, now.Format(time.RFC3339))

		out, err := r.step(ctx, now)
		wait := r.params.Interval
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if r.handleFailure(ctx, err) {
				wait = r.params.Cooldown
			}
		}

		report := r.account(n, now, out, err)
		for _, o := range r.observers {
			o.Observe(report)
		}

		if err := r.clock.Wait(ctx, wait); err != nil {
			return nil
		}
	}
}

// step runs one cycle and converts a panic into an error.
func (r *Runner) step(ctx context.Context, now time.Time) (out tracking.CycleOutcome, err error) {
	start := time.Now()
	defer func() {
		metrics.CycleDuration.Observe(time.Since(start).Seconds())
		if p := recover(); p != nil {
			err = fmt.Errorf("cycle panic: %v", p)
		}
	}()
	return r.cycler.RunCycle(ctx, now)
}

// handleFailure handles a failed cycle. It reports whether the cooldown applies.
func (r *Runner) handleFailure(ctx context.Context, err error) bool {
	switch {
	case errors.Is(err, tracking.ErrSensorRead):
		debug.Info("Sensor read failed, cycle skipped: %v", err)
		return false
	case errors.Is(err, tracking.ErrActuation):
		debug.Error(err)
		return false
	}
	debug.Error(fmt.Errorf("cycle failed, forcing safe position: %w", err))
	if safeErr := r.cycler.ForceSafe(ctx); safeErr != nil {
		debug.Error(safeErr)
	}
	return true
}

func (r *Runner) nextCycle() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles++
	return r.cycles
}

// account integrates energy and updates the status and metrics.
func (r *Runner) account(n uint64, now time.Time, out tracking.CycleOutcome, err error) Report {
	status := out.Status
	if err != nil && !out.Skipped {
		// ForceSafe may have changed the state after the cycle returned
		status = r.cycler.Status()
	}

	r.mu.Lock()
	if !out.Skipped && !r.lastTime.IsZero() && now.After(r.lastTime) {
		wh := status.MeasuredPower * now.Sub(r.lastTime).Hours()
		if wh > 0 {
			r.energyWh += wh
			metrics.EnergyWh.Add(wh)
		}
	}
	r.lastTime = now
	status.EnergyWh = r.energyWh
	if status.Time.IsZero() {
		status.Time = now
	}
	r.status = status
	r.mu.Unlock()

	label := out.Label()
	if err != nil && !out.Skipped {
		label = "failed"
	}
	metrics.CyclesTotal.WithLabelValues(label).Inc()
	metrics.State.Set(float64(status.State))
	metrics.CorrectionCoefficient.Set(status.Coefficient)
	metrics.PredictedPower.Set(status.PredictedPower)
	metrics.MeasuredPower.Set(status.MeasuredPower)

	debug.Live("Cycle %d: %s, state %s, %.2f W, %.3f Wh", n, label, status.State, status.MeasuredPower, status.EnergyWh)
	return Report{Cycle: n, Time: now, Outcome: out, Status: status, Err: err}
}

// Status returns the status of the last cycle, with the harvested energy.
func (r *Runner) Status() tracking.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Cycles returns the number of cycles started.
func (r *Runner) Cycles() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycles
}

// EnergyWh returns the energy harvested since start.
func (r *Runner) EnergyWh() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.energyWh
}
