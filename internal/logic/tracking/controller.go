package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/SunGo/internal/config"
	"github.com/cjeanneret/SunGo/internal/debug"
	"github.com/cjeanneret/SunGo/internal/logic/geometry"
	"github.com/cjeanneret/SunGo/internal/metrics"
)

// Mount is the orientation capability of the tracker: two actuated axes.
type Mount interface {
	MoveTo(ctx context.Context, o geometry.Orientation) error
	Stop() error
	Orientation() geometry.Orientation
}

// Settings are the controller parameters.
type Settings struct {
	Limits              geometry.Limits
	Window              geometry.Window
	Park                geometry.Orientation // outside the operating window
	Safe                geometry.Orientation // after a failed cycle
	Initial             geometry.Orientation // assumed at startup
	ParkTolerance       float64              // degrees; already parked within this distance
	PowerTolerance      float64              // measured/predicted ratio considered on target
	FineTuneImprovement float64              // W; a fine-tune is kept above this gain
	SettleDelay         time.Duration        // wait before re-measuring a fine-tune
}

// SettingsFromConfig reads the controller parameters.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Limits:              geometry.LimitsFromConfig(cfg),
		Window:              geometry.WindowFromConfig(cfg),
		Park:                geometry.OrientationFrom(cfg.Tracker.Park),
		Safe:                geometry.OrientationFrom(cfg.Tracker.Safe),
		Initial:             geometry.OrientationFrom(cfg.Tracker.Initial),
		ParkTolerance:       cfg.Tracker.ParkToleranceDeg,
		PowerTolerance:      cfg.Thresholds.PowerTolerance,
		FineTuneImprovement: cfg.Thresholds.FineTuneImprovementW,
		SettleDelay:         cfg.SettleDelay(),
	}
}

// NewKnowledge creates an empty experience log and a neutral correction tracker.
func NewKnowledge(cfg *config.Config) *Knowledge {
	return &Knowledge{
		Log:         NewExperienceLog(cfg.Experience.Capacity, cfg.Experience.Retain),
		Corrections: NewCorrectionTracker(CorrectionSettingsFromConfig(cfg)),
	}
}

// Dependencies are the collaborators of the controller.
type Dependencies struct {
	Source    SensorSource
	Mount     Mount
	Ephemeris geometry.Ephemeris
	Model     PowerModel
	Evaluator Evaluator
	Tuner     FineTuner
	Knowledge *Knowledge
	// Wait blocks for the fine-tune settle delay. nil waits on a timer.
	Wait func(ctx context.Context, d time.Duration) error
}

// Status summarises the tracker after a cycle.
type Status struct {
	Time           time.Time               `json:"time"`
	State          SystemState             `json:"state"`
	Orientation    geometry.Orientation    `json:"orientation"`
	Theoretical    geometry.Orientation    `json:"theoretical"`
	Sun            *geometry.SolarPosition `json:"sun,omitempty"`
	PredictedPower float64                 `json:"predicted_power"`
	MeasuredPower  float64                 `json:"measured_power"`
	FineTune       geometry.Orientation    `json:"fine_tune"` // last applied delta
	Coefficient    float64                 `json:"correction_coefficient"`
	Experience     Counts                  `json:"experience"`
	LastMovement   time.Time               `json:"last_movement"`
	Env            Environment             `json:"env"`
	EnergyWh       float64                 `json:"energy_wh"`
}

// Action is the macro-move decision of a cycle.
type Action struct {
	PredictTime    time.Time            `json:"predict_time"`
	PredictedPower float64              `json:"predicted_power"`
	Predicted      geometry.Orientation `json:"predicted"`
	Moved          bool                 `json:"moved"`
	MoveTime       time.Time            `json:"move_time"`
	MovedTo        geometry.Orientation `json:"moved_to"`
	PowerAfterMove float64              `json:"power_after_move"`
}

// CycleOutcome describes what a cycle did.
type CycleOutcome struct {
	Status       Status
	Transitions  []Transition
	Skipped      bool // no snapshot
	Parked       bool // park move issued
	OnTarget     bool
	Moved        bool
	Evaluation   *Evaluation
	Action       *Action
	FineTune     *Adjustment
	FineTuneKept bool
}

// Label classifies the outcome for metrics.
func (o CycleOutcome) Label() string {
	switch {
	case o.Skipped:
		return "skipped"
	case o.Status.State == Returning:
		return "parked"
	case o.Moved:
		return "adjusted"
	case o.OnTarget:
		return "on_target"
	default:
		return "held"
	}
}

// Controller is the tracking state machine. It owns the system state,
// the commanded orientation and, through Knowledge, the learning state.
// The wall clock is never read: every cycle receives its time.
type Controller struct {
	settings  Settings
	source    SensorSource
	mount     Mount
	ephemeris geometry.Ephemeris
	model     PowerModel
	evaluator Evaluator
	tuner     FineTuner
	knowledge *Knowledge
	wait      func(ctx context.Context, d time.Duration) error

	mu           sync.Mutex
	state        SystemState
	commanded    geometry.Orientation
	theoretical  geometry.Orientation
	sun          *geometry.SolarPosition
	predicted    float64
	measured     float64
	env          Environment
	fineTune     geometry.Orientation
	lastMovement time.Time
	status       Status
}

func NewController(s Settings, d Dependencies) *Controller {
	if d.Knowledge == nil {
		d.Knowledge = &Knowledge{
			Log:         NewExperienceLog(0, 0),
			Corrections: NewCorrectionTracker(CorrectionSettings{MinSamples: 10, Window: 20, Threshold: 5, Step: 0.05, Min: 0.7, Max: 1.3}),
		}
	}
	if d.Evaluator.Model == nil {
		d.Evaluator.Model = d.Model
	}
	if d.Wait == nil {
		d.Wait = sleepContext
	}
	c := &Controller{
		settings:  s,
		source:    d.Source,
		mount:     d.Mount,
		ephemeris: d.Ephemeris,
		model:     d.Model,
		evaluator: d.Evaluator,
		tuner:     d.Tuner,
		knowledge: d.Knowledge,
		wait:      d.Wait,
		state:     Initializing,
		commanded: s.Limits.Clamp(s.Initial),
	}
	c.theoretical = c.commanded
	c.status = c.statusLocked(time.Time{})
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// State returns the current system state.
func (c *Controller) State() SystemState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Orientation returns the last commanded orientation.
func (c *Controller) Orientation() geometry.Orientation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commanded
}

// Status returns the status built by the last cycle.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Knowledge returns the learning state.
func (c *Controller) Knowledge() *Knowledge { return c.knowledge }

// Limits returns the mechanical limits.
func (c *Controller) Limits() geometry.Limits { return c.settings.Limits }

// Settings returns the controller parameters.
func (c *Controller) Settings() Settings { return c.settings }

// RunCycle runs one decision cycle at time now.
func (c *Controller) RunCycle(ctx context.Context, now time.Time) (CycleOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out CycleOutcome
	err := c.runCycle(ctx, now, &out)
	out.Status = c.statusLocked(now)
	c.status = out.Status
	return out, err
}

func (c *Controller) runCycle(ctx context.Context, now time.Time, out *CycleOutcome) error {
	snap, err := c.source.Read(ctx, now)
	if err == nil && (!finite(snap.MeasuredPower) || !finite(snap.LightSum)) {
		err = fmt.Errorf("non-finite reading: power=%v light=%v", snap.MeasuredPower, snap.LightSum)
	}
	if err != nil {
		out.Skipped = true
		return fmt.Errorf("%w: %w", ErrSensorRead, err)
	}
	if snap.Sun == nil && c.ephemeris != nil {
		sun := c.ephemeris.SunAt(now)
		snap.Sun = &sun
	}
	c.observe(snap)
	if snap.Sun != nil {
		c.theoretical = c.settings.Limits.Clamp(geometry.SunFacing(*snap.Sun))
	}

	// 1. outside the operating window: park and stop there
	if !c.settings.Window.Contains(now) {
		if err := c.transition(out, Returning); err != nil {
			return err
		}
		return c.park(ctx, now, out)
	}

	if c.state != Tracking && c.state != Adjusting {
		if err := c.transition(out, Tracking); err != nil {
			return err
		}
	}

	// 2. compare measured power with the prediction at the current orientation
	coefficient := c.knowledge.Corrections.Coefficient()
	expected, err := c.model.Predict(snap.Orientation, snap, coefficient)
	if err != nil {
		return fmt.Errorf("predict current power: %w", err)
	}
	c.predicted = expected
	ratio := 0.0
	if expected > 0 {
		ratio = snap.MeasuredPower / expected
	}
	debug.Live("Power %.2f W / expected %.2f W (ratio %.2f)", snap.MeasuredPower, expected, ratio)

	if ratio >= c.settings.PowerTolerance {
		out.OnTarget = true
		c.knowledge.Log.Append(SuccessRecord{
			Time:       now,
			Action:     "maintain_position",
			Position:   snap.Orientation,
			Previous:   snap.Orientation,
			Power:      snap.MeasuredPower,
			Conditions: ConditionsOf(snap),
		})
		if err := c.transition(out, Tracking); err != nil {
			return err
		}
	} else {
		// 3. below expectations: evaluate the geometric optimum
		if err := c.transition(out, Adjusting); err != nil {
			return err
		}
		if snap, err = c.adjust(ctx, now, snap, coefficient, out); err != nil {
			return err
		}
	}

	// 4. fine-tune from the light sensors, whether or not a move happened
	return c.fineTuneStep(ctx, now, snap, out)
}

// adjust evaluates the candidate orientation and moves there when worthwhile.
// It returns the latest snapshot.
func (c *Controller) adjust(ctx context.Context, now time.Time, snap SensorSnapshot, coefficient float64, out *CycleOutcome) (SensorSnapshot, error) {
	candidate := c.theoretical
	ev := c.evaluator.Evaluate(snap, candidate, coefficient)
	out.Evaluation = &ev
	action := &Action{PredictTime: snap.Time, PredictedPower: ev.PredictedPower, Predicted: candidate}
	out.Action = action

	if ev.Err != nil {
		debug.Info("Evaluation failed, holding position: %v", ev.Err)
		return snap, nil
	}
	if !ev.Worthwhile {
		debug.Info("Movement not worthwhile (net %.2f W), holding %s", ev.NetGain, snap.Orientation)
		return snap, nil
	}

	if err := c.move(ctx, candidate, "track"); err != nil {
		return snap, c.actuationFailed(out, err)
	}
	c.lastMovement = now
	out.Moved = true
	action.Moved = true
	action.MoveTime = now
	action.MovedTo = c.commanded

	after, err := c.source.Read(ctx, now)
	if err != nil {
		return snap, fmt.Errorf("%w: after move: %w", ErrSensorRead, err)
	}
	if after.Sun == nil {
		after.Sun = snap.Sun
	}
	c.observe(after)
	action.PowerAfterMove = after.MeasuredPower

	rec := NewPredictionError(now, ev.PredictedPower, after.MeasuredPower, c.commanded, ConditionsOf(snap))
	c.knowledge.Log.Append(rec)
	debug.Info("Prediction %.2f W, actual %.2f W, error %+.2f W", rec.Predicted, rec.Actual, rec.Error)
	if corr, ok := c.knowledge.Corrections.Update(now, rec.Error); ok {
		c.knowledge.Log.Append(corr)
	}
	if err := c.transition(out, Tracking); err != nil {
		return after, err
	}
	return after, nil
}

// fineTuneStep applies a provisional fine-tune, re-measures after the settle
// delay and rolls back when power did not improve enough.
func (c *Controller) fineTuneStep(ctx context.Context, now time.Time, snap SensorSnapshot, out *CycleOutcome) error {
	adj, ok := c.tuner.Tune(snap, c.settings.Limits)
	if !ok {
		return nil
	}
	debug.Info("Fine-tune %+.2f° azimuth, %+.2f° tilt", adj.Azimuth, adj.Tilt)
	if err := c.move(ctx, adj.Target, "fine_tune"); err != nil {
		return c.actuationFailed(out, err)
	}
	c.lastMovement = now
	c.fineTune = geometry.Orientation{Azimuth: adj.Azimuth, Tilt: adj.Tilt}
	out.FineTune = &adj

	if err := c.wait(ctx, c.settings.SettleDelay); err != nil {
		return fmt.Errorf("fine-tune settle: %w", err)
	}
	after, err := c.source.Read(ctx, now)
	if err != nil {
		if rbErr := c.move(ctx, adj.From, "rollback"); rbErr != nil {
			return c.actuationFailed(out, rbErr)
		}
		return fmt.Errorf("%w: after fine-tune: %w", ErrSensorRead, err)
	}
	if after.Sun == nil {
		after.Sun = snap.Sun
	}
	c.observe(after)

	improvement := after.MeasuredPower - snap.MeasuredPower
	if improvement > c.settings.FineTuneImprovement {
		out.FineTuneKept = true
		c.knowledge.Log.Append(SuccessRecord{
			Time:        now,
			Action:      "fine_tune",
			Position:    adj.Target,
			Previous:    adj.From,
			Power:       after.MeasuredPower,
			Improvement: improvement,
			Conditions:  ConditionsOf(snap),
		})
		metrics.FineTunes.WithLabelValues("kept").Inc()
		debug.Info("Fine-tune kept: +%.2f W", improvement)
		return nil
	}

	c.knowledge.Log.Append(FailureRecord{
		Time:       now,
		Attempted:  adj.Target,
		Previous:   adj.From,
		PowerDelta: improvement,
		Conditions: ConditionsOf(snap),
	})
	metrics.FineTunes.WithLabelValues("rolled_back").Inc()
	debug.Info("Fine-tune rolled back: %+.2f W", improvement)
	if err := c.move(ctx, adj.From, "rollback"); err != nil {
		return c.actuationFailed(out, err)
	}
	return nil
}

// park moves to the park orientation unless already there.
func (c *Controller) park(ctx context.Context, now time.Time, out *CycleOutcome) error {
	if c.commanded.Near(c.settings.Park, c.settings.ParkTolerance) {
		return nil
	}
	debug.Info("Outside tracking hours, returning to %s", c.settings.Park)
	if err := c.move(ctx, c.settings.Park, "park"); err != nil {
		return c.actuationFailed(out, err)
	}
	c.lastMovement = now
	out.Parked = true
	return nil
}

// ForceSafe commands the safe orientation and enters Idle. The move is best-effort:
// on failure the mount is stopped and the error returned.
func (c *Controller) ForceSafe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	safe := c.settings.Limits.Clamp(c.settings.Safe)
	err := c.mount.MoveTo(ctx, safe)
	if err != nil {
		err = errors.Join(fmt.Errorf("%w: safe position: %w", ErrActuation, err), c.mount.Stop())
		c.commanded = c.settings.Limits.Clamp(c.mount.Orientation())
	} else {
		metrics.Moves.WithLabelValues("safe").Inc()
		c.commanded = safe
	}
	if c.state != Idle {
		debug.State(c.state.String(), Idle.String())
	}
	c.state = Idle
	metrics.State.Set(float64(Idle))
	c.status.State = Idle
	c.status.Orientation = c.commanded
	return err
}

func (c *Controller) move(ctx context.Context, o geometry.Orientation, kind string) error {
	o = c.settings.Limits.Clamp(o)
	if err := c.mount.MoveTo(ctx, o); err != nil {
		return err
	}
	c.commanded = o
	metrics.Moves.WithLabelValues(kind).Inc()
	return nil
}

// actuationFailed stops the mount and enters Idle.
func (c *Controller) actuationFailed(out *CycleOutcome, cause error) error {
	stopErr := c.mount.Stop()
	c.commanded = c.settings.Limits.Clamp(c.mount.Orientation())
	if err := c.transition(out, Idle); err != nil {
		debug.Error(err)
	}
	return fmt.Errorf("%w: %w", ErrActuation, errors.Join(cause, stopErr))
}

func (c *Controller) transition(out *CycleOutcome, to SystemState) error {
	from := c.state
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if from != to {
		out.Transitions = append(out.Transitions, Transition{From: from, To: to})
		debug.State(from.String(), to.String())
		metrics.State.Set(float64(to))
	}
	c.state = to
	return nil
}

func (c *Controller) observe(s SensorSnapshot) {
	c.measured = s.MeasuredPower
	c.env = s.Env
	c.sun = s.Sun
}

func (c *Controller) statusLocked(now time.Time) Status {
	return Status{
		Time:           now,
		State:          c.state,
		Orientation:    c.commanded,
		Theoretical:    c.theoretical,
		Sun:            c.sun,
		PredictedPower: c.predicted,
		MeasuredPower:  c.measured,
		FineTune:       c.fineTune,
		Coefficient:    c.knowledge.Corrections.Coefficient(),
		Experience:     c.knowledge.Log.Counts(),
		LastMovement:   c.lastMovement,
		Env:            c.env,
	}
}
