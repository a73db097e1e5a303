package motion

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/SunGo/internal/config"
	"github.com/cjeanneret/SunGo/internal/logic/geometry"
)

// fakePlant is a rod that moves stepMm every time its position is read
// while the motor is driven.
type fakePlant struct {
	mu       sync.Mutex
	mm       float64
	dir      int
	stepMm   float64
	stroke   float64
	commands int
	failOn   int // command number that fails, 0 = never
}

func (p *fakePlant) command(dir int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands++
	if p.failOn != 0 && p.commands == p.failOn {
		return errors.New("bridge fault")
	}
	p.dir = dir
	return nil
}

func (p *fakePlant) Extend() error  { return p.command(1) }
func (p *fakePlant) Retract() error { return p.command(-1) }
func (p *fakePlant) Stop() error    { return p.command(0) }

func (p *fakePlant) PositionMm() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mm += float64(p.dir) * p.stepMm
	p.mm = math.Max(0, math.Min(p.stroke, p.mm))
	return p.mm
}

func (p *fakePlant) PositionPercent() float64 { return p.PositionMm() / p.stroke * 100 }
func (p *fakePlant) PulseCount() int64        { return int64(p.PositionMm() * 50) }

func (p *fakePlant) ResetPosition() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mm = 0
}

func (p *fakePlant) moving() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dir != 0
}

func newAxis(p *fakePlant, name string) *Axis {
	return NewAxis(p, p, AxisConfig{
		Name:      name,
		Tolerance: 1,
		Poll:      time.Millisecond,
		Timeout:   5 * time.Second,
		Kp:        1,
	})
}

func TestAxis_MoveToExtends(t *testing.T) {
	p := &fakePlant{stepMm: 0.5, stroke: 206}
	a := newAxis(p, "tilt")

	if err := a.MoveTo(context.Background(), 50); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if got := a.PositionMm(); math.Abs(got-50) > 1.5 {
		t.Errorf("PositionMm = %v, want ≈50", got)
	}
	if p.moving() {
		t.Error("motor still driven after MoveTo")
	}
}

func TestAxis_MoveToRetracts(t *testing.T) {
	p := &fakePlant{mm: 150, stepMm: 0.5, stroke: 206}
	a := newAxis(p, "tilt")

	if err := a.MoveTo(context.Background(), 20); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if got := a.PositionMm(); math.Abs(got-20) > 1.5 {
		t.Errorf("PositionMm = %v, want ≈20", got)
	}
}

func TestAxis_AlreadyThereOnlyStops(t *testing.T) {
	p := &fakePlant{mm: 30, stepMm: 0.5, stroke: 206}
	a := newAxis(p, "azimuth")

	if err := a.MoveTo(context.Background(), 30.5); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if p.commands != 1 {
		t.Errorf("commands = %d, want 1 (stop)", p.commands)
	}
}

func TestAxis_Timeout(t *testing.T) {
	p := &fakePlant{stepMm: 0, stroke: 206} // stalled rod
	a := NewAxis(p, p, AxisConfig{Name: "tilt", Poll: time.Millisecond, Timeout: 20 * time.Millisecond})

	err := a.MoveTo(context.Background(), 100)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("MoveTo stalled: got %v, want DeadlineExceeded", err)
	}
	if p.moving() {
		t.Error("motor still driven after timeout")
	}
}

func TestAxis_MotorError(t *testing.T) {
	p := &fakePlant{stepMm: 0.5, stroke: 206, failOn: 1}
	a := newAxis(p, "tilt")

	if err := a.MoveTo(context.Background(), 100); err == nil {
		t.Fatal("MoveTo: expected motor error")
	}
	if p.moving() {
		t.Error("motor still driven after error")
	}
}

func newTestController() (*Controller, *fakePlant, *fakePlant) {
	cfg := &config.Config{
		Tracker: config.TrackerConfig{
			Azimuth: config.RangeConfig{Min: 135, Max: 225},
			Tilt:    config.RangeConfig{Min: 0, Max: 45},
		},
		Actuators: config.ActuatorsConfig{
			Azimuth: config.AxisConfig{StrokeMm: 406},
			Tilt:    config.AxisConfig{StrokeMm: 206},
		},
	}
	az := &fakePlant{stepMm: 0.5, stroke: 406}
	tilt := &fakePlant{stepMm: 0.5, stroke: 206}
	c := NewController(newAxis(az, "azimuth"), newAxis(tilt, "tilt"),
		geometry.NewStrokeMap(cfg), geometry.LimitsFromConfig(cfg))
	return c, az, tilt
}

func TestController_MoveTo(t *testing.T) {
	c, _, _ := newTestController()

	target := geometry.Orientation{Azimuth: 180, Tilt: 22.5}
	if err := c.MoveTo(context.Background(), target); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if got := c.Orientation(); !got.Near(target, 0.5) {
		t.Errorf("Orientation = %v, want ≈%v", got, target)
	}
	azMm, tiltMm := c.Extensions()
	if math.Abs(azMm-203) > 1.5 || math.Abs(tiltMm-103) > 1.5 {
		t.Errorf("Extensions = (%v, %v), want ≈(203, 103)", azMm, tiltMm)
	}
}

func TestController_MoveToClamps(t *testing.T) {
	c, _, _ := newTestController()

	if err := c.MoveTo(context.Background(), geometry.Orientation{Azimuth: 300, Tilt: -5}); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	got := c.Orientation()
	if !got.Near(geometry.Orientation{Azimuth: 225, Tilt: 0}, 0.5) {
		t.Errorf("Orientation = %v, want ≈(225, 0)", got)
	}
}

func TestController_FailureStopsBothAxes(t *testing.T) {
	c, az, tilt := newTestController()
	tilt.failOn = 2

	if err := c.MoveTo(context.Background(), geometry.Orientation{Azimuth: 200, Tilt: 30}); err == nil {
		t.Fatal("MoveTo: expected error")
	}
	if az.moving() || tilt.moving() {
		t.Error("axes still driven after failure")
	}
}

func TestController_Home(t *testing.T) {
	c, az, _ := newTestController()
	az.mm = 100
	c.Home()
	if azMm, tiltMm := c.Extensions(); azMm != 0 || tiltMm != 0 {
		t.Errorf("Extensions after Home = (%v, %v), want (0, 0)", azMm, tiltMm)
	}
}

func TestVirtual(t *testing.T) {
	limits := geometry.Limits{
		Azimuth: geometry.Range{Min: 135, Max: 225},
		Tilt:    geometry.Range{Min: 0, Max: 45},
	}
	v := NewVirtual(geometry.Orientation{Azimuth: 180, Tilt: 15}, limits, nil)

	if err := v.MoveTo(context.Background(), geometry.Orientation{Azimuth: 100, Tilt: 60}); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if got := v.Orientation(); got != (geometry.Orientation{Azimuth: 135, Tilt: 45}) {
		t.Errorf("Orientation = %v, want clamped (135, 45)", got)
	}
	if v.Moves() != 1 {
		t.Errorf("Moves = %d, want 1", v.Moves())
	}

	v.FailNext(errors.New("jammed"))
	if err := v.MoveTo(context.Background(), geometry.Orientation{Azimuth: 180, Tilt: 20}); err == nil {
		t.Error("MoveTo: expected injected failure")
	}
	if v.Moves() != 1 {
		t.Errorf("Moves after failure = %d, want 1", v.Moves())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := v.MoveTo(ctx, geometry.Orientation{}); !errors.Is(err, context.Canceled) {
		t.Errorf("MoveTo cancelled: got %v, want Canceled", err)
	}

	v.Home()
	if got := v.Orientation(); got != (geometry.Orientation{Azimuth: 180, Tilt: 15}) {
		t.Errorf("Orientation after Home = %v", got)
	}
}
