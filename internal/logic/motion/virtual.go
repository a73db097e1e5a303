package motion

import (
	"context"
	"fmt"
	"sync"

	"github.com/cjeanneret/SunGo/internal/debug"
	"github.com/cjeanneret/SunGo/internal/logic/geometry"
)

// Virtual is a mount without hardware: moves complete instantly.
// It is used for simulation and mock GPIO runs.
type Virtual struct {
	limits  geometry.Limits
	strokes *geometry.StrokeMap
	initial geometry.Orientation

	mu      sync.Mutex
	current geometry.Orientation
	moves   int
	fail    error
}

func NewVirtual(initial geometry.Orientation, limits geometry.Limits, strokes *geometry.StrokeMap) *Virtual {
	initial = limits.Clamp(initial)
	return &Virtual{limits: limits, strokes: strokes, initial: initial, current: initial}
}

// MoveTo clamps and applies the orientation.
func (v *Virtual) MoveTo(ctx context.Context, o geometry.Orientation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.fail != nil {
		err := v.fail
		v.fail = nil
		return fmt.Errorf("virtual mount: %w", err)
	}
	v.current = v.limits.Clamp(o)
	v.moves++
	debug.Verbose("Virtual mount: at %s", v.current)
	return nil
}

func (v *Virtual) Stop() error { return nil }

// Orientation returns the last applied orientation.
func (v *Virtual) Orientation() geometry.Orientation {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Extensions returns the rod extensions matching the current orientation.
func (v *Virtual) Extensions() (float64, float64) {
	o := v.Orientation()
	if v.strokes == nil {
		return 0, 0
	}
	return v.strokes.AzimuthMm(o.Azimuth), v.strokes.TiltMm(o.Tilt)
}

// Home returns to the initial orientation.
func (v *Virtual) Home() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current = v.initial
}

// Moves returns the number of completed moves.
func (v *Virtual) Moves() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.moves
}

// FailNext makes the next MoveTo return err.
func (v *Virtual) FailNext(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fail = err
}
