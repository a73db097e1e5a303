package motion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/SunGo/internal/debug"
	"github.com/cjeanneret/SunGo/internal/logic/geometry"
)

// Controller orchestrates azimuth/tilt movements via two linear actuators.
// It's an intermediate layer between the tracking logic (orientations in degrees)
// and the axes (extensions in millimetres).
type Controller struct {
	azimuth *Axis
	tilt    *Axis
	strokes *geometry.StrokeMap
	limits  geometry.Limits

	mu sync.Mutex // one move at a time
}

func NewController(azimuth, tilt *Axis, strokes *geometry.StrokeMap, limits geometry.Limits) *Controller {
	return &Controller{
		azimuth: azimuth,
		tilt:    tilt,
		strokes: strokes,
		limits:  limits,
	}
}

// MoveTo performs a combined movement (azimuth first, then tilt).
// The target is clamped into the mechanical limits. On failure both axes are stopped.
func (c *Controller) MoveTo(ctx context.Context, o geometry.Orientation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	o = c.limits.Clamp(o)
	debug.Verbose("Mount: moving to %s", o)
	if err := c.azimuth.MoveTo(ctx, c.strokes.AzimuthMm(o.Azimuth)); err != nil {
		return errors.Join(fmt.Errorf("move to %s: %w", o, err), c.stopAll())
	}
	if err := c.tilt.MoveTo(ctx, c.strokes.TiltMm(o.Tilt)); err != nil {
		return errors.Join(fmt.Errorf("move to %s: %w", o, err), c.stopAll())
	}
	return nil
}

// Stop halts both actuators.
func (c *Controller) Stop() error {
	return c.stopAll()
}

func (c *Controller) stopAll() error {
	return errors.Join(c.azimuth.Stop(), c.tilt.Stop())
}

// Orientation converts the encoder extensions back to degrees.
func (c *Controller) Orientation() geometry.Orientation {
	return c.strokes.Orientation(c.azimuth.PositionMm(), c.tilt.PositionMm())
}

// Extensions returns both rod extensions (azimuth, tilt) in mm.
func (c *Controller) Extensions() (float64, float64) {
	return c.azimuth.PositionMm(), c.tilt.PositionMm()
}

// Home declares the current rod positions as the retracted reference.
// Both actuators must be fully retracted when this is called.
func (c *Controller) Home() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.azimuth.Home()
	c.tilt.Home()
	debug.Info("Mount: encoders homed")
}
