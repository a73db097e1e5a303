package geometry

import (
	"github.com/cjeanneret/SunGo/internal/config"
)

// StrokeMap converts axis angles to actuator extensions.
// Each axis is linear: the range minimum is the retracted rod (0 mm),
// the range maximum the full stroke.
type StrokeMap struct {
	limits        Limits
	azimuthStroke float64
	tiltStroke    float64
}

// NewStrokeMap creates a stroke map from configuration.
func NewStrokeMap(cfg *config.Config) *StrokeMap {
	return &StrokeMap{
		limits:        LimitsFromConfig(cfg),
		azimuthStroke: cfg.Actuators.Azimuth.StrokeMm,
		tiltStroke:    cfg.Actuators.Tilt.StrokeMm,
	}
}

func toMm(r Range, stroke, angle float64) float64 {
	span := r.Max - r.Min
	if span <= 0 {
		return 0
	}
	return (r.Clamp(angle) - r.Min) / span * stroke
}

func fromMm(r Range, stroke, mm float64) float64 {
	if stroke <= 0 {
		return r.Min
	}
	return r.Clamp(r.Min + mm/stroke*(r.Max-r.Min))
}

// AzimuthMm returns the azimuth actuator extension for an angle (clamped).
func (s *StrokeMap) AzimuthMm(angle float64) float64 {
	return toMm(s.limits.Azimuth, s.azimuthStroke, angle)
}

// TiltMm returns the tilt actuator extension for an angle (clamped).
func (s *StrokeMap) TiltMm(angle float64) float64 {
	return toMm(s.limits.Tilt, s.tiltStroke, angle)
}

// AzimuthFromMm converts an azimuth actuator extension back to degrees.
func (s *StrokeMap) AzimuthFromMm(mm float64) float64 {
	return fromMm(s.limits.Azimuth, s.azimuthStroke, mm)
}

// TiltFromMm converts a tilt actuator extension back to degrees.
func (s *StrokeMap) TiltFromMm(mm float64) float64 {
	return fromMm(s.limits.Tilt, s.tiltStroke, mm)
}

// Orientation converts both extensions to an orientation.
func (s *StrokeMap) Orientation(azimuthMm, tiltMm float64) Orientation {
	return Orientation{Azimuth: s.AzimuthFromMm(azimuthMm), Tilt: s.TiltFromMm(tiltMm)}
}
