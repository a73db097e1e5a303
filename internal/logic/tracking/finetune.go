package tracking

import (
	"math"

	"github.com/cjeanneret/SunGo/internal/config"
	"github.com/cjeanneret/SunGo/internal/logic/geometry"
)

// Adjustment is a provisional fine-tune move.
type Adjustment struct {
	Azimuth float64              `json:"azimuth"` // degrees, signed
	Tilt    float64              `json:"tilt"`
	From    geometry.Orientation `json:"from"`
	Target  geometry.Orientation `json:"target"` // From + delta, clamped
}

// FineTuner turns differential light readings into small orientation nudges.
type FineTuner struct {
	LightThreshold float64
	AzimuthCap     float64
	AzimuthScale   float64
	TiltCap        float64
	TiltScale      float64
	MinAdjustment  float64
}

// FineTunerFromConfig reads the fine-tune rules.
func FineTunerFromConfig(cfg *config.Config) FineTuner {
	ft := cfg.FineTune
	return FineTuner{
		LightThreshold: ft.LightThreshold,
		AzimuthCap:     ft.AzimuthCap,
		AzimuthScale:   ft.AzimuthScale,
		TiltCap:        ft.TiltCap,
		TiltScale:      ft.TiltScale,
		MinAdjustment:  ft.MinAdjustment,
	}
}

// Rule returns sign(diff) × min(limit, |diff|/scale) when |diff| exceeds the light threshold, else 0.
func (f FineTuner) Rule(diff, limit, scale float64) float64 {
	if math.Abs(diff) <= f.LightThreshold || scale <= 0 {
		return 0
	}
	return math.Copysign(math.Min(limit, math.Abs(diff)/scale), diff)
}

// Deltas returns the raw azimuth and tilt nudges for a light reading.
// A positive east-west difference increases the azimuth, a positive south-north one the tilt.
func (f FineTuner) Deltas(l Light) (float64, float64) {
	return f.Rule(l.East-l.West, f.AzimuthCap, f.AzimuthScale),
		f.Rule(l.South-l.North, f.TiltCap, f.TiltScale)
}

// Tune proposes an adjustment from s. It returns false when neither component
// exceeds the minimum significance or a reading is not finite.
func (f FineTuner) Tune(s SensorSnapshot, limits geometry.Limits) (Adjustment, bool) {
	dAz, dTilt := f.Deltas(s.Light)
	if !finite(dAz) || !finite(dTilt) {
		return Adjustment{}, false
	}
	if math.Abs(dAz) <= f.MinAdjustment && math.Abs(dTilt) <= f.MinAdjustment {
		return Adjustment{}, false
	}
	target := limits.Clamp(geometry.Orientation{
		Azimuth: s.Orientation.Azimuth + dAz,
		Tilt:    s.Orientation.Tilt + dTilt,
	})
	if target == s.Orientation {
		return Adjustment{}, false
	}
	return Adjustment{Azimuth: dAz, Tilt: dTilt, From: s.Orientation, Target: target}, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
