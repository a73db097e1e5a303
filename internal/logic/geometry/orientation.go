package geometry

import (
	"fmt"
	"math"
	"time"

	"github.com/cjeanneret/SunGo/internal/config"
)

// Orientation is a panel pointing direction in degrees.
// Azimuth is measured clockwise from north, tilt upward from horizontal.
type Orientation struct {
	Azimuth float64 `json:"azimuth"`
	Tilt    float64 `json:"tilt"`
}

func (o Orientation) String() string {
	return fmt.Sprintf("(az=%.2f°, tilt=%.2f°)", o.Azimuth, o.Tilt)
}

// AngleChange returns |Δazimuth| + |Δtilt| between two orientations.
func (o Orientation) AngleChange(to Orientation) float64 {
	return math.Abs(to.Azimuth-o.Azimuth) + math.Abs(to.Tilt-o.Tilt)
}

// Near reports whether both axes are within tol degrees of other.
func (o Orientation) Near(other Orientation, tol float64) bool {
	return math.Abs(o.Azimuth-other.Azimuth) <= tol && math.Abs(o.Tilt-other.Tilt) <= tol
}

// Range is an inclusive angle interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Clamp returns v limited to [Min, Max]. NaN maps to Min.
func (r Range) Clamp(v float64) float64 {
	if math.IsNaN(v) || v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Contains reports whether v lies in the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Limits are the mechanical ranges of both axes.
type Limits struct {
	Azimuth Range `json:"azimuth"`
	Tilt    Range `json:"tilt"`
}

// LimitsFromConfig reads the tracker ranges.
func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		Azimuth: Range{Min: cfg.Tracker.Azimuth.Min, Max: cfg.Tracker.Azimuth.Max},
		Tilt:    Range{Min: cfg.Tracker.Tilt.Min, Max: cfg.Tracker.Tilt.Max},
	}
}

// Clamp limits both axes.
func (l Limits) Clamp(o Orientation) Orientation {
	return Orientation{Azimuth: l.Azimuth.Clamp(o.Azimuth), Tilt: l.Tilt.Clamp(o.Tilt)}
}

// Contains reports whether o is reachable without clamping.
func (l Limits) Contains(o Orientation) bool {
	return l.Azimuth.Contains(o.Azimuth) && l.Tilt.Contains(o.Tilt)
}

// Window is the daily operating period, in whole hours, inclusive on both ends.
type Window struct {
	StartHour int
	EndHour   int
	Location  *time.Location // hours are evaluated in this zone; nil = the time's own zone
}

// WindowFromConfig reads the tracking hours and the site time zone.
func WindowFromConfig(cfg *config.Config) Window {
	return Window{StartHour: cfg.Tracker.StartHour, EndHour: cfg.Tracker.EndHour, Location: cfg.TimeLocation()}
}

// Contains reports whether t falls within the operating window.
func (w Window) Contains(t time.Time) bool {
	if w.Location != nil {
		t = t.In(w.Location)
	}
	h := t.Hour()
	return h >= w.StartHour && h <= w.EndHour
}

// OrientationFrom converts a configured orientation.
func OrientationFrom(c config.OrientationConfig) Orientation {
	return Orientation{Azimuth: c.Azimuth, Tilt: c.Tilt}
}
