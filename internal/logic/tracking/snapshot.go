package tracking

import (
	"context"
	"time"

	"github.com/cjeanneret/SunGo/internal/logic/geometry"
)

// Environment holds the ambient readings of a snapshot.
type Environment struct {
	Temperature float64 `json:"temperature"` // °C
	Humidity    float64 `json:"humidity"`    // %
	WindSpeed   float64 `json:"wind_speed"`  // m/s
}

// Light holds the four directional light sensors.
type Light struct {
	East  float64 `json:"east"`
	West  float64 `json:"west"`
	South float64 `json:"south"`
	North float64 `json:"north"`
}

// Sum returns the aggregate light intensity.
func (l Light) Sum() float64 {
	return l.East + l.West + l.South + l.North
}

// SensorSnapshot is everything known about the tracker at one instant.
// It is a value: components receive copies and never modify the original.
type SensorSnapshot struct {
	Time          time.Time               `json:"time"`
	Light         Light                   `json:"light"`
	LightSum      float64                 `json:"light_sum"`
	MeasuredPower float64                 `json:"measured_power"`
	Orientation   geometry.Orientation    `json:"orientation"`
	Env           Environment             `json:"env"`
	Sun           *geometry.SolarPosition `json:"sun,omitempty"`
}

// WithOrientation returns a copy of s pointing at o.
func (s SensorSnapshot) WithOrientation(o geometry.Orientation) SensorSnapshot {
	s.Orientation = o
	return s
}

// SensorSource produces snapshots. Implementations may be simulated or read hardware.
type SensorSource interface {
	Read(ctx context.Context, now time.Time) (SensorSnapshot, error)
}

// Conditions is the part of a snapshot kept with experience records.
type Conditions struct {
	Light Light       `json:"light"`
	Sum   float64     `json:"sum"`
	Env   Environment `json:"env"`
}

// ConditionsOf extracts the recorded conditions of s.
func ConditionsOf(s SensorSnapshot) Conditions {
	return Conditions{Light: s.Light, Sum: s.LightSum, Env: s.Env}
}
