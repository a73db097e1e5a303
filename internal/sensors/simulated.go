package sensors

import (
	"context"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cjeanneret/SunGo/internal/debug"
	"github.com/cjeanneret/SunGo/internal/hw/powermon"
	"github.com/cjeanneret/SunGo/internal/logic/geometry"
	"github.com/cjeanneret/SunGo/internal/logic/tracking"
)

// Orienter reports the current panel orientation.
type Orienter interface {
	Orientation() geometry.Orientation
}

// vaneGain is the share of a sensor reading that depends on the
// sun offset from the panel normal.
const vaneGain = 0.5

// panelVoltage is the nominal operating voltage reported to the power monitor.
const panelVoltage = 18.0

// SimulatedOptions tunes the simulated source.
type SimulatedOptions struct {
	Noise        float64             // light noise standard deviation
	LightDivisor float64             // keeps light sum / divisor close to panel power
	Monitor      *powermon.Simulated // optional; receives the panel reading
	PanelChannel int
}

// Simulated derives light and power from the clear-sky sun position and
// the orientation reported by the mount.
type Simulated struct {
	ephemeris geometry.Ephemeris
	panel     geometry.Panel
	mount     Orienter
	opts      SimulatedOptions
	scale     float64 // sensor reading per W/m² of panel irradiance

	mu    sync.Mutex
	noise distuv.Normal
	wind  distuv.Uniform
}

func NewSimulated(eph geometry.Ephemeris, panel geometry.Panel, mount Orienter, opts SimulatedOptions) *Simulated {
	if opts.LightDivisor <= 0 {
		opts.LightDivisor = 50
	}
	return &Simulated{
		ephemeris: eph,
		panel:     panel,
		mount:     mount,
		opts:      opts,
		scale:     opts.LightDivisor * panel.Power(1) / 4,
		noise:     distuv.Normal{Mu: 0, Sigma: opts.Noise},
		wind:      distuv.Uniform{Min: 0, Max: 10},
	}
}

// Read returns the snapshot seen at now with the mount's current orientation.
func (s *Simulated) Read(ctx context.Context, now time.Time) (tracking.SensorSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return tracking.SensorSnapshot{}, err
	}
	sun := s.ephemeris.SunAt(now)
	o := s.mount.Orientation()
	irr := geometry.PanelIrradiance(sun, o)
	power := s.panel.Power(irr)

	light := s.light(sun, o, irr)
	snap := tracking.SensorSnapshot{
		Time:          now,
		Light:         light,
		LightSum:      light.Sum(),
		MeasuredPower: power,
		Orientation:   o,
		Env:           s.environment(now, sun),
		Sun:           &sun,
	}
	if s.opts.Monitor != nil {
		s.opts.Monitor.Set(s.opts.PanelChannel, powermon.Reading{
			Voltage: panelVoltage,
			Current: power / panelVoltage,
			Power:   power,
		})
	}
	debug.Verbose("Simulated: sun %.1f°/%.1f°, irradiance %.1f W/m², power %.2f W", sun.Azimuth, sun.Elevation, irr, power)
	return snap, nil
}

// light spreads the irradiance over the four sensors. East exceeds West when
// the sun lies west of the panel normal; South exceeds North when the sun is
// lower than the normal.
func (s *Simulated) light(sun geometry.SolarPosition, o geometry.Orientation, irr float64) tracking.Light {
	if irr <= 0 {
		return tracking.Light{}
	}
	base := irr * s.scale
	normalElevation := 90 - o.Tilt
	dAz := math.Sin((sun.Azimuth - o.Azimuth) * math.Pi / 180)
	dEl := math.Sin((normalElevation - sun.Elevation) * math.Pi / 180)

	s.mu.Lock()
	defer s.mu.Unlock()
	reading := func(v float64) float64 {
		return math.Max(0, v+s.noise.Rand())
	}
	return tracking.Light{
		East:  reading(base * (1 + vaneGain*dAz)),
		West:  reading(base * (1 - vaneGain*dAz)),
		South: reading(base * (1 + vaneGain*dEl)),
		North: reading(base * (1 - vaneGain*dEl)),
	}
}

// environment follows a daily cycle: warmest and driest mid-afternoon.
func (s *Simulated) environment(now time.Time, sun geometry.SolarPosition) tracking.Environment {
	h := float64(now.Hour()) + float64(now.Minute())/60
	phase := math.Sin(2 * math.Pi * (h - 9) / 24)
	if sun.Up() {
		phase = math.Max(phase, sun.Elevation/90)
	}
	s.mu.Lock()
	wind := s.wind.Rand()
	s.mu.Unlock()
	return tracking.Environment{
		Temperature: 25 + 10*phase,
		Humidity:    60 - 20*phase,
		WindSpeed:   wind,
	}
}
