package geometry

import (
	"math"

	"github.com/cjeanneret/SunGo/internal/config"
)

// Panel holds the photovoltaic conversion parameters.
type Panel struct {
	AreaM2           float64
	Efficiency       float64 // cell efficiency (0.20 = 20%)
	SystemEfficiency float64 // wiring, inverter, temperature losses
}

// PanelFromConfig reads the panel parameters.
func PanelFromConfig(cfg *config.Config) Panel {
	return Panel{
		AreaM2:           cfg.Model.Panel.AreaM2,
		Efficiency:       cfg.Model.Panel.Efficiency,
		SystemEfficiency: cfg.Model.Panel.SystemEfficiency,
	}
}

// CosIncidence returns the cosine of the angle between the sun ray and the panel normal.
// Negative values (sun behind the panel) are returned as 0.
func CosIncidence(sun SolarPosition, o Orientation) float64 {
	zenith := degToRad(90 - sun.Elevation)
	tilt := degToRad(o.Tilt)
	dAz := degToRad(sun.Azimuth - o.Azimuth)
	c := math.Cos(zenith)*math.Cos(tilt) + math.Sin(zenith)*math.Sin(tilt)*math.Cos(dAz)
	return math.Max(0, c)
}

// PanelIrradiance is the plane-of-array irradiance (W/m²): beam plus isotropic sky diffuse.
func PanelIrradiance(sun SolarPosition, o Orientation) float64 {
	if !sun.Up() {
		return 0
	}
	beam := sun.DNI * CosIncidence(sun, o)
	diffuse := sun.DHI * (1 + math.Cos(degToRad(o.Tilt))) / 2
	return beam + diffuse
}

// Power converts plane-of-array irradiance into electrical power (W).
func (p Panel) Power(irradiance float64) float64 {
	return irradiance * p.AreaM2 * p.Efficiency * p.SystemEfficiency
}

// SunFacing returns the orientation whose normal points at the sun.
func SunFacing(sun SolarPosition) Orientation {
	return Orientation{Azimuth: sun.Azimuth, Tilt: 90 - math.Max(0, sun.Elevation)}
}
