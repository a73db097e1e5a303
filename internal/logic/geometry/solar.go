package geometry

import (
	"math"
	"time"

	"github.com/cjeanneret/SunGo/internal/config"
)

const solarConstant = 1367.0 // W/m²

// SolarPosition is the sun direction and the clear-sky irradiance components at one instant.
type SolarPosition struct {
	Azimuth   float64 `json:"azimuth"`   // degrees clockwise from north
	Elevation float64 `json:"elevation"` // degrees above horizon (negative at night)
	GHI       float64 `json:"ghi"`       // global horizontal irradiance, W/m²
	DNI       float64 `json:"dni"`       // direct normal irradiance, W/m²
	DHI       float64 `json:"dhi"`       // diffuse horizontal irradiance, W/m²
}

// Up reports whether the sun is above the horizon.
func (s SolarPosition) Up() bool { return s.Elevation > 0 }

// Ephemeris maps an instant to a sun position for a fixed site.
type Ephemeris interface {
	SunAt(t time.Time) SolarPosition
}

// ClearSky computes the sun position with the NOAA approximations and the
// irradiance with the Ineichen-Perez clear-sky model (Linke turbidity 2).
type ClearSky struct {
	Latitude  float64
	Longitude float64
	AltitudeM float64
}

// ClearSkyFromConfig binds the ephemeris to the configured site.
func ClearSkyFromConfig(cfg *config.Config) ClearSky {
	return ClearSky{
		Latitude:  cfg.Location.Latitude,
		Longitude: cfg.Location.Longitude,
		AltitudeM: cfg.Location.AltitudeM,
	}
}

func degToRad(deg float64) float64 { return deg * math.Pi / 180 }
func radToDeg(rad float64) float64 { return rad * 180 / math.Pi }
func fixAngle(a float64) float64   { return math.Mod(math.Mod(a, 360)+360, 360) }

// julianDay converts a time to Julian Day.
func julianDay(t time.Time) float64 {
	return 2440587.5 + float64(t.Unix())/86400.0
}

// equationOfTime returns apparent minus mean solar time, in minutes.
func equationOfTime(t time.Time) float64 {
	T := (julianDay(t) - 2451545.0) / 36525.0
	l0 := fixAngle(280.46646 + T*(36000.76983+T*0.0003032))
	m := fixAngle(357.52911 + T*(35999.05029-T*0.0001537))
	e := 0.016708634 - T*(0.000042037+T*0.0000001267)
	eps := 23 + (26+(21.448-T*(46.815+T*(0.00059-T*0.001813)))/60)/60

	y := math.Pow(math.Tan(degToRad(eps)/2), 2)
	eot := y*math.Sin(2*degToRad(l0)) -
		2*e*math.Sin(degToRad(m)) +
		4*e*y*math.Sin(degToRad(m))*math.Cos(2*degToRad(l0)) -
		0.5*y*y*math.Sin(4*degToRad(l0)) -
		1.25*e*e*math.Sin(2*degToRad(m))
	return radToDeg(eot) * 4
}

// SunAt returns the sun position and clear-sky irradiance at t.
func (c ClearSky) SunAt(t time.Time) SolarPosition {
	t = t.UTC()
	n := float64(t.YearDay())

	decl := degToRad(23.45 * math.Sin(degToRad(360.0/365.0*(n-81))))
	utcMin := float64(t.Hour()*60+t.Minute()) + float64(t.Second())/60
	tst := utcMin + 4*c.Longitude + equationOfTime(t)
	hourAngle := degToRad(tst/4 - 180)
	lat := degToRad(c.Latitude)

	cosZ := math.Sin(lat)*math.Sin(decl) + math.Cos(lat)*math.Cos(decl)*math.Cos(hourAngle)
	cosZ = math.Max(-1, math.Min(1, cosZ))
	zenith := radToDeg(math.Acos(cosZ))

	az := radToDeg(math.Atan2(
		math.Sin(hourAngle),
		math.Cos(hourAngle)*math.Sin(lat)-math.Tan(decl)*math.Cos(lat),
	))

	pos := SolarPosition{
		Azimuth:   fixAngle(az + 180),
		Elevation: 90 - zenith,
	}
	if zenith >= 90 {
		return pos
	}

	g0 := solarConstant * (1 + 0.033*math.Cos(degToRad(360*(n-3)/365)))
	const (
		linkeTurbidity = 2.0
		dniScale       = 0.7
		extinction     = 0.027
	)
	airMass := 1 / (math.Cos(degToRad(zenith)) + 0.50572*math.Pow(96.07995-zenith, -1.6364))
	pos.DNI = g0 * dniScale * math.Exp(-extinction*airMass*linkeTurbidity*math.Exp(-c.AltitudeM/8000))
	diffuseFraction := 0.1 + 0.05*math.Sin(math.Pi*(n-100)/365)
	pos.DHI = diffuseFraction * g0 * math.Sin(degToRad(zenith))
	pos.GHI = pos.DNI*cosZ + pos.DHI
	return pos
}
