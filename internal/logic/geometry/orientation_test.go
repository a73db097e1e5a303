package geometry

import (
	"math"
	"testing"
	"time"

	"github.com/cjeanneret/SunGo/internal/config"
)

func TestRange_Clamp(t *testing.T) {
	r := Range{Min: 135, Max: 225}
	cases := []struct {
		name string
		in   float64
		want float64
	}{
		{"inside", 180, 180},
		{"at_min", 135, 135},
		{"at_max", 225, 225},
		{"below", 90, 135},
		{"above", 300, 225},
		{"negative", -1000, 135},
		{"positive_inf", math.Inf(1), 225},
		{"negative_inf", math.Inf(-1), 135},
		{"nan", math.NaN(), 135},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := r.Clamp(tc.in)
			if got != tc.want {
				t.Errorf("Clamp(%v) = %v, want %v", tc.in, got, tc.want)
			}
			if !r.Contains(got) {
				t.Errorf("Clamp(%v) = %v is outside %v", tc.in, got, r)
			}
		})
	}
}

func TestLimits_ClampAlwaysInBounds(t *testing.T) {
	l := Limits{Azimuth: Range{Min: 160, Max: 200}, Tilt: Range{Min: 10, Max: 30}}
	for az := -720.0; az <= 720; az += 37.5 {
		for tilt := -180.0; tilt <= 180; tilt += 12.5 {
			o := l.Clamp(Orientation{Azimuth: az, Tilt: tilt})
			if !l.Contains(o) {
				t.Fatalf("Clamp(%v, %v) = %v is outside limits", az, tilt, o)
			}
		}
	}
}

func TestLimitsFromConfig(t *testing.T) {
	cfg := &config.Config{Tracker: config.TrackerConfig{
		Azimuth: config.RangeConfig{Min: 135, Max: 225},
		Tilt:    config.RangeConfig{Min: 0, Max: 45},
	}}
	l := LimitsFromConfig(cfg)
	if l.Azimuth != (Range{135, 225}) || l.Tilt != (Range{0, 45}) {
		t.Errorf("LimitsFromConfig = %+v", l)
	}
}

func TestOrientation_AngleChange(t *testing.T) {
	a := Orientation{Azimuth: 170, Tilt: 20}
	b := Orientation{Azimuth: 180, Tilt: 15}
	if got := a.AngleChange(b); got != 15 {
		t.Errorf("AngleChange = %v, want 15", got)
	}
	if got := b.AngleChange(a); got != 15 {
		t.Errorf("AngleChange reversed = %v, want 15", got)
	}
	if got := a.AngleChange(a); got != 0 {
		t.Errorf("AngleChange self = %v, want 0", got)
	}
}

func TestOrientation_Near(t *testing.T) {
	a := Orientation{Azimuth: 135, Tilt: 15}
	if !a.Near(Orientation{Azimuth: 135.005, Tilt: 15}, 0.01) {
		t.Error("expected orientations within 0.01° to be near")
	}
	if a.Near(Orientation{Azimuth: 135, Tilt: 15.5}, 0.01) {
		t.Error("expected 0.5° tilt difference to be far")
	}
}

func TestWindow_Contains(t *testing.T) {
	w := Window{StartHour: 6, EndHour: 18}
	cases := []struct {
		hour int
		want bool
	}{
		{0, false},
		{5, false},
		{6, true},
		{12, true},
		{18, true},
		{19, false},
		{23, false},
	}
	for _, tc := range cases {
		at := time.Date(2024, 6, 21, tc.hour, 30, 0, 0, time.UTC)
		if got := w.Contains(at); got != tc.want {
			t.Errorf("Contains(%02d:30) = %v, want %v", tc.hour, got, tc.want)
		}
	}
}

func TestWindow_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	w := Window{StartHour: 6, EndHour: 18, Location: loc}

	// 02:00 UTC is 10:00 local
	if !w.Contains(time.Date(2024, 6, 21, 2, 0, 0, 0, time.UTC)) {
		t.Error("02:00 UTC should be inside the local window")
	}
	// 12:00 UTC is 20:00 local
	if w.Contains(time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC)) {
		t.Error("12:00 UTC should be outside the local window")
	}
}
