package main

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cjeanneret/SunGo/internal/config"
	"github.com/cjeanneret/SunGo/internal/debug"
)

// ---------- validateCLIOverrides ----------

func TestValidateCLIOverrides_Defaults(t *testing.T) {
	if err := validateCLIOverrides("", -1); err != nil {
		t.Errorf("empty start and negative debug should be valid (use config defaults), got: %v", err)
	}
}

func TestValidateCLIOverrides_Valid(t *testing.T) {
	cases := []struct {
		name  string
		start string
		debug int
	}{
		{"utc_start", "2024-06-21T06:00:00Z", -1},
		{"offset_start", "2024-06-21T06:00:00+08:00", -1},
		{"debug_off", "", 0},
		{"debug_trace", "", 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateCLIOverrides(tc.start, tc.debug); err != nil {
				t.Errorf("expected valid, got: %v", err)
			}
		})
	}
}

func TestValidateCLIOverrides_Invalid(t *testing.T) {
	cases := []struct {
		name  string
		start string
		debug int
	}{
		{"date_only", "2024-06-21", -1},
		{"garbage", "tomorrow", -1},
		{"debug_too_high", "", 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateCLIOverrides(tc.start, tc.debug); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// ---------- applyOverrides ----------

func TestApplyOverrides_StartImpliesSimulation(t *testing.T) {
	cfg := &config.Config{}
	cfg.Defaults.DebugLevel = 2
	applyOverrides(cfg, overrides{Start: "2024-06-21T06:00:00Z", DebugLevel: -1})

	if !cfg.Simulation.Enabled {
		t.Error("a start time should enable simulation")
	}
	if cfg.Simulation.Start != "2024-06-21T06:00:00Z" {
		t.Errorf("Simulation.Start = %q", cfg.Simulation.Start)
	}
	if cfg.Defaults.DebugLevel != 2 {
		t.Errorf("DebugLevel = %d, want 2 (unchanged)", cfg.Defaults.DebugLevel)
	}
}

func TestApplyOverrides_DebugLevel(t *testing.T) {
	cfg := &config.Config{}
	cfg.Defaults.DebugLevel = 2
	applyOverrides(cfg, overrides{DebugLevel: 0})
	if cfg.Defaults.DebugLevel != 0 {
		t.Errorf("DebugLevel = %d, want 0", cfg.Defaults.DebugLevel)
	}
	if cfg.Simulation.Enabled {
		t.Error("simulation should stay disabled")
	}
}

// ---------- webPortFlag ----------

func TestWebPortFlag_EmptyString(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set(""); err != nil {
		t.Fatalf("Set(\"\") error: %v", err)
	}
	if w.port() != 8080 {
		t.Errorf("expected default port 8080, got %d", w.port())
	}
}

func TestWebPortFlag_ValidPorts(t *testing.T) {
	cases := []struct {
		input string
		want  int
	}{
		{"8080", 8080},
		{"1", 1},
		{"65535", 65535},
		{"3000", 3000},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(tc.input); err != nil {
				t.Fatalf("Set(%q) error: %v", tc.input, err)
			}
			if w.port() != tc.want {
				t.Errorf("port() = %d, want %d", w.port(), tc.want)
			}
		})
	}
}

func TestWebPortFlag_InvalidPorts(t *testing.T) {
	for _, input := range []string{"0", "-1", "65536", "abc"} {
		t.Run(input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(input); err == nil {
				t.Errorf("Set(%q) should fail", input)
			}
		})
	}
}

func TestWebPortFlag_String(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if w.String() != "0" {
		t.Errorf("unset String() = %q, want \"0\"", w.String())
	}
	w.Set("9000")
	if w.String() != "9000" {
		t.Errorf("String() = %q, want \"9000\"", w.String())
	}
}

// ---------- wiring ----------

func loadDefaultConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "default.yaml"))
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}
	return cfg
}

func TestTrackerConfig(t *testing.T) {
	cfg := loadDefaultConfig(t)
	tc := trackerConfig(cfg)
	if tc.Limits.Azimuth.Min != cfg.Tracker.Azimuth.Min || tc.Limits.Tilt.Max != cfg.Tracker.Tilt.Max {
		t.Errorf("limits = %+v", tc.Limits)
	}
	if tc.Timezone != "Asia/Taipei" {
		t.Errorf("Timezone = %q, want Asia/Taipei", tc.Timezone)
	}
	if tc.CycleInterval != "1m0s" {
		t.Errorf("CycleInterval = %q, want 1m0s", tc.CycleInterval)
	}
}

func TestBuild_UnsupportedSource(t *testing.T) {
	cfg := loadDefaultConfig(t)
	cfg.Sensors.Source = "carrier-pigeon"
	if _, _, err := build(cfg, 1, nil); err == nil {
		t.Error("expected error for an unknown sensor source")
	}
}

func TestRun_SimulatedDay(t *testing.T) {
	debug.Init(debug.LevelOff)
	cfg := loadDefaultConfig(t)
	dir := t.TempDir()
	cfg.Simulation.Enabled = true
	cfg.Simulation.Start = "2024-06-21T09:00:00+08:00"
	cfg.Telemetry.Sink = "none"
	cfg.Logbook.StatusPath = filepath.Join(dir, "status.csv")
	cfg.Logbook.ActionPath = filepath.Join(dir, "actions.csv")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const cycles = 6
	if err := run(ctx, cfg, 0, cycles); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("run should stop after the cycle limit, not the timeout")
	}

	f, err := os.Open(cfg.Logbook.StatusPath)
	if err != nil {
		t.Fatalf("open status log: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read status log: %v", err)
	}
	if len(rows) != cycles+1 {
		t.Fatalf("status rows = %d, want %d (header + one per cycle)", len(rows), cycles+1)
	}
	// at least ten minutes of virtual time per cycle
	first, err := time.Parse(time.RFC3339, rows[1][0])
	if err != nil {
		t.Fatalf("parse first timestamp: %v", err)
	}
	last, err := time.Parse(time.RFC3339, rows[cycles][0])
	if err != nil {
		t.Fatalf("parse last timestamp: %v", err)
	}
	if got, want := last.Sub(first), (cycles-1)*10*time.Minute; got < want {
		t.Errorf("virtual span = %v, want at least %v", got, want)
	}
}
