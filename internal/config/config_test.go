package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
location:
  latitude: 24.1
  longitude: 120.7
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ---------- Load ----------

func TestLoad_MinimalAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"azimuth.min", cfg.Tracker.Azimuth.Min, 135},
		{"azimuth.max", cfg.Tracker.Azimuth.Max, 225},
		{"tilt.max", cfg.Tracker.Tilt.Max, 45},
		{"safe.azimuth", cfg.Tracker.Safe.Azimuth, 180},
		{"safe.tilt", cfg.Tracker.Safe.Tilt, 15},
		{"park.azimuth", cfg.Tracker.Park.Azimuth, 135},
		{"power_tolerance", cfg.Thresholds.PowerTolerance, 0.95},
		{"worthiness_w", cfg.Thresholds.WorthinessW, 2.0},
		{"cost_per_degree_w", cfg.Thresholds.CostPerDegreeW, 0.1},
		{"fine_tune_improvement_w", cfg.Thresholds.FineTuneImprovementW, 0.5},
		{"system_error_w", cfg.Thresholds.SystemErrorW, 5.0},
		{"light_threshold", cfg.FineTune.LightThreshold, 50},
		{"azimuth_scale", cfg.FineTune.AzimuthScale, 200},
		{"tilt_scale", cfg.FineTune.TiltScale, 300},
		{"correction.min", cfg.Correction.Min, 0.7},
		{"correction.max", cfg.Correction.Max, 1.3},
		{"light_divisor", cfg.Model.LightDivisor, 50},
		{"tilt stroke", cfg.Actuators.Tilt.StrokeMm, 206},
		{"azimuth stroke", cfg.Actuators.Azimuth.StrokeMm, 406},
		{"pulses_per_mm", cfg.Actuators.Tilt.PulsesPerMm, 54.19},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	if cfg.Tracker.StartHour != 6 || cfg.Tracker.EndHour != 18 {
		t.Errorf("hours = %d-%d, want 6-18", cfg.Tracker.StartHour, cfg.Tracker.EndHour)
	}
	if cfg.Experience.Capacity != 1000 || cfg.Experience.Retain != 500 {
		t.Errorf("experience = %d/%d, want 1000/500", cfg.Experience.Capacity, cfg.Experience.Retain)
	}
	if cfg.Model.Type != "heuristic" {
		t.Errorf("model.type = %q, want heuristic", cfg.Model.Type)
	}
	if cfg.Telemetry.Sink != "none" {
		t.Errorf("telemetry.sink = %q, want none", cfg.Telemetry.Sink)
	}
	if cfg.Defaults.GPIOBackend != "rpio" {
		t.Errorf("gpio_backend = %q, want rpio", cfg.Defaults.GPIOBackend)
	}
}

func TestLoad_DurationHelpers(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cases := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"AutoStop", cfg.AutoStop(), 500 * time.Millisecond},
		{"UploadTimeout", cfg.UploadTimeout(), 2 * time.Second},
		{"Cooldown", cfg.Cooldown(), time.Minute},
		{"CycleInterval", cfg.CycleInterval(), time.Minute},
		{"SwitchDelay", cfg.SwitchDelay(), 10 * time.Millisecond},
		{"SettleDelay", cfg.SettleDelay(), 0},
		{"SimulationStep", cfg.SimulationStep(), time.Minute},
		{"PollInterval", cfg.PollInterval(), 10 * time.Millisecond},
		{"EncoderPoll", cfg.EncoderPoll(), time.Millisecond},
		{"SensorReconnect", cfg.SensorReconnect(), time.Second},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("%s() = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_ExplicitValuesKept(t *testing.T) {
	yaml := `
location:
  latitude: 24.1
  longitude: 120.7
  timezone: Asia/Taipei
tracker:
  azimuth: {min: 160, max: 200}
  tilt: {min: 10, max: 30}
  park: {azimuth: 160, tilt: 15}
  start_hour: 7
  end_hour: 17
thresholds:
  power_tolerance: 0.9
telemetry:
  sink: mqtt
  mqtt:
    broker: tcp://localhost:1883
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tracker.Azimuth.Min != 160 || cfg.Tracker.Tilt.Max != 30 {
		t.Errorf("ranges not kept: %+v %+v", cfg.Tracker.Azimuth, cfg.Tracker.Tilt)
	}
	if cfg.Tracker.StartHour != 7 || cfg.Tracker.EndHour != 17 {
		t.Errorf("hours = %d-%d, want 7-17", cfg.Tracker.StartHour, cfg.Tracker.EndHour)
	}
	if cfg.Thresholds.PowerTolerance != 0.9 {
		t.Errorf("power_tolerance = %v, want 0.9", cfg.Thresholds.PowerTolerance)
	}
	if cfg.Telemetry.MQTT.ClientID != cfg.Telemetry.SystemID {
		t.Errorf("mqtt client_id = %q, want system id %q", cfg.Telemetry.MQTT.ClientID, cfg.Telemetry.SystemID)
	}
	if cfg.TimeLocation().String() != "Asia/Taipei" {
		t.Errorf("TimeLocation() = %s, want Asia/Taipei", cfg.TimeLocation())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "read config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "tracker: [unclosed"))
	if err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

// ---------- Validate ----------

func TestParse_Rejects(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"latitude", "location: {latitude: 91}", "latitude"},
		{"longitude", "location: {longitude: -181}", "longitude"},
		{"timezone", "location: {timezone: Mars/Olympus}", "timezone"},
		{"azimuth range", "tracker: {azimuth: {min: 200, max: 160}}", "tracker.azimuth"},
		{"tilt range", "tracker: {tilt: {min: 10, max: 95}}", "tracker.tilt"},
		{"hours", "tracker: {start_hour: 19, end_hour: 6}", "hours"},
		{"tolerance", "thresholds: {power_tolerance: 1.5}", "power_tolerance"},
		{"correction bounds", "correction: {min: 1.5, max: 1.2}", "correction"},
		{"window", "correction: {min_samples: 30, window: 20}", "window"},
		{"retain", "experience: {capacity: 100, retain: 200}", "retain"},
		{"model type", "model: {type: neural}", "model.type"},
		{"learned without weights", "model: {type: learned}", "weights_file"},
		{"sensor source", "sensors: {source: camera}", "sensors.source"},
		{"power monitor", "power_monitor: {type: ina219}", "power_monitor.type"},
		{"sink", "telemetry: {sink: smtp}", "telemetry.sink"},
		{"http url", "telemetry: {sink: http}", "telemetry.url"},
		{"mqtt broker", "telemetry: {sink: mqtt}", "broker"},
		{"kafka brokers", "telemetry: {sink: kafka}", "brokers"},
		{"gpio backend", "defaults: {gpio_backend: sysfs}", "gpio_backend"},
		{"web port", "defaults: {web_port: 70000}", "web_port"},
		{"simulation start", "simulation: {start: yesterday}", "simulation.start"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestSimulationStart(t *testing.T) {
	fallback := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	cfg, err := Parse([]byte("simulation: {enabled: true, start: \"2024-06-21T06:00:00+08:00\"}"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := cfg.SimulationStart(fallback)
	want := time.Date(2024, 6, 20, 22, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("SimulationStart() = %v, want %v", got, want)
	}

	cfg, err = Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.SimulationStart(fallback).Equal(fallback) {
		t.Error("expected fallback when simulation.start is empty")
	}
}

func TestDefaultConfigFile(t *testing.T) {
	path := filepath.Join("..", "..", "configs", "default.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skipf("default config not found: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load(%s): %v", path, err)
	}
}
