package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LocationConfig describes where the tracker is installed.
type LocationConfig struct {
	Latitude  float64 `yaml:"latitude"`   // degrees, north positive
	Longitude float64 `yaml:"longitude"`  // degrees, east positive
	AltitudeM float64 `yaml:"altitude_m"` // metres above sea level
	Timezone  string  `yaml:"timezone"`   // IANA name, e.g. "Asia/Taipei"
}

// RangeConfig is an inclusive angle range in degrees.
type RangeConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// OrientationConfig is a fixed panel orientation.
type OrientationConfig struct {
	Azimuth float64 `yaml:"azimuth"`
	Tilt    float64 `yaml:"tilt"`
}

// TrackerConfig holds the mechanical limits and the control loop timing.
type TrackerConfig struct {
	Azimuth          RangeConfig       `yaml:"azimuth"`
	Tilt             RangeConfig       `yaml:"tilt"`
	Park             OrientationConfig `yaml:"park"`               // east position used outside the operating window
	Safe             OrientationConfig `yaml:"safe"`               // forced after a failed cycle
	Initial          OrientationConfig `yaml:"initial"`            // orientation assumed at startup
	StartHour        int               `yaml:"start_hour"`         // first tracking hour (inclusive)
	EndHour          int               `yaml:"end_hour"`           // last tracking hour (inclusive)
	CycleIntervalMs  int               `yaml:"cycle_interval_ms"`  // delay between two cycles
	CooldownMs       int               `yaml:"cooldown_ms"`        // pause after a failed cycle
	SettleDelayMs    int               `yaml:"settle_delay_ms"`    // wait before re-measuring a fine-tune
	ParkToleranceDeg float64           `yaml:"park_tolerance_deg"` // already parked if within this distance
}

// ThresholdsConfig groups the power decision thresholds (watts unless noted).
type ThresholdsConfig struct {
	PowerTolerance       float64 `yaml:"power_tolerance"` // measured/predicted ratio considered on target
	WorthinessW          float64 `yaml:"worthiness_w"`
	CostPerDegreeW       float64 `yaml:"cost_per_degree_w"`
	FineTuneImprovementW float64 `yaml:"fine_tune_improvement_w"`
	SystemErrorW         float64 `yaml:"system_error_w"`
}

// FineTuneConfig drives the differential light fine tuner.
type FineTuneConfig struct {
	LightThreshold float64 `yaml:"light_threshold"`
	AzimuthCap     float64 `yaml:"azimuth_cap"`   // max azimuth nudge (degrees)
	AzimuthScale   float64 `yaml:"azimuth_scale"` // light difference per degree
	TiltCap        float64 `yaml:"tilt_cap"`
	TiltScale      float64 `yaml:"tilt_scale"`
	MinAdjustment  float64 `yaml:"min_adjustment"` // below this the nudge is ignored (degrees)
}

// CorrectionConfig drives the systematic error correction.
type CorrectionConfig struct {
	MinSamples int     `yaml:"min_samples"`
	Window     int     `yaml:"window"`
	Step       float64 `yaml:"step"` // 0.05 = ±5%
	Min        float64 `yaml:"min"`
	Max        float64 `yaml:"max"`
}

// ExperienceConfig bounds the in-memory history.
type ExperienceConfig struct {
	Capacity int `yaml:"capacity"` // trim when a list grows past this
	Retain   int `yaml:"retain"`   // records kept after a trim
}

// PanelConfig describes the photovoltaic panel.
type PanelConfig struct {
	AreaM2           float64 `yaml:"area_m2"`
	Efficiency       float64 `yaml:"efficiency"`
	SystemEfficiency float64 `yaml:"system_efficiency"`
}

// ModelConfig selects and tunes the power model.
type ModelConfig struct {
	Type         string            `yaml:"type"`          // "heuristic" or "learned"
	LightDivisor float64           `yaml:"light_divisor"` // light sum per watt for the heuristic
	Optimal      OrientationConfig `yaml:"optimal"`
	FollowSun    bool              `yaml:"follow_sun"`   // use the sun-facing orientation as optimum when known
	WeightsFile  string            `yaml:"weights_file"` // learned model weights (YAML)
	Panel        PanelConfig       `yaml:"panel"`
}

// AxisConfig holds the wiring of one linear actuator and its Hall encoder (BCM numbering).
type AxisConfig struct {
	BrownHighPin int     `yaml:"brown_high_pin"`
	BlueHighPin  int     `yaml:"blue_high_pin"`
	BrownLowPin  int     `yaml:"brown_low_pin"`
	BlueLowPin   int     `yaml:"blue_low_pin"`
	Hall1Pin     int     `yaml:"hall1_pin"`
	Hall2Pin     int     `yaml:"hall2_pin"`
	PulsesPerMm  float64 `yaml:"pulses_per_mm"`
	StrokeMm     float64 `yaml:"stroke_mm"`
}

// PIDConfig holds the axis positioning gains.
type PIDConfig struct {
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`
}

// ActuatorsConfig holds both axes and the shared motion parameters.
type ActuatorsConfig struct {
	Azimuth       AxisConfig `yaml:"azimuth"`
	Tilt          AxisConfig `yaml:"tilt"`
	AutoStopMs    int        `yaml:"auto_stop_ms"`    // watchdog timeout
	SwitchDelayMs int        `yaml:"switch_delay_ms"` // H-bridge dead time
	PollMs        int        `yaml:"poll_ms"`         // axis control period
	EncoderPollMs int        `yaml:"encoder_poll_ms"` // Hall encoder sampling period
	MoveTimeoutMs int        `yaml:"move_timeout_ms"`
	ToleranceMm   float64    `yaml:"tolerance_mm"`
	PID           PIDConfig  `yaml:"pid"`
}

// SensorsConfig selects the light/environment source.
type SensorsConfig struct {
	Source      string  `yaml:"source"` // "simulated" or "serial"
	SerialPort  string  `yaml:"serial_port"`
	BaudRate    int     `yaml:"baud_rate"`
	StaleMs     int     `yaml:"stale_ms"`     // readings older than this are rejected
	ReconnectMs int     `yaml:"reconnect_ms"` // first delay before reopening a lost serial port
	Noise       float64 `yaml:"noise"`        // simulated light noise (standard deviation)
}

// PowerMonitorConfig selects the power monitor.
type PowerMonitorConfig struct {
	Type            string  `yaml:"type"` // "simulated" or "ina3221"
	I2CBus          string  `yaml:"i2c_bus"`
	Address         uint16  `yaml:"address"`
	ShuntOhms       float64 `yaml:"shunt_ohms"`
	PanelChannel    int     `yaml:"panel_channel"`
	PiChannel       int     `yaml:"pi_channel"`
	ActuatorChannel int     `yaml:"actuator_channel"`
}

// BreakerConfig configures the telemetry circuit breaker.
type BreakerConfig struct {
	Failures int `yaml:"failures"`
	OpenMs   int `yaml:"open_ms"`
}

// MQTTConfig configures the MQTT telemetry sink.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// KafkaConfig configures the Kafka telemetry sink.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// TelemetryConfig configures the upload of power records.
type TelemetryConfig struct {
	Sink       string        `yaml:"sink"` // "none", "http", "mqtt" or "kafka"
	SystemID   string        `yaml:"system_id"`
	URL        string        `yaml:"url"`
	TimeoutMs  int           `yaml:"timeout_ms"`
	QueueSize  int           `yaml:"queue_size"`
	RatePerSec float64       `yaml:"rate_per_sec"`
	BackupDir  string        `yaml:"backup_dir"`
	Breaker    BreakerConfig `yaml:"breaker"`
	MQTT       MQTTConfig    `yaml:"mqtt"`
	Kafka      KafkaConfig   `yaml:"kafka"`
}

// LogbookConfig holds the CSV log paths. Empty disables a log.
type LogbookConfig struct {
	StatusPath string `yaml:"status_path"`
	ActionPath string `yaml:"action_path"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel  int    `yaml:"debug_level"`  // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO    bool   `yaml:"mock_gpio"`    // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	GPIOBackend string `yaml:"gpio_backend"` // "rpio" or "gpiocdev"
	GPIOChip    string `yaml:"gpio_chip"`    // character device chip for gpiocdev
	WebPort     int    `yaml:"web_port"`     // 0 = disabled
}

// SimulationConfig enables virtual time stepping.
type SimulationConfig struct {
	Enabled bool   `yaml:"enabled"`
	Start   string `yaml:"start"`  // RFC3339; empty = now
	StepS   int    `yaml:"step_s"` // virtual seconds per cycle
}

// Config aggregates all application configuration.
type Config struct {
	Location     LocationConfig     `yaml:"location"`
	Tracker      TrackerConfig      `yaml:"tracker"`
	Thresholds   ThresholdsConfig   `yaml:"thresholds"`
	FineTune     FineTuneConfig     `yaml:"fine_tune"`
	Correction   CorrectionConfig   `yaml:"correction"`
	Experience   ExperienceConfig   `yaml:"experience"`
	Model        ModelConfig        `yaml:"model"`
	Actuators    ActuatorsConfig    `yaml:"actuators"`
	Sensors      SensorsConfig      `yaml:"sensors"`
	PowerMonitor PowerMonitorConfig `yaml:"power_monitor"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Logbook      LogbookConfig      `yaml:"logbook"`
	Defaults     DefaultsConfig     `yaml:"defaults"`
	Simulation   SimulationConfig   `yaml:"simulation"`
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	t := &c.Tracker
	if t.Azimuth == (RangeConfig{}) {
		t.Azimuth = RangeConfig{Min: 135, Max: 225}
	}
	if t.Tilt == (RangeConfig{}) {
		t.Tilt = RangeConfig{Min: 0, Max: 45}
	}
	if t.Park == (OrientationConfig{}) {
		t.Park = OrientationConfig{Azimuth: t.Azimuth.Min, Tilt: 15}
	}
	if t.Safe == (OrientationConfig{}) {
		t.Safe = OrientationConfig{Azimuth: 180, Tilt: 15}
	}
	if t.Initial == (OrientationConfig{}) {
		t.Initial = t.Safe
	}
	if t.StartHour == 0 && t.EndHour == 0 {
		t.StartHour, t.EndHour = 6, 18
	}
	if t.CycleIntervalMs <= 0 {
		t.CycleIntervalMs = 60_000
	}
	if t.CooldownMs <= 0 {
		t.CooldownMs = 60_000
	}
	if t.SettleDelayMs < 0 {
		t.SettleDelayMs = 0
	}
	if t.ParkToleranceDeg <= 0 {
		t.ParkToleranceDeg = 0.01
	}

	th := &c.Thresholds
	if th.PowerTolerance <= 0 {
		th.PowerTolerance = 0.95
	}
	if th.WorthinessW <= 0 {
		th.WorthinessW = 2.0
	}
	if th.CostPerDegreeW <= 0 {
		th.CostPerDegreeW = 0.1
	}
	if th.FineTuneImprovementW <= 0 {
		th.FineTuneImprovementW = 0.5
	}
	if th.SystemErrorW <= 0 {
		th.SystemErrorW = 5.0
	}

	ft := &c.FineTune
	if ft.LightThreshold <= 0 {
		ft.LightThreshold = 50
	}
	if ft.AzimuthCap <= 0 {
		ft.AzimuthCap = 2
	}
	if ft.AzimuthScale <= 0 {
		ft.AzimuthScale = 200
	}
	if ft.TiltCap <= 0 {
		ft.TiltCap = 1
	}
	if ft.TiltScale <= 0 {
		ft.TiltScale = 300
	}
	if ft.MinAdjustment <= 0 {
		ft.MinAdjustment = 0.5
	}

	co := &c.Correction
	if co.MinSamples <= 0 {
		co.MinSamples = 10
	}
	if co.Window <= 0 {
		co.Window = 20
	}
	if co.Step <= 0 {
		co.Step = 0.05
	}
	if co.Min <= 0 {
		co.Min = 0.7
	}
	if co.Max <= 0 {
		co.Max = 1.3
	}

	if c.Experience.Capacity <= 0 {
		c.Experience.Capacity = 1000
	}
	if c.Experience.Retain <= 0 {
		c.Experience.Retain = 500
	}

	m := &c.Model
	if m.Type == "" {
		m.Type = "heuristic"
	}
	if m.LightDivisor <= 0 {
		m.LightDivisor = 50
	}
	if m.Optimal == (OrientationConfig{}) {
		m.Optimal = OrientationConfig{Azimuth: 180, Tilt: 20}
	}
	if m.Panel.AreaM2 <= 0 {
		m.Panel.AreaM2 = 2.0
	}
	if m.Panel.Efficiency <= 0 {
		m.Panel.Efficiency = 0.20
	}
	if m.Panel.SystemEfficiency <= 0 {
		m.Panel.SystemEfficiency = 0.85
	}

	a := &c.Actuators
	if a.AutoStopMs <= 0 {
		a.AutoStopMs = 500
	}
	if a.SwitchDelayMs <= 0 {
		a.SwitchDelayMs = 10
	}
	if a.PollMs <= 0 {
		a.PollMs = 10
	}
	if a.EncoderPollMs <= 0 {
		a.EncoderPollMs = 1
	}
	if a.MoveTimeoutMs <= 0 {
		a.MoveTimeoutMs = 60_000
	}
	if a.ToleranceMm <= 0 {
		a.ToleranceMm = 1.0
	}
	if a.PID == (PIDConfig{}) {
		a.PID = PIDConfig{Kp: 1.0}
	}
	for _, axis := range []*AxisConfig{&a.Azimuth, &a.Tilt} {
		if axis.PulsesPerMm <= 0 {
			axis.PulsesPerMm = 54.19
		}
	}
	if a.Azimuth.StrokeMm <= 0 {
		a.Azimuth.StrokeMm = 406
	}
	if a.Tilt.StrokeMm <= 0 {
		a.Tilt.StrokeMm = 206
	}

	s := &c.Sensors
	if s.Source == "" {
		s.Source = "simulated"
	}
	if s.SerialPort == "" {
		s.SerialPort = "/dev/ttyACM0"
	}
	if s.BaudRate <= 0 {
		s.BaudRate = 115200
	}
	if s.StaleMs <= 0 {
		s.StaleMs = 5_000
	}
	if s.ReconnectMs <= 0 {
		s.ReconnectMs = 1_000
	}
	if s.Noise <= 0 {
		s.Noise = 20
	}

	p := &c.PowerMonitor
	if p.Type == "" {
		p.Type = "simulated"
	}
	if p.Address == 0 {
		p.Address = 0x40
	}
	if p.ShuntOhms <= 0 {
		p.ShuntOhms = 0.1
	}
	if p.PanelChannel == 0 {
		p.PanelChannel = 3
	}
	if p.PiChannel == 0 {
		p.PiChannel = 2
	}
	if p.ActuatorChannel == 0 {
		p.ActuatorChannel = 1
	}

	tm := &c.Telemetry
	if tm.Sink == "" {
		tm.Sink = "none"
	}
	if tm.SystemID == "" {
		tm.SystemID = "sungo-01"
	}
	if tm.TimeoutMs <= 0 {
		tm.TimeoutMs = 2_000
	}
	if tm.QueueSize <= 0 {
		tm.QueueSize = 64
	}
	if tm.RatePerSec <= 0 {
		tm.RatePerSec = 1
	}
	if tm.BackupDir == "" {
		tm.BackupDir = "backup"
	}
	if tm.MQTT.Topic == "" {
		tm.MQTT.Topic = "sungo/telemetry"
	}
	if tm.MQTT.ClientID == "" {
		tm.MQTT.ClientID = tm.SystemID
	}
	if tm.Kafka.Topic == "" {
		tm.Kafka.Topic = "sungo.telemetry"
	}

	if c.Defaults.GPIOBackend == "" {
		c.Defaults.GPIOBackend = "rpio"
	}
	if c.Defaults.GPIOChip == "" {
		c.Defaults.GPIOChip = "gpiochip0"
	}

	if c.Simulation.StepS <= 0 {
		c.Simulation.StepS = 60
	}
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Location.Latitude < -90 || c.Location.Latitude > 90 {
		return fmt.Errorf("location.latitude must be between -90 and 90, got %.4f", c.Location.Latitude)
	}
	if c.Location.Longitude < -180 || c.Location.Longitude > 180 {
		return fmt.Errorf("location.longitude must be between -180 and 180, got %.4f", c.Location.Longitude)
	}
	if c.Location.Timezone != "" {
		if _, err := time.LoadLocation(c.Location.Timezone); err != nil {
			return fmt.Errorf("location.timezone: %w", err)
		}
	}

	t := c.Tracker
	if t.Azimuth.Min >= t.Azimuth.Max {
		return fmt.Errorf("tracker.azimuth: min (%.2f) must be < max (%.2f)", t.Azimuth.Min, t.Azimuth.Max)
	}
	if t.Tilt.Min >= t.Tilt.Max {
		return fmt.Errorf("tracker.tilt: min (%.2f) must be < max (%.2f)", t.Tilt.Min, t.Tilt.Max)
	}
	if t.Tilt.Min < 0 || t.Tilt.Max > 90 {
		return fmt.Errorf("tracker.tilt must stay within 0-90, got %.2f-%.2f", t.Tilt.Min, t.Tilt.Max)
	}
	if t.StartHour < 0 || t.EndHour > 23 || t.StartHour > t.EndHour {
		return fmt.Errorf("tracker hours must satisfy 0 <= start_hour <= end_hour <= 23, got %d-%d", t.StartHour, t.EndHour)
	}

	if c.Thresholds.PowerTolerance > 1 {
		return fmt.Errorf("thresholds.power_tolerance must be <= 1, got %.2f", c.Thresholds.PowerTolerance)
	}
	if c.Correction.Min >= c.Correction.Max {
		return fmt.Errorf("correction: min (%.2f) must be < max (%.2f)", c.Correction.Min, c.Correction.Max)
	}
	if c.Correction.Window < c.Correction.MinSamples {
		return fmt.Errorf("correction.window (%d) must be >= min_samples (%d)", c.Correction.Window, c.Correction.MinSamples)
	}
	if c.Experience.Retain > c.Experience.Capacity {
		return fmt.Errorf("experience.retain (%d) must be <= capacity (%d)", c.Experience.Retain, c.Experience.Capacity)
	}

	switch c.Model.Type {
	case "heuristic":
	case "learned":
		if c.Model.WeightsFile == "" {
			return fmt.Errorf("model.weights_file is required for the learned model")
		}
	default:
		return fmt.Errorf("unsupported model.type: %s", c.Model.Type)
	}
	switch c.Sensors.Source {
	case "simulated", "serial":
	default:
		return fmt.Errorf("unsupported sensors.source: %s", c.Sensors.Source)
	}
	switch c.PowerMonitor.Type {
	case "simulated", "ina3221":
	default:
		return fmt.Errorf("unsupported power_monitor.type: %s", c.PowerMonitor.Type)
	}
	switch c.Telemetry.Sink {
	case "none":
	case "http":
		if c.Telemetry.URL == "" {
			return fmt.Errorf("telemetry.url is required for the http sink")
		}
	case "mqtt":
		if c.Telemetry.MQTT.Broker == "" {
			return fmt.Errorf("telemetry.mqtt.broker is required for the mqtt sink")
		}
	case "kafka":
		if len(c.Telemetry.Kafka.Brokers) == 0 {
			return fmt.Errorf("telemetry.kafka.brokers is required for the kafka sink")
		}
	default:
		return fmt.Errorf("unsupported telemetry.sink: %s", c.Telemetry.Sink)
	}
	switch c.Defaults.GPIOBackend {
	case "rpio", "gpiocdev":
	default:
		return fmt.Errorf("unsupported defaults.gpio_backend: %s", c.Defaults.GPIOBackend)
	}
	if c.Defaults.WebPort < 0 || c.Defaults.WebPort > 65535 {
		return fmt.Errorf("defaults.web_port must be 0-65535, got %d", c.Defaults.WebPort)
	}
	if c.Simulation.Start != "" {
		if _, err := time.Parse(time.RFC3339, c.Simulation.Start); err != nil {
			return fmt.Errorf("simulation.start: %w", err)
		}
	}
	return nil
}

// TimeLocation returns the configured time zone (UTC when unset).
func (c *Config) TimeLocation() *time.Location {
	if c.Location.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Location.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SimulationStart returns the virtual start time, or fallback when unset.
func (c *Config) SimulationStart(fallback time.Time) time.Time {
	if c.Simulation.Start == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, c.Simulation.Start)
	if err != nil {
		return fallback
	}
	return t
}

// CycleInterval returns the delay between two control cycles.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Tracker.CycleIntervalMs) * time.Millisecond
}

// Cooldown returns the pause after a failed cycle.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Tracker.CooldownMs) * time.Millisecond
}

// SettleDelay returns the wait before re-measuring a fine-tune.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Tracker.SettleDelayMs) * time.Millisecond
}

// AutoStop returns the actuator watchdog timeout.
func (c *Config) AutoStop() time.Duration {
	return time.Duration(c.Actuators.AutoStopMs) * time.Millisecond
}

// SwitchDelay returns the H-bridge dead time between direction changes.
func (c *Config) SwitchDelay() time.Duration {
	return time.Duration(c.Actuators.SwitchDelayMs) * time.Millisecond
}

// PollInterval returns the axis control period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Actuators.PollMs) * time.Millisecond
}

// EncoderPoll returns the Hall encoder sampling period.
func (c *Config) EncoderPoll() time.Duration {
	return time.Duration(c.Actuators.EncoderPollMs) * time.Millisecond
}

// MoveTimeout returns the upper bound for a single axis move.
func (c *Config) MoveTimeout() time.Duration {
	return time.Duration(c.Actuators.MoveTimeoutMs) * time.Millisecond
}

// UploadTimeout returns the telemetry send timeout.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.Telemetry.TimeoutMs) * time.Millisecond
}

// BreakerOpen returns how long the telemetry breaker stays open.
func (c *Config) BreakerOpen() time.Duration {
	return time.Duration(c.Telemetry.Breaker.OpenMs) * time.Millisecond
}

// SensorStale returns the maximum age of a serial light reading.
func (c *Config) SensorStale() time.Duration {
	return time.Duration(c.Sensors.StaleMs) * time.Millisecond
}

// SensorReconnect returns the first backoff delay for reopening the serial port.
func (c *Config) SensorReconnect() time.Duration {
	return time.Duration(c.Sensors.ReconnectMs) * time.Millisecond
}

// SimulationStep returns the virtual time advanced per cycle.
func (c *Config) SimulationStep() time.Duration {
	return time.Duration(c.Simulation.StepS) * time.Second
}
