package telemetry

import (
	"fmt"
	"time"

	"github.com/cjeanneret/SunGo/internal/debug"
	"github.com/cjeanneret/SunGo/internal/hw/powermon"
	"github.com/cjeanneret/SunGo/internal/logic/runner"
)

// Record is one power reading uploaded to the monitoring backend.
// Optional fields are null when the matching channel is not available.
type Record struct {
	SystemID  string    `json:"system_id"`
	Timestamp time.Time `json:"timestamp"`

	Voltage      float64 `json:"voltage"`
	Current      float64 `json:"current"`
	PowerOutput  float64 `json:"power_output"`
	PanelAzimuth float64 `json:"panel_azimuth"`
	PanelTilt    float64 `json:"panel_tilt"`

	RaspberryPiVoltage *float64 `json:"raspberry_pi_voltage"`
	RaspberryPiCurrent *float64 `json:"raspberry_pi_current"`
	RaspberryPiPower   *float64 `json:"raspberry_pi_power"`

	NSActuatorAngle     *float64 `json:"ns_actuator_angle"`
	NSActuatorExtension *float64 `json:"ns_actuator_extension"`
	EWActuatorAngle     *float64 `json:"ew_actuator_angle"`
	EWActuatorExtension *float64 `json:"ew_actuator_extension"`

	ActuatorTotalVoltage *float64 `json:"actuator_total_voltage"`
	ActuatorTotalCurrent *float64 `json:"actuator_total_current"`
	ActuatorTotalPower   *float64 `json:"actuator_total_power"`

	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Notes       string   `json:"notes"`
}

func ptr(v float64) *float64 { return &v }

// Channels are the power monitor channels (0 = not wired).
type Channels struct {
	Panel    int
	Pi       int
	Actuator int
}

// Extender reports the rod extensions (azimuth, tilt) in mm.
type Extender interface {
	Extensions() (float64, float64)
}

// Submitter accepts records for upload.
type Submitter interface {
	Submit(r Record) bool
}

// Collector turns cycle reports into records and submits them.
type Collector struct {
	systemID string
	monitor  powermon.Monitor
	channels Channels
	mount    Extender
	out      Submitter
}

// NewCollector builds a collector. monitor and mount may be nil.
func NewCollector(systemID string, monitor powermon.Monitor, channels Channels, mount Extender, out Submitter) *Collector {
	return &Collector{systemID: systemID, monitor: monitor, channels: channels, mount: mount, out: out}
}

// Observe submits a record for every cycle that read its sensors.
func (c *Collector) Observe(rep runner.Report) {
	if rep.Outcome.Skipped {
		return
	}
	c.out.Submit(c.Build(rep))
}

// Build assembles the record of a cycle.
func (c *Collector) Build(rep runner.Report) Record {
	st := rep.Status
	r := Record{
		SystemID:     c.systemID,
		Timestamp:    rep.Time,
		PowerOutput:  st.MeasuredPower,
		PanelAzimuth: st.Orientation.Azimuth,
		PanelTilt:    st.Orientation.Tilt,
		Temperature:  ptr(st.Env.Temperature),
		Humidity:     ptr(st.Env.Humidity),

		NSActuatorAngle: ptr(st.Orientation.Tilt),
		EWActuatorAngle: ptr(st.Orientation.Azimuth),
	}

	if p, ok := c.read(c.channels.Panel); ok {
		r.Voltage, r.Current = p.Voltage, p.Current
	}
	if p, ok := c.read(c.channels.Pi); ok {
		r.RaspberryPiVoltage, r.RaspberryPiCurrent, r.RaspberryPiPower = ptr(p.Voltage), ptr(p.Current), ptr(p.Power)
	}
	if p, ok := c.read(c.channels.Actuator); ok {
		r.ActuatorTotalVoltage, r.ActuatorTotalCurrent, r.ActuatorTotalPower = ptr(p.Voltage), ptr(p.Current), ptr(p.Power)
	}
	if c.mount != nil {
		az, tilt := c.mount.Extensions()
		r.EWActuatorExtension, r.NSActuatorExtension = ptr(az), ptr(tilt)
		r.Notes = fmt.Sprintf("Az:%.1fmm, Tilt:%.1fmm, state %s", az, tilt, st.State)
	} else {
		r.Notes = fmt.Sprintf("state %s", st.State)
	}
	return r
}

func (c *Collector) read(channel int) (powermon.Reading, bool) {
	if c.monitor == nil || channel <= 0 {
		return powermon.Reading{}, false
	}
	p, err := c.monitor.Read(channel)
	if err != nil {
		debug.Verbose("Power monitor channel %d: %v", channel, err)
		return powermon.Reading{}, false
	}
	return p, true
}
