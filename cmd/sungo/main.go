package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
	_ "time/tzdata" // site time zone on images without zoneinfo

	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/SunGo/internal/config"
	"github.com/cjeanneret/SunGo/internal/debug"
	"github.com/cjeanneret/SunGo/internal/hw/actuator"
	"github.com/cjeanneret/SunGo/internal/hw/encoder"
	"github.com/cjeanneret/SunGo/internal/hw/gpio"
	"github.com/cjeanneret/SunGo/internal/hw/powermon"
	"github.com/cjeanneret/SunGo/internal/logbook"
	"github.com/cjeanneret/SunGo/internal/logic/geometry"
	"github.com/cjeanneret/SunGo/internal/logic/motion"
	"github.com/cjeanneret/SunGo/internal/logic/runner"
	"github.com/cjeanneret/SunGo/internal/logic/tracking"
	"github.com/cjeanneret/SunGo/internal/sensors"
	"github.com/cjeanneret/SunGo/internal/telemetry"
	"github.com/cjeanneret/SunGo/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	simulate := flag.Bool("simulate", false, "run on a virtual clock with simulated hardware")
	start := flag.String("start", "", "simulation start time (RFC3339); implies -simulate")
	cycles := flag.Uint64("cycles", 0, "stop after this many cycles (0 = run until interrupted)")
	debugLevel := flag.Int("debug", -1, "override debug level (0-4)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	if err := validateCLIOverrides(*start, *debugLevel); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, overrides{Simulate: *simulate, Start: *start, DebugLevel: *debugLevel})

	port := webPort.port()
	if port == 0 {
		port = cfg.Defaults.WebPort
	}

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	if err := run(ctx, cfg, port, *cycles); err != nil {
		log.Fatalf("sungo: %v", err)
	}
}

// overrides are the CLI values applied on top of the config file.
type overrides struct {
	Simulate   bool
	Start      string
	DebugLevel int // < 0 = use config
}

// validateCLIOverrides checks the start time and debug level flags.
// Empty / negative values are ignored (they mean "use config default").
func validateCLIOverrides(start string, debugLevel int) error {
	if start != "" {
		if _, err := time.Parse(time.RFC3339, start); err != nil {
			return fmt.Errorf("start must be RFC3339, got %q", start)
		}
	}
	if debugLevel > debug.LevelTrace {
		return fmt.Errorf("debug must be between 0 and %d, got %d", debug.LevelTrace, debugLevel)
	}
	return nil
}

// applyOverrides mutates cfg with overrides.
func applyOverrides(cfg *config.Config, o overrides) {
	if o.Simulate || o.Start != "" {
		cfg.Simulation.Enabled = true
	}
	if o.Start != "" {
		cfg.Simulation.Start = o.Start
	}
	if o.DebugLevel >= 0 {
		cfg.Defaults.DebugLevel = o.DebugLevel
	}
}

// mount is the panel mount as seen by the tracking core, the simulated
// sensors and the telemetry collector.
type mount interface {
	tracking.Mount
	Extensions() (float64, float64)
}

// task is a background loop stopped by cancelling its context.
type task func(ctx context.Context) error

// system holds the wired components of one run.
type system struct {
	runner   *runner.Runner
	mount    mount
	tasks    []task
	closers  []func() error
	uploader *telemetry.Uploader // nil when telemetry is disabled
}

func (s *system) close() {
	if err := s.mount.Stop(); err != nil {
		debug.Error(fmt.Errorf("stop mount: %w", err))
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Printf("close failed: %v", err)
		}
	}
}

// run wires the system and drives it until ctx is cancelled or maxCycles is reached.
func run(ctx context.Context, cfg *config.Config, port int, maxCycles uint64) error {
	var broadcaster *web.StatusBroadcaster
	if port > 0 {
		broadcaster = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	}

	sys, knowledge, err := build(cfg, maxCycles, broadcaster)
	if err != nil {
		return err
	}
	defer sys.close()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	for _, t := range sys.tasks {
		g.Go(func() error { return t(runCtx) })
	}
	if broadcaster != nil {
		h := web.NewHandlers(broadcaster, sys.runner, knowledge, trackerConfig(cfg), nil)
		if sys.uploader != nil {
			h.Uploads = sys.uploader
		}
		srv := web.NewServer(fmt.Sprintf(":%d", port), h)
		g.Go(func() error { return srv.Run(runCtx) })
	}
	g.Go(func() error {
		defer stop()
		return sys.runner.Run(runCtx)
	})

	err = g.Wait()
	debug.Summary("Run Summary")
	debug.Info("Cycles: %d, energy: %.2f Wh", sys.runner.Cycles(), sys.runner.EnergyWh())
	if sys.uploader != nil {
		st := sys.uploader.Stats()
		debug.Info("Telemetry: sent=%d failed=%d backed_up=%d dropped=%d", st.Sent, st.Failed, st.BackedUp, st.Dropped)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// build creates every component from cfg.
func build(cfg *config.Config, maxCycles uint64, broadcaster *web.StatusBroadcaster) (*system, *tracking.Knowledge, error) {
	sys := &system{}
	fail := func(err error) (*system, *tracking.Knowledge, error) {
		for i := len(sys.closers) - 1; i >= 0; i-- {
			sys.closers[i]()
		}
		return nil, nil, err
	}

	limits := geometry.LimitsFromConfig(cfg)
	strokes := geometry.NewStrokeMap(cfg)
	eph := geometry.ClearSkyFromConfig(cfg)

	debug.Step(1, "Initializing mount")
	m, err := newMount(cfg, limits, strokes, sys)
	if err != nil {
		return fail(err)
	}
	sys.mount = m

	debug.Step(2, "Initializing power monitor")
	monitor, simMonitor, err := newMonitor(cfg)
	if err != nil {
		return fail(err)
	}
	sys.closers = append(sys.closers, monitor.Close)

	debug.Step(3, "Initializing sensors")
	source, err := newSource(cfg, eph, m, monitor, simMonitor, sys)
	if err != nil {
		return fail(err)
	}

	debug.Step(4, "Loading power model")
	model, err := tracking.NewPowerModel(cfg)
	if err != nil {
		return fail(fmt.Errorf("power model: %w", err))
	}
	debug.Value("Model", cfg.Model.Type)

	var clock runner.Clock = runner.WallClock{}
	interval := cfg.CycleInterval()
	if cfg.Simulation.Enabled {
		startAt := cfg.SimulationStart(time.Now())
		clock = runner.NewVirtualClock(startAt)
		interval = cfg.SimulationStep()
		debug.Info("Simulation from %s, %v per cycle", startAt.Format(time.RFC3339), interval)
	}

	knowledge := tracking.NewKnowledge(cfg)
	ctrl := tracking.NewController(tracking.SettingsFromConfig(cfg), tracking.Dependencies{
		Source:    source,
		Mount:     m,
		Ephemeris: eph,
		Model:     model,
		Evaluator: tracking.Evaluator{
			Model:         model,
			CostPerDegree: cfg.Thresholds.CostPerDegreeW,
			Threshold:     cfg.Thresholds.WorthinessW,
		},
		Tuner:     tracking.FineTunerFromConfig(cfg),
		Knowledge: knowledge,
		Wait:      clock.Wait,
	})

	debug.Step(5, "Wiring observers")
	var observers []runner.Observer
	if broadcaster != nil {
		observers = append(observers, broadcaster)
	}
	if lb := logbook.New(cfg.Logbook); lb.Enabled() {
		debug.Value("Status log", cfg.Logbook.StatusPath)
		debug.Value("Action log", cfg.Logbook.ActionPath)
		observers = append(observers, lb)
	}
	if cfg.Telemetry.Sink != "" && cfg.Telemetry.Sink != "none" {
		sink, err := telemetry.NewSink(cfg)
		if err != nil {
			return fail(fmt.Errorf("telemetry: %w", err))
		}
		up := telemetry.NewUploader(sink, telemetry.OptionsFromConfig(cfg))
		sys.uploader = up
		sys.tasks = append(sys.tasks, up.Run)
		observers = append(observers, telemetry.NewCollector(cfg.Telemetry.SystemID, monitor, telemetry.Channels{
			Panel:    cfg.PowerMonitor.PanelChannel,
			Pi:       cfg.PowerMonitor.PiChannel,
			Actuator: cfg.PowerMonitor.ActuatorChannel,
		}, m, up))
		debug.Value("Telemetry sink", cfg.Telemetry.Sink)
	}

	sys.runner = runner.New(ctrl, clock, runner.Params{
		Interval:  interval,
		Cooldown:  cfg.Cooldown(),
		MaxCycles: maxCycles,
	}, observers...)
	return sys, knowledge, nil
}

// newMount returns the virtual mount for mock GPIO and simulation, or the
// two closed-loop actuator axes otherwise.
func newMount(cfg *config.Config, limits geometry.Limits, strokes *geometry.StrokeMap, sys *system) (mount, error) {
	initial := geometry.OrientationFrom(cfg.Tracker.Initial)
	if cfg.Defaults.MockGPIO || cfg.Simulation.Enabled {
		debug.Info("Using virtual mount")
		return motion.NewVirtual(initial, limits, strokes), nil
	}

	debug.Value("GPIO backend", cfg.Defaults.GPIOBackend)
	driver, err := gpio.NewDriver(gpio.Options{Backend: cfg.Defaults.GPIOBackend, Chip: cfg.Defaults.GPIOChip})
	if err != nil {
		return nil, fmt.Errorf("init GPIO: %w", err)
	}
	sys.closers = append(sys.closers, driver.Close)

	azimuth, err := newAxis(driver, "azimuth", cfg.Actuators.Azimuth, cfg, sys)
	if err != nil {
		return nil, err
	}
	debug.PrintStruct("Azimuth actuator config", cfg.Actuators.Azimuth)
	tilt, err := newAxis(driver, "tilt", cfg.Actuators.Tilt, cfg, sys)
	if err != nil {
		return nil, err
	}
	debug.PrintStruct("Tilt actuator config", cfg.Actuators.Tilt)

	ctrl := motion.NewController(azimuth, tilt, strokes, limits)
	// rods are fully retracted at power-up
	ctrl.Home()
	return ctrl, nil
}

func newAxis(g gpio.Driver, name string, ac config.AxisConfig, cfg *config.Config, sys *system) (*motion.Axis, error) {
	act, err := actuator.New(g, actuator.Config{
		Name:         name,
		BrownHighPin: ac.BrownHighPin,
		BlueHighPin:  ac.BlueHighPin,
		BrownLowPin:  ac.BrownLowPin,
		BlueLowPin:   ac.BlueLowPin,
		SwitchDelay:  cfg.SwitchDelay(),
		AutoStop:     cfg.AutoStop(),
	})
	if err != nil {
		return nil, fmt.Errorf("init %s actuator: %w", name, err)
	}
	hall, err := encoder.NewHall(g, encoder.HallConfig{
		Name:        name,
		Hall1Pin:    ac.Hall1Pin,
		Hall2Pin:    ac.Hall2Pin,
		PulsesPerMm: ac.PulsesPerMm,
		StrokeMm:    ac.StrokeMm,
		Poll:        cfg.EncoderPoll(),
	})
	if err != nil {
		return nil, fmt.Errorf("init %s encoder: %w", name, err)
	}
	sys.tasks = append(sys.tasks, hall.Run)

	return motion.NewAxis(act, hall, motion.AxisConfig{
		Name:      name,
		Tolerance: cfg.Actuators.ToleranceMm,
		Poll:      cfg.PollInterval(),
		Timeout:   cfg.MoveTimeout(),
		Kp:        cfg.Actuators.PID.Kp,
		Ki:        cfg.Actuators.PID.Ki,
		Kd:        cfg.Actuators.PID.Kd,
	}), nil
}

// newMonitor selects the power monitor. The simulated one is also returned
// concretely so the simulated sensors can feed it.
func newMonitor(cfg *config.Config) (powermon.Monitor, *powermon.Simulated, error) {
	switch cfg.PowerMonitor.Type {
	case "", "simulated":
		sim := powermon.NewSimulated()
		return sim, sim, nil
	case "ina3221":
		m, err := powermon.OpenINA3221(cfg.PowerMonitor.I2CBus, cfg.PowerMonitor.Address, cfg.PowerMonitor.ShuntOhms)
		if err != nil {
			return nil, nil, fmt.Errorf("init power monitor: %w", err)
		}
		return m, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported power monitor type: %s", cfg.PowerMonitor.Type)
	}
}

// newSource selects the sensor source.
func newSource(cfg *config.Config, eph geometry.Ephemeris, m mount, monitor powermon.Monitor, sim *powermon.Simulated, sys *system) (tracking.SensorSource, error) {
	switch cfg.Sensors.Source {
	case "", "simulated":
		return sensors.NewSimulated(eph, geometry.PanelFromConfig(cfg), m, sensors.SimulatedOptions{
			Noise:        cfg.Sensors.Noise,
			LightDivisor: cfg.Model.LightDivisor,
			Monitor:      sim,
			PanelChannel: cfg.PowerMonitor.PanelChannel,
		}), nil
	case "serial":
		debug.Value("Serial port", cfg.Sensors.SerialPort)
		board, err := sensors.OpenSerialBoard(cfg.Sensors.SerialPort, cfg.Sensors.BaudRate, cfg.SensorStale(), cfg.SensorReconnect())
		if err != nil {
			return nil, fmt.Errorf("init light board: %w", err)
		}
		sys.tasks = append(sys.tasks, board.Run)
		return sensors.NewHardware(board, monitor, cfg.PowerMonitor.PanelChannel, m), nil
	default:
		return nil, fmt.Errorf("unsupported sensor source: %s", cfg.Sensors.Source)
	}
}

func trackerConfig(cfg *config.Config) web.TrackerConfig {
	return web.TrackerConfig{
		Limits:        geometry.LimitsFromConfig(cfg),
		StartHour:     cfg.Tracker.StartHour,
		EndHour:       cfg.Tracker.EndHour,
		Timezone:      cfg.TimeLocation().String(),
		Park:          geometry.OrientationFrom(cfg.Tracker.Park),
		Safe:          geometry.OrientationFrom(cfg.Tracker.Safe),
		CycleInterval: cfg.CycleInterval().String(),
		Model:         cfg.Model.Type,
		Simulation:    cfg.Simulation.Enabled,
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
