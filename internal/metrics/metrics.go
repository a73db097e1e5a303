package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tracker counters and gauges, exposed on /metrics by the web server.

var (
	// Control loop
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sungo",
		Subsystem: "tracker",
		Name:      "cycles_total",
		Help:      "Control cycles by outcome (on_target, adjusted, held, parked, skipped, failed)",
	}, []string{"outcome"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sungo",
		Subsystem: "tracker",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time spent in one control cycle",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	State = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sungo",
		Subsystem: "tracker",
		Name:      "state",
		Help:      "Current state (0=initializing, 1=tracking, 2=adjusting, 3=returning, 4=idle)",
	})

	CorrectionCoefficient = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sungo",
		Subsystem: "tracker",
		Name:      "correction_coefficient",
		Help:      "Multiplicative bias correction applied to predicted power",
	})

	PredictedPower = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sungo",
		Subsystem: "tracker",
		Name:      "predicted_power_watts",
		Help:      "Power predicted for the current orientation",
	})

	MeasuredPower = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sungo",
		Subsystem: "tracker",
		Name:      "measured_power_watts",
		Help:      "Last measured panel power",
	})

	EnergyWh = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sungo",
		Subsystem: "tracker",
		Name:      "energy_wh_total",
		Help:      "Energy harvested since start (Wh)",
	})

	Moves = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sungo",
		Subsystem: "tracker",
		Name:      "moves_total",
		Help:      "Orientation changes by kind (track, park, fine_tune, rollback, safe)",
	}, []string{"kind"})

	FineTunes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sungo",
		Subsystem: "tracker",
		Name:      "fine_tunes_total",
		Help:      "Fine-tune adjustments by result (kept, rolled_back)",
	}, []string{"result"})

	// Hardware
	ActuatorCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sungo",
		Subsystem: "actuator",
		Name:      "commands_total",
		Help:      "Effective actuator commands (repeated commands are not counted)",
	}, []string{"axis", "command"})

	// Telemetry
	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sungo",
		Subsystem: "telemetry",
		Name:      "uploads_total",
		Help:      "Telemetry records by result (sent, failed, rejected, backed_up, dropped)",
	}, []string{"result"})

	UploadLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sungo",
		Subsystem: "telemetry",
		Name:      "upload_duration_seconds",
		Help:      "Telemetry send duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
	})

	BreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sungo",
		Subsystem: "telemetry",
		Name:      "breaker_state",
		Help:      "Upload circuit breaker state (0=closed, 1=open, 2=half-open)",
	})
)
