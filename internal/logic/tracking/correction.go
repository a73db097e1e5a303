package tracking

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/cjeanneret/SunGo/internal/config"
	"github.com/cjeanneret/SunGo/internal/debug"
)

// CorrectionSettings tunes the systematic error correction.
type CorrectionSettings struct {
	MinSamples int     // no correction below this many samples
	Window     int     // mean over the most recent samples
	Threshold  float64 // |mean error| in watts that triggers a correction
	Step       float64 // relative change per correction (0.05 = ±5%)
	Min, Max   float64 // coefficient bounds
	Capacity   int     // sample history bound
	Retain     int
}

// CorrectionSettingsFromConfig reads the correction and history parameters.
func CorrectionSettingsFromConfig(cfg *config.Config) CorrectionSettings {
	return CorrectionSettings{
		MinSamples: cfg.Correction.MinSamples,
		Window:     cfg.Correction.Window,
		Threshold:  cfg.Thresholds.SystemErrorW,
		Step:       cfg.Correction.Step,
		Min:        cfg.Correction.Min,
		Max:        cfg.Correction.Max,
		Capacity:   cfg.Experience.Capacity,
		Retain:     cfg.Experience.Retain,
	}
}

// CorrectionTracker owns the correction coefficient applied to predicted power.
// It is a slow bias corrector: at most one ±Step change per check.
type CorrectionTracker struct {
	cfg CorrectionSettings

	mu          sync.Mutex
	coefficient float64
	samples     []float64
}

func NewCorrectionTracker(cfg CorrectionSettings) *CorrectionTracker {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	if cfg.Retain <= 0 || cfg.Retain > cfg.Capacity {
		cfg.Retain = cfg.Capacity / 2
	}
	if cfg.Window <= 0 {
		cfg.Window = 20
	}
	return &CorrectionTracker{cfg: cfg, coefficient: 1.0}
}

// Coefficient returns the current correction coefficient.
func (c *CorrectionTracker) Coefficient() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coefficient
}

// Samples returns the number of error samples held.
func (c *CorrectionTracker) Samples() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

// Record appends a prediction error sample (actual - predicted, watts).
func (c *CorrectionTracker) Record(sample float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = trim(append(c.samples, sample), c.cfg.Capacity, c.cfg.Retain)
}

// Check corrects the coefficient when the recent mean error exceeds the threshold.
// It returns a record every time the threshold is exceeded, even when the
// coefficient is already clamped.
func (c *CorrectionTracker) Check(now time.Time) (CorrectionRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.samples) < c.cfg.MinSamples {
		return CorrectionRecord{}, false
	}
	recent := c.samples
	if len(recent) > c.cfg.Window {
		recent = recent[len(recent)-c.cfg.Window:]
	}
	mean := stat.Mean(recent, nil)
	if math.Abs(mean) <= c.cfg.Threshold {
		return CorrectionRecord{}, false
	}

	old := c.coefficient
	next := old * (1 - c.cfg.Step) // predictions running high
	if mean > 0 {
		next = old * (1 + c.cfg.Step) // predictions running low
	}
	// at a bound the record is still written, with old == new
	next = math.Max(c.cfg.Min, math.Min(c.cfg.Max, next))
	c.coefficient = next

	debug.Info("Systematic error %.2f W over %d samples: coefficient %.3f -> %.3f", mean, len(recent), old, next)
	return CorrectionRecord{
		Time:           now,
		MeanError:      mean,
		OldCoefficient: old,
		NewCoefficient: next,
		SampleSize:     len(recent),
	}, true
}

// Update records a sample and checks for a systematic error.
func (c *CorrectionTracker) Update(now time.Time, sample float64) (CorrectionRecord, bool) {
	c.Record(sample)
	return c.Check(now)
}
