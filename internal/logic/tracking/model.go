package tracking

import (
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/SunGo/internal/config"
	"github.com/cjeanneret/SunGo/internal/debug"
	"github.com/cjeanneret/SunGo/internal/logic/geometry"
)

// PowerModel estimates the power the panel should produce at orientation o
// under the conditions of s. The coefficient is the current correction coefficient.
type PowerModel interface {
	Predict(o geometry.Orientation, s SensorSnapshot, coefficient float64) (float64, error)
}

// HeuristicModel scales the light sum by an angle efficiency.
type HeuristicModel struct {
	LightDivisor float64
	Optimal      geometry.Orientation
	FollowSun    bool // use the sun-facing orientation as optimum when the snapshot has one
}

// HeuristicFromConfig reads the heuristic parameters.
func HeuristicFromConfig(cfg *config.Config) HeuristicModel {
	return HeuristicModel{
		LightDivisor: cfg.Model.LightDivisor,
		Optimal:      geometry.OrientationFrom(cfg.Model.Optimal),
		FollowSun:    cfg.Model.FollowSun,
	}
}

// AngleEfficiency penalises the distance from the optimum linearly, floored at 0.1.
func AngleEfficiency(o, optimal geometry.Orientation) float64 {
	azimuthLoss := math.Abs(o.Azimuth-optimal.Azimuth) / 180
	tiltLoss := math.Abs(o.Tilt-optimal.Tilt) / 90
	return math.Max(0.1, 1-(azimuthLoss*0.3+tiltLoss*0.2))
}

func (m HeuristicModel) Predict(o geometry.Orientation, s SensorSnapshot, coefficient float64) (float64, error) {
	divisor := m.LightDivisor
	if divisor <= 0 {
		divisor = 50
	}
	optimal := m.Optimal
	if m.FollowSun && s.Sun != nil && s.Sun.Up() {
		optimal = geometry.SunFacing(*s.Sun)
	}
	return s.LightSum / divisor * AngleEfficiency(o, optimal) * coefficient, nil
}

// Features is the learned model input. The order is fixed:
// hour, minute, day, E, W, S, N, light sum, azimuth, tilt, measured power, temperature, humidity.
func Features(o geometry.Orientation, s SensorSnapshot) []float64 {
	return []float64{
		float64(s.Time.Hour()),
		float64(s.Time.Minute()),
		float64(s.Time.Day()),
		s.Light.East,
		s.Light.West,
		s.Light.South,
		s.Light.North,
		s.LightSum,
		o.Azimuth,
		o.Tilt,
		s.MeasuredPower,
		s.Env.Temperature,
		s.Env.Humidity,
	}
}

// FeatureCount is the length of the Features vector.
const FeatureCount = 13

// Predictor is a trained regressor over the Features vector.
type Predictor interface {
	Predict(features []float64) (float64, error)
}

// LearnedModel delegates to a trained predictor and applies the coefficient.
type LearnedModel struct {
	Predictor Predictor
}

func (m LearnedModel) Predict(o geometry.Orientation, s SensorSnapshot, coefficient float64) (float64, error) {
	if m.Predictor == nil {
		return 0, fmt.Errorf("learned model: no predictor: %w", ErrPrediction)
	}
	p, err := m.Predictor.Predict(Features(o, s))
	if err != nil {
		return 0, fmt.Errorf("learned model: %w: %w", ErrPrediction, err)
	}
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, fmt.Errorf("learned model: non-finite output: %w", ErrPrediction)
	}
	return p * coefficient, nil
}

// FallbackModel uses Primary and falls back to Secondary when Primary fails.
type FallbackModel struct {
	Primary   PowerModel
	Secondary PowerModel
}

func (m FallbackModel) Predict(o geometry.Orientation, s SensorSnapshot, coefficient float64) (float64, error) {
	p, err := m.Primary.Predict(o, s, coefficient)
	if err == nil {
		return p, nil
	}
	debug.Verbose("Primary model failed (%v), using fallback", err)
	return m.Secondary.Predict(o, s, coefficient)
}

// LinearPredictor is a weighted sum of the features plus a bias.
type LinearPredictor struct {
	Weights []float64 `yaml:"weights"`
	Bias    float64   `yaml:"bias"`
}

func (p LinearPredictor) Predict(features []float64) (float64, error) {
	if len(features) != len(p.Weights) {
		return 0, fmt.Errorf("linear predictor: %d features for %d weights", len(features), len(p.Weights))
	}
	return floats.Dot(p.Weights, features) + p.Bias, nil
}

// LoadLinearPredictor reads weights from a YAML file.
func LoadLinearPredictor(path string) (LinearPredictor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LinearPredictor{}, fmt.Errorf("read model weights: %w", err)
	}
	var p LinearPredictor
	if err := yaml.Unmarshal(data, &p); err != nil {
		return LinearPredictor{}, fmt.Errorf("unmarshal model weights: %w", err)
	}
	if len(p.Weights) != FeatureCount {
		return LinearPredictor{}, fmt.Errorf("model weights: want %d weights, got %d", FeatureCount, len(p.Weights))
	}
	return p, nil
}

// NewPowerModel builds the configured model. The learned model always falls back to the heuristic.
func NewPowerModel(cfg *config.Config) (PowerModel, error) {
	heuristic := HeuristicFromConfig(cfg)
	switch cfg.Model.Type {
	case "heuristic":
		return heuristic, nil
	case "learned":
		p, err := LoadLinearPredictor(cfg.Model.WeightsFile)
		if err != nil {
			return nil, err
		}
		return FallbackModel{Primary: LearnedModel{Predictor: p}, Secondary: heuristic}, nil
	default:
		return nil, fmt.Errorf("unsupported model type: %s", cfg.Model.Type)
	}
}
