package tracking

import (
	"github.com/cjeanneret/SunGo/internal/debug"
	"github.com/cjeanneret/SunGo/internal/logic/geometry"
)

// Evaluation is the cost/benefit of moving to a candidate orientation.
type Evaluation struct {
	Candidate      geometry.Orientation `json:"candidate"`
	PredictedPower float64              `json:"predicted_power"`
	AngleChange    float64              `json:"angle_change"`
	EstimatedGain  float64              `json:"estimated_gain"`
	MovementCost   float64              `json:"movement_cost"`
	NetGain        float64              `json:"net_gain"`
	Worthwhile     bool                 `json:"worthwhile"`
	Err            error                `json:"-"`
}

// NetGain is the estimated power gain minus the movement cost.
func NetGain(estimatedGain, movementCost float64) float64 {
	return estimatedGain - movementCost
}

// Evaluator decides whether a re-aim is worth the actuation energy.
type Evaluator struct {
	Model         PowerModel
	CostPerDegree float64 // W per degree of |Δaz|+|Δtilt|
	Threshold     float64 // minimum net gain (W)
}

// Evaluate predicts the power at candidate and weighs it against the move cost.
func (e Evaluator) Evaluate(s SensorSnapshot, candidate geometry.Orientation, coefficient float64) Evaluation {
	ev := Evaluation{
		Candidate:   candidate,
		AngleChange: s.Orientation.AngleChange(candidate),
	}
	predicted, err := e.Model.Predict(candidate, s.WithOrientation(candidate), coefficient)
	if err != nil {
		ev.Err = err
		return ev
	}
	ev.PredictedPower = predicted
	ev.EstimatedGain = predicted - s.MeasuredPower
	ev.MovementCost = ev.AngleChange * e.CostPerDegree
	ev.NetGain = NetGain(ev.EstimatedGain, ev.MovementCost)
	ev.Worthwhile = ev.NetGain > e.Threshold

	debug.Verbose("Evaluate %s: gain %.2f W, cost %.2f W", candidate, ev.EstimatedGain, ev.MovementCost)
	debug.Decision(ev.Worthwhile, ev.NetGain)
	return ev
}
