package encoder

// Position is the read side of a linear actuator position sensor.
// It represents an abstract encoder, regardless of how pulses are produced
// (Hall quadrature, potentiometer, simulation).
type Position interface {
	// PositionMm returns the rod extension in millimetres.
	PositionMm() float64
	// PositionPercent returns the extension as a share of the stroke (0-100).
	PositionPercent() float64
	// PulseCount returns the raw signed pulse count.
	PulseCount() int64
	// ResetPosition declares the current rod position as zero.
	ResetPosition()
}
