package tracking

import (
	"sort"
	"sync"
	"time"

	"github.com/cjeanneret/SunGo/internal/logic/geometry"
)

// Kind tags an experience record.
type Kind int

const (
	KindSuccess Kind = iota
	KindFailure
	KindPredictionError
	KindCorrection
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	case KindPredictionError:
		return "prediction_error"
	case KindCorrection:
		return "correction"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Record is one immutable entry of the experience log.
type Record interface {
	Kind() Kind
	At() time.Time
}

// SuccessRecord is a position that met expectations, or a fine-tune that improved power.
type SuccessRecord struct {
	Time        time.Time            `json:"time"`
	Action      string               `json:"action"` // "maintain_position" or "fine_tune"
	Position    geometry.Orientation `json:"position"`
	Previous    geometry.Orientation `json:"previous"`
	Power       float64              `json:"power"`
	Improvement float64              `json:"improvement"`
	Conditions  Conditions           `json:"conditions"`
}

// FailureRecord is a fine-tune that did not improve power and was rolled back.
type FailureRecord struct {
	Time       time.Time            `json:"time"`
	Attempted  geometry.Orientation `json:"attempted"`
	Previous   geometry.Orientation `json:"previous"`
	PowerDelta float64              `json:"power_delta"`
	Conditions Conditions           `json:"conditions"`
}

// PredictionErrorRecord compares the power predicted at a target with the power measured there.
type PredictionErrorRecord struct {
	Time          time.Time            `json:"time"`
	Predicted     float64              `json:"predicted"`
	Actual        float64              `json:"actual"`
	Error         float64              `json:"error"`          // actual - predicted
	RelativeError float64              `json:"relative_error"` // error / predicted, 0 if predicted <= 0
	Position      geometry.Orientation `json:"position"`
	Conditions    Conditions           `json:"conditions"`
}

// NewPredictionError builds the record for a prediction and its measurement.
func NewPredictionError(at time.Time, predicted, actual float64, o geometry.Orientation, c Conditions) PredictionErrorRecord {
	r := PredictionErrorRecord{
		Time:       at,
		Predicted:  predicted,
		Actual:     actual,
		Error:      actual - predicted,
		Position:   o,
		Conditions: c,
	}
	if predicted > 0 {
		r.RelativeError = r.Error / predicted
	}
	return r
}

// CorrectionRecord is a change of the correction coefficient.
type CorrectionRecord struct {
	Time           time.Time `json:"time"`
	MeanError      float64   `json:"mean_error"`
	OldCoefficient float64   `json:"old_coefficient"`
	NewCoefficient float64   `json:"new_coefficient"`
	SampleSize     int       `json:"sample_size"`
}

func (r SuccessRecord) Kind() Kind         { return KindSuccess }
func (r FailureRecord) Kind() Kind         { return KindFailure }
func (r PredictionErrorRecord) Kind() Kind { return KindPredictionError }
func (r CorrectionRecord) Kind() Kind      { return KindCorrection }

func (r SuccessRecord) At() time.Time         { return r.Time }
func (r FailureRecord) At() time.Time         { return r.Time }
func (r PredictionErrorRecord) At() time.Time { return r.Time }
func (r CorrectionRecord) At() time.Time      { return r.Time }

// Counts is the number of records of each kind currently held.
type Counts struct {
	Successes        int `json:"successful"`
	Failures         int `json:"failed"`
	PredictionErrors int `json:"prediction_errors"`
	Corrections      int `json:"corrections"`
}

// ExperienceLog is a bounded, append-only history.
// When a list grows past capacity it is trimmed to its newest retain records.
type ExperienceLog struct {
	capacity int
	retain   int

	mu               sync.RWMutex
	successes        []SuccessRecord
	failures         []FailureRecord
	predictionErrors []PredictionErrorRecord
	corrections      []CorrectionRecord
}

func NewExperienceLog(capacity, retain int) *ExperienceLog {
	if capacity <= 0 {
		capacity = 1000
	}
	if retain <= 0 || retain > capacity {
		retain = capacity / 2
	}
	return &ExperienceLog{capacity: capacity, retain: retain}
}

func trim[T any](s []T, capacity, retain int) []T {
	if len(s) <= capacity {
		return s
	}
	return append([]T(nil), s[len(s)-retain:]...)
}

// Append stores r in the list of its kind.
func (l *ExperienceLog) Append(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch r := r.(type) {
	case SuccessRecord:
		l.successes = trim(append(l.successes, r), l.capacity, l.retain)
	case FailureRecord:
		l.failures = trim(append(l.failures, r), l.capacity, l.retain)
	case PredictionErrorRecord:
		l.predictionErrors = trim(append(l.predictionErrors, r), l.capacity, l.retain)
	case CorrectionRecord:
		l.corrections = trim(append(l.corrections, r), l.capacity, l.retain)
	}
}

// Counts returns the current list sizes.
func (l *ExperienceLog) Counts() Counts {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Counts{
		Successes:        len(l.successes),
		Failures:         len(l.failures),
		PredictionErrors: len(l.predictionErrors),
		Corrections:      len(l.corrections),
	}
}

// PredictionErrors returns a copy of the prediction error history, oldest first.
func (l *ExperienceLog) PredictionErrors() []PredictionErrorRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]PredictionErrorRecord(nil), l.predictionErrors...)
}

// Corrections returns a copy of the coefficient changes, oldest first.
func (l *ExperienceLog) Corrections() []CorrectionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]CorrectionRecord(nil), l.corrections...)
}

// Recent returns up to n records of any kind, newest first.
func (l *ExperienceLog) Recent(n int) []Record {
	l.mu.RLock()
	all := make([]Record, 0, len(l.successes)+len(l.failures)+len(l.predictionErrors)+len(l.corrections))
	for _, r := range l.successes {
		all = append(all, r)
	}
	for _, r := range l.failures {
		all = append(all, r)
	}
	for _, r := range l.predictionErrors {
		all = append(all, r)
	}
	for _, r := range l.corrections {
		all = append(all, r)
	}
	l.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].At().After(all[j].At()) })
	if n >= 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// Knowledge is the learning state shared by the controller components:
// the experience history and the correction coefficient.
type Knowledge struct {
	Log         *ExperienceLog
	Corrections *CorrectionTracker
}
