// Package logbook appends the tracker status and macro-move actions to CSV files.
package logbook

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cjeanneret/SunGo/internal/config"
	"github.com/cjeanneret/SunGo/internal/debug"
	"github.com/cjeanneret/SunGo/internal/logic/runner"
	"github.com/cjeanneret/SunGo/internal/logic/tracking"
)

var (
	StatusHeader = []string{
		"timestamp", "system_state", "azimuth", "elevation",
		"theoretical_azimuth", "theoretical_elevation",
		"predicted_power", "current_power",
		"fine_tune_azimuth", "fine_tune_elevation",
		"correction_coefficient",
		"successful", "failed", "prediction_errors", "corrections",
		"last_movement",
	}
	ActionHeader = []string{
		"predict_time", "predicted_power", "predicted_azimuth", "predicted_elevation",
		"moved", "move_time", "moved_azimuth", "moved_elevation", "power_after_move",
	}
)

// csvFile appends rows to path, writing header first when the file is empty.
type csvFile struct {
	path   string
	header []string
	mu     sync.Mutex
}

func (f *csvFile) append(row []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
	}
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat %s: %w", f.path, err)
	}

	w := csv.NewWriter(file)
	if info.Size() == 0 {
		w.Write(f.header)
	}
	w.Write(row)
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	return file.Close()
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// StatusLog holds one row per cycle.
type StatusLog struct{ f csvFile }

func NewStatusLog(path string) *StatusLog {
	return &StatusLog{f: csvFile{path: path, header: StatusHeader}}
}

// Path returns the CSV file location.
func (l *StatusLog) Path() string { return l.f.path }

// Write appends s.
func (l *StatusLog) Write(s tracking.Status) error {
	return l.f.append([]string{
		stamp(s.Time),
		s.State.String(),
		num(s.Orientation.Azimuth),
		num(s.Orientation.Tilt),
		num(s.Theoretical.Azimuth),
		num(s.Theoretical.Tilt),
		num(s.PredictedPower),
		num(s.MeasuredPower),
		num(s.FineTune.Azimuth),
		num(s.FineTune.Tilt),
		strconv.FormatFloat(s.Coefficient, 'f', 4, 64),
		strconv.Itoa(s.Experience.Successes),
		strconv.Itoa(s.Experience.Failures),
		strconv.Itoa(s.Experience.PredictionErrors),
		strconv.Itoa(s.Experience.Corrections),
		stamp(s.LastMovement),
	})
}

// ActionLog holds one row per macro-move decision.
type ActionLog struct{ f csvFile }

func NewActionLog(path string) *ActionLog {
	return &ActionLog{f: csvFile{path: path, header: ActionHeader}}
}

func (l *ActionLog) Path() string { return l.f.path }

// Write appends a.
func (l *ActionLog) Write(a tracking.Action) error {
	return l.f.append([]string{
		stamp(a.PredictTime),
		num(a.PredictedPower),
		num(a.Predicted.Azimuth),
		num(a.Predicted.Tilt),
		strconv.FormatBool(a.Moved),
		stamp(a.MoveTime),
		num(a.MovedTo.Azimuth),
		num(a.MovedTo.Tilt),
		num(a.PowerAfterMove),
	})
}

// Logbook records cycle reports. A nil log is disabled.
type Logbook struct {
	Status  *StatusLog
	Actions *ActionLog
}

// New opens the logs named in cfg; an empty path disables that log.
func New(cfg config.LogbookConfig) *Logbook {
	lb := &Logbook{}
	if cfg.StatusPath != "" {
		lb.Status = NewStatusLog(cfg.StatusPath)
	}
	if cfg.ActionPath != "" {
		lb.Actions = NewActionLog(cfg.ActionPath)
	}
	return lb
}

// Enabled reports whether at least one log is configured.
func (lb *Logbook) Enabled() bool {
	return lb.Status != nil || lb.Actions != nil
}

// Observe writes the status of every cycle and the action, if any.
// Write failures are logged; they never stop tracking.
func (lb *Logbook) Observe(r runner.Report) {
	if lb.Status != nil {
		if err := lb.Status.Write(r.Status); err != nil {
			debug.Error(fmt.Errorf("status log: %w", err))
		}
	}
	if lb.Actions != nil && r.Outcome.Action != nil {
		if err := lb.Actions.Write(*r.Outcome.Action); err != nil {
			debug.Error(fmt.Errorf("action log: %w", err))
		}
	}
}
