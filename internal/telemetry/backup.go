package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Backup appends records that could not be delivered to a daily
// JSON-lines file: <dir>/telemetry_YYYYMMDD.jsonl.
type Backup struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

func NewBackup(dir string) *Backup {
	return &Backup{dir: dir, now: time.Now}
}

// Path returns the file used for records written at t.
func (b *Backup) Path(t time.Time) string {
	return filepath.Join(b.dir, "telemetry_"+t.Format("20060102")+".jsonl")
}

// Append writes one record as a JSON line.
func (b *Backup) Append(r Record) error {
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal backup record: %w", err)
	}
	line = append(line, '\n')

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	path := b.Path(b.now())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("write backup %s: %w", path, err)
	}
	return f.Close()
}
