package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/cjeanneret/SunGo/internal/circuitbreaker"
	"github.com/cjeanneret/SunGo/internal/config"
	"github.com/cjeanneret/SunGo/internal/debug"
	"github.com/cjeanneret/SunGo/internal/metrics"
)

// Options configures an Uploader. Zero values take defaults.
type Options struct {
	QueueSize  int
	Timeout    time.Duration // per send (default 2s)
	RatePerSec float64       // <= 0 = unlimited
	BackupDir  string        // empty = failed records are dropped
	Breaker    circuitbreaker.Config
}

// OptionsFromConfig reads the upload options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		QueueSize:  cfg.Telemetry.QueueSize,
		Timeout:    cfg.UploadTimeout(),
		RatePerSec: cfg.Telemetry.RatePerSec,
		BackupDir:  cfg.Telemetry.BackupDir,
		Breaker: circuitbreaker.Config{
			FailureThreshold: cfg.Telemetry.Breaker.Failures,
			OpenTimeout:      cfg.BreakerOpen(),
		},
	}
}

// Stats counts upload outcomes.
type Stats struct {
	Sent     int64 `json:"sent"`
	Failed   int64 `json:"failed"`
	BackedUp int64 `json:"backed_up"`
	Dropped  int64 `json:"dropped"`
}

// Uploader delivers records in the background. Submit never blocks the
// control loop: records that cannot be queued or sent go to the backup.
type Uploader struct {
	sink    Sink
	queue   chan Record
	timeout time.Duration
	limiter *rate.Limiter
	breaker *circuitbreaker.Breaker
	backup  *Backup

	sent, failed, backedUp, dropped atomic.Int64
}

func NewUploader(sink Sink, opts Options) *Uploader {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	onChange := opts.Breaker.OnStateChange
	opts.Breaker.OnStateChange = func(from, to circuitbreaker.State) {
		debug.Info("Telemetry breaker: %s -> %s", from, to)
		metrics.BreakerState.Set(float64(to))
		if onChange != nil {
			onChange(from, to)
		}
	}
	u := &Uploader{
		sink:    sink,
		queue:   make(chan Record, opts.QueueSize),
		timeout: opts.Timeout,
		limiter: rate.NewLimiter(limit, 1),
		breaker: circuitbreaker.New(opts.Breaker),
	}
	if opts.BackupDir != "" {
		u.backup = NewBackup(opts.BackupDir)
	}
	return u
}

// Submit queues r. A full queue sends r straight to the backup.
func (u *Uploader) Submit(r Record) bool {
	select {
	case u.queue <- r:
		return true
	default:
		debug.Verbose("Telemetry queue full, backing up record")
		u.save(r)
		return false
	}
}

// Run sends queued records until ctx is done, then backs up what is left
// and closes the sink.
func (u *Uploader) Run(ctx context.Context) error {
	defer func() {
		if err := u.sink.Close(); err != nil {
			debug.Error(fmt.Errorf("close telemetry sink: %w", err))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			u.drain()
			return nil
		case r := <-u.queue:
			u.send(ctx, r)
		}
	}
}

func (u *Uploader) drain() {
	for {
		select {
		case r := <-u.queue:
			u.save(r)
		default:
			return
		}
	}
}

func (u *Uploader) send(ctx context.Context, r Record) {
	if err := u.limiter.Wait(ctx); err != nil {
		u.save(r)
		return
	}
	err := u.breaker.Execute(func() error {
		sctx, cancel := context.WithTimeout(ctx, u.timeout)
		defer cancel()
		start := time.Now()
		id, err := u.sink.Send(sctx, r)
		metrics.UploadLatency.Observe(time.Since(start).Seconds())
		if err == nil {
			debug.Live("Telemetry: %.2f W uploaded (record %s)", r.PowerOutput, id)
		}
		return err
	})
	switch {
	case err == nil:
		u.sent.Add(1)
		metrics.Uploads.WithLabelValues("sent").Inc()
		return
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		metrics.Uploads.WithLabelValues("rejected").Inc()
	default:
		u.failed.Add(1)
		metrics.Uploads.WithLabelValues("failed").Inc()
		debug.Info("Telemetry upload failed: %v", err)
	}
	u.save(r)
}

func (u *Uploader) save(r Record) {
	if u.backup == nil {
		u.dropped.Add(1)
		metrics.Uploads.WithLabelValues("dropped").Inc()
		return
	}
	if err := u.backup.Append(r); err != nil {
		debug.Error(err)
		u.dropped.Add(1)
		metrics.Uploads.WithLabelValues("dropped").Inc()
		return
	}
	u.backedUp.Add(1)
	metrics.Uploads.WithLabelValues("backed_up").Inc()
}

// Stats returns the upload counters.
func (u *Uploader) Stats() Stats {
	return Stats{
		Sent:     u.sent.Load(),
		Failed:   u.failed.Load(),
		BackedUp: u.backedUp.Load(),
		Dropped:  u.dropped.Load(),
	}
}

// BreakerState returns the state of the upload breaker.
func (u *Uploader) BreakerState() circuitbreaker.State {
	return u.breaker.State()
}
