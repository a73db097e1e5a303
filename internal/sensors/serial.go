package sensors

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/cjeanneret/SunGo/internal/debug"
	"github.com/cjeanneret/SunGo/internal/logic/tracking"
)

// ErrStale is returned when the board has not reported recently.
var ErrStale = errors.New("sensor reading is stale")

// BoardReading is one line of the light board.
type BoardReading struct {
	Light  tracking.Light
	Env    tracking.Environment
	HasEnv bool
}

// ParseLine decodes "E,W,S,N" or "E,W,S,N,T,H,Wind".
func ParseLine(line string) (BoardReading, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return BoardReading{}, errors.New("empty line")
	}
	parts := strings.Split(line, ",")
	if len(parts) != 4 && len(parts) != 7 {
		return BoardReading{}, fmt.Errorf("malformed: %q", line)
	}
	values := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BoardReading{}, fmt.Errorf("field %d of %q: %w", i+1, line, err)
		}
		// the board prints "nan" for a failed analog or DHT read
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return BoardReading{}, fmt.Errorf("field %d of %q: not a finite number", i+1, line)
		}
		values[i] = v
	}
	r := BoardReading{Light: tracking.Light{East: values[0], West: values[1], South: values[2], North: values[3]}}
	if len(values) == 7 {
		r.HasEnv = true
		r.Env = tracking.Environment{Temperature: values[4], Humidity: values[5], WindSpeed: values[6]}
	}
	return r, nil
}

// maxReconnect caps the backoff between two attempts to reopen the port.
const maxReconnect = 30 * time.Second

// SerialBoard reads the light board line by line in the background and
// keeps the latest valid reading.
type SerialBoard struct {
	port   io.ReadCloser
	reopen func() (io.ReadCloser, error) // nil: the stream cannot be reopened
	retry  time.Duration
	stale  time.Duration
	now    func() time.Time

	mu     sync.Mutex
	last   BoardReading
	lastAt time.Time
	env    tracking.Environment // last environment seen, kept across light-only lines
}

// OpenSerialBoard opens the board on a serial port (e.g. /dev/ttyACM0).
// A lost port is reopened by Run, starting retry after the failure.
func OpenSerialBoard(path string, baud int, stale, retry time.Duration) (*SerialBoard, error) {
	open := func() (io.ReadCloser, error) {
		port, err := serial.Open(path, &serial.Mode{BaudRate: baud})
		if err != nil {
			return nil, fmt.Errorf("open serial %s: %w", path, err)
		}
		return port, nil
	}
	port, err := open()
	if err != nil {
		return nil, err
	}
	debug.Info("Light board on %s at %d baud", path, baud)
	b := NewSerialBoard(port, stale)
	b.reopen = open
	b.retry = retry
	return b, nil
}

// NewSerialBoard reads from an already opened stream.
func NewSerialBoard(port io.ReadCloser, stale time.Duration) *SerialBoard {
	return &SerialBoard{port: port, stale: stale, now: time.Now, retry: time.Second}
}

// Run reads lines until ctx is done. Read errors are logged and the port is
// reopened with a growing delay; Latest reports ErrStale meanwhile. A stream
// that cannot be reopened ends Run at EOF. Run never returns an error.
func (b *SerialBoard) Run(ctx context.Context) error {
	port := b.port
	for {
		err := b.read(ctx, port)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			debug.Error(fmt.Errorf("read light board: %w", err))
		} else {
			debug.Info("Light board stream ended")
		}
		if b.reopen == nil {
			return nil
		}
		if port = b.reconnect(ctx); port == nil {
			return nil
		}
	}
}

// read consumes port until it fails or ends, then closes it.
func (b *SerialBoard) read(ctx context.Context, port io.ReadCloser) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = port.Close()
		case <-done:
		}
	}()
	defer port.Close()

	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		r, err := ParseLine(scanner.Text())
		if err != nil {
			debug.Verbose("Light board: %v", err)
			continue
		}
		b.store(r)
	}
	return scanner.Err()
}

// reconnect retries reopen, doubling the delay up to maxReconnect.
// It returns nil when ctx is done first.
func (b *SerialBoard) reconnect(ctx context.Context) io.ReadCloser {
	delay := b.retry
	if delay <= 0 {
		delay = time.Second
	}
	for {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		port, err := b.reopen()
		if err == nil {
			debug.Info("Light board reconnected")
			return port
		}
		delay = min(2*delay, maxReconnect)
		debug.Verbose("Light board: %v, retrying in %v", err, delay)
	}
}

func (b *SerialBoard) store(r BoardReading) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.HasEnv {
		b.env = r.Env
	} else {
		r.Env = b.env
	}
	b.last = r
	b.lastAt = b.now()
	debug.Trace("Light board: E=%.0f W=%.0f S=%.0f N=%.0f", r.Light.East, r.Light.West, r.Light.South, r.Light.North)
}

// Latest returns the last reading, or ErrStale when none arrived within the staleness window.
func (b *SerialBoard) Latest() (BoardReading, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastAt.IsZero() {
		return BoardReading{}, fmt.Errorf("no reading yet: %w", ErrStale)
	}
	if age := b.now().Sub(b.lastAt); b.stale > 0 && age > b.stale {
		return BoardReading{}, fmt.Errorf("last reading %s old: %w", age.Round(time.Millisecond), ErrStale)
	}
	return b.last, nil
}
