package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/SunGo/internal/debug"
	"github.com/warthog618/go-gpiocdev"
)

// CdevDriver drives GPIOs through the Linux GPIO character device (go-gpiocdev).
// It works on kernels where /dev/gpiomem is unavailable (Raspberry Pi 5).
type CdevDriver struct {
	chip  string
	mu    sync.Mutex
	lines map[int]*gpiocdev.Line
}

// NewCdevDriver opens lines on the given chip lazily, one request per pin.
func NewCdevDriver(chip string) (*CdevDriver, error) {
	if chip == "" {
		chip = "gpiochip0"
	}
	debug.Info("Initializing real GPIO driver (gpiocdev, chip=%s)", chip)
	return &CdevDriver{
		chip:  chip,
		lines: make(map[int]*gpiocdev.Line),
	}, nil
}

func lineOptions(mode PinMode) ([]gpiocdev.LineReqOption, error) {
	switch mode {
	case Input:
		return []gpiocdev.LineReqOption{gpiocdev.AsInput}, nil
	case InputPullUp:
		return []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithPullUp}, nil
	case Output:
		return []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}, nil
	default:
		return nil, fmt.Errorf("unknown pin mode: %d", mode)
	}
}

func (c *CdevDriver) SetupPin(pin int, mode PinMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setup(pin, mode)
}

func (c *CdevDriver) setup(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	opts, err := lineOptions(mode)
	if err != nil {
		return err
	}
	if l, ok := c.lines[pin]; ok {
		if err := l.Close(); err != nil {
			return fmt.Errorf("release line %d: %w", pin, err)
		}
		delete(c.lines, pin)
	}
	l, err := gpiocdev.RequestLine(c.chip, pin, append(opts, gpiocdev.WithConsumer("sungo"))...)
	if err != nil {
		return fmt.Errorf("request line %d: %w", pin, err)
	}
	c.lines[pin] = l
	return nil
}

func (c *CdevDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[pin]
	if !ok {
		if err := c.setup(pin, Output); err != nil {
			return err
		}
		l = c.lines[pin]
	}
	v := 0
	if level == High {
		v = 1
	}
	if err := l.SetValue(v); err != nil {
		return fmt.Errorf("write line %d: %w", pin, err)
	}
	return nil
}

func (c *CdevDriver) ReadPin(pin int) (Level, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[pin]
	if !ok {
		if err := c.setup(pin, Input); err != nil {
			return Low, err
		}
		l = c.lines[pin]
	}
	v, err := l.Value()
	if err != nil {
		return Low, fmt.Errorf("read line %d: %w", pin, err)
	}
	return Level(v != 0), nil
}

func (c *CdevDriver) Close() error {
	debug.Trace("GPIO Close (gpiocdev)")

	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for pin, l := range c.lines {
		// Outputs are driven low before release so no H-bridge is left energised.
		_ = l.SetValue(0)
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line %d: %w", pin, err))
		}
		delete(c.lines, pin)
	}
	return errors.Join(errs...)
}
