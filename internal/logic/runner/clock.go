package runner

import (
	"context"
	"sync"
	"time"
)

// Clock provides the cycle time and the wait between cycles.
type Clock interface {
	Now() time.Time
	Wait(ctx context.Context, d time.Duration) error
}

// WallClock is real time.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }

// Wait blocks for d or until ctx is done.
func (WallClock) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// VirtualClock starts at a fixed instant and advances only when waited on.
// Used for simulation and tests: a day of cycles runs in milliseconds.
type VirtualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Wait advances the clock by d without blocking.
func (c *VirtualClock) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

// Advance moves the clock forward.
func (c *VirtualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
