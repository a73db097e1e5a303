package sensors

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/SunGo/internal/hw/powermon"
	"github.com/cjeanneret/SunGo/internal/logic/tracking"
)

// Board provides the latest light board reading.
type Board interface {
	Latest() (BoardReading, error)
}

// Hardware combines the light board, the panel channel of the power
// monitor and the encoder-derived mount orientation.
type Hardware struct {
	board   Board
	monitor powermon.Monitor
	channel int
	mount   Orienter
}

func NewHardware(board Board, monitor powermon.Monitor, panelChannel int, mount Orienter) *Hardware {
	return &Hardware{board: board, monitor: monitor, channel: panelChannel, mount: mount}
}

func (h *Hardware) Read(ctx context.Context, now time.Time) (tracking.SensorSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return tracking.SensorSnapshot{}, err
	}
	r, err := h.board.Latest()
	if err != nil {
		return tracking.SensorSnapshot{}, fmt.Errorf("light board: %w", err)
	}
	p, err := h.monitor.Read(h.channel)
	if err != nil {
		return tracking.SensorSnapshot{}, fmt.Errorf("panel power: %w", err)
	}
	return tracking.SensorSnapshot{
		Time:          now,
		Light:         r.Light,
		LightSum:      r.Light.Sum(),
		MeasuredPower: p.Power,
		Orientation:   h.mount.Orientation(),
		Env:           r.Env,
	}, nil
}
