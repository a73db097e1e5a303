package powermon

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/SunGo/internal/debug"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"
)

// INA3221 register layout: channel n (1-3) has its shunt voltage at
// 0x01+2(n-1) and its bus voltage at 0x02+2(n-1). Both are 13-bit signed
// values left-aligned in 16 bits.
const (
	inaShuntLSB = 40e-6 // V per shunt LSB
	inaBusLSB   = 8e-3  // V per bus LSB
)

// registerReader reads one big-endian 16-bit register.
type registerReader interface {
	readRegister(reg byte) (uint16, error)
}

type i2cRegisters struct {
	dev *i2c.Dev
}

func (r i2cRegisters) readRegister(reg byte) (uint16, error) {
	var buf [2]byte
	if err := r.dev.Tx([]byte{reg}, buf[:]); err != nil {
		return 0, err
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

// INA3221 is a three-channel power monitor on the I²C bus.
type INA3221 struct {
	mu        sync.Mutex
	regs      registerReader
	shuntOhms float64
	closer    func() error
}

// OpenINA3221 initialises periph, opens the bus (empty name = first bus) and binds the chip.
func OpenINA3221(busName string, addr uint16, shuntOhms float64) (*INA3221, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}
	debug.Info("INA3221 on i2c bus %q address 0x%02x", busName, addr)
	m := newINA3221(i2cRegisters{dev: &i2c.Dev{Bus: bus, Addr: addr}}, shuntOhms)
	m.closer = bus.Close
	return m, nil
}

func newINA3221(regs registerReader, shuntOhms float64) *INA3221 {
	if shuntOhms <= 0 {
		shuntOhms = 0.1
	}
	return &INA3221{regs: regs, shuntOhms: shuntOhms}
}

func signed13(raw uint16) float64 {
	return float64(int16(raw) >> 3)
}

// Read returns voltage, current and power of a channel (1-3).
func (m *INA3221) Read(channel int) (Reading, error) {
	if channel < 1 || channel > 3 {
		return Reading{}, fmt.Errorf("ina3221 channel %d out of range: %w", channel, ErrUnavailable)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	base := byte(0x01 + 2*(channel-1))
	shuntRaw, err := m.regs.readRegister(base)
	if err != nil {
		return Reading{}, fmt.Errorf("ina3221 channel %d shunt: %v: %w", channel, err, ErrUnavailable)
	}
	busRaw, err := m.regs.readRegister(base + 1)
	if err != nil {
		return Reading{}, fmt.Errorf("ina3221 channel %d bus: %v: %w", channel, err, ErrUnavailable)
	}

	shuntV := signed13(shuntRaw) * inaShuntLSB
	busV := signed13(busRaw) * inaBusLSB
	current := shuntV / m.shuntOhms
	r := Reading{Voltage: busV, Current: current, Power: busV * current}
	debug.Trace("INA3221 ch%d: %.3fV %.4fA %.3fW", channel, r.Voltage, r.Current, r.Power)
	return r, nil
}

func (m *INA3221) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer()
}
