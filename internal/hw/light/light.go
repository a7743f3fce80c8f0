package light

import (
	"sync"

	"github.com/cjeanneret/ScanGo/internal/debug"
	"github.com/cjeanneret/ScanGo/internal/hw/gpio"
)

// Light is an illumination source switched on while the preview runs.
type Light interface {
	SetEnabled(on bool) error
	Enabled() bool
}

// GPIOLight drives an LED (or a MOSFET switching an LED ring) wired to a
// single GPIO pin. The line is active HIGH.
type GPIOLight struct {
	mu   sync.Mutex
	gpio gpio.Driver
	pin  int
	on   bool
}

// NewGPIOLight configures pin as an output and switches the light off.
func NewGPIOLight(g gpio.Driver, pin int) (*GPIOLight, error) {
	if err := g.SetupPin(pin, gpio.Output); err != nil {
		return nil, err
	}
	if err := g.WritePin(pin, gpio.Low); err != nil {
		return nil, err
	}
	return &GPIOLight{gpio: g, pin: pin}, nil
}

// SetEnabled switches the light. Writing the current state again is a no-op.
func (l *GPIOLight) SetEnabled(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.on == on {
		return nil
	}
	debug.Verbose("Light: pin %d -> %v", l.pin, gpio.Level(on))
	if err := l.gpio.WritePin(l.pin, gpio.Level(on)); err != nil {
		return err
	}
	l.on = on
	return nil
}

// Enabled reports the last state successfully written.
func (l *GPIOLight) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}
