//go:build !tinygo

package board

import (
	"github.com/pkg/errors"
	"github.com/soypat/ethat/pinmux"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPiGPIO drives SoC pads wired to Raspberry Pi header lines. Pins without a
// BCM mapping are ignored and read low.
type RPiGPIO struct {
	// BCM maps pads to BCM line numbers.
	BCM map[pinmux.Pin]uint8
}

// OpenRPi maps the GPIO registers. Call Close when done.
func OpenRPi(bcm map[pinmux.Pin]uint8) (*RPiGPIO, error) {
	err := rpio.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open gpio for pins: %v", bcm)
	}
	return &RPiGPIO{BCM: bcm}, nil
}

func (g *RPiGPIO) Close() error { return rpio.Close() }

func (g *RPiGPIO) line(p pinmux.Pin) (rpio.Pin, bool) {
	n, ok := g.BCM[p]
	return rpio.Pin(n), ok
}

func (g *RPiGPIO) Output(p pinmux.Pin) {
	if pin, ok := g.line(p); ok {
		pin.Output()
	}
}

func (g *RPiGPIO) Input(p pinmux.Pin) {
	if pin, ok := g.line(p); ok {
		pin.Input()
	}
}

func (g *RPiGPIO) Set(p pinmux.Pin, high bool) {
	pin, ok := g.line(p)
	if !ok {
		return
	}
	if high {
		pin.High()
	} else {
		pin.Low()
	}
}

func (g *RPiGPIO) Get(p pinmux.Pin) bool {
	pin, ok := g.line(p)
	return ok && pin.Read() == rpio.High
}

// PullUp enables the line's pull-up resistor.
func (g *RPiGPIO) PullUp(p pinmux.Pin) {
	if pin, ok := g.line(p); ok {
		pin.PullUp()
	}
}
