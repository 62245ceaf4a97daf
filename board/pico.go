//go:build tinygo && rp2040

package board

import (
	"machine"

	"github.com/soypat/ethat/pinmux"
	pio "github.com/tinygo-org/pio/rp2-pio"
	"github.com/tinygo-org/pio/rp2-pio/piolib"
)

// PicoGPIO drives pads wired to RP2040 GPIOs.
type PicoGPIO struct {
	Pins map[pinmux.Pin]machine.Pin
}

func (g *PicoGPIO) Output(p pinmux.Pin) {
	if pin, ok := g.Pins[p]; ok {
		pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	}
}

func (g *PicoGPIO) Input(p pinmux.Pin) {
	if pin, ok := g.Pins[p]; ok {
		pin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	}
}

func (g *PicoGPIO) Set(p pinmux.Pin, high bool) {
	if pin, ok := g.Pins[p]; ok {
		pin.Set(high)
	}
}

func (g *PicoGPIO) Get(p pinmux.Pin) bool {
	pin, ok := g.Pins[p]
	return ok && pin.Get()
}

// PicoLED is a WS2812B link indicator driven by a PIO state machine.
type PicoLED struct {
	ws *piolib.WS2812B
}

func NewPicoLED(pin machine.Pin) (*PicoLED, error) {
	sm, err := pio.PIO0.ClaimStateMachine()
	if err != nil {
		return nil, err
	}
	ws, err := piolib.NewWS2812B(sm, pin)
	if err != nil {
		return nil, err
	}
	return &PicoLED{ws: ws}, nil
}

// SetLink shows green when the link is up and red otherwise.
func (l *PicoLED) SetLink(up bool) error {
	if up {
		l.ws.PutRGB(0, 32, 0)
	} else {
		l.ws.PutRGB(32, 0, 0)
	}
	return nil
}
