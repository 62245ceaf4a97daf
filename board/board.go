// Package board binds the pin and indicator interfaces to concrete boards.
package board

import "github.com/soypat/ethat/pinmux"

// GPIOIndicator shows the LAN link state on an LED wired to a GPIO pin.
type GPIOIndicator struct {
	GPIO pinmux.GPIO
	Pin  pinmux.Pin
	// ActiveLow inverts the output level.
	ActiveLow bool
}

// SetLink lights the LED when up is true.
func (g *GPIOIndicator) SetLink(up bool) error {
	g.GPIO.Output(g.Pin)
	g.GPIO.Set(g.Pin, up != g.ActiveLow)
	return nil
}
