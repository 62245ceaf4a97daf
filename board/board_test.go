package board

import (
	"testing"

	"github.com/soypat/ethat/mac"
	"github.com/soypat/ethat/pinmux"
)

func TestGPIOIndicator(t *testing.T) {
	sim := mac.NewSim()
	led := &GPIOIndicator{GPIO: sim, Pin: pinmux.PB(5)}
	led.SetLink(true)
	if !sim.Get(pinmux.PB(5)) {
		t.Error("LED off with link up")
	}
	led.SetLink(false)
	if sim.Get(pinmux.PB(5)) {
		t.Error("LED on with link down")
	}
	led.ActiveLow = true
	led.SetLink(true)
	if sim.Get(pinmux.PB(5)) {
		t.Error("active low LED driven high")
	}
}

func TestRPiUnmapped(t *testing.T) {
	g := &RPiGPIO{BCM: map[pinmux.Pin]uint8{pinmux.PB(3): 17}}
	if _, ok := g.line(pinmux.PA(1)); ok {
		t.Error("unmapped pin resolved")
	}
	if pin, ok := g.line(pinmux.PB(3)); !ok || pin != 17 {
		t.Errorf("PB3 -> %v %v", pin, ok)
	}
	// Unmapped pins never touch the GPIO registers.
	g.Output(pinmux.PA(1))
	g.Set(pinmux.PA(1), true)
	if g.Get(pinmux.PA(1)) {
		t.Error("unmapped pin reads high")
	}
}
