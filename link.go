package ethat

import (
	"log/slog"

	"github.com/soypat/ethat/mac"
	"github.com/soypat/ethat/netif"
	"github.com/soypat/ethat/pinmux"
)

// uartGroup routes MDC/MDIO to PA25/PA26, the console UART pads.
const uartGroup pinmux.Group = 3

// SetPinGroup switches the RMII pins to group g and reapplies all pin
// functions. It returns the pads of the applied group. The MAC, network
// interface and store are left untouched.
func (c *Controller) SetPinGroup(g pinmux.Group) ([]PinAssignment, error) {
	if g == uartGroup {
		return nil, ErrPinConflict
	} else if g >= pinmux.NumGroups {
		return nil, ErrInvalidGroup
	}
	c.lock()
	defer c.unlock()
	err := c.pins.Apply(c.mux, g)
	if err != nil {
		return nil, err
	}
	prev := c.group
	c.group = g
	c.sleep(pinSettle)
	c.info("ethgrp:switched", slog.Int("from", int(prev)), slog.Int("to", int(g)))
	return c.pinAssignments(g), nil
}

// GroupScan is the PHY scan result with one pin group's management pins routed.
type GroupScan struct {
	Group pinmux.Group `json:"group"`
	MIIAR uint32       `json:"miiar"`
	Scan  PHYScan      `json:"scan"`
}

// ScanAllGroups routes MDC/MDIO of every pin group in turn and scans for
// PHYs. The active group's management pins are restored afterwards.
func (c *Controller) ScanAllGroups() ([]GroupScan, error) {
	c.lock()
	defer c.unlock()
	c.mac.SetAutoPolling(false)
	defer c.mac.SetAutoPolling(true)
	c.sleep(autoPollSettle)
	defer func() {
		err := c.pins.ApplyManagement(c.mux, c.group)
		if err != nil {
			c.logerr("ethscan:restore", slog.String("err", err.Error()))
		}
	}()
	scans := make([]GroupScan, 0, pinmux.NumGroups)
	for g := pinmux.Group(0); g < pinmux.NumGroups; g++ {
		err := c.pins.ApplyManagement(c.mux, g)
		if err != nil {
			return scans, err
		}
		c.sleep(mgmtSettle)
		gs := GroupScan{
			Group: g,
			MIIAR: c.mac.ReadReg(mac.RegMIIAR),
			Scan:  c.scanPHYs(),
		}
		c.debug("ethscan:group", slog.Int("grp", int(g)), slog.Int("found", gs.Scan.Found))
		scans = append(scans, gs)
	}
	return scans, nil
}

// ForceLinkConfig selects forced link parameters. Speed is in Mbps.
type ForceLinkConfig struct {
	Enabled    bool
	Speed      int
	FullDuplex bool
}

// ForceLink writes the MSR force bits and returns the register after a
// settle delay. Speed is validated even when forcing is disabled.
func (c *Controller) ForceLink(cfg ForceLinkConfig) (mac.MSR, error) {
	code, ok := mac.SpeedCodeFromMbps(cfg.Speed)
	if !ok {
		return mac.MSR{}, ErrInvalidSpeed
	}
	c.lock()
	defer c.unlock()
	msr := c.mac.ReadReg(mac.RegMSR)
	msr = mac.ForceLink(msr, cfg.Enabled, code, cfg.FullDuplex)
	c.mac.WriteReg(mac.RegMSR, msr)
	c.sleep(forceLinkSettle)
	got := mac.DecodeMSR(c.mac.ReadReg(mac.RegMSR))
	c.info("ethforce", slog.Bool("enabled", cfg.Enabled), slog.Int("speed", cfg.Speed), slog.Bool("fulldup", cfg.FullDuplex))
	return got, nil
}

// LinkTransition is the interface state around an administrative up or down.
// Present is false when the interface does not exist.
type LinkTransition struct {
	Present bool
	Before  netif.Flags
	After   netif.Flags
}

// Up brings the Ethernet interface administratively up.
func (c *Controller) Up() LinkTransition {
	return c.transition(netif.Interface.SetUp)
}

// Down brings the Ethernet interface administratively down.
func (c *Controller) Down() LinkTransition {
	return c.transition(netif.Interface.SetDown)
}

func (c *Controller) transition(fn func(netif.Interface)) LinkTransition {
	c.lock()
	defer c.unlock()
	iface := c.iface()
	if iface == nil {
		return LinkTransition{}
	}
	t := LinkTransition{Present: true, Before: iface.Flags()}
	fn(iface)
	t.After = iface.Flags()
	c.debug("eth:transition", slog.String("before", t.Before.String()), slog.String("after", t.After.String()))
	return t
}

// ResetPHY pulses the PHY reset line low, waits for the PHY to recover and
// returns the pad to input. It reports the level read back from the pad.
func (c *Controller) ResetPHY() (high bool, err error) {
	if c.gpio == nil {
		return false, ErrNoGPIO
	}
	c.lock()
	defer c.unlock()
	c.mux.PullUp(c.resetPin)
	c.gpio.Output(c.resetPin)
	c.gpio.Set(c.resetPin, false)
	c.sleep(resetAssert)
	c.gpio.Set(c.resetPin, true)
	c.sleep(resetRecover)
	c.gpio.Input(c.resetPin)
	high = c.gpio.Get(c.resetPin)
	c.info("ethrst", slog.String("pin", c.resetPin.String()), slog.Bool("high", high))
	return high, nil
}

// ResetPin returns the pad driving the PHY reset line.
func (c *Controller) ResetPin() pinmux.Pin { return c.resetPin }
