// Package ethat implements the Ethernet control logic behind the +ETH AT
// commands of an RMII MAC: static IPv4 configuration with apply, save and
// erase policies, pin group selection, PHY discovery over MDIO, forced link
// parameters and register level diagnostics.
//
// All operations go through a [Controller], which serialises access to the
// interface, the pin group selector, the MAC registers and the store.
package ethat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/soypat/ethat/kv"
	"github.com/soypat/ethat/mac"
	"github.com/soypat/ethat/netif"
	"github.com/soypat/ethat/pinmux"
)

// Hardware settle delays.
const (
	autoPollSettle  = 2 * time.Millisecond
	pinSettle       = 2 * time.Millisecond
	mgmtSettle      = 1 * time.Millisecond
	forceLinkSettle = 2 * time.Millisecond
	resetAssert     = 50 * time.Millisecond
	resetRecover    = 200 * time.Millisecond
)

// Config configures a [Controller]. MAC, Muxer, Stack and Store are required.
type Config struct {
	MAC   mac.Controller
	Muxer pinmux.Muxer
	// Pins is the pin group table. Defaults to [pinmux.DefaultTable].
	Pins *pinmux.Table
	// Group is the pin group applied by New.
	Group pinmux.Group
	// GPIO drives ResetPin. If nil ResetPHY fails.
	GPIO     pinmux.GPIO
	ResetPin pinmux.Pin
	Stack    netif.Stack
	// Index is the slot of the Ethernet interface in Stack. Nil selects [netif.IndexEthernet].
	Index *netif.Index
	Store kv.Store
	// BuildFlags are printed in status output, e.g. "PHY_INT_XTAL".
	BuildFlags []string
	Logger     *slog.Logger
	// Sleep is used for hardware settle delays. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Controller is the Ethernet control context shared by the AT command
// handlers and the link bring-up supervisor.
type Controller struct {
	mu       sync.Mutex
	mac      mac.Controller
	mux      pinmux.Muxer
	pins     *pinmux.Table
	group    pinmux.Group
	gpio     pinmux.GPIO
	resetPin pinmux.Pin
	stack    netif.Stack
	idx      netif.Index
	store    kv.Store
	build    []string
	sleep    func(time.Duration)
	logger   *slog.Logger

	_traceenabled bool
}

// New returns a Controller and routes the configured pin group.
func New(cfg Config) (*Controller, error) {
	if cfg.MAC == nil || cfg.Muxer == nil || cfg.Stack == nil || cfg.Store == nil {
		return nil, errMissingConfig
	}
	if cfg.Group >= pinmux.NumGroups {
		return nil, ErrInvalidGroup
	}
	if cfg.Pins == nil {
		cfg.Pins = &pinmux.DefaultTable
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	c := &Controller{
		mac:      cfg.MAC,
		mux:      cfg.Muxer,
		pins:     cfg.Pins,
		group:    cfg.Group,
		gpio:     cfg.GPIO,
		resetPin: cfg.ResetPin,
		stack:    cfg.Stack,
		idx:      netif.IndexEthernet,
		store:    cfg.Store,
		build:    append([]string(nil), cfg.BuildFlags...),
		sleep:    cfg.Sleep,
		logger:   cfg.Logger,
	}
	if cfg.Index != nil {
		c.idx = *cfg.Index
	}
	c._traceenabled = c.logger != nil && c.logger.Handler().Enabled(context.Background(), levelTrace)
	err := c.pins.Apply(c.mux, c.group)
	if err != nil {
		return nil, err
	}
	if c.gpio != nil {
		c.gpio.Input(c.resetPin)
	}
	c.info("ethat:init", slog.Int("pin_grp", int(c.group)), slog.String("netif", c.idx.String()))
	return c, nil
}

func (c *Controller) lock()   { c.mu.Lock() }
func (c *Controller) unlock() { c.mu.Unlock() }

func (c *Controller) iface() netif.Interface {
	return c.stack.Interface(c.idx)
}

// PinGroup returns the active pin group.
func (c *Controller) PinGroup() pinmux.Group {
	c.lock()
	defer c.unlock()
	return c.group
}

// PinAssignment is the pad routed to one RMII signal.
type PinAssignment struct {
	Signal string `json:"signal"`
	Pin    string `json:"pin"`
	Raw    uint8  `json:"raw"`
}

func (c *Controller) pinAssignments(g pinmux.Group) []PinAssignment {
	pins := make([]PinAssignment, pinmux.NumSignals)
	for s := pinmux.Signal(0); s < pinmux.NumSignals; s++ {
		p := c.pins.Pin(g, s)
		pins[s] = PinAssignment{Signal: s.String(), Pin: p.String(), Raw: uint8(p)}
	}
	return pins
}
