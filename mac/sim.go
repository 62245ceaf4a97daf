package mac

import (
	"errors"
	"sync"

	"github.com/soypat/ethat/pinmux"
)

// Sim is an in-memory MAC with PHYs hanging off pin-routed management buses.
// It implements [Controller], [pinmux.Muxer] and [pinmux.GPIO] so host builds
// and tests can run the whole Ethernet control path without hardware.
//
// A PHY answers MDIO only while its MDC and MDIO pads are the pads most
// recently routed to the MDC and MDIO functions. Unanswered reads return 0xffff
// as a pulled-up bus would.
type Sim struct {
	mu        sync.Mutex
	regs      [NumRegs]uint32
	phys      []simPHY
	fn        map[pinmux.Pin]pinmux.Function
	pull      map[pinmux.Pin]bool
	mdc, mdio pinmux.Pin
	mdcOK     bool
	mdioOK    bool
	fail      map[uint8]bool
	stats     DriverStats
	// Manual MDIO transactions issued while autopolling was enabled.
	racyAccess int
	mdioReads  int

	gpioOut   map[pinmux.Pin]bool
	gpioLevel map[pinmux.Pin]bool
	gpioLog   []GPIOEvent
}

type simPHY struct {
	addr      uint8
	mdc, mdio pinmux.Pin
	regs      [32]uint16
}

// GPIOEvent records a GPIO operation on a [Sim].
type GPIOEvent struct {
	Pin    pinmux.Pin
	Output bool // Pin direction after the event.
	High   bool // Level written, only meaningful for writes.
	Write  bool
}

// Reset values of a simulated link: up, 100M full duplex, autonegotiated, no forcing.
const simMSRReset = 1<<22 | 1<<21 | uint32(SpeedAuto)<<16

var errClause45 = errors.New("mdio: clause 45 access unsupported")

// NewSim returns a simulated MAC with autopolling enabled and the link up.
func NewSim() *Sim {
	s := &Sim{
		fn:        make(map[pinmux.Pin]pinmux.Function),
		pull:      make(map[pinmux.Pin]bool),
		fail:      make(map[uint8]bool),
		gpioOut:   make(map[pinmux.Pin]bool),
		gpioLevel: make(map[pinmux.Pin]bool),
	}
	s.regs[RegMSR] = simMSRReset
	s.regs[RegEtherIOCmd] = 1<<4 | 1<<5
	return s
}

// AttachPHY connects a PHY at MDIO address addr to the given management pads.
func (s *Sim) AttachPHY(addr uint8, mdc, mdio pinmux.Pin, id1, id2 uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := simPHY{addr: addr & 0x1f, mdc: mdc, mdio: mdio}
	p.regs[0] = 0x3100 // Autoneg enabled, 100M full.
	p.regs[1] = 0x786d // Link up, autoneg complete.
	p.regs[2] = id1
	p.regs[3] = id2
	s.phys = append(s.phys, p)
}

// FailMDIO makes every MDIO transaction to addr fail.
func (s *Sim) FailMDIO(addr uint8) {
	s.mu.Lock()
	s.fail[addr] = true
	s.mu.Unlock()
}

// SetDriverStats sets the software counters reported by DriverStats.
func (s *Sim) SetDriverStats(st DriverStats) {
	s.mu.Lock()
	s.stats = st
	s.mu.Unlock()
}

// RacyAccesses returns the amount of manual MDIO transactions issued while autopolling was enabled.
func (s *Sim) RacyAccesses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.racyAccess
}

// MDIOReads returns the amount of MDIO read transactions performed.
func (s *Sim) MDIOReads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mdioReads
}

// AutoPolling reports whether hardware autopolling is enabled.
func (s *Sim) AutoPolling() bool {
	return FieldDisableAutoPoll.Get(s.ReadReg(RegMIIAR)) == 0
}

// Function returns the function currently routed to pad p.
func (s *Sim) Function(p pinmux.Pin) pinmux.Function {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fn[p]
}

// Management returns the pads currently routed to MDC and MDIO.
func (s *Sim) Management() (mdc, mdio pinmux.Pin, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mdc, s.mdio, s.mdcOK && s.mdioOK
}

// GPIOEvents returns the GPIO operations performed so far.
func (s *Sim) GPIOEvents() []GPIOEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]GPIOEvent(nil), s.gpioLog...)
}

func (s *Sim) ReadReg(r Reg) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r >= NumRegs {
		return 0
	}
	return s.regs[r]
}

func (s *Sim) WriteReg(r Reg, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r < NumRegs {
		s.regs[r] = v
	}
}

func (s *Sim) SetAutoPolling(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[RegMIIAR] = FieldDisableAutoPoll.Set(s.regs[RegMIIAR], b2u(!enabled))
}

func (s *Sim) DriverStats() DriverStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.TxDescDW1 = append([]uint32(nil), s.stats.TxDescDW1...)
	return st
}

// Read implements [phy.MDIOBus].
func (s *Sim) Read(phyAddr, devAddr uint8, regAddr uint16) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mdioReads++
	if err := s.mdioCheck(phyAddr, devAddr, regAddr); err != nil {
		return 0, err
	}
	v := uint16(0xffff)
	if p := s.routedPHY(phyAddr); p != nil {
		v = p.regs[regAddr]
	}
	s.latchMIIAR(phyAddr, regAddr, v, true)
	return v, nil
}

// Write implements [phy.MDIOBus].
func (s *Sim) Write(phyAddr, devAddr uint8, regAddr, value uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mdioCheck(phyAddr, devAddr, regAddr); err != nil {
		return err
	}
	if p := s.routedPHY(phyAddr); p != nil {
		if regAddr == 0 {
			value &^= 0x8000 // Reset self-clears.
		}
		p.regs[regAddr] = value
	}
	s.latchMIIAR(phyAddr, regAddr, value, false)
	return nil
}

func (s *Sim) mdioCheck(phyAddr, devAddr uint8, regAddr uint16) error {
	if devAddr != 0 {
		return errClause45
	}
	if phyAddr > 31 || regAddr > 31 {
		return ErrMDIONoDevice
	}
	if FieldDisableAutoPoll.Get(s.regs[RegMIIAR]) == 0 {
		s.racyAccess++
	}
	if s.fail[phyAddr] {
		return ErrMDIOTimeout
	}
	return nil
}

func (s *Sim) routedPHY(addr uint8) *simPHY {
	if !s.mdcOK || !s.mdioOK {
		return nil
	}
	for i := range s.phys {
		p := &s.phys[i]
		if p.addr == addr && p.mdc == s.mdc && p.mdio == s.mdio {
			return p
		}
	}
	return nil
}

func (s *Sim) latchMIIAR(phyAddr uint8, regAddr, data uint16, read bool) {
	w := s.regs[RegMIIAR]
	w = FieldMIIFlag.Set(w, b2u(read)) // Read completes with FLAG set, write with FLAG cleared.
	w = FieldMDIOBusy.Set(w, 0)
	w = FieldMIIPHYAddr.Set(w, uint32(phyAddr))
	w = FieldMIIRegAddr.Set(w, uint32(regAddr))
	w = FieldMIIData.Set(w, uint32(data))
	s.regs[RegMIIAR] = w
}

// Configure implements [pinmux.Muxer].
func (s *Sim) Configure(p pinmux.Pin, fn pinmux.Function) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn[p] = fn
	switch {
	case fn == pinmux.FuncMDC:
		s.mdc, s.mdcOK = p, true
	case fn == pinmux.FuncMDIO:
		s.mdio, s.mdioOK = p, true
	case p == s.mdc:
		s.mdcOK = false
	case p == s.mdio:
		s.mdioOK = false
	}
}

// PullUp implements [pinmux.Muxer].
func (s *Sim) PullUp(p pinmux.Pin) {
	s.mu.Lock()
	s.pull[p] = true
	s.mu.Unlock()
}

func (s *Sim) Output(p pinmux.Pin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gpioOut[p] = true
	s.gpioLog = append(s.gpioLog, GPIOEvent{Pin: p, Output: true})
}

func (s *Sim) Input(p pinmux.Pin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gpioOut[p] = false
	s.gpioLog = append(s.gpioLog, GPIOEvent{Pin: p})
}

func (s *Sim) Set(p pinmux.Pin, high bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gpioLevel[p] = high
	s.gpioLog = append(s.gpioLog, GPIOEvent{Pin: p, Output: s.gpioOut[p], High: high, Write: true})
}

// Get returns the last written level. Pins never written read high (pulled up).
func (s *Sim) Get(p pinmux.Pin) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	level, ok := s.gpioLevel[p]
	return level || !ok
}
