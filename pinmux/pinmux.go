// Package pinmux holds the RMII pin group table and the pin multiplexing and
// GPIO interfaces used to route MAC signals to SoC pads.
package pinmux

import (
	"errors"
	"strconv"
)

// Pin is a SoC pad. Bits 5..7 hold the port (A=0, B=1...) and bits 0..4 the pin number.
type Pin uint8

// PA returns pin n of port A.
func PA(n uint8) Pin { return Pin(n & 0x1f) }

// PB returns pin n of port B.
func PB(n uint8) Pin { return Pin(1<<5 | n&0x1f) }

// Port returns the port letter of the pin.
func (p Pin) Port() byte { return 'A' + byte(p>>5) }

// Num returns the pin number within its port.
func (p Pin) Num() uint8 { return uint8(p & 0x1f) }

// String formats the pin as in "PA3".
func (p Pin) String() string {
	var buf [5]byte
	b := append(buf[:0], 'P', p.Port())
	b = strconv.AppendUint(b, uint64(p.Num()), 10)
	return string(b)
}

var ErrInvalidPin = errors.New("pinmux: invalid pin name")

// ParsePin parses a pin name as formatted by [Pin.String], e.g. "PB3".
func ParsePin(s string) (Pin, error) {
	if len(s) < 3 || s[0] != 'P' || s[1] < 'A' || s[1] > 'H' {
		return 0, ErrInvalidPin
	}
	n, err := strconv.ParseUint(s[2:], 10, 8)
	if err != nil || n > 0x1f {
		return 0, ErrInvalidPin
	}
	return Pin((s[1]-'A')<<5 | uint8(n)), nil
}

// Signal is an RMII signal of the MAC.
type Signal uint8

const (
	SigRXERR Signal = iota
	SigCRSDV
	SigTXEN
	SigTXD1
	SigTXD0
	SigREFCLK
	SigRXD1
	SigRXD0
	SigMDC
	SigMDIO
	SigEXTCLK
	NumSignals
)

var signalNames = [NumSignals]string{
	"RXERR", "CRS_DV", "TXEN", "TXD1", "TXD0", "REF_CLK", "RXD1", "RXD0", "MDC", "MDIO", "EXTCLK",
}

func (s Signal) String() string {
	if s >= NumSignals {
		return "Signal(" + strconv.Itoa(int(s)) + ")"
	}
	return signalNames[s]
}

// Function is a pad multiplexer function.
type Function uint8

const (
	FuncGPIO Function = iota
	FuncRMII
	FuncMDC
	FuncMDIO
)

// FunctionOf returns the multiplexer function a signal needs.
func FunctionOf(s Signal) Function {
	switch s {
	case SigMDC:
		return FuncMDC
	case SigMDIO:
		return FuncMDIO
	}
	return FuncRMII
}

// Group selects one row of a [Table].
type Group uint8

// NumGroups is the amount of pin groups in a [Table].
const NumGroups = 4

var ErrInvalidGroup = errors.New("pinmux: invalid pin group")

// Table maps group and signal to a pad.
type Table [NumGroups][NumSignals]Pin

// DefaultTable is the pad assignment of the reference board. Group 3 routes
// MDC/MDIO through PA25/PA26.
var DefaultTable = Table{
	{PA(4), PA(5), PA(6), PA(7), PA(8), PA(9), PA(10), PA(11), PA(12), PA(13), PA(14)},
	{PB(0), PB(1), PB(2), PB(3), PB(4), PB(5), PB(6), PB(7), PB(8), PB(9), PB(10)},
	{PB(11), PB(12), PB(13), PB(14), PB(15), PB(16), PB(17), PB(18), PB(19), PB(20), PB(21)},
	{PA(15), PA(16), PA(17), PA(18), PA(19), PA(20), PA(21), PA(22), PA(25), PA(26), PA(27)},
}

// Pin returns the pad of signal s in group g.
func (t *Table) Pin(g Group, s Signal) Pin { return t[g][s] }

// Muxer configures pad functions.
type Muxer interface {
	Configure(p Pin, fn Function)
	PullUp(p Pin)
}

// Apply routes every signal of group g to its pad.
func (t *Table) Apply(m Muxer, g Group) error {
	if g >= NumGroups {
		return ErrInvalidGroup
	}
	for s := Signal(0); s < NumSignals; s++ {
		m.Configure(t[g][s], FunctionOf(s))
	}
	m.PullUp(t[g][SigMDIO])
	return nil
}

// ApplyManagement routes only MDC and MDIO of group g, with the MDIO pad pulled up.
func (t *Table) ApplyManagement(m Muxer, g Group) error {
	if g >= NumGroups {
		return ErrInvalidGroup
	}
	m.Configure(t[g][SigMDC], FuncMDC)
	m.Configure(t[g][SigMDIO], FuncMDIO)
	m.PullUp(t[g][SigMDIO])
	return nil
}

// GPIO drives general purpose pins such as a PHY reset line.
type GPIO interface {
	Output(p Pin)
	Input(p Pin)
	Set(p Pin, high bool)
	Get(p Pin) bool
}
