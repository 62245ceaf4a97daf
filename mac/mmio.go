//go:build tinygo

package mac

import (
	"runtime/volatile"
	"time"
	"unsafe"
)

// regBlock is the memory layout of the RMII MAC register block.
type regBlock struct {
	idr        [2]volatile.Register32 // 0x00
	mar        [2]volatile.Register32 // 0x08
	txok       volatile.Register32    // 0x10
	rxok       volatile.Register32    // 0x14
	txerr      volatile.Register32    // 0x18
	rxerr      volatile.Register32    // 0x1c
	misspkt    volatile.Register32    // 0x20
	rxokphy    volatile.Register32    // 0x24
	rxokbrd    volatile.Register32    // 0x28
	rxokmu1    volatile.Register32    // 0x2c
	cr         volatile.Register32    // 0x30
	tcr        volatile.Register32    // 0x34
	rcr        volatile.Register32    // 0x38
	isrimr     volatile.Register32    // 0x3c
	msr        volatile.Register32    // 0x40
	miiar      volatile.Register32    // 0x44
	_          [2]volatile.Register32 // 0x48
	txfdp1     volatile.Register32    // 0x50
	_          [3]volatile.Register32 // 0x54
	rxfdp1     volatile.Register32    // 0x60
	_          [3]volatile.Register32 // 0x64
	ioCmd1     volatile.Register32    // 0x70
	etherIOCmd volatile.Register32    // 0x74
}

// MMIO accesses a memory mapped MAC.
type MMIO struct {
	rb    *regBlock
	regs  [NumRegs]*volatile.Register32
	stats func() DriverStats
}

// MDIO transaction polling.
const (
	mdioPoll    = 2 * time.Microsecond
	mdioRetries = 500
)

// NewMMIO returns a MAC whose register block starts at base. stats may be nil.
func NewMMIO(base uintptr, stats func() DriverStats) *MMIO {
	rb := (*regBlock)(unsafe.Pointer(base))
	m := &MMIO{rb: rb, stats: stats}
	m.regs = [NumRegs]*volatile.Register32{
		RegCR:         &rb.cr,
		RegTCR:        &rb.tcr,
		RegRCR:        &rb.rcr,
		RegMIIAR:      &rb.miiar,
		RegMSR:        &rb.msr,
		RegIOCmd1:     &rb.ioCmd1,
		RegEtherIOCmd: &rb.etherIOCmd,
		RegISRIMR:     &rb.isrimr,
		RegTxFDP1:     &rb.txfdp1,
		RegRxFDP1:     &rb.rxfdp1,
		RegTxOK:       &rb.txok,
		RegRxOK:       &rb.rxok,
		RegTxErr:      &rb.txerr,
		RegRxErr:      &rb.rxerr,
		RegMissPkt:    &rb.misspkt,
		RegRxOKPhy:    &rb.rxokphy,
		RegRxOKBrd:    &rb.rxokbrd,
		RegRxOKMu1:    &rb.rxokmu1,
	}
	return m
}

func (m *MMIO) ReadReg(r Reg) uint32 {
	if r >= NumRegs {
		return 0
	}
	return m.regs[r].Get()
}

func (m *MMIO) WriteReg(r Reg, v uint32) {
	if r < NumRegs {
		m.regs[r].Set(v)
	}
}

func (m *MMIO) SetAutoPolling(enabled bool) {
	FieldDisableAutoPoll.Update(m, b2u(!enabled))
}

func (m *MMIO) DriverStats() DriverStats {
	if m.stats == nil {
		return DriverStats{}
	}
	return m.stats()
}

// Read issues a Clause 22 read. FLAG is written cleared and set by hardware on completion.
func (m *MMIO) Read(phyAddr, devAddr uint8, regAddr uint16) (uint16, error) {
	if devAddr != 0 {
		return 0, errClause45
	}
	w := m.mdioWord(phyAddr, regAddr, 0)
	w = FieldMIIFlag.Set(w, 0)
	m.rb.miiar.Set(w)
	for i := 0; i < mdioRetries; i++ {
		w = m.rb.miiar.Get()
		if FieldMIIFlag.Get(w) == 1 {
			return uint16(FieldMIIData.Get(w)), nil
		}
		time.Sleep(mdioPoll)
	}
	return 0, ErrMDIOTimeout
}

// Write issues a Clause 22 write. FLAG is written set and cleared by hardware on completion.
func (m *MMIO) Write(phyAddr, devAddr uint8, regAddr, value uint16) error {
	if devAddr != 0 {
		return errClause45
	}
	w := m.mdioWord(phyAddr, regAddr, value)
	w = FieldMIIFlag.Set(w, 1)
	m.rb.miiar.Set(w)
	for i := 0; i < mdioRetries; i++ {
		if FieldMIIFlag.Get(m.rb.miiar.Get()) == 0 {
			return nil
		}
		time.Sleep(mdioPoll)
	}
	return ErrMDIOTimeout
}

func (m *MMIO) mdioWord(phyAddr uint8, regAddr, data uint16) uint32 {
	// Keep the autopolling selection.
	w := m.rb.miiar.Get() & FieldDisableAutoPoll.Mask()
	w = FieldMIIPHYAddr.Set(w, uint32(phyAddr))
	w = FieldMIIRegAddr.Set(w, uint32(regAddr))
	return FieldMIIData.Set(w, uint32(data))
}
