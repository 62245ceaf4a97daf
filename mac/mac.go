// Package mac describes the register interface of the RMII Ethernet MAC:
// register identifiers, typed bit-field descriptors shared by status decoding
// and link forcing, and the management (MDIO) bus used to reach the PHY.
package mac

import (
	"errors"
	"strconv"

	"github.com/soypat/lneto/phy"
	"golang.org/x/exp/constraints"
)

// Reg identifies a 32-bit MAC register.
type Reg uint8

const (
	RegCR Reg = iota
	RegTCR
	RegRCR
	RegMIIAR
	RegMSR
	RegIOCmd1
	RegEtherIOCmd
	RegISRIMR
	RegTxFDP1
	RegRxFDP1
	RegTxOK
	RegRxOK
	RegTxErr
	RegRxErr
	RegMissPkt
	RegRxOKPhy
	RegRxOKBrd
	RegRxOKMu1
	// NumRegs is the amount of registers exposed by a [Registers] implementation.
	NumRegs
)

var regNames = [NumRegs]string{
	RegCR:         "ETH_CR",
	RegTCR:        "ETH_TCR",
	RegRCR:        "ETH_RCR",
	RegMIIAR:      "ETH_MIIAR",
	RegMSR:        "ETH_MSR",
	RegIOCmd1:     "ETH_IO_CMD1",
	RegEtherIOCmd: "ETH_ETHER_IO_CMD",
	RegISRIMR:     "ETH_ISR_AND_IMR",
	RegTxFDP1:     "ETH_TXFDP1",
	RegRxFDP1:     "ETH_RXFDP1",
	RegTxOK:       "ETH_TXOKCNT",
	RegRxOK:       "ETH_RXOKCNT",
	RegTxErr:      "ETH_TXERR",
	RegRxErr:      "ETH_RXERR",
	RegMissPkt:    "ETH_MISSPKT",
	RegRxOKPhy:    "ETH_RXOKPHY",
	RegRxOKBrd:    "ETH_RXOKBRD",
	RegRxOKMu1:    "ETH_RXOKMU1",
}

func (r Reg) String() string {
	if r >= NumRegs {
		return "Reg(" + strconv.Itoa(int(r)) + ")"
	}
	return regNames[r]
}

// Registers gives word access to the MAC register block.
type Registers interface {
	ReadReg(r Reg) uint32
	WriteReg(r Reg, v uint32)
}

// Controller is the MAC as seen by the Ethernet control logic.
// MDIO transactions go through the embedded [phy.MDIOBus] using Clause 22 framing.
type Controller interface {
	Registers
	phy.MDIOBus
	// SetAutoPolling enables or disables the hardware periodic PHY status polling.
	// Manual MDIO transactions should only be issued with autopolling disabled.
	SetAutoPolling(enabled bool)
	// DriverStats returns the software counters kept by the RMII driver.
	DriverStats() DriverStats
}

// DriverStats are software counters of the transmit path.
type DriverStats struct {
	TxCall       uint32
	TxSubmit     uint32
	TxGetBufNull uint32
	TxDescCur    uint32
	TxDescNum    uint32
	// TxDescDW1 holds the second descriptor word of each TX descriptor.
	TxDescDW1 []uint32
}

var (
	ErrMDIOTimeout  = errors.New("mdio: transaction timeout")
	ErrMDIONoDevice = errors.New("mdio: no device responded")
)

// Field describes a bit-field within a MAC register.
type Field struct {
	Name   string
	Reg    Reg
	Offset uint8
	Width  uint8
}

// ETH_MIIAR fields.
var (
	FieldMIIFlag         = Field{Name: "FLAG", Reg: RegMIIAR, Offset: 31, Width: 1}
	FieldMDIOBusy        = Field{Name: "MDIO_BUSY", Reg: RegMIIAR, Offset: 25, Width: 1}
	FieldDisableAutoPoll = Field{Name: "DISABLE_AUTO_POLLING", Reg: RegMIIAR, Offset: 22, Width: 1}
	FieldMIIPHYAddr      = Field{Name: "PHYADDR", Reg: RegMIIAR, Offset: 26, Width: 5}
	FieldMIIRegAddr      = Field{Name: "REG", Reg: RegMIIAR, Offset: 16, Width: 5}
	FieldMIIData         = Field{Name: "DATA", Reg: RegMIIAR, Offset: 0, Width: 16}
)

// ETH_MSR fields.
var (
	// FieldLinkFail is set when the link is down.
	FieldLinkFail      = Field{Name: "LINKB", Reg: RegMSR, Offset: 26, Width: 1}
	FieldSpeed         = Field{Name: "SPEED", Reg: RegMSR, Offset: 27, Width: 2}
	FieldFullDuplex    = Field{Name: "FULLDUP", Reg: RegMSR, Offset: 22, Width: 1}
	FieldNwayDone      = Field{Name: "NWAY_DONE", Reg: RegMSR, Offset: 21, Width: 1}
	FieldSelRGMII      = Field{Name: "msr_sel_rgmii", Reg: RegMSR, Offset: 23, Width: 1}
	FieldSelMII        = Field{Name: "msr_sel_mii", Reg: RegMSR, Offset: 20, Width: 1}
	FieldGMACPHYMode   = Field{Name: "gmac_phy_mode", Reg: RegMSR, Offset: 13, Width: 1}
	FieldForceLink     = Field{Name: "forcelink", Reg: RegMSR, Offset: 18, Width: 1}
	FieldForcedFullDup = Field{Name: "forcedfull", Reg: RegMSR, Offset: 19, Width: 1}
	FieldForceSpeed    = Field{Name: "force_spd", Reg: RegMSR, Offset: 16, Width: 2}
)

// ETH_ETHER_IO_CMD fields.
var (
	FieldTxEnable = Field{Name: "TE", Reg: RegEtherIOCmd, Offset: 4, Width: 1}
	FieldRxEnable = Field{Name: "RE", Reg: RegEtherIOCmd, Offset: 5, Width: 1}
	FieldTxFN1st  = Field{Name: "TXFN1ST", Reg: RegEtherIOCmd, Offset: 0, Width: 1}
)

// Mask returns the in-register mask of the field.
func (f Field) Mask() uint32 {
	return mask[uint32](f.Width) << f.Offset
}

// Get extracts the field value from a register word.
func (f Field) Get(word uint32) uint32 {
	return (word >> f.Offset) & mask[uint32](f.Width)
}

// Set returns word with the field replaced by v. Bits of v beyond the field width are discarded.
func (f Field) Set(word, v uint32) uint32 {
	return (word &^ f.Mask()) | (v&mask[uint32](f.Width))<<f.Offset
}

// Read reads the field's register and extracts the field.
func (f Field) Read(r Registers) uint32 {
	return f.Get(r.ReadReg(f.Reg))
}

// Update performs a read-modify-write of the field's register.
func (f Field) Update(r Registers, v uint32) {
	r.WriteReg(f.Reg, f.Set(r.ReadReg(f.Reg), v))
}

// mask returns width ones. Shifting by the full type width yields zero so
// the subtraction wraps to all ones.
func mask[T constraints.Unsigned](width uint8) T {
	return T(1)<<width - 1
}

// SpeedCode is the 2-bit hardware link speed encoding used by both the
// SPEED status field and the force_spd control field.
type SpeedCode uint8

const (
	Speed100  SpeedCode = 0
	Speed10   SpeedCode = 1
	Speed1000 SpeedCode = 2
	// SpeedAuto is the force_spd sentinel meaning "do not force". In the SPEED status field it is invalid.
	SpeedAuto SpeedCode = 3
)

// SpeedCodeFromMbps maps 10, 100 and 1000 to their hardware codes.
func SpeedCodeFromMbps(mbps int) (SpeedCode, bool) {
	switch mbps {
	case 10:
		return Speed10, true
	case 100:
		return Speed100, true
	case 1000:
		return Speed1000, true
	}
	return SpeedAuto, false
}

func (s SpeedCode) String() string {
	switch s {
	case Speed100:
		return "100M"
	case Speed10:
		return "10M"
	case Speed1000:
		return "1000M"
	}
	return "invalid"
}

// MSR is a decoded ETH_MSR word.
type MSR struct {
	Raw           uint32    `json:"raw"`
	LinkOK        bool      `json:"link_ok"`
	Speed         SpeedCode `json:"speed"`
	FullDuplex    bool      `json:"full_duplex"`
	NwayDone      bool      `json:"nway_done"`
	SelRGMII      bool      `json:"sel_rgmii"`
	SelMII        bool      `json:"sel_mii"`
	GMACPHYMode   bool      `json:"gmac_phy_mode"`
	ForceLink     bool      `json:"force_link"`
	ForcedFullDup bool      `json:"forced_full_duplex"`
	ForceSpeed    SpeedCode `json:"force_speed"`
}

// DecodeMSR splits an ETH_MSR word into its fields.
func DecodeMSR(w uint32) MSR {
	return MSR{
		Raw:           w,
		LinkOK:        FieldLinkFail.Get(w) == 0,
		Speed:         SpeedCode(FieldSpeed.Get(w)),
		FullDuplex:    FieldFullDuplex.Get(w) != 0,
		NwayDone:      FieldNwayDone.Get(w) != 0,
		SelRGMII:      FieldSelRGMII.Get(w) != 0,
		SelMII:        FieldSelMII.Get(w) != 0,
		GMACPHYMode:   FieldGMACPHYMode.Get(w) != 0,
		ForceLink:     FieldForceLink.Get(w) != 0,
		ForcedFullDup: FieldForcedFullDup.Get(w) != 0,
		ForceSpeed:    SpeedCode(FieldForceSpeed.Get(w)),
	}
}

// MIIAR is a decoded ETH_MIIAR word.
type MIIAR struct {
	Raw            uint32 `json:"raw"`
	Flag           bool   `json:"flag"`
	MDIOBusy       bool   `json:"mdio_busy"`
	AutoPollingOff bool   `json:"disable_auto_polling"`
	PHYAddr        uint8  `json:"phy_addr"`
	RegAddr        uint8  `json:"reg"`
	Data           uint16 `json:"data"`
}

func DecodeMIIAR(w uint32) MIIAR {
	return MIIAR{
		Raw:            w,
		Flag:           FieldMIIFlag.Get(w) != 0,
		MDIOBusy:       FieldMDIOBusy.Get(w) != 0,
		AutoPollingOff: FieldDisableAutoPoll.Get(w) != 0,
		PHYAddr:        uint8(FieldMIIPHYAddr.Get(w)),
		RegAddr:        uint8(FieldMIIRegAddr.Get(w)),
		Data:           uint16(FieldMIIData.Get(w)),
	}
}

// ForceLink mutates an ETH_MSR word to force link parameters. When enabled is
// false forcing is cleared and force_spd returns to [SpeedAuto] regardless of
// the other arguments.
func ForceLink(msr uint32, enabled bool, speed SpeedCode, fullDuplex bool) uint32 {
	if !enabled {
		msr = FieldForceLink.Set(msr, 0)
		msr = FieldForcedFullDup.Set(msr, 0)
		return FieldForceSpeed.Set(msr, uint32(SpeedAuto))
	}
	msr = FieldForceLink.Set(msr, 1)
	msr = FieldForcedFullDup.Set(msr, b2u(fullDuplex))
	return FieldForceSpeed.Set(msr, uint32(speed))
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
