package ethat

import (
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"strings"

	"github.com/soypat/ethat/mac"
	"github.com/soypat/ethat/netif"
	"github.com/soypat/ethat/pinmux"
	"github.com/soypat/lneto/phy"
)

const maxPHYAddr = 31

// PHYScanResult holds the registers read from one MDIO address.
type PHYScanResult struct {
	Addr uint8  `json:"addr"`
	ID1  uint16 `json:"id1"`
	ID2  uint16 `json:"id2"`
	// BMCR and BMSR read 0xffff when their transaction failed.
	BMCR uint16 `json:"bmcr"`
	BMSR uint16 `json:"bmsr"`
	// ErrID1 and ErrID2 are the failures reading the identifier registers.
	ErrID1 error  `json:"-"`
	ErrID2 error  `json:"-"`
	Error  string `json:"error,omitempty"`
}

// Failed reports whether the identifier registers could not be read.
func (r *PHYScanResult) Failed() bool { return r.ErrID1 != nil || r.ErrID2 != nil }

// Present reports whether a PHY answered at the address. A bus with nothing
// attached reads both identifiers as all zeros or all ones.
func (r *PHYScanResult) Present() bool {
	if r.Failed() {
		return false
	}
	return !(r.ID1 == 0 && r.ID2 == 0) && !(r.ID1 == 0xffff && r.ID2 == 0xffff)
}

// PHYScan is the outcome of probing MDIO addresses 0..31. Results only
// contains addresses where a PHY was found or the read failed.
type PHYScan struct {
	Results []PHYScanResult `json:"results"`
	Found   int             `json:"found"`
}

// scanPHYs reads the ID registers at every MDIO address. Autopolling must be off.
func (c *Controller) scanPHYs() PHYScan {
	var scan PHYScan
	var dev phy.Device
	for addr := uint8(0); addr <= maxPHYAddr; addr++ {
		err := dev.ConfigureAs22(c.mac, addr)
		if err != nil {
			c.logerr("physcan:configure", slog.Int("addr", int(addr)), slog.String("err", err.Error()))
			continue
		}
		r := PHYScanResult{Addr: addr}
		r.ID1, r.ErrID1 = dev.ID1()
		r.ID2, r.ErrID2 = dev.ID2()
		bmcr, err := dev.BasicControl()
		if err != nil {
			bmcr = 0xffff
		}
		bmsr, err := dev.BasicStatus()
		if err != nil {
			bmsr = 0xffff
		}
		r.BMCR, r.BMSR = uint16(bmcr), uint16(bmsr)
		switch {
		case r.Failed():
			r.Error = errjoin(r.ErrID1, r.ErrID2).Error()
			c.debug("physcan:read-failed", slog.Int("addr", int(addr)), slog.String("err", r.Error))
		case r.Present():
			scan.Found++
			c.trace("physcan:found", slog.Int("addr", int(addr)), slog.Uint64("id1", uint64(r.ID1)), slog.Uint64("id2", uint64(r.ID2)))
		default:
			continue
		}
		scan.Results = append(scan.Results, r)
	}
	return scan
}

// InterfaceStatus is the observed state of the Ethernet network interface.
type InterfaceStatus struct {
	Name    string      `json:"name"`
	Num     uint8       `json:"num"`
	Up      bool        `json:"up"`
	LinkUp  bool        `json:"link_up"`
	Flags   netif.Flags `json:"flags"`
	Addr    netip.Addr  `json:"addr"`
	Netmask netip.Addr  `json:"netmask"`
	Gateway netip.Addr  `json:"gateway"`
}

func interfaceStatus(iface netif.Interface) *InterfaceStatus {
	f := iface.Flags()
	a := iface.Addresses()
	return &InterfaceStatus{
		Name:    iface.Name(),
		Num:     iface.Num(),
		Up:      f.IsUp(),
		LinkUp:  f.IsLinkUp(),
		Flags:   f,
		Addr:    a.Addr,
		Netmask: a.Netmask,
		Gateway: a.Gateway,
	}
}

// Counters are the MAC hardware frame counters.
type Counters struct {
	TxOK    uint32 `json:"tx_ok"`
	RxOK    uint32 `json:"rx_ok"`
	TxErr   uint32 `json:"tx_err"`
	RxErr   uint32 `json:"rx_err"`
	MissPkt uint32 `json:"miss_pkt"`
	RxOKPhy uint32 `json:"rx_ok_phy"`
	RxOKBrd uint32 `json:"rx_ok_brd"`
	RxOKMu1 uint32 `json:"rx_ok_mu1"`
}

// RegisterDump holds raw MAC control registers.
type RegisterDump struct {
	CR         uint32 `json:"cr"`
	TCR        uint32 `json:"tcr"`
	RCR        uint32 `json:"rcr"`
	IOCmd1     uint32 `json:"io_cmd1"`
	EtherIOCmd uint32 `json:"ether_io_cmd"`
	ISRIMR     uint32 `json:"isr_imr"`
	TxFDP1     uint32 `json:"txfdp1"`
	RxFDP1     uint32 `json:"rxfdp1"`
}

// Status is a read-only snapshot of the Ethernet subsystem. When Interface
// is nil the interface does not exist and no other field is populated.
type Status struct {
	Interface *InterfaceStatus `json:"netif"`
	// ResetLevel is nil when no GPIO drives the reset pin.
	ResetPin   string          `json:"reset_pin,omitempty"`
	ResetLevel *uint8          `json:"reset_level,omitempty"`
	MIIAR      mac.MIIAR       `json:"miiar"`
	MSR        mac.MSR         `json:"msr"`
	Counters   Counters        `json:"counters"`
	Driver     mac.DriverStats `json:"driver"`
	Registers  RegisterDump    `json:"registers"`
	BuildFlags []string        `json:"build_flags"`
	PinGroup   pinmux.Group    `json:"pin_group"`
	Pins       []PinAssignment `json:"pins"`
	Stored     *IPConfig       `json:"stored,omitempty"`
	PHYScan    PHYScan         `json:"phy_scan"`
}

// Status collects interface, register and pin diagnostics and runs a PHY
// scan with autopolling disabled. Autopolling is re-enabled before returning.
func (c *Controller) Status() (Status, error) {
	return c.status(true)
}

// LinkStatus is [Controller.Status] without the PHY scan. It issues no MDIO
// transactions and leaves autopolling alone, so it suits periodic polling.
func (c *Controller) LinkStatus() (Status, error) {
	return c.status(false)
}

func (c *Controller) status(scan bool) (Status, error) {
	c.lock()
	defer c.unlock()
	iface := c.iface()
	if iface == nil {
		return Status{}, nil
	}
	st := Status{
		Interface:  interfaceStatus(iface),
		BuildFlags: append([]string(nil), c.build...),
		PinGroup:   c.group,
		Pins:       c.pinAssignments(c.group),
	}
	if c.gpio != nil {
		level := uint8(b2u(c.gpio.Get(c.resetPin)))
		st.ResetPin, st.ResetLevel = c.resetPin.String(), &level
	}
	r := c.mac
	st.MIIAR = mac.DecodeMIIAR(r.ReadReg(mac.RegMIIAR))
	st.MSR = mac.DecodeMSR(r.ReadReg(mac.RegMSR))
	st.Counters = Counters{
		TxOK:    r.ReadReg(mac.RegTxOK),
		RxOK:    r.ReadReg(mac.RegRxOK),
		TxErr:   r.ReadReg(mac.RegTxErr),
		RxErr:   r.ReadReg(mac.RegRxErr),
		MissPkt: r.ReadReg(mac.RegMissPkt),
		RxOKPhy: r.ReadReg(mac.RegRxOKPhy),
		RxOKBrd: r.ReadReg(mac.RegRxOKBrd),
		RxOKMu1: r.ReadReg(mac.RegRxOKMu1),
	}
	st.Driver = r.DriverStats()
	st.Registers = RegisterDump{
		CR:         r.ReadReg(mac.RegCR),
		TCR:        r.ReadReg(mac.RegTCR),
		RCR:        r.ReadReg(mac.RegRCR),
		IOCmd1:     r.ReadReg(mac.RegIOCmd1),
		EtherIOCmd: r.ReadReg(mac.RegEtherIOCmd),
		ISRIMR:     r.ReadReg(mac.RegISRIMR),
		TxFDP1:     r.ReadReg(mac.RegTxFDP1),
		RxFDP1:     r.ReadReg(mac.RegRxFDP1),
	}
	stored, ok, err := LoadIPConfig(c.store)
	if err != nil {
		c.warn("ethstat:kv", slog.String("err", err.Error()))
	} else if ok {
		st.Stored = &stored
	}
	if !scan {
		return st, nil
	}

	r.SetAutoPolling(false)
	c.sleep(autoPollSettle)
	st.PHYScan = c.scanPHYs()
	r.SetAutoPolling(true)
	return st, nil
}

// PrintStatus writes the status snapshot in console format.
func (c *Controller) PrintStatus(w io.Writer) error {
	st, err := c.Status()
	if err != nil {
		return err
	}
	p := printer{w: w}
	st.print(&p)
	return p.err
}

func (st *Status) print(p *printer) {
	if st.Interface == nil {
		p.printf("netif: NULL (Ethernet not initialized)")
		return
	}
	n := st.Interface
	p.printf("netif: name=%s num=%d", n.Name, n.Num)
	p.printf("netif: up=%d link_up=%d flags=0x%08x", b2u(n.Up), b2u(n.LinkUp), uint32(n.Flags))
	if n.Addr.IsValid() {
		p.printf("netif: ip=%s netmask=%s gw=%s", n.Addr, n.Netmask, n.Gateway)
	}
	if st.ResetLevel != nil {
		p.printf("GPIO: %s level=%d", st.ResetPin, *st.ResetLevel)
	}
	mi := st.MIIAR
	p.printf("MAC: ETH_MIIAR=0x%08x (FLAG=%d MDIO_BUSY=%d DISABLE_AUTO_POLLING=%d PHYADDR=%d REG=%d DATA=0x%04x)",
		mi.Raw, b2u(mi.Flag), b2u(mi.MDIOBusy), b2u(mi.AutoPollingOff), mi.PHYAddr, mi.RegAddr, mi.Data)
	ms := st.MSR
	p.printf("MAC: ETH_MSR=0x%08x (LINK_OK=%d SPEED=%s FULLDUP=%d NWAY_DONE=%d)",
		ms.Raw, b2u(ms.LinkOK), ms.Speed, b2u(ms.FullDuplex), b2u(ms.NwayDone))
	p.printf("MAC: msr_sel_rgmii=%d msr_sel_mii=%d gmac_phy_mode=%d forcelink=%d forcedfull=%d force_spd=%d",
		b2u(ms.SelRGMII), b2u(ms.SelMII), b2u(ms.GMACPHYMode), b2u(ms.ForceLink), b2u(ms.ForcedFullDup), uint8(ms.ForceSpeed))
	cn := st.Counters
	p.printf("MAC: TXOK=%d RXOK=%d TXERR=%d RXERR=%d MISSPKT=%d", cn.TxOK, cn.RxOK, cn.TxErr, cn.RxErr, cn.MissPkt)
	p.printf("MAC: RXOKPHY=%d RXOKBRD=%d RXOKMU1=%d", cn.RxOKPhy, cn.RxOKBrd, cn.RxOKMu1)
	d := st.Driver
	p.printf("SW: tx_call=%d tx_submit=%d tx_getbuf_null=%d", d.TxCall, d.TxSubmit, d.TxGetBufNull)
	p.printf("SW: tx_desc_cur=%d tx_desc_num=%d", d.TxDescCur, d.TxDescNum)
	for i, dw1 := range d.TxDescDW1 {
		p.printf("SW: TXDESC[%d].dw1=0x%08x", i, dw1)
	}
	rg := st.Registers
	p.printf("MAC: ETH_CR=0x%08x ETH_TCR=0x%08x ETH_RCR=0x%08x", rg.CR, rg.TCR, rg.RCR)
	p.printf("MAC: ETH_IO_CMD1=0x%08x ETH_ETHER_IO_CMD=0x%08x (TE=%d RE=%d TXFN1ST=%d)", rg.IOCmd1, rg.EtherIOCmd,
		mac.FieldTxEnable.Get(rg.EtherIOCmd), mac.FieldRxEnable.Get(rg.EtherIOCmd), mac.FieldTxFN1st.Get(rg.EtherIOCmd))
	p.printf("MAC: ETH_ISR_AND_IMR=0x%08x ETH_TXFDP1=0x%08x ETH_RXFDP1=0x%08x", rg.ISRIMR, rg.TxFDP1, rg.RxFDP1)
	var build strings.Builder
	for _, flag := range st.BuildFlags {
		build.WriteString(flag)
		build.WriteByte(' ')
	}
	p.printf("Build cfg: %s", build.String())
	if st.Stored != nil {
		p.printf("KV: %s", st.Stored)
	}
	p.printf("Pinmux:")
	printPins(p, st.PinGroup, st.Pins)
	p.printf("PHY scan (MDIO addr 0..%d):", maxPHYAddr)
	st.PHYScan.print(p)
}

func printPins(p *printer, g pinmux.Group, pins []PinAssignment) {
	p.printf("ETHERNET_Pin_Grp=%d", g)
	for i, pin := range pins {
		p.printf("PAD[%d] %s=%s (0x%02x)", i, pin.Signal, pin.Pin, pin.Raw)
	}
}

func (scan *PHYScan) print(p *printer) {
	for i := range scan.Results {
		r := &scan.Results[i]
		if r.Failed() {
			p.printf("PHY[%d]: MDIO read failed (ret2=%d ret3=%d)", r.Addr, retcode(r.ErrID1), retcode(r.ErrID2))
			continue
		}
		p.printf("PHY[%d]: ID1=0x%04x ID2=0x%04x BMCR(0)=0x%04x BMSR(1)=0x%04x", r.Addr, r.ID1, r.ID2, r.BMCR, r.BMSR)
	}
	if scan.Found == 0 {
		p.printf("PHY scan: no valid PHY IDs found (all 0x0000/0xffff?)")
	}
}

func retcode(err error) int {
	if err != nil {
		return -1
	}
	return 0
}

func b2u(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// printer writes CRLF terminated console lines and keeps the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\r\n", args...)
}
