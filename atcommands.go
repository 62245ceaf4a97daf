package ethat

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/soypat/ethat/atcmd"
	"github.com/soypat/ethat/pinmux"
)

// RegisterCommands adds the Ethernet AT commands backed by c to reg.
func RegisterCommands(reg *atcmd.Registry, c *Controller) error {
	cmds := []struct {
		name string
		h    atcmd.Handler
	}{
		{"+ETHIP", ethIP{c}},
		{"+ETHSTAT", ethStat{c}},
		{"+ETHSTATE", ethStat{c}},
		{"+ETHSCAN", ethScan{c}},
		{"+ETHGRP", ethGroup{c}},
		{"+ETHUP", ethUpDown{c: c, up: true}},
		{"+ETHDOWN", ethUpDown{c: c}},
		{"+ETHFORCE", ethForce{c}},
		{"+ETHRST", ethReset{c}},
	}
	for _, cmd := range cmds {
		err := reg.Register(cmd.name, cmd.h)
		if err != nil {
			return err
		}
	}
	return nil
}

type ethIP struct{ c *Controller }

func (h ethIP) Run(w io.Writer, args []string) error {
	cmd, err := ParseIPCommand(args)
	if err != nil {
		return err
	}
	outcome, err := h.c.SetIP(cmd)
	if err != nil {
		return err
	}
	if outcome == OutcomeSavedOnly {
		_, err = io.WriteString(w, "Ethernet not initialized; saved to KV only\r\n")
	}
	return err
}

func (ethIP) Usage() string {
	return "\r\nAT+ETHIP=<store_flag>,<ip>[,<gateway>,<netmask>]\r\n" +
		"\t<store_flag>:\t0 apply only, 1 save to KV and apply, 2 erase KV\r\n" +
		"\t<gateway>,<netmask>:\toptional, must be given together. Default gateway x.x.x.1, netmask 255.255.255.0\r\n"
}

type ethStat struct{ c *Controller }

func (h ethStat) Run(w io.Writer, args []string) error {
	_, err := io.WriteString(w, "[+ETHSTAT]\r\n")
	if err != nil {
		return err
	}
	return h.c.PrintStatus(w)
}

func (ethStat) Usage() string { return "\r\nAT+ETHSTAT\r\n" }

type ethScan struct{ c *Controller }

func (h ethScan) Run(w io.Writer, args []string) error {
	p := printer{w: w}
	p.printf("[+ETHSCAN]")
	scans, err := h.c.ScanAllGroups()
	for i := range scans {
		gs := &scans[i]
		p.printf("Try ETHERNET_Pin_Grp=%d", gs.Group)
		p.printf("MAC: ETH_MIIAR=0x%08x", gs.MIIAR)
		gs.Scan.print(&p)
	}
	if err != nil {
		return err
	}
	return p.err
}

func (ethScan) Usage() string { return "\r\nAT+ETHSCAN\r\n" }

type ethGroup struct{ c *Controller }

func (h ethGroup) Run(w io.Writer, args []string) error {
	p := printer{w: w}
	p.printf("[+ETHGRP]")
	if len(args) != 1 || args[0] == "" {
		return ErrArgCount
	}
	g, err := strconv.Atoi(args[0])
	if err != nil || g < 0 || g >= int(pinmux.NumGroups) {
		return ErrInvalidGroup
	}
	pins, err := h.c.SetPinGroup(pinmux.Group(g))
	if errors.Is(err, ErrPinConflict) {
		p.printf("ERR: grp=3 conflicts with AT UART pins (PA25/PA26). Use 0/1/2 or move UART pins.")
		return err
	} else if err != nil {
		return err
	}
	printPins(&p, pinmux.Group(g), pins)
	return p.err
}

func (ethGroup) Usage() string {
	return "\r\nAT+ETHGRP=<grp>\r\n" +
		"\t<grp>:\t0..3 (select RMII pin group)\r\n" +
		"\tNote:\tgrp=3 uses PA25/PA26 for MDC/MDIO and conflicts with the AT UART pins.\r\n"
}

type ethUpDown struct {
	c  *Controller
	up bool
}

func (h ethUpDown) Run(w io.Writer, args []string) error {
	p := printer{w: w}
	p.printf("[%s]", h.name())
	var t LinkTransition
	if h.up {
		t = h.c.Up()
	} else {
		t = h.c.Down()
	}
	if !t.Present {
		p.printf("netif: NULL (Ethernet not initialized)")
		return p.err
	}
	p.printf("before: up=%d link_up=%d flags=0x%08x", b2u(t.Before.IsUp()), b2u(t.Before.IsLinkUp()), uint32(t.Before))
	p.printf("after : up=%d link_up=%d flags=0x%08x", b2u(t.After.IsUp()), b2u(t.After.IsLinkUp()), uint32(t.After))
	return p.err
}

func (h ethUpDown) name() string {
	if h.up {
		return "+ETHUP"
	}
	return "+ETHDOWN"
}

func (h ethUpDown) Usage() string { return "\r\nAT" + h.name() + "\r\n" }

type ethForce struct{ c *Controller }

func (h ethForce) Run(w io.Writer, args []string) error {
	p := printer{w: w}
	p.printf("[+ETHFORCE]")
	if len(args) != 3 {
		return ErrArgCount
	}
	enable, err := parseBool(args[0])
	if err != nil {
		return err
	}
	speed, err := strconv.Atoi(strings.TrimSpace(args[1]))
	if err != nil {
		return ErrInvalidSpeed
	}
	fulldup, err := parseBool(args[2])
	if err != nil {
		return err
	}
	msr, err := h.c.ForceLink(ForceLinkConfig{Enabled: enable, Speed: speed, FullDuplex: fulldup})
	if err != nil {
		return err
	}
	p.printf("ETH_MSR=0x%08x", msr.Raw)
	return p.err
}

func (ethForce) Usage() string {
	return "\r\nAT+ETHFORCE=<enable>,<speed>,<fulldup>\r\n" +
		"\t<enable>:\t0 disable (auto), 1 force link/speed\r\n" +
		"\t<speed>:\t10|100|1000\r\n" +
		"\t<fulldup>:\t0 half, 1 full\r\n"
}

type ethReset struct{ c *Controller }

func (h ethReset) Run(w io.Writer, args []string) error {
	p := printer{w: w}
	p.printf("[+ETHRST]")
	high, err := h.c.ResetPHY()
	if err != nil {
		return err
	}
	p.printf("GPIO: %s level=%d", h.c.ResetPin(), b2u(high))
	return p.err
}

func (ethReset) Usage() string { return "\r\nAT+ETHRST\r\n" }

func parseBool(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, fmt.Errorf("%w: %q", ErrInvalidBool, s)
}
