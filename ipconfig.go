package ethat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"

	"github.com/soypat/ethat/kv"
	"github.com/soypat/ethat/netif"
)

// Store keys of the persisted IP configuration. Each holds a 4-byte address in network order.
const (
	KeyIP      = "eth_ip"
	KeyGateway = "eth_gw"
	KeyNetmask = "eth_netmask"
)

var ipKeys = []string{KeyIP, KeyGateway, KeyNetmask}

// IPConfig is a static IPv4 configuration.
type IPConfig struct {
	Addr    netip.Addr `json:"addr"`
	Netmask netip.Addr `json:"netmask"`
	Gateway netip.Addr `json:"gateway"`
}

// DefaultIPConfig returns addr on a /24 with the gateway at .1 of the same network.
func DefaultIPConfig(addr netip.Addr) IPConfig {
	return IPConfig{
		Addr:    addr,
		Netmask: netip.AddrFrom4([4]byte{255, 255, 255, 0}),
		Gateway: AddrFromUint32(AddrUint32(addr)&0xffffff00 | 1),
	}
}

func (c IPConfig) String() string {
	return c.Addr.String() + " mask " + c.Netmask.String() + " gw " + c.Gateway.String()
}

func (c IPConfig) valid() bool {
	return c.Addr.Is4() && c.Netmask.Is4() && c.Gateway.Is4()
}

func (c IPConfig) addresses() netif.Addresses {
	return netif.Addresses{Addr: c.Addr, Netmask: c.Netmask, Gateway: c.Gateway}
}

func (c IPConfig) entries() []kv.Entry {
	ip, gw, mask := c.Addr.As4(), c.Gateway.As4(), c.Netmask.As4()
	return []kv.Entry{
		{Key: KeyIP, Value: ip[:]},
		{Key: KeyGateway, Value: gw[:]},
		{Key: KeyNetmask, Value: mask[:]},
	}
}

// StoreFlag selects what +ETHIP does with the configuration.
type StoreFlag uint8

const (
	// StoreApply applies the configuration to the running interface only.
	StoreApply StoreFlag = 0
	// StoreSave persists the configuration and applies it if the interface exists.
	StoreSave StoreFlag = 1
	// StoreErase deletes the persisted configuration.
	StoreErase StoreFlag = 2
)

// IPCommand is a validated +ETHIP request.
type IPCommand struct {
	Flag StoreFlag
	// Config is unset for StoreErase.
	Config IPConfig
}

// ParseIPCommand validates +ETHIP parameters: store_flag,[ip,[gateway,netmask]].
// Erase ignores every parameter after the flag.
func ParseIPCommand(args []string) (IPCommand, error) {
	if len(args) == 0 || args[0] == "" {
		return IPCommand{}, ErrArgCount
	}
	flag, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || flag < 0 || flag > 2 {
		return IPCommand{}, ErrStoreFlag
	}
	cmd := IPCommand{Flag: StoreFlag(flag)}
	if cmd.Flag == StoreErase {
		return cmd, nil
	}
	if len(args) > 4 {
		return IPCommand{}, ErrArgCount
	}
	if len(args) < 2 || args[1] == "" {
		return IPCommand{}, ErrMissingAddr
	}
	gw, mask := argAt(args, 2), argAt(args, 3)
	if (gw == "") != (mask == "") {
		return IPCommand{}, ErrGatewayNetmaskPair
	}
	addr, err := parseIPv4(args[1])
	if err != nil {
		return IPCommand{}, err
	}
	cmd.Config = DefaultIPConfig(addr)
	if gw != "" {
		cmd.Config.Gateway, err = parseIPv4(gw)
		if err != nil {
			return IPCommand{}, err
		}
		cmd.Config.Netmask, err = parseIPv4(mask)
		if err != nil {
			return IPCommand{}, err
		}
	}
	return cmd, nil
}

func argAt(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func parseIPv4(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil || !addr.Is4() {
		return netip.Addr{}, ErrMalformedAddr
	}
	return addr, nil
}

// Outcome describes the effect of a successful SetIP.
type Outcome uint8

const (
	// OutcomeApplied means the configuration was applied to the interface (and saved if requested).
	OutcomeApplied Outcome = iota
	// OutcomeSavedOnly means the configuration was saved but there was no interface to apply it to.
	OutcomeSavedOnly
	// OutcomeErased means the persisted configuration was deleted.
	OutcomeErased
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeSavedOnly:
		return "saved to KV only"
	case OutcomeErased:
		return "erased"
	}
	return "Outcome(" + strconv.Itoa(int(o)) + ")"
}

// SetIP executes a validated +ETHIP request. Save writes the complete triple
// before touching the interface and restores the previous entries if the
// interface rejects it. Apply without an interface fails with ErrNoInterface.
func (c *Controller) SetIP(cmd IPCommand) (Outcome, error) {
	c.lock()
	defer c.unlock()
	switch cmd.Flag {
	case StoreErase:
		err := kv.DeleteAll(c.store, ipKeys...)
		if err != nil {
			return 0, err
		}
		c.info("ethip:erased")
		return OutcomeErased, nil
	case StoreSave, StoreApply:
	default:
		return 0, ErrStoreFlag
	}
	if !cmd.Config.valid() {
		return 0, ErrMalformedAddr
	}
	var prev []kv.Entry
	if cmd.Flag == StoreSave {
		var err error
		prev, err = kv.Snapshot(c.store, ipKeys...)
		if err != nil {
			return 0, err
		}
		err = kv.SetAll(c.store, cmd.Config.entries()...)
		if err != nil {
			return 0, err
		}
		c.info("ethip:saved", slog.String("cfg", cmd.Config.String()))
	}
	iface := c.iface()
	if iface == nil {
		if cmd.Flag == StoreSave {
			c.warn("ethip:Ethernet not initialized; saved to KV only")
			return OutcomeSavedOnly, nil
		}
		c.warn("ethip:Ethernet not initialized")
		return 0, ErrNoInterface
	}
	err := c.applyStatic(iface, cmd.Config)
	if err != nil {
		if prev != nil {
			rerr := kv.Restore(c.store, prev)
			if rerr != nil {
				c.logerr("ethip:kv-restore", slog.String("err", rerr.Error()))
				err = errjoin(err, rerr)
			}
		}
		return 0, err
	}
	return OutcomeApplied, nil
}

// ApplyStatic applies cfg to the Ethernet interface without persisting it.
func (c *Controller) ApplyStatic(cfg IPConfig) error {
	if !cfg.valid() {
		return ErrMalformedAddr
	}
	c.lock()
	defer c.unlock()
	iface := c.iface()
	if iface == nil {
		return ErrNoInterface
	}
	return c.applyStatic(iface, cfg)
}

// applyStatic drops any DHCP lease or static address, cycles the interface
// down and up so ARP and stack flags reset, then assigns cfg. If cfg is
// rejected the previous address or DHCP client is put back.
func (c *Controller) applyStatic(iface netif.Interface, cfg IPConfig) error {
	prevAddrs, wasDHCP := iface.Addresses(), iface.DHCPActive()
	var err error
	if wasDHCP {
		err = iface.StopDHCP()
	} else {
		err = iface.ReleaseAddress()
	}
	if err != nil {
		return err
	}
	iface.SetDown()
	iface.SetUp()
	err = iface.SetAddresses(cfg.addresses())
	if err != nil {
		c.logerr("ethip:set-addr", slog.String("err", err.Error()))
		c.restoreInterface(iface, prevAddrs, wasDHCP)
		return err
	}
	c.info("ethip:applied", slog.String("netif", iface.Name()), slog.String("cfg", cfg.String()))
	return nil
}

func (c *Controller) restoreInterface(iface netif.Interface, prev netif.Addresses, wasDHCP bool) {
	var err error
	switch {
	case wasDHCP:
		err = iface.StartDHCP()
	case prev.Addr.IsValid():
		err = iface.SetAddresses(prev)
	}
	if err != nil {
		c.logerr("ethip:restore", slog.String("netif", iface.Name()), slog.String("err", err.Error()))
	}
}

// StoredIPConfig reads back the persisted configuration. See [LoadIPConfig].
func (c *Controller) StoredIPConfig() (cfg IPConfig, ok bool, err error) {
	c.lock()
	defer c.unlock()
	return LoadIPConfig(c.store)
}

// LoadIPConfig reads the persisted configuration from s. ok is false unless
// all three entries exist and hold 4 bytes each.
func LoadIPConfig(s kv.Store) (cfg IPConfig, ok bool, err error) {
	var addrs [3]netip.Addr
	for i, key := range ipKeys {
		v, err := s.Get(key)
		if errors.Is(err, kv.ErrNotFound) {
			return IPConfig{}, false, nil
		} else if err != nil {
			return IPConfig{}, false, fmt.Errorf("load %s: %w", key, err)
		}
		if len(v) != 4 {
			return IPConfig{}, false, nil
		}
		addrs[i] = netip.AddrFrom4([4]byte(v))
	}
	return IPConfig{Addr: addrs[0], Gateway: addrs[1], Netmask: addrs[2]}, true, nil
}

// AddrUint32 returns the IPv4 address as a big-endian uint32 (192.168.0.1 is 0xc0a80001).
func AddrUint32(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

// AddrFromUint32 is the inverse of [AddrUint32].
func AddrFromUint32(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}
