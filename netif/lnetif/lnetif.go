// Package lnetif implements [netif.Interface] on top of the lneto
// Ethernet/IPv4/ARP/UDP stack so the control logic can drive a real
// userspace stack fed with raw Ethernet frames.
package lnetif

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/soypat/ethat/netif"
	"github.com/soypat/lneto"
	"github.com/soypat/lneto/arp"
	"github.com/soypat/lneto/dhcpv4"
	"github.com/soypat/lneto/ethernet"
	"github.com/soypat/lneto/internet"
)

// Config configures an [Interface].
type Config struct {
	// Name is the two letter interface name. Defaults to "et".
	Name         string
	Num          uint8
	Hostname     string
	HardwareAddr [6]byte
	MTU          uint16
	// RandSeed seeds DHCP transaction IDs. Must be non-zero.
	RandSeed uint32
	Logger   *slog.Logger
}

// Interface is an lneto backed network interface.
type Interface struct {
	mu       sync.Mutex
	logger   *slog.Logger
	name     string
	num      uint8
	hostname string
	flags    netif.Flags
	link     internet.StackEthernet
	ip       internet.StackIP
	arp      arp.Handler
	udps     internet.StackPorts
	dhcpUDP  internet.StackUDPPort
	dhcp     dhcpv4.Client
	dhcpOn   bool
	netmask  netip.Addr
	gateway  netip.Addr
	prng     uint32
}

const udpConns = 2 // DHCP client, DHCP server.

var (
	errZeroSeed = errors.New("lnetif: zero random seed")
	errDown     = errors.New("lnetif: interface down")
)

// New returns an interface with no address that is administratively down with link down.
func New(cfg Config) (*Interface, error) {
	if cfg.RandSeed == 0 {
		return nil, errZeroSeed
	}
	if cfg.Name == "" {
		cfg.Name = "et"
	}
	if cfg.MTU == 0 {
		cfg.MTU = 1500
	}
	iface := &Interface{
		logger:   cfg.Logger,
		name:     cfg.Name,
		num:      cfg.Num,
		hostname: cfg.Hostname,
		flags:    netif.FlagBroadcast | netif.FlagEtharp | netif.FlagEthernet,
		prng:     cfg.RandSeed,
	}
	const linkNodes = 2 // ARP and IP nodes.
	err := iface.link.Reset6(cfg.HardwareAddr, ethernet.BroadcastAddr(), int(cfg.MTU), linkNodes)
	if err != nil {
		return nil, err
	}
	const ipNodes = 1 // UDP ports.
	err = iface.ip.Reset(netip.AddrFrom4([4]byte{}), ipNodes)
	if err != nil {
		return nil, err
	}
	if err = iface.resetARP(); err != nil {
		return nil, err
	}
	if err = iface.udps.ResetUDP(udpConns); err != nil {
		return nil, err
	}
	if err = iface.link.Register(&iface.arp); err != nil {
		return nil, err
	}
	if err = iface.link.Register(&iface.ip); err != nil {
		return nil, err
	}
	if err = iface.ip.Register(&iface.udps); err != nil {
		return nil, err
	}
	return iface, nil
}

func (i *Interface) resetARP() error {
	mac := i.link.HardwareAddr6()
	addr := i.ip.Addr()
	return i.arp.Reset(arp.HandlerConfig{
		HardwareAddr: mac[:],
		ProtocolAddr: addr.AsSlice(),
		MaxQueries:   3,
		MaxPending:   3,
		HardwareType: 1,
		ProtocolType: ethernet.TypeIPv4,
	})
}

// Demux hands a received Ethernet frame to the stack. Frames are dropped while the interface is down.
func (i *Interface) Demux(frame []byte) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.flags.IsUp() {
		return errDown
	}
	if i.logger != nil && i.logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		i.debug("lnetif:rx", slog.Int("plen", len(frame)), slog.Uint64("csum", uint64(frameChecksum(frame))))
	}
	return i.link.Demux(frame, 0)
}

// Encapsulate writes the next pending outgoing frame into buf and returns its length.
func (i *Interface) Encapsulate(buf []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.flags.IsUp() {
		return 0, nil
	}
	return i.link.Encapsulate(buf, 0)
}

func (i *Interface) Name() string { return i.name }
func (i *Interface) Num() uint8   { return i.num }

func (i *Interface) Flags() netif.Flags {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.flags
}

func (i *Interface) SetUp() {
	i.mu.Lock()
	i.flags |= netif.FlagUp
	i.mu.Unlock()
	i.debug("lnetif:up", slog.String("name", i.name))
}

func (i *Interface) SetDown() {
	i.mu.Lock()
	i.flags &^= netif.FlagUp
	i.mu.Unlock()
	i.debug("lnetif:down", slog.String("name", i.name))
}

func (i *Interface) SetLinkUp() {
	i.mu.Lock()
	i.flags |= netif.FlagLinkUp
	i.mu.Unlock()
	i.debug("lnetif:link-up", slog.String("name", i.name))
}

func (i *Interface) SetAddresses(a netif.Addresses) error {
	if !a.Addr.Is4() || !a.Netmask.Is4() || !a.Gateway.Is4() {
		return netif.ErrNotIPv4
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	err := i.ip.SetAddr(a.Addr)
	if err != nil {
		return err
	}
	i.netmask = a.Netmask
	i.gateway = a.Gateway
	return i.resetARP()
}

func (i *Interface) Addresses() netif.Addresses {
	i.mu.Lock()
	defer i.mu.Unlock()
	return netif.Addresses{Addr: i.ip.Addr(), Netmask: i.netmask, Gateway: i.gateway}
}

func (i *Interface) ReleaseAddress() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.release()
}

func (i *Interface) release() error {
	err := i.ip.SetAddr(netip.AddrFrom4([4]byte{}))
	if err != nil {
		return err
	}
	i.netmask = netip.Addr{}
	i.gateway = netip.Addr{}
	return i.resetARP()
}

func (i *Interface) DHCPActive() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dhcpOn
}

// StartDHCP begins a DHCP request for the current address.
func (i *Interface) StartDHCP() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	xid := i.prand32()
	err := i.dhcp.BeginRequest(xid, dhcpv4.RequestConfig{
		RequestedAddr:      i.ip.Addr().As4(),
		ClientHardwareAddr: i.link.HardwareAddr6(),
		Hostname:           i.hostname,
	})
	if err != nil {
		return err
	}
	i.dhcpUDP.SetStackNode(&i.dhcp, nil, dhcpv4.DefaultServerPort)
	err = i.udps.Register(&i.dhcpUDP)
	if err != nil {
		return err
	}
	i.dhcpOn = true
	return nil
}

// StopDHCP detaches the DHCP client and drops any leased address.
func (i *Interface) StopDHCP() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.dhcpOn {
		return nil
	}
	// Resetting the port table unregisters the DHCP client port.
	err := i.udps.ResetUDP(udpConns)
	if err != nil {
		return err
	}
	i.dhcpOn = false
	return i.release()
}

// DHCPBound reports whether the DHCP client holds a lease.
func (i *Interface) DHCPBound() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dhcpOn && i.dhcp.State() == dhcpv4.StateBound
}

// prand32 is a xorshift generator (Marsaglia, "Xorshift RNGs", p. 4).
func (i *Interface) prand32() uint32 {
	seed := i.prng
	seed ^= seed << 13
	seed ^= seed >> 17
	seed ^= seed << 5
	i.prng = seed
	return seed
}

// frameChecksum tags frames in debug logs.
func frameChecksum(b []byte) uint16 {
	var csum lneto.CRC791
	csum.Write(b)
	return csum.Sum16()
}

func (i *Interface) debug(msg string, attrs ...slog.Attr) {
	if i.logger != nil {
		i.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}
