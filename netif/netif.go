// Package netif is the network interface abstraction consumed by the Ethernet
// control logic. It follows lwIP conventions: interfaces are registered in an
// index table, carry a flags word and may run a DHCP client.
package netif

import (
	"errors"
	"net/netip"
	"strconv"
	"strings"
)

// Flags mirrors the lwIP netif flags word.
type Flags uint8

const (
	FlagUp        Flags = 0x01
	FlagBroadcast Flags = 0x02
	FlagLinkUp    Flags = 0x04
	FlagEtharp    Flags = 0x08
	FlagEthernet  Flags = 0x10
	FlagIGMP      Flags = 0x20
	FlagMLD6      Flags = 0x40
)

func (f Flags) IsUp() bool     { return f&FlagUp != 0 }
func (f Flags) IsLinkUp() bool { return f&FlagLinkUp != 0 }

func (f Flags) String() string {
	if f == 0 {
		return "0"
	}
	names := [...]string{"UP", "BROADCAST", "LINK_UP", "ETHARP", "ETHERNET", "IGMP", "MLD6", "0x80"}
	var sb strings.Builder
	for i, name := range names {
		if f&(1<<i) == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(name)
	}
	return sb.String()
}

// Index selects an interface slot in a [Stack].
type Index uint8

const (
	IndexSTA      Index = 0 // Wi-Fi station, WAN side.
	IndexAP       Index = 1
	IndexEthernet Index = 2
	MaxIndex            = 4
)

func (i Index) String() string {
	switch i {
	case IndexSTA:
		return "sta"
	case IndexAP:
		return "ap"
	case IndexEthernet:
		return "eth"
	}
	return "netif" + strconv.Itoa(int(i))
}

// Addresses is the IPv4 configuration of an interface.
type Addresses struct {
	Addr    netip.Addr
	Netmask netip.Addr
	Gateway netip.Addr
}

var (
	ErrNotRegistered = errors.New("netif: interface not registered")
	ErrInvalidIndex  = errors.New("netif: invalid interface index")
	ErrNotIPv4       = errors.New("netif: address not IPv4")
)

// Interface is a registered network interface.
type Interface interface {
	// Name returns the two letter lwIP name, e.g. "et".
	Name() string
	Num() uint8
	Flags() Flags
	SetUp()
	SetDown()
	// SetAddresses applies a static IPv4 configuration.
	SetAddresses(a Addresses) error
	Addresses() Addresses
	// ReleaseAddress clears the static address.
	ReleaseAddress() error
	// DHCPActive reports whether a DHCP client is attached to the interface.
	DHCPActive() bool
	StartDHCP() error
	StopDHCP() error
	// SetLinkUp sets the link flag and runs link-up callbacks as the driver's
	// link change interrupt would.
	SetLinkUp()
}

// Stack is the network stack owning the interfaces.
type Stack interface {
	// Interface returns the interface at idx or nil when none is registered.
	Interface(idx Index) Interface
	// SetDefault selects the interface used for the default route.
	SetDefault(idx Index) error
	// Ready is set once the stack finished its initialization.
	Ready() *Signal
	// Registered is set once an interface is registered at idx.
	Registered(idx Index) *Signal
}
