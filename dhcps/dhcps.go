// Package dhcps is a small DHCPv4 server handing out addresses from a single
// pool on the LAN interface.
package dhcps

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/d2g/dhcp4"
	"github.com/soypat/ethat/netif"
)

// DefaultLeaseDuration is used when Config.LeaseDuration is zero.
const DefaultLeaseDuration = 2 * time.Hour

// Offers are held this long awaiting the client's REQUEST.
const offerHold = 30 * time.Second

const (
	serverPort = 67
	clientPort = 68
)

var (
	ErrInvalidPool = errors.New("dhcps: pool must be an ordered IPv4 range")
	ErrNoAddress   = errors.New("dhcps: server has no IPv4 address")
	ErrNotRunning  = errors.New("dhcps: server not initialized")
)

// Lease is an address bound to a client hardware address.
type Lease struct {
	HardwareAddr string     `json:"hwaddr"`
	Addr         netip.Addr `json:"addr"`
	Expiry       time.Time  `json:"expiry"`
	// Offered is true until the client confirms the offer with a REQUEST.
	Offered bool `json:"offered,omitempty"`
}

// Config configures a [Server]. Addresses left invalid are taken from the
// interface passed to Init.
type Config struct {
	ServerAddr    netip.Addr
	Netmask       netip.Addr
	Router        netip.Addr
	DNS           netip.Addr
	LeaseDuration time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

// Server allocates addresses from a pool. The zero value is not usable; see [New].
type Server struct {
	mu        sync.Mutex
	cfg       Config
	serverID  netip.Addr
	netmask   netip.Addr
	router    netip.Addr
	dns       netip.Addr
	poolStart netip.Addr
	poolEnd   netip.Addr
	running   bool
	leases    map[string]*Lease
	declined  map[netip.Addr]time.Time
}

func New(cfg Config) *Server {
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = DefaultLeaseDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Server{
		cfg:      cfg,
		leases:   make(map[string]*Lease),
		declined: make(map[netip.Addr]time.Time),
	}
}

// SetPool sets the inclusive range of addresses handed out.
func (s *Server) SetPool(start, end netip.Addr) error {
	if !start.Is4() || !end.Is4() || end.Less(start) {
		return ErrInvalidPool
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poolStart, s.poolEnd = start, end
	return nil
}

// Deinit stops serving and forgets every lease.
func (s *Server) Deinit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	clear(s.leases)
	clear(s.declined)
}

// Init starts serving on iface. The server identifier, netmask, router and
// DNS default to the interface address configuration.
func (s *Server) Init(iface netif.Interface) error {
	a := iface.Addresses()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.poolStart.IsValid() {
		return ErrInvalidPool
	}
	s.serverID = firstValid(s.cfg.ServerAddr, a.Addr)
	if !s.serverID.Is4() || s.serverID.IsUnspecified() {
		return ErrNoAddress
	}
	s.netmask = firstValid(s.cfg.Netmask, a.Netmask)
	s.router = firstValid(s.cfg.Router, s.serverID)
	s.dns = firstValid(s.cfg.DNS, s.serverID)
	s.running = true
	s.info("dhcps:init", slog.String("netif", iface.Name()), slog.String("server", s.serverID.String()),
		slog.String("pool", s.poolStart.String()+"-"+s.poolEnd.String()))
	return nil
}

func firstValid(addrs ...netip.Addr) netip.Addr {
	for _, a := range addrs {
		if a.IsValid() && !a.IsUnspecified() {
			return a
		}
	}
	return netip.Addr{}
}

// Leases returns the current leases ordered by address.
func (s *Server) Leases() []Lease {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.cfg.Now()
	out := make([]Lease, 0, len(s.leases))
	for _, l := range s.leases {
		if now.Before(l.Expiry) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr.Less(out[j].Addr) })
	return out
}

// Handle processes one client packet and returns the reply, or nil if none is due.
func (s *Server) Handle(req dhcp4.Packet) dhcp4.Packet {
	if len(req) < 240 || req.OpCode() != dhcp4.BootRequest {
		return nil
	}
	opts := req.ParseOptions()
	mt := opts[dhcp4.OptionDHCPMessageType]
	if len(mt) != 1 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	hw := req.CHAddr().String()
	now := s.cfg.Now()
	switch dhcp4.MessageType(mt[0]) {
	case dhcp4.Discover:
		addr, ok := s.pick(hw, requestedAddr(req, opts), now)
		if !ok {
			s.warn("dhcps:pool exhausted", slog.String("hwaddr", hw))
			return nil
		}
		s.leases[hw] = &Lease{HardwareAddr: hw, Addr: addr, Expiry: now.Add(offerHold), Offered: true}
		s.debug("dhcps:offer", slog.String("hwaddr", hw), slog.String("addr", addr.String()))
		return s.reply(req, dhcp4.Offer, addr, s.cfg.LeaseDuration, opts)

	case dhcp4.Request:
		if id, ok := opts[dhcp4.OptionServerIdentifier]; ok && !s.isServer(id) {
			// Client accepted another server's offer.
			if l := s.leases[hw]; l != nil && l.Offered {
				delete(s.leases, hw)
			}
			return nil
		}
		addr := requestedAddr(req, opts)
		if !addr.IsValid() || !s.available(hw, addr, now) {
			s.debug("dhcps:nak", slog.String("hwaddr", hw), slog.String("addr", addr.String()))
			return s.reply(req, dhcp4.NAK, netip.Addr{}, 0, nil)
		}
		s.leases[hw] = &Lease{HardwareAddr: hw, Addr: addr, Expiry: now.Add(s.cfg.LeaseDuration)}
		s.info("dhcps:ack", slog.String("hwaddr", hw), slog.String("addr", addr.String()))
		return s.reply(req, dhcp4.ACK, addr, s.cfg.LeaseDuration, opts)

	case dhcp4.Release:
		if l := s.leases[hw]; l != nil && l.Addr == addrFrom(req.CIAddr()) {
			delete(s.leases, hw)
			s.debug("dhcps:release", slog.String("hwaddr", hw))
		}
	case dhcp4.Decline:
		if l := s.leases[hw]; l != nil {
			s.declined[l.Addr] = now.Add(s.cfg.LeaseDuration)
			delete(s.leases, hw)
			s.warn("dhcps:decline", slog.String("hwaddr", hw), slog.String("addr", l.Addr.String()))
		}
	case dhcp4.Inform:
		return s.reply(req, dhcp4.ACK, netip.Addr{}, 0, opts)
	}
	return nil
}

func (s *Server) reply(req dhcp4.Packet, mt dhcp4.MessageType, yiaddr netip.Addr, lease time.Duration, reqOpts dhcp4.Options) dhcp4.Packet {
	var options []dhcp4.Option
	if reqOpts != nil {
		available := dhcp4.Options{
			dhcp4.OptionSubnetMask:       ip4(s.netmask),
			dhcp4.OptionRouter:           ip4(s.router),
			dhcp4.OptionDomainNameServer: ip4(s.dns),
		}
		options = available.SelectOrderOrAll(reqOpts[dhcp4.OptionParameterRequestList])
	}
	yi := net.IP(net.IPv4zero.To4())
	if yiaddr.IsValid() {
		yi = ip4(yiaddr)
	}
	return dhcp4.ReplyPacket(req, mt, ip4(s.serverID), yi, lease, options)
}

// pick chooses an address for hw: its current lease, the requested address
// if free, else the lowest free address of the pool.
func (s *Server) pick(hw string, requested netip.Addr, now time.Time) (netip.Addr, bool) {
	if l := s.leases[hw]; l != nil && now.Before(l.Expiry) {
		return l.Addr, true
	}
	if requested.IsValid() && s.available(hw, requested, now) {
		return requested, true
	}
	start, end := ip4(s.poolStart), ip4(s.poolEnd)
	n := dhcp4.IPRange(start, end)
	for i := 0; i < n; i++ {
		addr := addrFrom(dhcp4.IPAdd(start, i))
		if s.available(hw, addr, now) {
			return addr, true
		}
	}
	return netip.Addr{}, false
}

// available reports whether addr is in the pool and not bound to another client.
func (s *Server) available(hw string, addr netip.Addr, now time.Time) bool {
	if !dhcp4.IPInRange(ip4(s.poolStart), ip4(s.poolEnd), ip4(addr)) || addr == s.serverID {
		return false
	}
	if until, ok := s.declined[addr]; ok {
		if now.Before(until) {
			return false
		}
		delete(s.declined, addr)
	}
	for owner, l := range s.leases {
		if l.Addr == addr && owner != hw && now.Before(l.Expiry) {
			return false
		}
	}
	return true
}

func (s *Server) isServer(id []byte) bool {
	return len(id) == 4 && addrFrom(net.IP(id)) == s.serverID
}

func requestedAddr(req dhcp4.Packet, opts dhcp4.Options) netip.Addr {
	if ip, ok := opts[dhcp4.OptionRequestedIPAddress]; ok && len(ip) == 4 {
		return addrFrom(net.IP(ip))
	}
	if a := addrFrom(req.CIAddr()); a.IsValid() && !a.IsUnspecified() {
		return a
	}
	return netip.Addr{}
}

func ip4(a netip.Addr) net.IP {
	b := a.As4()
	return net.IP(b[:])
}

func addrFrom(ip net.IP) netip.Addr {
	a, _ := netip.AddrFromSlice(ip.To4())
	return a
}

// Serve answers requests read from conn until ctx is cancelled or conn fails.
// conn is closed on return.
func (s *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	defer conn.Close()
	buf := make([]byte, 1500)
	for {
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		req := dhcp4.Packet(append([]byte(nil), buf[:n]...))
		resp := s.Handle(req)
		if resp == nil {
			continue
		}
		_, err = conn.WriteTo(resp, replyAddr(req, src))
		if err != nil {
			s.warn("dhcps:write", slog.String("err", err.Error()))
		}
	}
}

func replyAddr(req dhcp4.Packet, src net.Addr) net.Addr {
	if gi := req.GIAddr(); !gi.Equal(net.IPv4zero) {
		return &net.UDPAddr{IP: gi, Port: serverPort}
	}
	if ci := req.CIAddr(); !ci.Equal(net.IPv4zero) {
		return &net.UDPAddr{IP: ci, Port: clientPort}
	}
	if udp, ok := src.(*net.UDPAddr); ok && !udp.IP.Equal(net.IPv4zero) && !req.Broadcast() {
		return udp
	}
	return &net.UDPAddr{IP: net.IPv4bcast, Port: clientPort}
}

func (s *Server) info(msg string, attrs ...slog.Attr) {
	s.logattrs(slog.LevelInfo, msg, attrs...)
}

func (s *Server) warn(msg string, attrs ...slog.Attr) {
	s.logattrs(slog.LevelWarn, msg, attrs...)
}

func (s *Server) debug(msg string, attrs ...slog.Attr) {
	s.logattrs(slog.LevelDebug, msg, attrs...)
}

func (s *Server) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
