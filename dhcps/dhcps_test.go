package dhcps

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/d2g/dhcp4"
	"github.com/soypat/ethat/netif"
)

var (
	serverAddr = netip.MustParseAddr("192.168.50.1")
	poolStart  = netip.MustParseAddr("192.168.50.100")
	poolEnd    = netip.MustParseAddr("192.168.50.101")
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newServer(t *testing.T) (*Server, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(Config{Now: clk.now})
	if err := s.SetPool(poolStart, poolEnd); err != nil {
		t.Fatal(err)
	}
	eth := netif.NewSim("et", 2, netif.FlagUp|netif.FlagLinkUp)
	err := eth.SetAddresses(netif.Addresses{
		Addr:    serverAddr,
		Netmask: netip.MustParseAddr("255.255.255.0"),
		Gateway: serverAddr,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Init(eth); err != nil {
		t.Fatal(err)
	}
	return s, clk
}

func hwaddr(last byte) net.HardwareAddr {
	return net.HardwareAddr{0x02, 0, 0, 0, 0, last}
}

func request(mt dhcp4.MessageType, hw net.HardwareAddr, ciaddr net.IP, opts ...dhcp4.Option) dhcp4.Packet {
	return dhcp4.RequestPacket(mt, hw, ciaddr, []byte{0xde, 0xad, 0xbe, 0xef}, false, opts)
}

func msgType(t *testing.T, p dhcp4.Packet) dhcp4.MessageType {
	t.Helper()
	if p == nil {
		t.Fatal("no reply")
	}
	mt := p.ParseOptions()[dhcp4.OptionDHCPMessageType]
	if len(mt) != 1 {
		t.Fatalf("reply without message type")
	}
	return dhcp4.MessageType(mt[0])
}

func requestOpt(a netip.Addr) dhcp4.Option {
	return dhcp4.Option{Code: dhcp4.OptionRequestedIPAddress, Value: ip4(a)}
}

func serverOpt(a netip.Addr) dhcp4.Option {
	return dhcp4.Option{Code: dhcp4.OptionServerIdentifier, Value: ip4(a)}
}

func TestRoundTrip(t *testing.T) {
	s, _ := newServer(t)
	hw := hwaddr(1)
	offer := s.Handle(request(dhcp4.Discover, hw, nil))
	if msgType(t, offer) != dhcp4.Offer {
		t.Fatalf("want OFFER")
	}
	offered := addrFrom(offer.YIAddr())
	if offered != poolStart {
		t.Fatalf("want first pool address %s, got %s", poolStart, offered)
	}
	opts := offer.ParseOptions()
	if got := addrFrom(net.IP(opts[dhcp4.OptionServerIdentifier])); got != serverAddr {
		t.Errorf("server id %s", got)
	}
	if got := addrFrom(net.IP(opts[dhcp4.OptionSubnetMask])); got != netip.MustParseAddr("255.255.255.0") {
		t.Errorf("netmask %s", got)
	}
	if got := addrFrom(net.IP(opts[dhcp4.OptionRouter])); got != serverAddr {
		t.Errorf("router %s", got)
	}
	if len(opts[dhcp4.OptionIPAddressLeaseTime]) != 4 {
		t.Error("missing lease time")
	}

	ack := s.Handle(request(dhcp4.Request, hw, nil, requestOpt(offered), serverOpt(serverAddr)))
	if msgType(t, ack) != dhcp4.ACK || addrFrom(ack.YIAddr()) != offered {
		t.Fatalf("want ACK for %s", offered)
	}
	leases := s.Leases()
	if len(leases) != 1 || leases[0].Addr != offered || leases[0].Offered || leases[0].HardwareAddr != hw.String() {
		t.Fatalf("leases %+v", leases)
	}

	// Repeated DISCOVER from a bound client offers the same address.
	again := s.Handle(request(dhcp4.Discover, hw, nil))
	if addrFrom(again.YIAddr()) != offered {
		t.Errorf("rebind offered %s", addrFrom(again.YIAddr()))
	}

	if r := s.Handle(request(dhcp4.Release, hw, ip4(offered))); r != nil {
		t.Error("reply to RELEASE")
	}
	if len(s.Leases()) != 0 {
		t.Errorf("lease survived release: %+v", s.Leases())
	}
}

func TestPoolExhaustion(t *testing.T) {
	s, _ := newServer(t)
	for i := byte(1); i <= 2; i++ {
		hw := hwaddr(i)
		offer := s.Handle(request(dhcp4.Discover, hw, nil))
		addr := addrFrom(offer.YIAddr())
		ack := s.Handle(request(dhcp4.Request, hw, nil, requestOpt(addr)))
		if msgType(t, ack) != dhcp4.ACK {
			t.Fatalf("client %d not acked", i)
		}
	}
	if r := s.Handle(request(dhcp4.Discover, hwaddr(3), nil)); r != nil {
		t.Error("offer from exhausted pool")
	}
	nak := s.Handle(request(dhcp4.Request, hwaddr(3), nil, requestOpt(poolStart)))
	if msgType(t, nak) != dhcp4.NAK {
		t.Error("want NAK for taken address")
	}
	nak = s.Handle(request(dhcp4.Request, hwaddr(3), nil, requestOpt(netip.MustParseAddr("10.0.0.5"))))
	if msgType(t, nak) != dhcp4.NAK {
		t.Error("want NAK for address outside pool")
	}
}

func TestLeaseExpiry(t *testing.T) {
	s, clk := newServer(t)
	s.Handle(request(dhcp4.Request, hwaddr(1), nil, requestOpt(poolStart)))
	s.Handle(request(dhcp4.Request, hwaddr(2), nil, requestOpt(poolEnd)))
	clk.t = clk.t.Add(DefaultLeaseDuration + time.Second)
	if len(s.Leases()) != 0 {
		t.Fatal("expired leases listed")
	}
	offer := s.Handle(request(dhcp4.Discover, hwaddr(3), nil))
	if msgType(t, offer) != dhcp4.Offer || addrFrom(offer.YIAddr()) != poolStart {
		t.Error("expired address not reclaimed")
	}
}

func TestRequestOtherServer(t *testing.T) {
	s, _ := newServer(t)
	hw := hwaddr(1)
	s.Handle(request(dhcp4.Discover, hw, nil))
	r := s.Handle(request(dhcp4.Request, hw, nil, requestOpt(poolStart), serverOpt(netip.MustParseAddr("192.168.50.2"))))
	if r != nil {
		t.Error("replied to REQUEST for another server")
	}
	if len(s.Leases()) != 0 {
		t.Error("offer kept after client chose another server")
	}
}

func TestDecline(t *testing.T) {
	s, _ := newServer(t)
	hw := hwaddr(1)
	s.Handle(request(dhcp4.Request, hw, nil, requestOpt(poolStart)))
	s.Handle(request(dhcp4.Decline, hw, nil))
	offer := s.Handle(request(dhcp4.Discover, hwaddr(2), nil))
	if addrFrom(offer.YIAddr()) != poolEnd {
		t.Errorf("declined address offered again: %s", addrFrom(offer.YIAddr()))
	}
}

func TestInform(t *testing.T) {
	s, _ := newServer(t)
	ack := s.Handle(request(dhcp4.Inform, hwaddr(1), net.IPv4(192, 168, 50, 7).To4()))
	if msgType(t, ack) != dhcp4.ACK {
		t.Fatal("want ACK")
	}
	if _, ok := ack.ParseOptions()[dhcp4.OptionIPAddressLeaseTime]; ok {
		t.Error("INFORM ACK carries a lease time")
	}
	if len(s.Leases()) != 0 {
		t.Error("INFORM created a lease")
	}
}

func TestNotRunning(t *testing.T) {
	s := New(Config{})
	if err := s.Init(netif.NewSim("et", 2, 0)); err != ErrInvalidPool {
		t.Errorf("want ErrInvalidPool, got %v", err)
	}
	if err := s.SetPool(poolEnd, poolStart); err != ErrInvalidPool {
		t.Errorf("want ErrInvalidPool for reversed pool, got %v", err)
	}
	s.SetPool(poolStart, poolEnd)
	if err := s.Init(netif.NewSim("et", 2, 0)); err != ErrNoAddress {
		t.Errorf("want ErrNoAddress, got %v", err)
	}
	if r := s.Handle(request(dhcp4.Discover, hwaddr(1), nil)); r != nil {
		t.Error("uninitialized server replied")
	}
	if err := s.Serve(context.Background(), nil); err != ErrNotRunning {
		t.Errorf("want ErrNotRunning, got %v", err)
	}
}

func TestDeinit(t *testing.T) {
	s, _ := newServer(t)
	s.Handle(request(dhcp4.Request, hwaddr(1), nil, requestOpt(poolStart)))
	s.Deinit()
	if len(s.Leases()) != 0 {
		t.Error("leases kept after Deinit")
	}
	if r := s.Handle(request(dhcp4.Discover, hwaddr(1), nil)); r != nil {
		t.Error("replied after Deinit")
	}
}

func TestServe(t *testing.T) {
	s, _ := newServer(t)
	srv, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	cli, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Close()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx, srv) }()

	req := dhcp4.RequestPacket(dhcp4.Discover, hwaddr(1), nil, []byte{1, 2, 3, 4}, false, nil)
	if _, err := cli.WriteTo(req, srv.LocalAddr()); err != nil {
		t.Fatal(err)
	}
	cli.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1500)
	n, _, err := cli.ReadFrom(buf)
	if err != nil {
		t.Fatal(err)
	}
	if msgType(t, dhcp4.Packet(buf[:n])) != dhcp4.Offer {
		t.Error("want OFFER over UDP")
	}
	cancel()
	select {
	case err := <-errc:
		if err != context.Canceled {
			t.Errorf("want context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}
