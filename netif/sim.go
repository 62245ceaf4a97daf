package netif

import (
	"sync"
)

// Sim is an in-memory [Interface] that records every operation.
type Sim struct {
	mu      sync.Mutex
	name    string
	num     uint8
	flags   Flags
	addrs   Addresses
	dhcp    bool
	linkUps int
	ops     []string
	linkSig Signal
	setErr  error
}

// NewSim returns an interface with the given lwIP name, number and initial flags.
func NewSim(name string, num uint8, flags Flags) *Sim {
	s := &Sim{name: name, num: num, flags: flags}
	if flags.IsLinkUp() {
		s.linkSig.Set()
	}
	return s
}

func (s *Sim) Name() string { return s.name }
func (s *Sim) Num() uint8   { return s.num }

func (s *Sim) Flags() Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

func (s *Sim) SetUp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags |= FlagUp
	s.ops = append(s.ops, "up")
}

func (s *Sim) SetDown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags &^= FlagUp
	s.ops = append(s.ops, "down")
}

// FailNextSetAddresses makes the next SetAddresses call return err.
func (s *Sim) FailNextSetAddresses(err error) {
	s.mu.Lock()
	s.setErr = err
	s.mu.Unlock()
}

func (s *Sim) SetAddresses(a Addresses) error {
	if !a.Addr.Is4() || !a.Netmask.Is4() || !a.Gateway.Is4() {
		return ErrNotIPv4
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setErr; err != nil {
		s.setErr = nil
		s.ops = append(s.ops, "set failed")
		return err
	}
	s.addrs = a
	s.ops = append(s.ops, "set "+a.Addr.String()+"/"+a.Netmask.String()+" gw "+a.Gateway.String())
	return nil
}

func (s *Sim) Addresses() Addresses {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addrs
}

func (s *Sim) ReleaseAddress() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addrs = Addresses{}
	s.ops = append(s.ops, "release")
	return nil
}

func (s *Sim) DHCPActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dhcp
}

func (s *Sim) StartDHCP() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dhcp = true
	s.ops = append(s.ops, "dhcp-start")
	return nil
}

func (s *Sim) StopDHCP() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dhcp = false
	s.addrs = Addresses{}
	s.ops = append(s.ops, "dhcp-stop")
	return nil
}

func (s *Sim) SetLinkUp() {
	s.mu.Lock()
	s.flags |= FlagLinkUp
	s.linkUps++
	s.ops = append(s.ops, "link-up")
	s.mu.Unlock()
	s.linkSig.Set()
}

// LinkUp is set when the link flag first becomes set.
func (s *Sim) LinkUp() *Signal { return &s.linkSig }

// LinkUpCalls returns the amount of SetLinkUp calls.
func (s *Sim) LinkUpCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linkUps
}

// Ops returns the recorded operations in call order.
func (s *Sim) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}
