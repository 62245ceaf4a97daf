// Package router brings the Ethernet LAN interface of a NAT router to an
// addressed and DHCP-served state at boot.
//
// The [Supervisor] is a one-shot state machine. It waits for the network
// stack and the Ethernet interface with bounded timeouts, compensates for a
// link-up notification lost before boot, assigns the static LAN address,
// pins the default route to the WAN interface and starts the DHCP server.
// No step is fatal: failed waits degrade to continuing without the awaited
// component.
package router

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/soypat/ethat"
	"github.com/soypat/ethat/netif"
)

// Defaults of the LAN segment.
var (
	DefaultLANAddr   = netip.AddrFrom4([4]byte{192, 168, 50, 1})
	DefaultNetmask   = netip.AddrFrom4([4]byte{255, 255, 255, 0})
	DefaultPoolStart = netip.AddrFrom4([4]byte{192, 168, 50, 100})
	DefaultPoolEnd   = netip.AddrFrom4([4]byte{192, 168, 50, 150})
)

const (
	DefaultStackTimeout     = 15 * time.Second
	DefaultInterfaceTimeout = 5 * time.Second
	DefaultSettleDelay      = 200 * time.Millisecond
)

var (
	ErrAlreadyStarted = errors.New("router: supervisor already started")
	errNoStack        = errors.New("router: network stack and addresser are required")
)

// Addresser assigns static addresses to the LAN interface. Implemented by [ethat.Controller].
type Addresser interface {
	ApplyStatic(cfg ethat.IPConfig) error
	StoredIPConfig() (cfg ethat.IPConfig, ok bool, err error)
}

// DHCPServer serves addresses on the LAN.
type DHCPServer interface {
	SetPool(start, end netip.Addr) error
	Deinit()
	Init(iface netif.Interface) error
}

// LinkIndicator shows the LAN link state, e.g. on an LED.
type LinkIndicator interface {
	SetLink(up bool) error
}

// State is a step of the bring-up sequence.
type State uint8

const (
	StateWaitStackInit State = iota
	StateWaitInterface
	StateLinkUpCompensation
	StateAddressConfiguration
	StateDHCPServerStart
	StateTerminate
	StateDone
)

var stateNames = [...]string{
	StateWaitStackInit:        "WaitStackInit",
	StateWaitInterface:        "WaitInterfaceObject",
	StateLinkUpCompensation:   "LinkUpCompensation",
	StateAddressConfiguration: "AddressConfiguration",
	StateDHCPServerStart:      "DhcpServerStart",
	StateTerminate:            "Terminate",
	StateDone:                 "Done",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Config configures a [Supervisor]. Zero durations and addresses take the package defaults.
type Config struct {
	Stack     netif.Stack
	Addresser Addresser
	// DHCP may be nil, in which case no DHCP server is started.
	DHCP      DHCPServer
	Indicator LinkIndicator
	// LAN is the Ethernet interface slot. Nil selects [netif.IndexEthernet].
	LAN *netif.Index
	// WAN receives the default route. The zero value is [netif.IndexSTA].
	WAN netif.Index
	// Address is the LAN configuration. The gateway defaults to the address itself.
	Address   ethat.IPConfig
	PoolStart netip.Addr
	PoolEnd   netip.Addr
	// UseStored lets a complete persisted configuration override Address.
	UseStored bool
	// NAT is reported in the completion log.
	NAT              bool
	StackTimeout     time.Duration
	InterfaceTimeout time.Duration
	SettleDelay      time.Duration
	Sleep            func(time.Duration)
	Logger           *slog.Logger
}

// Result summarises a completed bring-up.
type Result struct {
	StackReady       bool
	InterfacePresent bool
	LinkForced       bool
	Address          ethat.IPConfig
	AddressApplied   bool
	DHCPStarted      bool
	// Errs holds the non-fatal step failures in order of occurrence.
	Errs []error
}

// Supervisor runs the LAN bring-up sequence once.
type Supervisor struct {
	cfg     Config
	lan     netif.Index
	mu      sync.Mutex
	started bool
	state   State
	done    chan struct{}
	result  Result
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Stack == nil || cfg.Addresser == nil {
		return nil, errNoStack
	}
	if !cfg.Address.Addr.IsValid() {
		cfg.Address.Addr = DefaultLANAddr
	}
	if !cfg.Address.Netmask.IsValid() {
		cfg.Address.Netmask = DefaultNetmask
	}
	if !cfg.Address.Gateway.IsValid() {
		cfg.Address.Gateway = cfg.Address.Addr
	}
	if !cfg.PoolStart.IsValid() {
		cfg.PoolStart = DefaultPoolStart
	}
	if !cfg.PoolEnd.IsValid() {
		cfg.PoolEnd = DefaultPoolEnd
	}
	if cfg.StackTimeout <= 0 {
		cfg.StackTimeout = DefaultStackTimeout
	}
	if cfg.InterfaceTimeout <= 0 {
		cfg.InterfaceTimeout = DefaultInterfaceTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	s := &Supervisor{cfg: cfg, lan: netif.IndexEthernet, done: make(chan struct{})}
	if cfg.LAN != nil {
		s.lan = *cfg.LAN
	}
	return s, nil
}

// Start runs the sequence on a new goroutine. The context is only used for logging;
// the sequence runs to completion once started.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.claim(); err != nil {
		return err
	}
	go s.run(ctx)
	return nil
}

// Run executes the sequence on the calling goroutine and returns its result.
func (s *Supervisor) Run(ctx context.Context) (Result, error) {
	if err := s.claim(); err != nil {
		return Result{}, err
	}
	s.run(ctx)
	return s.result, nil
}

func (s *Supervisor) claim() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	return nil
}

// Done is closed when the sequence has terminated.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Result returns the outcome. It is only complete after Done is closed.
func (s *Supervisor) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.result
	r.Errs = append([]error(nil), s.result.Errs...)
	return r
}

// State returns the current step.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(ctx context.Context, st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.trace(ctx, "router:state", slog.String("state", st.String()))
}

func (s *Supervisor) fail(ctx context.Context, step string, err error) {
	s.mu.Lock()
	s.result.Errs = append(s.result.Errs, err)
	s.mu.Unlock()
	s.logerr(ctx, "router:"+step, slog.String("err", err.Error()))
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	cfg := &s.cfg
	var res Result

	s.setState(ctx, StateWaitStackInit)
	res.StackReady = cfg.Stack.Ready().Wait(cfg.StackTimeout)
	if !res.StackReady {
		s.warn(ctx, "router:stack not ready, continuing", slog.Duration("waited", cfg.StackTimeout))
	}

	s.setState(ctx, StateWaitInterface)
	var iface netif.Interface
	if cfg.Stack.Registered(s.lan).Wait(cfg.InterfaceTimeout) {
		iface = cfg.Stack.Interface(s.lan)
	}
	res.InterfacePresent = iface != nil
	if iface == nil {
		s.warn(ctx, "router:ethernet interface absent, continuing", slog.Duration("waited", cfg.InterfaceTimeout))
	}

	s.setState(ctx, StateLinkUpCompensation)
	if iface != nil && !iface.Flags().IsLinkUp() {
		s.info(ctx, "router:link-up notification missed, forcing")
		iface.SetLinkUp()
		res.LinkForced = true
		cfg.Sleep(cfg.SettleDelay)
	}

	s.setState(ctx, StateAddressConfiguration)
	res.Address = cfg.Address
	if cfg.UseStored {
		stored, ok, err := cfg.Addresser.StoredIPConfig()
		if err != nil {
			s.fail(ctx, "stored-config", err)
		} else if ok {
			res.Address = stored
		}
	}
	if iface != nil {
		err := cfg.Addresser.ApplyStatic(res.Address)
		if err != nil {
			s.fail(ctx, "apply-static", err)
		} else {
			res.AddressApplied = true
		}
	}
	err := cfg.Stack.SetDefault(cfg.WAN)
	if err != nil {
		s.fail(ctx, "set-default", err)
	}

	s.setState(ctx, StateDHCPServerStart)
	if iface != nil && cfg.DHCP != nil {
		res.DHCPStarted = s.startDHCP(ctx, iface)
	}

	s.setState(ctx, StateTerminate)
	if cfg.Indicator != nil {
		linkUp := iface != nil && iface.Flags().IsLinkUp()
		if err := cfg.Indicator.SetLink(linkUp); err != nil {
			s.fail(ctx, "indicator", err)
		}
	}
	if res.AddressApplied {
		s.info(ctx, "LAN ready: ethernet "+res.Address.Addr.String()+"/"+strconv.Itoa(prefixLen(res.Address.Netmask))+
			", DHCP pool "+cfg.PoolStart.String()+"-"+cfg.PoolEnd.String())
		if cfg.NAT {
			s.info(ctx, "router:NAT enabled, connect the WAN interface to route LAN traffic")
		} else {
			s.warn(ctx, "router:NAT not enabled, LAN clients will not reach the WAN")
		}
	}

	s.mu.Lock()
	res.Errs = s.result.Errs
	s.result = res
	s.state = StateDone
	s.mu.Unlock()
}

func (s *Supervisor) startDHCP(ctx context.Context, iface netif.Interface) bool {
	dhcp := s.cfg.DHCP
	err := dhcp.SetPool(s.cfg.PoolStart, s.cfg.PoolEnd)
	if err != nil {
		s.fail(ctx, "dhcps-pool", err)
		return false
	}
	dhcp.Deinit()
	err = dhcp.Init(iface)
	if err != nil {
		s.fail(ctx, "dhcps-init", err)
		return false
	}
	return true
}

func prefixLen(mask netip.Addr) int {
	n := 0
	for v := ethat.AddrUint32(mask); v&(1<<31) != 0; v <<= 1 {
		n++
	}
	return n
}

func (s *Supervisor) logerr(ctx context.Context, msg string, attrs ...slog.Attr) {
	s.logattrs(ctx, slog.LevelError, msg, attrs...)
}

func (s *Supervisor) warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	s.logattrs(ctx, slog.LevelWarn, msg, attrs...)
}

func (s *Supervisor) info(ctx context.Context, msg string, attrs ...slog.Attr) {
	s.logattrs(ctx, slog.LevelInfo, msg, attrs...)
}

func (s *Supervisor) trace(ctx context.Context, msg string, attrs ...slog.Attr) {
	s.logattrs(ctx, slog.LevelDebug-1, msg, attrs...)
}

func (s *Supervisor) logattrs(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.LogAttrs(ctx, level, msg, attrs...)
	}
}
