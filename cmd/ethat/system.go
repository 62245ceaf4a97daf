package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/soypat/ethat"
	"github.com/soypat/ethat/atcmd"
	"github.com/soypat/ethat/board"
	"github.com/soypat/ethat/config"
	"github.com/soypat/ethat/dhcps"
	"github.com/soypat/ethat/httpdiag"
	"github.com/soypat/ethat/kv"
	"github.com/soypat/ethat/mac"
	"github.com/soypat/ethat/netif"
	"github.com/soypat/ethat/netif/lnetif"
	"github.com/soypat/ethat/pinmux"
	"github.com/soypat/ethat/report"
	"github.com/soypat/ethat/router"
)

// Simulated PHY identifiers (LAN8720A) and MDIO address.
const (
	simPHYAddr = 1
	simPHYID1  = 0x0007
	simPHYID2  = 0xc0f1
)

// system holds every wired component of the host console.
type system struct {
	logger  *slog.Logger
	mac     *mac.Sim
	table   *netif.Table
	eth     *lnetif.Interface
	ctl     *ethat.Controller
	reg     *atcmd.Registry
	dhcp    *dhcps.Server
	sup     *router.Supervisor
	http    *httpdiag.Server
	reports *report.Reporter
	closers []func() error
}

func setup(cfg *config.Config, logger *slog.Logger) (_ *system, err error) {
	sys := &system{logger: logger, mac: mac.NewSim(), table: netif.NewTable(logger)}
	defer func() {
		if err != nil {
			sys.close()
		}
	}()
	group := pinmux.Group(cfg.Board.PinGroup)
	sys.mac.AttachPHY(simPHYAddr, pinmux.DefaultTable.Pin(group, pinmux.SigMDC),
		pinmux.DefaultTable.Pin(group, pinmux.SigMDIO), simPHYID1, simPHYID2)

	store, err := openStore(cfg.Store, sys)
	if err != nil {
		return nil, err
	}
	gpio, err := openGPIO(cfg, sys)
	if err != nil {
		return nil, err
	}

	seed := uint32(time.Now().UnixNano()) | 1
	sys.eth, err = lnetif.New(lnetif.Config{
		Num:          uint8(netif.IndexEthernet),
		Hostname:     "ethat",
		HardwareAddr: [6]byte{0x02, 0x00, byte(seed >> 24), byte(seed >> 16), byte(seed >> 8), byte(seed)},
		RandSeed:     seed,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	sys.ctl, err = ethat.New(ethat.Config{
		MAC:        sys.mac,
		Muxer:      sys.mac,
		Group:      group,
		GPIO:       gpio,
		ResetPin:   cfg.ResetPin(),
		Stack:      sys.table,
		Store:      store,
		BuildFlags: cfg.Board.BuildFlags,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	sys.reg = atcmd.NewRegistry(logger)
	err = ethat.RegisterCommands(sys.reg, sys.ctl)
	if err != nil {
		return nil, err
	}

	lan, err := cfg.LANAddrs()
	if err != nil {
		return nil, err
	}
	sys.dhcp = dhcps.New(dhcps.Config{LeaseDuration: cfg.DHCP.LeaseDuration, Logger: logger})
	var indicator router.LinkIndicator
	if cfg.Board.LEDPin != "" {
		led, _ := pinmux.ParsePin(cfg.Board.LEDPin)
		indicator = &board.GPIOIndicator{GPIO: gpio, Pin: led}
	}
	sys.sup, err = router.New(router.Config{
		Stack:            sys.table,
		Addresser:        sys.ctl,
		DHCP:             sys.dhcp,
		Indicator:        indicator,
		Address:          ethat.IPConfig{Addr: lan.Addr, Netmask: lan.Netmask},
		PoolStart:        lan.PoolStart,
		PoolEnd:          lan.PoolEnd,
		UseStored:        cfg.LAN.UseStored,
		NAT:              cfg.LAN.NAT,
		StackTimeout:     cfg.Supervisor.StackTimeout,
		InterfaceTimeout: cfg.Supervisor.InterfaceTimeout,
		SettleDelay:      cfg.Supervisor.SettleDelay,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	sys.http = httpdiag.New(httpdiag.Config{Status: sys.ctl, Leases: sys.dhcp, Registry: sys.reg, Logger: logger})
	sinks, err := openSinks(cfg, sys)
	if err != nil {
		return nil, err
	}
	if len(sinks) > 0 {
		sys.reports, err = report.New(report.Config{
			Source:   sys.ctl,
			Leases:   sys.dhcp,
			Sinks:    sinks,
			Interval: cfg.MQTT.Interval,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
	}
	return sys, nil
}

func openStore(cfg config.StoreConfig, sys *system) (kv.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		db, err := kv.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		sys.closers = append(sys.closers, db.Close)
		return db, nil
	case "redis":
		return kv.DialRedis(cfg.RedisAddr, cfg.Prefix), nil
	}
	return &kv.Mem{}, nil
}

func openGPIO(cfg *config.Config, sys *system) (pinmux.GPIO, error) {
	if cfg.Board.GPIO != "rpio" {
		return sys.mac, nil
	}
	bcm := map[pinmux.Pin]uint8{cfg.ResetPin(): uint8(cfg.Board.ResetBCM)}
	if cfg.Board.LEDPin != "" {
		led, _ := pinmux.ParsePin(cfg.Board.LEDPin)
		bcm[led] = uint8(cfg.Board.LEDBCM)
	}
	g, err := board.OpenRPi(bcm)
	if err != nil {
		return nil, err
	}
	sys.closers = append(sys.closers, g.Close)
	return g, nil
}

func openSinks(cfg *config.Config, sys *system) ([]report.Sink, error) {
	var sinks []report.Sink
	if cfg.MQTT.Broker != "" {
		m, err := report.NewMQTT(report.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Logger:      sys.logger,
		})
		if err != nil {
			return nil, err
		}
		sys.closers = append(sys.closers, m.Close)
		sinks = append(sinks, m)
	}
	if cfg.InfluxDB.URL != "" {
		in := report.NewInflux(cfg.InfluxDB.URL, cfg.InfluxDB.Token, cfg.InfluxDB.Org, cfg.InfluxDB.Bucket)
		sys.closers = append(sys.closers, func() error { in.Close(); return nil })
		sinks = append(sinks, in)
	}
	return sinks, nil
}

// start registers the interfaces, launches the bring-up supervisor and the
// background servers. DHCP is served once the bring-up has finished.
func (sys *system) start(ctx context.Context, cfg *config.Config) error {
	err := sys.table.Register(netif.IndexEthernet, sys.eth)
	if err != nil {
		return err
	}
	sys.table.MarkReady()
	err = sys.sup.Start(ctx)
	if err != nil {
		return err
	}
	if cfg.DHCP.Listen != "" {
		conn, err := net.ListenPacket("udp4", cfg.DHCP.Listen)
		if err != nil {
			return err
		}
		go func() {
			<-sys.sup.Done()
			err := sys.dhcp.Serve(ctx, conn)
			sys.background("dhcps", err)
		}()
	}
	if cfg.HTTP.Listen != "" {
		go func() {
			sys.background("httpdiag", sys.http.ListenAndServe(ctx, cfg.HTTP.Listen))
		}()
	}
	if sys.reports != nil {
		go func() {
			<-sys.sup.Done()
			sys.background("report", sys.reports.Run(ctx))
		}()
	}
	return nil
}

func (sys *system) background(name string, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		sys.logger.Error(name+":stopped", slog.String("err", err.Error()))
	}
}

func (sys *system) console(in atcmd.Prompter, out io.Writer) *atcmd.Console {
	return &atcmd.Console{
		Registry: sys.reg,
		Input:    in,
		Output:   out,
		Prompt:   "# ",
		Logger:   sys.logger,
	}
}

func (sys *system) close() {
	for i := len(sys.closers) - 1; i >= 0; i-- {
		sys.closers[i]()
	}
	sys.closers = nil
}
