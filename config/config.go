// Package config loads the host configuration of the ethat console from
// YAML, applying defaults and ETHAT_* environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/soypat/ethat/pinmux"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Board      BoardConfig      `yaml:"board"`
	Store      StoreConfig      `yaml:"store"`
	LAN        LANConfig        `yaml:"lan"`
	DHCP       DHCPConfig       `yaml:"dhcp"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	HTTP       HTTPConfig       `yaml:"http"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// BoardConfig selects the hardware backend.
type BoardConfig struct {
	PinGroup   int      `yaml:"pin_group"`
	ResetPin   string   `yaml:"reset_pin"`
	BuildFlags []string `yaml:"build_flags"`
	// GPIO is "sim" or "rpio".
	GPIO string `yaml:"gpio"`
	// ResetBCM is the Raspberry Pi BCM line wired to the PHY reset when GPIO is "rpio".
	ResetBCM int `yaml:"reset_bcm"`
	// LEDPin is an optional pad driving a link LED.
	LEDPin string `yaml:"led_pin"`
	LEDBCM int    `yaml:"led_bcm"`
}

// StoreConfig selects the persisted configuration backend.
type StoreConfig struct {
	// Backend is "mem", "sqlite" or "redis".
	Backend   string `yaml:"backend"`
	Path      string `yaml:"path"`
	RedisAddr string `yaml:"redis_addr"`
	Prefix    string `yaml:"prefix"`
}

// LANConfig is the static LAN segment served by the router.
type LANConfig struct {
	Address   string `yaml:"address"`
	Netmask   string `yaml:"netmask"`
	PoolStart string `yaml:"pool_start"`
	PoolEnd   string `yaml:"pool_end"`
	UseStored bool   `yaml:"use_stored"`
	NAT       bool   `yaml:"nat"`
}

type DHCPConfig struct {
	// Listen is the UDP address of the DHCP server. Empty disables serving.
	Listen        string        `yaml:"listen"`
	LeaseDuration time.Duration `yaml:"lease_duration"`
}

type SupervisorConfig struct {
	StackTimeout     time.Duration `yaml:"stack_timeout"`
	InterfaceTimeout time.Duration `yaml:"interface_timeout"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

type MQTTConfig struct {
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	TopicPrefix string        `yaml:"topic_prefix"`
	Interval    time.Duration `yaml:"interval"`
}

type InfluxDBConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type LoggingConfig struct {
	// Level is "trace", "debug", "info", "warn" or "error".
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// LevelTrace is one below debug, enabling per-register logging.
const LevelTrace = slog.LevelDebug - 1

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Board: BoardConfig{
			ResetPin: "PB3",
			GPIO:     "sim",
		},
		Store: StoreConfig{
			Backend:   "mem",
			Path:      "./ethat.db",
			RedisAddr: "localhost:6379",
			Prefix:    "ethat:",
		},
		LAN: LANConfig{
			Address:   "192.168.50.1",
			Netmask:   "255.255.255.0",
			PoolStart: "192.168.50.100",
			PoolEnd:   "192.168.50.150",
		},
		DHCP: DHCPConfig{LeaseDuration: 2 * time.Hour},
		Supervisor: SupervisorConfig{
			StackTimeout:     15 * time.Second,
			InterfaceTimeout: 5 * time.Second,
			SettleDelay:      200 * time.Millisecond,
		},
		MQTT: MQTTConfig{
			ClientID:    "ethat",
			TopicPrefix: "ethat",
			Interval:    30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ETHAT_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("ETHAT_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("ETHAT_REDIS_ADDR"); v != "" {
		cfg.Store.RedisAddr = v
	}
	if v := os.Getenv("ETHAT_PIN_GROUP"); v != "" {
		if g, err := strconv.Atoi(v); err == nil {
			cfg.Board.PinGroup = g
		}
	}
	if v := os.Getenv("ETHAT_LAN_ADDRESS"); v != "" {
		cfg.LAN.Address = v
	}
	if v := os.Getenv("ETHAT_HTTP_LISTEN"); v != "" {
		cfg.HTTP.Listen = v
	}
	if v := os.Getenv("ETHAT_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("ETHAT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("ETHAT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string
	if c.Board.PinGroup < 0 || c.Board.PinGroup >= pinmux.NumGroups {
		errs = append(errs, "board.pin_group must be 0..3")
	}
	if _, err := pinmux.ParsePin(c.Board.ResetPin); err != nil {
		errs = append(errs, "board.reset_pin must name a pad such as PB3")
	}
	if c.Board.LEDPin != "" {
		if _, err := pinmux.ParsePin(c.Board.LEDPin); err != nil {
			errs = append(errs, "board.led_pin must name a pad such as PB5")
		}
	}
	if c.Board.ResetBCM < 0 || c.Board.ResetBCM > 53 || c.Board.LEDBCM < 0 || c.Board.LEDBCM > 53 {
		errs = append(errs, "board BCM lines must be 0..53")
	}
	switch c.Board.GPIO {
	case "sim", "rpio":
	default:
		errs = append(errs, "board.gpio must be sim or rpio")
	}
	switch c.Store.Backend {
	case "mem":
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for sqlite")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, "store.redis_addr is required for redis")
		}
	default:
		errs = append(errs, "store.backend must be mem, sqlite or redis")
	}
	for _, f := range []struct{ name, value string }{
		{"lan.address", c.LAN.Address},
		{"lan.netmask", c.LAN.Netmask},
		{"lan.pool_start", c.LAN.PoolStart},
		{"lan.pool_end", c.LAN.PoolEnd},
	} {
		if a, err := netip.ParseAddr(f.value); err != nil || !a.Is4() {
			errs = append(errs, f.name+" must be an IPv4 address")
		}
	}
	if lan, err := c.LANAddrs(); err == nil && lan.PoolEnd.Less(lan.PoolStart) {
		errs = append(errs, "lan.pool_end must not precede lan.pool_start")
	}
	if c.DHCP.LeaseDuration <= 0 {
		errs = append(errs, "dhcp.lease_duration must be positive")
	}
	if c.MQTT.Broker != "" && c.MQTT.Interval <= 0 {
		errs = append(errs, "mqtt.interval must be positive")
	}
	if c.InfluxDB.URL != "" && (c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.org and influxdb.bucket are required with influxdb.url")
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err.Error())
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, "logging.format must be text or json")
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LANAddrs are the parsed LAN addresses.
type LANAddrs struct {
	Addr, Netmask, PoolStart, PoolEnd netip.Addr
}

func (c *Config) LANAddrs() (LANAddrs, error) {
	var a LANAddrs
	var err error
	parse := func(s string) netip.Addr {
		addr, perr := netip.ParseAddr(s)
		if perr != nil && err == nil {
			err = perr
		}
		return addr
	}
	a.Addr = parse(c.LAN.Address)
	a.Netmask = parse(c.LAN.Netmask)
	a.PoolStart = parse(c.LAN.PoolStart)
	a.PoolEnd = parse(c.LAN.PoolEnd)
	return a, err
}

// ResetPin is the parsed board.reset_pin.
func (c *Config) ResetPin() pinmux.Pin {
	p, _ := pinmux.ParsePin(c.Board.ResetPin)
	return p
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("logging.level %q unknown", s)
}
