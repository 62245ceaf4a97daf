package report

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/jpillora/backoff"
	mqtt "github.com/soypat/natiu-mqtt"
)

const defaultMQTTTimeout = 5 * time.Second

var (
	// ErrBackoff is returned by Publish while waiting to redial the broker.
	ErrBackoff   = errors.New("report: mqtt reconnect pending")
	errNoBroker  = errors.New("report: mqtt broker address required")
	pubFlags, _  = mqtt.NewPublishFlags(mqtt.QoS0, false, false)
	errMQTTClose = errors.New("report: closing")
)

type MQTTConfig struct {
	// Broker is the host:port of the MQTT server.
	Broker      string
	ClientID    string
	TopicPrefix string
	// Timeout bounds connection setup and each publish.
	Timeout time.Duration
	// Dial defaults to a net.Dialer.
	Dial    func(ctx context.Context, network, addr string) (net.Conn, error)
	Backoff *backoff.Backoff
	Now     func() time.Time
	Logger  *slog.Logger
}

// MQTT publishes snapshots as JSON on <prefix>/status with QoS 0. The broker
// connection is opened on first use and redialled with exponential backoff
// after failures.
type MQTT struct {
	cfg      MQTTConfig
	client   *mqtt.Client
	conn     net.Conn
	varconn  mqtt.VariablesConnect
	pubVar   mqtt.VariablesPublish
	nextDial time.Time
	buf      []byte
}

func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, errNoBroker
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "ethat"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "ethat"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultMQTTTimeout
	}
	if cfg.Dial == nil {
		var d net.Dialer
		cfg.Dial = d.DialContext
	}
	if cfg.Backoff == nil {
		cfg.Backoff = &backoff.Backoff{Min: time.Second, Max: 5 * time.Minute, Factor: 2, Jitter: true}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	m := &MQTT{cfg: cfg, buf: make([]byte, 1024)}
	m.varconn.SetDefaultMQTT([]byte(cfg.ClientID))
	m.pubVar.TopicName = []byte(cfg.TopicPrefix + "/status")
	return m, nil
}

// Topic returns the status topic name.
func (m *MQTT) Topic() string { return string(m.pubVar.TopicName) }

// Connected reports whether a broker session is open.
func (m *MQTT) Connected() bool {
	return m.conn != nil && m.client.IsConnected()
}

func (m *MQTT) Publish(ctx context.Context, snap *Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if !m.Connected() {
		err = m.connect(ctx)
		if err != nil {
			return err
		}
	}
	m.conn.SetWriteDeadline(m.cfg.Now().Add(m.cfg.Timeout))
	m.pubVar.PacketIdentifier++
	err = m.client.PublishPayload(pubFlags, m.pubVar, payload)
	if err != nil {
		m.drop(err)
		return err
	}
	m.debug("mqtt:published", slog.String("topic", m.Topic()), slog.Int("len", len(payload)))
	return nil
}

func (m *MQTT) connect(ctx context.Context) error {
	now := m.cfg.Now()
	if now.Before(m.nextDial) {
		return ErrBackoff
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	conn, err := m.cfg.Dial(ctx, "tcp", m.cfg.Broker)
	if err != nil {
		m.retryLater(err)
		return err
	}
	client := mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: m.buf},
	})
	err = client.Connect(ctx, conn, &m.varconn)
	if err != nil {
		conn.Close()
		m.retryLater(err)
		return err
	}
	m.cfg.Backoff.Reset()
	m.client, m.conn = client, conn
	m.info("mqtt:connected", slog.String("broker", m.cfg.Broker))
	return nil
}

func (m *MQTT) retryLater(err error) {
	wait := m.cfg.Backoff.Duration()
	m.nextDial = m.cfg.Now().Add(wait)
	m.warn("mqtt:connect-failed", slog.String("err", err.Error()), slog.Duration("retry", wait))
}

func (m *MQTT) drop(err error) {
	m.warn("mqtt:disconnected", slog.String("err", err.Error()))
	m.conn.Close()
	m.conn = nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	if m.conn == nil {
		return nil
	}
	if m.client.IsConnected() {
		m.client.Disconnect(errMQTTClose)
	}
	err := m.conn.Close()
	m.conn = nil
	return err
}

func (m *MQTT) info(msg string, attrs ...slog.Attr) {
	m.logattrs(slog.LevelInfo, msg, attrs...)
}

func (m *MQTT) warn(msg string, attrs ...slog.Attr) {
	m.logattrs(slog.LevelWarn, msg, attrs...)
}

func (m *MQTT) debug(msg string, attrs ...slog.Attr) {
	m.logattrs(slog.LevelDebug, msg, attrs...)
}

func (m *MQTT) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if m.cfg.Logger != nil {
		m.cfg.Logger.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
