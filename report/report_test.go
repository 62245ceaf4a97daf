package report

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/jpillora/backoff"
	"github.com/soypat/ethat"
	"github.com/soypat/ethat/dhcps"
	"github.com/soypat/ethat/kv"
	"github.com/soypat/ethat/mac"
	"github.com/soypat/ethat/netif"
)

func newController(t *testing.T, withIface bool) *ethat.Controller {
	t.Helper()
	table := netif.NewTable(nil)
	if withIface {
		err := table.Register(netif.IndexEthernet, netif.NewSim("et", 2, netif.FlagUp|netif.FlagLinkUp))
		if err != nil {
			t.Fatal(err)
		}
	}
	sim := mac.NewSim()
	c, err := ethat.New(ethat.Config{
		MAC:   sim,
		Muxer: sim,
		Stack: table,
		Store: &kv.Mem{},
		Sleep: func(time.Duration) {},
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

type fakeSink struct {
	got []*Snapshot
	err error
}

func (f *fakeSink) Publish(ctx context.Context, snap *Snapshot) error {
	f.got = append(f.got, snap)
	return f.err
}

type fakeLeases []dhcps.Lease

func (f fakeLeases) Leases() []dhcps.Lease { return f }

func TestTick(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	failing := &fakeSink{err: errors.New("sink down")}
	ok := &fakeSink{}
	r, err := New(Config{
		Source: newController(t, true),
		Leases: fakeLeases{{HardwareAddr: "02:00:00:00:00:01"}},
		Sinks:  []Sink{failing, ok},
		Now:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	err = r.Tick(context.Background())
	if err == nil {
		t.Error("sink error not reported")
	}
	if len(ok.got) != 1 || len(failing.got) != 1 {
		t.Fatalf("sinks not all called: %d %d", len(ok.got), len(failing.got))
	}
	snap := ok.got[0]
	if !snap.Time.Equal(now) || snap.Status.Interface == nil || len(snap.Leases) != 1 {
		t.Errorf("snapshot %+v", snap)
	}
	if _, err := New(Config{}); err != errNoSource {
		t.Errorf("want errNoSource, got %v", err)
	}
}

func TestCollectLeavesPHYAlone(t *testing.T) {
	table := netif.NewTable(nil)
	table.Register(netif.IndexEthernet, netif.NewSim("et", 2, netif.FlagUp|netif.FlagLinkUp))
	sim := mac.NewSim()
	c, err := ethat.New(ethat.Config{MAC: sim, Muxer: sim, Stack: table, Store: &kv.Mem{}, Sleep: func(time.Duration) {}})
	if err != nil {
		t.Fatal(err)
	}
	r, _ := New(Config{Source: c})
	for i := 0; i < 3; i++ {
		snap, err := r.Collect()
		if err != nil {
			t.Fatal(err)
		}
		if snap.Status.Interface == nil || len(snap.Status.PHYScan.Results) != 0 {
			t.Fatalf("snapshot %+v", snap.Status)
		}
	}
	if sim.MDIOReads() != 0 {
		t.Errorf("%d MDIO reads from periodic collection", sim.MDIOReads())
	}
	if !sim.AutoPolling() {
		t.Error("autopolling disabled")
	}
}

// broker is a minimal MQTT server accepting one session.
type broker struct {
	conn     net.Conn
	connects int
	publish  chan [2][]byte
}

func (b *broker) readPacket() (byte, []byte, error) {
	var hdr [1]byte
	if _, err := io.ReadFull(b.conn, hdr[:]); err != nil {
		return 0, nil, err
	}
	var length, shift int
	for {
		var c [1]byte
		if _, err := io.ReadFull(b.conn, c[:]); err != nil {
			return 0, nil, err
		}
		length |= int(c[0]&0x7f) << shift
		if c[0]&0x80 == 0 {
			break
		}
		shift += 7
	}
	body := make([]byte, length)
	_, err := io.ReadFull(b.conn, body)
	return hdr[0], body, err
}

func (b *broker) serve() {
	for {
		typ, body, err := b.readPacket()
		if err != nil {
			return
		}
		switch typ >> 4 {
		case 1:
			b.connects++
			b.conn.Write([]byte{0x20, 0x02, 0x00, 0x00})
		case 3:
			n := binary.BigEndian.Uint16(body)
			b.publish <- [2][]byte{body[2 : 2+n], body[2+n:]}
		}
	}
}

func TestMQTTPublish(t *testing.T) {
	b := &broker{publish: make(chan [2][]byte, 1)}
	m, err := NewMQTT(MQTTConfig{
		Broker:      "broker:1883",
		TopicPrefix: "lab/eth",
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			client, server := net.Pipe()
			b.conn = server
			go b.serve()
			return client, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	r, _ := New(Config{Source: newController(t, true), Sinks: []Sink{m}})
	if err := r.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !m.Connected() {
		t.Fatal("not connected after publish")
	}
	select {
	case msg := <-b.publish:
		if string(msg[0]) != "lab/eth/status" {
			t.Errorf("topic %q", msg[0])
		}
		var snap Snapshot
		if err := json.Unmarshal(msg[1], &snap); err != nil {
			t.Fatal(err)
		}
		if snap.Status.Interface == nil || snap.Status.Interface.Name != "et" {
			t.Errorf("payload status %+v", snap.Status.Interface)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no PUBLISH received")
	}
}

func TestMQTTBackoff(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	dials := 0
	m, err := NewMQTT(MQTTConfig{
		Broker: "broker:1883",
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dials++
			return nil, errors.New("connection refused")
		},
		Backoff: &backoff.Backoff{Min: time.Second, Max: time.Minute, Factor: 2},
		Now:     func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	snap := &Snapshot{}
	if err := m.Publish(context.Background(), snap); err == nil || err == ErrBackoff {
		t.Fatalf("want dial error, got %v", err)
	}
	if err := m.Publish(context.Background(), snap); err != ErrBackoff {
		t.Fatalf("want ErrBackoff, got %v", err)
	}
	if dials != 1 {
		t.Errorf("redialled during backoff: %d dials", dials)
	}
	now = now.Add(1100 * time.Millisecond)
	m.Publish(context.Background(), snap)
	if dials != 2 {
		t.Errorf("did not redial after backoff: %d dials", dials)
	}
	if _, err := NewMQTT(MQTTConfig{}); err != errNoBroker {
		t.Errorf("want errNoBroker, got %v", err)
	}
}

type fakeWriter struct{ points []*write.Point }

func (f *fakeWriter) WritePoint(ctx context.Context, point ...*write.Point) error {
	f.points = append(f.points, point...)
	return nil
}

func TestInflux(t *testing.T) {
	r, _ := New(Config{Source: newController(t, true)})
	snap, err := r.Collect()
	if err != nil {
		t.Fatal(err)
	}
	w := &fakeWriter{}
	if err := NewInfluxWriter(w).Publish(context.Background(), snap); err != nil {
		t.Fatal(err)
	}
	if len(w.points) != 2 || w.points[0].Name() != "ethernet" || w.points[1].Name() != "dhcp" {
		t.Fatalf("points %v", w.points)
	}
	var linkUp interface{}
	for _, f := range w.points[0].FieldList() {
		if f.Key == "link_up" {
			linkUp = f.Value
		}
	}
	if linkUp != true {
		t.Errorf("link_up field %v", linkUp)
	}

	r, _ = New(Config{Source: newController(t, false)})
	snap, _ = r.Collect()
	w = &fakeWriter{}
	NewInfluxWriter(w).Publish(context.Background(), snap)
	if len(w.points) != 0 {
		t.Error("points written without interface")
	}
}
