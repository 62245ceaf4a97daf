package report

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"
)

// PointWriter writes points synchronously. Satisfied by api.WriteAPIBlocking.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Influx writes snapshots as the "ethernet" and "dhcp" measurements.
type Influx struct {
	w      PointWriter
	client influxdb2.Client
}

// NewInflux connects a blocking writer to bucket on the InfluxDB v2 server at url.
func NewInflux(url, token, org, bucket string) *Influx {
	client := influxdb2.NewClient(url, token)
	return &Influx{w: client.WriteAPIBlocking(org, bucket), client: client}
}

// NewInfluxWriter writes through w.
func NewInfluxWriter(w PointWriter) *Influx {
	return &Influx{w: w}
}

func (s *Influx) Publish(ctx context.Context, snap *Snapshot) error {
	points := Points(snap)
	if len(points) == 0 {
		return nil
	}
	err := s.w.WritePoint(ctx, points...)
	if err != nil {
		return errors.Wrap(err, "influx: write status")
	}
	return nil
}

func (s *Influx) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// Points converts a snapshot to line protocol points. A snapshot without an
// interface yields no points.
func Points(snap *Snapshot) []*write.Point {
	st := &snap.Status
	if st.Interface == nil {
		return nil
	}
	tags := map[string]string{"netif": st.Interface.Name}
	eth := write.NewPoint("ethernet", tags, map[string]interface{}{
		"up":        st.Interface.Up,
		"link_up":   st.Interface.LinkUp,
		"msr_link":  st.MSR.LinkOK,
		"speed":     st.MSR.Speed.String(),
		"tx_ok":     int64(st.Counters.TxOK),
		"rx_ok":     int64(st.Counters.RxOK),
		"tx_err":    int64(st.Counters.TxErr),
		"rx_err":    int64(st.Counters.RxErr),
		"miss_pkt":  int64(st.Counters.MissPkt),
		"pin_group": int64(st.PinGroup),
	}, snap.Time)
	dhcp := write.NewPoint("dhcp", tags, map[string]interface{}{
		"leases": len(snap.Leases),
	}, snap.Time)
	return []*write.Point{eth, dhcp}
}
