// Package report periodically publishes Ethernet status snapshots to
// telemetry sinks such as an MQTT broker or InfluxDB.
package report

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/soypat/ethat"
	"github.com/soypat/ethat/dhcps"
)

const DefaultInterval = 30 * time.Second

var errNoSource = errors.New("report: status source required")

// Source produces status snapshots without disturbing the PHY.
// Implemented by [ethat.Controller].
type Source interface {
	LinkStatus() (ethat.Status, error)
}

// LeaseSource lists DHCP leases. Implemented by [dhcps.Server].
type LeaseSource interface {
	Leases() []dhcps.Lease
}

// Snapshot is the published document.
type Snapshot struct {
	Time   time.Time     `json:"time"`
	Status ethat.Status  `json:"status"`
	Leases []dhcps.Lease `json:"leases,omitempty"`
}

// Sink receives snapshots.
type Sink interface {
	Publish(ctx context.Context, snap *Snapshot) error
}

type Config struct {
	Source Source
	// Leases is optional.
	Leases   LeaseSource
	Sinks    []Sink
	Interval time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
}

// Reporter collects a snapshot every interval and hands it to every sink.
type Reporter struct {
	cfg Config
}

func New(cfg Config) (*Reporter, error) {
	if cfg.Source == nil {
		return nil, errNoSource
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reporter{cfg: cfg}, nil
}

// Collect takes one snapshot.
func (r *Reporter) Collect() (*Snapshot, error) {
	st, err := r.cfg.Source.LinkStatus()
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Time: r.cfg.Now(), Status: st}
	if r.cfg.Leases != nil {
		snap.Leases = r.cfg.Leases.Leases()
	}
	return snap, nil
}

// Tick collects a snapshot and publishes it to every sink. A failing sink
// does not keep the others from receiving the snapshot.
func (r *Reporter) Tick(ctx context.Context) error {
	snap, err := r.Collect()
	if err != nil {
		return err
	}
	var errs []error
	for _, s := range r.cfg.Sinks {
		err := s.Publish(ctx, snap)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run ticks until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	tick := time.NewTicker(r.cfg.Interval)
	defer tick.Stop()
	for {
		err := r.Tick(ctx)
		if err != nil {
			r.warn("report:tick", slog.String("err", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

func (r *Reporter) warn(msg string, attrs ...slog.Attr) {
	if r.cfg.Logger != nil {
		r.cfg.Logger.LogAttrs(context.Background(), slog.LevelWarn, msg, attrs...)
	}
}
