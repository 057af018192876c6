package telemetry

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/salmingo/wemon-public/internal/cloudreducer"
	"github.com/salmingo/wemon-public/internal/metrics"
	"github.com/salmingo/wemon-public/internal/obslog"
	"github.com/salmingo/wemon-public/internal/sqm"
	"github.com/salmingo/wemon-public/internal/transport"
	"github.com/salmingo/wemon-public/internal/weather"
)

// Mirror receives every outbound PDXP packet, e.g. the NATS mirror
// (SPEC_FULL.md §4.11). Mirror
// implementations must not block the publish loop.
type Mirror interface {
	MirrorTelemetry(packet []byte)
}

// SnapshotSink receives the decoded Snapshot and the pack_count of the
// cycle that produced it, e.g. the Redis cache (SPEC_FULL.md §4.11) and
// the diagnostics dashboard (§4.10/§6.9). Implementations must not
// block the publish loop.
type SnapshotSink interface {
	StoreSnapshot(snap Snapshot, packCount int)
}

// Publisher fuses the sensor twins into PDXP datagrams at a fixed
// cadence and fires them at the configured peer (spec.md §4.9).
type Publisher struct {
	weather       *weather.Poller
	sky           *sqm.Poller
	cloud         *cloudreducer.Reader
	sourceID      uint32
	maxZones      int
	cadence       time.Duration
	peer          *net.UDPAddr
	tzOffsetHours float64
	log           *obslog.Logger
	mirrors       []Mirror
	sinks         []SnapshotSink

	// Metrics is optional; nil leaves every collector untouched.
	Metrics *metrics.Metrics

	sock     *transport.Datagram
	packetNo uint32
}

func NewPublisher(w *weather.Poller, s *sqm.Poller, c *cloudreducer.Reader, sourceID uint32, maxZonesPerPacket int, cadenceSec float64, peerAddr string, tzOffsetHours float64, log *obslog.Logger) (*Publisher, error) {
	peer, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resolve peer %s: %w", peerAddr, err)
	}
	if cadenceSec < 10 {
		cadenceSec = 10
	}
	return &Publisher{
		weather:       w,
		sky:           s,
		cloud:         c,
		sourceID:      sourceID,
		maxZones:      maxZonesPerPacket,
		cadence:       time.Duration(cadenceSec * float64(time.Second)),
		peer:          peer,
		tzOffsetHours: tzOffsetHours,
		log:           log,
		packetNo:      1,
	}, nil
}

// AddMirror registers a diagnostic sink for every published packet.
func (p *Publisher) AddMirror(m Mirror) {
	p.mirrors = append(p.mirrors, m)
}

// AddSnapshotSink registers a sink for the decoded Snapshot behind
// every publish cycle.
func (p *Publisher) AddSnapshotSink(s SnapshotSink) {
	p.sinks = append(p.sinks, s)
}

// Run opens the outbound socket and publishes until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	sock, err := transport.Listen(":0", p.peer)
	if err != nil {
		return fmt.Errorf("telemetry: open socket: %w", err)
	}
	p.sock = sock
	defer sock.Close()

	ticker := time.NewTicker(p.cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.publishOnce()
		}
	}
}

func (p *Publisher) publishOnce() {
	snap := Snapshot{
		Weather:    p.weather.Latest(),
		Sky:        p.sky.Latest(),
		Cloud:      p.cloud.Latest(),
		SnapshotAt: time.Now(),
	}
	packets := Build(snap, p.sourceID, p.maxZones, p.packetNo, p.tzOffsetHours)
	p.packetNo++

	for _, s := range p.sinks {
		s.StoreSnapshot(snap, len(packets))
	}

	for _, pkt := range packets {
		if err := p.sock.Send(pkt); err != nil {
			p.log.Warn(obslog.Telemetry, "send failed: %v", err)
			continue
		}
		if p.Metrics != nil {
			p.Metrics.TelemetryPacketsSent.Inc()
		}
		for _, m := range p.mirrors {
			m.MirrorTelemetry(pkt)
		}
	}
	if p.Metrics != nil {
		p.Metrics.TelemetryZonesSent.Add(float64(len(snap.Cloud.Zones)))
	}
}
