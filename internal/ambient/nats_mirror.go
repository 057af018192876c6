// Package ambient holds the optional cross-process mirrors named in
// SPEC_FULL.md §4.11: a NATS republish of every PDXP packet and a Redis
// cache of the most recent decoded snapshot. Both are disabled by
// default (empty URL in config) and never block the telemetry
// publisher on failure.
package ambient

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/salmingo/wemon-public/internal/obslog"
)

// NATSMirror republishes every PDXP packet, unmodified, to a fixed
// subject for consumers outside this process.
type NATSMirror struct {
	conn    *nats.Conn
	subject string
	log     *obslog.Logger

	mu      sync.Mutex
	enabled bool
}

func NewNATSMirror(subject string, log *obslog.Logger) *NATSMirror {
	return &NATSMirror{subject: subject, log: log}
}

// Connect dials natsURL with infinite auto-reconnect. A failed initial
// dial is logged and leaves the mirror disabled; MirrorTelemetry then
// silently no-ops rather than blocking the publisher.
func (m *NATSMirror) Connect(natsURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	opts := []nats.Option{
		nats.Name("wemon-telemetry-mirror"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			m.log.Warn(obslog.Telemetry, "nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			m.log.Info(obslog.Telemetry, "nats reconnected: %s", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(natsURL, opts...)
	if err != nil {
		m.enabled = false
		return fmt.Errorf("ambient: nats connect: %w", err)
	}
	m.conn = conn
	m.enabled = true
	return nil
}

// MirrorTelemetry implements telemetry.Mirror.
func (m *NATSMirror) MirrorTelemetry(packet []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled || m.conn == nil {
		return
	}
	if err := m.conn.Publish(m.subject, packet); err != nil {
		m.log.Warn(obslog.Telemetry, "nats publish failed: %v", err)
	}
}

func (m *NATSMirror) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
		m.enabled = false
	}
}
