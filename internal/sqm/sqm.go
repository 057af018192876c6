// Package sqm implements the sky-quality-meter poller (spec.md §4.5): a
// TCP poller issuing an ASCII query and parsing a fixed-column ASCII
// response, plus a UDP discovery helper for locating devices on the LAN.
package sqm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/salmingo/wemon-public/internal/metrics"
	"github.com/salmingo/wemon-public/internal/models"
	"github.com/salmingo/wemon-public/internal/obslog"
	"github.com/salmingo/wemon-public/internal/transport"
)

const (
	tcpPort       = 10001 // fixed per spec.md §4.5
	discoveryPort = 30718
	replyLen      = 57
)

var discoveryProbe = []byte{0x00, 0x00, 0x00, 0xF6}
var discoveryReplyPrefix = []byte{0x00, 0x00, 0x00, 0xF7}

// Poller polls one SQM device over TCP.
type Poller struct {
	host       string
	maxMissed  int
	cycleSleep time.Duration
	log        *obslog.Logger
	dailyDir   string

	mu     sync.RWMutex
	latest models.SkySample

	stream        *transport.Stream
	queryCount    int
	replyCount    int
	logFile       *dailyLog

	// Metrics is optional; nil leaves every collector untouched.
	Metrics *metrics.Metrics
}

func NewPoller(host string, maxMissedReplies int, cycleSleepSec float64, sampleRoot string, log *obslog.Logger) *Poller {
	return &Poller{
		host:       host,
		maxMissed:  maxMissedReplies,
		cycleSleep: time.Duration(cycleSleepSec * float64(time.Second)),
		log:        log,
		dailyDir:   sampleRoot,
		latest:     models.SkySample{State: models.StateNotConnected},
	}
}

func (p *Poller) Latest() models.SkySample {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// Run drives the poll loop until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	reconnector := transport.NewReconnector(2*time.Second, 30*time.Second)
	tryConnect := func() error {
		err := p.connect()
		if err != nil {
			p.recordReconnect()
		}
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := tryConnect(); err != nil {
			p.log.Warn(obslog.SQM, "connect failed: %v", err)
			if reconnector.Run(ctx, tryConnect) != nil {
				return
			}
		}

		p.pollUntilReopenNeeded(ctx)
		p.disconnect()
	}
}

func (p *Poller) recordReconnect() {
	if p.Metrics != nil {
		p.Metrics.Reconnects.WithLabelValues("sqm").Inc()
	}
}

func (p *Poller) connect() error {
	p.stream = transport.NewStream()
	if err := p.stream.Connect(p.host, tcpPort, 5*time.Second); err != nil {
		return fmt.Errorf("sqm: connect: %w", err)
	}
	p.queryCount, p.replyCount = 0, 0
	p.setState(models.StateOK)
	return nil
}

func (p *Poller) disconnect() {
	if p.stream != nil {
		p.stream.Close()
	}
	p.setState(models.StateNotConnected)
}

// replyPrefix marks the start of a reply record ("r, 06.70m,..."); the
// framing primitive of spec.md §4.1 finds it before a fixed-length read.
var replyPrefix = []byte{'r', ','}

func (p *Poller) pollUntilReopenNeeded(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		startLen := p.stream.Inbound.Len()
		if err := p.stream.Write([]byte("rx\x00")); err != nil {
			return
		}
		p.queryCount++

		if p.waitForReply(startLen, 2*time.Second) {
			if off := p.stream.Inbound.Lookup(replyPrefix, startLen); off >= 0 {
				peeked := make([]byte, replyLen)
				if n := p.stream.Inbound.Peek(peeked, off); n >= replyLen {
					if mpsas, ok := ParseReply(peeked[:n]); ok {
						p.replyCount++
						p.apply(mpsas)
					}
					p.stream.Inbound.Discard(off + replyLen)
				}
			}
		}

		if p.queryCount-p.replyCount > p.maxMissed {
			p.setState(models.StateNoData)
			return
		}

		sleepCtx(ctx, p.cycleSleep)
	}
}

func (p *Poller) waitForReply(startLen int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.stream.Inbound.Len()-startLen >= replyLen {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func (p *Poller) apply(mpsasHundredths int16) {
	p.mu.Lock()
	p.latest = models.SkySample{
		TS:    models.TS(time.Now()),
		State: models.StateOK,
		MPSAS: mpsasHundredths,
	}
	sample := p.latest
	p.mu.Unlock()
	p.appendDailyLog(sample)
}

func (p *Poller) setState(s models.ChannelState) {
	p.mu.Lock()
	p.latest.State = s
	p.mu.Unlock()
	if p.Metrics != nil {
		p.Metrics.ObserveChannelState("sqm", s.Byte())
	}
}

// ParseReply parses the 57-byte ASCII SQM record. Bytes 2..8 form the
// signed magnitude, e.g. "r, 06.70m,0000022921Hz,..." -> 6.70.
//
// Concrete scenario (spec.md §8): "r, 06.70m,0000022921Hz,0000000020c,
// 0000000.000s, 039.4C" -> mpsas=6.70.
func ParseReply(reply []byte) (centiMag int16, ok bool) {
	if len(reply) < 8 {
		return 0, false
	}
	field := strings.TrimSpace(string(reply[2:8]))
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, false
	}
	return int16(v*100 + sign(v)*0.5), true
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
