// Package weather implements the periodic poller over the combined
// T/H/P + wind meter and the independent rain detector (spec.md §4.4):
// a minimal MODBUS-style field-bus request/response with a 5s per-query
// timeout, three-strikes reconnect, and a daily per-line log.
package weather

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/salmingo/wemon-public/internal/config"
	"github.com/salmingo/wemon-public/internal/metrics"
	"github.com/salmingo/wemon-public/internal/models"
	"github.com/salmingo/wemon-public/internal/obslog"
	"github.com/salmingo/wemon-public/internal/transport"
)

// query identifies one of the three field-bus requests this poller
// issues each cycle.
type query int

const (
	queryTHP query = iota
	queryWind
	queryRain
)

// interQuerySleep is the recovery time the field bus needs between two
// back-to-back queries (spec.md §4.4).
const interQuerySleep = 1 * time.Second

func (q query) expectedFields() int {
	switch q {
	case queryTHP:
		return 6
	case queryWind:
		return 4
	default:
		return 2
	}
}

// Reading is one parsed field-bus response.
type Reading struct {
	Query query
	Data  []byte
}

// Poller drives the two serial ports and keeps one live sample per
// channel, mirroring spec.md §4.4's twin.
type Poller struct {
	cfg    config.WeatherConfig
	log    *obslog.Logger
	open   transport.SerialOpener
	dailyLogDir string

	// Metrics is optional; nil leaves every collector untouched.
	Metrics *metrics.Metrics

	mu      sync.RWMutex
	latest  models.WeatherSample
	rainState models.ChannelState

	thpWind *transport.SerialPort
	rainPort *transport.SerialPort

	consecutiveTimeouts int
	logFile             *dailyLog
}

func NewPoller(cfg config.WeatherConfig, sampleRoot string, log *obslog.Logger, open transport.SerialOpener) *Poller {
	return &Poller{
		cfg:         cfg,
		log:         log,
		open:        open,
		dailyLogDir: sampleRoot,
		latest:      models.WeatherSample{State: models.StateNotConnected, RainState: models.StateNotConnected},
	}
}

// Latest returns a copy-snapshot of the most recent sample. Safe to
// call from any goroutine; the returned value is never mutated further.
func (p *Poller) Latest() models.WeatherSample {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// Run drives the poll loop until ctx is cancelled. It owns both serial
// ports for its entire lifetime, reopening them on repeated timeout per
// spec.md §4.4 ("if three consecutive full cycles time out, the port is
// closed and the connect phase restarts next tick").
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
			p.log.Warn(obslog.Weather, "connect failed: %v", err)
			if reconnector.Run(ctx, tryConnect) != nil {
				return // ctx cancelled while retrying
			}
		}

		p.pollUntilReopenNeeded(ctx)
		p.disconnect()
	}
}

func (p *Poller) recordReconnect() {
	if p.Metrics != nil {
		p.Metrics.Reconnects.WithLabelValues("weather").Inc()
	}
}

func (p *Poller) connect() error {
	p.thpWind = transport.NewSerialPort(p.cfg.THPPort, p.cfg.BaudRate, p.open)
	if err := p.thpWind.Open(); err != nil {
		return fmt.Errorf("weather: open THP/wind port: %w", err)
	}
	p.rainPort = transport.NewSerialPort(p.cfg.RainPort, p.cfg.BaudRate, p.open)
	if err := p.rainPort.Open(); err != nil {
		p.thpWind.Close()
		return fmt.Errorf("weather: open rain port: %w", err)
	}
	p.consecutiveTimeouts = 0
	p.setState(models.StateOK, models.StateOK)
	return nil
}

func (p *Poller) disconnect() {
	if p.thpWind != nil {
		p.thpWind.Close()
	}
	if p.rainPort != nil {
		p.rainPort.Close()
	}
	p.setState(models.StateNotConnected, models.StateNotConnected)
}

func (p *Poller) pollUntilReopenNeeded(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		thp, thpOK := p.queryModbus(p.thpWind, addrTHP, queryTHP)
		sleepCtx(ctx, interQuerySleep)
		wind, windOK := p.queryModbus(p.thpWind, addrWind, queryWind)
		sleepCtx(ctx, interQuerySleep)
		rain, rainOK := p.queryModbus(p.rainPort, addrRain, queryRain)

		if !thpOK && !windOK && !rainOK {
			p.consecutiveTimeouts++
			if p.consecutiveTimeouts >= p.cfg.MaxTimeouts {
				p.setState(models.StateNoData, models.StateNoData)
				return
			}
		} else {
			p.consecutiveTimeouts = 0
			p.applyReading(thp, thpOK, wind, windOK, rain, rainOK)
		}

		sleepCtx(ctx, time.Duration(p.cfg.CycleSleep*float64(time.Second)))
	}
}

func (p *Poller) queryModbus(port *transport.SerialPort, addr byte, q query) ([]byte, bool) {
	if port == nil {
		return nil, false
	}
	frame := buildModbusQuery(addr, q.expectedFields())
	startLen := port.Inbound.Len()
	if err := port.Write(frame); err != nil {
		return nil, false
	}
	timeout := time.Duration(p.cfg.QueryTimeout * float64(time.Second))
	if !port.WaitFor(startLen+5, timeout) {
		return nil, false
	}

	// Find the response frame's [addr, 0x03] prefix rather than assuming
	// it starts at startLen (spec.md §4.1's lookup framing primitive);
	// stray bytes can precede it.
	prefix := []byte{addr, modbusReadHolding}
	off := port.Inbound.Lookup(prefix, startLen)
	if off < 0 {
		return nil, false
	}
	peeked := make([]byte, port.Inbound.Len()-off)
	n := port.Inbound.Peek(peeked, off)
	data, ok := ParseResponse(peeked[:n], q.expectedFields())
	if !ok {
		return nil, false
	}
	port.Inbound.Discard(off + 3 + len(data) + 2)
	return data, true
}

func (p *Poller) applyReading(thp []byte, thpOK bool, wind []byte, windOK bool, rain []byte, rainOK bool) {
	p.mu.Lock()
	s := p.latest
	s.TS = models.TS(time.Now())
	if thpOK {
		s.TenthC, s.TenthRH, s.TenthHPa = ParseTHP(thp)
		s.State = models.StateOK
	}
	if windOK {
		s.WindSpeed, s.WindDir = ParseWind(wind)
		s.State = models.StateOK
	}
	if rainOK {
		s.Rain = ParseRain(rain)
		s.RainState = models.StateOK
	}
	p.latest = s
	p.mu.Unlock()

	if thpOK || windOK || rainOK {
		p.appendDailyLog(s)
	}
}

func (p *Poller) setState(main, rain models.ChannelState) {
	p.mu.Lock()
	p.latest.State = main
	p.latest.RainState = rain
	p.mu.Unlock()
	if p.Metrics != nil {
		p.Metrics.ObserveChannelState("weather", main.Byte())
		p.Metrics.ObserveChannelState("weather_rain", rain.Byte())
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
