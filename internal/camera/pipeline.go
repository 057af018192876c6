package camera

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/salmingo/wemon-public/internal/config"
	"github.com/salmingo/wemon-public/internal/focus"
	"github.com/salmingo/wemon-public/internal/metrics"
	"github.com/salmingo/wemon-public/internal/models"
	"github.com/salmingo/wemon-public/internal/obslog"
	"github.com/salmingo/wemon-public/internal/transport"
)

// State is the per-frame state machine of spec.md §4.7.
type State int

const (
	StateIdle State = iota
	StateExposing
	StateReading
	StateWritten
	StateReduced
	StateError
)

// Pipeline drives one all-sky camera through its per-frame sequence,
// the cooling supervisor, and the auto-focus dispatch.
type Pipeline struct {
	driver    Driver
	writer    Writer
	extractor *Extractor
	focuser   *focus.Controller
	focusSock *transport.Datagram

	cfg  config.CameraConfig
	site config.Site
	log  *obslog.Logger

	minFocusStars int

	sampleRoot   string
	rawImageRoot string
	rawPrefix    string

	mu         sync.RWMutex
	state      State
	expDurMs   int
	lastFrame  models.Frame
	frameNo    int64
	tempC      float64
	tempFailN  int

	reduceQueue chan models.Frame

	observedList *os.File
	observedMu   sync.Mutex

	// Metrics is optional; nil leaves every collector untouched.
	Metrics *metrics.Metrics
}

func NewPipeline(driver Driver, writer Writer, extractor *Extractor, focuser *focus.Controller, focusSock *transport.Datagram, cfg config.CameraConfig, site config.Site, minFocusStars int, sampleRoot, rawImageRoot, rawPrefix string, log *obslog.Logger) *Pipeline {
	return &Pipeline{
		driver:        driver,
		writer:        writer,
		extractor:     extractor,
		focuser:       focuser,
		focusSock:     focusSock,
		cfg:           cfg,
		site:          site,
		minFocusStars: minFocusStars,
		log:           log,
		sampleRoot:    sampleRoot,
		rawImageRoot:  rawImageRoot,
		rawPrefix:     rawPrefix,
		expDurMs:      cfg.ExposureMinMs,
		reduceQueue:   make(chan models.Frame, 4),
	}
}

func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Pipeline) LatestFrame() models.Frame {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastFrame
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Run connects the driver, starts the cooling supervisor and the
// reduce-queue drain, and loops the per-frame sequence until ctx is
// cancelled or the pipeline reaches ERROR. Either way it stops both
// helper goroutines and disconnects the driver before returning
// (spec.md §4.7 "from ERROR the pipeline disconnects").
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.driver.Connect() {
		return fmt.Errorf("camera: connect failed, code=%d", p.driver.LastErrorCode())
	}
	defer p.driver.Disconnect()

	if err := p.resetObservedList(); err != nil {
		return err
	}
	defer p.closeObservedList()

	loopCtx, stop := context.WithCancel(ctx)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); p.coolingSupervisor(loopCtx) }()
	go func() { defer wg.Done(); p.reduceLoop(loopCtx) }()

	p.frameLoop(loopCtx)
	stop()
	wg.Wait()
	return nil
}

func (p *Pipeline) frameLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if p.State() == StateError {
			p.log.Error(obslog.Camera, "pipeline in ERROR, stopping frame loop")
			return
		}

		focusing := p.focuser != nil && p.focuser.Mode == focus.ModeAuto
		frame, err := p.captureFrame(ctx, focusing)
		if err != nil {
			p.log.Error(obslog.Camera, "capture failed: %v", err)
			p.setState(StateError)
			if p.Metrics != nil {
				p.Metrics.FramesTotal.WithLabelValues("error").Inc()
			}
			return
		}
		if p.Metrics != nil {
			p.Metrics.FramesTotal.WithLabelValues("ok").Inc()
			p.Metrics.CameraExposureSeconds.Set(frame.ExposureSec)
			p.Metrics.CameraMeanCenterADU.Set(frame.MeanCenter)
		}

		if focusing {
			select {
			case p.reduceQueue <- frame:
			default:
				p.log.Warn(obslog.Camera, "reduce queue full, dropping focus frame")
			}
			p.sleepCtx(ctx, time.Duration(frame.ExposureSec*float64(time.Second)))
			continue
		}

		if err := p.appendObservedList(frame); err != nil {
			p.log.Warn(obslog.Camera, "observed.list append failed: %v", err)
		}
		p.sleepCtx(ctx, time.Duration(p.cfg.SampleCycleSec*float64(time.Second)))
	}
}

// captureFrame runs the per-frame sequence of spec.md §4.7 steps 1-6.
func (p *Pipeline) captureFrame(ctx context.Context, focusing bool) (models.Frame, error) {
	p.setState(StateExposing)

	if !p.driver.SetShutterMode(ShutterAuto) {
		return models.Frame{}, fmt.Errorf("set shutter mode failed, code=%d", p.driver.LastErrorCode())
	}

	p.mu.RLock()
	expMs := p.expDurMs
	p.mu.RUnlock()
	if !p.driver.SetExposureSeconds(float64(expMs) / 1000) {
		return models.Frame{}, fmt.Errorf("set exposure failed, code=%d", p.driver.LastErrorCode())
	}

	dateObs := time.Now().UTC()
	if !p.driver.StartExposure() {
		return models.Frame{}, fmt.Errorf("start exposure failed, code=%d", p.driver.LastErrorCode())
	}

	if !p.driver.WaitImageReady() {
		return models.Frame{}, fmt.Errorf("wait image ready failed, code=%d", p.driver.LastErrorCode())
	}
	p.setState(StateReading)

	pixels, w, h, ok := p.driver.ReadImage()
	if !ok {
		return models.Frame{}, fmt.Errorf("read image failed, code=%d", p.driver.LastErrorCode())
	}
	timeEnd := time.Now().UTC()

	p.mu.Lock()
	p.frameNo++
	frameNo := p.frameNo
	p.mu.Unlock()

	path := p.framePath(dateObs)
	tempC, _ := p.currentTemp()
	hdr := buildHeader(p.site, frameNo, dateObs, timeEnd, float64(expMs)/1000, 0, p.cfg.CoolerSetpointC, tempC, 0)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return models.Frame{}, fmt.Errorf("mkdir raw image dir: %w", err)
	}
	if err := p.writer.WriteFITS(path, pixels, w, h, hdr); err != nil {
		return models.Frame{}, fmt.Errorf("write fits: %w", err)
	}
	p.setState(StateWritten)

	meanCenter := CentralPatchMean(pixels, w, h, p.cfg.CentralPatchPx)
	p.mu.Lock()
	p.expDurMs = AdjustExposureMs(p.expDurMs, meanCenter, p.cfg.TargetADU, p.cfg.ExposureMinMs, p.cfg.ExposureMaxMs)
	p.mu.Unlock()

	frame := models.Frame{
		Path:        path,
		W:           w,
		H:           h,
		DateObs:     dateObs,
		ExposureSec: float64(expMs) / 1000,
		MeanCenter:  meanCenter,
		FrameNo:     frameNo,
	}

	if !focusing {
		p.setState(StateIdle)
	}
	p.mu.Lock()
	p.lastFrame = frame
	p.mu.Unlock()
	return frame, nil
}

func (p *Pipeline) framePath(dateObs time.Time) string {
	dayDir := filepath.Join(p.rawImageRoot, p.rawPrefix+dateObs.Format("060102"))
	name := fmt.Sprintf("C%sT%s.fit", dateObs.Format("20060102"), dateObs.Format("150405"))
	return filepath.Join(dayDir, name)
}

func (p *Pipeline) currentTemp() (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tempC, p.tempFailN == 0
}

// coolingSupervisor samples the sensor temperature at 1 Hz while the
// pipeline is IDLE; three consecutive failures flip to ERROR (spec.md
// §4.7).
func (p *Pipeline) coolingSupervisor(ctx context.Context) {
	p.coolingSupervisorInterval(ctx, time.Second)
}

func (p *Pipeline) coolingSupervisorInterval(ctx context.Context, interval time.Duration) {
	p.driver.SetCoolerOn(true, p.cfg.CoolerSetpointC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.State() != StateIdle {
				continue
			}
			t, ok := p.driver.ReadTemperatureC()
			p.mu.Lock()
			if ok {
				p.tempC = t
				p.tempFailN = 0
			} else {
				p.tempFailN++
				if p.tempFailN >= 3 {
					p.state = StateError
					p.log.Error(obslog.Camera, "get_temp: 3 consecutive read failures")
				}
			}
			p.mu.Unlock()
		}
	}
}

// reduceLoop drains focus frames, runs the star extractor, computes
// FWHM statistics, and advances the auto-focus controller (spec.md
// §4.7 last paragraph).
func (p *Pipeline) reduceLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-p.reduceQueue:
			p.reduceFrame(ctx, frame)
		}
	}
}

func (p *Pipeline) reduceFrame(ctx context.Context, frame models.Frame) {
	stars, err := p.extractor.Extract(ctx, frame.Path)
	if err != nil {
		p.log.Warn(obslog.Camera, "star extraction failed for %s: %v", frame.Path, err)
		return
	}

	stat := FrameFWHM(stars, frame.W, frame.H, p.minFocusStars)
	if !stat.Valid {
		p.log.Info(obslog.Focus, "frame %s: no valid FWHM statistic (minimum %d admissible stars), focus window not advanced", frame.Path, p.minFocusStars)
		return
	}

	outcome, step, mean := p.focuser.Observe(stat.Mean)
	switch outcome {
	case focus.OutcomeMove:
		if p.Metrics != nil {
			p.Metrics.FocusStepMagnitude.Observe(math.Abs(float64(step)))
		}
		p.sendFocus(focus.EncodeMove(step))
	case focus.OutcomeConverged:
		if p.Metrics != nil {
			p.Metrics.FocusStepMagnitude.Observe(math.Abs(float64(step)))
			p.Metrics.FocusSessions.WithLabelValues("converged").Inc()
		}
		p.sendFocus(focus.EncodeEnd(1, mean))
		p.focuser.End()
	}
}

func (p *Pipeline) sendFocus(payload []byte) {
	if p.focusSock == nil {
		return
	}
	if err := p.focusSock.Send(payload); err != nil {
		p.log.Warn(obslog.Focus, "send focus command failed: %v", err)
	}
}

// HandleFocusMessage dispatches an inbound focus-control message
// (spec.md §6.3) received by the environment monitor's command
// endpoint.
func (p *Pipeline) HandleFocusMessage(m focus.Message) {
	switch m.Type {
	case focus.MsgFocusBegin:
		p.focuser.Begin(m.Manual)
	case focus.MsgFocusEnd:
		p.focuser.End()
	case focus.MsgFocusLimit:
		// FOCUS_LIMIT contract (spec.md §9 Open Question, resolved in
		// DESIGN.md): abort the session and report failure.
		p.focuser.End()
		if p.Metrics != nil {
			p.Metrics.FocusSessions.WithLabelValues("failed").Inc()
		}
		p.sendFocus(focus.EncodeEnd(0, 0))
	}
}

func (p *Pipeline) sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (p *Pipeline) resetObservedList() error {
	path := filepath.Join(p.sampleRoot, "observed.list")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("camera: mkdir sample root: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("camera: reset observed.list: %w", err)
	}
	p.observedMu.Lock()
	p.observedList = f
	p.observedMu.Unlock()
	return nil
}

func (p *Pipeline) appendObservedList(frame models.Frame) error {
	p.observedMu.Lock()
	defer p.observedMu.Unlock()
	if p.observedList == nil {
		return fmt.Errorf("observed.list not open")
	}
	line := fmt.Sprintf("%s\t%s\n", filepath.Dir(frame.Path), filepath.Base(frame.Path))
	_, err := p.observedList.WriteString(line)
	return err
}

func (p *Pipeline) closeObservedList() {
	p.observedMu.Lock()
	defer p.observedMu.Unlock()
	if p.observedList != nil {
		p.observedList.Close()
		p.observedList = nil
	}
}
