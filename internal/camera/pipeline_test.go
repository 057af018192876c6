package camera

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/salmingo/wemon-public/internal/config"
	"github.com/salmingo/wemon-public/internal/models"
	"github.com/salmingo/wemon-public/internal/obslog"
)

type fakeDriver struct {
	connected   bool
	pixels      []uint16
	w, h        int
	tempC       float64
	tempOK      bool
	readImageOK bool
}

func (f *fakeDriver) Connect() bool    { f.connected = true; return true }
func (f *fakeDriver) Disconnect() bool { f.connected = false; return true }
func (f *fakeDriver) SetCoolerOn(on bool, setpointC float64) bool { return true }
func (f *fakeDriver) ReadTemperatureC() (float64, bool)           { return f.tempC, f.tempOK }
func (f *fakeDriver) SetShutterMode(mode ShutterMode) bool        { return true }
func (f *fakeDriver) SetExposureSeconds(sec float64) bool         { return true }
func (f *fakeDriver) StartExposure() bool                         { return true }
func (f *fakeDriver) AbortExposure() bool                         { return true }
func (f *fakeDriver) SetROI(roi ROI) bool                         { return true }
func (f *fakeDriver) SetADChannel(ch int) bool                    { return true }
func (f *fakeDriver) SetReadPort(port int) bool                   { return true }
func (f *fakeDriver) SetReadRate(rate int) bool                   { return true }
func (f *fakeDriver) SetPreampGain(gain int) bool                 { return true }
func (f *fakeDriver) SetVerticalShiftRate(rate int) bool          { return true }
func (f *fakeDriver) SetEMGain(gain int) bool                     { return true }
func (f *fakeDriver) WaitImageReady() bool                        { return true }
func (f *fakeDriver) ReadImage() ([]uint16, int, int, bool) {
	return f.pixels, f.w, f.h, f.readImageOK
}
func (f *fakeDriver) LastErrorCode() int { return 0 }

type fakeWriter struct {
	written []string
}

func (f *fakeWriter) WriteFITS(path string, pixels []uint16, w, h int, hdr FITSHeader) error {
	f.written = append(f.written, path)
	return os.WriteFile(path, []byte("fake fits"), 0644)
}

func newTestPipeline(t *testing.T, driver *fakeDriver, writer *fakeWriter) (*Pipeline, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.CameraConfig{
		ExposureMinMs:  100,
		ExposureMaxMs:  60000,
		SampleCycleSec: 0.01,
		TargetADU:      40000,
		CentralPatchPx: 4,
	}
	log, err := obslog.New(obslog.DefaultConfig(filepath.Join(dir, "logs")))
	if err != nil {
		t.Fatalf("obslog.New: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	p := NewPipeline(driver, writer, nil, nil, nil, cfg, config.Site{SiteName: "test"}, 50,
		filepath.Join(dir, "sample"), filepath.Join(dir, "raw"), "C", log)
	return p, dir
}

func TestCaptureFrameWritesFITSAndAdvancesState(t *testing.T) {
	driver := &fakeDriver{pixels: make([]uint16, 16), w: 4, h: 4, readImageOK: true}
	for i := range driver.pixels {
		driver.pixels[i] = 1000
	}
	writer := &fakeWriter{}
	p, _ := newTestPipeline(t, driver, writer)

	if err := p.resetObservedList(); err != nil {
		t.Fatalf("resetObservedList: %v", err)
	}
	defer p.closeObservedList()

	frame, err := p.captureFrame(context.Background(), false)
	if err != nil {
		t.Fatalf("captureFrame: %v", err)
	}
	if len(writer.written) != 1 {
		t.Fatalf("expected 1 FITS write, got %d", len(writer.written))
	}
	if frame.MeanCenter != 1000 {
		t.Errorf("MeanCenter = %v, want 1000", frame.MeanCenter)
	}
	if p.State() != StateIdle {
		t.Errorf("state after non-focus capture = %v, want StateIdle", p.State())
	}
	if _, err := os.Stat(frame.Path); err != nil {
		t.Errorf("frame file not on disk: %v", err)
	}
}

func TestCaptureFrameLeavesFocusingFramesOutOfIdle(t *testing.T) {
	driver := &fakeDriver{pixels: make([]uint16, 16), w: 4, h: 4, readImageOK: true}
	writer := &fakeWriter{}
	p, _ := newTestPipeline(t, driver, writer)
	if err := p.resetObservedList(); err != nil {
		t.Fatalf("resetObservedList: %v", err)
	}
	defer p.closeObservedList()

	if _, err := p.captureFrame(context.Background(), true); err != nil {
		t.Fatalf("captureFrame: %v", err)
	}
	if p.State() == StateIdle {
		t.Errorf("focusing capture should not force StateIdle")
	}
}

func TestAppendObservedListFormat(t *testing.T) {
	driver := &fakeDriver{}
	writer := &fakeWriter{}
	p, _ := newTestPipeline(t, driver, writer)
	if err := p.resetObservedList(); err != nil {
		t.Fatalf("resetObservedList: %v", err)
	}
	defer p.closeObservedList()

	frame := models.Frame{Path: filepath.Join(p.rawImageRoot, "C260806", "C20260806T120000.fit")}
	if err := p.appendObservedList(frame); err != nil {
		t.Fatalf("appendObservedList: %v", err)
	}
	p.closeObservedList()

	data, err := os.ReadFile(filepath.Join(p.sampleRoot, "observed.list"))
	if err != nil {
		t.Fatalf("read observed.list: %v", err)
	}
	want := filepath.Dir(frame.Path) + "\t" + filepath.Base(frame.Path) + "\n"
	if string(data) != want {
		t.Errorf("observed.list = %q, want %q", data, want)
	}
}

func TestCoolingSupervisorFlagsErrorAfterThreeFailures(t *testing.T) {
	driver := &fakeDriver{tempOK: false}
	writer := &fakeWriter{}
	p, _ := newTestPipeline(t, driver, writer)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p.coolingSupervisorInterval(ctx, 5*time.Millisecond)

	if p.State() != StateError {
		t.Errorf("state after repeated temp failures = %v, want StateError", p.State())
	}
}
