package camera

import (
	"math"
	"math/rand"
	"sync"
)

// SimDriver is a software stand-in for the vendor camera SDK (spec.md
// §6.5's opaque collaborator). It synthesizes a starfield so the
// pipeline, exposure control, and extractor plumbing can run end to
// end without hardware attached; a production deployment swaps this
// for the real vendor binding behind the same Driver interface.
type SimDriver struct {
	W, H int
	rng  *rand.Rand

	mu         sync.Mutex
	connected  bool
	shutter    ShutterMode
	exposureS  float64
	coolerOn   bool
	setpointC  float64
	lastErr    int
	roi        ROI
}

func NewSimDriver(seed int64, w, h int) *SimDriver {
	return &SimDriver{W: w, H: h, rng: rand.New(rand.NewSource(seed))}
}

func (d *SimDriver) Connect() bool    { d.mu.Lock(); defer d.mu.Unlock(); d.connected = true; return true }
func (d *SimDriver) Disconnect() bool { d.mu.Lock(); defer d.mu.Unlock(); d.connected = false; return true }

func (d *SimDriver) SetCoolerOn(on bool, setpointC float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.coolerOn, d.setpointC = on, setpointC
	return true
}

func (d *SimDriver) ReadTemperatureC() (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.coolerOn {
		return 20 + d.rng.Float64(), true
	}
	return d.setpointC + d.rng.NormFloat64()*0.1, true
}

func (d *SimDriver) SetShutterMode(mode ShutterMode) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shutter = mode
	return true
}

func (d *SimDriver) SetExposureSeconds(sec float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exposureS = sec
	return true
}

func (d *SimDriver) StartExposure() bool { return true }
func (d *SimDriver) AbortExposure() bool { return true }

func (d *SimDriver) SetROI(roi ROI) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roi = roi
	return true
}

func (d *SimDriver) SetADChannel(int) bool         { return true }
func (d *SimDriver) SetReadPort(int) bool          { return true }
func (d *SimDriver) SetReadRate(int) bool          { return true }
func (d *SimDriver) SetPreampGain(int) bool        { return true }
func (d *SimDriver) SetVerticalShiftRate(int) bool { return true }
func (d *SimDriver) SetEMGain(int) bool            { return true }
func (d *SimDriver) WaitImageReady() bool          { return true }

// ReadImage renders a flat sky background plus a handful of Gaussian
// star profiles, scaled roughly by the programmed exposure time.
func (d *SimDriver) ReadImage() ([]uint16, int, int, bool) {
	d.mu.Lock()
	exp := d.exposureS
	d.mu.Unlock()

	pixels := make([]uint16, d.W*d.H)
	background := 500.0 + exp*20
	for i := range pixels {
		pixels[i] = uint16(clampF(background+d.rng.NormFloat64()*15, 0, 65535))
	}

	const nStars = 80
	for s := 0; s < nStars; s++ {
		cx := d.rng.Float64() * float64(d.W)
		cy := d.rng.Float64() * float64(d.H)
		peak := 2000 + d.rng.Float64()*20000*exp
		sigma := 1.2 + d.rng.Float64()*0.6
		drawGaussian(pixels, d.W, d.H, cx, cy, sigma, peak)
	}
	return pixels, d.W, d.H, true
}

func (d *SimDriver) LastErrorCode() int { return d.lastErr }

func drawGaussian(pixels []uint16, w, h int, cx, cy, sigma, peak float64) {
	r := int(sigma * 4)
	x0, x1 := int(cx)-r, int(cx)+r
	y0, y1 := int(cy)-r, int(cy)+r
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 >= w {
		x1 = w - 1
	}
	if y1 >= h {
		y1 = h - 1
	}
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			v := peak * math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
			idx := y*w + x
			pixels[idx] = uint16(clampF(float64(pixels[idx])+v, 0, 65535))
		}
	}
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
