// Package focus implements the auto-focus controller of spec.md §4.7
// and the UDP wire protocol of §6.3.
package focus

import (
	"math"
)

// Mode is the auto-focus controller's mode.
type Mode int

const (
	ModeOff Mode = iota
	ModeManual
	ModeAuto
)

// clampMagnitudes are the allowed |step| values, largest first, used
// by ClampStep (spec.md §4.7).
var clampMagnitudes = []int32{5000, 2000, 500, 100}

// Controller holds the sliding window and last-step state for one
// autofocus session (spec.md §3's Auto-focus state, minus the
// site-wide fields owned by the caller).
type Controller struct {
	Mode            Mode
	ExpectedFWHM    float64
	ExpectedFWHMErr float64
	ConvergenceSigma float64 // default 0.1 px, spec.md §9

	window   [3]float64
	filled   int
	lastFWHM float64
	lastStep int32
	haveLast bool
}

func NewController(expectedFWHM, expectedFWHMErr, convergenceSigma float64) *Controller {
	return &Controller{
		ExpectedFWHM:     expectedFWHM,
		ExpectedFWHMErr:  expectedFWHMErr,
		ConvergenceSigma: convergenceSigma,
	}
}

// Begin transitions OFF -> MANUAL or OFF -> AUTO on FOCUS_BEGIN.
func (c *Controller) Begin(manual bool) {
	c.filled = 0
	c.haveLast = false
	if manual {
		c.Mode = ModeManual
	} else {
		c.Mode = ModeAuto
	}
}

// End transitions either mode back to OFF on FOCUS_END or FOCUS_LIMIT.
func (c *Controller) End() {
	c.Mode = ModeOff
	c.filled = 0
	c.haveLast = false
}

// Outcome is what the controller decided to do after Observe.
type Outcome int

const (
	OutcomeNone Outcome = iota // window not full yet, or not converging: no action
	OutcomeMove
	OutcomeConverged
)

// Observe pushes a new accepted mean FWHM into the 3-slot sliding
// window (spec.md §4.7) and, once full, decides whether to move or
// declare convergence. It is the caller's responsibility to only call
// this when FrameFWHM reported Valid (>= 50 admissible stars).
func (c *Controller) Observe(meanFWHM float64) (Outcome, int32, float64) {
	if c.Mode != ModeAuto {
		return OutcomeNone, 0, 0
	}
	c.pushWindow(meanFWHM)
	if c.filled < 3 {
		return OutcomeNone, 0, 0
	}

	mean, sigma := windowStats(c.window)
	if sigma > c.ConvergenceSigma || mean <= c.ExpectedFWHM+0.2 {
		return OutcomeNone, 0, 0
	}

	step := c.nextStep(mean)
	c.lastFWHM = mean
	c.lastStep = step
	c.haveLast = true

	if abs32(step) < 100 {
		return OutcomeConverged, step, mean
	}
	return OutcomeMove, step, mean
}

func (c *Controller) pushWindow(v float64) {
	if c.filled < 3 {
		c.window[c.filled] = v
		c.filled++
		return
	}
	c.window[0], c.window[1] = c.window[1], c.window[2]
	c.window[2] = v
}

// nextStep implements spec.md §4.7's step formula: +500 with no
// history, otherwise the proportional-gain estimate clamped by
// magnitude (spec.md §8 concrete scenario 5).
func (c *Controller) nextStep(fwhm float64) int32 {
	if !c.haveLast {
		return 500
	}
	denom := fwhm - c.lastFWHM
	if denom == 0 {
		return 500
	}
	raw := (c.ExpectedFWHM - fwhm) * float64(c.lastStep) * 0.80 / denom
	return ClampStep(int32(math.Trunc(raw)))
}

// ClampStep rounds toward zero to the nearest magnitude at or below
// |raw| from {5000, 2000, 500, 100}, preserving sign (spec.md §4.7).
// Values below 100 in magnitude pass through unclamped so the caller
// can detect convergence (|step| < 100).
func ClampStep(raw int32) int32 {
	mag := abs32(raw)
	sign := int32(1)
	if raw < 0 {
		sign = -1
	}
	for _, m := range clampMagnitudes {
		if mag >= m {
			return sign * m
		}
	}
	return raw
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func windowStats(w [3]float64) (mean, sigma float64) {
	mean = (w[0] + w[1] + w[2]) / 3
	var sq float64
	for _, v := range w {
		d := v - mean
		sq += d * d
	}
	sigma = math.Sqrt(sq / 2) // sample stddev, n-1=2
	return mean, sigma
}
