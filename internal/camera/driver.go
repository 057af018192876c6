// Package camera drives the all-sky cloud camera pipeline: exposure,
// FITS assembly, star-extractor invocation, FWHM statistics and
// adaptive exposure control (spec.md §4.7).
package camera

// ShutterMode mirrors the opaque camera driver's shutter states
// (spec.md §6.5).
type ShutterMode uint8

const (
	ShutterAuto ShutterMode = iota
	ShutterAlwaysOpen
	ShutterAlwaysShut
)

// ROI is a region of interest on the sensor.
type ROI struct {
	X0, Y0, W, H, XBin, YBin int
}

// Driver is the opaque vendor camera SDK boundary (spec.md §6.5). Every
// operation returns ok plus updates the driver's own error code; the
// pipeline never assumes a specific SDK.
type Driver interface {
	Connect() bool
	Disconnect() bool

	SetCoolerOn(on bool, setpointC float64) bool
	ReadTemperatureC() (float64, bool)

	SetShutterMode(mode ShutterMode) bool
	SetExposureSeconds(sec float64) bool
	StartExposure() bool
	AbortExposure() bool

	SetROI(roi ROI) bool
	SetADChannel(channel int) bool
	SetReadPort(port int) bool
	SetReadRate(rate int) bool
	SetPreampGain(gain int) bool
	SetVerticalShiftRate(rate int) bool
	SetEMGain(gain int) bool

	// WaitImageReady blocks until the current exposure's image is ready
	// to read out, or returns false on timeout/error.
	WaitImageReady() bool
	// ReadImage returns the raw pixel buffer (row-major, uint16) plus
	// width/height once WaitImageReady has returned true.
	ReadImage() (pixels []uint16, w, h int, ok bool)

	LastErrorCode() int
}
