// Package models holds the shared, transport-agnostic data types produced
// and consumed by the sensor pollers, the cloud camera pipeline, and the
// telemetry publisher.
package models

import (
	"math"
	"time"
)

// ChannelState is the liveness state carried alongside every published
// sample. State transitions are owned by the producing component.
type ChannelState int

const (
	StateOK ChannelState = iota
	StateNotConnected
	StateNoData
	StateStale
	StateOffline
)

func (s ChannelState) String() string {
	switch s {
	case StateOK:
		return "OK"
	case StateNotConnected:
		return "NOT_CONNECTED"
	case StateNoData:
		return "NO_DATA"
	case StateStale:
		return "STALE"
	case StateOffline:
		return "OFFLINE"
	default:
		return "UNKNOWN"
	}
}

// Byte returns the wire encoding used by the PDXP channel-state field
// (spec.md §6.1): OK=0, NOT_CONNECTED=1, NO_DATA=2, OFFLINE=3. STALE has
// no distinct wire value; producers that reach STALE report NO_DATA on
// the wire (there is still no fresh number to sentinel-fill).
func (s ChannelState) Byte() byte {
	switch s {
	case StateOK:
		return 0
	case StateNotConnected:
		return 1
	case StateOffline:
		return 3
	default:
		return 2
	}
}

// TS formats t as the extended-ISO UTC string used as the authoritative
// sample timestamp throughout the daemon.
func TS(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// WeatherSample is one reading from the combined T/H/P + wind meter, plus
// the independently-stated rain channel.
type WeatherSample struct {
	TS    string
	State ChannelState

	TenthC    int16 // T, 0.1 degC
	TenthRH   uint16 // RH, 0.1 %
	TenthHPa  uint16 // P, 0.1 hPa
	WindSpeed uint16 // 0.1 m/s
	WindDir   uint16 // 0.1 deg

	RainState ChannelState
	Rain      uint8 // 0 or 1
}

// DewPointC returns the dew point in degrees Celsius derived from the
// sample's temperature and relative humidity using the Magnus formula.
func (w WeatherSample) DewPointC() float64 {
	t := float64(w.TenthC) / 10
	rh := float64(w.TenthRH) / 10
	const a, b = 17.62, 243.12
	gamma := (a*t)/(b+t) + logSafe(rh/100)
	return (b * gamma) / (a - gamma)
}

// SkySample is one reading from the sky-quality meter.
type SkySample struct {
	TS     string
	State  ChannelState
	MPSAS  int16 // 0.01 mag/arcsec^2
}

// Star is one star-extractor detection.
type Star struct {
	X, Y       float64
	Area       float64
	FWHM       float64
	Theta      float64
	Elongation float64
	Flux       float64
	FluxErr    float64
	FluxMax    float64
	Mag        float64
	MagErr     float64
	SNR        float64
	InStat     bool
}

// Admissible reports whether a star passes the detection filter of
// spec.md §3: flux>=1, area>=3, snr>=3, fwhm>1.
func (s Star) Admissible() bool {
	return s.Flux >= 1 && s.Area >= 3 && s.SNR >= 3 && s.FWHM > 1
}

// Frame is one exposure from the all-sky cloud camera.
type Frame struct {
	Path        string
	W, H        int
	DateObs     time.Time
	ExposureSec float64
	MeanCenter  float64 // mean count of the 512x512 central patch
	Stars       []Star
	FrameNo     int64
}

// FWHMStat is the frame-level FWHM product of spec.md §3.
type FWHMStat struct {
	Valid    bool
	Mean     float64
	Sigma    float64
	NStars   int
}

// Zone is one cell of the cloud-cover map.
type Zone struct {
	Az, El float64
	Level  int // 0..9
}

// CloudMap is the most recent parse of the reducer exchange file.
type CloudMap struct {
	TS      string
	State   ChannelState
	AzStep  float64
	ElStep  float64
	Zones   []Zone
}

// CloudPercentTenths returns cloud-cover percent in 0.1% units:
// round(zones_with_level>=7 / total_zones * 1000).
func (c CloudMap) CloudPercentTenths() uint16 {
	if len(c.Zones) == 0 {
		return 0
	}
	k := 0
	for _, z := range c.Zones {
		if z.Level >= 7 {
			k++
		}
	}
	pct := float64(k) * 1000 / float64(len(c.Zones))
	return uint16(pct + 0.5)
}

func logSafe(x float64) float64 {
	if x <= 0 {
		x = 1e-12
	}
	return math.Log(x)
}
