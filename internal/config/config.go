// Package config holds the daemon's runtime configuration. The XML
// configuration reader itself is an external collaborator out of scope
// for this repository (spec.md §1); main is handed an already-populated
// *Config. ApplyEnvOverlay only patches it from the optional .env file
// (spec.md §6.10).
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Site is the immutable site-identity tuple (spec.md §3). Read once at
// startup, never mutated afterward.
type Site struct {
	Longitude     float64
	Latitude      float64
	AltitudeM     float64
	TZOffsetHours float64
	DeviceID      uint32
	SiteName      string
}

// Config is the full set of knobs the daemon needs. Everything here
// would normally arrive from the external XML reader; tests and main
// construct it directly or via Default.
type Config struct {
	Site Site

	SampleRoot   string // Weather/, SQM/, CloudAge/, observed.list live here
	RawImageRoot string // raw FITS frames live here
	RawImagePrefix string // sibling-directory prefix the housekeeper reclaims

	Weather WeatherConfig
	SQM     SQMConfig
	Camera  CameraConfig
	Focus   FocusConfig
	Reducer ReducerConfig
	Telemetry TelemetryConfig
	Env     EnvMonitorConfig
	Ambient AmbientConfig
}

type WeatherConfig struct {
	THPPort       string
	WindPort      string
	RainPort      string // often the same physical port as THP/Wind
	BaudRate      int
	QueryTimeout  float64 // seconds, spec default 5
	CycleSleep    float64 // seconds, spec default 1
	MaxTimeouts   int     // consecutive full-cycle timeouts before reopen, spec default 3
}

type SQMConfig struct {
	Host           string
	Port           int // fixed 10001 per spec
	DiscoveryPort  int // 30718
	MaxMissedReplies int // 5
	CycleSleep     float64
}

type CameraConfig struct {
	DriverAddr    string // opaque driver endpoint, e.g. vendor SDK socket
	ExposureMinMs int
	ExposureMaxMs int
	SampleCycleSec float64
	TargetADU      float64 // 40000
	CentralPatchPx int     // 512
	StarExtractorPath string
	StarExtractorTempDir string
	CoolerSetpointC float64
}

type FocusConfig struct {
	RemoteAddr        string // UDP endpoint of the external focuser
	ListenAddr        string // command-ingress UDP endpoint (spec.md §4.8)
	ExpectedFWHM      float64
	ExpectedFWHMErr   float64
	ConvergenceSigma  float64 // 0.1 px, surfaced per spec.md §9
	MinAdmissibleStars int    // 50
}

type ReducerConfig struct {
	ExchangeFile string // cloud reducer exchange file
	PollInterval float64 // 1s
	StaleAfterSec float64 // 300s, surfaced per spec.md §9
}

type TelemetryConfig struct {
	PeerAddr     string
	SourceID     uint32
	CadenceSec   float64 // max(sampleCycle, 10)
	MaxZonesPerPacket int // 72
}

type EnvMonitorConfig struct {
	TwilightElevDeg float64 // e.g. -10
	MinDiskFreeGB   float64
	HousekeepAtLocalHour int // noon by default
}

// AmbientConfig configures the optional mirrors and diagnostics surface
// (SPEC_FULL.md §4.10-4.12). Every field defaults to disabled.
type AmbientConfig struct {
	DiagnosticsBindAddr string // "" disables the websocket hub
	NATSURL             string // "" disables the NATS mirror
	NATSSubject         string
	RedisAddr           string // "" disables the redis snapshot cache
	MetricsBindAddr     string // "" disables the Prometheus endpoint
	HistoryDBPath       string // "" disables the sqlite history store
}

// Default returns a Config with the literal defaults named throughout
// spec.md, suitable as a starting point before the XML reader (or a
// test) overrides fields.
func Default() *Config {
	return &Config{
		SampleRoot:     "/var/lib/wemon/samples",
		RawImageRoot:   "/var/lib/wemon/images",
		RawImagePrefix: "C",
		Weather: WeatherConfig{
			BaudRate:     9600,
			QueryTimeout: 5,
			CycleSleep:   1,
			MaxTimeouts:  3,
		},
		SQM: SQMConfig{
			Port:             10001,
			DiscoveryPort:    30718,
			MaxMissedReplies: 5,
			CycleSleep:       10,
		},
		Camera: CameraConfig{
			ExposureMinMs:  100,
			ExposureMaxMs:  60000,
			SampleCycleSec: 30,
			TargetADU:      40000,
			CentralPatchPx: 512,
		},
		Focus: FocusConfig{
			ConvergenceSigma:   0.1,
			MinAdmissibleStars: 50,
		},
		Reducer: ReducerConfig{
			PollInterval:  1,
			StaleAfterSec: 300,
		},
		Telemetry: TelemetryConfig{
			PeerAddr:          "127.0.0.1:8100",
			CadenceSec:        10,
			MaxZonesPerPacket: 72,
		},
		Env: EnvMonitorConfig{
			TwilightElevDeg:      -10,
			MinDiskFreeGB:        20,
			HousekeepAtLocalHour: 12,
		},
	}
}

// ApplyEnvOverlay loads a .env file (if present) and patches connection
// secrets that operators prefer to keep out of the version-controlled
// XML config. A missing .env is not an error.
func ApplyEnvOverlay(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return err
	}
	if v, ok := vars["WEMON_DIAGNOSTICS_ADDR"]; ok {
		cfg.Ambient.DiagnosticsBindAddr = v
	}
	if v, ok := vars["WEMON_NATS_URL"]; ok {
		cfg.Ambient.NATSURL = v
	}
	if v, ok := vars["WEMON_NATS_SUBJECT"]; ok {
		cfg.Ambient.NATSSubject = v
	}
	if v, ok := vars["WEMON_REDIS_ADDR"]; ok {
		cfg.Ambient.RedisAddr = v
	}
	if v, ok := vars["WEMON_METRICS_ADDR"]; ok {
		cfg.Ambient.MetricsBindAddr = v
	}
	if v, ok := vars["WEMON_HISTORY_DB"]; ok {
		cfg.Ambient.HistoryDBPath = v
	}
	if v, ok := vars["WEMON_SOURCE_ID"]; ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Telemetry.SourceID = uint32(n)
		}
	}
	if v, ok := vars["WEMON_TELEMETRY_PEER"]; ok {
		cfg.Telemetry.PeerAddr = v
	}
	return nil
}
