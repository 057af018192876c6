// Command wemond is the unattended weather/sky/camera monitoring
// daemon for an optical observatory (spec.md §1). It wires the
// pollers, the camera pipeline, the environment monitor's twilight
// schedule, the telemetry publisher, and the optional diagnostics
// mirrors together, then runs until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/salmingo/wemon-public/internal/ambient"
	"github.com/salmingo/wemon-public/internal/camera"
	"github.com/salmingo/wemon-public/internal/cloudreducer"
	"github.com/salmingo/wemon-public/internal/config"
	"github.com/salmingo/wemon-public/internal/diagnostics"
	"github.com/salmingo/wemon-public/internal/envmonitor"
	"github.com/salmingo/wemon-public/internal/focus"
	"github.com/salmingo/wemon-public/internal/history"
	"github.com/salmingo/wemon-public/internal/metrics"
	"github.com/salmingo/wemon-public/internal/obslog"
	"github.com/salmingo/wemon-public/internal/sqm"
	"github.com/salmingo/wemon-public/internal/telemetry"
	"github.com/salmingo/wemon-public/internal/transport"
	"github.com/salmingo/wemon-public/internal/weather"
)

func main() {
	var (
		showHelp   = flag.Bool("h", false, "show usage")
		showDef    = flag.Bool("d", false, "print the default configuration and exit")
		configPath = flag.String("c", "", "path to an XML configuration file")
		sqmOnly    = flag.Bool("f", false, "run SQM UDP discovery and exit")
	)
	flag.BoolVar(showHelp, "help", false, "show usage")
	flag.BoolVar(showDef, "default", false, "print the default configuration and exit")
	flag.StringVar(configPath, "config", "", "path to an XML configuration file")
	flag.BoolVar(sqmOnly, "sqm", false, "run SQM UDP discovery and exit")
	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if *showDef {
		printDefaultConfig(os.Stdout)
		os.Exit(0)
	}
	if *sqmOnly {
		os.Exit(runDiscoveryOnly())
	}

	cfg := config.Default()
	if *configPath != "" {
		fmt.Fprintf(os.Stderr, "wemond: XML config reading is not built into this repository; running with defaults + .env overlay (see -d)\n")
	}
	if err := config.ApplyEnvOverlay(cfg, filepath.Join(".", ".env")); err != nil {
		fmt.Fprintf(os.Stderr, "wemond: .env overlay: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "wemond: %v\n", err)
		os.Exit(1)
	}
}

func printDefaultConfig(w io.Writer) {
	cfg := config.Default()
	fmt.Fprintf(w, "<!-- wemond default configuration -->\n")
	fmt.Fprintf(w, "<config>\n  <sampleRoot>%s</sampleRoot>\n  <rawImageRoot>%s</rawImageRoot>\n  <rawImagePrefix>%s</rawImagePrefix>\n</config>\n",
		cfg.SampleRoot, cfg.RawImageRoot, cfg.RawImagePrefix)
}

func runDiscoveryOnly() int {
	devices, err := sqm.Discover("255.255.255.255", time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wemond: sqm discovery: %v\n", err)
		return 1
	}
	for _, d := range devices {
		fmt.Printf("%+v\n", d)
	}
	return 0
}

func run(cfg *config.Config) error {
	logger, err := obslog.New(obslog.DefaultConfig(filepath.Join(cfg.SampleRoot, "logs")))
	if err != nil {
		return fmt.Errorf("open log sink: %w", err)
	}
	defer logger.Close()

	var historyStore *history.Store
	if cfg.Ambient.HistoryDBPath != "" {
		historyStore, err = history.Open(cfg.Ambient.HistoryDBPath)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer historyStore.Close()
	}

	m := metrics.NewMetrics()

	weatherPoller := weather.NewPoller(cfg.Weather, cfg.SampleRoot, logger, openSerial)
	weatherPoller.Metrics = m
	sqmPoller := sqm.NewPoller(cfg.SQM.Host, cfg.SQM.MaxMissedReplies, cfg.SQM.CycleSleep, cfg.SampleRoot, logger)
	sqmPoller.Metrics = m
	reducer := cloudreducer.NewReader(cfg.Reducer.ExchangeFile, cfg.SampleRoot, cfg.Reducer.PollInterval, cfg.Reducer.StaleAfterSec, logger)

	publisher, err := telemetry.NewPublisher(weatherPoller, sqmPoller, reducer,
		cfg.Telemetry.SourceID, cfg.Telemetry.MaxZonesPerPacket, cfg.Telemetry.CadenceSec, cfg.Telemetry.PeerAddr, cfg.Site.TZOffsetHours, logger)
	if err != nil {
		return fmt.Errorf("build telemetry publisher: %w", err)
	}
	publisher.Metrics = m

	closers := wireAmbient(cfg, logger, publisher)
	defer closers.closeAll()

	var focusSock *transport.Datagram
	if cfg.Focus.RemoteAddr != "" {
		peer, err := net.ResolveUDPAddr("udp", cfg.Focus.RemoteAddr)
		if err != nil {
			return fmt.Errorf("resolve focuser address: %w", err)
		}
		focusSock, err = transport.Listen(":0", peer)
		if err != nil {
			return fmt.Errorf("open focus command socket: %w", err)
		}
	}

	extractor, err := camera.NewExtractor(cfg.Camera.StarExtractorPath, cfg.Camera.StarExtractorTempDir)
	if err != nil {
		return fmt.Errorf("prepare star extractor: %w", err)
	}

	env, err := envmonitor.New(cfg.Env, cfg.Site, time.Local, cfg.RawImageRoot, cfg.RawImagePrefix, cfg.Focus.ListenAddr, logger, historyStore)
	if err != nil {
		return fmt.Errorf("build environment monitor: %w", err)
	}
	env.NewSQM = func() envmonitor.NightRunner {
		return nightRunnerFunc(func(ctx context.Context) error { sqmPoller.Run(ctx); return nil })
	}
	env.NewCamera = func() (envmonitor.NightRunner, envmonitor.FocusDispatcher) {
		driver := camera.NewSimDriver(time.Now().UnixNano(), 1024, 1024)
		focusCtl := focus.NewController(cfg.Focus.ExpectedFWHM, cfg.Focus.ExpectedFWHMErr, cfg.Focus.ConvergenceSigma)
		pipeline := camera.NewPipeline(driver, camera.BasicWriter{}, extractor, focusCtl, focusSock,
			cfg.Camera, cfg.Site, cfg.Focus.MinAdmissibleStars, cfg.SampleRoot, cfg.RawImageRoot, cfg.RawImagePrefix, logger)
		pipeline.Metrics = m
		return pipeline, pipeline
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sig
		logger.Info(obslog.System, "received signal %v, shutting down", s)
		cancel()
	}()

	var wg sync.WaitGroup
	runComponent := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				logger.Error(obslog.System, "%s exited: %v", name, err)
			}
		}()
	}

	runComponent("weather", func(ctx context.Context) error { weatherPoller.Run(ctx); return nil })
	runComponent("cloud reducer", func(ctx context.Context) error { reducer.Run(ctx); return nil })
	runComponent("telemetry publisher", publisher.Run)
	runComponent("environment monitor", env.Run)

	logger.Info(obslog.System, "wemond started, source-id=%d", cfg.Telemetry.SourceID)
	wg.Wait()
	logger.Info(obslog.System, "wemond stopped")
	return nil
}

type ambientClosers struct {
	fns []func()
}

func (c *ambientClosers) closeAll() {
	for i := len(c.fns) - 1; i >= 0; i-- {
		c.fns[i]()
	}
}

// wireAmbient turns on the cross-process mirrors and diagnostics
// surfaces of SPEC_FULL.md §4.10-4.12; every field of AmbientConfig
// defaults to "" (disabled), so a bare Default() config runs with none
// of these attached. The Prometheus collectors themselves are wired
// directly into the pollers/publisher/pipeline by the caller; here the
// metrics concern only gains an optional HTTP exposition endpoint,
// since promauto registers every collector against the default
// registry promhttp.Handler already serves.
func wireAmbient(cfg *config.Config, logger *obslog.Logger, publisher *telemetry.Publisher) *ambientClosers {
	closers := &ambientClosers{}

	if cfg.Ambient.DiagnosticsBindAddr != "" {
		hub := diagnostics.NewHub(logger)
		stopCh := make(chan struct{})
		go hub.Run(stopCh)
		go func() {
			if err := hub.ListenAndServe(cfg.Ambient.DiagnosticsBindAddr); err != nil {
				logger.Warn(obslog.Network, "diagnostics hub stopped: %v", err)
			}
		}()
		publisher.AddSnapshotSink(hub)
		closers.fns = append(closers.fns, func() { close(stopCh) })
	}

	if cfg.Ambient.NATSURL != "" {
		mirror := ambient.NewNATSMirror(cfg.Ambient.NATSSubject, logger)
		if err := mirror.Connect(cfg.Ambient.NATSURL); err != nil {
			logger.Warn(obslog.Network, "nats mirror: %v", err)
		}
		publisher.AddMirror(mirror)
		closers.fns = append(closers.fns, mirror.Close)
	}

	if cfg.Ambient.RedisAddr != "" {
		cache := ambient.NewSnapshotCache(cfg.Ambient.RedisAddr, "wemon:latest", logger)
		publisher.AddSnapshotSink(cache)
		closers.fns = append(closers.fns, func() { cache.Close() })
	}

	if cfg.Ambient.MetricsBindAddr != "" {
		go func() {
			if err := metrics.ListenAndServe(cfg.Ambient.MetricsBindAddr); err != nil {
				logger.Warn(obslog.Network, "metrics endpoint stopped: %v", err)
			}
		}()
	}

	return closers
}

func openSerial(device string, baud int) (io.ReadWriteCloser, error) {
	return transport.OpenTTY(device, baud)
}

// nightRunnerFunc adapts a plain function to envmonitor.NightRunner.
type nightRunnerFunc func(ctx context.Context) error

func (f nightRunnerFunc) Run(ctx context.Context) error { return f(ctx) }
