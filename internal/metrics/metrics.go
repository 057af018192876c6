// Package metrics exposes the daemon's Prometheus surface: per-channel
// liveness, reconnect counts, telemetry throughput and the focus-step
// distribution (SPEC_FULL.md ambient stack).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the daemon registers. Zero value is
// unusable; construct with NewMetrics.
type Metrics struct {
	ChannelState *prometheus.GaugeVec
	Reconnects   *prometheus.CounterVec
	FramesTotal  *prometheus.CounterVec

	TelemetryPacketsSent prometheus.Counter
	TelemetryZonesSent   prometheus.Counter

	FocusStepMagnitude prometheus.Histogram
	FocusSessions      *prometheus.CounterVec

	CameraExposureSeconds prometheus.Gauge
	CameraMeanCenterADU   prometheus.Gauge
}

// NewMetrics constructs every collector through promauto, which
// registers each one against the default Prometheus registry (the one
// promhttp.Handler serves), following the "one Metrics struct wraps
// NewXxx calls" pattern.
func NewMetrics() *Metrics {
	return &Metrics{
		ChannelState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "wemon",
				Subsystem: "channel",
				Name:      "state",
				Help:      "Channel liveness state (0=OK,1=NOT_CONNECTED,2=NO_DATA,3=OFFLINE)",
			},
			[]string{"channel"},
		),
		Reconnects: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wemon",
				Subsystem: "transport",
				Name:      "reconnects_total",
				Help:      "Total reconnection attempts per channel",
			},
			[]string{"channel"},
		),
		FramesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wemon",
				Subsystem: "camera",
				Name:      "frames_total",
				Help:      "Total frames produced by the camera pipeline",
			},
			[]string{"outcome"},
		),
		TelemetryPacketsSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "wemon",
			Subsystem: "telemetry",
			Name:      "packets_sent_total",
			Help:      "Total PDXP packets sent, including shards",
		}),
		TelemetryZonesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "wemon",
			Subsystem: "telemetry",
			Name:      "zones_sent_total",
			Help:      "Total cloud-map zones sent across all packets",
		}),
		FocusStepMagnitude: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wemon",
			Subsystem: "focus",
			Name:      "step_magnitude",
			Help:      "Absolute magnitude of autofocus step commands",
			Buckets:   []float64{100, 500, 2000, 5000},
		}),
		FocusSessions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wemon",
				Subsystem: "focus",
				Name:      "sessions_total",
				Help:      "Total autofocus sessions by outcome",
			},
			[]string{"outcome"},
		),
		CameraExposureSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "wemon",
			Subsystem: "camera",
			Name:      "exposure_seconds",
			Help:      "Current programmed exposure duration",
		}),
		CameraMeanCenterADU: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "wemon",
			Subsystem: "camera",
			Name:      "mean_center_adu",
			Help:      "Mean ADU of the most recent frame's central patch",
		}),
	}
}

// ObserveChannelState sets the channel-state gauge to byte(state) for
// the named channel.
func (m *Metrics) ObserveChannelState(channel string, stateByte byte) {
	m.ChannelState.WithLabelValues(channel).Set(float64(stateByte))
}

// ListenAndServe binds addr and serves /metrics until the process
// exits or the listener errors. Runs in its own goroutine from the
// caller.
func ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
