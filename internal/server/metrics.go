package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the gateway's Prometheus collectors.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	FramesEmitted  *prometheus.CounterVec
	FrameBytes     prometheus.Counter
	SessionErrors  prometheus.Counter
	InputEvents    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "openterm",
			Name:      "active_sessions",
			Help:      "Number of active remote desktop sessions.",
		}),
		FramesEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openterm",
			Name:      "frames_emitted_total",
			Help:      "Frame updates emitted to clients, by frame type.",
		}, []string{"type"}),
		FrameBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "openterm",
			Name:      "frame_bytes_total",
			Help:      "Total encoded frame payload bytes emitted.",
		}),
		SessionErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "openterm",
			Name:      "session_errors_total",
			Help:      "Sessions that ended with an error.",
		}),
		InputEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "openterm",
			Name:      "input_events_total",
			Help:      "Input events forwarded to remote hosts.",
		}),
	}
}
