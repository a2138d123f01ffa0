// Package metrics exposes Prometheus instrumentation for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the relay service.
type Metrics struct {
	// Client session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter

	// Audio fan-out metrics
	FramesBroadcast prometheus.Counter
	BytesBroadcast  prometheus.Counter
	ParseErrors     prometheus.Counter

	// Upstream adapter metrics
	AdaptersOpened  *prometheus.CounterVec
	AdapterErrors   *prometheus.CounterVec
	EventsForwarded *prometheus.CounterVec
}

// New creates and registers all relay metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Current number of connected client sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_created_total",
			Help: "Total number of client sessions created",
		}),
		FramesBroadcast: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_broadcast_total",
			Help: "Total number of audio frames fanned out to upstream adapters",
		}),
		BytesBroadcast: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_bytes_broadcast_total",
			Help: "Total PCM bytes fanned out to upstream adapters",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_envelope_parse_errors_total",
			Help: "Total number of malformed client envelopes dropped",
		}),
		AdaptersOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_adapters_opened_total",
			Help: "Total number of upstream sessions that reached the open state",
		}, []string{"platform"}),
		AdapterErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_adapter_errors_total",
			Help: "Total number of upstream adapter failures",
		}, []string{"platform"}),
		EventsForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_forwarded_total",
			Help: "Total number of transcription events forwarded to clients",
		}, []string{"platform", "kind"}),
	}
}

// NewDefault registers on the default Prometheus registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}
