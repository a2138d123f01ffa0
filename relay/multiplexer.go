package relay

import (
	"context"

	"github.com/charmbracelet/log"

	"polyscribe/messages"
	"polyscribe/metrics"
	"polyscribe/upstream"
)

// Sink receives normalized events bound for the client. Implementations must
// drop silently when the client transport is no longer writable.
type Sink interface {
	Deliver(msg *messages.TranscriptionMessage)
}

// Multiplexer routes one client's audio to every registered adapter and each
// adapter's normalized events back to the client sink.
type Multiplexer struct {
	registry *Registry
	sink     Sink
	logger   *log.Logger
	metrics  *metrics.Metrics
}

// NewMultiplexer wires a registry to a client sink.
func NewMultiplexer(registry *Registry, sink Sink, logger *log.Logger, m *metrics.Metrics) *Multiplexer {
	return &Multiplexer{
		registry: registry,
		sink:     sink,
		logger:   logger,
		metrics:  m,
	}
}

// Registry exposes the backend set, mainly for introspection endpoints.
func (m *Multiplexer) Registry() *Registry {
	return m.registry
}

// Start connects every adapter and begins forwarding its events. Each
// backend gets its own goroutine: one adapter's slow handshake or failure
// never delays or tears down its siblings.
func (m *Multiplexer) Start(ctx context.Context) {
	m.registry.ForEach(func(e *Entry) {
		go m.runAdapter(ctx, e)
	})
}

func (m *Multiplexer) runAdapter(ctx context.Context, e *Entry) {
	if err := e.Adapter.Connect(ctx); err != nil {
		// Isolated failure: this model's column goes silent, nothing else.
		m.metrics.AdapterErrors.WithLabelValues(e.ModelID).Inc()
		m.logger.Error("upstream connect failed", "platform", e.ModelID, "err", err)
		return
	}
	m.metrics.AdaptersOpened.WithLabelValues(e.ModelID).Inc()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.Adapter.Events():
			if !ok {
				return
			}
			m.forward(ev)
		}
	}
}

// forward relays one event to the client, preserving per-model arrival
// order. Empty results never reach the wire.
func (m *Multiplexer) forward(ev upstream.Event) {
	if ev.Text == "" {
		return
	}
	m.metrics.EventsForwarded.WithLabelValues(ev.Model, ev.Kind.String()).Inc()
	m.sink.Deliver(messages.FromEvent(ev))
}

// HandleMessage processes one raw client frame. Malformed envelopes and
// unrecognized types are dropped without closing the connection.
func (m *Multiplexer) HandleMessage(raw []byte) {
	env, err := messages.DecodeEnvelope(raw)
	if err != nil {
		m.metrics.ParseErrors.Inc()
		m.logger.Warn("dropping malformed envelope", "err", err)
		return
	}

	switch env.Type {
	case messages.TypeAudioAppend:
		pcm, err := env.PCM()
		if err != nil {
			m.metrics.ParseErrors.Inc()
			m.logger.Warn("dropping undecodable audio", "err", err)
			return
		}
		m.Broadcast(pcm)
	default:
		m.logger.Debug("ignoring envelope", "type", env.Type)
	}
}

// Broadcast fans one PCM frame out to every adapter. Delivery is
// fire-and-forget per adapter; adapters that are not accepting audio drop
// the frame themselves.
func (m *Multiplexer) Broadcast(pcm []byte) {
	m.metrics.FramesBroadcast.Inc()
	m.metrics.BytesBroadcast.Add(float64(len(pcm)))
	m.registry.ForEach(func(e *Entry) {
		e.Adapter.SendAudio(pcm)
	})
}

// Close drains the registry. Called synchronously on client disconnect.
func (m *Multiplexer) Close() error {
	return m.registry.CloseAll()
}
