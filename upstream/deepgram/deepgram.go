// Package deepgram implements the upstream adapter for Deepgram's live
// transcription API via the official SDK. The SDK owns the socket; this
// adapter is the callback receiver that normalizes its events.
package deepgram

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/listen"

	"polyscribe/settings"
	"polyscribe/upstream"
)

const eventBuffer = 64

// Adapter is one Deepgram live transcription session.
type Adapter struct {
	model  string
	apiKey string
	logger *log.Logger

	state  upstream.StateVar
	events chan upstream.Event
	done   chan struct{}

	closeOnce sync.Once

	mu     sync.Mutex
	client *listen.LiveClient
}

// New creates an adapter for one model. The model id keeps its "deepgram-"
// platform prefix; the upstream name is derived in the settings bundle.
func New(model, apiKey string, logger *log.Logger) *Adapter {
	return &Adapter{
		model:  model,
		apiKey: apiKey,
		logger: logger.With("platform", model),
		events: make(chan upstream.Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

func (a *Adapter) Model() string { return a.model }

func (a *Adapter) State() upstream.State { return a.state.Load() }

func (a *Adapter) Events() <-chan upstream.Event { return a.events }

// Connect establishes the live transcription connection. The SDK sends the
// settings as query parameters during the handshake, so the session accepts
// audio as soon as Connect returns.
func (a *Adapter) Connect(ctx context.Context) error {
	cOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	tOptions := settings.Deepgram(a.model)

	client, err := listen.NewWebSocket(ctx, a.apiKey, cOptions, tOptions, &receiver{a})
	if err != nil {
		a.state.Transition(upstream.StateConnecting, upstream.StateErrored)
		return fmt.Errorf("error creating live transcription connection for %s: %w", a.model, err)
	}

	a.mu.Lock()
	if a.state.Load() != upstream.StateConnecting {
		a.mu.Unlock()
		return fmt.Errorf("adapter for %s closed during connect", a.model)
	}
	a.client = client
	a.mu.Unlock()

	if !client.Connect() {
		a.state.Transition(upstream.StateConnecting, upstream.StateErrored)
		return fmt.Errorf("failed to connect to Deepgram for %s", a.model)
	}

	a.state.Transition(upstream.StateConnecting, upstream.StateOpen)
	return nil
}

// SendAudio forwards one PCM16 frame. Dropped unless the session is open.
func (a *Adapter) SendAudio(pcm []byte) {
	if a.state.Load() != upstream.StateOpen {
		return
	}

	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return
	}

	if err := client.WriteBinary(pcm); err != nil {
		a.logger.Debug("audio send failed", "err", err)
	}
}

// Close stops the SDK client. Idempotent; safe before Connect completes.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		if !a.state.Transition(upstream.StateOpen, upstream.StateClosing) {
			a.state.Transition(upstream.StateConnecting, upstream.StateClosing)
		}
		close(a.done)

		a.mu.Lock()
		client := a.client
		a.mu.Unlock()
		if client != nil {
			client.Stop()
		}

		a.state.Transition(upstream.StateClosing, upstream.StateClosed)
	})
	return nil
}

func (a *Adapter) emit(ev upstream.Event) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}

// receiver implements the SDK's callback interface. It lives apart from
// Adapter because the SDK wants a Close(*CloseResponse) method that would
// collide with the adapter's own Close.
type receiver struct {
	a *Adapter
}

// Message normalizes one transcript result: best-ranked alternative only,
// empty text dropped, is_final decides final vs interim. Deepgram interims
// replace the whole hypothesis, so partials are interims, never deltas.
func (r *receiver) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}

	transcript := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	if len(transcript) == 0 {
		return nil
	}

	kind := upstream.KindInterim
	if mr.IsFinal {
		kind = upstream.KindFinal
	}
	r.a.emit(upstream.Event{Kind: kind, Text: transcript, Model: r.a.model})
	return nil
}

func (r *receiver) Open(ocr *api.OpenResponse) error {
	r.a.state.Transition(upstream.StateConnecting, upstream.StateOpen)
	r.a.logger.Info("open", "kind", "deepgram")
	return nil
}

func (r *receiver) Metadata(md *api.MetadataResponse) error {
	r.a.logger.Debug("metadata", "request_id", md.RequestID)
	return nil
}

func (r *receiver) SpeechStarted(ssr *api.SpeechStartedResponse) error {
	r.a.logger.Debug("speech start", "timestamp", ssr.Timestamp)
	return nil
}

func (r *receiver) UtteranceEnd(ur *api.UtteranceEndResponse) error {
	r.a.logger.Debug("utterance end", "timestamp", ur.LastWordEnd)
	return nil
}

func (r *receiver) Close(ocr *api.CloseResponse) error {
	r.a.state.Transition(upstream.StateOpen, upstream.StateClosed)
	r.a.logger.Info("closed", "reason", ocr.Type)
	return nil
}

func (r *receiver) Error(er *api.ErrorResponse) error {
	if r.a.state.Transition(upstream.StateOpen, upstream.StateErrored) ||
		r.a.state.Transition(upstream.StateConnecting, upstream.StateErrored) {
		r.a.logger.Error("upstream error", "type", er.Type, "description", er.Description)
	}
	return nil
}

func (r *receiver) UnhandledEvent(byData []byte) error {
	r.a.logger.Warn("unhandled event", "data", string(byData))
	return nil
}
