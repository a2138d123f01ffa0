// Package gemini implements the upstream adapter for the Gemini Live API
// with input-audio transcription enabled. Unlike the socket-level families
// this one goes through the official SDK session.
package gemini

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"google.golang.org/genai"

	"polyscribe/settings"
	"polyscribe/upstream"
)

const eventBuffer = 64

const pcmMimeType = "audio/pcm;rate=16000"

// Adapter is one Gemini Live session used purely for transcription.
type Adapter struct {
	model  string
	apiKey string
	logger *log.Logger

	state  upstream.StateVar
	events chan upstream.Event
	done   chan struct{}

	closeOnce sync.Once
	cancel    context.CancelFunc

	mu      sync.Mutex
	session *genai.Session
}

// New creates an adapter for one model. No I/O happens until Connect.
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

// Connect creates the GenAI client and opens the Live session. The
// transcription configuration travels with the connect call, so the session
// accepts audio as soon as Connect returns.
func (a *Adapter) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  a.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		a.fail()
		return fmt.Errorf("create GenAI client for %s: %w", a.model, err)
	}

	session, err := client.Live.Connect(ctx, modelPath(a.model), settings.Gemini(a.model))
	if err != nil {
		a.fail()
		return fmt.Errorf("connect to Live API for %s: %w", a.model, err)
	}

	a.mu.Lock()
	if a.state.Load() != upstream.StateConnecting {
		a.mu.Unlock()
		session.Close()
		return fmt.Errorf("adapter for %s closed during connect", a.model)
	}
	a.session = session
	a.mu.Unlock()

	a.state.Transition(upstream.StateConnecting, upstream.StateOpen)
	a.logger.Info("open", "kind", "gemini")

	go a.receiveLoop(session)
	return nil
}

// SendAudio forwards one PCM16 frame. Dropped unless the session is open.
func (a *Adapter) SendAudio(pcm []byte) {
	if a.state.Load() != upstream.StateOpen {
		return
	}

	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return
	}

	err := session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: pcmMimeType,
			Data:     pcm,
		},
	})
	if err != nil {
		a.logger.Debug("audio send failed", "err", err)
	}
}

// Close terminates the Live session. Idempotent; safe before Connect
// completes.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		if !a.state.Transition(upstream.StateOpen, upstream.StateClosing) {
			a.state.Transition(upstream.StateConnecting, upstream.StateClosing)
		}
		close(a.done)

		a.mu.Lock()
		if a.cancel != nil {
			a.cancel()
		}
		session := a.session
		a.mu.Unlock()
		if session != nil {
			session.Close()
		}

		a.state.Transition(upstream.StateClosing, upstream.StateClosed)
	})
	return nil
}

func (a *Adapter) receiveLoop(session *genai.Session) {
	for {
		resp, err := session.Receive()
		if err != nil {
			if a.state.Transition(upstream.StateOpen, upstream.StateErrored) {
				a.logger.Error("receive error", "err", err)
			}
			return
		}
		a.translate(resp)
	}
}

// translate extracts the input transcription from a server message. Gemini
// streams append-only fragments, so unfinished results are deltas.
func (a *Adapter) translate(resp *genai.LiveServerMessage) {
	if resp.ServerContent == nil || resp.ServerContent.InputTranscription == nil {
		return
	}

	tr := resp.ServerContent.InputTranscription
	if tr.Text == "" {
		return
	}

	kind := upstream.KindDelta
	if tr.Finished {
		kind = upstream.KindFinal
	}
	a.emit(upstream.Event{Kind: kind, Text: tr.Text, Model: a.model})
}

func (a *Adapter) emit(ev upstream.Event) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}

func (a *Adapter) fail() {
	a.state.Transition(upstream.StateConnecting, upstream.StateErrored)
}

func modelPath(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}
