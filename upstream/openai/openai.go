// Package openai implements the upstream adapter for the OpenAI Realtime
// transcription API. The protocol is plain WebSocket: a session-update
// handshake on open, base64 audio append messages in, JSON events out.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"polyscribe/settings"
	"polyscribe/upstream"
)

const realtimeURL = "wss://api.openai.com/v1/realtime?intent=transcription"

// Event types emitted by the Realtime transcription session.
const (
	eventTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	eventTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
	eventError                  = "error"
)

const eventBuffer = 64

type sessionUpdate struct {
	Type    string                 `json:"type"`
	Session settings.OpenAISession `json:"session"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type serverEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Delta      string `json:"delta"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Adapter is one OpenAI Realtime transcription session.
type Adapter struct {
	model  string
	apiKey string
	url    string
	logger *log.Logger

	state  upstream.StateVar
	events chan upstream.Event
	done   chan struct{}

	closeOnce sync.Once
	cancel    context.CancelFunc

	mu   sync.Mutex // guards conn writes and the conn pointer itself
	conn *websocket.Conn
}

// New creates an adapter for one model. No I/O happens until Connect.
func New(model, apiKey string, logger *log.Logger) *Adapter {
	return &Adapter{
		model:  model,
		apiKey: apiKey,
		url:    realtimeURL,
		logger: logger.With("platform", model),
		events: make(chan upstream.Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

// NewWithURL creates an adapter pointed at a non-default endpoint.
func NewWithURL(model, apiKey, url string, logger *log.Logger) *Adapter {
	a := New(model, apiKey, logger)
	a.url = url
	return a
}

func (a *Adapter) Model() string { return a.model }

func (a *Adapter) State() upstream.State { return a.state.Load() }

func (a *Adapter) Events() <-chan upstream.Event { return a.events }

// Connect dials the Realtime endpoint and sends the transcription session
// settings before any audio is accepted. Cancelling ctx (or calling Close)
// aborts a pending dial without leaking the handshake.
func (a *Adapter) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, a.url, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		a.fail()
		return fmt.Errorf("dial realtime endpoint for %s: %w", a.model, err)
	}

	a.mu.Lock()
	if a.state.Load() != upstream.StateConnecting {
		// Closed while the dial was in flight.
		a.mu.Unlock()
		conn.Close()
		return fmt.Errorf("adapter for %s closed during connect", a.model)
	}
	a.conn = conn

	payload, err := sonic.Marshal(sessionUpdate{
		Type:    "transcription_session.update",
		Session: settings.OpenAI(a.model),
	})
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, payload)
	}
	a.mu.Unlock()

	if err != nil {
		a.fail()
		conn.Close()
		return fmt.Errorf("send session settings for %s: %w", a.model, err)
	}

	a.state.Transition(upstream.StateConnecting, upstream.StateOpen)
	a.logger.Info("open", "kind", "openai")

	go a.readLoop(conn)
	return nil
}

// SendAudio forwards one PCM16 frame. Frames are dropped unless the session
// is open; delivery failures are fire-and-forget.
func (a *Adapter) SendAudio(pcm []byte) {
	if a.state.Load() != upstream.StateOpen {
		return
	}

	payload, err := sonic.Marshal(audioAppend{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
	if err != nil {
		return
	}

	a.mu.Lock()
	conn := a.conn
	if conn != nil {
		err = conn.WriteMessage(websocket.TextMessage, payload)
	}
	a.mu.Unlock()

	if err != nil {
		a.logger.Debug("audio send failed", "err", err)
	}
}

// Close tears the session down. Idempotent; safe to call before Connect
// returns.
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
		if a.conn != nil {
			a.conn.Close()
		}
		a.mu.Unlock()

		a.state.Transition(upstream.StateClosing, upstream.StateClosed)
	})
	return nil
}

func (a *Adapter) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if a.state.Transition(upstream.StateOpen, upstream.StateErrored) {
				a.logger.Error("socket error", "err", err)
			}
			return
		}

		var ev serverEvent
		if err := sonic.Unmarshal(raw, &ev); err != nil {
			a.logger.Warn("unparseable event", "err", err)
			continue
		}

		a.translate(ev)
	}
}

// translate maps a Realtime event to the normalized shape. OpenAI streams
// append-only fragments, so partial results are deltas, never interims.
func (a *Adapter) translate(ev serverEvent) {
	switch ev.Type {
	case eventTranscriptionCompleted:
		if ev.Transcript == "" {
			return
		}
		a.emit(upstream.Event{Kind: upstream.KindFinal, Text: ev.Transcript, Model: a.model})
	case eventTranscriptionDelta:
		if ev.Delta == "" {
			return
		}
		a.emit(upstream.Event{Kind: upstream.KindDelta, Text: ev.Delta, Model: a.model})
	case eventError:
		if ev.Error != nil {
			a.logger.Error("upstream error event", "message", ev.Error.Message)
		}
	default:
		// Session acks, VAD markers and other event types are not relayed.
	}
}

func (a *Adapter) emit(ev upstream.Event) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}

func (a *Adapter) fail() {
	if !a.state.Transition(upstream.StateConnecting, upstream.StateErrored) {
		a.state.Transition(upstream.StateOpen, upstream.StateErrored)
	}
}
