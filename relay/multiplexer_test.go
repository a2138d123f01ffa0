package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"polyscribe/messages"
	"polyscribe/metrics"
	"polyscribe/upstream"
)

type captureSink struct {
	mu   sync.Mutex
	msgs []*messages.TranscriptionMessage
	ch   chan *messages.TranscriptionMessage
}

func newCaptureSink() *captureSink {
	return &captureSink{ch: make(chan *messages.TranscriptionMessage, 64)}
}

func (s *captureSink) Deliver(msg *messages.TranscriptionMessage) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	s.ch <- msg
}

func (s *captureSink) all() []*messages.TranscriptionMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*messages.TranscriptionMessage, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *captureSink) next(t *testing.T) *messages.TranscriptionMessage {
	t.Helper()
	select {
	case msg := <-s.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a forwarded event")
		return nil
	}
}

func testMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func newTestMux(adapters map[string]*fakeAdapter, ids ...string) (*Multiplexer, *captureSink) {
	reg := NewRegistry()
	reg.CreateAll(specsFor(ids...), fakeFactory(adapters), testLogger())
	sink := newCaptureSink()
	return NewMultiplexer(reg, sink, testLogger(), testMetrics()), sink
}

func TestBroadcastReachesOnlyAcceptingAdapters(t *testing.T) {
	open := newFakeAdapter("model-a")
	open.setState(upstream.StateOpen)
	connecting := newFakeAdapter("model-b") // still StateConnecting
	errored := newFakeAdapter("model-c")
	errored.setState(upstream.StateErrored)

	adapters := map[string]*fakeAdapter{"model-a": open, "model-b": connecting, "model-c": errored}
	mux, _ := newTestMux(adapters, "model-a", "model-b", "model-c")

	frame := []byte{0x01, 0x02, 0x03, 0x04}
	mux.Broadcast(frame)

	if got := open.sent(); len(got) != 1 || !bytes.Equal(got[0], frame) {
		t.Errorf("open adapter: expected the frame once, got %v", got)
	}
	if got := connecting.sent(); len(got) != 0 {
		t.Errorf("connecting adapter: expected no frames, got %d", len(got))
	}
	if got := errored.sent(); len(got) != 0 {
		t.Errorf("errored adapter: expected no frames, got %d", len(got))
	}
}

func TestHandleMessageAudioRoundTrip(t *testing.T) {
	open := newFakeAdapter("model-a")
	open.setState(upstream.StateOpen)
	mux, _ := newTestMux(map[string]*fakeAdapter{"model-a": open}, "model-a")

	// PCM16 sample sequence with bytes across the full range.
	pcm := []byte{0x00, 0x80, 0xFF, 0x7F, 0x10, 0x20, 0x00, 0x00}
	env := messages.AppendEnvelope(pcm)

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	mux.HandleMessage(raw)

	got := open.sent()
	if len(got) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(got))
	}
	if !bytes.Equal(got[0], pcm) {
		t.Errorf("decoded PCM differs from original: got %v, want %v", got[0], pcm)
	}
}

func TestHandleMessageIgnoresUnknownAndMalformed(t *testing.T) {
	open := newFakeAdapter("model-a")
	open.setState(upstream.StateOpen)
	mux, sink := newTestMux(map[string]*fakeAdapter{"model-a": open}, "model-a")

	tests := []struct {
		name string
		raw  []byte
	}{
		{"unknown type", []byte(`{"type":"session.refresh","audio":""}`)},
		{"malformed json", []byte(`{"type":`)},
		{"bad base64", []byte(`{"type":"input_audio_buffer.append","audio":"not&base64!"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux.HandleMessage(tt.raw)
			if got := open.sent(); len(got) != 0 {
				t.Errorf("expected no broadcast, got %d frames", len(got))
			}
			if got := sink.all(); len(got) != 0 {
				t.Errorf("expected no outbound messages, got %d", len(got))
			}
		})
	}
}

func TestEventForwardingPreservesModelTags(t *testing.T) {
	a := newFakeAdapter("model-a")
	b := newFakeAdapter("model-b")
	mux, sink := newTestMux(map[string]*fakeAdapter{"model-a": a, "model-b": b}, "model-a", "model-b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mux.Start(ctx)

	// Interleave events from both models.
	a.events <- upstream.Event{Kind: upstream.KindDelta, Text: "hel", Model: "model-a"}
	b.events <- upstream.Event{Kind: upstream.KindInterim, Text: "wor", Model: "model-b"}
	a.events <- upstream.Event{Kind: upstream.KindFinal, Text: "hello", Model: "model-a"}
	b.events <- upstream.Event{Kind: upstream.KindFinal, Text: "world", Model: "model-b"}

	byModel := map[string][]*messages.TranscriptionMessage{}
	for i := 0; i < 4; i++ {
		msg := sink.next(t)
		byModel[msg.Platform] = append(byModel[msg.Platform], msg)
	}

	gotA := byModel["model-a"]
	if len(gotA) != 2 || gotA[0].Type != "delta" || gotA[0].Transcript != "hel" ||
		gotA[1].Type != "transcript" || gotA[1].Transcript != "hello" {
		t.Errorf("model-a stream wrong or reordered: %+v", gotA)
	}

	gotB := byModel["model-b"]
	if len(gotB) != 2 || gotB[0].Type != "interim" || gotB[0].Transcript != "wor" ||
		gotB[1].Type != "transcript" || gotB[1].Transcript != "world" {
		t.Errorf("model-b stream wrong or reordered: %+v", gotB)
	}
}

func TestEmptyTextNeverForwarded(t *testing.T) {
	a := newFakeAdapter("model-a")
	mux, sink := newTestMux(map[string]*fakeAdapter{"model-a": a}, "model-a")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mux.Start(ctx)

	a.events <- upstream.Event{Kind: upstream.KindFinal, Text: "", Model: "model-a"}
	a.events <- upstream.Event{Kind: upstream.KindFinal, Text: "kept", Model: "model-a"}

	if msg := sink.next(t); msg.Transcript != "kept" {
		t.Errorf("expected only the non-empty event, got %q", msg.Transcript)
	}
	if got := sink.all(); len(got) != 1 {
		t.Errorf("expected exactly 1 outbound message, got %d", len(got))
	}
}

func TestDisconnectBeforeOpenDropsAudioAndClosesAll(t *testing.T) {
	a := newFakeAdapter("model-a")
	a.blockConnect = true
	b := newFakeAdapter("model-b")
	b.blockConnect = true

	mux, _ := newTestMux(map[string]*fakeAdapter{"model-a": a, "model-b": b}, "model-a", "model-b")

	ctx, cancel := context.WithCancel(context.Background())
	mux.Start(ctx)

	// Audio arrives while both handshakes are still pending.
	mux.Broadcast([]byte{0x01, 0x02})

	// Immediate disconnect.
	cancel()
	if err := mux.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, f := range []*fakeAdapter{a, b} {
		if got := f.sent(); len(got) != 0 {
			t.Errorf("%s: expected no sendAudio calls, got %d", f.model, len(got))
		}
		if f.closed() != 1 {
			t.Errorf("%s: expected exactly 1 close call, got %d", f.model, f.closed())
		}
	}
}

func TestAdapterFailureIsIsolated(t *testing.T) {
	a := newFakeAdapter("model-a")
	a.connectErr = errors.New("handshake rejected")
	b := newFakeAdapter("model-b")

	mux, sink := newTestMux(map[string]*fakeAdapter{"model-a": a, "model-b": b}, "model-a", "model-b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mux.Start(ctx)

	b.events <- upstream.Event{Kind: upstream.KindInterim, Text: "still here", Model: "model-b"}

	msg := sink.next(t)
	if msg.Platform != "model-b" || msg.Transcript != "still here" {
		t.Errorf("expected model-b event, got %+v", msg)
	}

	// No outbound message of any kind is synthesized for the dead model.
	for _, m := range sink.all() {
		if m.Platform == "model-a" {
			t.Errorf("unexpected outbound message for failed model: %+v", m)
		}
	}
}
