package deepgram

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"

	"polyscribe/upstream"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

// messageFixture builds an SDK result the way it arrives on the wire.
func messageFixture(t *testing.T, raw string) *api.MessageResponse {
	t.Helper()
	var mr api.MessageResponse
	if err := json.Unmarshal([]byte(raw), &mr); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	return &mr
}

func TestReceiverMessage(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKind upstream.Kind
		wantText string
		dropped  bool
	}{
		{
			name:     "final result",
			raw:      `{"is_final":true,"channel":{"alternatives":[{"transcript":"hello world"}]}}`,
			wantKind: upstream.KindFinal,
			wantText: "hello world",
		},
		{
			name:     "interim result",
			raw:      `{"is_final":false,"channel":{"alternatives":[{"transcript":"hello wor"}]}}`,
			wantKind: upstream.KindInterim,
			wantText: "hello wor",
		},
		{
			name:     "best alternative wins",
			raw:      `{"is_final":true,"channel":{"alternatives":[{"transcript":"first"},{"transcript":"second"}]}}`,
			wantKind: upstream.KindFinal,
			wantText: "first",
		},
		{
			name:     "surrounding whitespace trimmed",
			raw:      `{"is_final":true,"channel":{"alternatives":[{"transcript":"  spaced  "}]}}`,
			wantKind: upstream.KindFinal,
			wantText: "spaced",
		},
		{
			name:    "empty transcript dropped",
			raw:     `{"is_final":false,"channel":{"alternatives":[{"transcript":""}]}}`,
			dropped: true,
		},
		{
			name:    "whitespace-only transcript dropped",
			raw:     `{"is_final":true,"channel":{"alternatives":[{"transcript":"   "}]}}`,
			dropped: true,
		},
		{
			name:    "no alternatives",
			raw:     `{"is_final":true,"channel":{"alternatives":[]}}`,
			dropped: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New("deepgram-nova-3", "key", testLogger())
			r := &receiver{a}

			if err := r.Message(messageFixture(t, tt.raw)); err != nil {
				t.Fatalf("Message: %v", err)
			}

			select {
			case ev := <-a.events:
				if tt.dropped {
					t.Fatalf("expected no event, got %+v", ev)
				}
				if ev.Kind != tt.wantKind || ev.Text != tt.wantText {
					t.Errorf("got %+v, want kind=%v text=%q", ev, tt.wantKind, tt.wantText)
				}
				if ev.Model != "deepgram-nova-3" {
					t.Errorf("platform tag must keep the deepgram- prefix: %+v", ev)
				}
			default:
				if !tt.dropped {
					t.Fatal("expected an event")
				}
			}
		})
	}
}

func TestReceiverOpenTransitionsState(t *testing.T) {
	a := New("deepgram-nova-2", "key", testLogger())
	r := &receiver{a}

	if err := r.Open(&api.OpenResponse{}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if a.State() != upstream.StateOpen {
		t.Errorf("expected open, got %v", a.State())
	}
}

func TestReceiverCloseAndError(t *testing.T) {
	a := New("deepgram-nova-2", "key", testLogger())
	r := &receiver{a}
	r.Open(&api.OpenResponse{})

	if err := r.Error(&api.ErrorResponse{Type: "Error", Description: "boom"}); err != nil {
		t.Fatalf("Error: %v", err)
	}
	if a.State() != upstream.StateErrored {
		t.Errorf("expected errored, got %v", a.State())
	}
}

func TestSendAudioDropsUnlessOpen(t *testing.T) {
	a := New("deepgram-nova-2", "key", testLogger())
	// Still connecting: must not panic and must not touch the nil client.
	a.SendAudio([]byte{0x01, 0x02})
}

func TestCloseBeforeConnectIsSafe(t *testing.T) {
	a := New("deepgram-nova-2", "key", testLogger())
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if a.State() != upstream.StateClosed {
		t.Errorf("expected closed, got %v", a.State())
	}
}
