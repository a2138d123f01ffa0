// Package messages holds the JSON envelopes exchanged with the browser
// client. The inbound shape mirrors the OpenAI Realtime append message so the
// capture side can reuse it unchanged; outbound events carry the normalized
// transcription results keyed by platform.
package messages

import (
	"encoding/base64"
	"fmt"

	"github.com/bytedance/sonic"

	"polyscribe/upstream"
)

// Client envelope types. Unknown types are ignored by the relay, never fatal.
const (
	TypeAudioAppend = "input_audio_buffer.append"
)

// ClientEnvelope is a discriminated message from the client.
type ClientEnvelope struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"` // base64 PCM16 mono 16kHz
}

// DecodeEnvelope parses a raw client frame.
func DecodeEnvelope(raw []byte) (*ClientEnvelope, error) {
	var env ClientEnvelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid client envelope: %w", err)
	}
	return &env, nil
}

// PCM decodes the envelope's base64 audio payload.
func (e *ClientEnvelope) PCM() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(e.Audio)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 audio: %w", err)
	}
	return data, nil
}

// AppendEnvelope builds an audio-append envelope from raw PCM bytes.
// Used by the test client; the relay only decodes.
func AppendEnvelope(pcm []byte) *ClientEnvelope {
	return &ClientEnvelope{
		Type:  TypeAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(pcm),
	}
}

// TranscriptionMessage is the normalized outbound event. Type is one of
// "transcript", "interim" or "delta"; Platform names the producing model.
type TranscriptionMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Platform   string `json:"platform"`
}

// FromEvent wraps a normalized upstream event for the client wire.
func FromEvent(ev upstream.Event) *TranscriptionMessage {
	return &TranscriptionMessage{
		Type:       ev.Kind.String(),
		Transcript: ev.Text,
		Platform:   ev.Model,
	}
}
