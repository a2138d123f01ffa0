// Package settings maps model names to provider configuration bundles. Every
// function is pure and called exactly once per adapter construction.
package settings

import (
	"strings"

	interfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	"google.golang.org/genai"
)

// Fixed audio contract: mono PCM16 at 16kHz, little-endian.
const (
	SampleRate = 16000
	Encoding   = "linear16"
	Language   = "en"
)

// OpenAISession is the transcription_session.update payload sent immediately
// after the Realtime socket opens, before any audio.
type OpenAISession struct {
	InputAudioFormat        string             `json:"input_audio_format"`
	InputAudioTranscription AudioTranscription `json:"input_audio_transcription"`
	TurnDetection           TurnDetection      `json:"turn_detection"`
	NoiseReduction          NoiseReduction     `json:"input_audio_noise_reduction"`
	Include                 []string           `json:"include"`
}

type AudioTranscription struct {
	Model    string `json:"model"`
	Prompt   string `json:"prompt"`
	Language string `json:"language"`
}

type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type NoiseReduction struct {
	Type string `json:"type"`
}

// OpenAI returns the session bundle for one OpenAI transcription model.
func OpenAI(model string) OpenAISession {
	return OpenAISession{
		InputAudioFormat: "pcm16",
		InputAudioTranscription: AudioTranscription{
			Model:    model,
			Prompt:   "",
			Language: Language,
		},
		TurnDetection: TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 300,
		},
		NoiseReduction: NoiseReduction{Type: "near_field"},
		Include:        []string{"item.input_audio_transcription.logprobs"},
	}
}

// Deepgram returns live transcription options for one Deepgram model. The
// platform id carries a "deepgram-" prefix which is stripped for the upstream
// model name (e.g. "deepgram-nova-3" -> "nova-3").
func Deepgram(platformID string) *interfaces.LiveTranscriptionOptions {
	return &interfaces.LiveTranscriptionOptions{
		Model:          strings.TrimPrefix(platformID, "deepgram-"),
		Language:       Language,
		Punctuate:      true,
		SmartFormat:    true,
		Encoding:       Encoding,
		SampleRate:     SampleRate,
		Channels:       1,
		InterimResults: true,
	}
}

// Gemini returns the Live connect config for one Gemini model. Only input
// transcription is wanted; the model's own responses are kept to text so no
// audio generation happens upstream.
func Gemini(model string) *genai.LiveConnectConfig {
	return &genai.LiveConnectConfig{
		ResponseModalities:      []genai.Modality{genai.ModalityText},
		InputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
}
