// Package upstream defines the uniform surface the relay presents over
// heterogeneous realtime transcription providers. Each provider family
// implements Adapter in its own subpackage; callers depend only on this
// interface.
package upstream

import (
	"context"
	"sync/atomic"
)

// Kind classifies a normalized transcription event.
type Kind int

const (
	// KindDelta is an incremental, append-only text fragment.
	KindDelta Kind = iota
	// KindInterim is a full-replacement provisional hypothesis.
	KindInterim
	// KindFinal closes out an utterance.
	KindFinal
)

// String returns the client wire type for the kind.
func (k Kind) String() string {
	switch k {
	case KindDelta:
		return "delta"
	case KindInterim:
		return "interim"
	case KindFinal:
		return "transcript"
	default:
		return "unknown"
	}
}

// Event is one normalized transcription result, tagged with the model that
// produced it. Ordering is only meaningful within a single model's stream.
type Event struct {
	Kind  Kind
	Text  string
	Model string
}

// State tracks an adapter's connection lifecycle. Transitions are monotonic:
// an adapter that reaches Closed or Errored is never reused.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "invalid"
	}
}

// Adapter wraps one upstream transcription session.
//
// Connect blocks until the transport handshake and the provider's initial
// configuration message have completed, or the context is cancelled. SendAudio
// is fire-and-forget and silently drops frames unless the adapter is Open;
// audio arriving before the handshake completes, or after close, is not an
// error. Close is idempotent and safe to call before Connect returns (it
// cancels the pending handshake).
type Adapter interface {
	Model() string
	Connect(ctx context.Context) error
	SendAudio(pcm []byte)
	Events() <-chan Event
	State() State
	Close() error
}

// StateVar is an atomically updated State, embedded by adapter
// implementations.
type StateVar struct {
	v atomic.Int32
}

// Load returns the current state.
func (s *StateVar) Load() State {
	return State(s.v.Load())
}

// Store sets the state unconditionally.
func (s *StateVar) Store(st State) {
	s.v.Store(int32(st))
}

// Transition moves from one state to another only if the current state
// matches. Returns whether the swap happened.
func (s *StateVar) Transition(from, to State) bool {
	return s.v.CompareAndSwap(int32(from), int32(to))
}
