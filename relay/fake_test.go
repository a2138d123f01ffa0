package relay

import (
	"context"
	"errors"
	"sync"

	"polyscribe/config"
	"polyscribe/upstream"
)

// fakeAdapter is a scriptable upstream.Adapter for registry and multiplexer
// tests.
type fakeAdapter struct {
	model string

	connectErr   error
	blockConnect bool // Connect waits for ctx cancellation

	events chan upstream.Event

	mu         sync.Mutex
	state      upstream.State
	sendCalls  [][]byte
	closeCalls int
	closeErr   error
}

func newFakeAdapter(model string) *fakeAdapter {
	return &fakeAdapter{
		model:  model,
		state:  upstream.StateConnecting,
		events: make(chan upstream.Event, 16),
	}
}

func (f *fakeAdapter) Model() string { return f.model }

func (f *fakeAdapter) Connect(ctx context.Context) error {
	if f.blockConnect {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.connectErr != nil {
		f.setState(upstream.StateErrored)
		return f.connectErr
	}
	f.setState(upstream.StateOpen)
	return nil
}

func (f *fakeAdapter) SendAudio(pcm []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != upstream.StateOpen {
		return
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	f.sendCalls = append(f.sendCalls, buf)
}

func (f *fakeAdapter) Events() <-chan upstream.Event { return f.events }

func (f *fakeAdapter) State() upstream.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	f.state = upstream.StateClosed
	return f.closeErr
}

func (f *fakeAdapter) setState(st upstream.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = st
}

func (f *fakeAdapter) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sendCalls))
	copy(out, f.sendCalls)
	return out
}

func (f *fakeAdapter) closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

var errFactory = errors.New("factory failure")

// fakeFactory returns pre-built adapters keyed by model id.
func fakeFactory(adapters map[string]*fakeAdapter) AdapterFactory {
	return func(spec config.ModelSpec) (upstream.Adapter, error) {
		a, ok := adapters[spec.ID]
		if !ok {
			return nil, errFactory
		}
		return a, nil
	}
}
