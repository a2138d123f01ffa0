package relay

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"polyscribe/messages"
	"polyscribe/metrics"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
	maxMessageSize  = 512 * 1024
)

// ClientSession represents a single client's connection and the relay
// plumbing serving it: one registry, one multiplexer, one write pump.
type ClientSession struct {
	ID        string
	Mux       *Multiplexer
	CreatedAt time.Time
	CloseChan chan struct{}

	conn   *websocket.Conn
	logger *log.Logger

	writeChan chan *messages.TranscriptionMessage

	mu           sync.RWMutex
	closed       bool
	lastActivity time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClientSession builds a session around an upgraded client connection and
// its freshly populated registry.
func NewClientSession(id string, conn *websocket.Conn, registry *Registry, logger *log.Logger, m *metrics.Metrics) *ClientSession {
	conn.SetReadLimit(maxMessageSize)
	conn.EnableWriteCompression(true)

	ctx, cancel := context.WithCancel(context.Background())

	cs := &ClientSession{
		ID:           id,
		CreatedAt:    time.Now(),
		CloseChan:    make(chan struct{}),
		conn:         conn,
		logger:       logger.With("session", shortID(id)),
		writeChan:    make(chan *messages.TranscriptionMessage, writeBufferSize),
		lastActivity: time.Now(),
		ctx:          ctx,
		cancel:       cancel,
	}
	cs.Mux = NewMultiplexer(registry, cs, cs.logger, m)

	return cs
}

// Start begins the bidirectional message handling: the write pump, one
// connect-and-forward goroutine per adapter, and the client read loop.
func (cs *ClientSession) Start() {
	go cs.writePump()
	cs.Mux.Start(cs.ctx)
	go cs.readLoop()
}

// Deliver queues one event for the client. Non-blocking: if the session is
// closed the message is dropped (the client is going away), and a full queue
// drops rather than stalling an adapter's event stream.
func (cs *ClientSession) Deliver(msg *messages.TranscriptionMessage) {
	cs.mu.RLock()
	closed := cs.closed
	cs.mu.RUnlock()
	if closed {
		return
	}
	select {
	case cs.writeChan <- msg:
		cs.touch()
	default:
		cs.logger.Warn("write queue full, dropping event", "platform", msg.Platform)
	}
}

// writePump serializes all outgoing messages on a single goroutine.
func (cs *ClientSession) writePump() {
	defer func() {
		cs.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		cs.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	for {
		select {
		case <-cs.CloseChan:
			return
		case msg := <-cs.writeChan:
			if !cs.write(msg) {
				return
			}

			// Drain whatever queued up behind this message.
			n := len(cs.writeChan)
			for i := 0; i < n; i++ {
				select {
				case msg := <-cs.writeChan:
					if !cs.write(msg) {
						return
					}
				default:
				}
			}
		}
	}
}

func (cs *ClientSession) write(msg *messages.TranscriptionMessage) bool {
	data, err := sonic.Marshal(msg)
	if err != nil {
		cs.logger.Error("marshal failed", "err", err)
		return true
	}
	cs.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return cs.conn.WriteMessage(websocket.TextMessage, data) == nil
}

// readLoop pulls client frames until the connection drops. Text frames are
// parsed as control envelopes; binary frames are taken as raw PCM and fed
// straight into the broadcast path.
func (cs *ClientSession) readLoop() {
	defer cs.Close()

	for {
		select {
		case <-cs.CloseChan:
			return
		default:
			messageType, raw, err := cs.conn.ReadMessage()
			if err != nil {
				return
			}
			cs.touch()

			if messageType == websocket.BinaryMessage {
				cs.Mux.Broadcast(raw)
				continue
			}
			cs.Mux.HandleMessage(raw)
		}
	}
}

// Close tears the session down: every upstream adapter is closed before the
// client transport is released. Idempotent.
func (cs *ClientSession) Close() error {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil
	}
	cs.closed = true
	cs.mu.Unlock()

	cs.cancel()

	// Drain the registry first; no adapter event is forwarded past this
	// point even if it arrives in flight.
	if err := cs.Mux.Close(); err != nil {
		cs.logger.Error("adapter close failed", "err", err)
	}

	// writeChan stays open: a racing Deliver may still queue into it, and
	// the pump exits via CloseChan.
	close(cs.CloseChan)

	cs.conn.Close()
	return nil
}

// IsClosed returns whether the session has been torn down.
func (cs *ClientSession) IsClosed() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.closed
}

// LastActivity returns the time of the last client interaction.
func (cs *ClientSession) LastActivity() time.Time {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.lastActivity
}

func (cs *ClientSession) touch() {
	cs.mu.Lock()
	cs.lastActivity = time.Now()
	cs.mu.Unlock()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
