// Package server terminates the client-facing HTTP/WebSocket transport.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"polyscribe/config"
	"polyscribe/relay"
)

// Server accepts client connections on /ws and hands each one to the relay.
type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *relay.Manager
	config         *config.Config
	logger         *log.Logger
}

// New builds the HTTP server around the session manager.
func New(cfg *config.Config, sessionManager *relay.Manager, logger *log.Logger) *Server {
	s := &Server{
		sessionManager: sessionManager,
		config:         cfg,
		logger:         logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024, // 64KB for audio chunks
			WriteBufferSize:   64 * 1024,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	if cfg.StaticDir != "" {
		// Comparison UI build output, when deployed alongside the relay.
		mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
		// No ReadTimeout/WriteTimeout — these interfere with long-lived
		// WebSocket connections; deadlines are managed per message.
	}

	return s
}

// Start begins listening for connections.
func (s *Server) Start() error {
	s.logger.Info("server starting", "port", s.config.Port, "endpoint", fmt.Sprintf("ws://localhost:%d/ws", s.config.Port))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server and every live session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	s.sessionManager.Shutdown()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	clientSession, err := s.sessionManager.CreateSession(r.Context(), conn)
	if err != nil {
		s.logger.Error("session creation failed", "err", err)
		conn.Close()
		return
	}

	s.logger.Info("client connected", "session", clientSession.ID)

	clientSession.Start()

	// Block until the session tears down, then release the slot.
	<-clientSession.CloseChan

	_ = s.sessionManager.RemoveSession(r.Context(), clientSession.ID)
	s.logger.Info("client disconnected", "session", clientSession.ID)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, s.sessionManager.GetActiveSessionCount())
}
