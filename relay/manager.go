package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"polyscribe/config"
	"polyscribe/metrics"
)

// Manager tracks all live client sessions. Each session still owns exactly
// one registry and multiplexer; the manager only bounds the session count,
// reaps idle connections and mirrors session metadata to Redis when one is
// reachable.
type Manager struct {
	sessions map[string]*ClientSession
	mu       sync.RWMutex

	redis   *redis.Client
	config  *config.Config
	logger  *log.Logger
	metrics *metrics.Metrics
	factory AdapterFactory
}

// NewManager creates a session manager. Redis is optional: when the ping
// fails the manager runs without it.
func NewManager(cfg *config.Config, logger *log.Logger, m *metrics.Metrics) (*Manager, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, continuing without session metadata", "err", err)
		redisClient = nil
	}

	return &Manager{
		sessions: make(map[string]*ClientSession),
		redis:    redisClient,
		config:   cfg,
		logger:   logger,
		metrics:  m,
		factory:  NewAdapterFactory(cfg, logger),
	}, nil
}

// SetAdapterFactory overrides how upstream adapters are built. Must be
// called before any session is created.
func (sm *Manager) SetAdapterFactory(factory AdapterFactory) {
	sm.factory = factory
}

// CreateSession builds the registry for the configured model set and wraps
// the client connection in a session.
func (sm *Manager) CreateSession(ctx context.Context, clientConn *websocket.Conn) (*ClientSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= sm.config.MaxSessions {
		return nil, fmt.Errorf("maximum sessions reached")
	}

	sessionID := uuid.New().String()

	registry := NewRegistry()
	registry.CreateAll(sm.config.ModelSpecs(), sm.factory, sm.logger)
	if registry.Len() == 0 {
		return nil, fmt.Errorf("no upstream adapters could be created")
	}

	session := NewClientSession(sessionID, clientConn, registry, sm.logger, sm.metrics)
	sm.sessions[sessionID] = session

	sm.metrics.ActiveSessions.Inc()
	sm.metrics.SessionsCreated.Inc()
	sm.storeMetadata(ctx, session)

	return session, nil
}

func (sm *Manager) storeMetadata(ctx context.Context, session *ClientSession) {
	if sm.redis == nil {
		return
	}
	sm.redis.HSet(ctx, "session:"+session.ID, map[string]interface{}{
		"created_at": session.CreatedAt.Format(time.RFC3339),
		"status":     "active",
		"backends":   session.Mux.Registry().Len(),
	})
	sm.redis.SAdd(ctx, "active_sessions", session.ID)
	sm.redis.Expire(ctx, "session:"+session.ID, sm.config.SessionTimeout)
}

// GetSession retrieves a session by ID.
func (sm *Manager) GetSession(sessionID string) (*ClientSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// RemoveSession cleans up and removes a session.
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.removeLocked(ctx, sessionID)
}

func (sm *Manager) removeLocked(ctx context.Context, sessionID string) error {
	session, exists := sm.sessions[sessionID]
	if !exists {
		return nil
	}

	session.Close()
	delete(sm.sessions, sessionID)
	sm.metrics.ActiveSessions.Dec()

	if sm.redis != nil {
		sm.redis.Del(ctx, "session:"+sessionID)
		sm.redis.SRem(ctx, "active_sessions", sessionID)
	}
	return nil
}

// GetActiveSessionCount returns the current session count.
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions removes sessions idle beyond the session timeout.
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	for id, session := range sm.sessions {
		if now.Sub(session.LastActivity()) > sm.config.SessionTimeout {
			sm.logger.Info("reaping idle session", "session", shortID(id))
			sm.removeLocked(ctx, id)
		}
	}
}

// StartCleanupRoutine runs periodic idle-session cleanup until ctx ends.
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions.
func (sm *Manager) Shutdown() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for id, session := range sm.sessions {
		session.Close()
		delete(sm.sessions, id)
		sm.metrics.ActiveSessions.Dec()
	}

	if sm.redis != nil {
		sm.redis.Close()
	}
}
