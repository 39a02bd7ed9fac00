package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nadhilrobomiracle/stt/internal/audio"
	"github.com/nadhilrobomiracle/stt/internal/engine"
	"github.com/nadhilrobomiracle/stt/internal/metrics"
)

// Config contains the streaming core configuration, already converted to
// concrete types by the caller.
type Config struct {
	DispatchInterval time.Duration
	MinDispatchBytes int
	KeepBytes        int
	MaxBufferBytes   int
	DispatchTimeout  time.Duration
	Workers          int
	IdleTimeout      time.Duration
	MaxSessions      int
	EngineOptions    engine.Options
}

// Manager owns all live sessions and the shared inference worker pool.
// Sessions are created when a transport connection is accepted and
// destroyed when it closes; no session outlives its connection and no
// state is shared between sessions.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	logger    *slog.Logger
	cfg       Config
	engine    engine.Engine
	scheduler Scheduler
	metrics   *metrics.Metrics

	// Worker pool: bounded concurrency shared across all sessions, on top
	// of the at-most-one-inflight-per-session rule.
	slots chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a session manager around an injected engine handle
// and starts the idle-session reaper.
func NewManager(logger *slog.Logger, eng engine.Engine, cfg Config, m *metrics.Metrics) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions: make(map[string]*Session),
		logger:   logger,
		cfg:      cfg,
		engine:   eng,
		metrics:  m,
		scheduler: Scheduler{
			Interval: cfg.DispatchInterval,
			MinBytes: cfg.MinDispatchBytes,
		},
		slots:   make(chan struct{}, cfg.Workers),
		ctx:     ctx,
		cancel:  cancel,
		cleanup: make(chan struct{}),
	}

	go mgr.startReaper()

	return mgr
}

// CreateSession allocates a session for a newly accepted connection. The
// buffer starts empty, the dispatch clock starts at connect time, and
// nothing has been emitted yet.
func (m *Manager) CreateSession(sender Sender) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.cfg.MaxSessions {
		return nil, fmt.Errorf("session limit reached (%d)", m.cfg.MaxSessions)
	}

	now := time.Now()
	session := &Session{
		ID:           uuid.NewString(),
		StartTime:    now,
		buffer:       audio.NewBuffer(m.cfg.MaxBufferBytes, m.cfg.KeepBytes),
		sender:       sender,
		manager:      m,
		lastActivity: now,
		lastDispatch: now,
	}

	m.sessions[session.ID] = session

	if m.metrics != nil {
		m.metrics.RecordSessionCreated()
	}

	m.logger.Info("Session created",
		slog.String("session_id", session.ID),
		slog.Int("active_sessions", len(m.sessions)),
	)

	return session, nil
}

// GetSession retrieves a live session by ID.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	return session, exists
}

// GetAllSessions returns a snapshot of all live sessions (for monitoring).
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}

	return sessions
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseSession removes a session and releases its resources. Safe to call
// more than once per session; transports and the reaper may race here.
func (m *Manager) CloseSession(id string) bool {
	m.mu.Lock()
	session, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}

	if session.close() && m.metrics != nil {
		m.metrics.RecordSessionClosed(time.Since(session.StartTime).Seconds())
	}

	info := session.Info()
	m.logger.Info("Session closed",
		slog.String("session_id", id),
		slog.Duration("duration", info.Duration),
		slog.Uint64("chunks_received", info.ChunksReceived),
		slog.Uint64("dispatches", info.Dispatches),
		slog.Uint64("transcripts_emitted", info.Emitted),
	)

	return true
}

// Stop gracefully stops the manager: close every session, stop the reaper.
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.CloseSession(id)
	}

	m.cancel()
	<-m.cleanup

	m.logger.Info("Session manager stopped",
		slog.Int("remaining_sessions", m.ActiveCount()),
	)
}

// startReaper periodically removes sessions with no inbound audio for the
// configured idle timeout. Transports can vanish without a close frame;
// this keeps their buffers from lingering.
func (m *Manager) startReaper() {
	defer close(m.cleanup)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	m.logger.Info("Session reaper started",
		slog.Duration("idle_timeout", m.cfg.IdleTimeout),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session reaper stopping")
			return

		case <-ticker.C:
			m.reapIdleSessions()
		}
	}
}

// reapIdleSessions removes sessions that have been inactive for too long.
func (m *Manager) reapIdleSessions() {
	now := time.Now()
	expired := make([]string, 0)

	m.mu.RLock()
	for id, session := range m.sessions {
		if now.Sub(session.LastActivity()) > m.cfg.IdleTimeout {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	m.logger.Info("Reaping idle sessions", slog.Int("expired_count", len(expired)))

	for _, id := range expired {
		m.CloseSession(id)
	}
}
