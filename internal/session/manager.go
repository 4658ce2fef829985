package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weldaudio/weld/internal/audio"
	"github.com/weldaudio/weld/internal/render"
	"github.com/weldaudio/weld/internal/segment"
	"github.com/weldaudio/weld/internal/stitch"
)

// ErrSessionNotFound is returned for unknown or already-removed sessions.
var ErrSessionNotFound = errors.New("session: not found")

// defaultIdleTimeout reaps sessions nobody has touched for half an hour.
const defaultIdleTimeout = 30 * time.Minute

// sweepInterval is how often the manager looks for idle sessions.
const sweepInterval = time.Minute

// ManagerConfig holds the dependencies and knobs for a Manager.
type ManagerConfig struct {
	Store    segment.Store
	Renderer *render.Renderer

	// BasePolicy seeds every new join; per-join overrides come through
	// SetJoinParams.
	BasePolicy stitch.Policy

	// Target is the output format for every render.
	Target audio.Format

	// IdleTimeout closes sessions with no activity; zero means the
	// default of 30 minutes.
	IdleTimeout time.Duration

	Logger *slog.Logger
}

// Manager owns every live session: explicit create/close lifecycle keyed
// by opaque ids, with an idle sweep so abandoned sessions release their
// segment retains. There are no process-wide session globals.
type Manager struct {
	store       segment.Store
	renderer    *render.Renderer
	base        stitch.Policy
	target      audio.Format
	idleTimeout time.Duration
	log         *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	target := cfg.Target
	if !target.Valid() {
		target = audio.DefaultFormat
	}
	return &Manager{
		store:       cfg.Store,
		renderer:    cfg.Renderer,
		base:        cfg.BasePolicy,
		target:      target,
		idleTimeout: cfg.IdleTimeout,
		log:         cfg.Logger,
		sessions:    make(map[string]*Session),
	}
}

// Create starts a new empty session in the Idle state.
func (m *Manager) Create() *Session {
	s := &Session{
		ID:           uuid.NewString(),
		store:        m.store,
		renderer:     m.renderer,
		base:         m.base,
		target:       m.target,
		state:        StateIdle,
		lastActivity: time.Now(),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.log.Info("session created", "session", s.ID)
	return s
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Close ends a session and removes it from the manager.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	err := s.Close()
	if errors.Is(err, ErrSessionClosed) {
		err = nil // reorder-to-empty already closed it
	}
	m.log.Info("session closed", "session", id)
	return err
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Run sweeps idle sessions until ctx is cancelled, then closes everything
// still open.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.idleTimeout)
	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.log.Info("session idle timeout", "session", id)
		m.Close(id)
	}
}

// CloseAll tears down every live session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
