package sessions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Default manager settings.
const (
	DefaultTTL           = 30 * time.Minute
	DefaultBufferSize    = 64
	DefaultSweepInterval = time.Minute
)

// Manager creates and tracks live sessions and mirrors their metadata into a
// Store.
type Manager struct {
	store      Store
	ttl        time.Duration
	bufferSize int
	overflow   OverflowPolicy
	sweepEvery time.Duration
	log        *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTTL sets the sliding metadata TTL. Non-positive values are ignored.
func WithTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithStreamBuffer sets the per-session stream queue size.
func WithStreamBuffer(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.bufferSize = n
		}
	}
}

// WithOverflowPolicy sets the behavior for full stream queues.
func WithOverflowPolicy(p OverflowPolicy) ManagerOption {
	return func(m *Manager) { m.overflow = p }
}

// WithSweepInterval sets how often Run looks for expired sessions.
// Non-positive values are ignored.
func WithSweepInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.sweepEvery = d
		}
	}
}

// WithLogger sets the manager's logger.
func WithLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager returns a Manager persisting metadata to store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:      store,
		ttl:        DefaultTTL,
		bufferSize: DefaultBufferSize,
		overflow:   OverflowBlock,
		sweepEvery: DefaultSweepInterval,
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		sessions:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a new session in StageCreated.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	s := newSession(uuid.NewString(), m.bufferSize, m.overflow, m.forget)

	if err := m.store.Put(ctx, s.Metadata(), m.ttl); err != nil {
		s.cancel()
		return nil, fmt.Errorf("persist session: %w", err)
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.log.DebugContext(ctx, "session.create", slog.String("session_id", s.id))
	return s, nil
}

// Get returns the live session for id and extends its TTL. Sessions whose
// metadata expired are closed and reported as ErrSessionNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	if err := m.store.Touch(ctx, id, m.ttl); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			m.log.DebugContext(ctx, "session.expired", slog.String("session_id", id))
			s.Close()
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("touch session: %w", err)
	}
	return s, nil
}

// Persist writes the session's current metadata to the store.
func (m *Manager) Persist(ctx context.Context, s *Session) error {
	if err := m.store.Put(ctx, s.Metadata(), m.ttl); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// Close closes the session with id. Closing an unknown session returns
// ErrSessionNotFound.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

// forget runs once per session after it closed.
func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.Delete(ctx, s.id); err != nil {
		m.log.Warn("session.delete.fail", slog.String("session_id", s.id), slog.String("err", err.Error()))
	}
	m.log.Debug("session.close", slog.String("session_id", s.id))
}

// Sessions returns a snapshot of the live sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep closes live sessions whose metadata expired and returns how many it
// closed. Sessions with a bound stream are still connected, so their TTL is
// extended instead of checked.
func (m *Manager) Sweep(ctx context.Context) int {
	closed := 0
	for _, s := range m.Sessions() {
		var err error
		if s.HasStream() {
			err = m.store.Touch(ctx, s.id, m.ttl)
		} else {
			_, err = m.store.Get(ctx, s.id)
		}
		switch {
		case err == nil:
		case errors.Is(err, ErrSessionNotFound):
			m.log.DebugContext(ctx, "session.expired", slog.String("session_id", s.id))
			s.Close()
			closed++
		default:
			m.log.WarnContext(ctx, "session.sweep.fail", slog.String("session_id", s.id), slog.String("err", err.Error()))
		}
	}
	return closed
}

// Run calls Sweep on every sweep interval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	t := time.NewTicker(m.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if n := m.Sweep(ctx); n > 0 {
				m.log.InfoContext(ctx, "session.sweep.ok", slog.Int("closed", n))
			}
		}
	}
}

// Shutdown closes every live session.
func (m *Manager) Shutdown() {
	for _, s := range m.Sessions() {
		s.Close()
	}
}
