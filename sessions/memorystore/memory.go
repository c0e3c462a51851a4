// Package memorystore provides an in-process sessions.Store. Metadata is lost
// when the process exits; it is intended for tests and single-instance
// servers.
package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/ggoodman/mcp-sse-middleware/sessions"
)

var _ sessions.Store = (*Store)(nil)

// Store keeps metadata in a map and evaluates expiry lazily on access.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

type entry struct {
	meta      sessions.Metadata
	expiresAt time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Put(_ context.Context, meta *sessions.Metadata, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[meta.SessionID] = entry{meta: *meta, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *Store) Get(_ context.Context, sessionID string) (*sessions.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.liveLocked(sessionID)
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	meta := e.meta
	return &meta, nil
}

func (s *Store) Touch(_ context.Context, sessionID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.liveLocked(sessionID)
	if !ok {
		return sessions.ErrSessionNotFound
	}
	e.expiresAt = s.now().Add(ttl)
	s.entries[sessionID] = e
	return nil
}

func (s *Store) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
	return nil
}

func (s *Store) liveLocked(sessionID string) (entry, bool) {
	e, ok := s.entries[sessionID]
	if !ok {
		return entry{}, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, sessionID)
		return entry{}, false
	}
	return e, true
}
