package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// DefaultTTL is how long an untouched session survives.
const DefaultTTL = time.Hour

// Manager keeps the sessions of the web surface by id and closes the ones
// nobody has looked at for longer than the TTL.
type Manager struct {
	newSession func() *Session
	ttl        time.Duration
	clock      clockwork.Clock

	mu       sync.Mutex
	sessions map[uuid.UUID]*entry
}

type entry struct {
	s        *Session
	lastSeen time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerClock replaces the wall clock, for tests.
func WithManagerClock(c clockwork.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// NewManager creates a Manager that builds sessions with newSession.
func NewManager(newSession func() *Session, ttl time.Duration, opts ...ManagerOption) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{
		newSession: newSession,
		ttl:        ttl,
		clock:      clockwork.NewRealClock(),
		sessions:   make(map[uuid.UUID]*entry),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create registers a fresh idle session.
func (m *Manager) Create() (uuid.UUID, *Session) {
	id := uuid.New()
	s := m.newSession()

	m.mu.Lock()
	m.sessions[id] = &entry{s: s, lastSeen: m.clock.Now()}
	m.mu.Unlock()
	return id, s
}

// Get returns the session for id and marks it as seen.
func (m *Manager) Get(id uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = m.clock.Now()
	return e.s, true
}

// Remove closes and forgets the session for id. It reports whether the
// session existed.
func (m *Manager) Remove(id uuid.UUID) bool {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		e.s.Close()
	}
	return ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes every session idle for longer than the TTL and returns how
// many it closed.
func (m *Manager) Sweep() int {
	cutoff := m.clock.Now().Add(-m.ttl)

	var expired []*Session
	m.mu.Lock()
	for id, e := range m.sessions {
		if e.lastSeen.Before(cutoff) {
			expired = append(expired, e.s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
	return len(expired)
}

// Run sweeps expired sessions every half TTL until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(max(m.ttl/2, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := m.Sweep(); n > 0 {
				slog.Info("expired idle sessions", "count", n)
			}
		}
	}
}

// CloseAll closes every session. The manager stays usable.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[uuid.UUID]*entry)
	m.mu.Unlock()

	for _, e := range all {
		e.s.Close()
	}
}
