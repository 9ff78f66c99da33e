// Package session keeps one transcript per open chat page. Sessions live in memory only. A page load
// always starts a new session; the previous one is dropped once it has had no event stream attached
// for a period of inactivity.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MegaGrindStone/chatbot-web-ui/internal/transcript"
	"github.com/google/uuid"
)

// StoreFactory creates the transcript of a new session.
type StoreFactory func() *transcript.Store

// Manager owns the transcripts of all open sessions.
type Manager struct {
	newStore StoreFactory
	ttl      time.Duration
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry

	logger *slog.Logger
}

type entry struct {
	store    *transcript.Store
	lastSeen time.Time
	// streams counts the event streams attached to the session.
	streams int
}

// NewManager creates a Manager. Sessions not accessed for ttl are removed by Sweep; a zero ttl keeps
// sessions until they are deleted explicitly.
func NewManager(newStore StoreFactory, ttl time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		newStore: newStore,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*entry),
		logger:   logger.With(slog.String("module", "session")),
	}
}

// Create starts a new session with a fresh transcript and returns its ID.
func (m *Manager) Create() (string, *transcript.Store) {
	id := uuid.New().String()
	store := m.newStore()

	m.mu.Lock()
	m.sessions[id] = &entry{store: store, lastSeen: m.now()}
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.Debug("Session created", slog.String("sessionID", id), slog.Int("sessions", count))
	return id, store
}

// Get returns the transcript of the session, marking it as recently used.
func (m *Manager) Get(id string) (*transcript.Store, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = m.now()
	return e.store, true
}

// Attach marks the session as having an open event stream until release is called. Attached
// sessions never expire; release restarts the inactivity period.
func (m *Manager) Attach(id string) (store *transcript.Store, release func(), ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return nil, nil, false
	}
	e.streams++
	e.lastSeen = m.now()

	var once sync.Once
	release = func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()

			e.streams--
			e.lastSeen = m.now()
		})
	}
	return e.store, release, true
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

// Sweep removes the sessions idle for longer than the TTL and returns how many were removed. Sessions
// with an attached event stream or a submission in flight are kept.
func (m *Manager) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.ttl)
	removed := 0
	for id, e := range m.sessions {
		if e.streams == 0 && e.lastSeen.Before(cutoff) && !e.store.IsSubmitting() {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps expired sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if m.ttl <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Info("Expired sessions removed", slog.Int("count", n), slog.Int("remaining", m.Len()))
			}
		}
	}
}
