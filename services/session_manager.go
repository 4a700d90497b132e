package services

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// SessionManager owns the live sessions, one per passport and visitor.
type SessionManager struct {
	Catalog *PassportCatalog
	Backend ProgressBackend
	Clock   clockwork.Clock
	Config  SessionConfig

	mu          sync.Mutex
	sessions    map[string]*Session
	generations map[string]uint64 // bumped by InvalidatePassport
}

func NewSessionManager(catalog *PassportCatalog, backend ProgressBackend, clock clockwork.Clock, cfg SessionConfig) *SessionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SessionManager{
		Catalog:  catalog,
		Backend:  backend,
		Clock:    clock,
		Config:   cfg,
		sessions:    map[string]*Session{},
		generations: map[string]uint64{},
	}
}

// Get returns the visitor's session for a passport, opening it on first use.
// The document and record are loaded without m.mu held; if the passport is
// invalidated meanwhile the freshly opened session is discarded and opened
// again.
func (m *SessionManager) Get(ctx context.Context, passportID, visitorID string) (*Session, error) {
	key := ProgressKey(passportID, visitorID)

	for {
		m.mu.Lock()
		if s, ok := m.sessions[key]; ok {
			m.mu.Unlock()
			return s, nil
		}
		gen := m.generations[passportID]
		m.mu.Unlock()

		passport, err := m.Catalog.Load(passportID)
		if err != nil {
			return nil, err
		}
		opened := NewSession(ctx, passport, visitorID, m.Backend, m.Clock, m.Config)

		m.mu.Lock()
		existing, raced := m.sessions[key]
		stale := m.generations[passportID] != gen
		if !raced && !stale {
			m.sessions[key] = opened
			m.mu.Unlock()
			log.WithFields(log.Fields{"passport": passportID, "visitor": visitorID}).Debug("[SESSION] opened")
			return opened, nil
		}
		m.mu.Unlock()

		opened.Close()
		if raced {
			return existing, nil
		}
	}
}

// Each calls fn for every live session of a passport.
func (m *SessionManager) Each(passportID string, fn func(*Session)) {
	for _, s := range m.snapshot() {
		if s.PassportID == passportID {
			fn(s)
		}
	}
}

// InvalidatePassport closes every session of a passport so the next request
// reopens it against the current document. Records are already persisted.
func (m *SessionManager) InvalidatePassport(passportID string) int {
	m.mu.Lock()
	m.generations[passportID]++
	var closing []*Session
	for key, s := range m.sessions {
		if s.PassportID == passportID {
			closing = append(closing, s)
			delete(m.sessions, key)
		}
	}
	m.mu.Unlock()

	for _, s := range closing {
		s.Close()
	}
	if len(closing) > 0 {
		log.WithField("passport", passportID).Infof("[SESSION] closed %d sessions after passport change", len(closing))
	}
	return len(closing)
}

// EvictIdle closes sessions unused for longer than ttl.
func (m *SessionManager) EvictIdle(ttl time.Duration) int {
	cutoff := m.Clock.Now().Add(-ttl)

	m.mu.Lock()
	var closing []*Session
	for key, s := range m.sessions {
		if s.IdleSince().Before(cutoff) {
			closing = append(closing, s)
			delete(m.sessions, key)
		}
	}
	m.mu.Unlock()

	for _, s := range closing {
		s.Close()
	}
	return len(closing)
}

// Len is the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll closes every session. Used on shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = map[string]*Session{}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

func (m *SessionManager) snapshot() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}
