package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/carebot/internal/domain"
	"github.com/ashureev/carebot/internal/store"
)

// Manager owns the live sessions, one per user/tab pair.
type Manager struct {
	repo store.Repository

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager on top of repo.
func NewManager(repo store.Repository) *Manager {
	return &Manager{
		repo:     repo,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for userID/tabID, creating it on first use.
// The returned session is always initialized.
func (m *Manager) Get(ctx context.Context, userID, tabID string) (*Session, error) {
	key := Key(userID, tabID)

	for {
		m.mu.Lock()
		sess, ok := m.sessions[key]
		if !ok {
			sess = New(m.repo, userID, tabID)
			m.sessions[key] = sess
			slog.Info("Session created", "user_id", userID, "session_id", tabID)
		}
		m.mu.Unlock()

		err := sess.Initialize(ctx)
		if errors.Is(err, domain.ErrSessionEnded) {
			// Reset won the race; the registry now holds a fresh session or none.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("initialize session %s: %w", key, err)
		}
		sess.Touch()
		return sess, nil
	}
}

// Lookup returns an existing session without creating one.
func (m *Manager) Lookup(userID, tabID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[Key(userID, tabID)]
	return sess, ok
}

// Reset ends a session: its transcript is deleted and its credential dropped.
// A submission still in flight on the old session cannot write to the new
// transcript. The next Get yields a freshly seeded session.
func (m *Manager) Reset(ctx context.Context, userID, tabID string) error {
	key := Key(userID, tabID)

	// The registry stays locked until the old transcript is gone, so a
	// concurrent Get cannot seed a new session on top of stale turns.
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[key]; ok {
		sess.forget()
		delete(m.sessions, key)
	}
	if err := m.repo.DeleteSession(ctx, key); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	slog.Info("Session ended", "user_id", userID, "session_id", tabID)
	return nil
}

// Expired returns sessions idle for longer than ttl.
func (m *Manager) Expired(ttl time.Duration) []*Session {
	cutoff := time.Now().Add(-ttl)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, sess := range m.sessions {
		if sess.LastSeen().Before(cutoff) {
			out = append(out, sess)
		}
	}
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
