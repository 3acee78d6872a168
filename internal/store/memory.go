package store

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/carebot/internal/domain"
)

// MemoryStore implements Repository with a map guarded by a RWMutex.
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]domain.Turn
	now   func() time.Time
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		turns: make(map[string][]domain.Turn),
		now:   time.Now,
	}
}

// AppendTurn appends a turn to the transcript.
func (s *MemoryStore) AppendTurn(_ context.Context, key string, role domain.Role, content string) (domain.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn := domain.Turn{
		Seq:       len(s.turns[key]),
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
	}
	s.turns[key] = append(s.turns[key], turn)
	return turn, nil
}

// ListTurns returns a copy of the transcript.
func (s *MemoryStore) ListTurns(_ context.Context, key string) ([]domain.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.turns[key]
	out := make([]domain.Turn, len(src))
	copy(out, src)
	return out, nil
}

// CountTurns returns the transcript length.
func (s *MemoryStore) CountTurns(_ context.Context, key string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns[key]), nil
}

// DeleteSession drops a transcript.
func (s *MemoryStore) DeleteSession(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, key)
	return nil
}

// Purge drops every transcript.
func (s *MemoryStore) Purge(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, turns := range s.turns {
		n += int64(len(turns))
	}
	s.turns = make(map[string][]domain.Turn)
	return n, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
