// Package session owns per-client conversation state: the transcript,
// the credential and the AwaitingCredential/Active state machine.
package session

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/carebot/internal/domain"
	"github.com/ashureev/carebot/internal/store"
)

// Session is one interactive conversation. It exclusively owns its
// transcript (stored under Key) and its credential.
type Session struct {
	UserID    string
	TabID     string
	Key       string
	CreatedAt time.Time

	repo store.Repository

	mu         sync.Mutex
	credential string
	state      domain.SessionState
	lastSeen   time.Time
	ended      bool

	// inflight guards submissions; one completion call per session at a time.
	inflight sync.Mutex
}

// Key derives the transcript key for a user/tab pair.
func Key(userID, tabID string) string {
	return userID + ":" + tabID
}

// New creates a session in the AwaitingCredential state. Call Initialize
// before use.
func New(repo store.Repository, userID, tabID string) *Session {
	now := time.Now()
	return &Session{
		UserID:    userID,
		TabID:     tabID,
		Key:       Key(userID, tabID),
		CreatedAt: now,
		repo:      repo,
		state:     domain.StateAwaitingCredential,
		lastSeen:  now,
	}
}

// Initialize seeds the instruction and greeting turns if the transcript is
// empty. Calling it again never resets history.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return domain.ErrSessionEnded
	}

	n, err := s.repo.CountTurns(ctx, s.Key)
	if err != nil {
		return fmt.Errorf("count turns: %w", err)
	}
	if n > 0 {
		return nil
	}

	if _, err := s.repo.AppendTurn(ctx, s.Key, domain.RoleInstruction, InstructionPrompt); err != nil {
		return fmt.Errorf("seed instruction: %w", err)
	}
	if _, err := s.repo.AppendTurn(ctx, s.Key, domain.RoleAssistant, Greeting); err != nil {
		return fmt.Errorf("seed greeting: %w", err)
	}
	return nil
}

// AppendUser appends a user turn. Empty or whitespace-only text is rejected.
func (s *Session) AppendUser(ctx context.Context, text string) (domain.Turn, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Turn{}, domain.InvalidInput("message is required")
	}
	return s.append(ctx, domain.RoleUser, text)
}

// AppendAssistant appends an assistant turn.
func (s *Session) AppendAssistant(ctx context.Context, text string) (domain.Turn, error) {
	return s.append(ctx, domain.RoleAssistant, text)
}

func (s *Session) append(ctx context.Context, role domain.Role, text string) (domain.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return domain.Turn{}, domain.ErrSessionEnded
	}

	turn, err := s.repo.AppendTurn(ctx, s.Key, role, text)
	if err != nil {
		return domain.Turn{}, fmt.Errorf("append %s turn: %w", role, err)
	}
	s.lastSeen = time.Now()
	return turn, nil
}

// Transcript returns a snapshot of every turn, instruction included.
func (s *Session) Transcript(ctx context.Context) ([]domain.Turn, error) {
	turns, err := s.repo.ListTurns(ctx, s.Key)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	return turns, nil
}

// VisibleTurns yields the turns that may be displayed, in insertion order.
// Each range re-reads the live transcript.
func (s *Session) VisibleTurns(ctx context.Context) iter.Seq2[domain.Turn, error] {
	return func(yield func(domain.Turn, error) bool) {
		turns, err := s.Transcript(ctx)
		if err != nil {
			yield(domain.Turn{}, err)
			return
		}
		for _, turn := range turns {
			if !turn.Role.Visible() {
				continue
			}
			if !yield(turn, nil) {
				return
			}
		}
	}
}

// SetCredential stores the credential and moves the session to Active.
// An empty credential leaves the state unchanged.
func (s *Session) SetCredential(credential string) error {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return &domain.AuthenticationError{Message: "credential is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential = credential
	s.state = domain.StateActive
	s.lastSeen = time.Now()
	return nil
}

// Credential returns the credential held for this session.
func (s *Session) Credential() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential
}

// HasCredential reports whether a credential has been supplied.
func (s *Session) HasCredential() bool {
	return s.Credential() != ""
}

// State returns the current lifecycle state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Touch records activity on the session.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen returns the time of the last recorded activity.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// TryBegin claims the session for one submission. It returns false while
// another submission is in flight. Callers must call End when done.
func (s *Session) TryBegin() bool {
	return s.inflight.TryLock()
}

// End releases the claim taken by TryBegin.
func (s *Session) End() {
	s.inflight.Unlock()
}

// forget drops the credential and refuses further writes. It waits for an
// append already holding the session lock, so no turn lands after it returns.
func (s *Session) forget() {
	s.mu.Lock()
	s.credential = ""
	s.state = domain.StateAwaitingCredential
	s.ended = true
	s.mu.Unlock()
}
