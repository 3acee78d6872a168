package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/carebot/internal/domain"
	"github.com/ashureev/carebot/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T) *Session {
	t.Helper()
	sess := New(store.NewMemory(), "anon_1", "tab-1")
	require.NoError(t, sess.Initialize(context.Background()))
	return sess
}

func collectVisible(t *testing.T, sess *Session) []domain.Turn {
	t.Helper()
	var out []domain.Turn
	for turn, err := range sess.VisibleTurns(context.Background()) {
		require.NoError(t, err)
		out = append(out, turn)
	}
	return out
}

func TestInitializeSeedsInstructionAndGreeting(t *testing.T) {
	sess := newSession(t)

	turns, err := sess.Transcript(context.Background())
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, domain.RoleInstruction, turns[0].Role)
	assert.Equal(t, InstructionPrompt, turns[0].Content)
	assert.Equal(t, domain.RoleAssistant, turns[1].Role)
	assert.Equal(t, Greeting, turns[1].Content)
}

func TestInitializeIsIdempotent(t *testing.T) {
	sess := newSession(t)
	ctx := context.Background()

	require.NoError(t, sess.Initialize(ctx))
	turns, err := sess.Transcript(ctx)
	require.NoError(t, err)
	assert.Len(t, turns, 2)

	_, err = sess.AppendUser(ctx, "headache")
	require.NoError(t, err)
	require.NoError(t, sess.Initialize(ctx))

	turns, err = sess.Transcript(ctx)
	require.NoError(t, err)
	assert.Len(t, turns, 3, "initialize must not reset history")
}

func TestVisibleTurnsNeverIncludeInstruction(t *testing.T) {
	sess := newSession(t)
	ctx := context.Background()
	_, err := sess.AppendUser(ctx, "sore throat")
	require.NoError(t, err)
	_, err = sess.AppendAssistant(ctx, "How long have you had it?")
	require.NoError(t, err)

	visible := collectVisible(t, sess)
	require.Len(t, visible, 3)
	for _, turn := range visible {
		assert.NotEqual(t, domain.RoleInstruction, turn.Role)
	}
	assert.Equal(t, Greeting, visible[0].Content)
}

func TestVisibleTurnsIsRestartable(t *testing.T) {
	sess := newSession(t)
	seq := sess.VisibleTurns(context.Background())

	count := func() int {
		n := 0
		for _, err := range seq {
			require.NoError(t, err)
			n++
		}
		return n
	}

	assert.Equal(t, 1, count())
	_, err := sess.AppendUser(context.Background(), "fever")
	require.NoError(t, err)
	assert.Equal(t, 2, count(), "ranging again sees the live transcript")
}

func TestVisibleTurnsStopsEarly(t *testing.T) {
	sess := newSession(t)
	ctx := context.Background()
	for _, text := range []string{"a", "b", "c"} {
		_, err := sess.AppendUser(ctx, text)
		require.NoError(t, err)
	}

	n := 0
	for range sess.VisibleTurns(ctx) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestAppendUserRecordsLastTurn(t *testing.T) {
	sess := newSession(t)
	ctx := context.Background()

	_, err := sess.AppendUser(ctx, "sore throat")
	require.NoError(t, err)

	turns, err := sess.Transcript(ctx)
	require.NoError(t, err)
	last, ok := domain.LastTurn(turns)
	require.True(t, ok)
	assert.Equal(t, domain.RoleUser, last.Role)
	assert.Equal(t, "sore throat", last.Content)
	assert.Equal(t, 2, last.Seq)
}

func TestAppendUserRejectsEmptyText(t *testing.T) {
	sess := newSession(t)
	ctx := context.Background()

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := sess.AppendUser(ctx, text)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	}

	turns, err := sess.Transcript(ctx)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestCredentialStateMachine(t *testing.T) {
	sess := newSession(t)
	assert.Equal(t, domain.StateAwaitingCredential, sess.State())
	assert.False(t, sess.HasCredential())

	err := sess.SetCredential("  ")
	var authErr *domain.AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, domain.StateAwaitingCredential, sess.State())

	require.NoError(t, sess.SetCredential("sk-test"))
	assert.Equal(t, domain.StateActive, sess.State())
	assert.Equal(t, "sk-test", sess.Credential())

	require.Error(t, sess.SetCredential(""))
	assert.Equal(t, domain.StateActive, sess.State(), "no reverse transition")
	assert.Equal(t, "sk-test", sess.Credential())

	require.NoError(t, sess.SetCredential("sk-other"))
	assert.Equal(t, "sk-other", sess.Credential())
}

func TestTryBeginIsExclusive(t *testing.T) {
	sess := newSession(t)

	require.True(t, sess.TryBegin())
	assert.False(t, sess.TryBegin())
	sess.End()
	assert.True(t, sess.TryBegin())
	sess.End()
}

func TestManagerGetReturnsSameSession(t *testing.T) {
	mgr := NewManager(store.NewMemory())
	ctx := context.Background()

	a, err := mgr.Get(ctx, "anon_1", "tab-1")
	require.NoError(t, err)
	b, err := mgr.Get(ctx, "anon_1", "tab-1")
	require.NoError(t, err)
	c, err := mgr.Get(ctx, "anon_1", "tab-2")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, mgr.Len())

	turns, err := b.Transcript(ctx)
	require.NoError(t, err)
	assert.Len(t, turns, 2, "repeated Get must not reseed")
}

func TestManagerSessionsAreIsolated(t *testing.T) {
	mgr := NewManager(store.NewMemory())
	ctx := context.Background()

	a, err := mgr.Get(ctx, "anon_1", "tab-1")
	require.NoError(t, err)
	b, err := mgr.Get(ctx, "anon_2", "tab-1")
	require.NoError(t, err)

	require.NoError(t, a.SetCredential("sk-a"))
	_, err = a.AppendUser(ctx, "only in a")
	require.NoError(t, err)

	assert.Equal(t, domain.StateAwaitingCredential, b.State())
	assert.Len(t, collectVisible(t, b), 1)
	assert.Len(t, collectVisible(t, a), 2)
}

func TestManagerReset(t *testing.T) {
	repo := store.NewMemory()
	mgr := NewManager(repo)
	ctx := context.Background()

	sess, err := mgr.Get(ctx, "anon_1", "tab-1")
	require.NoError(t, err)
	require.NoError(t, sess.SetCredential("sk-test"))
	_, err = sess.AppendUser(ctx, "hello")
	require.NoError(t, err)

	require.NoError(t, mgr.Reset(ctx, "anon_1", "tab-1"))
	assert.Empty(t, sess.Credential())
	_, ok := mgr.Lookup("anon_1", "tab-1")
	assert.False(t, ok)

	fresh, err := mgr.Get(ctx, "anon_1", "tab-1")
	require.NoError(t, err)
	assert.NotSame(t, sess, fresh)
	assert.Equal(t, domain.StateAwaitingCredential, fresh.State())
	assert.Len(t, collectVisible(t, fresh), 1)
}

func TestResetRefusesWritesToEndedSession(t *testing.T) {
	mgr := NewManager(store.NewMemory())
	ctx := context.Background()

	old, err := mgr.Get(ctx, "anon_1", "tab-1")
	require.NoError(t, err)
	require.NoError(t, old.SetCredential("sk-test"))
	_, err = old.AppendUser(ctx, "I have a headache")
	require.NoError(t, err)

	require.NoError(t, mgr.Reset(ctx, "anon_1", "tab-1"))
	assert.Equal(t, domain.StateAwaitingCredential, old.State())

	_, err = old.AppendAssistant(ctx, "late reply")
	assert.ErrorIs(t, err, domain.ErrSessionEnded)
	assert.ErrorIs(t, old.Initialize(ctx), domain.ErrSessionEnded)

	fresh, err := mgr.Get(ctx, "anon_1", "tab-1")
	require.NoError(t, err)
	turns, err := fresh.Transcript(ctx)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, domain.RoleInstruction, turns[0].Role)
	assert.Equal(t, domain.RoleAssistant, turns[1].Role)
}

func TestCleanupExpiredSessions(t *testing.T) {
	mgr := NewManager(store.NewMemory())
	ctx := context.Background()

	stale, err := mgr.Get(ctx, "anon_1", "old")
	require.NoError(t, err)
	_, err = mgr.Get(ctx, "anon_1", "new")
	require.NoError(t, err)

	stale.mu.Lock()
	stale.lastSeen = time.Now().Add(-2 * time.Hour)
	stale.mu.Unlock()

	var cleaned []string
	n := cleanupExpiredSessions(ctx, mgr, time.Hour, func(userID, tabID string) {
		cleaned = append(cleaned, Key(userID, tabID))
	})

	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"anon_1:old"}, cleaned)
	_, ok := mgr.Lookup("anon_1", "old")
	assert.False(t, ok)
	_, ok = mgr.Lookup("anon_1", "new")
	assert.True(t, ok)
}

func TestCleanupSkipsBusySessions(t *testing.T) {
	mgr := NewManager(store.NewMemory())
	ctx := context.Background()

	sess, err := mgr.Get(ctx, "anon_1", "busy")
	require.NoError(t, err)
	sess.mu.Lock()
	sess.lastSeen = time.Now().Add(-2 * time.Hour)
	sess.mu.Unlock()

	require.True(t, sess.TryBegin())
	defer sess.End()

	assert.Zero(t, cleanupExpiredSessions(ctx, mgr, time.Hour, nil))
	_, ok := mgr.Lookup("anon_1", "busy")
	assert.True(t, ok)
}
