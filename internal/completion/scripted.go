package completion

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ashureev/carebot/internal/domain"
)

// Scripted is an offline Client. It answers with Reply (or a canned
// assessment echoing the last user turn) and records every call.
type Scripted struct {
	Reply string
	Err   error

	mu    sync.Mutex
	calls [][]domain.Turn
}

// NewScripted returns a Scripted client with the canned reply.
func NewScripted() *Scripted {
	return &Scripted{}
}

// Complete returns the scripted reply or error.
func (s *Scripted) Complete(_ context.Context, transcript []domain.Turn, credential string, opts domain.CompletionOptions) (string, error) {
	if strings.TrimSpace(credential) == "" {
		return "", &domain.AuthenticationError{Message: "credential is required"}
	}
	if err := opts.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	snapshot := make([]domain.Turn, len(transcript))
	copy(snapshot, transcript)
	s.calls = append(s.calls, snapshot)
	s.mu.Unlock()

	if s.Err != nil {
		return "", s.Err
	}
	if s.Reply != "" {
		return s.Reply, nil
	}
	return cannedReply(transcript), nil
}

// Calls returns how many requests reached the client.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// LastTranscript returns the transcript of the most recent call.
func (s *Scripted) LastTranscript() []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return nil
	}
	return s.calls[len(s.calls)-1]
}

func cannedReply(transcript []domain.Turn) string {
	said := ""
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == domain.RoleUser {
			said = transcript[i].Content
			break
		}
	}
	return fmt.Sprintf("(offline mode) You said %q.\n\n"+
		"**Probable Diagnosis:** unavailable offline.\n\n"+
		"**Recommendation:** Consult a doctor soon.", said)
}
