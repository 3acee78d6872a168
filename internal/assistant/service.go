// Package assistant implements the health assistant chat: turn submission,
// rate limiting, conversation logging and the HTTP chat transports.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/carebot/internal/completion"
	"github.com/ashureev/carebot/internal/domain"
	"github.com/ashureev/carebot/internal/session"
)

// Reply is the outcome of one successful submission.
type Reply struct {
	User      domain.Turn
	Assistant domain.Turn
	Latency   time.Duration
}

// Service submits user turns to the completion provider.
type Service struct {
	client completion.Client
	opts   domain.CompletionOptions
}

// NewService creates a chat service. opts are validated up front.
func NewService(client completion.Client, opts domain.CompletionOptions) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("completion client is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("completion options: %w", err)
	}
	return &Service{client: client, opts: opts}, nil
}

type submitConfig struct {
	onUserTurn func(domain.Turn)
}

// SubmitOption customizes a single submission.
type SubmitOption func(*submitConfig)

// WithUserTurnHook runs fn once the user turn is in the transcript, before
// the completion call starts.
func WithUserTurnHook(fn func(domain.Turn)) SubmitOption {
	return func(c *submitConfig) {
		c.onUserTurn = fn
	}
}

// Submit appends text as a user turn, asks the provider for a reply and
// appends it as an assistant turn. On a provider failure the transcript
// keeps the user turn and nothing else; the error is returned as-is so
// callers can classify it.
func (s *Service) Submit(ctx context.Context, sess *session.Session, text string, opts ...SubmitOption) (*Reply, error) {
	if sess.State() != domain.StateActive {
		return nil, &domain.AuthenticationError{Message: "credential required"}
	}
	if !sess.TryBegin() {
		return nil, domain.ErrBusy
	}
	defer sess.End()

	var cfg submitConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	userTurn, err := sess.AppendUser(ctx, text)
	if err != nil {
		return nil, err
	}
	if cfg.onUserTurn != nil {
		cfg.onUserTurn(userTurn)
	}

	transcript, err := sess.Transcript(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	content, err := s.client.Complete(ctx, transcript, sess.Credential(), s.opts)
	latency := time.Since(start)
	if err != nil {
		slog.Warn("Completion failed",
			"user_id", sess.UserID,
			"session_id", sess.TabID,
			"kind", domain.ErrorKind(err),
			"reason", domain.Reason(err),
			"latency_ms", latency.Milliseconds(),
		)
		return nil, err
	}

	assistantTurn, err := sess.AppendAssistant(ctx, content)
	if err != nil {
		return nil, err
	}

	slog.Info("Completion succeeded",
		"user_id", sess.UserID,
		"session_id", sess.TabID,
		"turns", assistantTurn.Seq+1,
		"reply_length", len(content),
		"latency_ms", latency.Milliseconds(),
	)
	return &Reply{User: userTurn, Assistant: assistantTurn, Latency: latency}, nil
}
