package api

import (
	"context"
	"time"

	"github.com/ashureev/carebot/internal/domain"
	"github.com/ashureev/carebot/internal/render"
	"github.com/ashureev/carebot/internal/session"
)

// TurnView is a visible turn as sent to the browser.
type TurnView struct {
	Seq       int         `json:"seq"`
	Role      domain.Role `json:"role"`
	Content   string      `json:"content"`
	HTML      string      `json:"html"`
	CreatedAt time.Time   `json:"created_at"`
}

// SessionView is the client-facing snapshot of a session. It never carries
// the credential itself.
type SessionView struct {
	SessionID     string              `json:"session_id"`
	State         domain.SessionState `json:"state"`
	CredentialSet bool                `json:"credential_set"`
	Turns         []TurnView          `json:"turns"`
}

// NewTurnView renders turn for display.
func NewTurnView(turn domain.Turn, renderer *render.Renderer) TurnView {
	return TurnView{
		Seq:       turn.Seq,
		Role:      turn.Role,
		Content:   turn.Content,
		HTML:      renderer.HTML(turn.Content),
		CreatedAt: turn.CreatedAt,
	}
}

// NewSessionView snapshots sess with its visible turns rendered.
func NewSessionView(ctx context.Context, sess *session.Session, renderer *render.Renderer) (SessionView, error) {
	view := SessionView{
		SessionID:     sess.TabID,
		State:         sess.State(),
		CredentialSet: sess.HasCredential(),
		Turns:         []TurnView{},
	}
	for turn, err := range sess.VisibleTurns(ctx) {
		if err != nil {
			return SessionView{}, err
		}
		view.Turns = append(view.Turns, NewTurnView(turn, renderer))
	}
	return view, nil
}
