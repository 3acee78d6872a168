package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/carebot/internal/api"
	"github.com/ashureev/carebot/internal/assistant"
	"github.com/ashureev/carebot/internal/config"
	"github.com/ashureev/carebot/internal/domain"
	"github.com/ashureev/carebot/internal/identity"
	"github.com/ashureev/carebot/internal/render"
	"github.com/ashureev/carebot/internal/reveal"
	"github.com/ashureev/carebot/internal/session"
	"github.com/coder/websocket"
)

const (
	writeTimeout    = 10 * time.Second
	maxMessageBytes = 64 << 10
)

// Client frame types.
const (
	frameCredential = "credential"
	frameMessage    = "message"
	framePing       = "ping"
)

type clientFrame struct {
	Type       string `json:"type"`
	Content    string `json:"content,omitempty"`
	Credential string `json:"credential,omitempty"`
}

// ServerFrame is a message sent to the browser.
type ServerFrame struct {
	Type    string           `json:"type"`
	Session *api.SessionView `json:"session,omitempty"`
	Turn    *api.TurnView    `json:"turn,omitempty"`
	Text    string           `json:"text,omitempty"`
	Kind    string           `json:"kind,omitempty"`
	Message string           `json:"message,omitempty"`
}

// Options configures a WebSocketHandler.
type Options struct {
	AllowedOrigin string
	IsDev         bool
	RateLimiter   *assistant.RateLimiter
	Logger        assistant.ConversationLogger
	Renderer      *render.Renderer
	Reveal        config.RevealConfig
}

// WebSocketHandler serves the chat over a WebSocket, one connection per tab.
type WebSocketHandler struct {
	svc   *assistant.Service
	mgr   *session.Manager
	conns *ConnManager

	allowedOrigin string
	isDev         bool
	limiter       *assistant.RateLimiter
	log           assistant.ConversationLogger
	renderer      *render.Renderer
	revealSize    int
	pacer         reveal.Pacer
}

// NewWebSocketHandler creates a new WebSocket chat handler.
func NewWebSocketHandler(svc *assistant.Service, mgr *session.Manager, conns *ConnManager, opts Options) *WebSocketHandler {
	h := &WebSocketHandler{
		svc:           svc,
		mgr:           mgr,
		conns:         conns,
		allowedOrigin: opts.AllowedOrigin,
		isDev:         opts.IsDev,
		limiter:       opts.RateLimiter,
		log:           opts.Logger,
		renderer:      opts.Renderer,
		revealSize:    opts.Reveal.ChunkRunes,
		pacer:         reveal.Pacer{Delay: opts.Reveal.Delay, Jitter: opts.Reveal.Jitter},
	}
	if h.log == nil {
		h.log = assistant.NoopConversationLogger()
	}
	if h.renderer == nil {
		h.renderer = render.New()
	}
	if h.revealSize <= 0 {
		h.revealSize = 3
	}
	return h
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	sess, err := h.mgr.Get(r.Context(), userID, sessionID)
	if err != nil {
		slog.Error("Failed to load session", "error", err, "user_id", userID)
		api.Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(maxMessageBytes)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.conns.Register(userID, sessionID, ws)
	defer h.conns.Unregister(userID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := h.sendState(ctx, ws, sess); err != nil {
		slog.Debug("Failed to send initial state", "error", err, "user_id", userID)
		return
	}

	h.readLoop(ctx, ws, sess)
	slog.Info("Chat connection ended", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop handles client frames one at a time until the connection closes.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, sess *session.Session) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", sess.UserID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", sess.UserID)
			}
			return
		}
		sess.Touch()

		var frame clientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			if err := h.sendError(ctx, ws, domain.InvalidInput("malformed frame")); err != nil {
				return
			}
			continue
		}

		if err := h.dispatch(ctx, ws, sess, frame); err != nil {
			slog.Debug("Failed to write frame", "error", err, "user_id", sess.UserID)
			return
		}
	}
}

// dispatch handles one frame. A returned error means the connection is unusable.
func (h *WebSocketHandler) dispatch(ctx context.Context, ws *websocket.Conn, sess *session.Session, frame clientFrame) error {
	switch frame.Type {
	case framePing:
		return h.writeJSON(ctx, ws, ServerFrame{Type: "pong"})
	case frameCredential:
		if err := sess.SetCredential(frame.Credential); err != nil {
			return h.sendError(ctx, ws, err)
		}
		slog.Info("Session credential set", "user_id", sess.UserID, "session_id", sess.TabID, "channel", "chat_ws")
		return h.sendState(ctx, ws, sess)
	case frameMessage:
		return h.handleMessage(ctx, ws, sess, frame.Content)
	default:
		return h.sendError(ctx, ws, domain.InvalidInput("unknown frame type "+frame.Type))
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, ws *websocket.Conn, sess *session.Session, text string) error {
	if h.limiter != nil && !h.limiter.Allow(sess.UserID) {
		return h.sendError(ctx, ws, domain.ErrRateLimited)
	}

	var writeErr error
	reply, err := h.svc.Submit(ctx, sess, text, assistant.WithUserTurnHook(func(turn domain.Turn) {
		assistant.LogUserMessage(h.log, sess, "chat_ws", turn.Content, "")
		view := api.NewTurnView(turn, h.renderer)
		writeErr = h.writeJSON(ctx, ws, ServerFrame{Type: "user", Turn: &view})
	}))
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		assistant.LogAssistantMessage(h.log, sess, "chat_ws", "", err, "")
		return h.sendError(ctx, ws, err)
	}
	assistant.LogAssistantMessage(h.log, sess, "chat_ws", reply.Assistant.Content, nil, "")

	err = reveal.Play(ctx, reply.Assistant.Content, h.revealSize, h.pacer, func(chunk string) error {
		return h.writeJSON(ctx, ws, ServerFrame{Type: "delta", Text: chunk})
	})
	if err != nil {
		return err
	}

	view := api.NewTurnView(reply.Assistant, h.renderer)
	return h.writeJSON(ctx, ws, ServerFrame{Type: "turn", Turn: &view})
}

func (h *WebSocketHandler) sendState(ctx context.Context, ws *websocket.Conn, sess *session.Session) error {
	view, err := api.NewSessionView(ctx, sess, h.renderer)
	if err != nil {
		return h.sendError(ctx, ws, err)
	}
	return h.writeJSON(ctx, ws, ServerFrame{Type: "state", Session: &view})
}

func (h *WebSocketHandler) sendError(ctx context.Context, ws *websocket.Conn, err error) error {
	body := api.NewErrorBody(err)
	return h.writeJSON(ctx, ws, ServerFrame{Type: "error", Kind: body.Kind, Message: body.Error})
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
