package assistant

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/carebot/internal/api"
	"github.com/ashureev/carebot/internal/config"
	"github.com/ashureev/carebot/internal/domain"
	"github.com/ashureev/carebot/internal/identity"
	"github.com/ashureev/carebot/internal/render"
	"github.com/ashureev/carebot/internal/reveal"
	"github.com/ashureev/carebot/internal/session"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const (
	defaultMaxRequestBodySize = 64 << 10
	defaultKeepaliveInterval  = 10 * time.Second
)

// ChatRequest is the body of both chat endpoints.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the JSON reply of POST /api/chat.
type ChatResponse struct {
	Turn api.TurnView `json:"turn"`
}

// DeltaEvent carries one revealed chunk of the reply.
type DeltaEvent struct {
	Text string `json:"text"`
}

// Handler serves the chat endpoints.
type Handler struct {
	svc         *Service
	mgr         *session.Manager
	renderer    *render.Renderer
	rateLimiter *RateLimiter
	log         ConversationLogger

	maxBodySize int64
	keepalive   time.Duration
	revealSize  int
	pacer       reveal.Pacer
}

// NewHandler creates a chat handler. cfg may be nil, in which case defaults
// apply. A nil logger disables conversation logging.
func NewHandler(svc *Service, mgr *session.Manager, renderer *render.Renderer, conversationLogger ConversationLogger, cfg *config.Config) *Handler {
	if conversationLogger == nil {
		conversationLogger = noopConversationLogger{}
	}
	if renderer == nil {
		renderer = render.New()
	}

	rateLimitRequests := 10
	rateLimitWindow := time.Minute
	h := &Handler{
		svc:         svc,
		mgr:         mgr,
		renderer:    renderer,
		log:         conversationLogger,
		maxBodySize: defaultMaxRequestBodySize,
		keepalive:   defaultKeepaliveInterval,
		revealSize:  3,
		pacer:       reveal.Pacer{Delay: 10 * time.Millisecond},
	}
	if cfg != nil {
		rateLimitRequests = cfg.RateLimit.RequestsPerWindow
		rateLimitWindow = cfg.RateLimit.WindowDuration
		h.maxBodySize = cfg.SSE.MaxRequestBodySize
		h.keepalive = cfg.SSE.KeepaliveInterval
		h.revealSize = cfg.Reveal.ChunkRunes
		h.pacer = reveal.Pacer{Delay: cfg.Reveal.Delay, Jitter: cfg.Reveal.Jitter}
	}
	h.rateLimiter = NewRateLimiter(rateLimitRequests, rateLimitWindow)
	return h
}

// RegisterRoutes registers chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/", h.HandleChat)
		r.Post("/stream", h.HandleStream)
	})
}

// RateLimiter returns the per-user limiter so other transports share it.
func (h *Handler) RateLimiter() *RateLimiter {
	return h.rateLimiter
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Close()
	if err := h.log.Close(); err != nil {
		slog.Warn("failed to close conversation logger", "error", err)
	}
}

// prepare runs the checks shared by both chat endpoints: rate limit, session
// lookup and body decoding.
func (h *Handler) prepare(w http.ResponseWriter, r *http.Request) (*session.Session, ChatRequest, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, ChatRequest{}, false
	}

	if !h.rateLimiter.Allow(userID) {
		api.WriteError(w, domain.ErrRateLimited)
		return nil, ChatRequest{}, false
	}

	var req ChatRequest
	if err := api.DecodeJSON(w, r, h.maxBodySize, &req); err != nil {
		api.WriteError(w, err)
		return nil, ChatRequest{}, false
	}

	sess, err := h.mgr.Get(r.Context(), userID, identity.SessionIDFromContext(r.Context()))
	if err != nil {
		slog.Error("Failed to load session", "error", err, "user_id", userID)
		api.Error(w, http.StatusInternalServerError, "failed to load session")
		return nil, ChatRequest{}, false
	}
	return sess, req, true
}

// HandleChat handles POST /api/chat and answers with the assistant turn.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	sess, req, ok := h.prepare(w, r)
	if !ok {
		return
	}
	reqID := chiMiddleware.GetReqID(r.Context())

	slog.Info("Chat request", "user_id", sess.UserID, "session_id", sess.TabID, "message_length", len(req.Message))
	reply, err := h.svc.Submit(r.Context(), sess, req.Message, WithUserTurnHook(func(domain.Turn) {
		h.logUserMessage(sess, "chat_http", req.Message, reqID)
	}))
	if err != nil {
		h.logAssistantMessage(sess, "chat_http", "", err, reqID)
		api.WriteError(w, err)
		return
	}
	h.logAssistantMessage(sess, "chat_http", reply.Assistant.Content, nil, reqID)

	api.JSON(w, http.StatusOK, ChatResponse{Turn: api.NewTurnView(reply.Assistant, h.renderer)})
}

type submitOutcome struct {
	reply *Reply
	err   error
}

// HandleStream handles POST /api/chat/stream. It emits a "user" event once
// the user turn is recorded, keepalive pings while the provider works, then
// "delta" events revealing the reply and a final "done" event. Failures end
// the stream with an "error" event.
//
//nolint:gocyclo // Streaming branches are kept inline to preserve request flow.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	sess, req, ok := h.prepare(w, r)
	if !ok {
		return
	}

	// Errors detectable before the provider call keep their HTTP status.
	if sess.State() != domain.StateActive {
		api.WriteError(w, &domain.AuthenticationError{Message: "credential required"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		api.WriteError(w, domain.InvalidInput("message is required"))
		return
	}

	stream, ok := newSSEStream(w)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	reqID := chiMiddleware.GetReqID(ctx)
	slog.Info("Chat stream request", "user_id", sess.UserID, "session_id", sess.TabID, "message_length", len(req.Message))

	userTurns := make(chan domain.Turn, 1)
	done := make(chan submitOutcome, 1)
	go func() {
		reply, err := h.svc.Submit(ctx, sess, req.Message, WithUserTurnHook(func(turn domain.Turn) {
			userTurns <- turn
		}))
		done <- submitOutcome{reply: reply, err: err}
	}()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	sendUser := func(turn domain.Turn) bool {
		h.logUserMessage(sess, "chat_sse", turn.Content, reqID)
		if err := stream.send("user", api.NewTurnView(turn, h.renderer)); err != nil {
			slog.Warn("failed to write SSE user event", "error", err, "user_id", sess.UserID)
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("Chat stream disconnected", "user_id", sess.UserID, "session_id", sess.TabID)
			return
		case turn := <-userTurns:
			if !sendUser(turn) {
				return
			}
		case <-keepalive.C:
			if err := stream.ping(); err != nil {
				slog.Warn("failed to write SSE keepalive ping", "error", err, "user_id", sess.UserID)
				return
			}
		case out := <-done:
			select {
			case turn := <-userTurns:
				if !sendUser(turn) {
					return
				}
			default:
			}
			h.finishStream(ctx, stream, sess, out, reqID)
			return
		}
	}
}

func (h *Handler) finishStream(ctx context.Context, stream *sseStream, sess *session.Session, out submitOutcome, reqID string) {
	if out.err != nil {
		h.logAssistantMessage(sess, "chat_sse", "", out.err, reqID)
		if err := stream.send("error", api.NewErrorBody(out.err)); err != nil {
			slog.Warn("failed to write SSE error event", "error", err, "user_id", sess.UserID)
		}
		return
	}

	content := out.reply.Assistant.Content
	h.logAssistantMessage(sess, "chat_sse", content, nil, reqID)

	err := reveal.Play(ctx, content, h.revealSize, h.pacer, func(chunk string) error {
		return stream.send("delta", DeltaEvent{Text: chunk})
	})
	if err != nil {
		// The turn is already in the transcript; the client sees it on reload.
		slog.Warn("Chat stream reveal interrupted", "error", err, "user_id", sess.UserID, "session_id", sess.TabID)
		return
	}

	if err := stream.send("done", ChatResponse{Turn: api.NewTurnView(out.reply.Assistant, h.renderer)}); err != nil {
		slog.Warn("failed to write SSE done event", "error", err, "user_id", sess.UserID)
	}
}

func (h *Handler) logUserMessage(sess *session.Session, channel, content, requestID string) {
	LogUserMessage(h.log, sess, channel, content, requestID)
}

func (h *Handler) logAssistantMessage(sess *session.Session, channel, content string, failure error, requestID string) {
	LogAssistantMessage(h.log, sess, channel, content, failure, requestID)
}

// LogAssistantMessage records the outcome of a submission on logger.
func LogAssistantMessage(logger ConversationLogger, sess *session.Session, channel, content string, failure error, requestID string) {
	meta := map[string]any{
		"request_id": requestID,
		"failed":     failure != nil,
	}
	if failure != nil {
		meta["error_kind"] = domain.ErrorKind(failure)
	}
	logger.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     sess.UserID,
		SessionID:  sess.TabID,
		Channel:    channel,
		Direction:  "inbound",
		EventType:  "chat_assistant_message",
		ContentRaw: content,
		Content:    cleanForReadability(content),
		Meta:       meta,
	})
}

// LogUserMessage records a user submission on logger.
func LogUserMessage(logger ConversationLogger, sess *session.Session, channel, content, requestID string) {
	logger.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     sess.UserID,
		SessionID:  sess.TabID,
		Channel:    channel,
		Direction:  "outbound",
		EventType:  "chat_user_message",
		ContentRaw: content,
		Content:    cleanForReadability(content),
		Meta: map[string]any{
			"request_id": requestID,
		},
	})
}
