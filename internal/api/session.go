package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/carebot/internal/domain"
	"github.com/ashureev/carebot/internal/identity"
	"github.com/ashureev/carebot/internal/session"
	"github.com/go-chi/chi/v5"
)

// resetLocks prevents concurrent reset requests for the same session.
var resetLocks sync.Map

// defaultMaxRequestBodySize bounds JSON bodies when no config is supplied.
const defaultMaxRequestBodySize = 64 << 10

// SessionHandler handles session lifecycle endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
		r.Get("/session", h.GetSession)
		r.Post("/session/credential", h.SetCredential)
		r.Delete("/session", h.Reset)
	})
}

// GetMe returns the anonymous identity of the caller.
func (h *SessionHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     userID,
		"session_id":  identity.SessionIDFromContext(r.Context()),
		"session_ttl": int64(h.sessionTTL().Seconds()),
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *SessionHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{
		"disclaimer": session.Disclaimer,
	}
	if h.cfg != nil {
		out["model"] = h.cfg.Completion.Model
		out["temperature"] = h.cfg.Completion.Temperature
		out["offline"] = h.cfg.Completion.Mock
		out["reveal"] = map[string]interface{}{
			"chunk_runes": h.cfg.Reveal.ChunkRunes,
			"delay_ms":    h.cfg.Reveal.Delay.Milliseconds(),
			"jitter_ms":   h.cfg.Reveal.Jitter.Milliseconds(),
		}
	}
	JSON(w, http.StatusOK, out)
}

// GetSession returns the caller's session, creating and seeding it on first use.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	view, err := NewSessionView(r.Context(), sess, h.renderer)
	if err != nil {
		slog.Error("Failed to read session", "error", err, "user_id", sess.UserID, "session_id", sess.TabID)
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

type credentialRequest struct {
	Credential string `json:"credential"`
}

// SetCredential stores the caller's API key and activates the session.
func (h *SessionHandler) SetCredential(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req credentialRequest
	if err := DecodeJSON(w, r, h.maxBodySize(), &req); err != nil {
		WriteError(w, err)
		return
	}

	if err := sess.SetCredential(req.Credential); err != nil {
		WriteError(w, err)
		return
	}

	slog.Info("Session credential set", "user_id", sess.UserID, "session_id", sess.TabID)
	JSON(w, http.StatusOK, map[string]interface{}{
		"state":          sess.State(),
		"credential_set": true,
	})
}

// Reset ends the caller's session and closes its live connections.
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	key := session.Key(userID, sessionID)
	lock, _ := resetLocks.LoadOrStore(key, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		slog.Warn("Reset already in progress", "user_id", userID, "session_id", sessionID)
		JSON(w, http.StatusOK, map[string]string{"status": "ending"})
		return
	}
	defer func() {
		mutex.Unlock()
		resetLocks.Delete(key)
	}()

	if h.conns != nil {
		h.conns.CloseSession(userID, sessionID)
	}

	if err := h.mgr.Reset(r.Context(), userID, sessionID); err != nil {
		slog.Error("Failed to reset session", "error", err, "user_id", userID, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to end session")
		return
	}

	JSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// session resolves the caller's session, writing an error response on failure.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}

	sess, err := h.mgr.Get(r.Context(), userID, identity.SessionIDFromContext(r.Context()))
	if err != nil {
		slog.Error("Failed to load session", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	return sess, true
}

func (h *Handler) maxBodySize() int64 {
	if h.cfg != nil {
		return h.cfg.SSE.MaxRequestBodySize
	}
	return defaultMaxRequestBodySize
}

func (h *Handler) sessionTTL() time.Duration {
	if h.cfg != nil {
		return h.cfg.Session.TTL
	}
	return 60 * time.Minute
}

// requestBodyError converts a JSON decode failure into a classified error.
func requestBodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return domain.InvalidInput("invalid request body")
}

// DecodeJSON decodes a size-limited JSON request body into v.
func DecodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return requestBodyError(err)
	}
	return nil
}
