// Package api provides HTTP handlers for the carebot API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/carebot/internal/config"
	"github.com/ashureev/carebot/internal/domain"
	"github.com/ashureev/carebot/internal/render"
	"github.com/ashureev/carebot/internal/session"
)

// ConnectionCloser closes live connections bound to a session.
type ConnectionCloser interface {
	CloseSession(userID, sessionID string)
}

// Handler provides common handler utilities.
type Handler struct {
	mgr      *session.Manager
	renderer *render.Renderer
	conns    ConnectionCloser
	cfg      *config.Config
}

// NewHandler creates a new Handler with common dependencies. conns may be nil.
func NewHandler(mgr *session.Manager, renderer *render.Renderer, conns ConnectionCloser, cfg *config.Config) *Handler {
	if renderer == nil {
		renderer = render.New()
	}
	return &Handler{
		mgr:      mgr,
		renderer: renderer,
		conns:    conns,
		cfg:      cfg,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// ErrorBody is the JSON shape of a classified error.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// NewErrorBody classifies err for clients.
func NewErrorBody(err error) ErrorBody {
	return ErrorBody{Error: domain.UserMessage(err), Kind: domain.ErrorKind(err)}
}

// StatusFor maps an error to its HTTP status code.
func StatusFor(err error) int {
	var authErr *domain.AuthenticationError
	var svcErr *domain.ServiceError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &svcErr):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrBusy), errors.Is(err, domain.ErrSessionEnded):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as a classified JSON error response.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	JSON(w, status, NewErrorBody(err))
}
