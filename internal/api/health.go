package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/carebot/internal/store"
	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo store.Repository
	mgr  sessionCounter
}

type sessionCounter interface {
	Len() int
}

// NewHealthHandler creates a new health handler. mgr may be nil.
func NewHealthHandler(repo store.Repository, mgr sessionCounter) *HealthHandler {
	return &HealthHandler{repo: repo, mgr: mgr}
}

// Health returns the health status of the API and its transcript store.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := map[string]interface{}{
		"status": "healthy",
		"checks": map[string]string{"api": "ok"},
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		status["checks"].(map[string]string)["store"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		status["checks"].(map[string]string)["store"] = "ok"
	}
	if h.mgr != nil {
		status["sessions"] = h.mgr.Len()
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
