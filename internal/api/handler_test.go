//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/carebot/internal/domain"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		kind string
	}{
		{"invalid input", domain.InvalidInput("message is required"), http.StatusBadRequest, "invalid_input"},
		{"authentication", &domain.AuthenticationError{Message: "credential required"}, http.StatusUnauthorized, "authentication"},
		{"wrapped service", fmt.Errorf("submit: %w", &domain.ServiceError{Message: "timeout"}), http.StatusBadGateway, "service"},
		{"busy", domain.ErrBusy, http.StatusConflict, "busy"},
		{"session ended", fmt.Errorf("append: %w", domain.ErrSessionEnded), http.StatusConflict, "session_ended"},
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"too large", &http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge, "internal"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFor(tt.err); got != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, got)
			}
			if got := NewErrorBody(tt.err).Kind; got != tt.kind {
				t.Fatalf("expected kind %q, got %q", tt.kind, got)
			}
		})
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, errors.New("sqlite: table turns is locked"))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body ErrorBody
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "internal error" {
		t.Fatalf("expected generic message, got %q", body.Error)
	}
}
