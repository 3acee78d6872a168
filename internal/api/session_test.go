package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ashureev/carebot/internal/domain"
	"github.com/ashureev/carebot/internal/identity"
	"github.com/ashureev/carebot/internal/session"
	"github.com/ashureev/carebot/internal/store"
	"github.com/go-chi/chi/v5"
)

const testSessionID = "tab-1"

type fakeCloser struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeCloser) CloseSession(userID, sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, session.Key(userID, sessionID))
}

func (f *fakeCloser) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type failingRepo struct {
	store.Repository
}

func (failingRepo) Ping(context.Context) error { return errors.New("closed") }

func newTestRouter(t *testing.T) (http.Handler, *session.Manager, *fakeCloser) {
	t.Helper()
	mgr := session.NewManager(store.NewMemory())
	closer := &fakeCloser{}
	h := NewSessionHandler(NewHandler(mgr, nil, closer, nil))

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	h.RegisterRoutes(r)
	return r, mgr, closer
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set(identity.SessionHeaderName, testSessionID)
	req.AddCookie(&http.Cookie{Name: identity.AnonCookieName, Value: "anon_0123456789abcdef0123456789abcdef"})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeSession(t *testing.T, rr *httptest.ResponseRecorder) SessionView {
	t.Helper()
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var view SessionView
	if err := json.NewDecoder(rr.Body).Decode(&view); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return view
}

func TestGetSessionSeedsGreeting(t *testing.T) {
	router, _, _ := newTestRouter(t)

	view := decodeSession(t, do(t, router, http.MethodGet, "/api/session", ""))

	if view.State != domain.StateAwaitingCredential {
		t.Fatalf("expected awaiting_credential, got %q", view.State)
	}
	if view.CredentialSet {
		t.Fatal("expected no credential")
	}
	if len(view.Turns) != 1 || view.Turns[0].Content != session.Greeting {
		t.Fatalf("expected only the greeting to be visible, got %+v", view.Turns)
	}
	if !strings.Contains(view.Turns[0].HTML, "<p>") {
		t.Fatalf("expected rendered html, got %q", view.Turns[0].HTML)
	}
}

func TestSetCredentialActivatesWithoutEcho(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rr := do(t, router, http.MethodPost, "/api/session/credential", `{"credential":"sk-secret-value"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "sk-secret-value") {
		t.Fatal("credential must not be echoed")
	}

	got := do(t, router, http.MethodGet, "/api/session", "")
	if strings.Contains(got.Body.String(), "sk-secret-value") {
		t.Fatal("credential must not appear in session view")
	}
	view := decodeSession(t, got)
	if view.State != domain.StateActive || !view.CredentialSet {
		t.Fatalf("expected active session with credential, got %+v", view)
	}
}

func TestSetCredentialRejectsEmpty(t *testing.T) {
	router, mgr, _ := newTestRouter(t)

	rr := do(t, router, http.MethodPost, "/api/session/credential", `{"credential":"   "}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	sess, ok := mgr.Lookup("anon_0123456789abcdef0123456789abcdef", testSessionID)
	if !ok {
		t.Fatal("expected session to exist")
	}
	if sess.State() != domain.StateAwaitingCredential {
		t.Fatalf("expected state unchanged, got %q", sess.State())
	}
}

func TestSetCredentialRejectsMalformedBody(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rr := do(t, router, http.MethodPost, "/api/session/credential", `{"credential":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestResetEndsSessionAndClosesConnections(t *testing.T) {
	router, mgr, closer := newTestRouter(t)

	do(t, router, http.MethodPost, "/api/session/credential", `{"credential":"sk-1"}`)
	rr := do(t, router, http.MethodDelete, "/api/session", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if closer.callCount() != 1 {
		t.Fatalf("expected one connection close, got %d", closer.callCount())
	}
	if mgr.Len() != 0 {
		t.Fatalf("expected no live sessions, got %d", mgr.Len())
	}

	view := decodeSession(t, do(t, router, http.MethodGet, "/api/session", ""))
	if view.State != domain.StateAwaitingCredential || view.CredentialSet {
		t.Fatalf("expected a fresh session, got %+v", view)
	}
}

func TestGetMeAndConfig(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rr := do(t, router, http.MethodGet, "/api/me", "")
	var me map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if me["session_id"] != testSessionID {
		t.Fatalf("unexpected me payload: %v", me)
	}

	rr = do(t, router, http.MethodGet, "/api/config", "")
	if !strings.Contains(rr.Body.String(), "not a medical professional") {
		t.Fatalf("expected disclaimer in config: %s", rr.Body.String())
	}
}

func TestHealth(t *testing.T) {
	mgr := session.NewManager(store.NewMemory())
	rr := httptest.NewRecorder()
	NewHealthHandler(store.NewMemory(), mgr).Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	NewHealthHandler(failingRepo{Repository: store.NewMemory()}, nil).Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
