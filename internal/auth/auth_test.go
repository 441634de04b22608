package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfoia/case-engine/internal/config"
)

func enabledManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(config.AuthConfig{
		Enabled:      true,
		CookieName:   "case_engine_session",
		CookieMaxAge: 3600,
	}, "http://localhost:8080")
}

func addSession(m *Manager, email string, expires time.Time) string {
	id, _ := randomToken()
	m.mu.Lock()
	m.active[id] = &Session{
		UserID:    "u-1",
		Email:     email,
		Name:      "Reviewer",
		CreatedAt: time.Now(),
		ExpiresAt: expires,
	}
	m.mu.Unlock()
	return id
}

func TestSessionFor(t *testing.T) {
	m := enabledManager(t)

	t.Run("live session resolves", func(t *testing.T) {
		id := addSession(m, "reviewer@example.org", time.Now().Add(time.Hour))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil)
		req.AddCookie(&http.Cookie{Name: "case_engine_session", Value: id})

		s := m.SessionFor(req)
		require.NotNil(t, s)
		assert.Equal(t, "reviewer@example.org", s.Email)
	})

	t.Run("expired session evicted", func(t *testing.T) {
		id := addSession(m, "stale@example.org", time.Now().Add(-time.Minute))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil)
		req.AddCookie(&http.Cookie{Name: "case_engine_session", Value: id})

		assert.Nil(t, m.SessionFor(req))

		m.mu.RLock()
		_, still := m.active[id]
		m.mu.RUnlock()
		assert.False(t, still)
	})

	t.Run("no cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil)
		assert.Nil(t, m.SessionFor(req))
	})
}

func TestRequireAuth(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("blocks api without session", func(t *testing.T) {
		m := enabledManager(t)
		rec := httptest.NewRecorder()
		m.RequireAuth(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("passes api with session", func(t *testing.T) {
		m := enabledManager(t)
		id := addSession(m, "reviewer@example.org", time.Now().Add(time.Hour))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil)
		req.AddCookie(&http.Cookie{Name: "case_engine_session", Value: id})

		rec := httptest.NewRecorder()
		m.RequireAuth(next).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("webhook and health bypass", func(t *testing.T) {
		m := enabledManager(t)
		for _, path := range []string{"/webhooks/email", "/health", "/auth/login"} {
			rec := httptest.NewRecorder()
			m.RequireAuth(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code, path)
		}
	})

	t.Run("disabled auth passes everything", func(t *testing.T) {
		m := NewManager(config.AuthConfig{Enabled: false}, "http://localhost")
		rec := httptest.NewRecorder()
		m.RequireAuth(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestHandleWhoAmI(t *testing.T) {
	m := enabledManager(t)
	id := addSession(m, "reviewer@example.org", time.Now().Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "case_engine_session", Value: id})
	rec := httptest.NewRecorder()
	m.HandleWhoAmI(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reviewer@example.org")

	rec = httptest.NewRecorder()
	m.HandleWhoAmI(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleLogout(t *testing.T) {
	m := enabledManager(t)
	id := addSession(m, "reviewer@example.org", time.Now().Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "case_engine_session", Value: id})
	rec := httptest.NewRecorder()
	m.HandleLogout(rec, req)

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	m.mu.RLock()
	_, still := m.active[id]
	m.mu.RUnlock()
	assert.False(t, still)
}
