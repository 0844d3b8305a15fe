package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/desertthunder/songroom/internal/models"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	t.Run("generates an id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if seen == "" || rec.Header().Get(HeaderRequestID) != seen {
			t.Errorf("expected generated id in context and header, got %q / %q", seen, rec.Header().Get(HeaderRequestID))
		}
	})

	t.Run("reuses client id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, "abc")
		h.ServeHTTP(httptest.NewRecorder(), req)
		if seen != "abc" {
			t.Errorf("expected abc, got %q", seen)
		}
	})
}

func TestHeaderAuthenticator(t *testing.T) {
	auth := HeaderAuthenticator{}

	t.Run("anonymous without id", func(t *testing.T) {
		u, err := auth.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
		if err != nil || u != nil {
			t.Errorf("expected anonymous, got %+v, %v", u, err)
		}
	})

	t.Run("reads identity headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderUserID, "u1")
		req.Header.Set(HeaderUserName, "Alice")
		req.Header.Set(HeaderUserAvatar, "https://img/a")
		req.Header.Set(HeaderUserVerified, "true")
		req.Header.Set(HeaderUserRoles, "listener, dj ,")

		u, err := auth.Authenticate(req)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if u.ID != "u1" || u.DisplayName != "Alice" || u.AvatarRef != "https://img/a" || !u.Verified {
			t.Errorf("unexpected user: %+v", u)
		}
		if len(u.Roles) != 2 || !u.HasRole("DJ") {
			t.Errorf("unexpected roles: %v", u.Roles)
		}
	})

	t.Run("display name defaults to id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderUserID, "u2")
		u, _ := auth.Authenticate(req)
		if u.DisplayName != "u2" {
			t.Errorf("expected u2, got %q", u.DisplayName)
		}
	})

	t.Run("rejects malformed verified flag", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderUserID, "u3")
		req.Header.Set(HeaderUserVerified, "maybe")
		if _, err := auth.Authenticate(req); err == nil {
			t.Error("expected error")
		}

		rec := httptest.NewRecorder()
		Identify(auth)(http.NotFoundHandler()).ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})
}

func TestUserLimiter(t *testing.T) {
	t.Run("per user budget", func(t *testing.T) {
		l := NewUserLimiter(2)
		now := time.Unix(0, 0)
		l.now = func() time.Time { return now }

		if !l.Allow("a") || !l.Allow("a") {
			t.Fatal("expected burst of 2")
		}
		if l.Allow("a") {
			t.Error("expected third request to be limited")
		}
		if !l.Allow("b") {
			t.Error("expected other users to have their own budget")
		}

		now = now.Add(30 * time.Second)
		if !l.Allow("a") {
			t.Error("expected a token after 30s")
		}
	})

	t.Run("disabled", func(t *testing.T) {
		l := NewUserLimiter(0)
		for range 100 {
			if !l.Allow("a") {
				t.Fatal("expected no limit")
			}
		}
	})

	t.Run("sweeps idle visitors", func(t *testing.T) {
		l := NewUserLimiter(1)
		now := time.Unix(0, 0)
		l.now = func() time.Time { return now }
		l.Allow("a")
		now = now.Add(time.Hour)
		l.Allow("b")
		if _, ok := l.visitors["a"]; ok {
			t.Error("expected idle visitor to be dropped")
		}
	})

	t.Run("middleware returns 429", func(t *testing.T) {
		l := NewUserLimiter(1)
		h := l.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithUser(req.Context(), &models.User{ID: "u1"}))

		first := httptest.NewRecorder()
		h.ServeHTTP(first, req)
		second := httptest.NewRecorder()
		h.ServeHTTP(second, req)

		if first.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", first.Code)
		}
		if second.Code != http.StatusTooManyRequests {
			t.Errorf("expected 429, got %d", second.Code)
		}
	})
}
