package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/songroom/internal/shared"
	"golang.org/x/oauth2"
)

// memoryTokenStore is an in-memory [TokenStore].
type memoryTokenStore struct {
	mu          sync.Mutex
	saved       []*oauth2.Token
	invalidated int
}

func (m *memoryTokenStore) Save(_ context.Context, tok *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, tok)
	return nil
}

func (m *memoryTokenStore) Latest(_ context.Context) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 || m.invalidated > 0 {
		return nil, nil
	}
	return m.saved[len(m.saved)-1], nil
}

func (m *memoryTokenStore) Invalidate(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated++
	return nil
}

// tokenServer returns a token endpoint answering with status; 200 issues access tokens "fresh-N".
func tokenServer(t *testing.T, status *atomic.Int32, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if code := int(status.Load()); code != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "refresh_token" {
			t.Errorf("unexpected token request: %v %v", err, r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh-" + string(rune('0'+n)),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestSession(tokenURL string, store TokenStore) *Session {
	return NewSession(SessionOpts{
		Config: &oauth2.Config{
			ClientID:     "client",
			ClientSecret: "secret",
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
		},
		Store: store,
	})
}

func TestSession(t *testing.T) {
	t.Run("absent session fails fast", func(t *testing.T) {
		s := newTestSession("http://127.0.0.1:0/token", nil)

		_, err := s.TokenContext(context.Background())
		if !errors.Is(err, shared.ErrSessionInvalid) || !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected session invalid + not authenticated, got %v", err)
		}
		if s.State() != SessionAbsent {
			t.Errorf("expected absent, got %v", s.State())
		}
	})

	t.Run("valid token is returned without refresh", func(t *testing.T) {
		var status, calls atomic.Int32
		status.Store(http.StatusOK)
		srv := tokenServer(t, &status, &calls)

		s := newTestSession(srv.URL, nil)
		tok := &oauth2.Token{AccessToken: "live", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}
		if err := s.Reauthenticate(context.Background(), tok); err != nil {
			t.Fatalf("reauthenticate: %v", err)
		}

		got, err := s.TokenContext(context.Background())
		if err != nil || got.AccessToken != "live" {
			t.Fatalf("expected live token, got %v, %v", got, err)
		}
		if calls.Load() != 0 {
			t.Errorf("expected no refresh calls, got %d", calls.Load())
		}
	})

	t.Run("expired token refreshes and persists", func(t *testing.T) {
		var status, calls atomic.Int32
		status.Store(http.StatusOK)
		srv := tokenServer(t, &status, &calls)
		store := &memoryTokenStore{}

		s := newTestSession(srv.URL, store)
		expired := &oauth2.Token{AccessToken: "old", RefreshToken: "r", Expiry: time.Now().Add(-time.Minute)}
		if err := s.Reauthenticate(context.Background(), expired); err != nil {
			t.Fatalf("reauthenticate: %v", err)
		}

		got, err := s.TokenContext(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.AccessToken == "old" {
			t.Error("expected refreshed access token")
		}
		if got.RefreshToken != "r" {
			t.Errorf("expected refresh token to be preserved, got %q", got.RefreshToken)
		}
		if len(store.saved) != 2 {
			t.Errorf("expected reauth + refresh to be persisted, got %d saves", len(store.saved))
		}
	})

	t.Run("rejected refresh invalidates the session", func(t *testing.T) {
		var status, calls atomic.Int32
		status.Store(http.StatusBadRequest)
		srv := tokenServer(t, &status, &calls)
		store := &memoryTokenStore{}

		s := newTestSession(srv.URL, store)
		changes := make(chan SessionState, 4)
		s.OnChange(func(st SessionState) { changes <- st })

		expired := &oauth2.Token{AccessToken: "old", RefreshToken: "revoked", Expiry: time.Now().Add(-time.Minute)}
		s.Reauthenticate(context.Background(), expired)

		if _, err := s.TokenContext(context.Background()); !errors.Is(err, shared.ErrSessionInvalid) {
			t.Fatalf("expected ErrSessionInvalid, got %v", err)
		}
		if s.State() != SessionInvalid {
			t.Errorf("expected invalid state, got %v", s.State())
		}
		if store.invalidated != 1 {
			t.Errorf("expected stored token to be invalidated")
		}

		before := calls.Load()
		if _, err := s.TokenContext(context.Background()); !errors.Is(err, shared.ErrSessionInvalid) {
			t.Errorf("expected fail fast, got %v", err)
		}
		if calls.Load() != before {
			t.Error("invalid session should not contact the token endpoint")
		}

		waitState(t, changes, SessionInvalid)

		t.Run("reauthentication recovers", func(t *testing.T) {
			fresh := &oauth2.Token{AccessToken: "new", RefreshToken: "r2", Expiry: time.Now().Add(time.Hour)}
			if err := s.Reauthenticate(context.Background(), fresh); err != nil {
				t.Fatalf("reauthenticate: %v", err)
			}
			if s.State() != SessionValid {
				t.Errorf("expected valid state, got %v", s.State())
			}
			waitState(t, changes, SessionValid)
		})
	})

	t.Run("token endpoint outage is transient", func(t *testing.T) {
		var status, calls atomic.Int32
		status.Store(http.StatusServiceUnavailable)
		srv := tokenServer(t, &status, &calls)

		s := newTestSession(srv.URL, nil)
		s.Reauthenticate(context.Background(), &oauth2.Token{AccessToken: "old", RefreshToken: "r", Expiry: time.Now().Add(-time.Minute)})

		if _, err := s.TokenContext(context.Background()); !errors.Is(err, shared.ErrProviderUnavailable) {
			t.Fatalf("expected ErrProviderUnavailable, got %v", err)
		}
		if s.State() != SessionValid {
			t.Errorf("outage should not invalidate, got %v", s.State())
		}
	})

	t.Run("token endpoint 429 is transient", func(t *testing.T) {
		for _, code := range []int{http.StatusTooManyRequests, http.StatusRequestTimeout} {
			var status, calls atomic.Int32
			status.Store(int32(code))
			srv := tokenServer(t, &status, &calls)

			store := &memoryTokenStore{}
			s := newTestSession(srv.URL, store)
			s.Reauthenticate(context.Background(), &oauth2.Token{AccessToken: "old", RefreshToken: "r", Expiry: time.Now().Add(-time.Minute)})

			if _, err := s.TokenContext(context.Background()); !errors.Is(err, shared.ErrProviderUnavailable) {
				t.Fatalf("status %d: expected ErrProviderUnavailable, got %v", code, err)
			}
			if s.State() != SessionValid {
				t.Errorf("status %d: expected session to stay valid, got %v", code, s.State())
			}
			if store.invalidated != 0 {
				t.Errorf("status %d: stored token should not be invalidated", code)
			}

			status.Store(http.StatusOK)
			tok, err := s.TokenContext(context.Background())
			if err != nil {
				t.Fatalf("status %d: expected recovery once the endpoint answers, got %v", code, err)
			}
			if tok.AccessToken == "old" {
				t.Errorf("status %d: expected a refreshed token", code)
			}
		}
	})

	t.Run("refreshRejected", func(t *testing.T) {
		tests := map[int]bool{
			http.StatusBadRequest:          true,
			http.StatusUnauthorized:        true,
			http.StatusForbidden:           false,
			http.StatusRequestTimeout:      false,
			http.StatusTooManyRequests:     false,
			http.StatusInternalServerError: false,
		}
		for code, want := range tests {
			err := &oauth2.RetrieveError{Response: &http.Response{StatusCode: code}}
			if got := refreshRejected(err); got != want {
				t.Errorf("refreshRejected(%d) = %v, want %v", code, got, want)
			}
		}
		if refreshRejected(errors.New("dial tcp: refused")) {
			t.Error("network errors are not rejections")
		}
	})

	t.Run("missing refresh token invalidates", func(t *testing.T) {
		s := newTestSession("http://127.0.0.1:0/token", nil)
		s.Reauthenticate(context.Background(), &oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(-time.Minute)})

		if _, err := s.TokenContext(context.Background()); !errors.Is(err, shared.ErrSessionInvalid) {
			t.Fatalf("expected ErrSessionInvalid, got %v", err)
		}
	})

	t.Run("ForceRefresh skips when token already replaced", func(t *testing.T) {
		var status, calls atomic.Int32
		status.Store(http.StatusOK)
		srv := tokenServer(t, &status, &calls)

		s := newTestSession(srv.URL, nil)
		s.Reauthenticate(context.Background(), &oauth2.Token{AccessToken: "current", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)})

		got, err := s.ForceRefresh(context.Background(), &oauth2.Token{AccessToken: "older"})
		if err != nil || got.AccessToken != "current" {
			t.Fatalf("expected current token, got %v, %v", got, err)
		}
		if calls.Load() != 0 {
			t.Error("expected no refresh")
		}

		got, err = s.ForceRefresh(context.Background(), got)
		if err != nil || got.AccessToken == "current" {
			t.Fatalf("expected forced refresh, got %v, %v", got, err)
		}
	})

	t.Run("Restore", func(t *testing.T) {
		store := &memoryTokenStore{}
		store.Save(context.Background(), &oauth2.Token{AccessToken: "persisted", RefreshToken: "r"})

		s := newTestSession("http://127.0.0.1:0/token", store)
		if err := s.Restore(context.Background()); err != nil {
			t.Fatalf("restore: %v", err)
		}
		if s.State() != SessionValid {
			t.Errorf("expected valid after restore, got %v", s.State())
		}

		empty := newTestSession("http://127.0.0.1:0/token", &memoryTokenStore{})
		empty.Restore(context.Background())
		if empty.State() != SessionAbsent {
			t.Errorf("expected absent with empty store, got %v", empty.State())
		}
	})
}

func waitState(t *testing.T, ch <-chan SessionState, want SessionState) {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case st := <-ch:
			if st == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}
