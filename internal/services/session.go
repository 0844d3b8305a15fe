package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/songroom/internal/shared"
	"golang.org/x/oauth2"
)

// Scopes requested for the controller account.
var Scopes = []string{
	"user-read-private",
	"user-modify-playback-state",
	"user-read-playback-state",
	"user-read-currently-playing",
	"user-read-recently-played",
}

// expiryBuffer refreshes tokens slightly before the provider would reject them.
const expiryBuffer = 60 * time.Second

// SessionState is the lifecycle state of the controller credential.
type SessionState int

const (
	SessionAbsent SessionState = iota
	SessionValid
	SessionInvalid
)

func (s SessionState) String() string {
	switch s {
	case SessionValid:
		return "valid"
	case SessionInvalid:
		return "invalid"
	default:
		return "absent"
	}
}

// TokenStore persists the controller token across restarts.
type TokenStore interface {
	Save(ctx context.Context, token *oauth2.Token) error
	Latest(ctx context.Context) (*oauth2.Token, error)
	Invalidate(ctx context.Context) error
}

// NewOAuthConfig builds the controller OAuth client from configuration.
func NewOAuthConfig(creds shared.SpotifyConfig, provider shared.ProviderConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURI,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   provider.AuthURL,
			TokenURL:  provider.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// SessionOpts configures a [Session].
type SessionOpts struct {
	Config     *oauth2.Config
	Store      TokenStore
	HTTPClient *http.Client // used for the token endpoint
	Logger     *log.Logger
}

// Session owns the controller credential. It is safe for concurrent use; refreshes
// are serialized so concurrent callers share one refresh.
type Session struct {
	mu        sync.Mutex
	config    *oauth2.Config
	store     TokenStore
	client    *http.Client
	logger    *log.Logger
	token     *oauth2.Token
	state     SessionState
	listeners []func(SessionState)
	now       func() time.Time
}

// NewSession creates a session in the [SessionAbsent] state.
func NewSession(opts SessionOpts) *Session {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Session{
		config: opts.Config,
		store:  opts.Store,
		client: opts.HTTPClient,
		logger: shared.WithLogger(opts.Logger, "component", "session"),
		now:    time.Now,
	}
}

// Config returns the OAuth client used for authorization and refresh.
func (s *Session) Config() *oauth2.Config {
	return s.config
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnChange registers fn to run (in its own goroutine) whenever the state changes.
func (s *Session) OnChange(fn func(SessionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// setState must be called with s.mu held.
func (s *Session) setState(state SessionState) {
	if s.state == state {
		return
	}
	s.logger.Info("session state changed", "from", s.state, "to", state)
	s.state = state
	s.notify()
}

func (s *Session) notify() {
	for _, fn := range s.listeners {
		go fn(s.state)
	}
}

// Restore loads the last persisted token. A missing token leaves the session absent.
func (s *Session) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	tok, err := s.store.Latest(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore controller token: %w", err)
	}
	if tok == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = tok
	s.setState(SessionValid)
	return nil
}

// Reauthenticate installs a freshly exchanged token and marks the session valid.
func (s *Session) Reauthenticate(ctx context.Context, tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return fmt.Errorf("%w: empty token", shared.ErrInvalidArgument)
	}

	if s.store != nil {
		if err := s.store.Save(ctx, tok); err != nil {
			return fmt.Errorf("failed to persist controller token: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = tok
	s.logger.Info("controller reauthenticated", "previous", s.state)
	s.state = SessionValid
	s.notify()
	return nil
}

// Token implements [oauth2.TokenSource].
func (s *Session) Token() (*oauth2.Token, error) {
	return s.TokenContext(context.Background())
}

// TokenContext returns a usable access token, refreshing it when it is about to expire.
func (s *Session) TokenContext(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return nil, err
	}
	if !s.expired(s.token) {
		return s.token, nil
	}
	return s.refresh(ctx)
}

// ForceRefresh refreshes after the provider rejected stale. If another caller already
// replaced stale, the newer token is returned without a second refresh.
func (s *Session) ForceRefresh(ctx context.Context, stale *oauth2.Token) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return nil, err
	}
	if stale != nil && s.token.AccessToken != stale.AccessToken {
		return s.token, nil
	}
	return s.refresh(ctx)
}

// Invalidate marks the credential unusable until the next [Session.Reauthenticate].
func (s *Session) Invalidate(ctx context.Context, reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidate(ctx, reason)
}

func (s *Session) invalidate(ctx context.Context, reason error) {
	s.logger.Error("controller session invalidated", "reason", reason)
	if s.store != nil {
		if err := s.store.Invalidate(ctx); err != nil {
			s.logger.Warn("failed to invalidate stored token", "error", err)
		}
	}
	s.setState(SessionInvalid)
}

func (s *Session) usable() error {
	switch s.state {
	case SessionAbsent:
		return fmt.Errorf("%w: %w", shared.ErrSessionInvalid, shared.ErrNotAuthenticated)
	case SessionInvalid:
		return shared.ErrSessionInvalid
	}
	return nil
}

func (s *Session) expired(tok *oauth2.Token) bool {
	if tok.Expiry.IsZero() {
		return false
	}
	return s.now().Add(expiryBuffer).After(tok.Expiry)
}

// refresh must be called with s.mu held.
func (s *Session) refresh(ctx context.Context) (*oauth2.Token, error) {
	if s.token.RefreshToken == "" {
		s.invalidate(ctx, errors.New("no refresh token"))
		return nil, fmt.Errorf("%w: no refresh token available", shared.ErrSessionInvalid)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	src := s.config.TokenSource(ctx, &oauth2.Token{RefreshToken: s.token.RefreshToken})

	tok, err := src.Token()
	if err != nil {
		if refreshRejected(err) {
			s.invalidate(ctx, err)
			return nil, fmt.Errorf("%w: refresh rejected: %v", shared.ErrSessionInvalid, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Warn("token refresh failed", "error", err)
		return nil, fmt.Errorf("%w: token refresh: %v", shared.ErrProviderUnavailable, err)
	}

	if tok.RefreshToken == "" {
		tok.RefreshToken = s.token.RefreshToken
	}
	s.token = tok
	s.logger.Debug("controller token refreshed", "expiry", tok.Expiry)

	if s.store != nil {
		if err := s.store.Save(ctx, tok); err != nil {
			s.logger.Warn("failed to persist refreshed token", "error", err)
		}
	}
	return tok, nil
}

// refreshRejected reports whether the token endpoint refused the refresh token itself.
// Rate limits, timeouts and server errors leave the credential usable.
func refreshRejected(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return false
	}
	switch re.Response.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized:
		return true
	}
	return false
}
