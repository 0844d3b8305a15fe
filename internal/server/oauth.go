package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/songroom/internal/shared"
	"golang.org/x/oauth2"
)

const successPage = `<!DOCTYPE html>
<html>
<head>
    <title>Authorization Successful</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: #1DB954; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>✓ Authorization Successful</h1>
        <p>%s</p>
    </div>
</body>
</html>
`

func writeSuccessPage(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, successPage, message)
}

// OAuthResult contains the result of an OAuth authorization flow.
type OAuthResult struct {
	Token *oauth2.Token
	err   error
}

func (o *OAuthResult) Error() error {
	return o.err
}

// OAuthHandler handles a single OAuth2 callback for the command line login flow.
// Implements the Handler interface for registration with a Router.
type OAuthHandler struct {
	config      *oauth2.Config
	state       string
	resultChan  chan OAuthResult
	once        sync.Once
	callbackHit bool
	mu          sync.Mutex
}

// NewOAuthHandler creates a new OAuth handler with the given OAuth2 config and state token.
// The state token should be cryptographically random for CSRF protection.
func NewOAuthHandler(config *oauth2.Config, state string) *OAuthHandler {
	return &OAuthHandler{
		config:     config,
		state:      state,
		resultChan: make(chan OAuthResult, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []string {
	return []string{"GET /callback"}
}

// ServeHTTP handles the OAuth callback request.
//
// Validates state parameter, exchanges authorization code for tokens, and sends the result through the result channel.
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Only handle callback once
	h.mu.Lock()
	if h.callbackHit {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	h.callbackHit = true
	h.mu.Unlock()

	if r.URL.Query().Get("state") != h.state {
		h.Send(OAuthResult{err: fmt.Errorf("invalid state parameter")})
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.Send(OAuthResult{err: authorizationError(r)})
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	token, err := h.config.Exchange(r.Context(), code)
	if err != nil {
		h.Send(OAuthResult{err: fmt.Errorf("token exchange failed: %w", err)})
		http.Error(w, "Token exchange failed", http.StatusInternalServerError)
		return
	}

	h.Send(OAuthResult{Token: token})
	writeSuccessPage(w, "You can close this window and return to the terminal.")
}

// Send sends the OAuth result through the channel (only once).
func (h *OAuthHandler) Send(result OAuthResult) {
	h.once.Do(func() {
		h.resultChan <- result
		close(h.resultChan)
	})
}

// Result returns the result channel for receiving OAuth flow completion.
//
// Channel will receive exactly one result and then be closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.resultChan
}

func authorizationError(r *http.Request) error {
	q := r.URL.Query()
	return fmt.Errorf("authorization failed: %s - %s", q.Get("error"), q.Get("error_description"))
}

// Reauthenticator installs a new controller token at runtime.
type Reauthenticator interface {
	Config() *oauth2.Config
	Reauthenticate(ctx context.Context, tok *oauth2.Token) error
}

// DefaultStateTTL bounds how long an issued authorization URL stays usable.
const DefaultStateTTL = 10 * time.Minute

// ControllerAuth re-authenticates the running service's controller session.
//
// A privileged user requests an authorization URL, completes consent at the provider,
// and the provider redirects to /callback. Each state token is accepted once.
type ControllerAuth struct {
	session Reauthenticator
	role    string
	ttl     time.Duration
	logger  *log.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewControllerAuth creates a [ControllerAuth] requiring role for issuing URLs.
func NewControllerAuth(session Reauthenticator, role string, logger *log.Logger) *ControllerAuth {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &ControllerAuth{
		session: session,
		role:    role,
		ttl:     DefaultStateTTL,
		logger:  shared.WithLogger(logger, "component", "controller-auth"),
		now:     time.Now,
		pending: make(map[string]time.Time),
	}
}

// Routes returns the HTTP routes this handler serves.
func (a *ControllerAuth) Routes() []string {
	return []string{"GET /api/auth", "GET /callback"}
}

func (a *ControllerAuth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/auth":
		a.authURL(w, r)
	case "/callback":
		a.callback(w, r)
	default:
		http.NotFound(w, r)
	}
}

// authURL issues a consent URL bound to a fresh state token.
func (a *ControllerAuth) authURL(w http.ResponseWriter, r *http.Request) {
	user := UserFrom(r.Context())
	if !user.HasRole(a.role) {
		writeErr(w, fmt.Errorf("%w: requires role %q", shared.ErrForbidden, a.role), user)
		return
	}

	state, err := shared.GenerateState()
	if err != nil {
		writeErr(w, err, user)
		return
	}
	a.remember(state)

	url := a.session.Config().AuthCodeURL(state, oauth2.AccessTypeOffline)
	a.logger.Info("authorization url issued", "user", user.ID)

	if r.URL.Query().Get("redirect") != "" {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (a *ControllerAuth) remember(state string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	for s, issued := range a.pending {
		if now.Sub(issued) > a.ttl {
			delete(a.pending, s)
		}
	}
	a.pending[state] = now
}

// consume reports whether state was issued and is still fresh, and forgets it.
func (a *ControllerAuth) consume(state string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	issued, ok := a.pending[state]
	if !ok {
		return false
	}
	delete(a.pending, state)
	return a.now().Sub(issued) <= a.ttl
}

func (a *ControllerAuth) callback(w http.ResponseWriter, r *http.Request) {
	if !a.consume(r.URL.Query().Get("state")) {
		a.logger.Warn("callback with unknown state")
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		a.logger.Warn("controller authorization declined", "error", authorizationError(r))
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	token, err := a.session.Config().Exchange(r.Context(), code)
	if err != nil {
		a.logger.Error("token exchange failed", "error", err)
		http.Error(w, "Token exchange failed", http.StatusBadGateway)
		return
	}

	if err := a.session.Reauthenticate(r.Context(), token); err != nil {
		a.logger.Error("failed to install controller token", "error", err)
		http.Error(w, "Failed to store token", http.StatusInternalServerError)
		return
	}

	writeSuccessPage(w, "The room controller is back online. You can close this window.")
}
