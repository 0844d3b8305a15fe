package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/songroom/internal/models"
	"github.com/desertthunder/songroom/internal/shared"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	userKey
)

// Identity headers set by the trusted authentication proxy in front of the room.
const (
	HeaderRequestID    = "X-Request-Id"
	HeaderUserID       = "X-User-Id"
	HeaderUserName     = "X-User-Name"
	HeaderUserAvatar   = "X-User-Avatar"
	HeaderUserVerified = "X-User-Verified"
	HeaderUserRoles    = "X-User-Roles"
)

// RequestID tags each request with an id, reusing one supplied by the client.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
		})
	}
}

// RequestIDFrom returns the id set by [RequestID].
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// statusRecorder captures the response status for access logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets [http.ResponseController] reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Logging writes one access log line per request.
func Logging(logger *log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			kv := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
				"request_id", RequestIDFrom(r.Context()),
			}
			if u := UserFrom(r.Context()); u != nil {
				kv = append(kv, "user", u.ID)
			}
			if rec.status >= http.StatusInternalServerError {
				logger.Warn("request", kv...)
			} else {
				logger.Debug("request", kv...)
			}
		})
	}
}

// Authenticator resolves the signed-in user of a request. A nil user with a nil error
// means the request is anonymous.
type Authenticator interface {
	Authenticate(r *http.Request) (*models.User, error)
}

// HeaderAuthenticator trusts identity headers set by an upstream proxy.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (*models.User, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return nil, nil
	}

	user := &models.User{
		ID:          id,
		DisplayName: strings.TrimSpace(r.Header.Get(HeaderUserName)),
		AvatarRef:   strings.TrimSpace(r.Header.Get(HeaderUserAvatar)),
	}
	if user.DisplayName == "" {
		user.DisplayName = id
	}

	if v := r.Header.Get(HeaderUserVerified); v != "" {
		verified, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s header %q", shared.ErrInvalidArgument, HeaderUserVerified, v)
		}
		user.Verified = verified
	}

	for _, role := range strings.Split(r.Header.Get(HeaderUserRoles), ",") {
		if role = strings.TrimSpace(role); role != "" {
			user.Roles = append(user.Roles, role)
		}
	}
	return user, nil
}

// Identify attaches the authenticated user, if any, to the request context.
func Identify(auth Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := auth.Authenticate(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Unauthenticated", err.Error())
				return
			}
			if user != nil {
				r = r.WithContext(WithUser(r.Context(), user))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUser returns ctx carrying user.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFrom returns the user set by [Identify], or nil.
func UserFrom(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}

// UserLimiter keeps one token bucket per user (or per remote address for anonymous callers).
type UserLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idle     time.Duration
	visitors map[string]*visitor
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewUserLimiter allows perMinute requests per caller. A non-positive value disables limiting.
func NewUserLimiter(perMinute int) *UserLimiter {
	l := &UserLimiter{
		limit:    rate.Inf,
		burst:    1,
		idle:     10 * time.Minute,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
	if perMinute > 0 {
		l.limit = rate.Every(time.Minute / time.Duration(perMinute))
		l.burst = perMinute
	}
	return l
}

// Allow reports whether key may proceed now.
func (l *UserLimiter) Allow(key string) bool {
	if l.limit == rate.Inf {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[key]
	if !ok {
		l.sweep(now)
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// sweep drops idle visitors. Callers hold l.mu.
func (l *UserLimiter) sweep(now time.Time) {
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.idle {
			delete(l.visitors, key)
		}
	}
}

// Middleware rejects callers over their budget with 429.
func (l *UserLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "addr:" + remoteHost(r)
			if u := UserFrom(r.Context()); u != nil {
				key = "user:" + u.ID
			}
			if !l.Allow(key) {
				w.Header().Set("Retry-After", "60")
				writeErr(w, shared.ErrRateLimited, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
