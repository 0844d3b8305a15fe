package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/songroom/internal/models"
	"github.com/desertthunder/songroom/internal/shared"
	"golang.org/x/time/rate"
)

const (
	defaultMaxRetries    = 3
	defaultBaseRetryWait = 500 * time.Millisecond
	defaultMaxRetryWait  = 5 * time.Second
)

// APIError is an error response from the provider that is not retried.
type APIError struct {
	ErrorInfo struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spotify API error %d: %s", e.ErrorInfo.Status, e.ErrorInfo.Message)
}

// Unwrap classifies client errors the provider refused as [shared.ErrProviderRejected].
func (e *APIError) Unwrap() error {
	if e.ErrorInfo.Status >= 400 && e.ErrorInfo.Status < 500 {
		return shared.ErrProviderRejected
	}
	return nil
}

// noActiveDevice reports the provider's "no active device" player error.
func (e *APIError) noActiveDevice() bool {
	return e.ErrorInfo.Reason == "NO_ACTIVE_DEVICE" ||
		strings.Contains(strings.ToLower(e.ErrorInfo.Message), "no active device")
}

// GatewayOpts configures a [SpotifyGateway].
type GatewayOpts struct {
	BaseURL       string
	Session       *Session
	HTTPClient    *http.Client
	Limiter       *rate.Limiter
	MaxRetries    int
	BaseRetryWait time.Duration
	MaxRetryWait  time.Duration
	Logger        *log.Logger
}

// NewGatewayOpts derives gateway options from configuration.
func NewGatewayOpts(cfg shared.ProviderConfig, session *Session, logger *log.Logger) GatewayOpts {
	return GatewayOpts{
		BaseURL:       cfg.APIURL,
		Session:       session,
		HTTPClient:    &http.Client{Timeout: cfg.Timeout},
		Limiter:       NewLimiter(cfg),
		MaxRetries:    cfg.MaxRetries,
		BaseRetryWait: cfg.BaseRetryWait,
		MaxRetryWait:  cfg.MaxRetryWait,
		Logger:        logger,
	}
}

// NewLimiter builds the outbound limiter shared by the gateway and the catalog.
func NewLimiter(cfg shared.ProviderConfig) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

// SpotifyGateway implements [Provider] against the Spotify Web API.
type SpotifyGateway struct {
	baseURL    string
	session    *Session
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	baseWait   time.Duration
	maxWait    time.Duration
	logger     *log.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewSpotifyGateway creates a gateway. Zero-valued options fall back to defaults.
func NewSpotifyGateway(opts GatewayOpts) *SpotifyGateway {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.spotify.com/v1"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(rate.Inf, 0)
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.BaseRetryWait <= 0 {
		opts.BaseRetryWait = defaultBaseRetryWait
	}
	if opts.MaxRetryWait <= 0 {
		opts.MaxRetryWait = defaultMaxRetryWait
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	return &SpotifyGateway{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		session:    opts.Session,
		httpClient: opts.HTTPClient,
		limiter:    opts.Limiter,
		maxRetries: opts.MaxRetries,
		baseWait:   opts.BaseRetryWait,
		maxWait:    opts.MaxRetryWait,
		logger:     shared.WithLogger(opts.Logger, "component", "gateway"),
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Online reports whether the controller session is valid.
func (g *SpotifyGateway) Online() bool {
	return g.session.State() == SessionValid
}

// GetCurrent returns the playback state or nil when the provider reports nothing playing.
func (g *SpotifyGateway) GetCurrent(ctx context.Context) (*PlaybackState, error) {
	var state PlaybackState
	q := url.Values{"additional_types": {"track,episode"}}

	status, err := g.request(ctx, http.MethodGet, "/me/player", q, nil, &state)
	if errors.Is(err, shared.ErrNoActiveDevice) || status == http.StatusNoContent {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// GetQueue returns the controller's queue.
func (g *SpotifyGateway) GetQueue(ctx context.Context) (*Queue, error) {
	var queue Queue
	q := url.Values{"additional_types": {"track,episode"}}

	status, err := g.request(ctx, http.MethodGet, "/me/player/queue", q, nil, &queue)
	if errors.Is(err, shared.ErrNoActiveDevice) || status == http.StatusNoContent || status == http.StatusNotFound {
		return &Queue{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &queue, nil
}

// GetHistory returns up to limit recently played tracks.
func (g *SpotifyGateway) GetHistory(ctx context.Context, limit int) ([]PlayHistory, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	var resp recentlyPlayed
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if _, err := g.request(ctx, http.MethodGet, "/me/player/recently-played", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Enqueue adds uri to the end of the controller's queue.
func (g *SpotifyGateway) Enqueue(ctx context.Context, uri string) error {
	_, err := g.request(ctx, http.MethodPost, "/me/player/queue", url.Values{"uri": {uri}}, nil, nil)
	return err
}

// SetPlayback forwards a transport action to the active device.
func (g *SpotifyGateway) SetPlayback(ctx context.Context, action models.Action) error {
	var (
		method string
		path   string
		body   any
	)
	switch action {
	case models.ActionPlay:
		method, path, body = http.MethodPut, "/me/player/play", struct{}{}
	case models.ActionPause:
		method, path = http.MethodPut, "/me/player/pause"
	case models.ActionNext:
		method, path = http.MethodPost, "/me/player/next"
	case models.ActionPrevious:
		method, path = http.MethodPost, "/me/player/previous"
	default:
		return fmt.Errorf("%w: unknown action %q", shared.ErrInvalidArgument, action)
	}

	_, err := g.request(ctx, method, path, nil, body, nil)
	return err
}

// SetVolume sets the active device volume.
func (g *SpotifyGateway) SetVolume(ctx context.Context, percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: volume must be between 0 and 100", shared.ErrInvalidArgument)
	}
	q := url.Values{"volume_percent": {strconv.Itoa(percent)}}
	_, err := g.request(ctx, http.MethodPut, "/me/player/volume", q, nil, nil)
	return err
}

// request performs one logical API call, retrying transient failures.
// It returns the final HTTP status alongside any error.
func (g *SpotifyGateway) request(ctx context.Context, method, path string, query url.Values, body, result any) (int, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = b
	}

	endpoint := g.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	refreshed := false
	var lastErr error

	for attempt := 0; ; attempt++ {
		tok, err := g.session.TokenContext(ctx)
		if err != nil {
			return 0, err
		}

		if err := g.limiter.Wait(ctx); err != nil {
			return 0, err
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
		if err != nil {
			return 0, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := g.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			lastErr = err
			if attempt < g.maxRetries {
				g.logger.Debug("request failed, retrying", "path", path, "attempt", attempt+1, "error", err)
				if err := g.sleep(ctx, g.backoff(attempt)); err != nil {
					return 0, err
				}
				continue
			}
			return 0, fmt.Errorf("%w: %s %s: %v", shared.ErrProviderUnavailable, method, path, lastErr)
		}

		status := resp.StatusCode
		switch {
		case status == http.StatusNoContent:
			resp.Body.Close()
			return status, nil

		case status >= 200 && status < 300:
			err := decodeBody(resp, result)
			return status, err

		case status == http.StatusUnauthorized:
			drain(resp)
			if refreshed {
				g.session.Invalidate(ctx, errors.New("provider rejected a freshly refreshed token"))
				return status, fmt.Errorf("%w: provider rejected token", shared.ErrSessionInvalid)
			}
			refreshed = true
			if _, err := g.session.ForceRefresh(ctx, tok); err != nil {
				return status, err
			}
			attempt--
			continue

		case status == http.StatusTooManyRequests || status >= 500:
			wait := g.backoff(attempt)
			if status == http.StatusTooManyRequests {
				if ra, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
					wait = min(ra, g.maxWait)
				}
			}
			lastErr = apiError(resp)
			if attempt < g.maxRetries {
				g.logger.Debug("transient provider error, retrying", "path", path, "status", status, "wait", wait)
				if err := g.sleep(ctx, wait); err != nil {
					return status, err
				}
				continue
			}
			return status, fmt.Errorf("%w: %s %s: %v", shared.ErrProviderUnavailable, method, path, lastErr)

		default:
			apiErr := apiError(resp)
			if status == http.StatusNotFound && apiErr.noActiveDevice() {
				return status, fmt.Errorf("%w: %v", shared.ErrNoActiveDevice, apiErr)
			}
			return status, apiErr
		}
	}
}

// backoff returns base * 2^attempt capped at the maximum wait.
func (g *SpotifyGateway) backoff(attempt int) time.Duration {
	wait := g.baseWait
	for range attempt {
		wait *= 2
		if wait >= g.maxWait {
			return g.maxWait
		}
	}
	return wait
}

func retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(time.Until(at), 0), true
	}
	return 0, false
}

func decodeBody(resp *http.Response, result any) error {
	defer resp.Body.Close()
	if result == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) *APIError {
	defer resp.Body.Close()

	apiErr := &APIError{}
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.ErrorInfo.Status == 0 {
		apiErr.ErrorInfo.Status = resp.StatusCode
		if apiErr.ErrorInfo.Message == "" {
			apiErr.ErrorInfo.Message = strings.TrimSpace(string(data))
		}
	}
	return apiErr
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
