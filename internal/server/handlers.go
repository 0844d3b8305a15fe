package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/songroom/internal/models"
	"github.com/desertthunder/songroom/internal/services"
	"github.com/desertthunder/songroom/internal/shared"
	"github.com/desertthunder/songroom/internal/tasks"
)

const (
	maxBodyBytes       = 4 << 10
	defaultSearchLimit = 20
	maxSearchLimit     = 50
	heartbeatInterval  = 15 * time.Second
)

// ViewSource publishes playback views.
type ViewSource interface {
	Latest() *models.PlaybackView
	Subscribe() <-chan struct{}
	Unsubscribe(ch <-chan struct{})
}

// Room accepts listener requests and privileged commands.
type Room interface {
	SubmitRequest(ctx context.Context, user *models.User, raw string) (*tasks.Submission, error)
	Control(ctx context.Context, user *models.User, cmd models.Command) error
	PrivilegedRole() string
}

// SessionStatus reports the controller session state.
type SessionStatus interface {
	State() services.SessionState
}

// ReconcilerStatus reports the polling loop state.
type ReconcilerStatus interface {
	State() tasks.State
	Failures() int
}

// RoomOpts configures a [RoomHandler]. Catalog, Session and Reconciler are optional.
type RoomOpts struct {
	Views       ViewSource
	Room        Room
	Catalog     services.Catalog
	Session     SessionStatus
	Reconciler  ReconcilerStatus
	SearchLimit int
	Logger      *log.Logger
}

// RoomHandler serves the listening room API.
type RoomHandler struct {
	views       ViewSource
	room        Room
	catalog     services.Catalog
	session     SessionStatus
	reconciler  ReconcilerStatus
	searchLimit int
	heartbeat   time.Duration
	logger      *log.Logger
}

// NewRoomHandler creates a [RoomHandler].
func NewRoomHandler(opts RoomOpts) *RoomHandler {
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = defaultSearchLimit
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	return &RoomHandler{
		views:       opts.Views,
		room:        opts.Room,
		catalog:     opts.Catalog,
		session:     opts.Session,
		reconciler:  opts.Reconciler,
		searchLimit: opts.SearchLimit,
		heartbeat:   heartbeatInterval,
		logger:      shared.WithLogger(opts.Logger, "component", "http"),
	}
}

// Register mounts the API on r. submit wraps the request endpoint, typically with a rate limiter.
func (h *RoomHandler) Register(r Router, submit ...Middleware) {
	var queue http.Handler = http.HandlerFunc(h.Submit)
	for i := len(submit) - 1; i >= 0; i-- {
		queue = submit[i](queue)
	}

	r.Handle(http.MethodGet, "/api/playback", http.HandlerFunc(h.Playback))
	r.Handle(http.MethodGet, "/api/playback/stream", http.HandlerFunc(h.Stream))
	r.Handle(http.MethodPost, "/api/queue", queue)
	r.Handle(http.MethodPost, "/api/playback", http.HandlerFunc(h.Control))
	r.Handle(http.MethodPut, "/api/volume", http.HandlerFunc(h.Volume))
	r.Handle(http.MethodGet, "/api/search", http.HandlerFunc(h.Search))
	r.Handle(http.MethodGet, "/api/profile", http.HandlerFunc(h.Profile))
	r.Handle(http.MethodGet, "/healthz", http.HandlerFunc(h.Health))
}

// Playback returns the latest view.
func (h *RoomHandler) Playback(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.views.Latest())
}

// Stream pushes each new view as a server-sent event until the client disconnects.
func (h *RoomHandler) Stream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	updates := h.views.Subscribe()
	defer h.views.Unsubscribe(updates)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	var sent uint64
	send := func() error {
		v := h.views.Latest()
		if sent != 0 && v.Sequence <= sent {
			return nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: view\nid: %d\ndata: %s\n\n", v.Sequence, data); err != nil {
			return err
		}
		sent = v.Sequence
		return rc.Flush()
	}

	if err := send(); err != nil {
		h.logger.Debug("stream closed", "error", err)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-updates:
			if err := send(); err != nil {
				h.logger.Debug("stream closed", "error", err)
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// SubmitBody is the payload of POST /api/queue.
type SubmitBody struct {
	Reference string `json:"reference"`
}

// Submit enqueues a song request for the signed-in user.
func (h *RoomHandler) Submit(w http.ResponseWriter, r *http.Request) {
	user := UserFrom(r.Context())
	if user == nil {
		writeErr(w, fmt.Errorf("%w: sign in to request songs", shared.ErrForbidden), nil)
		return
	}

	var body SubmitBody
	if err := decodeBody(w, r, &body); err != nil {
		writeErr(w, err, user)
		return
	}

	sub, err := h.room.SubmitRequest(r.Context(), user, body.Reference)
	if err != nil {
		writeErr(w, err, user)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// Control forwards a privileged playback command.
func (h *RoomHandler) Control(w http.ResponseWriter, r *http.Request) {
	user := UserFrom(r.Context())
	if !h.privileged(w, user) {
		return
	}

	var cmd models.Command
	if err := decodeBody(w, r, &cmd); err != nil {
		writeErr(w, err, user)
		return
	}
	h.control(w, r, user, cmd)
}

// VolumeBody is the payload of PUT /api/volume.
type VolumeBody struct {
	Volume *int `json:"volume"`
}

// Volume sets the output volume.
func (h *RoomHandler) Volume(w http.ResponseWriter, r *http.Request) {
	user := UserFrom(r.Context())
	if !h.privileged(w, user) {
		return
	}

	var body VolumeBody
	if err := decodeBody(w, r, &body); err != nil {
		writeErr(w, err, user)
		return
	}
	if body.Volume == nil {
		writeErr(w, fmt.Errorf("%w: volume", shared.ErrMissingArgument), user)
		return
	}
	h.control(w, r, user, models.Command{Volume: body.Volume})
}

// privileged rejects callers without the room's privileged role before their body is read.
func (h *RoomHandler) privileged(w http.ResponseWriter, user *models.User) bool {
	if user.HasRole(h.room.PrivilegedRole()) {
		return true
	}
	writeErr(w, fmt.Errorf("%w: %q role required", shared.ErrForbidden, h.room.PrivilegedRole()), user)
	return false
}

func (h *RoomHandler) control(w http.ResponseWriter, r *http.Request, user *models.User, cmd models.Command) {
	if err := h.room.Control(r.Context(), user, cmd); err != nil {
		writeErr(w, err, user)
		return
	}
	writeJSON(w, http.StatusOK, h.views.Latest())
}

// Search looks up tracks in the provider catalog.
func (h *RoomHandler) Search(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeErr(w, shared.ErrProviderUnavailable, UserFrom(r.Context()))
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeErr(w, fmt.Errorf("%w: q", shared.ErrMissingArgument), UserFrom(r.Context()))
		return
	}

	limit := h.searchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSearchLimit {
			writeErr(w, fmt.Errorf("%w: limit must be between 1 and %d", shared.ErrInvalidArgument, maxSearchLimit), UserFrom(r.Context()))
			return
		}
		limit = n
	}

	items, err := h.catalog.Search(r.Context(), query, limit)
	if err != nil {
		writeErr(w, err, UserFrom(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Profile returns the controller account.
func (h *RoomHandler) Profile(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeErr(w, shared.ErrProviderUnavailable, UserFrom(r.Context()))
		return
	}
	profile, err := h.catalog.Profile(r.Context())
	if err != nil {
		writeErr(w, err, UserFrom(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status     string `json:"status"`
	Session    string `json:"session,omitempty"`
	Reconciler string `json:"reconciler,omitempty"`
	Failures   int    `json:"failures"`
	Sequence   uint64 `json:"sequence"`
	Stale      bool   `json:"stale"`
	Offline    bool   `json:"controller_offline"`
}

// Health reports liveness. The service is degraded, not down, while the controller is offline.
func (h *RoomHandler) Health(w http.ResponseWriter, r *http.Request) {
	v := h.views.Latest()
	resp := HealthResponse{
		Status:   "ok",
		Sequence: v.Sequence,
		Stale:    v.Stale,
		Offline:  v.ControllerOffline,
	}
	if h.session != nil {
		resp.Session = h.session.State().String()
	}
	if h.reconciler != nil {
		resp.Reconciler = h.reconciler.State().String()
		resp.Failures = h.reconciler.Failures()
	}
	if resp.Stale || resp.Offline {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", shared.ErrInvalidArgument)
		}
		return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}
	return nil
}
