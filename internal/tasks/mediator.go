package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/songroom/internal/attribution"
	"github.com/desertthunder/songroom/internal/models"
	"github.com/desertthunder/songroom/internal/services"
	"github.com/desertthunder/songroom/internal/shared"
	"github.com/desertthunder/songroom/internal/tracks"
)

const (
	defaultSettleDelay    = 1500 * time.Millisecond
	defaultPrivilegedRole = "dj"
)

// Refresher triggers reconciliation cycles.
type Refresher interface {
	// Request asks for a cycle without waiting.
	Request()
	// Refresh runs or joins a cycle and waits for it.
	Refresh(ctx context.Context) error
}

// MediatorOpts configures a [Mediator].
type MediatorOpts struct {
	Provider       services.Provider
	Catalog        services.Catalog // optional; confirms references before enqueue
	Store          *attribution.Store
	Refresher      Refresher
	PrivilegedRole string
	SettleDelay    time.Duration
	ConfirmTracks  bool
	Logger         *log.Logger
}

// NewMediatorOpts derives options from room configuration.
func NewMediatorOpts(cfg shared.RoomConfig, provider services.Provider, catalog services.Catalog, store *attribution.Store, refresher Refresher, logger *log.Logger) MediatorOpts {
	return MediatorOpts{
		Provider:       provider,
		Catalog:        catalog,
		Store:          store,
		Refresher:      refresher,
		PrivilegedRole: cfg.PrivilegedRole,
		SettleDelay:    cfg.SettleDelay,
		ConfirmTracks:  cfg.ConfirmTracks,
		Logger:         logger,
	}
}

// Submission is the outcome of an accepted song request.
type Submission struct {
	Record models.AttributionRecord `json:"record"`
	// Item is set when the reference was confirmed against the catalog.
	Item *models.PlaybackItem `json:"item,omitempty"`
}

// Mediator authorizes listener actions and forwards them to the provider.
type Mediator struct {
	provider       services.Provider
	catalog        services.Catalog
	store          *attribution.Store
	refresher      Refresher
	privilegedRole string
	settleDelay    time.Duration
	confirm        bool
	logger         *log.Logger
	sleep          func(context.Context, time.Duration) error
	busy           atomic.Bool
}

// NewMediator creates a mediator.
func NewMediator(opts MediatorOpts) *Mediator {
	if opts.PrivilegedRole == "" {
		opts.PrivilegedRole = defaultPrivilegedRole
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = defaultSettleDelay
	}
	if opts.Store == nil {
		opts.Store = attribution.NewStore(0)
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	return &Mediator{
		provider:       opts.Provider,
		catalog:        opts.Catalog,
		store:          opts.Store,
		refresher:      opts.Refresher,
		privilegedRole: opts.PrivilegedRole,
		settleDelay:    opts.SettleDelay,
		confirm:        opts.ConfirmTracks && opts.Catalog != nil,
		logger:         shared.WithLogger(opts.Logger, "component", "mediator"),
		sleep:          sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PrivilegedRole returns the role required for playback control.
func (m *Mediator) PrivilegedRole() string {
	return m.privilegedRole
}

// Busy reports whether a control command is in progress.
func (m *Mediator) Busy() bool {
	return m.busy.Load()
}

// SubmitRequest enqueues the referenced track on behalf of user and records the
// attribution. Nothing is recorded unless the provider accepted the enqueue.
func (m *Mediator) SubmitRequest(ctx context.Context, user *models.User, raw string) (*Submission, error) {
	if user == nil || user.ID == "" {
		return nil, fmt.Errorf("%w: sign in to request songs", shared.ErrForbidden)
	}

	id, err := tracks.Parse(raw)
	if err != nil {
		return nil, err
	}

	sub := &Submission{}
	if m.confirm {
		item, err := m.catalog.Track(ctx, id)
		if err != nil {
			if errors.Is(err, shared.ErrTrackNotFound) {
				return nil, fmt.Errorf("%w: %w", shared.ErrInvalidReference, err)
			}
			return nil, err
		}
		sub.Item = item
	}

	if err := m.provider.Enqueue(ctx, tracks.URI(id)); err != nil {
		m.logger.Warn("enqueue failed", "track", id, "user", user.ID, "error", err)
		return nil, err
	}

	sub.Record = m.store.Record(id, *user)
	m.logger.Info("song requested", "track", id, "user", user.ID)

	if m.refresher != nil {
		m.refresher.Request()
	}
	return sub, nil
}

// Control forwards a playback command for a privileged user. Only one command is in
// flight at a time; a concurrent call fails with [shared.ErrBusy] and is not forwarded.
func (m *Mediator) Control(ctx context.Context, user *models.User, cmd models.Command) error {
	if !user.HasRole(m.privilegedRole) {
		return fmt.Errorf("%w: requires role %q", shared.ErrForbidden, m.privilegedRole)
	}
	if cmd.Empty() {
		return fmt.Errorf("%w: command has no action or volume", shared.ErrInvalidArgument)
	}
	if cmd.Action != "" {
		action, err := models.ParseAction(string(cmd.Action))
		if err != nil {
			return fmt.Errorf("%w: %w", shared.ErrInvalidArgument, err)
		}
		cmd.Action = action
	}
	if cmd.Volume != nil && (*cmd.Volume < 0 || *cmd.Volume > 100) {
		return fmt.Errorf("%w: volume must be between 0 and 100", shared.ErrInvalidArgument)
	}

	if !m.busy.CompareAndSwap(false, true) {
		return shared.ErrBusy
	}
	defer m.busy.Store(false)

	if cmd.Action != "" {
		if err := m.provider.SetPlayback(ctx, cmd.Action); err != nil {
			m.logger.Warn("playback command failed", "action", cmd.Action, "user", user.ID, "error", err)
			return err
		}
	}
	if cmd.Volume != nil {
		if err := m.provider.SetVolume(ctx, *cmd.Volume); err != nil {
			m.logger.Warn("volume command failed", "volume", *cmd.Volume, "user", user.ID, "error", err)
			if cmd.Action != "" && m.refresher != nil {
				m.refresher.Request()
			}
			return err
		}
	}
	m.logger.Info("playback command", "action", cmd.Action, "volume", cmd.Volume, "user", user.ID)

	if m.refresher == nil {
		return nil
	}

	// The provider applies commands asynchronously.
	if err := m.sleep(ctx, m.settleDelay); err != nil {
		m.refresher.Request()
		return nil
	}
	if err := m.refresher.Refresh(ctx); err != nil {
		m.logger.Debug("post-command refresh failed", "error", err)
	}
	return nil
}
