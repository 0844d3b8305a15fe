package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/songroom/internal/attribution"
	"github.com/desertthunder/songroom/internal/models"
	"github.com/desertthunder/songroom/internal/services"
	"github.com/desertthunder/songroom/internal/shared"
	"golang.org/x/sync/errgroup"
)

// State is the reconciler's lifecycle state.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateBackoff
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateBackoff:
		return "backoff"
	case StateOffline:
		return "offline"
	default:
		return ""
	}
}

const (
	defaultPollInterval   = 20 * time.Second
	defaultHistoryLimit   = 20
	defaultHistoryDisplay = 10
	defaultStaleAfter     = 2
)

// ReconcilerOpts configures a [Reconciler].
type ReconcilerOpts struct {
	Provider       services.Provider
	Store          *attribution.Store
	Publisher      *Publisher
	Interval       time.Duration
	HistoryLimit   int // items requested from the provider
	HistoryDisplay int // items kept in the view
	StaleAfter     int // consecutive failures before the view is marked stale
	Logger         *log.Logger
}

// NewReconcilerOpts derives options from room configuration.
func NewReconcilerOpts(cfg shared.RoomConfig, provider services.Provider, store *attribution.Store, pub *Publisher, logger *log.Logger) ReconcilerOpts {
	return ReconcilerOpts{
		Provider:       provider,
		Store:          store,
		Publisher:      pub,
		Interval:       cfg.PollInterval,
		HistoryLimit:   cfg.HistoryLimit,
		HistoryDisplay: cfg.HistoryDisplay,
		StaleAfter:     cfg.StaleAfterFailures,
		Logger:         logger,
	}
}

// cycle is one in-flight poll that concurrent Refresh callers join.
type cycle struct {
	done chan struct{}
	err  error
}

// Reconciler is the sole writer of the published view and the sole pruner of the
// attribution store.
type Reconciler struct {
	provider       services.Provider
	store          *attribution.Store
	publisher      *Publisher
	interval       time.Duration
	historyLimit   int
	historyDisplay int
	staleAfter     int
	logger         *log.Logger
	now            func() time.Time
	wake           chan struct{}

	mu       sync.Mutex
	state    State
	failures int
	lastGood *models.PlaybackView
	inflight *cycle
}

// NewReconciler creates a reconciler. Zero-valued options fall back to defaults.
func NewReconciler(opts ReconcilerOpts) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = defaultPollInterval
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.HistoryDisplay <= 0 {
		opts.HistoryDisplay = defaultHistoryDisplay
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.Store == nil {
		opts.Store = attribution.NewStore(0)
	}
	if opts.Publisher == nil {
		opts.Publisher = NewPublisher()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	return &Reconciler{
		provider:       opts.Provider,
		store:          opts.Store,
		publisher:      opts.Publisher,
		interval:       opts.Interval,
		historyLimit:   opts.HistoryLimit,
		historyDisplay: opts.HistoryDisplay,
		staleAfter:     opts.StaleAfter,
		logger:         shared.WithLogger(opts.Logger, "component", "reconciler"),
		now:            time.Now,
		wake:           make(chan struct{}, 1),
	}
}

// State returns the current lifecycle state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Failures returns the number of consecutive failed cycles.
func (r *Reconciler) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

// Run polls until ctx is cancelled: once immediately, then every interval and on each [Reconciler.Request].
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("reconciler started", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		case <-r.wake:
			r.tick(ctx)
		}
	}
}

// Request asks for a cycle soon without waiting. Requests made while one is pending coalesce.
func (r *Reconciler) Request() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Debug("cycle failed", "error", err)
	}
}

// Refresh runs a cycle now and waits for it. A call made while a cycle is in flight
// joins that cycle instead of starting another.
func (r *Reconciler) Refresh(ctx context.Context) error {
	r.mu.Lock()
	if c := r.inflight; c != nil {
		r.mu.Unlock()
		select {
		case <-c.done:
			return c.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c := &cycle{done: make(chan struct{})}
	r.inflight = c
	r.mu.Unlock()

	err := r.poll(ctx)

	r.mu.Lock()
	r.inflight = nil
	r.mu.Unlock()

	c.err = err
	close(c.done)
	return err
}

func (r *Reconciler) poll(ctx context.Context) error {
	if !r.provider.Online() {
		r.goOffline()
		return shared.ErrSessionInvalid
	}

	r.setState(StatePolling)
	startedAt := r.now()

	var rd readings
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cur, err := r.provider.GetCurrent(gctx)
		rd.current = cur
		return err
	})
	g.Go(func() error {
		q, err := r.provider.GetQueue(gctx)
		rd.queue = q
		return err
	})
	g.Go(func() error {
		h, err := r.provider.GetHistory(gctx, r.historyLimit)
		rd.history = h
		return err
	})

	if err := g.Wait(); err != nil {
		r.fail(ctx, err)
		return err
	}

	snap := r.store.Snapshot()
	m := merge(rd, snap, r.historyDisplay, r.logger)

	for id, origin := range m.origins {
		if rec, ok := snap[id]; ok {
			r.store.Advance(rec, origin)
		}
	}
	if pruned := r.store.Prune(m.live, startedAt); pruned > 0 {
		r.logger.Debug("pruned attributions", "count", pruned)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	view := m.view
	view.PolledAt = r.now()
	view.Sequence = r.publisher.Latest().Sequence + 1
	r.publisher.Publish(view)

	if r.failures > 0 || r.state == StateOffline {
		r.logger.Info("provider reads recovered", "after_failures", r.failures)
	}
	r.lastGood = view
	r.failures = 0
	r.state = StateIdle
	r.logger.Debug("view published", "seq", view.Sequence, "queue", len(view.Queue), "history", len(view.History))
	return nil
}

func (r *Reconciler) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

// fail records a failed cycle and republishes the last good view as stale once the
// failure threshold is reached.
func (r *Reconciler) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		r.setState(StateIdle)
		return
	}
	if errors.Is(err, shared.ErrSessionInvalid) {
		r.goOffline()
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.failures++
	r.state = StateBackoff
	r.logger.Warn("provider read failed", "failures", r.failures, "error", err)

	// Only session errors take the controller offline, so a provider failure after
	// reauthentication clears the flag even before the threshold is reached.
	latest := r.publisher.Latest()
	stale := r.failures >= r.staleAfter
	var view models.PlaybackView
	switch {
	case stale && !latest.Stale:
		view = *latest
		if r.lastGood != nil {
			view = *r.lastGood
		}
	case latest.ControllerOffline:
		view = *latest
	default:
		return
	}

	view.Stale = stale
	view.ControllerOffline = false
	view.Sequence = latest.Sequence + 1
	r.publisher.Publish(&view)
	if stale {
		r.logger.Warn("view marked stale", "failures", r.failures)
	}
}

// goOffline publishes a view without a current item and flags the controller offline.
// Queue and history from the last good view are retained.
func (r *Reconciler) goOffline() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateOffline {
		return
	}
	r.state = StateOffline
	r.failures = 0

	latest := r.publisher.Latest()
	offline := models.EmptyView()
	if r.lastGood != nil {
		cp := *r.lastGood
		offline = &cp
	}
	offline.Current = nil
	offline.ControllerOffline = true
	offline.Stale = false
	offline.Sequence = latest.Sequence + 1
	r.publisher.Publish(offline)
	r.logger.Warn("controller offline, polling paused until reauthentication")
}
