package tasks

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/desertthunder/songroom/internal/attribution"
	"github.com/desertthunder/songroom/internal/models"
	"github.com/desertthunder/songroom/internal/services"
	"github.com/desertthunder/songroom/internal/shared"
	tu "github.com/desertthunder/songroom/internal/testing"
)

const (
	trackA = "4uLU6hMCjMI75M1A2tKUQC"
	trackB = "6rqhFgbbKwnb9MLmUQDhG6"
	trackC = "7GhIk7Il098yCjg4BQjzvb"
)

var (
	alice = models.User{ID: "alice", DisplayName: "Alice", Verified: true}
	bob   = models.User{ID: "bob", DisplayName: "Bob"}
	dj    = models.User{ID: "dj", DisplayName: "Resident", Roles: []string{"DJ"}}
)

func newTestReconciler(provider *tu.FakeProvider) (*Reconciler, *attribution.Store, *Publisher) {
	store := attribution.NewStore(0)
	pub := NewPublisher()
	r := NewReconciler(ReconcilerOpts{
		Provider:       provider,
		Store:          store,
		Publisher:      pub,
		Interval:       time.Hour,
		HistoryLimit:   20,
		HistoryDisplay: 10,
		StaleAfter:     2,
	})
	return r, store, pub
}

func requesterID(r *models.Requester) string {
	if r == nil {
		return ""
	}
	return r.ID
}

func TestReconcilerRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes merged view with increasing sequence", func(t *testing.T) {
		provider := &tu.FakeProvider{
			Current: tu.Playing(tu.Track(trackA, "Now", "A"), 1000),
			Queue:   &services.Queue{Queue: []services.Item{tu.Track(trackB, "Next", "B")}},
		}
		r, _, pub := newTestReconciler(provider)

		if err := r.Refresh(ctx); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		first := pub.Latest()
		if first.Sequence != 1 || first.Current == nil || len(first.Queue) != 1 {
			t.Fatalf("unexpected first view: %+v", first)
		}
		if first.PolledAt.IsZero() {
			t.Error("expected polled at to be set")
		}
		if provider.Limits[0] != 20 {
			t.Errorf("expected history limit 20, got %d", provider.Limits[0])
		}

		if err := r.Refresh(ctx); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		second := pub.Latest()
		if second.Sequence != 2 {
			t.Errorf("expected sequence 2, got %d", second.Sequence)
		}
		if r.State() != StateIdle {
			t.Errorf("expected idle, got %s", r.State())
		}
	})

	t.Run("unchanged readings produce identical views", func(t *testing.T) {
		played := time.Now().Add(-5 * time.Minute).Truncate(time.Second)
		provider := &tu.FakeProvider{
			Current: tu.Playing(tu.Track(trackA, "Now", "A"), 1000),
			Queue: &services.Queue{Queue: []services.Item{
				tu.Track(trackB, "Next", "B"),
				tu.Track(trackC, "Later", "C"),
				tu.Track(trackB, "Next", "B"),
			}},
			History: []services.PlayHistory{
				{Track: tu.Track(trackC, "Earlier", "C"), PlayedAt: played},
				{Track: tu.Track(trackB, "Before", "B"), PlayedAt: played.Add(-time.Minute)},
			},
		}
		r, store, pub := newTestReconciler(provider)
		store.Record(trackA, alice)
		store.Record(trackB, bob)
		store.Record(trackC, dj)

		if err := r.Refresh(ctx); err != nil {
			t.Fatal(err)
		}
		first := *pub.Latest()
		if err := r.Refresh(ctx); err != nil {
			t.Fatal(err)
		}
		second := *pub.Latest()

		if requesterID(first.Current.Requester) != "alice" || requesterID(first.Queue[2].Requester) != "bob" {
			t.Fatalf("expected attributed view, got %+v", first)
		}

		first.PolledAt, second.PolledAt = time.Time{}, time.Time{}
		first.Sequence, second.Sequence = 0, 0
		if !reflect.DeepEqual(first, second) {
			t.Errorf("expected identical views apart from polled at\nfirst:  %+v\nsecond: %+v", first, second)
		}
	})

	t.Run("requester follows a track from queue to history", func(t *testing.T) {
		provider := &tu.FakeProvider{}
		r, store, pub := newTestReconciler(provider)
		store.Record(trackA, alice)

		provider.Update(func(f *tu.FakeProvider) {
			f.Queue = &services.Queue{Queue: []services.Item{tu.Track(trackA, "Song", "A")}}
		})
		if err := r.Refresh(ctx); err != nil {
			t.Fatal(err)
		}
		if got := requesterID(pub.Latest().Queue[0].Requester); got != "alice" {
			t.Fatalf("expected queued entry attributed to alice, got %q", got)
		}
		if rec, _ := store.Lookup(trackA); rec.Origin != models.OriginInferredFromQueue {
			t.Errorf("expected origin inferred-from-queue, got %s", rec.Origin)
		}

		provider.Update(func(f *tu.FakeProvider) {
			f.Queue = nil
			f.Current = tu.Playing(tu.Track(trackA, "Song", "A"), 0)
		})
		if err := r.Refresh(ctx); err != nil {
			t.Fatal(err)
		}
		if got := requesterID(pub.Latest().Current.Requester); got != "alice" {
			t.Fatalf("expected current attributed to alice, got %q", got)
		}

		provider.Update(func(f *tu.FakeProvider) {
			f.Current = nil
			f.History = []services.PlayHistory{{Track: tu.Track(trackA, "Song", "A"), PlayedAt: time.Now()}}
		})
		if err := r.Refresh(ctx); err != nil {
			t.Fatal(err)
		}
		if got := requesterID(pub.Latest().History[0].Requester); got != "alice" {
			t.Fatalf("expected history attributed to alice, got %q", got)
		}
		if rec, _ := store.Lookup(trackA); rec.Origin != models.OriginInferredFromHistory {
			t.Errorf("expected origin inferred-from-history, got %s", rec.Origin)
		}

		provider.Update(func(f *tu.FakeProvider) { f.History = nil })
		if err := r.Refresh(ctx); err != nil {
			t.Fatal(err)
		}
		if _, ok := store.Lookup(trackA); ok {
			t.Error("expected attribution to be pruned once no longer reported")
		}
	})

	t.Run("repeated id resolves to the latest requester everywhere", func(t *testing.T) {
		provider := &tu.FakeProvider{
			Queue:   &services.Queue{Queue: []services.Item{tu.Track(trackB, "Song", "B")}},
			History: []services.PlayHistory{{Track: tu.Track(trackB, "Song", "B")}},
		}
		r, store, pub := newTestReconciler(provider)
		store.Record(trackB, alice)
		store.Record(trackB, bob)

		if err := r.Refresh(ctx); err != nil {
			t.Fatal(err)
		}
		v := pub.Latest()
		if requesterID(v.Queue[0].Requester) != "bob" || requesterID(v.History[0].Requester) != "bob" {
			t.Errorf("expected both occurrences attributed to bob, got %+v / %+v", v.Queue[0].Requester, v.History[0].Requester)
		}
	})

	t.Run("keeps attributions recorded after the cycle started", func(t *testing.T) {
		provider := &tu.FakeProvider{}
		r, store, _ := newTestReconciler(provider)
		store.Record(trackC, alice)
		r.now = func() time.Time { return time.Now().Add(-time.Hour) }

		if err := r.Refresh(ctx); err != nil {
			t.Fatal(err)
		}
		if _, ok := store.Lookup(trackC); !ok {
			t.Error("expected fresh attribution to survive prune")
		}
	})

	t.Run("marks view stale after repeated failures and clears on recovery", func(t *testing.T) {
		provider := &tu.FakeProvider{Queue: &services.Queue{Queue: []services.Item{tu.Track(trackA, "Song", "A")}}}
		r, _, pub := newTestReconciler(provider)

		if err := r.Refresh(ctx); err != nil {
			t.Fatal(err)
		}

		provider.Update(func(f *tu.FakeProvider) {
			f.ReadErrs = []error{shared.ErrProviderUnavailable, shared.ErrProviderUnavailable, shared.ErrProviderUnavailable}
		})

		if err := r.Refresh(ctx); !errors.Is(err, shared.ErrProviderUnavailable) {
			t.Fatalf("expected ErrProviderUnavailable, got %v", err)
		}
		if pub.Latest().Stale {
			t.Error("expected a single failure to keep the view fresh")
		}
		if r.State() != StateBackoff {
			t.Errorf("expected backoff, got %s", r.State())
		}

		r.Refresh(ctx)
		stale := pub.Latest()
		if !stale.Stale {
			t.Fatal("expected view to be stale after 2 failures")
		}
		if len(stale.Queue) != 1 {
			t.Error("expected stale view to keep last good contents")
		}

		r.Refresh(ctx)
		if pub.Latest().Sequence != stale.Sequence {
			t.Error("expected stale view to be published once")
		}
		if r.Failures() != 3 {
			t.Errorf("expected 3 failures, got %d", r.Failures())
		}

		if err := r.Refresh(ctx); err != nil {
			t.Fatalf("expected recovery, got %v", err)
		}
		if pub.Latest().Stale || r.Failures() != 0 {
			t.Error("expected recovery to clear stale")
		}
	})

	t.Run("invalid session publishes offline view until reauthenticated", func(t *testing.T) {
		provider := &tu.FakeProvider{
			Current: tu.Playing(tu.Track(trackA, "Now", "A"), 0),
			Queue:   &services.Queue{Queue: []services.Item{tu.Track(trackB, "Next", "B")}},
		}
		r, _, pub := newTestReconciler(provider)
		if err := r.Refresh(ctx); err != nil {
			t.Fatal(err)
		}

		provider.Update(func(f *tu.FakeProvider) { f.ReadErr = fmt.Errorf("refresh: %w", shared.ErrSessionInvalid) })
		if err := r.Refresh(ctx); !errors.Is(err, shared.ErrSessionInvalid) {
			t.Fatalf("expected ErrSessionInvalid, got %v", err)
		}
		offline := pub.Latest()
		if !offline.ControllerOffline || offline.Current != nil {
			t.Fatalf("expected offline view without current, got %+v", offline)
		}
		if len(offline.Queue) != 1 {
			t.Error("expected offline view to keep the queue")
		}
		if r.State() != StateOffline {
			t.Errorf("expected offline state, got %s", r.State())
		}

		provider.Update(func(f *tu.FakeProvider) { f.Offline = true })
		reads := provider.Reads
		r.Refresh(ctx)
		if provider.Reads != reads {
			t.Error("expected no provider reads while offline")
		}
		if pub.Latest().Sequence != offline.Sequence {
			t.Error("expected offline view to be published once")
		}

		provider.Update(func(f *tu.FakeProvider) {
			f.Offline = false
			f.ReadErr = nil
		})
		if err := r.Refresh(ctx); err != nil {
			t.Fatalf("expected recovery, got %v", err)
		}
		if v := pub.Latest(); v.ControllerOffline || v.Current == nil {
			t.Errorf("expected live view after reauthentication, got %+v", v)
		}
	})

	t.Run("provider failures after reauthentication clear the offline flag", func(t *testing.T) {
		provider := &tu.FakeProvider{
			Current: tu.Playing(tu.Track(trackA, "Now", "A"), 0),
			Queue:   &services.Queue{Queue: []services.Item{tu.Track(trackB, "Next", "B")}},
		}
		r, _, pub := newTestReconciler(provider)
		if err := r.Refresh(ctx); err != nil {
			t.Fatal(err)
		}

		provider.Update(func(f *tu.FakeProvider) { f.ReadErr = shared.ErrSessionInvalid })
		r.Refresh(ctx)
		if !pub.Latest().ControllerOffline {
			t.Fatal("expected offline view")
		}

		provider.Update(func(f *tu.FakeProvider) {
			f.ReadErr = nil
			f.ReadErrs = []error{shared.ErrProviderUnavailable, shared.ErrProviderUnavailable, shared.ErrProviderUnavailable}
		})

		if err := r.Refresh(ctx); !errors.Is(err, shared.ErrProviderUnavailable) {
			t.Fatalf("expected ErrProviderUnavailable, got %v", err)
		}
		v := pub.Latest()
		if v.ControllerOffline || v.Stale || v.Sequence != 3 {
			t.Errorf("expected online fresh view at seq 3, got offline=%v stale=%v seq=%d", v.ControllerOffline, v.Stale, v.Sequence)
		}

		r.Refresh(ctx)
		v = pub.Latest()
		if !v.Stale || v.ControllerOffline || v.Sequence != 4 {
			t.Errorf("expected stale online view at seq 4, got offline=%v stale=%v seq=%d", v.ControllerOffline, v.Stale, v.Sequence)
		}
		if len(v.Queue) != 1 || v.Current == nil {
			t.Error("expected stale view to keep last good contents")
		}
		if r.State() != StateBackoff {
			t.Errorf("expected backoff, got %s", r.State())
		}

		r.Refresh(ctx)
		if pub.Latest().Sequence != 4 {
			t.Error("expected stale view to be published once")
		}
	})

	t.Run("stale without a good view after starting offline", func(t *testing.T) {
		provider := &tu.FakeProvider{Offline: true}
		r, _, pub := newTestReconciler(provider)
		r.Refresh(ctx)

		provider.Update(func(f *tu.FakeProvider) {
			f.Offline = false
			f.ReadErrs = []error{shared.ErrProviderUnavailable, shared.ErrProviderUnavailable}
		})
		r.Refresh(ctx)
		if v := pub.Latest(); v.ControllerOffline || v.Stale {
			t.Errorf("expected online fresh view, got %+v", v)
		}
		r.Refresh(ctx)
		if v := pub.Latest(); !v.Stale || v.ControllerOffline || v.Sequence != 3 {
			t.Errorf("expected stale online view at seq 3, got %+v", v)
		}
	})

	t.Run("offline before first cycle publishes empty offline view", func(t *testing.T) {
		r, _, pub := newTestReconciler(&tu.FakeProvider{Offline: true})
		r.Refresh(ctx)
		v := pub.Latest()
		if !v.ControllerOffline || v.Sequence != 1 || len(v.Queue) != 0 {
			t.Errorf("unexpected view: %+v", v)
		}
	})

	t.Run("cancelled context does not count as failure", func(t *testing.T) {
		provider := &tu.FakeProvider{ReadErr: context.Canceled}
		r, _, _ := newTestReconciler(provider)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		r.Refresh(cctx)
		if r.Failures() != 0 {
			t.Errorf("expected 0 failures, got %d", r.Failures())
		}
	})
}

func TestReconcilerRun(t *testing.T) {
	provider := &tu.FakeProvider{Current: tu.Playing(tu.Track(trackA, "Now", "A"), 0)}
	r, _, pub := newTestReconciler(provider)
	updates := pub.Subscribe()
	defer pub.Unsubscribe(updates)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	wait := func() {
		t.Helper()
		select {
		case <-updates:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for publish")
		}
	}

	wait()
	r.Request()
	wait()
	if got := pub.Latest().Sequence; got < 2 {
		t.Errorf("expected at least 2 cycles, got sequence %d", got)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateIdle:    "idle",
		StatePolling: "polling",
		StateBackoff: "backoff",
		StateOffline: "offline",
		State(99):    "",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
