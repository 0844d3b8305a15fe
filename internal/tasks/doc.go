// Package tasks runs the room's playback engine.
//
// # Reconciler
//
// [Reconciler] polls the [services.Provider] on a fixed cadence and on demand. Each cycle
// reads current, queue and history concurrently, takes one attribution snapshot,
// normalizes provider items (dropping malformed ones), resolves requesters and publishes
// a new immutable [models.PlaybackView]. Successful cycles advance attribution origins
// and prune records the provider no longer reports.
//
// Failures move the reconciler to Backoff. The last good view is republished with
// Stale set once consecutive failures reach the configured threshold. An invalid
// controller session publishes an offline view (no current item) and polling pauses
// until the session is valid again.
//
// Only one cycle runs at a time: [Reconciler.Refresh] joins an in-flight cycle and
// [Reconciler.Request] is a non-blocking, coalesced wake-up.
//
// # Mediator
//
// [Mediator] authorizes viewer commands. Any signed-in user may submit a track; only
// holders of the privileged role may control transport and volume. Control commands are
// serialized: a command arriving while another is in flight (including its settle delay
// and forced refresh) fails with [shared.ErrBusy].
//
// # Publisher
//
// [Publisher] holds the latest view behind an atomic pointer and notifies subscribers
// through buffered channels. Publication is monotonic by [models.PlaybackView.Sequence].
package tasks
