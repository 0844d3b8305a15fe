// Package server provides HTTP routing, middleware, and handlers for the listening room.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] method patterns, so one path can
// serve several methods.
//
// # Room API
//
// [RoomHandler] exposes the published playback view (as JSON and as a server-sent event
// stream), song requests, privileged playback control, catalog search and health.
// Domain errors are written as {"error": code, "message": text} with the status chosen
// by [StatusFor].
//
// Identity comes from an upstream authentication layer. [HeaderAuthenticator] reads
// trusted X-User-* headers; [Identify] stores the result in the request context.
// [UserLimiter] throttles song requests per user.
//
// # OAuth
//
// [ControllerAuth] lets a privileged user re-authenticate the controller account while
// the service runs: it issues state-bound authorization URLs and completes the code
// exchange on /callback.
//
// [OAuthHandler] serves the one-shot callback used by the command line login, sending
// its single result through a channel.
package server
