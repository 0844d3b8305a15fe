// Package services wraps the external playback provider behind the [Provider] and
// [Catalog] interfaces and owns the controller credential.
//
// # Controller Session
//
// [Session] holds the single OAuth token of the shared controller account. It is an
// [oauth2.TokenSource] that refreshes expired tokens transparently. A refresh the
// provider rejects (or a token without a refresh token) moves the session to
// [SessionInvalid]; every later call fails fast with [shared.ErrSessionInvalid] until
// [Session.Reauthenticate] installs a new token. Token endpoint outages are reported
// as [shared.ErrProviderUnavailable] and leave the session valid.
//
// # Gateway
//
// [SpotifyGateway] implements [Provider] with a hand-rolled request loop:
//   - outbound calls share one [rate.Limiter]
//   - 401 triggers one forced refresh and one retry
//   - 429 honors Retry-After (capped); 5xx and network errors back off exponentially
//   - exhausted retries surface as [shared.ErrProviderUnavailable]
//
// Writes are fire-and-confirm: callers schedule a fresh read afterwards.
//
// # Catalog
//
// [SpotifyCatalog] uses github.com/zmb3/spotify/v2 for track lookup, search and the
// controller profile. It shares the session and limiter with the gateway.
package services
