// Package repositories implements SQLite persistence for the room controller.
//
// The service keeps no listener data on disk: playback state is always re-read from
// the provider and attributions live in memory. The only durable record is the
// controller's OAuth credential, so the session survives restarts.
//
// Key Implementations:
//   - [TokenRepository] : controller token history; the newest row that has not been
//     invalidated is the active credential
package repositories
