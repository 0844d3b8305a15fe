// Package models defines the room's domain types: tracks, requesters, attribution
// records and the immutable [PlaybackView] published to viewers.
//
// A [PlaybackView] is replaced whole on every reconciliation cycle and never mutated
// after publication. Viewers extrapolate playback progress between views with
// [CurrentEntry.ProgressAt].
package models
