package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// TrackID is the provider's opaque track identifier. It is stable across the queue,
// current and history stages of one play event but is not unique across repeats.
type TrackID string

// Kind distinguishes the shapes the provider can report for a playable item.
type Kind string

const (
	KindTrack   Kind = "track"
	KindEpisode Kind = "episode"
)

// Origin records how an attribution was last confirmed.
type Origin string

const (
	OriginQueued              Origin = "queued"
	OriginInferredFromQueue   Origin = "inferred-from-queue"
	OriginInferredFromHistory Origin = "inferred-from-history"
)

// User is the identity supplied by the external authentication layer.
type User struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	AvatarRef   string   `json:"avatar_ref,omitempty"`
	Verified    bool     `json:"verified"`
	Roles       []string `json:"roles,omitempty"`
}

// HasRole reports whether the user holds role (case-insensitive).
func (u *User) HasRole(role string) bool {
	if u == nil || role == "" {
		return false
	}
	return slices.ContainsFunc(u.Roles, func(r string) bool { return strings.EqualFold(r, role) })
}

// Requester returns the public summary shown next to requested items.
func (u User) Requester() Requester {
	return Requester{ID: u.ID, DisplayName: u.DisplayName, AvatarRef: u.AvatarRef, Verified: u.Verified}
}

// Requester is a fully-resolved user summary attached to a playback entry.
type Requester struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
	Verified    bool   `json:"verified"`
}

// AttributionRecord links a track id to the user who requested it.
type AttributionRecord struct {
	TrackID    TrackID   `json:"track_id"`
	Requester  Requester `json:"requester"`
	RecordedAt time.Time `json:"recorded_at"`
	Origin     Origin    `json:"origin"`
}

// PlaybackItem is a normalized track or episode.
type PlaybackItem struct {
	ID          TrackID  `json:"id"`
	Title       string   `json:"title"`
	Artists     []string `json:"artists"`
	ArtworkRefs []string `json:"artwork_refs"`
	DurationMs  int      `json:"duration_ms"`
	Kind        Kind     `json:"kind"`
	URI         string   `json:"uri,omitempty"`
}

// Device is the controller's active playback device.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// CurrentEntry is the item playing on the controller account.
type CurrentEntry struct {
	Item          PlaybackItem `json:"item"`
	IsPlaying     bool         `json:"is_playing"`
	ProgressMs    int          `json:"progress_ms"`
	Device        *Device      `json:"device,omitempty"`
	VolumePercent int          `json:"volume_percent"`
	Requester     *Requester   `json:"requester,omitempty"`
}

// ProgressAt extrapolates playback progress from the poll time to now.
//
// The result is clamped to the item duration; overran is true once the estimate
// reaches the end, which viewers treat as a cue to fetch a fresh view.
func (c *CurrentEntry) ProgressAt(polledAt, now time.Time) (progressMs int, overran bool) {
	if c == nil {
		return 0, false
	}

	progressMs = c.ProgressMs
	if c.IsPlaying {
		if elapsed := now.Sub(polledAt); elapsed > 0 {
			progressMs += int(elapsed / time.Millisecond)
		}
	}

	if c.Item.DurationMs > 0 && progressMs >= c.Item.DurationMs {
		return c.Item.DurationMs, true
	}
	return progressMs, false
}

// QueueEntry is one upcoming item.
type QueueEntry struct {
	Item      PlaybackItem `json:"item"`
	Requester *Requester   `json:"requester,omitempty"`
}

// HistoryEntry is one recently played item.
type HistoryEntry struct {
	Item      PlaybackItem `json:"item"`
	Requester *Requester   `json:"requester,omitempty"`
	PlayedAt  time.Time    `json:"played_at"`
}

// PlaybackView is the immutable snapshot published after every reconciliation cycle.
type PlaybackView struct {
	Current           *CurrentEntry  `json:"current"`
	Queue             []QueueEntry   `json:"queue"`
	History           []HistoryEntry `json:"history"`
	PolledAt          time.Time      `json:"polled_at"`
	Stale             bool           `json:"stale"`
	ControllerOffline bool           `json:"controller_offline"`
	Sequence          uint64         `json:"sequence"`
}

// EmptyView is published before the first cycle completes.
func EmptyView() *PlaybackView {
	return &PlaybackView{Queue: []QueueEntry{}, History: []HistoryEntry{}}
}

// Action is a transport command.
type Action string

const (
	ActionPlay     Action = "play"
	ActionPause    Action = "pause"
	ActionNext     Action = "next"
	ActionPrevious Action = "previous"
)

// ParseAction validates a transport action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionPlay, ActionPause, ActionNext, ActionPrevious:
		return a, nil
	default:
		return "", fmt.Errorf("unknown playback action %q", s)
	}
}

// Command is a privileged control request: a transport action, a volume change, or both.
type Command struct {
	Action Action `json:"action,omitempty"`
	Volume *int   `json:"volume,omitempty"`
}

// Empty reports whether the command carries nothing to forward.
func (c Command) Empty() bool {
	return c.Action == "" && c.Volume == nil
}
