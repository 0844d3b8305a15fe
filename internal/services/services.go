package services

import (
	"context"
	"time"

	"github.com/desertthunder/songroom/internal/models"
)

// Provider is the capability set the room needs from the playback provider.
type Provider interface {
	// GetCurrent returns the controller's playback state, or nil when nothing is playing
	// or no device is active.
	GetCurrent(ctx context.Context) (*PlaybackState, error)

	// GetQueue returns the upcoming items. No active device yields an empty queue.
	GetQueue(ctx context.Context) (*Queue, error)

	// GetHistory returns up to limit recently played items, newest first.
	GetHistory(ctx context.Context, limit int) ([]PlayHistory, error)

	// Enqueue appends the item identified by uri to the controller's queue.
	Enqueue(ctx context.Context, uri string) error

	// SetPlayback forwards a transport action.
	SetPlayback(ctx context.Context, action models.Action) error

	// SetVolume sets the active device volume (0..100).
	SetVolume(ctx context.Context, percent int) error

	// Online reports whether the controller credential is usable.
	Online() bool
}

// Catalog looks up provider metadata on behalf of viewers.
type Catalog interface {
	Track(ctx context.Context, id models.TrackID) (*models.PlaybackItem, error)
	Search(ctx context.Context, query string, limit int) ([]models.PlaybackItem, error)
	Profile(ctx context.Context) (*Profile, error)
}

// Profile is the controller account's public profile.
type Profile struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Product     string   `json:"product,omitempty"`
	Country     string   `json:"country,omitempty"`
	ImageURLs   []string `json:"image_urls,omitempty"`
}

// Provider payloads, based on https://developer.spotify.com/documentation/web-api/reference/

// Image is an artwork resource.
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// Artist is a simplified artist object.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Album is a simplified album object.
type Album struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Images []Image `json:"images"`
}

// Show is the podcast an episode belongs to.
type Show struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Publisher string  `json:"publisher"`
	Images    []Image `json:"images"`
}

// Item is either a track or an episode. Track fields and episode fields are
// populated according to Type.
type Item struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	URI        string   `json:"uri"`
	DurationMs int      `json:"duration_ms"`
	IsLocal    bool     `json:"is_local"`
	Artists    []Artist `json:"artists,omitempty"`
	Album      *Album   `json:"album,omitempty"`
	Images     []Image  `json:"images,omitempty"`
	Show       *Show    `json:"show,omitempty"`
}

// Device is a playback device.
type Device struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	IsActive      bool   `json:"is_active"`
	VolumePercent *int   `json:"volume_percent"`
}

// PlaybackState is the response of GET /me/player.
type PlaybackState struct {
	Device               *Device `json:"device"`
	ProgressMs           int     `json:"progress_ms"`
	IsPlaying            bool    `json:"is_playing"`
	Item                 *Item   `json:"item"`
	CurrentlyPlayingType string  `json:"currently_playing_type"`
	Timestamp            int64   `json:"timestamp"`
}

// Queue is the response of GET /me/player/queue.
type Queue struct {
	CurrentlyPlaying *Item `json:"currently_playing"`
	Queue            []Item `json:"queue"`
}

// PlayHistory is one entry of GET /me/player/recently-played.
type PlayHistory struct {
	Track    Item      `json:"track"`
	PlayedAt time.Time `json:"played_at"`
}

type recentlyPlayed struct {
	Items []PlayHistory `json:"items"`
}
