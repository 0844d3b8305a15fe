// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/desertthunder/songroom/internal/models"
	"github.com/desertthunder/songroom/internal/services"
	"github.com/desertthunder/songroom/internal/shared"
)

// FakeProvider is a scripted test double for [services.Provider].
//
// Reads return the configured state. Err fields, when set, fail the matching call.
// ReadErrs is consumed one entry per GetCurrent call before falling back to ReadErr.
type FakeProvider struct {
	mu sync.Mutex

	Current *services.PlaybackState
	Queue   *services.Queue
	History []services.PlayHistory

	ReadErr    error
	ReadErrs   []error
	EnqueueErr error
	ControlErr error
	VolumeErr  error
	Offline    bool

	// Block, when non-nil, holds SetPlayback until it is closed.
	Block chan struct{}
	// Entered is signalled when SetPlayback starts.
	Entered chan struct{}

	Enqueued []string
	Actions  []models.Action
	Volumes  []int
	Reads    int
	Limits   []int
}

func (f *FakeProvider) readErr() error {
	if len(f.ReadErrs) > 0 {
		err := f.ReadErrs[0]
		f.ReadErrs = f.ReadErrs[1:]
		return err
	}
	return f.ReadErr
}

func (f *FakeProvider) GetCurrent(ctx context.Context) (*services.PlaybackState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++
	if err := f.readErr(); err != nil {
		return nil, err
	}
	return f.Current, nil
}

func (f *FakeProvider) GetQueue(ctx context.Context) (*services.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Queue == nil {
		return &services.Queue{Queue: []services.Item{}}, nil
	}
	return f.Queue, nil
}

func (f *FakeProvider) GetHistory(ctx context.Context, limit int) ([]services.PlayHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Limits = append(f.Limits, limit)
	return f.History, nil
}

func (f *FakeProvider) Enqueue(ctx context.Context, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EnqueueErr != nil {
		return f.EnqueueErr
	}
	f.Enqueued = append(f.Enqueued, uri)
	return nil
}

func (f *FakeProvider) SetPlayback(ctx context.Context, action models.Action) error {
	if f.Entered != nil {
		f.Entered <- struct{}{}
	}
	if f.Block != nil {
		<-f.Block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ControlErr != nil {
		return f.ControlErr
	}
	f.Actions = append(f.Actions, action)
	return nil
}

func (f *FakeProvider) SetVolume(ctx context.Context, percent int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ControlErr != nil {
		return f.ControlErr
	}
	if f.VolumeErr != nil {
		return f.VolumeErr
	}
	f.Volumes = append(f.Volumes, percent)
	return nil
}

func (f *FakeProvider) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.Offline
}

// Update mutates the fake under its lock.
func (f *FakeProvider) Update(fn func(f *FakeProvider)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// Calls returns the number of forwarded writes.
func (f *FakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Enqueued) + len(f.Actions) + len(f.Volumes)
}

// FakeCatalog is a test double for [services.Catalog] backed by a map of known tracks.
type FakeCatalog struct {
	mu      sync.Mutex
	Tracks  map[models.TrackID]models.PlaybackItem
	Results []models.PlaybackItem
	User    *services.Profile
	Err     error
	Lookups int
}

func (c *FakeCatalog) Track(ctx context.Context, id models.TrackID) (*models.PlaybackItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Lookups++
	if c.Err != nil {
		return nil, c.Err
	}
	item, ok := c.Tracks[id]
	if !ok {
		return nil, shared.ErrTrackNotFound
	}
	return &item, nil
}

func (c *FakeCatalog) Search(ctx context.Context, query string, limit int) ([]models.PlaybackItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	if query == "" {
		return nil, shared.ErrInvalidArgument
	}
	if limit > 0 && len(c.Results) > limit {
		return c.Results[:limit], nil
	}
	return c.Results, nil
}

func (c *FakeCatalog) Profile(ctx context.Context) (*services.Profile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	if c.User == nil {
		return nil, shared.ErrNotAuthenticated
	}
	return c.User, nil
}

// Track builds a well-formed provider track with one artist and one image.
func Track(id, name, artist string) services.Item {
	return services.Item{
		ID:         id,
		Name:       name,
		Type:       "track",
		URI:        "spotify:track:" + id,
		DurationMs: 200000,
		Artists:    []services.Artist{{Name: artist}},
		Album:      &services.Album{Name: name, Images: []services.Image{{URL: "https://i.scdn.co/image/" + id}}},
	}
}

// Playing builds a playback state for item on a test device.
func Playing(item services.Item, progressMs int) *services.PlaybackState {
	volume := 50
	return &services.PlaybackState{
		Device:     &services.Device{ID: "device-1", Name: "Room Speaker", Type: "Speaker", IsActive: true, VolumePercent: &volume},
		ProgressMs: progressMs,
		IsPlaying:  true,
		Item:       &item,
	}
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
