package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/desertthunder/songroom/internal/models"
	"github.com/desertthunder/songroom/internal/shared"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// limitedTransport paces catalog calls with the gateway's limiter.
type limitedTransport struct {
	limiter *rate.Limiter
	base    http.RoundTripper
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// SpotifyCatalog implements [Catalog] with github.com/zmb3/spotify/v2.
type SpotifyCatalog struct {
	client *spotify.Client
}

// NewSpotifyCatalog creates a catalog authenticated as the controller.
//
// baseURL overrides the API root (tests); limiter may be nil.
func NewSpotifyCatalog(session *Session, baseURL string, limiter *rate.Limiter, base http.RoundTripper) *SpotifyCatalog {
	if base == nil {
		base = http.DefaultTransport
	}
	if limiter != nil {
		base = &limitedTransport{limiter: limiter, base: base}
	}

	httpClient := &http.Client{
		Transport: &oauth2.Transport{Source: session, Base: base},
	}

	var opts []spotify.ClientOption
	if baseURL != "" {
		opts = append(opts, spotify.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}

	return &SpotifyCatalog{client: spotify.New(httpClient, opts...)}
}

// Track confirms id exists and returns its metadata.
func (c *SpotifyCatalog) Track(ctx context.Context, id models.TrackID) (*models.PlaybackItem, error) {
	track, err := c.client.GetTrack(ctx, spotify.ID(id))
	if err != nil {
		return nil, classifyCatalogError(err, "get track")
	}
	item := fromFullTrack(track)
	return &item, nil
}

// Search returns up to limit tracks matching query.
func (c *SpotifyCatalog) Search(ctx context.Context, query string, limit int) ([]models.PlaybackItem, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", shared.ErrInvalidArgument)
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	results, err := c.client.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(limit))
	if err != nil {
		return nil, classifyCatalogError(err, "search")
	}

	items := []models.PlaybackItem{}
	if results.Tracks == nil {
		return items, nil
	}
	for i := range results.Tracks.Tracks {
		items = append(items, fromFullTrack(&results.Tracks.Tracks[i]))
	}
	return items, nil
}

// Profile returns the controller account's profile.
func (c *SpotifyCatalog) Profile(ctx context.Context) (*Profile, error) {
	user, err := c.client.CurrentUser(ctx)
	if err != nil {
		return nil, classifyCatalogError(err, "current user")
	}

	p := &Profile{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		Product:     user.Product,
		Country:     user.Country,
	}
	for _, img := range user.Images {
		p.ImageURLs = append(p.ImageURLs, img.URL)
	}
	return p, nil
}

func fromFullTrack(t *spotify.FullTrack) models.PlaybackItem {
	item := models.PlaybackItem{
		ID:         models.TrackID(t.ID),
		Title:      t.Name,
		DurationMs: int(t.Duration),
		Kind:       models.KindTrack,
		URI:        string(t.URI),
		Artists:    []string{},
	}
	for _, a := range t.Artists {
		item.Artists = append(item.Artists, a.Name)
	}
	for _, img := range t.Album.Images {
		item.ArtworkRefs = append(item.ArtworkRefs, img.URL)
	}
	return item
}

// classifyCatalogError maps library errors onto the room's sentinels.
func classifyCatalogError(err error, op string) error {
	if errors.Is(err, shared.ErrSessionInvalid) || errors.Is(err, shared.ErrProviderUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	status := 0
	var se spotify.Error
	var sep *spotify.Error
	switch {
	case errors.As(err, &se):
		status = se.Status
	case errors.As(err, &sep):
		status = sep.Status
	}

	switch {
	case status == http.StatusNotFound || status == http.StatusBadRequest:
		return fmt.Errorf("%w: %s: %v", shared.ErrTrackNotFound, op, err)
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s: %v", shared.ErrSessionInvalid, op, err)
	case status == http.StatusTooManyRequests || status >= 500 || status == 0:
		return fmt.Errorf("%w: %s: %v", shared.ErrProviderUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
