package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/songroom/internal/models"
	"github.com/desertthunder/songroom/internal/services"
	"github.com/desertthunder/songroom/internal/shared"
	"github.com/desertthunder/songroom/internal/tracks"
	"github.com/urfave/cli/v3"
)

// CheckResult describes a validated track reference.
type CheckResult struct {
	ID    models.TrackID       `json:"id"`
	URI   string               `json:"uri"`
	URL   string               `json:"url"`
	Track *models.PlaybackItem `json:"track,omitempty"`
}

// Check validates a track reference and optionally confirms it with the catalog.
func (r *Runner) Check(ctx context.Context, cmd *cli.Command) error {
	raw := cmd.StringArg("reference")
	if raw == "" {
		return fmt.Errorf("%w: reference is required", shared.ErrMissingArgument)
	}

	id, err := tracks.Parse(raw)
	if err != nil {
		return err
	}

	result := CheckResult{ID: id, URI: tracks.URI(id), URL: tracks.URL(id)}

	if cmd.Bool("lookup") {
		track, err := r.lookup(ctx, id)
		if err != nil {
			return err
		}
		result.Track = track
	}

	if cmd.Bool("json") {
		return r.writeJSON(result, true)
	}

	r.writePlain("✓ Valid track reference\n")
	r.writePlain("   ID:  %s\n", result.ID)
	r.writePlain("   URI: %s\n", result.URI)
	r.writePlain("   URL: %s\n", result.URL)
	if result.Track != nil {
		r.writePlain("   %s - %s\n", result.Track.Title, strings.Join(result.Track.Artists, ", "))
	}
	return nil
}

func (r *Runner) lookup(ctx context.Context, id models.TrackID) (*models.PlaybackItem, error) {
	if err := r.config.Credentials.Spotify.Validate(); err != nil {
		return nil, err
	}

	db, repo, err := r.openTokens()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	session := services.NewSession(services.SessionOpts{
		Config:     services.NewOAuthConfig(r.config.Credentials.Spotify, r.config.Provider),
		Store:      repo,
		HTTPClient: r.httpClient,
		Logger:     r.logger,
	})
	if err := session.Restore(ctx); err != nil {
		return nil, err
	}
	if session.State() != services.SessionValid {
		return nil, fmt.Errorf("%w: run 'songroom auth login' first", shared.ErrNotAuthenticated)
	}

	catalog := services.NewSpotifyCatalog(session, r.config.Provider.APIURL, services.NewLimiter(r.config.Provider), r.httpClient.Transport)
	return catalog.Track(ctx, id)
}
