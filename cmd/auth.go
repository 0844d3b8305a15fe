package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/songroom/internal/repositories"
	"github.com/desertthunder/songroom/internal/server"
	"github.com/desertthunder/songroom/internal/services"
	"github.com/desertthunder/songroom/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

const authTimeout = 2 * time.Minute

// AuthLogin runs the OAuth2 flow for the controller account and stores the resulting token.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	if err := r.config.Credentials.Spotify.Validate(); err != nil {
		return err
	}

	db, repo, err := r.openTokens()
	if err != nil {
		return err
	}
	defer db.Close()

	oauthConfig := services.NewOAuthConfig(r.config.Credentials.Spotify, r.config.Provider)
	token, err := r.doOAuth(oauthConfig)
	if err != nil {
		return err
	}

	if err := repo.Save(ctx, token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	r.logger.Info("controller token saved", "expiry", token.Expiry)
	r.writePlain("✓ Controller account authorized\n")

	session := services.NewSession(services.SessionOpts{
		Config:     oauthConfig,
		Store:      repo,
		HTTPClient: r.httpClient,
		Logger:     r.logger,
	})
	if err := session.Restore(ctx); err != nil {
		return err
	}

	catalog := services.NewSpotifyCatalog(session, r.config.Provider.APIURL, services.NewLimiter(r.config.Provider), r.httpClient.Transport)
	profile, err := catalog.Profile(ctx)
	if err != nil {
		r.logger.Warn("could not fetch controller profile", "error", err)
		return nil
	}

	r.writePlain("  Account: %s (%s)\n", profile.DisplayName, profile.ID)
	if profile.Product != "premium" {
		r.writePlain("⚠ Playback control requires a Premium account (product: %s)\n", profile.Product)
	}
	return nil
}

// AuthStatus lists the stored controller tokens without their secrets.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	db, repo, err := r.openTokens()
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := repo.List(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(records, true)
	}

	if len(records) == 0 {
		return r.writePlain("No controller token stored. Run 'songroom auth login'.\n")
	}

	r.writePlainHeader("Controller tokens")
	for i, rec := range records {
		status := "active"
		if rec.InvalidatedAt != nil {
			status = "invalidated " + rec.InvalidatedAt.Format(time.RFC3339)
		} else if i > 0 {
			status = "superseded"
		}

		expiry := "never"
		if rec.Expiry != nil {
			expiry = rec.Expiry.Format(time.RFC3339)
		}

		r.writePlain("%d. %s [%s]\n", i+1, rec.ID, status)
		r.writePlain("   Created: %s  Expires: %s  Refreshable: %t\n", rec.CreatedAt.Format(time.RFC3339), expiry, rec.HasRefresh)
	}
	return nil
}

// AuthLogout invalidates every stored controller token.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	db, repo, err := r.openTokens()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repo.Invalidate(ctx); err != nil {
		return err
	}
	r.logger.Info("controller tokens invalidated")
	return r.writePlain("✓ Controller tokens invalidated\n")
}

func (r *Runner) openTokens() (*sql.DB, *repositories.TokenRepository, error) {
	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return nil, nil, err
	}
	return db, repositories.NewTokenRepository(db), nil
}

// doOAuth executes the OAuth2 authorization flow with a local HTTP server
func (r *Runner) doOAuth(config *oauth2.Config) (*oauth2.Token, error) {
	state, err := shared.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state token: %w", err)
	}

	authURL := config.AuthCodeURL(state, oauth2.AccessTypeOffline)
	oauthHandler := server.NewOAuthHandler(config, state)
	router := server.NewBasicRouter()
	router.Handler(oauthHandler)

	serverAddr := r.config.Server.Addr()
	httpServer := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting OAuth server at %v", serverAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	time.Sleep(100 * time.Millisecond)

	r.writePlain("→ Opening browser for Spotify authorization...\n")
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (2 minute timeout)...\n")

	timeout := time.NewTimer(authTimeout)
	defer timeout.Stop()

	var result server.OAuthResult

	select {
	case result = <-oauthHandler.Result():
	case err := <-serverErrors:
		return nil, fmt.Errorf("server error: %w", err)
	case <-timeout.C:
		return nil, fmt.Errorf("%w: authorization timed out after 2 minutes", shared.ErrTimeout)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("error shutting down server", "error", err)
	}

	if result.Error() != nil {
		return nil, fmt.Errorf("authorization failed: %w", result.Error())
	}

	if result.Token == nil {
		return nil, fmt.Errorf("no token received")
	}

	return result.Token, nil
}
