package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/desertthunder/songroom/internal/attribution"
	"github.com/desertthunder/songroom/internal/repositories"
	"github.com/desertthunder/songroom/internal/server"
	"github.com/desertthunder/songroom/internal/services"
	"github.com/desertthunder/songroom/internal/shared"
	"github.com/desertthunder/songroom/internal/tasks"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Serve runs the room: the reconciler loop plus the HTTP API, until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	config := r.config
	if host := cmd.String("host"); host != "" {
		config.Server.Host = host
	}
	if port := cmd.Int("port"); port > 0 {
		config.Server.Port = int(port)
	}

	if err := config.Credentials.Spotify.Validate(); err != nil {
		return err
	}

	if config.Log.File != "" {
		fileLogger, closer, err := shared.NewFileLogger(config.Log.File)
		if err != nil {
			return err
		}
		defer closer.Close()
		if err := shared.SetLogLevel(fileLogger, config.Log.Level); err != nil {
			return err
		}
		r.SetLogger(fileLogger)
	}

	db, err := shared.OpenDatabase(config.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	session := services.NewSession(services.SessionOpts{
		Config:     services.NewOAuthConfig(config.Credentials.Spotify, config.Provider),
		Store:      repositories.NewTokenRepository(db),
		HTTPClient: r.httpClient,
		Logger:     r.logger,
	})
	if err := session.Restore(ctx); err != nil {
		return err
	}
	if session.State() != services.SessionValid {
		r.logger.Warn("no controller token stored; room starts offline until the controller signs in")
	}

	gatewayOpts := services.NewGatewayOpts(config.Provider, session, r.logger)
	gateway := services.NewSpotifyGateway(gatewayOpts)
	catalog := services.NewSpotifyCatalog(session, config.Provider.APIURL, gatewayOpts.Limiter, nil)

	store := attribution.NewStore(config.Room.AttributionCapacity)
	publisher := tasks.NewPublisher()
	reconciler := tasks.NewReconciler(tasks.NewReconcilerOpts(config.Room, gateway, store, publisher, r.logger))
	session.OnChange(func(state services.SessionState) {
		r.logger.Info("controller session changed", "state", state)
		reconciler.Request()
	})

	mediator := tasks.NewMediator(tasks.NewMediatorOpts(config.Room, gateway, catalog, store, reconciler, r.logger))

	room := server.NewRoomHandler(server.RoomOpts{
		Views:       publisher,
		Room:        mediator,
		Catalog:     catalog,
		Session:     session,
		Reconciler:  reconciler,
		SearchLimit: config.Room.SearchLimit,
		Logger:      r.logger,
	})

	router := server.NewRouter(server.RouterOpts{
		Room:           room,
		ControllerAuth: server.NewControllerAuth(session, mediator.PrivilegedRole(), r.logger),
		Authenticator:  server.HeaderAuthenticator{},
		Limiter:        server.NewUserLimiter(config.Room.SubmitPerMinute),
		Logger:         r.logger,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Event streams end with the base context so Shutdown is not held open by them.
	httpServer := &http.Server{
		Addr:              config.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("reconciler stopped: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		r.logger.Info("listening", "addr", httpServer.Addr, "public_url", config.Server.PublicURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		r.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
