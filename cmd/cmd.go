// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// serveCommand runs the room service.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the listening room HTTP service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Override server.host",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Override server.port",
			},
		},
		Action: r.Serve,
	}
}

// setupCommand handles setup operations.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:   "config",
				Usage:  "Write a config.toml template",
				Action: r.SetupConfig,
			},
		},
	}
}

// authCommand manages the controller account's credential.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage the controller account authorization",
		Commands: []*cli.Command{
			{
				Name:   "login",
				Usage:  "Authorize the controller account with Spotify using OAuth2",
				Action: r.AuthLogin,
			},
			{
				Name:  "status",
				Usage: "Show stored controller tokens",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.AuthStatus,
			},
			{
				Name:   "logout",
				Usage:  "Invalidate stored controller tokens",
				Action: r.AuthLogout,
			},
		},
	}
}

// watchCommand opens the terminal viewer.
func watchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "watch",
		Aliases: []string{"tui", "ui"},
		Usage:   "Watch the room's playback in the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "Room base URL (default: server.public_url or server address)",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Polling interval",
				Value: 0,
			},
		},
		Action: r.Watch,
	}
}

// exportCommand writes the room's current view to a report file.
func exportCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export the room's now playing, queue and history",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "Room base URL (default: server.public_url or server address)",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format (csv, markdown, text, json)",
				Value:   "markdown",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output path, or - for stdout (default: room-{sequence}.{ext})",
			},
		},
		Action: r.Export,
	}
}

// checkCommand validates a track reference.
func checkCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Validate a track link, URI or id",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name: "reference",
			},
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "lookup",
				Usage: "Confirm the track exists in the catalog (requires a stored controller token)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Check,
	}
}
