package main

import (
	"context"
	"fmt"
	"net"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/songroom/internal/shared"
	"github.com/desertthunder/songroom/internal/ui"
	"github.com/urfave/cli/v3"
)

const watchLogFile = "./tmp/songroom-watch.log"

// Watch launches the terminal viewer against a running room.
func (r *Runner) Watch(ctx context.Context, cmd *cli.Command) error {
	baseURL := r.roomURL(cmd.String("url"))

	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, closer, err := shared.NewFileLogger(watchLogFile)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	defer closer.Close()
	r.SetLogger(fileLogger)

	interval := cmd.Duration("interval")
	if interval <= 0 {
		interval = r.config.Room.PollInterval / 4
	}

	model := ui.NewModel(ctx, ui.NewClient(baseURL, r.httpClient), interval, r.logger)
	p := tea.NewProgram(model, tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}

// roomURL resolves the base URL of a running room: the flag, then server.public_url, then the listen address.
func (r *Runner) roomURL(flag string) string {
	if flag != "" {
		return flag
	}
	if r.config.Server.PublicURL != "" {
		return r.config.Server.PublicURL
	}
	return "http://" + net.JoinHostPort(r.config.Server.Host, strconv.Itoa(r.config.Server.Port))
}
