package main

import (
	"context"

	"github.com/desertthunder/songroom/internal/formatter"
	"github.com/desertthunder/songroom/internal/ui"
	"github.com/urfave/cli/v3"
)

// Export fetches the room's current view and writes it as a report.
func (r *Runner) Export(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	view, err := ui.NewClient(r.roomURL(cmd.String("url")), r.httpClient).Playback(ctx)
	if err != nil {
		return err
	}

	output := cmd.String("output")
	if output == "-" {
		data, err := formatter.Export(view, format)
		if err != nil {
			return err
		}
		return r.writePlain("%s", data)
	}

	path, err := formatter.WriteExport(view, format, output)
	if err != nil {
		return err
	}
	r.logger.Info("exported room view", "path", path, "sequence", view.Sequence)
	return r.writePlain("✓ Exported %d entries to %s\n", len(formatter.Rows(view)), path)
}
