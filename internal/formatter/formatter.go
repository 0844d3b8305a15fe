// package formatter renders room snapshots to export formats (CSV, Markdown, plain text, JSON)
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/songroom/internal/models"
	"github.com/desertthunder/songroom/internal/shared"
)

// Format names an export format.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
	FormatJSON     Format = "json"
)

// ParseFormat accepts a format name or a common file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "text", "txt", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, s)
}

// Extension returns the file extension used for f.
func (f Format) Extension() string {
	switch f {
	case FormatCSV:
		return ".csv"
	case FormatMarkdown:
		return ".md"
	case FormatJSON:
		return ".json"
	default:
		return ".txt"
	}
}

// Row is one flattened entry of a view.
type Row struct {
	Section   string
	Position  int
	ID        models.TrackID
	Title     string
	Artists   string
	Duration  int
	Requester string
	PlayedAt  time.Time
}

// Rows flattens the view in display order: current, then queue, then history.
func Rows(view *models.PlaybackView) []Row {
	var rows []Row
	if view == nil {
		return rows
	}

	if c := view.Current; c != nil {
		rows = append(rows, row("current", 1, c.Item, c.Requester, time.Time{}))
	}
	for i, q := range view.Queue {
		rows = append(rows, row("queue", i+1, q.Item, q.Requester, time.Time{}))
	}
	for i, h := range view.History {
		rows = append(rows, row("history", i+1, h.Item, h.Requester, h.PlayedAt))
	}
	return rows
}

func row(section string, pos int, item models.PlaybackItem, req *models.Requester, playedAt time.Time) Row {
	r := Row{
		Section:  section,
		Position: pos,
		ID:       item.ID,
		Title:    item.Title,
		Artists:  strings.Join(item.Artists, ", "),
		Duration: item.DurationMs,
		PlayedAt: playedAt,
	}
	if req != nil {
		r.Requester = req.DisplayName
	}
	return r
}

// ExportToCSV converts a view to CSV with columns: Section, Position, ID, Title, Artists, Duration, Requester, PlayedAt
func ExportToCSV(view *models.PlaybackView) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Section", "Position", "ID", "Title", "Artists", "Duration", "Requester", "PlayedAt"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, r := range Rows(view) {
		playedAt := ""
		if !r.PlayedAt.IsZero() {
			playedAt = r.PlayedAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			r.Section,
			strconv.Itoa(r.Position),
			string(r.ID),
			r.Title,
			r.Artists,
			strconv.Itoa(r.Duration),
			r.Requester,
			playedAt,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts a view to a Markdown report.
func ExportToMarkdown(view *models.PlaybackView) ([]byte, error) {
	var buf bytes.Buffer
	if view == nil {
		view = models.EmptyView()
	}

	buf.WriteString("# Listening Room\n\n")
	if !view.PolledAt.IsZero() {
		fmt.Fprintf(&buf, "**As of**: %s\n", view.PolledAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&buf, "**Status**: %s\n\n", status(view))

	buf.WriteString("## Now Playing\n\n")
	if c := view.Current; c != nil {
		fmt.Fprintf(&buf, "%s [%s / %s]%s\n\n", line(c.Item), FormatDuration(c.ProgressMs), FormatDuration(c.Item.DurationMs), by(c.Requester))
	} else {
		buf.WriteString("_Nothing playing_\n\n")
	}

	buf.WriteString("## Up Next\n\n")
	if len(view.Queue) == 0 {
		buf.WriteString("_Queue is empty_\n\n")
	}
	for i, q := range view.Queue {
		fmt.Fprintf(&buf, "%d. %s [%s]%s\n", i+1, line(q.Item), FormatDuration(q.Item.DurationMs), by(q.Requester))
	}
	if len(view.Queue) > 0 {
		buf.WriteString("\n")
	}

	buf.WriteString("## Recently Played\n\n")
	if len(view.History) == 0 {
		buf.WriteString("_No history_\n")
	}
	for i, h := range view.History {
		fmt.Fprintf(&buf, "%d. %s (%s)%s\n", i+1, line(h.Item), h.PlayedAt.UTC().Format(time.Kitchen), by(h.Requester))
	}

	return buf.Bytes(), nil
}

// ExportToText converts a view to plain text.
func ExportToText(view *models.PlaybackView) ([]byte, error) {
	var buf bytes.Buffer
	if view == nil {
		view = models.EmptyView()
	}

	fmt.Fprintf(&buf, "Status: %s\n", status(view))
	if c := view.Current; c != nil {
		fmt.Fprintf(&buf, "Now playing: %s\n", line(c.Item))
	}
	fmt.Fprintf(&buf, "Queue: %d  History: %d\n\n", len(view.Queue), len(view.History))

	for _, r := range Rows(view) {
		name := r.Title
		if r.Artists != "" {
			name = r.Artists + " - " + r.Title
		}
		fmt.Fprintf(&buf, "[%s %d] %s", r.Section, r.Position, name)
		if r.Requester != "" {
			fmt.Fprintf(&buf, " <%s>", r.Requester)
		}
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

// Export renders view in format.
func Export(view *models.PlaybackView, format Format) ([]byte, error) {
	switch format {
	case FormatCSV:
		return ExportToCSV(view)
	case FormatMarkdown:
		return ExportToMarkdown(view)
	case FormatJSON:
		data, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal view: %w", err)
		}
		return append(data, '\n'), nil
	case FormatText:
		return ExportToText(view)
	}
	return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, format)
}

// WriteExport renders view and writes it to path, creating parent directories.
//
// An empty path defaults to room-{sequence}{ext} in the working directory.
func WriteExport(view *models.PlaybackView, format Format, path string) (string, error) {
	if path == "" {
		var seq uint64
		if view != nil {
			seq = view.Sequence
		}
		path = fmt.Sprintf("room-%d%s", seq, format.Extension())
	}

	data, err := Export(view, format)
	if err != nil {
		return "", err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	return path, nil
}

// FormatDuration renders milliseconds as m:ss.
func FormatDuration(ms int) string {
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func line(item models.PlaybackItem) string {
	if len(item.Artists) == 0 {
		return item.Title
	}
	return strings.Join(item.Artists, ", ") + " - " + item.Title
}

func by(r *models.Requester) string {
	if r == nil {
		return ""
	}
	return " · requested by " + r.DisplayName
}

func status(view *models.PlaybackView) string {
	switch {
	case view.ControllerOffline:
		return "controller offline"
	case view.Stale:
		return "stale"
	default:
		return "live"
	}
}
