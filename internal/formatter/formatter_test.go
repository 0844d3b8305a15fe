package formatter

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/songroom/internal/models"
	"github.com/desertthunder/songroom/internal/shared"
	th "github.com/desertthunder/songroom/internal/testing"
)

func testView() *models.PlaybackView {
	alice := &models.Requester{ID: "alice", DisplayName: "Alice", Verified: true}
	playedAt := time.Date(2026, 3, 14, 15, 9, 0, 0, time.UTC)

	return &models.PlaybackView{
		Current: &models.CurrentEntry{
			Item:       models.PlaybackItem{ID: "track1", Title: "Song One", Artists: []string{"Artist One"}, DurationMs: 180000, Kind: models.KindTrack},
			IsPlaying:  true,
			ProgressMs: 65000,
			Requester:  alice,
		},
		Queue: []models.QueueEntry{
			{Item: models.PlaybackItem{ID: "track2", Title: "Song Two", Artists: []string{"Artist Two", "Guest"}, DurationMs: 240000}},
		},
		History: []models.HistoryEntry{
			{Item: models.PlaybackItem{ID: "track3", Title: "Song, Three", Artists: []string{"Artist Three"}, DurationMs: 200000}, Requester: alice, PlayedAt: playedAt},
		},
		PolledAt: playedAt.Add(time.Minute),
		Sequence: 7,
	}
}

func TestExporters(t *testing.T) {
	t.Run("Rows", func(t *testing.T) {
		rows := Rows(testView())
		if len(rows) != 3 {
			t.Fatalf("expected 3 rows, got %d", len(rows))
		}

		sections := []string{rows[0].Section, rows[1].Section, rows[2].Section}
		if strings.Join(sections, ",") != "current,queue,history" {
			t.Errorf("unexpected order %v", sections)
		}
		if rows[0].Requester != "Alice" || rows[1].Requester != "" {
			t.Errorf("unexpected requesters %q %q", rows[0].Requester, rows[1].Requester)
		}
		if rows[1].Artists != "Artist Two, Guest" {
			t.Errorf("expected joined artists, got %q", rows[1].Artists)
		}
		if len(Rows(nil)) != 0 {
			t.Error("expected no rows for nil view")
		}
	})

	t.Run("ExportToCSV", func(t *testing.T) {
		data, err := ExportToCSV(testView())
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}

		output := string(data)

		if !strings.HasPrefix(output, "Section,Position,ID,Title,Artists,Duration,Requester,PlayedAt\n") {
			t.Errorf("CSV missing headers, got: %s", output)
		}
		if !strings.Contains(output, "current,1,track1,Song One,Artist One,180000,Alice,\n") {
			t.Errorf("CSV missing current row, got: %s", output)
		}
		if !strings.Contains(output, `queue,1,track2,Song Two,"Artist Two, Guest",240000,,`) {
			t.Errorf("CSV missing quoted artists, got: %s", output)
		}
		if !strings.Contains(output, `history,1,track3,"Song, Three",Artist Three,200000,Alice,2026-03-14T15:09:00Z`) {
			t.Errorf("CSV missing history row, got: %s", output)
		}
	})

	t.Run("ExportToMarkdown", func(t *testing.T) {
		t.Run("full view", func(t *testing.T) {
			data, err := ExportToMarkdown(testView())
			if err != nil {
				t.Fatalf("ExportToMarkdown failed: %v", err)
			}

			output := string(data)

			for _, want := range []string{
				"# Listening Room",
				"**Status**: live",
				"## Now Playing",
				"Artist One - Song One [1:05 / 3:00] · requested by Alice",
				"1. Artist Two, Guest - Song Two [4:00]\n",
				"## Recently Played",
				"1. Artist Three - Song, Three (3:09PM) · requested by Alice",
			} {
				if !strings.Contains(output, want) {
					t.Errorf("Markdown missing %q, got: %s", want, output)
				}
			}
		})

		t.Run("empty offline view", func(t *testing.T) {
			view := models.EmptyView()
			view.ControllerOffline = true

			data, err := ExportToMarkdown(view)
			if err != nil {
				t.Fatalf("ExportToMarkdown failed: %v", err)
			}

			output := string(data)
			for _, want := range []string{"**Status**: controller offline", "_Nothing playing_", "_Queue is empty_", "_No history_"} {
				if !strings.Contains(output, want) {
					t.Errorf("Markdown missing %q", want)
				}
			}
		})
	})

	t.Run("ExportToText", func(t *testing.T) {
		view := testView()
		view.Stale = true

		data, err := ExportToText(view)
		if err != nil {
			t.Fatalf("ExportToText failed: %v", err)
		}

		output := string(data)
		for _, want := range []string{
			"Status: stale\n",
			"Now playing: Artist One - Song One\n",
			"Queue: 1  History: 1\n",
			"[current 1] Artist One - Song One <Alice>\n",
			"[queue 1] Artist Two, Guest - Song Two\n",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("text missing %q, got: %s", want, output)
			}
		}
	})

	t.Run("Export JSON", func(t *testing.T) {
		data, err := Export(testView(), FormatJSON)
		if err != nil {
			t.Fatalf("Export failed: %v", err)
		}

		var view models.PlaybackView
		if err := json.Unmarshal(data, &view); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if view.Sequence != 7 || view.Current == nil {
			t.Errorf("unexpected view %+v", view)
		}
	})

	t.Run("Export rejects unknown format", func(t *testing.T) {
		if _, err := Export(testView(), Format("xml")); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"csv", FormatCSV, false},
		{".md", FormatMarkdown, false},
		{"Markdown", FormatMarkdown, false},
		{"", FormatText, false},
		{"txt", FormatText, false},
		{"json", FormatJSON, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				if !errors.Is(err, shared.ErrInvalidArgument) {
					t.Errorf("expected ErrInvalidArgument, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestWriteExport(t *testing.T) {
	t.Run("writes to nested path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "reports", "room.csv")

		got, err := WriteExport(testView(), FormatCSV, path)
		if err != nil {
			t.Fatalf("WriteExport failed: %v", err)
		}
		if got != path {
			t.Errorf("expected %s, got %s", path, got)
		}

		th.AssertFileExists(t, path)
		if content := th.MustReadFile(t, path); !strings.Contains(content, "track1") {
			t.Errorf("unexpected content %s", content)
		}
	})

	t.Run("defaults filename from sequence", func(t *testing.T) {
		wd, err := os.Getwd()
		if err != nil {
			t.Fatal(err)
		}
		dir := t.TempDir()
		if err := os.Chdir(dir); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { os.Chdir(wd) })

		got, err := WriteExport(testView(), FormatMarkdown, "")
		if err != nil {
			t.Fatalf("WriteExport failed: %v", err)
		}
		if got != "room-7.md" {
			t.Errorf("expected room-7.md, got %s", got)
		}
		th.AssertFileExists(t, filepath.Join(dir, got))
	})
}

func TestFormatDuration(t *testing.T) {
	for ms, want := range map[int]string{0: "0:00", 65000: "1:05", 180000: "3:00", 3725000: "62:05"} {
		if got := FormatDuration(ms); got != want {
			t.Errorf("FormatDuration(%d) = %q, want %q", ms, got, want)
		}
	}
}
