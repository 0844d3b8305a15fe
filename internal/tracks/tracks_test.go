package tracks

import (
	"errors"
	"testing"

	"github.com/desertthunder/songroom/internal/models"
	"github.com/desertthunder/songroom/internal/shared"
)

const validID = "4uLU6hMCjMI75M1A2tKUQC"

func TestParse(t *testing.T) {
	valid := []struct {
		name string
		raw  string
	}{
		{name: "share link", raw: "https://open.spotify.com/track/" + validID},
		{name: "share link with query", raw: "https://open.spotify.com/track/" + validID + "?si=abc123"},
		{name: "localized link", raw: "https://open.spotify.com/intl-de/track/" + validID},
		{name: "embed link", raw: "https://open.spotify.com/embed/track/" + validID + "?utm_source=generator"},
		{name: "link without scheme", raw: "open.spotify.com/track/" + validID},
		{name: "trailing slash", raw: "https://open.spotify.com/track/" + validID + "/"},
		{name: "uri", raw: "spotify:track:" + validID},
		{name: "bare id", raw: validID},
		{name: "surrounding whitespace", raw: "  " + validID + "\n"},
	}

	for _, tt := range valid {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.raw, err)
			}
			if got != models.TrackID(validID) {
				t.Errorf("Parse(%q) = %s, want %s", tt.raw, got, validID)
			}
		})
	}

	invalid := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "short id", raw: "abc123"},
		{name: "long id", raw: validID + "x"},
		{name: "non base62", raw: "4uLU6hMCjMI75M1A2tKU-C"},
		{name: "album link", raw: "https://open.spotify.com/album/" + validID},
		{name: "embed album link", raw: "https://open.spotify.com/embed/album/" + validID},
		{name: "episode uri", raw: "spotify:episode:" + validID},
		{name: "other host", raw: "https://example.com/track/" + validID},
		{name: "lookalike host", raw: "https://notspotify.com/track/" + validID},
		{name: "extra segments", raw: "https://open.spotify.com/track/" + validID + "/extra"},
	}

	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.raw); !errors.Is(err, shared.ErrInvalidReference) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalidReference", tt.raw, err)
			}
		})
	}
}

func TestURI(t *testing.T) {
	if got := URI(validID); got != "spotify:track:"+validID {
		t.Errorf("URI() = %s", got)
	}

	id, err := Parse(URL(validID))
	if err != nil || id != validID {
		t.Errorf("URL() should round-trip through Parse, got %s, %v", id, err)
	}
}
