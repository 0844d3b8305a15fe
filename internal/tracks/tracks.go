// Package tracks parses user-submitted track references into provider track ids.
//
// Accepted forms:
//
//	https://open.spotify.com/track/<id>[?si=...]
//	https://open.spotify.com/intl-de/track/<id>
//	spotify:track:<id>
//	<id>
//
// An id is exactly 22 base-62 characters. Parsing is pure and performs no I/O.
package tracks

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/desertthunder/songroom/internal/models"
	"github.com/desertthunder/songroom/internal/shared"
)

// IDLength is the length of a provider track id.
const IDLength = 22

var (
	idPattern  = regexp.MustCompile(`^[0-9A-Za-z]{22}$`)
	uriPattern = regexp.MustCompile(`^spotify:track:([0-9A-Za-z]+)$`)
	intlPath   = regexp.MustCompile(`^intl-[a-z]{2}(?:-[a-z]{2,4})?$`)
)

// Parse converts raw into a canonical [models.TrackID] or fails with [shared.ErrInvalidReference].
func Parse(raw string) (models.TrackID, error) {
	ref := strings.TrimSpace(raw)
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", shared.ErrInvalidReference)
	}

	var candidate string
	switch {
	case strings.HasPrefix(ref, "spotify:"):
		m := uriPattern.FindStringSubmatch(ref)
		if m == nil {
			return "", fmt.Errorf("%w: %q is not a track uri", shared.ErrInvalidReference, ref)
		}
		candidate = m[1]
	case strings.Contains(ref, "/") || strings.Contains(ref, "."):
		id, err := fromURL(ref)
		if err != nil {
			return "", err
		}
		candidate = id
	default:
		candidate = ref
	}

	if !idPattern.MatchString(candidate) {
		return "", fmt.Errorf("%w: %q is not a valid track id", shared.ErrInvalidReference, candidate)
	}
	return models.TrackID(candidate), nil
}

func fromURL(ref string) (string, error) {
	if !strings.Contains(ref, "://") {
		ref = "https://" + ref
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrInvalidReference, err)
	}

	host := strings.ToLower(u.Hostname())
	if host != "spotify.com" && !strings.HasSuffix(host, ".spotify.com") {
		return "", fmt.Errorf("%w: unsupported host %q", shared.ErrInvalidReference, host)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) > 0 && intlPath.MatchString(segments[0]) {
		segments = segments[1:]
	}
	if len(segments) > 0 && segments[0] == "embed" {
		segments = segments[1:]
	}
	if len(segments) != 2 || segments[0] != "track" {
		return "", fmt.Errorf("%w: %q is not a track link", shared.ErrInvalidReference, u.Path)
	}

	return segments[1], nil
}

// URI returns the provider uri used to enqueue id.
func URI(id models.TrackID) string {
	return "spotify:track:" + string(id)
}

// URL returns the public link for id.
func URL(id models.TrackID) string {
	return "https://open.spotify.com/track/" + string(id)
}
