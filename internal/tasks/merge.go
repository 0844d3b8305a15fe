package tasks

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/songroom/internal/attribution"
	"github.com/desertthunder/songroom/internal/models"
	"github.com/desertthunder/songroom/internal/services"
)

var (
	errMissingID      = errors.New("missing id")
	errMissingTitle   = errors.New("missing title")
	errMissingArtwork = errors.New("missing artwork")
)

// normalizeItem maps a provider track or episode onto [models.PlaybackItem].
func normalizeItem(item services.Item) (models.PlaybackItem, error) {
	if item.ID == "" {
		return models.PlaybackItem{}, errMissingID
	}
	if item.Name == "" {
		return models.PlaybackItem{}, errMissingTitle
	}

	out := models.PlaybackItem{
		ID:          models.TrackID(item.ID),
		Title:       item.Name,
		DurationMs:  item.DurationMs,
		URI:         item.URI,
		Artists:     []string{},
		ArtworkRefs: []string{},
	}

	switch {
	case item.Type == string(models.KindEpisode) || (item.Type == "" && item.Show != nil):
		out.Kind = models.KindEpisode
		images := item.Images
		if item.Show != nil {
			if item.Show.Publisher != "" {
				out.Artists = append(out.Artists, item.Show.Publisher)
			} else if item.Show.Name != "" {
				out.Artists = append(out.Artists, item.Show.Name)
			}
			if len(images) == 0 {
				images = item.Show.Images
			}
		}
		out.ArtworkRefs = imageURLs(images)
	case item.Type == string(models.KindTrack) || item.Type == "":
		out.Kind = models.KindTrack
		for _, a := range item.Artists {
			if a.Name != "" {
				out.Artists = append(out.Artists, a.Name)
			}
		}
		if item.Album != nil {
			out.ArtworkRefs = imageURLs(item.Album.Images)
		}
	default:
		return models.PlaybackItem{}, fmt.Errorf("unsupported item type %q", item.Type)
	}

	if len(out.ArtworkRefs) == 0 {
		return models.PlaybackItem{}, errMissingArtwork
	}
	return out, nil
}

func imageURLs(images []services.Image) []string {
	urls := []string{}
	for _, img := range images {
		if img.URL != "" {
			urls = append(urls, img.URL)
		}
	}
	return urls
}

// readings are the raw provider responses of one cycle.
type readings struct {
	current *services.PlaybackState
	queue   *services.Queue
	history []services.PlayHistory
}

// merged is the result of folding readings and an attribution snapshot together.
type merged struct {
	view *models.PlaybackView
	// live holds every id the provider reported, including items dropped as malformed.
	live map[models.TrackID]struct{}
	// origins holds the lifecycle stage observed for each attributed id.
	origins map[models.TrackID]models.Origin
}

// merge builds a view from one cycle's readings. It is pure: every requester comes
// from snap, so all lookups in a cycle agree even while new requests are recorded.
func merge(r readings, snap attribution.Snapshot, historyDisplay int, logger *log.Logger) merged {
	m := merged{
		view:    &models.PlaybackView{Queue: []models.QueueEntry{}, History: []models.HistoryEntry{}},
		live:    make(map[models.TrackID]struct{}),
		origins: make(map[models.TrackID]models.Origin),
	}

	resolve := func(id models.TrackID, origin models.Origin) *models.Requester {
		rec, ok := snap[id]
		if !ok {
			return nil
		}
		if prev, seen := m.origins[id]; !seen || prev == models.OriginInferredFromHistory {
			m.origins[id] = origin
		}
		requester := rec.Requester
		return &requester
	}

	observe := func(item services.Item, stage string) (models.PlaybackItem, bool) {
		if item.ID != "" {
			m.live[models.TrackID(item.ID)] = struct{}{}
		}
		out, err := normalizeItem(item)
		if err != nil {
			logger.Debug("skipping malformed item", "stage", stage, "id", item.ID, "name", item.Name, "reason", err)
			return models.PlaybackItem{}, false
		}
		return out, true
	}

	if cur := r.current; cur != nil && cur.Item != nil {
		item, ok := observe(*cur.Item, "current")
		if ok && cur.Device != nil {
			entry := &models.CurrentEntry{
				Item:       item,
				IsPlaying:  cur.IsPlaying,
				ProgressMs: cur.ProgressMs,
				Device:     &models.Device{ID: cur.Device.ID, Name: cur.Device.Name, Type: cur.Device.Type},
				Requester:  resolve(item.ID, models.OriginInferredFromQueue),
			}
			if cur.Device.VolumePercent != nil {
				entry.VolumePercent = *cur.Device.VolumePercent
			}
			m.view.Current = entry
		}
	}

	if r.queue != nil {
		for _, raw := range r.queue.Queue {
			if item, ok := observe(raw, "queue"); ok {
				m.view.Queue = append(m.view.Queue, models.QueueEntry{
					Item:      item,
					Requester: resolve(item.ID, models.OriginInferredFromQueue),
				})
			}
		}
	}

	for _, h := range r.history {
		item, ok := observe(h.Track, "history")
		if !ok {
			continue
		}
		requester := resolve(item.ID, models.OriginInferredFromHistory)
		if historyDisplay > 0 && len(m.view.History) >= historyDisplay {
			continue
		}
		m.view.History = append(m.view.History, models.HistoryEntry{
			Item:      item,
			Requester: requester,
			PlayedAt:  h.PlayedAt,
		})
	}

	return m
}
