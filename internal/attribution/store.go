// Package attribution keeps the in-memory map from track id to the user who requested it.
//
// The provider never reports who queued an item, so the room remembers it locally.
// Records are created on successful enqueue, replaced by newer requests for the same
// id, advanced through their origin lifecycle by the reconciler and pruned once the
// provider no longer reports the id anywhere.
package attribution

import (
	"sync"
	"time"

	"github.com/desertthunder/songroom/internal/models"
)

// DefaultCapacity bounds the store when no capacity is configured.
const DefaultCapacity = 512

// Snapshot is a point-in-time copy of the store used for one merge.
type Snapshot map[models.TrackID]models.AttributionRecord

// Store is safe for concurrent use. Lookups never touch the network.
type Store struct {
	mu       sync.RWMutex
	records  map[models.TrackID]models.AttributionRecord
	capacity int
	now      func() time.Time
}

// NewStore creates a store holding at most capacity records.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		records:  make(map[models.TrackID]models.AttributionRecord),
		capacity: capacity,
		now:      time.Now,
	}
}

// Record attributes id to user with origin queued, replacing any existing record.
func (s *Store) Record(id models.TrackID, user models.User) models.AttributionRecord {
	rec := models.AttributionRecord{
		TrackID:    id,
		Requester:  user.Requester(),
		RecordedAt: s.now(),
		Origin:     models.OriginQueued,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[id] = rec
	if len(s.records) > s.capacity {
		s.evictOldest()
	}
	return rec
}

// evictOldest must be called with the write lock held.
func (s *Store) evictOldest() {
	var (
		oldest models.TrackID
		at     time.Time
		found  bool
	)
	for id, rec := range s.records {
		if !found || rec.RecordedAt.Before(at) {
			oldest, at, found = id, rec.RecordedAt, true
		}
	}
	if found {
		delete(s.records, oldest)
	}
}

// Lookup returns the record for id, if any.
func (s *Store) Lookup(id models.TrackID) (models.AttributionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Snapshot copies every record. A merge reads one snapshot so all its lookups agree.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(Snapshot, len(s.records))
	for id, rec := range s.records {
		snap[id] = rec
	}
	return snap
}

// Advance replaces the record for prev.TrackID with one carrying origin, provided the
// stored record is still prev. A concurrent Record for the same id wins.
func (s *Store) Advance(prev models.AttributionRecord, origin models.Origin) bool {
	if prev.Origin == origin {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[prev.TrackID]
	if !ok || cur != prev {
		return false
	}
	cur.Origin = origin
	s.records[prev.TrackID] = cur
	return true
}

// Prune removes records whose id is not in live. Records made after observedAt are kept:
// the provider reads that produced live started before they existed.
func (s *Store) Prune(live map[models.TrackID]struct{}, observedAt time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.records {
		if _, ok := live[id]; ok {
			continue
		}
		if rec.RecordedAt.After(observedAt) {
			continue
		}
		delete(s.records, id)
		removed++
	}
	return removed
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
