package hooks

import (
	"sort"
	"sync"
	"time"
)

// Store keeps the latest event per target, expiring entries older than ttl.
type Store struct {
	mu   sync.Mutex
	ttl  time.Duration
	data map[string]Event
}

func NewStore(ttl time.Duration) *Store {
	return &Store{ttl: ttl, data: make(map[string]Event)}
}

func (s *Store) Upsert(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.data[e.Target]; ok && prev.TS.After(e.TS) {
		return
	}
	s.data[e.Target] = e
}

// Latest returns the current event for target, if one has not expired.
func (s *Store) Latest(target string, now time.Time) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[target]
	if !ok {
		return Event{}, false
	}
	if s.expired(e, now) {
		delete(s.data, target)
		return Event{}, false
	}
	return e, true
}

// Snapshot returns all live events sorted by target.
func (s *Store) Snapshot(now time.Time) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]Event, 0, len(s.data))
	for target, e := range s.data {
		if s.expired(e, now) {
			delete(s.data, target)
			continue
		}
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Target < result[j].Target
	})
	return result
}

func (s *Store) expired(e Event, now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.TS) > s.ttl
}
