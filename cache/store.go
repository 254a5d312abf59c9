package cache

import (
	"slices"
	"time"
)

// Entry is one cache slot, it is always replaced as a whole.
type Entry struct {
	Tile      *Tile
	Timestamp time.Time
	Loading   bool
	Err       bool
}

// store is a size bounded map of entries.
// It is not safe for concurrent use, Cache serializes access.
type store struct {
	maxSize    int
	maxAge     time.Duration
	evictBatch int
	clock      clock
	entries    map[Key]Entry
}

func newStore(maxSize int, maxAge time.Duration, evictBatch int, clock clock) *store {
	return &store{
		maxSize:    maxSize,
		maxAge:     maxAge,
		evictBatch: evictBatch,
		clock:      clock,
		entries:    make(map[Key]Entry),
	}
}

// get returns the entry for key unless it is missing, errored or stale.
func (s *store) get(key Key) (Entry, bool) {
	e, ok := s.entries[key]
	if !ok || e.Err {
		return Entry{}, false
	}
	if s.clock.Now().Sub(e.Timestamp) >= s.maxAge {
		return Entry{}, false
	}

	return e, true
}

func (s *store) put(key Key, e Entry) {
	s.entries[key] = e
	if len(s.entries) > s.maxSize {
		s.evict()
	}
}

// evict drops resolved entries, oldest first, down to maxSize-evictBatch.
// Loading entries are kept.
func (s *store) evict() {
	target := max(s.maxSize-s.evictBatch, 0)

	type aged struct {
		key Key
		ts  time.Time
	}
	candidates := make([]aged, 0, len(s.entries))
	for k, e := range s.entries {
		if e.Loading {
			continue
		}
		candidates = append(candidates, aged{key: k, ts: e.Timestamp})
	}
	slices.SortFunc(candidates, func(a, b aged) int {
		return a.ts.Compare(b.ts)
	})

	for _, c := range candidates {
		if len(s.entries) <= target {
			return
		}
		delete(s.entries, c.key)
	}
}

func (s *store) len() int {
	return len(s.entries)
}

func (s *store) clear() {
	s.entries = make(map[Key]Entry)
}

// healthy counts the entries not in error.
func (s *store) healthy() int {
	n := 0
	for _, e := range s.entries {
		if !e.Err {
			n++
		}
	}

	return n
}
