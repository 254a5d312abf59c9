package cache

// Stats is a point in time view of the cache.
type Stats struct {
	Size    int `json:"size"`
	MaxSize int `json:"max_size"`
	Pending int `json:"pending"`

	// HealthyRatio is the fraction of cached entries not in error, 0 when empty.
	HealthyRatio float64 `json:"healthy_ratio"`

	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Coalesced uint64 `json:"coalesced"`

	// HitRate is the fraction of requests served without starting a fetch.
	HitRate float64 `json:"hit_rate"`

	Fetches   uint64 `json:"fetches"`
	Fallbacks uint64 `json:"fallbacks"`
	Failures  uint64 `json:"failures"`
}

// Stats returns the current cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	s := Stats{
		Size:    c.store.len(),
		MaxSize: c.store.maxSize,
		Pending: len(c.pending),
	}
	healthy := c.store.healthy()
	c.mu.Unlock()

	if s.Size > 0 {
		s.HealthyRatio = float64(healthy) / float64(s.Size)
	}

	s.Hits = c.hits.Load()
	s.Misses = c.misses.Load()
	s.Coalesced = c.coalesced.Load()
	if total := s.Hits + s.Coalesced + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits+s.Coalesced) / float64(total)
	}

	s.Fetches = c.fetches.Load()
	s.Fallbacks = c.fallbacks.Load()
	s.Failures = c.failures.Load()

	return s
}
