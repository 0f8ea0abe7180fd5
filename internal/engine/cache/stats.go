package cache

import "sync"

// Stats is a snapshot of an APICache's read counters.
// Hits + Misses always equals TotalRequests.
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	HitRate       float64 `json:"hitRate"`
	TotalRequests int64   `json:"totalRequests"`
}

// statsCounter guards the live Stats of one cache.
type statsCounter struct {
	mu    sync.Mutex
	stats Stats
}

func (c *statsCounter) record(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.TotalRequests++
	if hit {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	c.stats.HitRate = float64(c.stats.Hits) / float64(c.stats.TotalRequests)
}

func (c *statsCounter) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *statsCounter) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = Stats{}
}
