package summarize

import (
	"sync"
	"time"
)

// cacheEntry is one cached summary keyed by the (tool, input, content)
// hash.
type cacheEntry struct {
	summary     string
	contentHash string
	createdAt   time.Time
}

// summaryCache is a bounded FIFO cache with lazy TTL expiry. It is shared
// across all sessions because identical (tool, input, content) triples are
// expected to recur.
type summaryCache struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration

	entries map[string]cacheEntry
	// order holds keys in insertion order; the oldest is evicted first.
	order []string
}

func newSummaryCache(maxEntries int, ttl time.Duration) *summaryCache {
	return &summaryCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		entries:    make(map[string]cacheEntry),
	}
}

// get returns the cached summary for key. Expired entries are removed
// lazily and reported as misses.
func (c *summaryCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.ttl > 0 && timeNow().Sub(entry.createdAt) > c.ttl {
		c.removeLocked(key)
		return "", false
	}
	return entry.summary, true
}

// put stores a summary, evicting the oldest entry when over capacity.
// One entry per key: an existing key is overwritten in place.
func (c *summaryCache) put(key, summary, contentHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{
		summary:     summary,
		contentHash: contentHash,
		createdAt:   timeNow(),
	}

	for c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		oldest := c.order[0]
		c.removeLocked(oldest)
		cacheEvictionsTotal.Inc()
	}
}

// removeLocked deletes key from the map and the order queue.
func (c *summaryCache) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *summaryCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *summaryCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.order = nil
}
