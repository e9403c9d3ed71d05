package cache

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultSearchTTL is how long a cached search result list remains valid.
// Deliberately much shorter than the embedding max age: the meaning of a
// query is stable, the corpus answering it is not.
const DefaultSearchTTL = time.Hour

// searchEntry is one cached result list with its write time.
type searchEntry struct {
	hits     any
	storedAt time.Time
}

// SearchCache caches enriched search result lists keyed by
// (normalized query, sorted author-id set, limit). Expiry is lazy: entries
// are checked on read, never background-swept. Safe for concurrent use.
type SearchCache struct {
	mu      sync.RWMutex
	entries map[string]searchEntry
	ttl     time.Duration

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewSearchCache constructs a SearchCache. ttl <= 0 selects the default.
func NewSearchCache(ttl time.Duration) *SearchCache {
	if ttl <= 0 {
		ttl = DefaultSearchTTL
	}
	return &SearchCache{
		entries: make(map[string]searchEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SearchKey builds the cache key. Author ids are sorted first so the key
// depends on the author set, not the order the caller listed them in.
func SearchKey(query string, authorIDs []int64, limit int) string {
	sorted := make([]int64, len(authorIDs))
	copy(sorted, authorIDs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return keyFor(fmt.Sprintf("%s|%v|%d", NormalizeText(query), sorted, limit))
}

// Get returns the cached value for key if present and unexpired. The value
// comes back exactly as it was Put; callers own the type assertion.
func (c *SearchCache) Get(key string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.hits, true
}

// Put stores hits under key with the current time.
func (c *SearchCache) Put(key string, hits any) {
	c.mu.Lock()
	c.entries[key] = searchEntry{hits: hits, storedAt: c.now()}
	c.mu.Unlock()
}

// Len returns the number of cached entries, expired or not.
func (c *SearchCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
