// Package cache provides the two caches used by the retrieval pipeline: a
// two-tier embedding cache (in-process plus a persisted on-disk table) and a
// short-TTL search result cache. The two are independent tables with
// different lifetimes: embeddings are stable for a day, search results go
// stale within the hour because corpora change more often than semantics.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultEmbeddingMaxAge is how long a persisted embedding remains valid.
const DefaultEmbeddingMaxAge = 24 * time.Hour

// flushInterval is the number of writes between disk flushes. Flushing on
// every write would double the latency of bulk ingestion for no benefit.
const flushInterval = 10

// embeddingEntry is a persisted cache record with its write timestamp.
type embeddingEntry struct {
	// Vector is the embedding.
	Vector []float32 `json:"vector"`
	// StoredAt is the Unix timestamp (seconds) the entry was written.
	StoredAt int64 `json:"stored_at"`
}

// EmbeddingCache maps normalized text to its embedding across two tiers: an
// unbounded in-process table for the process lifetime, and a persisted table
// loaded from disk at startup and pruned of entries older than maxAge.
// Safe for concurrent use. The on-disk file assumes a single owning process.
type EmbeddingCache struct {
	mu sync.RWMutex

	// session is the process-lifetime tier. Never expires, never persisted
	// separately: it is a superset of the persisted tier after warmup.
	session map[string][]float32

	// persisted is the disk-backed tier with timestamps for pruning.
	persisted map[string]embeddingEntry

	// writes counts Puts since the last flush.
	writes int

	path   string
	maxAge time.Duration
	log    *slog.Logger

	hits, misses uint64
}

// NewEmbeddingCache opens (or creates) the cache file under dir, pruning
// persisted entries older than maxAge. maxAge <= 0 selects the default.
func NewEmbeddingCache(dir string, maxAge time.Duration, log *slog.Logger) (*EmbeddingCache, error) {
	if maxAge <= 0 {
		maxAge = DefaultEmbeddingMaxAge
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cache: create dir %s: %w", dir, err)
	}

	c := &EmbeddingCache{
		session:   make(map[string][]float32),
		persisted: make(map[string]embeddingEntry),
		path:      filepath.Join(dir, "embeddings.json"),
		maxAge:    maxAge,
		log:       log,
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

// load reads the persisted tier from disk, dropping expired entries.
// A missing file is a fresh cache, not an error.
func (c *EmbeddingCache) load() error {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cache: read %s: %w", c.path, err)
	}

	var raw map[string]embeddingEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		// A corrupt cache file is recoverable: start fresh rather than
		// refusing to serve.
		c.log.Warn("cache: discarding unreadable embedding cache file",
			slog.String("path", c.path), slog.String("error", err.Error()))
		return nil
	}

	cutoff := time.Now().Add(-c.maxAge).Unix()
	kept := 0
	for key, e := range raw {
		if e.StoredAt < cutoff {
			continue
		}
		c.persisted[key] = e
		c.session[key] = e.Vector
		kept++
	}
	c.log.Debug("cache: loaded persisted embeddings",
		slog.Int("kept", kept), slog.Int("dropped", len(raw)-kept))
	return nil
}

// NormalizeText is the canonical text normalization applied before hashing:
// trim whitespace, lowercase. Two chunks with identical normalized text
// legitimately share a cache entry.
func NormalizeText(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// keyFor hashes normalized text into the cache key.
func keyFor(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:16])
}

// Get returns the cached embedding for text, consulting the session tier
// first and the persisted tier second. Persisted-tier expiry is checked
// lazily here, not by a background sweeper.
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	key := keyFor(text)

	c.mu.RLock()
	if vec, ok := c.session[key]; ok {
		c.mu.RUnlock()
		c.recordHit(true)
		return vec, true
	}
	entry, ok := c.persisted[key]
	c.mu.RUnlock()

	if ok && time.Now().Unix()-entry.StoredAt <= int64(c.maxAge.Seconds()) {
		c.mu.Lock()
		c.session[key] = entry.Vector
		c.mu.Unlock()
		c.recordHit(true)
		return entry.Vector, true
	}
	if ok {
		// Expired: drop lazily.
		c.mu.Lock()
		delete(c.persisted, key)
		c.mu.Unlock()
	}
	c.recordHit(false)
	return nil, false
}

// Put stores an embedding in both tiers and flushes the persisted tier to
// disk every flushInterval writes.
func (c *EmbeddingCache) Put(text string, vec []float32) {
	key := keyFor(text)

	c.mu.Lock()
	c.session[key] = vec
	c.persisted[key] = embeddingEntry{Vector: vec, StoredAt: time.Now().Unix()}
	c.writes++
	shouldFlush := c.writes%flushInterval == 0
	c.mu.Unlock()

	if shouldFlush {
		if err := c.Flush(); err != nil {
			c.log.Warn("cache: periodic flush failed", slog.String("error", err.Error()))
		}
	}
}

// Flush writes the persisted tier to disk. Callers should invoke it once
// more at shutdown to capture the writes since the last periodic flush.
func (c *EmbeddingCache) Flush() error {
	c.mu.RLock()
	data, err := json.Marshal(c.persisted)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("cache: marshal: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("cache: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("cache: rename %s: %w", tmp, err)
	}
	return nil
}

// recordHit updates the hit/miss counters.
func (c *EmbeddingCache) recordHit(hit bool) {
	c.mu.Lock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
}

// Stats reports the cache sizes and hit/miss counters.
func (c *EmbeddingCache) Stats() (sessionLen, persistedLen int, hits, misses uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.session), len(c.persisted), c.hits, c.misses
}
