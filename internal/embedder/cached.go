package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bookwise/bookrag-go/internal/cache"
	"github.com/bookwise/bookrag-go/internal/rag"
)

const (
	// defaultMaxBatch is the conservative per-request input count sent to
	// the remote provider. OpenAI accepts up to 2048; staying low keeps
	// individual requests fast and retryable.
	defaultMaxBatch = 100

	// defaultMaxInputChars is the truncation length for a single input.
	// Roughly 2000 tokens: well inside every supported provider's limit.
	defaultMaxInputChars = 8000

	// emptyInputPlaceholder stands in for blank texts so the provider never
	// rejects the whole batch over one empty chunk.
	emptyInputPlaceholder = "empty content"
)

// Cached wraps a remote rag.Embedder with the two-tier embedding cache.
// Every request consults the cache first; only distinct uncached texts reach
// the provider, batched within the provider's input limits. A successful
// remote call populates both cache tiers. Safe for concurrent use.
type Cached struct {
	remote   rag.Embedder
	cache    *cache.EmbeddingCache
	maxBatch int
	maxChars int
	log      *slog.Logger
}

// CachedOption adjusts a Cached embedder at construction time.
type CachedOption func(*Cached)

// WithMaxBatch overrides the per-request input count limit.
func WithMaxBatch(n int) CachedOption {
	return func(c *Cached) {
		if n > 0 {
			c.maxBatch = n
		}
	}
}

// WithMaxInputChars overrides the single-input truncation length.
func WithMaxInputChars(n int) CachedOption {
	return func(c *Cached) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// NewCached constructs a Cached embedder around remote and cache.
func NewCached(remote rag.Embedder, ec *cache.EmbeddingCache, log *slog.Logger, opts ...CachedOption) (*Cached, error) {
	if remote == nil {
		return nil, fmt.Errorf("embedder: remote must not be nil")
	}
	if ec == nil {
		return nil, fmt.Errorf("embedder: cache must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Cached{
		remote:   remote,
		cache:    ec,
		maxBatch: defaultMaxBatch,
		maxChars: defaultMaxInputChars,
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Embed returns embeddings parallel to texts. Cache hits are served without
// any network call; the remaining texts are deduplicated by normalized
// content (one remote embedding per distinct text) and sent in bounded
// batches.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	prepared := make([]string, len(texts))

	// distinct maps normalized text to the input positions that want it.
	distinct := make(map[string][]int)
	var missOrder []string

	for i, text := range texts {
		prepared[i] = c.prepare(text)
		if vec, ok := c.cache.Get(prepared[i]); ok {
			results[i] = vec
			continue
		}
		norm := cache.NormalizeText(prepared[i])
		if _, seen := distinct[norm]; !seen {
			missOrder = append(missOrder, prepared[i])
		}
		distinct[norm] = append(distinct[norm], i)
	}

	if len(missOrder) == 0 {
		return results, nil
	}
	c.log.Debug("embedder: cache misses going remote",
		slog.Int("requested", len(texts)), slog.Int("distinct_misses", len(missOrder)))

	for start := 0; start < len(missOrder); start += c.maxBatch {
		end := start + c.maxBatch
		if end > len(missOrder) {
			end = len(missOrder)
		}
		batch := missOrder[start:end]

		vectors, err := c.remote.Embed(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embedder: remote batch failed: %w", err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embedder: remote returned %d vectors for %d inputs", len(vectors), len(batch))
		}

		for j, text := range batch {
			c.cache.Put(text, vectors[j])
			for _, pos := range distinct[cache.NormalizeText(text)] {
				results[pos] = vectors[j]
			}
		}
	}

	return results, nil
}

// prepare trims and truncates one input, substituting a placeholder for
// blank text.
func (c *Cached) prepare(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return emptyInputPlaceholder
	}
	if len(text) > c.maxChars {
		return text[:c.maxChars]
	}
	return text
}
