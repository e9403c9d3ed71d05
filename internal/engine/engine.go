// Package engine wires the retrieval pipeline together: query routing,
// caching, embedding, partitioned vector search, text recovery and lexical
// reranking, plus grounded answer generation on top of the search results.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bookwise/bookrag-go/internal/cache"
	"github.com/bookwise/bookrag-go/internal/rag"
	"github.com/bookwise/bookrag-go/internal/rerank"
	"github.com/bookwise/bookrag-go/internal/router"
)

// Defaults for the retrieval tunables.
const (
	// DefaultTopK is the number of results returned to the caller.
	DefaultTopK = 5

	// DefaultScoreThreshold discards hits whose similarity falls below it.
	DefaultScoreThreshold = 0.25

	// DefaultOverfetch is the multiple of TopK fetched from the index so
	// the reranker has candidates to promote.
	DefaultOverfetch = 2
)

// TextResolver recovers chunk text for search hits. Implementations must
// degrade rather than fail; see the textlookup package.
type TextResolver interface {
	Resolve(ctx context.Context, hits []rag.SearchHit) []rag.SearchHit
}

// Config holds the retrieval tunables. Zero values select the defaults.
type Config struct {
	// TopK is the number of results returned per search.
	TopK int

	// ScoreThreshold is the minimum similarity for a hit to be considered.
	ScoreThreshold float32

	// Overfetch multiplies TopK for the index query.
	Overfetch int
}

func (c *Config) applyDefaults() {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.ScoreThreshold <= 0 {
		c.ScoreThreshold = DefaultScoreThreshold
	}
	if c.Overfetch <= 0 {
		c.Overfetch = DefaultOverfetch
	}
}

// SearchResult is the outcome of one search request.
type SearchResult struct {
	// Query is the original query text.
	Query string `json:"query"`

	// Strategy is the routing decision applied to the query.
	Strategy router.Strategy `json:"strategy"`

	// Hits are the reranked results, best first. Empty when nothing
	// cleared the score threshold.
	Hits []rerank.Scored `json:"hits"`

	// FromCache reports whether the result was served from the search
	// cache without touching the embedder or the index.
	FromCache bool `json:"from_cache"`

	// Elapsed is the wall time spent producing the result.
	Elapsed time.Duration `json:"-"`
}

// Service runs searches and generates answers. Safe for concurrent use.
type Service struct {
	embedder rag.Embedder
	vectors  rag.VectorStore
	resolver TextResolver
	results  *cache.SearchCache
	chat     generator
	cfg      Config
	log      *slog.Logger
}

// Deps are the collaborators a Service needs. Embedder, Vectors and Resolver
// are required; Chat may be nil when only Search is used.
type Deps struct {
	Embedder rag.Embedder
	Vectors  rag.VectorStore
	Resolver TextResolver
	Results  *cache.SearchCache
	Chat     generator
	Logger   *slog.Logger
}

// New constructs a Service.
func New(deps Deps, cfg Config) (*Service, error) {
	if deps.Embedder == nil || deps.Vectors == nil || deps.Resolver == nil {
		return nil, fmt.Errorf("engine: embedder, vectors and resolver are required")
	}
	if deps.Results == nil {
		deps.Results = cache.NewSearchCache(cache.DefaultSearchTTL)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Service{
		embedder: deps.Embedder,
		vectors:  deps.Vectors,
		resolver: deps.Resolver,
		results:  deps.Results,
		chat:     deps.Chat,
		cfg:      cfg,
		log:      deps.Logger,
	}, nil
}

// Search runs the full retrieval pipeline for one query against the given
// authors. limit caps the number of results returned; limit <= 0 selects the
// configured TopK. An empty author set short-circuits to an empty result: a
// search scoped to nothing finds nothing.
func (s *Service) Search(ctx context.Context, query string, authorIDs []int64, limit int) (*SearchResult, error) {
	start := time.Now()
	decision := router.Route(query)
	if limit <= 0 {
		limit = s.cfg.TopK
	}

	result := &SearchResult{
		Query:    query,
		Strategy: decision.Strategy,
	}
	if len(authorIDs) == 0 {
		result.Elapsed = time.Since(start)
		return result, nil
	}

	key := cache.SearchKey(query, authorIDs, limit)
	if cached, ok := s.results.Get(key); ok {
		hits := cached.([]rerank.Scored)
		result.Hits = hits
		result.FromCache = true
		result.Elapsed = time.Since(start)
		s.log.Debug("search served from cache",
			"query_len", len(query),
			"hits", len(hits))
		return result, nil
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("engine: embed query: %w", err)
	}

	fetchLimit := limit * s.cfg.Overfetch
	hits, err := s.vectors.Search(ctx, vecs[0], authorIDs, fetchLimit, s.cfg.ScoreThreshold)
	if err != nil {
		return nil, fmt.Errorf("engine: vector search: %w", err)
	}
	if len(hits) == 0 {
		result.Elapsed = time.Since(start)
		return result, nil
	}

	hits = s.resolver.Resolve(ctx, hits)
	result.Hits = rerank.Rerank(query, hits, limit)
	result.Elapsed = time.Since(start)

	s.results.Put(key, result.Hits)
	s.log.Info("search completed",
		"strategy", string(decision.Strategy),
		"authors", len(authorIDs),
		"candidates", len(hits),
		"hits", len(result.Hits),
		"elapsed_ms", result.Elapsed.Milliseconds())
	return result, nil
}
