package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bookwise/bookrag-go/internal/engine"
	"github.com/bookwise/bookrag-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives the server's Prometheus metrics and backs GET
	// /metrics. If nil, a private registry is created.
	Registry *prometheus.Registry
}

// searcher runs retrieval for POST /api/search. *engine.Service satisfies
// it; tests inject a fake.
type searcher interface {
	Search(ctx context.Context, query string, authorIDs []int64, limit int) (*engine.SearchResult, error)
}

// answerer generates answers for POST /api/ask.
type answerer interface {
	Answer(ctx context.Context, query string, authorIDs []int64, maxChunks int) (*engine.Answer, error)
	AnswerStream(ctx context.Context, query string, authorIDs []int64, maxChunks int) ([]engine.Source, *schema.StreamReader[*schema.Message], error)
}

// subscriptionResolver maps a user id to the author ids they follow.
// *store.SQLiteStore satisfies it.
type subscriptionResolver interface {
	SubscribedAuthorIDs(ctx context.Context, userID int64) ([]int64, error)
}

// statsProvider reports index statistics for GET /api/stats.
type statsProvider interface {
	Stats(ctx context.Context) (rag.IndexStats, error)
}

// cacheStats reports embedding cache counters for GET /api/stats.
// *cache.EmbeddingCache satisfies it.
type cacheStats interface {
	Stats() (session, persisted int, hits, misses uint64)
}

// Deps are the collaborators the server exposes over HTTP. Searcher is
// required; the rest degrade their endpoints when nil.
type Deps struct {
	Searcher      searcher
	Answerer      answerer
	Subscriptions subscriptionResolver
	Index         statsProvider
	EmbedCache    cacheStats
}

// Server is the HTTP server fronting the retrieval engine.
type Server struct {
	deps Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this instance.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// searchRequest is the JSON body for POST /api/search and POST /api/ask.
// Either AuthorIDs or UserID must be given; explicit AuthorIDs win.
type searchRequest struct {
	// Query is the reader's question.
	Query string `json:"query"`
	// AuthorIDs restricts the search to these authors.
	AuthorIDs []int64 `json:"author_ids,omitempty"`
	// UserID selects the authors the user is subscribed to.
	UserID int64 `json:"user_id,omitempty"`
	// Limit caps the number of search results; 0 selects the server default.
	Limit int `json:"limit,omitempty"`
	// MaxChunks caps the passages used for answer generation; 0 selects
	// the server default. Only read by POST /api/ask.
	MaxChunks int `json:"max_chunks,omitempty"`
}

// searchHitResponse is one result row in the search response.
type searchHitResponse struct {
	// ID is the chunk id, usable for text recovery and deduplication.
	ID string `json:"id"`
	// Text is the chunk text, or a placeholder when the stored text is gone.
	Text string `json:"text"`
	// Score is the composite relevance score.
	Score float64 `json:"score"`
	// VectorScore is the raw similarity before reranking.
	VectorScore float64 `json:"vector_score"`
	// AuthorID and BookID identify the passage's origin.
	AuthorID int64 `json:"author_id"`
	BookID   int64 `json:"book_id"`
	// BookTitle and SectionTitle locate the passage.
	BookTitle    string `json:"book_title"`
	SectionTitle string `json:"section_title"`
	// PageNumber is the page the chunk starts on.
	PageNumber int `json:"page_number"`
	// ChunkType is "fixed" or "semantic".
	ChunkType string `json:"chunk_type"`
}

// searchResponse is the JSON response for POST /api/search.
type searchResponse struct {
	// Query echoes the request query.
	Query string `json:"query"`
	// Strategy is the routing decision applied.
	Strategy string `json:"strategy"`
	// FromCache reports whether the result was served from cache.
	FromCache bool `json:"from_cache"`
	// Results are the ranked hits, best first.
	Results []searchHitResponse `json:"results"`
}

// statsResponse is the JSON response for GET /api/stats.
type statsResponse struct {
	// TotalVectors and Dimension describe the vector index.
	TotalVectors uint64 `json:"total_vectors"`
	Dimension    uint64 `json:"dimension"`
	// Namespaces maps author namespace to vector count.
	Namespaces map[string]uint64 `json:"namespaces"`
	// EmbeddingCache summarizes the two-tier embedding cache.
	EmbeddingCache *embedCacheStats `json:"embedding_cache,omitempty"`
}

// embedCacheStats summarizes the embedding cache for GET /api/stats.
type embedCacheStats struct {
	SessionEntries   int    `json:"session_entries"`
	PersistedEntries int    `json:"persisted_entries"`
	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
}
