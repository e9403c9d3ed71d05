package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bookwise/bookrag-go/internal/cache"
	"github.com/bookwise/bookrag-go/internal/embedder"
	"github.com/bookwise/bookrag-go/internal/engine"
	"github.com/bookwise/bookrag-go/internal/store"
	"github.com/bookwise/bookrag-go/internal/vectorstore"
)

// openCatalog opens the SQLite catalog at BOOKRAG_CATALOG_DB, falling back
// to the default path under the user's home directory.
func openCatalog(log *slog.Logger) (*store.SQLiteStore, error) {
	dbPath := os.Getenv("BOOKRAG_CATALOG_DB")
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("catalog: resolve default path: %w", err)
		}
	}
	catalog, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", dbPath, err)
	}
	log.Info("catalog opened", slog.String("path", dbPath))
	return catalog, nil
}

// openVectors connects to Qdrant using the QDRANT_* environment variables.
// The vector size follows the configured embedding backend so that new
// namespaces are created with the right dimensionality.
func openVectors(ctx context.Context, log *slog.Logger) (*vectorstore.Store, error) {
	host := getEnvOrDefault("QDRANT_HOST", "localhost")
	port := getEnvInt("QDRANT_PORT", 6334)
	embBackend := getEnvOrDefault("EMBEDDING_PROVIDER", "openai")

	vectors, err := vectorstore.New(ctx, &vectorstore.Config{
		Host:       host,
		Port:       port,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		VectorSize: uint64(embedder.DefaultDimensions(embBackend)), //nolint:gosec // dimensions are bounded
		Workers:    getEnvInt("RETRIEVAL_WORKERS", 0),
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect to %s:%d: %w", host, port, err)
	}
	log.Info("vector store ready", slog.String("host", host), slog.Int("port", port))
	return vectors, nil
}

// buildEmbedder constructs the remote embedder selected by the environment
// and wraps it with the two-tier cache. The returned cache is shared with
// the stats endpoint; callers should Flush it before exit.
func buildEmbedder(log *slog.Logger) (*embedder.Cached, *cache.EmbeddingCache, error) {
	remote, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("embedder: %w", err)
	}

	dir := os.Getenv("BOOKRAG_CACHE_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil, fmt.Errorf("embedder: resolve cache dir: %w", err)
		}
		dir = filepath.Join(home, ".bookrag", "cache")
	}

	maxAge := time.Duration(getEnvInt("EMBEDDING_CACHE_MAX_AGE", 0)) * time.Hour
	ec, err := cache.NewEmbeddingCache(dir, maxAge, log)
	if err != nil {
		return nil, nil, fmt.Errorf("embedder: %w", err)
	}

	cached, err := embedder.NewCached(remote, ec, log)
	if err != nil {
		return nil, nil, fmt.Errorf("embedder: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("provider", getEnvOrDefault("EMBEDDING_PROVIDER", "openai")),
		slog.String("cache_dir", dir))
	return cached, ec, nil
}

// retrievalConfigFromEnv reads the search tunables, leaving zero values for
// the engine defaults to fill in.
func retrievalConfigFromEnv() engine.Config {
	return engine.Config{
		TopK:           getEnvInt("RETRIEVAL_TOP_K", 0),
		ScoreThreshold: getEnvFloat32("RETRIEVAL_SCORE_THRESHOLD", 0),
		Overfetch:      getEnvInt("RETRIEVAL_OVERFETCH", 0),
	}
}

// searchCacheTTL reads SEARCH_CACHE_TTL (seconds); zero selects the default.
func searchCacheTTL() time.Duration {
	return time.Duration(getEnvInt("SEARCH_CACHE_TTL", 0)) * time.Second
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}
