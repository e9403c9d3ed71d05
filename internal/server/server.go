// Package server implements the HTTP server that exposes book search and
// question answering as a REST/SSE API. The server is started by the
// `bookrag serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bookwise/bookrag-go/internal/logging"
)

// New constructs a Server from the provided dependencies and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Searcher == nil {
		return nil, fmt.Errorf("server: searcher must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		deps:    deps,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.Registry),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Logger)
	s.stopRL = stopRL

	protect := func(name string, h http.HandlerFunc) http.Handler {
		return s.instrument(name, s.requireAuth(rl.middleware(h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/search", protect("search", s.handleSearch))
	mux.Handle("POST /api/ask", protect("ask", s.handleAsk))
	mux.Handle("GET /api/stats", protect("stats", s.handleStats))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(cfg.Logger, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// resolveAuthors returns the author scope for a request: explicit author ids
// win, otherwise the user's subscriptions are looked up.
func (s *Server) resolveAuthors(ctx context.Context, req *searchRequest) ([]int64, error) {
	if len(req.AuthorIDs) > 0 {
		return req.AuthorIDs, nil
	}
	if req.UserID > 0 && s.deps.Subscriptions != nil {
		return s.deps.Subscriptions.SubscribedAuthorIDs(ctx, req.UserID)
	}
	return nil, nil
}

// handleSearch handles POST /api/search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	authorIDs, err := s.resolveAuthors(r.Context(), &req)
	if err != nil {
		log.Error("subscription lookup failed", slog.Any("error", err))
		http.Error(w, "could not resolve subscriptions", http.StatusInternalServerError)
		s.metrics.searchRequestsTotal.WithLabelValues(outcomeError).Inc()
		return
	}

	start := time.Now()
	result, err := s.deps.Searcher.Search(r.Context(), req.Query, authorIDs, req.Limit)
	if err != nil {
		log.Error("search failed", slog.Any("error", err))
		http.Error(w, "search failed", http.StatusInternalServerError)
		s.metrics.searchRequestsTotal.WithLabelValues(outcomeError).Inc()
		return
	}
	s.metrics.searchRequestsTotal.WithLabelValues(outcomeOK).Inc()
	s.metrics.searchDurationSeconds.WithLabelValues(outcomeOK).Observe(time.Since(start).Seconds())
	if result.FromCache {
		s.metrics.searchCacheHitsTotal.Inc()
	}

	resp := searchResponse{
		Query:     result.Query,
		Strategy:  string(result.Strategy),
		FromCache: result.FromCache,
		Results:   make([]searchHitResponse, 0, len(result.Hits)),
	}
	for _, h := range result.Hits {
		resp.Results = append(resp.Results, searchHitResponse{
			ID:           h.Hit.ID,
			Text:         h.Hit.Text,
			Score:        h.Composite,
			VectorScore:  h.Vector,
			AuthorID:     h.Hit.AuthorID,
			BookID:       h.Hit.BookID,
			BookTitle:    h.Hit.BookTitle,
			SectionTitle: h.Hit.SectionTitle,
			PageNumber:   h.Hit.PageNumber,
			ChunkType:    h.Hit.ChunkType,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("search encode error", slog.Any("error", err))
	}
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	resp := statsResponse{Namespaces: map[string]uint64{}}
	if s.deps.Index != nil {
		stats, err := s.deps.Index.Stats(r.Context())
		if err != nil {
			log.Error("index stats failed", slog.Any("error", err))
			http.Error(w, "index stats unavailable", http.StatusBadGateway)
			return
		}
		resp.TotalVectors = stats.TotalVectors
		resp.Dimension = stats.Dimension
		resp.Namespaces = stats.Namespaces
	}
	if s.deps.EmbedCache != nil {
		session, persisted, hits, misses := s.deps.EmbedCache.Stats()
		resp.EmbeddingCache = &embedCacheStats{
			SessionEntries:   session,
			PersistedEntries: persisted,
			Hits:             hits,
			Misses:           misses,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("stats encode error", slog.Any("error", err))
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
