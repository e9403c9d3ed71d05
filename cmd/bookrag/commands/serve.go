package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/bookwise/bookrag-go/internal/cache"
	"github.com/bookwise/bookrag-go/internal/engine"
	"github.com/bookwise/bookrag-go/internal/logging"
	"github.com/bookwise/bookrag-go/internal/provider"
	"github.com/bookwise/bookrag-go/internal/server"
	"github.com/bookwise/bookrag-go/internal/textlookup"
	"github.com/bookwise/bookrag-go/internal/tracing"
)

// NewServeCmd constructs the `bookrag serve` command, which starts the HTTP
// server exposing search, ask and stats endpoints.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bookrag HTTP server",
		Long: `Start the bookrag HTTP server on localhost.

The server exposes POST /api/search, POST /api/ask (SSE), GET /api/stats,
plus health, readiness and Prometheus metrics endpoints.

Examples:
  bookrag serve
  bookrag serve --port 9090
  MODEL_PROVIDER=azure bookrag serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Langfuse tracing is opt-in, a no-op when keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			catalog, err := openCatalog(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = catalog.Close() }()

			vectors, err := openVectors(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer vectors.Close()

			emb, embCache, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = embCache.Flush() }()

			// A missing chat model degrades /api/ask to 501; search still
			// works, so the server starts anyway.
			deps := engine.Deps{
				Embedder: emb,
				Vectors:  vectors,
				Resolver: textlookup.NewResolver(catalog, log),
				Results:  cache.NewSearchCache(searchCacheTTL()),
				Logger:   log,
			}
			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				log.Warn("chat model unavailable, /api/ask disabled", slog.Any("error", err))
			} else {
				deps.Chat = chatModel
				log.Info("chat model initialised", slog.String("provider", getEnvOrDefault("MODEL_PROVIDER", "ollama")))
			}

			svc, err := engine.New(deps, retrievalConfigFromEnv())
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			serverDeps := server.Deps{
				Searcher:      svc,
				Subscriptions: catalog,
				Index:         vectors,
				EmbedCache:    embCache,
			}
			if chatModel != nil {
				serverDeps.Answerer = svc
			}

			srv, err := server.New(serverDeps, &server.Config{
				Host:   host,
				Port:   port,
				Logger: log,
				Pingers: []server.Pinger{
					server.NewDepPinger("qdrant", vectors),
					server.NewDepPinger("catalog", catalog),
				},
				RateLimit: float64(getEnvInt("RATE_LIMIT", 0)),
				RateBurst: getEnvInt("RATE_BURST", 0),
				APIKey:    os.Getenv("BOOKRAG_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
