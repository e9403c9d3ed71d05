package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bookwise/bookrag-go/internal/engine"
	"github.com/bookwise/bookrag-go/internal/logging"
	"github.com/bookwise/bookrag-go/internal/provider"
	"github.com/bookwise/bookrag-go/internal/store"
	"github.com/bookwise/bookrag-go/internal/textlookup"
)

// NewSearchCmd constructs the `bookrag search` command, which runs one
// retrieval pass and prints the ranked passages.
func NewSearchCmd() *cobra.Command {
	var authorIDs []int64
	var userID int64
	var limit int

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search indexed books for relevant passages",
		Long: `Run a retrieval pass over the vector store and print ranked passages.

The author scope comes from repeated --author flags, or from --user, which
resolves the authors that user follows. At least one of the two is required.

Examples:
  bookrag search --author 3 "what does Shevek discover about simultaneity?"
  bookrag search --user 1 "wall imagery in the opening chapter"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			catalog, err := openCatalog(log)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer func() { _ = catalog.Close() }()

			scope, err := resolveAuthorScope(ctx, catalog, authorIDs, userID)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			svc, cleanup, err := buildService(ctx, catalog, log, false)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer cleanup()

			result, err := svc.Search(ctx, args[0], scope, limit)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			if len(result.Hits) == 0 {
				fmt.Println("No passages found.")
				return nil
			}

			fmt.Printf("Strategy: %s (%.0fms)\n\n", result.Strategy, float64(result.Elapsed.Milliseconds()))
			for i, scored := range result.Hits {
				h := scored.Hit
				fmt.Printf("%d. [%.3f] %s, %s (p. %d)\n", i+1, scored.Composite, h.BookTitle, h.SectionTitle, h.PageNumber)
				fmt.Printf("   %s\n\n", h.Text)
			}
			return nil
		},
	}

	cmd.Flags().Int64SliceVarP(&authorIDs, "author", "a", nil, "Author id to search (repeatable)")
	cmd.Flags().Int64VarP(&userID, "user", "u", 0, "Resolve author scope from this user's subscriptions")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of passages to return (default: server setting)")

	return cmd
}

// resolveAuthorScope returns the explicit author ids when given, otherwise
// the subscriptions of userID. An empty scope is an error at the CLI: unlike
// the HTTP API there is no caller to hand an empty result to.
func resolveAuthorScope(ctx context.Context, catalog *store.SQLiteStore, authorIDs []int64, userID int64) ([]int64, error) {
	if len(authorIDs) > 0 {
		return authorIDs, nil
	}
	if userID <= 0 {
		return nil, fmt.Errorf("at least one --author or a --user is required")
	}
	scope, err := catalog.SubscribedAuthorIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve subscriptions for user %d: %w", userID, err)
	}
	if len(scope) == 0 {
		return nil, fmt.Errorf("user %d follows no authors", userID)
	}
	return scope, nil
}

// buildService wires the retrieval engine for one-shot CLI use. When
// withChat is true a chat model is constructed as well; its absence is then
// an error rather than a degradation. The returned cleanup closes the vector
// store and flushes the embedding cache.
func buildService(ctx context.Context, catalog *store.SQLiteStore, log *slog.Logger, withChat bool) (*engine.Service, func(), error) {
	vectors, err := openVectors(ctx, log)
	if err != nil {
		return nil, nil, err
	}

	emb, embCache, err := buildEmbedder(log)
	if err != nil {
		vectors.Close()
		return nil, nil, err
	}

	deps := engine.Deps{
		Embedder: emb,
		Vectors:  vectors,
		Resolver: textlookup.NewResolver(catalog, log),
		Logger:   log,
	}
	if withChat {
		chatModel, err := provider.NewFromEnv(ctx)
		if err != nil {
			vectors.Close()
			return nil, nil, err
		}
		deps.Chat = chatModel
	}

	svc, err := engine.New(deps, retrievalConfigFromEnv())
	if err != nil {
		vectors.Close()
		return nil, nil, err
	}

	cleanup := func() {
		_ = embCache.Flush()
		vectors.Close()
	}
	return svc, cleanup, nil
}
