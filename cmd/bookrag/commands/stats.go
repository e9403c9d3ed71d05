package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bookwise/bookrag-go/internal/logging"
)

// NewStatsCmd constructs the `bookrag stats` command, which prints index
// and catalog statistics.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print vector index and catalog statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			catalog, err := openCatalog(log)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer func() { _ = catalog.Close() }()

			vectors, err := openVectors(ctx, log)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer vectors.Close()

			stats, err := vectors.Stats(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			chunkCount, err := catalog.ChunkCount(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			fmt.Printf("Vectors:    %d (dimension %d)\n", stats.TotalVectors, stats.Dimension)
			fmt.Printf("Chunk rows: %d\n", chunkCount)
			fmt.Printf("Namespaces: %d\n", len(stats.Namespaces))

			names := make([]string, 0, len(stats.Namespaces))
			for name := range stats.Namespaces {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("  %-20s %d\n", name, stats.Namespaces[name])
			}
			return nil
		},
	}
}
