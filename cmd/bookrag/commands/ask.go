package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bookwise/bookrag-go/internal/engine"
	"github.com/bookwise/bookrag-go/internal/logging"
)

// NewAskCmd constructs the `bookrag ask` command, which answers a question
// from the indexed books and streams the response to stdout.
func NewAskCmd() *cobra.Command {
	var authorIDs []int64
	var userID int64
	var maxChunks int

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about the indexed books",
		Long: `Ask a natural language question and get an answer grounded in passages
retrieved from the indexed books. Sources are listed after the answer.

Examples:
  bookrag ask --author 3 "how does Anarres handle scarcity?"
  bookrag ask --user 1 "compare the two moons across the novels"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			catalog, err := openCatalog(log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = catalog.Close() }()

			scope, err := resolveAuthorScope(ctx, catalog, authorIDs, userID)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			svc, cleanup, err := buildService(ctx, catalog, log, true)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer cleanup()

			sources, stream, err := svc.AnswerStream(ctx, args[0], scope, maxChunks)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			if stream == nil {
				fmt.Println(engine.NoContextAnswer)
				return nil
			}
			defer stream.Close()

			for {
				msg, recvErr := stream.Recv()
				if errors.Is(recvErr, io.EOF) {
					break
				}
				if recvErr != nil {
					fmt.Println()
					return fmt.Errorf("ask: generation interrupted: %w", recvErr)
				}
				fmt.Print(msg.Content)
			}
			fmt.Println()

			if len(sources) > 0 {
				fmt.Println("\nSources:")
				for i, src := range sources {
					fmt.Printf("  [%d] %s, %s (p. %d)\n", i+1, src.BookTitle, src.SectionTitle, src.PageNumber)
				}
			}
			return nil
		},
	}

	cmd.Flags().Int64SliceVarP(&authorIDs, "author", "a", nil, "Author id to search (repeatable)")
	cmd.Flags().Int64VarP(&userID, "user", "u", 0, "Resolve author scope from this user's subscriptions")
	cmd.Flags().IntVarP(&maxChunks, "max-chunks", "n", 0, "Maximum passages used for the answer (default: server setting)")

	return cmd
}
