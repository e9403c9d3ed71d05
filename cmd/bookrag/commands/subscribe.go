package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bookwise/bookrag-go/internal/logging"
)

// NewSubscribeCmd constructs the `bookrag subscribe` command, which manages
// which authors a user follows. Subscriptions define the search scope for
// --user queries and for API requests that send a user id.
func NewSubscribeCmd() *cobra.Command {
	var userID int64
	var authorIDs []int64
	var list bool

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Follow authors on behalf of a user",
		Long: `Record that a user follows one or more authors.

Subscribing twice is a no-op. Use --list to print the authors a user
currently follows.

Examples:
  bookrag subscribe --user 1 --author 3 --author 7
  bookrag subscribe --user 1 --list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			if userID <= 0 {
				return fmt.Errorf("subscribe: --user is required")
			}

			catalog, err := openCatalog(log)
			if err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			defer func() { _ = catalog.Close() }()

			if list {
				ids, err := catalog.SubscribedAuthorIDs(ctx, userID)
				if err != nil {
					return fmt.Errorf("subscribe: %w", err)
				}
				if len(ids) == 0 {
					fmt.Printf("User %d follows no authors.\n", userID)
					return nil
				}
				fmt.Printf("User %d follows authors: %v\n", userID, ids)
				return nil
			}

			if len(authorIDs) == 0 {
				return fmt.Errorf("subscribe: at least one --author is required")
			}
			for _, authorID := range authorIDs {
				if err := catalog.Subscribe(ctx, userID, authorID); err != nil {
					return fmt.Errorf("subscribe: user %d to author %d: %w", userID, authorID, err)
				}
			}
			fmt.Printf("User %d now follows authors %v.\n", userID, authorIDs)
			return nil
		},
	}

	cmd.Flags().Int64VarP(&userID, "user", "u", 0, "User id (required)")
	cmd.Flags().Int64SliceVarP(&authorIDs, "author", "a", nil, "Author id to follow (repeatable)")
	cmd.Flags().BoolVarP(&list, "list", "l", false, "List the authors the user follows")

	return cmd
}
