package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bookwise/bookrag-go/internal/chunking"
	"github.com/bookwise/bookrag-go/internal/ingestion"
	"github.com/bookwise/bookrag-go/internal/logging"
)

// NewIngestCmd constructs the `bookrag ingest` command, which runs one book
// through the indexing pipeline: extract, segment, chunk, embed, upsert.
func NewIngestCmd() *cobra.Command {
	var bookID int64
	var authorID int64
	var title string
	var authorName string
	var reprocess bool

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Index a book into the vector store",
		Long: `Index a PDF into the vector store and the chunk catalog.

The book is segmented by headings, cut into overlapping chunks, embedded
and upserted into the owning author's namespace. Chunk text is stored in
the SQLite catalog so search results can recover full passages.

Title and author name are inferred from the filename when omitted
(the "Author - Title.pdf" convention is recognised).

Examples:
  bookrag ingest --book-id 12 --author-id 3 "Ursula K. Le Guin - The Dispossessed.pdf"
  bookrag ingest --book-id 12 --author-id 3 --reprocess updated-edition.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			path := args[0]
			if bookID <= 0 || authorID <= 0 {
				return fmt.Errorf("ingest: --book-id and --author-id are required")
			}

			if title == "" || authorName == "" {
				meta := ingestion.InferBookMeta(path)
				if title == "" {
					title = meta.Title
				}
				if authorName == "" {
					authorName = meta.AuthorName
				}
			}

			catalog, err := openCatalog(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = catalog.Close() }()

			vectors, err := openVectors(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer vectors.Close()

			emb, embCache, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = embCache.Flush() }()

			chunker := chunking.NewEngine(chunking.Config{
				ChunkSize:      getEnvInt("CHUNK_SIZE", 0),
				Overlap:        getEnvInt("CHUNK_OVERLAP", 0),
				SemanticBudget: getEnvInt("CHUNK_SEMANTIC_BUDGET", 0),
			}, nil)

			pipeline, err := ingestion.NewPipeline(emb, vectors, catalog, chunker, nil)
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			log.Info("starting ingestion",
				slog.String("path", path),
				slog.Int64("book_id", bookID),
				slog.Int64("author_id", authorID),
				slog.String("title", title),
				slog.Bool("reprocess", reprocess),
			)

			summary, err := pipeline.IngestBook(ctx, ingestion.Request{
				BookID:     bookID,
				AuthorID:   authorID,
				Title:      title,
				AuthorName: authorName,
				Path:       path,
				Reprocess:  reprocess,
			}, func(msg string) {
				log.Info(msg)
			})
			if err != nil {
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}

			log.Info("ingestion complete",
				slog.Int("sections", summary.Sections),
				slog.Int("chunks", summary.Chunks),
				slog.Int("semantic_chunks", summary.SemanticChunks),
				slog.Duration("elapsed", summary.Elapsed),
			)
			return nil
		},
	}

	cmd.Flags().Int64Var(&bookID, "book-id", 0, "Catalog id for the book (required)")
	cmd.Flags().Int64Var(&authorID, "author-id", 0, "Owning author id; selects the vector namespace (required)")
	cmd.Flags().StringVarP(&title, "title", "t", "", "Book title (default: inferred from filename)")
	cmd.Flags().StringVarP(&authorName, "author", "a", "", "Author display name (default: inferred from filename)")
	cmd.Flags().BoolVar(&reprocess, "reprocess", false, "Replace any previously indexed content for this book")

	return cmd
}
