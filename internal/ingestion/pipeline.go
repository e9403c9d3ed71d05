// Package ingestion implements the book ingestion pipeline. It extracts
// styled text from a book file, splits it into sections and chunks, embeds
// the chunks, and writes the results to the vector index and the relational
// catalog. The pipeline is invoked by the `bookrag ingest` CLI command.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/bookwise/bookrag-go/internal/chunking"
	"github.com/bookwise/bookrag-go/internal/pdfx"
	"github.com/bookwise/bookrag-go/internal/rag"
	"github.com/bookwise/bookrag-go/internal/segment"
	"github.com/bookwise/bookrag-go/internal/store"
)

// Catalog is the slice of the relational store the pipeline writes to.
type Catalog interface {
	UpsertAuthor(ctx context.Context, id int64, name string) error
	UpsertBook(ctx context.Context, b store.Book) error
	InsertChunks(ctx context.Context, rows []rag.ChunkRow) error
	DeleteChunksForBook(ctx context.Context, bookID int64) error
}

// Extractor turns a book file into styled text lines. pdfx.ExtractLines is
// the production implementation; tests substitute canned lines.
type Extractor func(path string) ([]segment.ExtractedLine, error)

// Request describes one book to ingest.
type Request struct {
	// BookID is the catalog id to store the book under.
	BookID int64

	// AuthorID is the owning author; it selects the vector namespace.
	AuthorID int64

	// Title is the book title. When empty it is inferred from Path.
	Title string

	// AuthorName is the author's display name.
	AuthorName string

	// Path is the book file on disk.
	Path string

	// Reprocess removes the book's existing vectors and chunk rows before
	// indexing, so an updated file fully replaces the old content.
	Reprocess bool
}

// Summary reports what one ingestion produced.
type Summary struct {
	// Sections is the number of sections detected in the book.
	Sections int

	// Chunks is the total number of chunks indexed.
	Chunks int

	// SemanticChunks counts the chunks produced by semantic grouping.
	SemanticChunks int

	// Elapsed is the wall time of the run.
	Elapsed time.Duration
}

// Pipeline orchestrates extract, segment, chunk, embed, upsert for one book
// at a time.
type Pipeline struct {
	embedder rag.Embedder
	vectors  rag.VectorStore
	catalog  Catalog
	engine   *chunking.Engine
	extract  Extractor
}

// NewPipeline constructs a Pipeline. extract may be nil, defaulting to PDF
// extraction.
func NewPipeline(embedder rag.Embedder, vectors rag.VectorStore, catalog Catalog, engine *chunking.Engine, extract Extractor) (*Pipeline, error) {
	if embedder == nil || vectors == nil || catalog == nil || engine == nil {
		return nil, fmt.Errorf("ingestion: embedder, vectors, catalog and engine are required")
	}
	if extract == nil {
		extract = pdfx.ExtractLines
	}
	return &Pipeline{
		embedder: embedder,
		vectors:  vectors,
		catalog:  catalog,
		engine:   engine,
		extract:  extract,
	}, nil
}

// IngestBook runs the full pipeline for one book. Progress is reported via
// the optional callback. The catalog rows are written only after the vector
// upsert succeeds, so a failed run never leaves text without vectors.
func (p *Pipeline) IngestBook(ctx context.Context, req Request, progress func(msg string)) (*Summary, error) {
	if progress == nil {
		progress = func(string) {}
	}
	start := time.Now()

	title := req.Title
	if title == "" {
		title = InferBookMeta(req.Path).Title
	}

	if req.Reprocess {
		progress(fmt.Sprintf("removing existing content for book %d", req.BookID))
		if err := p.vectors.DeleteBook(ctx, req.BookID); err != nil {
			return nil, fmt.Errorf("ingestion: delete old vectors for book %d: %w", req.BookID, err)
		}
		if err := p.catalog.DeleteChunksForBook(ctx, req.BookID); err != nil {
			return nil, fmt.Errorf("ingestion: delete old chunks for book %d: %w", req.BookID, err)
		}
	}

	progress(fmt.Sprintf("extracting %s", req.Path))
	lines, err := p.extract(req.Path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: extract %s: %w", req.Path, err)
	}

	sections := segment.Split(lines)
	if len(sections) == 0 {
		return nil, fmt.Errorf("ingestion: no sections found in %s", req.Path)
	}
	chunks := p.engine.ChunkSections(sections, req.AuthorID, req.BookID)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("ingestion: no chunks produced from %s", req.Path)
	}
	progress(fmt.Sprintf("split into %d sections, %d chunks", len(sections), len(chunks)))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ingestion: embed chunks: %w", err)
	}

	ids, err := p.vectors.UpsertChunks(ctx, chunks, embeddings)
	if err != nil {
		return nil, fmt.Errorf("ingestion: index chunks: %w", err)
	}
	progress(fmt.Sprintf("indexed %d vectors", len(ids)))

	if err := p.catalog.UpsertAuthor(ctx, req.AuthorID, req.AuthorName); err != nil {
		return nil, err
	}
	if err := p.catalog.UpsertBook(ctx, store.Book{
		ID:         req.BookID,
		AuthorID:   req.AuthorID,
		Title:      title,
		SourcePath: req.Path,
	}); err != nil {
		return nil, err
	}

	rows := make([]rag.ChunkRow, len(chunks))
	semantic := 0
	for i, c := range chunks {
		if c.Type == rag.ChunkSemantic {
			semantic++
		}
		rows[i] = rag.ChunkRow{
			ChunkID:      ids[i],
			BookID:       req.BookID,
			AuthorID:     req.AuthorID,
			SectionTitle: c.Meta.SectionTitle,
			ChunkIndex:   c.Meta.ChunkIndex,
			ChunkType:    string(c.Type),
			TokenCount:   c.TokenCount,
			PageNumber:   c.Meta.PageNumber,
			Text:         c.Text,
		}
	}
	if err := p.catalog.InsertChunks(ctx, rows); err != nil {
		return nil, err
	}

	summary := &Summary{
		Sections:       len(sections),
		Chunks:         len(chunks),
		SemanticChunks: semantic,
		Elapsed:        time.Since(start),
	}
	progress(fmt.Sprintf("ingested %q: %d chunks (%d semantic) in %s",
		title, summary.Chunks, summary.SemanticChunks, summary.Elapsed.Round(time.Millisecond)))
	return summary, nil
}
