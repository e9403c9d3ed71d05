package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bookwise/bookrag-go/internal/chunking"
	"github.com/bookwise/bookrag-go/internal/rag"
	"github.com/bookwise/bookrag-go/internal/segment"
	"github.com/bookwise/bookrag-go/internal/store"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fakeVectors struct {
	upserted     []rag.Chunk
	deletedBooks []int64
	failUpsert   bool
}

func (f *fakeVectors) UpsertChunks(ctx context.Context, chunks []rag.Chunk, embeddings [][]float32) ([]string, error) {
	if f.failUpsert {
		return nil, errors.New("index unavailable")
	}
	f.upserted = append(f.upserted, chunks...)
	ids := make([]string, len(chunks))
	for i := range chunks {
		ids[i] = fmt.Sprintf("id-%d", len(f.upserted)-len(chunks)+i)
	}
	return ids, nil
}

func (f *fakeVectors) Search(ctx context.Context, queryVec []float32, authorIDs []int64, limit int, threshold float32) ([]rag.SearchHit, error) {
	return nil, nil
}

func (f *fakeVectors) DeleteBook(ctx context.Context, bookID int64) error {
	f.deletedBooks = append(f.deletedBooks, bookID)
	return nil
}

func (f *fakeVectors) Stats(ctx context.Context) (rag.IndexStats, error) { return rag.IndexStats{}, nil }
func (f *fakeVectors) Close() error                                      { return nil }

type fakeCatalog struct {
	authors       map[int64]string
	books         map[int64]store.Book
	rows          []rag.ChunkRow
	deletedChunks []int64
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{authors: map[int64]string{}, books: map[int64]store.Book{}}
}

func (f *fakeCatalog) UpsertAuthor(ctx context.Context, id int64, name string) error {
	f.authors[id] = name
	return nil
}

func (f *fakeCatalog) UpsertBook(ctx context.Context, b store.Book) error {
	f.books[b.ID] = b
	return nil
}

func (f *fakeCatalog) InsertChunks(ctx context.Context, rows []rag.ChunkRow) error {
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *fakeCatalog) DeleteChunksForBook(ctx context.Context, bookID int64) error {
	f.deletedChunks = append(f.deletedChunks, bookID)
	return nil
}

// bookLines fabricates a small book with one heading and body text.
func bookLines(path string) ([]segment.ExtractedLine, error) {
	lines := []segment.ExtractedLine{
		{Text: "Chapter 1", FontSize: 18, Bold: true, Page: 1},
	}
	for i := 0; i < 6; i++ {
		lines = append(lines, segment.ExtractedLine{
			Text:     strings.Repeat("The keeper watched the horizon for sails. ", 4),
			FontSize: 11,
			Page:     1 + i/3,
		})
	}
	return lines, nil
}

func newTestPipeline(t *testing.T, vectors *fakeVectors, catalog *fakeCatalog) *Pipeline {
	t.Helper()
	engine := chunking.NewEngine(chunking.Config{}, nil)
	p, err := NewPipeline(fakeEmbedder{}, vectors, catalog, engine, bookLines)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func TestIngestBook(t *testing.T) {
	t.Parallel()

	vectors := &fakeVectors{}
	catalog := newFakeCatalog()
	p := newTestPipeline(t, vectors, catalog)

	summary, err := p.IngestBook(context.Background(), Request{
		BookID:     10,
		AuthorID:   1,
		Title:      "The Long Watch",
		AuthorName: "A. Author",
		Path:       "/books/watch.pdf",
	}, nil)
	if err != nil {
		t.Fatalf("IngestBook: %v", err)
	}
	if summary.Sections != 1 || summary.Chunks == 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(catalog.rows) != summary.Chunks {
		t.Fatalf("catalog rows = %d, chunks = %d", len(catalog.rows), summary.Chunks)
	}
	if len(vectors.upserted) != summary.Chunks {
		t.Fatalf("upserted = %d, chunks = %d", len(vectors.upserted), summary.Chunks)
	}
	if catalog.books[10].Title != "The Long Watch" {
		t.Fatalf("book = %+v", catalog.books[10])
	}
	if catalog.authors[1] != "A. Author" {
		t.Fatalf("authors = %+v", catalog.authors)
	}

	// Chunk rows reference the ids the index assigned.
	seen := map[string]bool{}
	for _, r := range catalog.rows {
		if r.ChunkID == "" || seen[r.ChunkID] {
			t.Fatalf("bad or duplicate chunk id %q", r.ChunkID)
		}
		seen[r.ChunkID] = true
		if r.BookID != 10 || r.AuthorID != 1 {
			t.Fatalf("row = %+v", r)
		}
	}
}

func TestIngestBookReprocessClearsOldContent(t *testing.T) {
	t.Parallel()

	vectors := &fakeVectors{}
	catalog := newFakeCatalog()
	p := newTestPipeline(t, vectors, catalog)

	_, err := p.IngestBook(context.Background(), Request{
		BookID: 10, AuthorID: 1, Title: "T", Path: "/books/t.pdf", Reprocess: true,
	}, nil)
	if err != nil {
		t.Fatalf("IngestBook: %v", err)
	}
	if len(vectors.deletedBooks) != 1 || vectors.deletedBooks[0] != 10 {
		t.Fatalf("deletedBooks = %v", vectors.deletedBooks)
	}
	if len(catalog.deletedChunks) != 1 || catalog.deletedChunks[0] != 10 {
		t.Fatalf("deletedChunks = %v", catalog.deletedChunks)
	}
}

func TestIngestBookUpsertFailureWritesNoRows(t *testing.T) {
	t.Parallel()

	vectors := &fakeVectors{failUpsert: true}
	catalog := newFakeCatalog()
	p := newTestPipeline(t, vectors, catalog)

	_, err := p.IngestBook(context.Background(), Request{
		BookID: 10, AuthorID: 1, Title: "T", Path: "/books/t.pdf",
	}, nil)
	if err == nil {
		t.Fatal("want error when the index rejects the upsert")
	}
	if len(catalog.rows) != 0 {
		t.Fatalf("catalog rows written despite failed index upsert: %d", len(catalog.rows))
	}
}

func TestIngestBookTitleInferredFromPath(t *testing.T) {
	t.Parallel()

	vectors := &fakeVectors{}
	catalog := newFakeCatalog()
	p := newTestPipeline(t, vectors, catalog)

	_, err := p.IngestBook(context.Background(), Request{
		BookID: 10, AuthorID: 1, Path: "/books/the_long_watch.pdf",
	}, nil)
	if err != nil {
		t.Fatalf("IngestBook: %v", err)
	}
	if catalog.books[10].Title != "The Long Watch" {
		t.Fatalf("inferred title = %q", catalog.books[10].Title)
	}
}

func TestIngestBookEmptyExtraction(t *testing.T) {
	t.Parallel()

	engine := chunking.NewEngine(chunking.Config{}, nil)
	p, err := NewPipeline(fakeEmbedder{}, &fakeVectors{}, newFakeCatalog(), engine,
		func(path string) ([]segment.ExtractedLine, error) { return nil, nil })
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if _, err := p.IngestBook(context.Background(), Request{BookID: 1, AuthorID: 1, Path: "x.pdf"}, nil); err == nil {
		t.Fatal("want error for a book with no extractable text")
	}
}
