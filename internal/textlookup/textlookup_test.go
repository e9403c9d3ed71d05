package textlookup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/bookwise/bookrag-go/internal/rag"
)

type fakeChunkStore struct {
	mu    sync.Mutex
	rows  map[string]rag.ChunkRow
	fail  bool
	calls [][]string
}

func (f *fakeChunkStore) InsertChunks(ctx context.Context, rows []rag.ChunkRow) error { return nil }

func (f *fakeChunkStore) DeleteChunksForBook(ctx context.Context, bookID int64) error { return nil }

func (f *fakeChunkStore) FetchByChunkIDs(ctx context.Context, ids []string) (map[string]rag.ChunkRow, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ids)
	f.mu.Unlock()
	if f.fail {
		return nil, errors.New("database is locked")
	}
	out := make(map[string]rag.ChunkRow)
	for _, id := range ids {
		if row, ok := f.rows[id]; ok {
			out[id] = row
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveAttachesText(t *testing.T) {
	t.Parallel()

	store := &fakeChunkStore{rows: map[string]rag.ChunkRow{
		"c-1": {ChunkID: "c-1", Text: "The storm broke at dawn.", BookTitle: "Winds", SectionTitle: "Chapter 2"},
	}}
	r := NewResolver(store, testLogger())

	hits := r.Resolve(context.Background(), []rag.SearchHit{{ID: "c-1", Score: 0.9}})
	if hits[0].Text != "The storm broke at dawn." {
		t.Fatalf("Text = %q", hits[0].Text)
	}
	if hits[0].BookTitle != "Winds" || hits[0].SectionTitle != "Chapter 2" {
		t.Fatalf("metadata not attached: %+v", hits[0])
	}
}

func TestResolveMissingRowGetsPlaceholder(t *testing.T) {
	t.Parallel()

	store := &fakeChunkStore{rows: map[string]rag.ChunkRow{}}
	r := NewResolver(store, testLogger())

	hits := r.Resolve(context.Background(), []rag.SearchHit{
		{ID: "gone", Score: 0.8, SectionTitle: "Chapter 9", BookTitle: "Winds", PageNumber: 44},
	})
	if len(hits) != 1 {
		t.Fatalf("hit was dropped: %d", len(hits))
	}
	if !strings.Contains(hits[0].Text, "Chapter 9") || !strings.Contains(hits[0].Text, "Winds") {
		t.Fatalf("placeholder should name the location: %q", hits[0].Text)
	}
	if !strings.Contains(hits[0].Text, "unavailable") {
		t.Fatalf("placeholder should be marked unavailable: %q", hits[0].Text)
	}
}

func TestResolveStoreFailureNeverErrors(t *testing.T) {
	t.Parallel()

	store := &fakeChunkStore{fail: true}
	r := NewResolver(store, testLogger())

	hits := r.Resolve(context.Background(), []rag.SearchHit{
		{ID: "x", Score: 0.7, SectionTitle: "Intro", PageNumber: 1},
		{ID: "y", Score: 0.6, SectionTitle: "Intro", PageNumber: 2},
	})
	if len(hits) != 2 {
		t.Fatalf("hits dropped on store failure: %d", len(hits))
	}
	for _, h := range hits {
		if h.Text == "" {
			t.Fatalf("hit %s has no text after fallback", h.ID)
		}
	}
}

func TestResolveBatchesLargeSets(t *testing.T) {
	t.Parallel()

	store := &fakeChunkStore{rows: map[string]rag.ChunkRow{}}
	r := NewResolver(store, testLogger())

	hits := make([]rag.SearchHit, fetchBatchSize+50)
	for i := range hits {
		hits[i] = rag.SearchHit{ID: string(rune('a' + i%26))}
	}
	r.Resolve(context.Background(), hits)

	if len(store.calls) != 2 {
		t.Fatalf("expected 2 batched fetches, got %d", len(store.calls))
	}
	if len(store.calls[0]) != fetchBatchSize {
		t.Fatalf("first batch size = %d, want %d", len(store.calls[0]), fetchBatchSize)
	}
}
