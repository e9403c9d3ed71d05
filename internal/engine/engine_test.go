package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/bookwise/bookrag-go/internal/cache"
	"github.com/bookwise/bookrag-go/internal/rag"
)

type fakeEmbedder struct {
	calls atomic.Int64
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

type fakeVectorStore struct {
	hits      []rag.SearchHit
	err       error
	calls     atomic.Int64
	lastLimit atomic.Int64
}

func (f *fakeVectorStore) UpsertChunks(ctx context.Context, chunks []rag.Chunk, embeddings [][]float32) ([]string, error) {
	return nil, nil
}
func (f *fakeVectorStore) DeleteBook(ctx context.Context, bookID int64) error { return nil }
func (f *fakeVectorStore) Stats(ctx context.Context) (rag.IndexStats, error) {
	return rag.IndexStats{}, nil
}
func (f *fakeVectorStore) Close() error { return nil }

func (f *fakeVectorStore) Search(ctx context.Context, queryVec []float32, authorIDs []int64, limit int, threshold float32) ([]rag.SearchHit, error) {
	f.calls.Add(1)
	f.lastLimit.Store(int64(limit))
	return f.hits, f.err
}

// passthroughResolver attaches fixed text so the reranker has something to
// chew on.
type passthroughResolver struct{}

func (passthroughResolver) Resolve(ctx context.Context, hits []rag.SearchHit) []rag.SearchHit {
	for i := range hits {
		if hits[i].Text == "" {
			hits[i].Text = "the lighthouse keeper kept watch"
		}
	}
	return hits
}

type fakeChat struct {
	reply    string
	failures int
	calls    atomic.Int64
}

func (f *fakeChat) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	n := f.calls.Add(1)
	if int(n) <= f.failures {
		return nil, errors.New("model overloaded")
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChat) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	n := f.calls.Add(1)
	if int(n) <= f.failures {
		return nil, errors.New("model overloaded")
	}
	return schema.StreamReaderFromArray([]*schema.Message{
		schema.AssistantMessage(f.reply, nil),
	}), nil
}

func newTestService(t *testing.T, vectors *fakeVectorStore, chat generator) (*Service, *fakeEmbedder) {
	t.Helper()
	emb := &fakeEmbedder{}
	svc, err := New(Deps{
		Embedder: emb,
		Vectors:  vectors,
		Resolver: passthroughResolver{},
		Results:  cache.NewSearchCache(cache.DefaultSearchTTL),
		Chat:     chat,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Config{TopK: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, emb
}

func someHits() []rag.SearchHit {
	return []rag.SearchHit{
		{ID: "h1", Score: 0.9, BookTitle: "Winds", SectionTitle: "Chapter 1", PageNumber: 3},
		{ID: "h2", Score: 0.7, BookTitle: "Winds", SectionTitle: "Chapter 4", PageNumber: 60},
	}
}

func TestSearchCachesResults(t *testing.T) {
	t.Parallel()

	vectors := &fakeVectorStore{hits: someHits()}
	svc, emb := newTestService(t, vectors, nil)
	ctx := context.Background()

	first, err := svc.Search(ctx, "lighthouse keeper", []int64{1, 2}, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if first.FromCache {
		t.Fatal("first search must not come from cache")
	}

	second, err := svc.Search(ctx, "  Lighthouse KEEPER ", []int64{2, 1}, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !second.FromCache {
		t.Fatal("normalized repeat search must come from cache")
	}
	if emb.calls.Load() != 1 || vectors.calls.Load() != 1 {
		t.Fatalf("cache hit must skip embedder and index: embed=%d search=%d",
			emb.calls.Load(), vectors.calls.Load())
	}
	if len(second.Hits) != len(first.Hits) {
		t.Fatalf("cached hits differ: %d vs %d", len(second.Hits), len(first.Hits))
	}
}

func TestSearchEmptyAuthorsShortCircuits(t *testing.T) {
	t.Parallel()

	vectors := &fakeVectorStore{hits: someHits()}
	svc, emb := newTestService(t, vectors, nil)

	res, err := svc.Search(context.Background(), "anything", nil, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Hits) != 0 {
		t.Fatalf("no authors must yield no hits, got %d", len(res.Hits))
	}
	if emb.calls.Load() != 0 || vectors.calls.Load() != 0 {
		t.Fatal("no authors must not touch the embedder or index")
	}
}

func TestSearchOverfetchesForReranker(t *testing.T) {
	t.Parallel()

	vectors := &fakeVectorStore{hits: someHits()}
	svc, _ := newTestService(t, vectors, nil)

	if _, err := svc.Search(context.Background(), "q", []int64{1}, 0); err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := int64(3 * DefaultOverfetch)
	if vectors.lastLimit.Load() != want {
		t.Fatalf("index limit = %d, want %d", vectors.lastLimit.Load(), want)
	}
}

func TestSearchPerCallLimit(t *testing.T) {
	t.Parallel()

	hits := make([]rag.SearchHit, 5)
	for i := range hits {
		hits[i] = rag.SearchHit{ID: string(rune('a' + i)), Score: float32(9-i) / 10}
	}
	vectors := &fakeVectorStore{hits: hits}
	svc, _ := newTestService(t, vectors, nil)
	ctx := context.Background()

	res, err := svc.Search(ctx, "q", []int64{1}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Hits) != 1 {
		t.Fatalf("hits = %d, want the per-call limit of 1", len(res.Hits))
	}
	if want := int64(1 * DefaultOverfetch); vectors.lastLimit.Load() != want {
		t.Fatalf("index limit = %d, want %d", vectors.lastLimit.Load(), want)
	}

	// A different limit is a different cache entry, not a stale hit.
	res, err = svc.Search(ctx, "q", []int64{1}, 4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.FromCache {
		t.Fatal("different limit must not reuse the cached result")
	}
	if len(res.Hits) != 4 {
		t.Fatalf("hits = %d, want 4", len(res.Hits))
	}
}

func TestSearchEmptyResultNotCached(t *testing.T) {
	t.Parallel()

	vectors := &fakeVectorStore{}
	svc, _ := newTestService(t, vectors, nil)
	ctx := context.Background()

	if _, err := svc.Search(ctx, "q", []int64{1}, 0); err != nil {
		t.Fatalf("Search: %v", err)
	}

	// Content arrives; the next identical search must see it.
	vectors.hits = someHits()
	res, err := svc.Search(ctx, "q", []int64{1}, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.FromCache || len(res.Hits) == 0 {
		t.Fatalf("empty result was cached: fromCache=%v hits=%d", res.FromCache, len(res.Hits))
	}
}

func TestSearchVectorErrorPropagates(t *testing.T) {
	t.Parallel()

	vectors := &fakeVectorStore{err: errors.New("index down")}
	svc, _ := newTestService(t, vectors, nil)

	if _, err := svc.Search(context.Background(), "q", []int64{1}, 0); err == nil {
		t.Fatal("want error when the index fails entirely")
	}
}

func TestAnswerNoResults(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, &fakeVectorStore{}, &fakeChat{reply: "unused"})

	ans, err := svc.Answer(context.Background(), "unknown topic", []int64{1}, 0)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ans.Text != NoContextAnswer {
		t.Fatalf("Text = %q, want the no-context answer", ans.Text)
	}
	if len(ans.Sources) != 0 {
		t.Fatalf("no-context answer must carry zero sources, got %d", len(ans.Sources))
	}
}

func TestAnswerGrounded(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{reply: "The keeper kept watch nightly [1]."}
	svc, _ := newTestService(t, &fakeVectorStore{hits: someHits()}, chat)

	ans, err := svc.Answer(context.Background(), "what did the keeper do", []int64{1}, 0)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ans.Text != chat.reply {
		t.Fatalf("Text = %q", ans.Text)
	}
	if len(ans.Sources) != 2 {
		t.Fatalf("Sources = %d, want 2", len(ans.Sources))
	}
	if ans.Sources[0].Score < ans.Sources[1].Score {
		t.Fatal("sources must be ordered best first")
	}
	if ans.TotalChunksUsed != 2 {
		t.Fatalf("TotalChunksUsed = %d, want 2", ans.TotalChunksUsed)
	}
}

func TestAnswerMaxChunks(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{reply: "short answer [1]."}
	svc, _ := newTestService(t, &fakeVectorStore{hits: someHits()}, chat)

	ans, err := svc.Answer(context.Background(), "what did the keeper do", []int64{1}, 1)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(ans.Sources) != 1 || ans.TotalChunksUsed != 1 {
		t.Fatalf("sources = %d, chunks used = %d; max-chunks cap of 1 not applied",
			len(ans.Sources), ans.TotalChunksUsed)
	}
}

func TestAnswerRetriesThenApologizes(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{reply: "never reached", failures: 10}
	svc, _ := newTestService(t, &fakeVectorStore{hits: someHits()}, chat)

	ans, err := svc.Answer(context.Background(), "what did the keeper do", []int64{1}, 0)
	if err != nil {
		t.Fatalf("Answer must not error on generation failure: %v", err)
	}
	if ans.Text != ApologyAnswer {
		t.Fatalf("Text = %q, want apology", ans.Text)
	}
	if len(ans.Sources) == 0 {
		t.Fatal("apology must keep the retrieved sources")
	}
	if chat.calls.Load() != int64(generateMaxRetries)+1 {
		t.Fatalf("generate calls = %d, want %d", chat.calls.Load(), generateMaxRetries+1)
	}
}

func TestAnswerRecoverAfterTransientFailure(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{reply: "recovered answer", failures: 1}
	svc, _ := newTestService(t, &fakeVectorStore{hits: someHits()}, chat)

	ans, err := svc.Answer(context.Background(), "what did the keeper do", []int64{1}, 0)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ans.Text != "recovered answer" {
		t.Fatalf("Text = %q, want the retried reply", ans.Text)
	}
}

func TestAnswerStream(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{reply: "streamed answer"}
	svc, _ := newTestService(t, &fakeVectorStore{hits: someHits()}, chat)

	sources, stream, err := svc.AnswerStream(context.Background(), "keeper", []int64{1}, 0)
	if err != nil {
		t.Fatalf("AnswerStream: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(sources))
	}
	defer stream.Close()

	var b strings.Builder
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		b.WriteString(msg.Content)
	}
	if b.String() != "streamed answer" {
		t.Fatalf("streamed = %q", b.String())
	}
}

func TestAnswerStreamNoResults(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, &fakeVectorStore{}, &fakeChat{reply: "unused"})

	sources, stream, err := svc.AnswerStream(context.Background(), "nothing", []int64{1}, 0)
	if err != nil {
		t.Fatalf("AnswerStream: %v", err)
	}
	if sources != nil || stream != nil {
		t.Fatal("no results must return nil sources and nil stream")
	}
}
