package embedder

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/bookwise/bookrag-go/internal/cache"
)

// countingEmbedder is a fake remote provider that records every batch it is
// asked to embed and returns a deterministic vector per text.
type countingEmbedder struct {
	mu      sync.Mutex
	calls   int
	batches [][]string
}

func (f *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.batches = append(f.batches, append([]string(nil), texts...))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), float32(i)}
	}
	return out, nil
}

func newTestCached(t *testing.T, remote *countingEmbedder, opts ...CachedOption) *Cached {
	t.Helper()
	ec, err := cache.NewEmbeddingCache(t.TempDir(), 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewCached(remote, ec, nil, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// Embedding the same normalized text twice must serve the second call
// entirely from cache: identical vectors, zero additional remote calls.
func Test_Cached_Idempotent(t *testing.T) {
	t.Parallel()
	remote := &countingEmbedder{}
	c := newTestCached(t, remote)

	first, err := c.Embed(context.Background(), []string{"The Meaning Of Life"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Embed(context.Background(), []string{"  the meaning of life "})
	if err != nil {
		t.Fatal(err)
	}

	if remote.calls != 1 {
		t.Errorf("remote calls = %d, want 1", remote.calls)
	}
	if len(first[0]) != len(second[0]) {
		t.Fatalf("vector length mismatch")
	}
	for i := range first[0] {
		if first[0][i] != second[0][i] {
			t.Errorf("vectors differ at %d: %v vs %v", i, first[0][i], second[0][i])
		}
	}
}

// Duplicate texts within one request must produce one remote embedding,
// fanned out to every requesting position.
func Test_Cached_DeduplicatesWithinBatch(t *testing.T) {
	t.Parallel()
	remote := &countingEmbedder{}
	c := newTestCached(t, remote)

	got, err := c.Embed(context.Background(), []string{"alpha", "ALPHA", "beta", "alpha"})
	if err != nil {
		t.Fatal(err)
	}
	if remote.calls != 1 {
		t.Fatalf("remote calls = %d, want 1", remote.calls)
	}
	if len(remote.batches[0]) != 2 {
		t.Errorf("distinct texts sent = %d, want 2", len(remote.batches[0]))
	}
	for i, vec := range got {
		if vec == nil {
			t.Errorf("position %d missing embedding", i)
		}
	}
}

func Test_Cached_BatchSizeLimit(t *testing.T) {
	t.Parallel()
	remote := &countingEmbedder{}
	c := newTestCached(t, remote, WithMaxBatch(3))

	texts := []string{"one", "two", "three", "four", "five", "six", "seven"}
	if _, err := c.Embed(context.Background(), texts); err != nil {
		t.Fatal(err)
	}
	if remote.calls != 3 {
		t.Errorf("remote calls = %d, want 3 (7 inputs / batch size 3)", remote.calls)
	}
	for i, b := range remote.batches {
		if len(b) > 3 {
			t.Errorf("batch %d has %d inputs, exceeds limit", i, len(b))
		}
	}
}

func Test_Cached_TruncatesLongInput(t *testing.T) {
	t.Parallel()
	remote := &countingEmbedder{}
	c := newTestCached(t, remote, WithMaxInputChars(50))

	long := strings.Repeat("abcdefghij", 20)
	if _, err := c.Embed(context.Background(), []string{long}); err != nil {
		t.Fatal(err)
	}
	if sent := remote.batches[0][0]; len(sent) != 50 {
		t.Errorf("sent input length = %d, want 50", len(sent))
	}
}

// shortReplyEmbedder is a fake remote provider that returns fewer vectors
// than inputs, as a misbehaving backend might.
type shortReplyEmbedder struct{}

func (shortReplyEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for range texts[:len(texts)-1] {
		out = append(out, []float32{1})
	}
	return out, nil
}

func Test_Cached_RejectsShortRemoteReply(t *testing.T) {
	t.Parallel()
	ec, err := cache.NewEmbeddingCache(t.TempDir(), 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewCached(shortReplyEmbedder{}, ec, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.Embed(context.Background(), []string{"alpha", "beta"})
	if err == nil {
		t.Fatal("expected error for short remote reply")
	}
	if !strings.Contains(err.Error(), "1 vectors for 2 inputs") {
		t.Errorf("error = %v, want vector count mismatch", err)
	}
}

func Test_Cached_EmptyInputPlaceholder(t *testing.T) {
	t.Parallel()
	remote := &countingEmbedder{}
	c := newTestCached(t, remote)

	if _, err := c.Embed(context.Background(), []string{"   "}); err != nil {
		t.Fatal(err)
	}
	if sent := remote.batches[0][0]; sent != emptyInputPlaceholder {
		t.Errorf("blank input sent as %q, want placeholder", sent)
	}
}

func Test_CosineSimilarity(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero norm", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tc := range cases {
		got := CosineSimilarity(tc.a, tc.b)
		if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("%s: CosineSimilarity = %v, want %v", tc.name, got, tc.want)
		}
	}
}
