package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bookwise/bookrag-go/internal/rag"
)

func Test_EmbeddingCache_PutGet(t *testing.T) {
	t.Parallel()
	c, err := NewEmbeddingCache(t.TempDir(), 0, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := c.Get("hello world"); ok {
		t.Fatal("unexpected hit on empty cache")
	}

	vec := []float32{0.1, 0.2, 0.3}
	c.Put("hello world", vec)

	got, ok := c.Get("hello world")
	if !ok {
		t.Fatal("expected hit after Put")
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Fatalf("vector mismatch at %d: %v vs %v", i, got[i], vec[i])
		}
	}
}

// Text that differs only in case and surrounding whitespace must share a
// cache entry.
func Test_EmbeddingCache_Normalization(t *testing.T) {
	t.Parallel()
	c, err := NewEmbeddingCache(t.TempDir(), 0, nil)
	if err != nil {
		t.Fatal(err)
	}

	c.Put("  Hello World  ", []float32{1})
	if _, ok := c.Get("hello world"); !ok {
		t.Error("normalized variants should share an entry")
	}
}

func Test_EmbeddingCache_PersistAcrossRestart(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	first, err := NewEmbeddingCache(dir, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	first.Put("durable text", []float32{4, 5})
	if err := first.Flush(); err != nil {
		t.Fatal(err)
	}

	second, err := NewEmbeddingCache(dir, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := second.Get("durable text")
	if !ok {
		t.Fatal("expected persisted entry after reopen")
	}
	if len(got) != 2 || got[0] != 4 || got[1] != 5 {
		t.Errorf("persisted vector mismatch: %v", got)
	}
}

func Test_EmbeddingCache_PruneOnLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	// Write a cache file with one fresh and one stale entry by hand.
	stale := map[string]embeddingEntry{
		keyFor("fresh"): {Vector: []float32{1}, StoredAt: time.Now().Unix()},
		keyFor("stale"): {Vector: []float32{2}, StoredAt: time.Now().Add(-48 * time.Hour).Unix()},
	}
	data, err := json.Marshal(stale)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "embeddings.json"), data, 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := NewEmbeddingCache(dir, 24*time.Hour, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("fresh entry should survive load")
	}
	if _, ok := c.Get("stale"); ok {
		t.Error("stale entry should be pruned on load")
	}
}

func Test_EmbeddingCache_CorruptFileRecovered(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "embeddings.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := NewEmbeddingCache(dir, 0, nil)
	if err != nil {
		t.Fatalf("corrupt cache file should not be fatal: %v", err)
	}
	session, persisted, _, _ := c.Stats()
	if session != 0 || persisted != 0 {
		t.Errorf("expected empty cache, got session=%d persisted=%d", session, persisted)
	}
}

func Test_SearchKey_AuthorOrderIrrelevant(t *testing.T) {
	t.Parallel()
	a := SearchKey("Who is X", []int64{7, 8, 9}, 5)
	b := SearchKey("who is x  ", []int64{9, 7, 8}, 5)
	if a != b {
		t.Error("keys should match for the same author set and normalized query")
	}
	c := SearchKey("who is x", []int64{7, 8}, 5)
	if a == c {
		t.Error("different author sets must not collide")
	}
	d := SearchKey("who is x", []int64{7, 8, 9}, 10)
	if a == d {
		t.Error("different limits must not collide")
	}
}

func Test_SearchCache_TTLExpiry(t *testing.T) {
	t.Parallel()
	c := NewSearchCache(time.Hour)

	current := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return current }

	key := SearchKey("query", []int64{1}, 5)
	hits := []rag.SearchHit{{ID: "c1", Score: 0.9}}
	c.Put(key, hits)

	raw, ok := c.Get(key)
	if !ok {
		t.Fatal("expected hit within TTL")
	}
	if got := raw.([]rag.SearchHit); len(got) != 1 || got[0].ID != "c1" {
		t.Fatalf("cached value = %v", got)
	}

	current = current.Add(61 * time.Minute)
	if _, ok := c.Get(key); ok {
		t.Error("expected miss after TTL expiry")
	}
	if c.Len() != 0 {
		t.Error("expired entry should be dropped on read")
	}
}
