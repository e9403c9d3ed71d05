package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/bookwise/bookrag-go/internal/rag"
)

// fakeQuerier serves canned hits per namespace with a randomized delay so
// goroutine completion order varies between runs.
type fakeQuerier struct {
	mu      sync.Mutex
	hits    map[string][]rag.SearchHit
	failing map[string]bool
	calls   []string
}

func (f *fakeQuerier) queryNamespace(ctx context.Context, namespace string, queryVec []float32, limit int, threshold float32) ([]rag.SearchHit, error) {
	time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)

	f.mu.Lock()
	f.calls = append(f.calls, namespace)
	f.mu.Unlock()

	if f.failing[namespace] {
		return nil, errors.New("connection refused")
	}
	hits := f.hits[namespace]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func hit(id string, score float32, authorID int64) rag.SearchHit {
	return rag.SearchHit{ID: id, Score: score, AuthorID: authorID}
}

func TestFanOutMergeIsDeterministic(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{hits: map[string][]rag.SearchHit{
		"author_1": {hit("a1", 0.91, 1), hit("a2", 0.74, 1), hit("a3", 0.60, 1)},
		"author_2": {hit("b1", 0.88, 2), hit("b2", 0.74, 2)},
		"author_3": {hit("c1", 0.95, 3)},
	}}

	var first []rag.SearchHit
	for run := 0; run < 10; run++ {
		got, err := fanOut(context.Background(), q, discardLogger(), []float32{0.1}, []int64{1, 2, 3}, 4, 0.5, 2)
		if err != nil {
			t.Fatalf("fanOut: %v", err)
		}
		wantIDs := []string{"c1", "a1", "b1", "a2"}
		if len(got) != len(wantIDs) {
			t.Fatalf("run %d: got %d hits, want %d", run, len(got), len(wantIDs))
		}
		for i, id := range wantIDs {
			if got[i].ID != id {
				t.Fatalf("run %d: hit %d = %q, want %q", run, i, got[i].ID, id)
			}
		}
		if run == 0 {
			first = got
		} else {
			for i := range got {
				if got[i] != first[i] {
					t.Fatalf("run %d: result differs from first run at %d", run, i)
				}
			}
		}
	}
}

func TestFanOutTieBreakByID(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{hits: map[string][]rag.SearchHit{
		"author_1": {hit("zz", 0.80, 1)},
		"author_2": {hit("aa", 0.80, 2)},
	}}

	got, err := fanOut(context.Background(), q, discardLogger(), []float32{0.1}, []int64{1, 2}, 10, 0.0, 4)
	if err != nil {
		t.Fatalf("fanOut: %v", err)
	}
	if len(got) != 2 || got[0].ID != "aa" || got[1].ID != "zz" {
		t.Fatalf("equal scores must order by id: got %+v", got)
	}
}

func TestFanOutSkipsFailedNamespace(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{
		hits: map[string][]rag.SearchHit{
			"author_7": {hit("good1", 0.9, 7), hit("good2", 0.7, 7)},
		},
		failing: map[string]bool{"author_8": true},
	}

	got, err := fanOut(context.Background(), q, discardLogger(), []float32{0.1}, []int64{7, 8}, 10, 0.5, 4)
	if err != nil {
		t.Fatalf("fanOut: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want the healthy namespace's 2 hits, got %d", len(got))
	}
	for _, h := range got {
		if h.AuthorID != 7 {
			t.Fatalf("unexpected hit from failed namespace: %+v", h)
		}
	}
}

func TestFanOutAppliesThreshold(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{hits: map[string][]rag.SearchHit{
		"author_1": {hit("keep", 0.75, 1), hit("drop", 0.10, 1)},
	}}

	got, err := fanOut(context.Background(), q, discardLogger(), []float32{0.1}, []int64{1}, 10, 0.5, 4)
	if err != nil {
		t.Fatalf("fanOut: %v", err)
	}
	if len(got) != 1 || got[0].ID != "keep" {
		t.Fatalf("threshold filter: got %+v", got)
	}
}

func TestFanOutQueriesEveryNamespace(t *testing.T) {
	t.Parallel()

	authors := []int64{1, 2, 3, 4, 5, 6, 7, 8}
	q := &fakeQuerier{hits: map[string][]rag.SearchHit{}}

	if _, err := fanOut(context.Background(), q, discardLogger(), []float32{0.1}, authors, 5, 0.5, 4); err != nil {
		t.Fatalf("fanOut: %v", err)
	}

	seen := make(map[string]bool)
	for _, c := range q.calls {
		seen[c] = true
	}
	for _, id := range authors {
		ns := fmt.Sprintf("author_%d", id)
		if !seen[ns] {
			t.Fatalf("namespace %s was never queried", ns)
		}
	}
}

func TestFanOutEmptyAuthors(t *testing.T) {
	t.Parallel()

	got, err := fanOut(context.Background(), &fakeQuerier{}, discardLogger(), []float32{0.1}, nil, 5, 0.5, 4)
	if err != nil {
		t.Fatalf("fanOut: %v", err)
	}
	if got != nil {
		t.Fatalf("want nil for no authors, got %+v", got)
	}
}
