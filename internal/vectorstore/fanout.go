package vectorstore

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/bookwise/bookrag-go/internal/rag"
)

// namespaceQuerier issues one similarity query against a single namespace.
// Extracted so the merge logic can be tested without a live index.
type namespaceQuerier interface {
	queryNamespace(ctx context.Context, namespace string, queryVec []float32, limit int, threshold float32) ([]rag.SearchHit, error)
}

// fanOut queries every author namespace concurrently, bounded by workers,
// and merges the per-namespace results into one ranking.
//
// A failed namespace is logged and skipped rather than failing the whole
// search: partial results from the healthy namespaces are better than none.
// The merged ranking is deterministic regardless of which goroutine finishes
// first: hits are ordered by score descending, ties broken by record id.
func fanOut(ctx context.Context, q namespaceQuerier, log *slog.Logger, queryVec []float32, authorIDs []int64, limit int, threshold float32, workers int) ([]rag.SearchHit, error) {
	if len(authorIDs) == 0 || limit <= 0 {
		return nil, nil
	}

	perNamespace := make([][]rag.SearchHit, len(authorIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, authorID := range authorIDs {
		g.Go(func() error {
			namespace := Namespace(authorID)
			hits, err := q.queryNamespace(gctx, namespace, queryVec, limit, threshold)
			if err != nil {
				log.Warn("namespace query failed, skipping",
					"namespace", namespace,
					"error", err)
				return nil
			}
			perNamespace[i] = hits
			return nil
		})
	}
	// Goroutines never return errors; Wait only propagates context
	// cancellation.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []rag.SearchHit
	for _, hits := range perNamespace {
		for _, hit := range hits {
			if hit.Score >= threshold {
				merged = append(merged, hit)
			}
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}
