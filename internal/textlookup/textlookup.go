// Package textlookup resolves search hits back to their stored chunk text.
// The vector index only carries metadata, so every hit must be joined against
// the relational store before it can be shown to a reader. Lookup is
// deliberately lossless for the caller: a hit whose text cannot be recovered
// gets a synthetic placeholder instead of dropping out of the result set.
package textlookup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bookwise/bookrag-go/internal/rag"
)

// fetchBatchSize bounds the ids per store round trip.
const fetchBatchSize = 200

// Resolver fills SearchHit.Text (and book metadata) from a chunk store.
type Resolver struct {
	chunks rag.ChunkStore
	log    *slog.Logger
}

// NewResolver builds a Resolver. log may be nil.
func NewResolver(chunks rag.ChunkStore, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{chunks: chunks, log: log}
}

// Resolve attaches stored text and book titles to the hits, in place, and
// returns the same slice. It never returns an error: a store failure or a
// missing row degrades to a synthetic placeholder built from the hit's
// metadata, so downstream ranking always has something to work with.
func (r *Resolver) Resolve(ctx context.Context, hits []rag.SearchHit) []rag.SearchHit {
	if len(hits) == 0 {
		return hits
	}

	rows := make(map[string]rag.ChunkRow, len(hits))
	for start := 0; start < len(hits); start += fetchBatchSize {
		end := start + fetchBatchSize
		if end > len(hits) {
			end = len(hits)
		}
		ids := make([]string, 0, end-start)
		for _, h := range hits[start:end] {
			ids = append(ids, h.ID)
		}
		batch, err := r.chunks.FetchByChunkIDs(ctx, ids)
		if err != nil {
			r.log.Warn("chunk text fetch failed, falling back to placeholders",
				"count", len(ids),
				"error", err)
			continue
		}
		for id, row := range batch {
			rows[id] = row
		}
	}

	missing := 0
	for i := range hits {
		row, ok := rows[hits[i].ID]
		if !ok || row.Text == "" {
			missing++
			hits[i].Text = placeholder(hits[i])
			continue
		}
		hits[i].Text = row.Text
		hits[i].BookTitle = row.BookTitle
		if hits[i].SectionTitle == "" {
			hits[i].SectionTitle = row.SectionTitle
		}
	}
	if missing > 0 {
		r.log.Warn("served placeholder text for unrecoverable chunks",
			"missing", missing,
			"total", len(hits))
	}
	return hits
}

// placeholder builds a human-readable stand-in for a chunk whose text is
// gone. It names the location so the reader can still find the passage.
func placeholder(h rag.SearchHit) string {
	section := h.SectionTitle
	if section == "" {
		section = "an untitled section"
	}
	if h.BookTitle != "" {
		return fmt.Sprintf("[Passage from %q in %q, page %d; full text unavailable]",
			section, h.BookTitle, h.PageNumber)
	}
	return fmt.Sprintf("[Passage from %q, page %d; full text unavailable]",
		section, h.PageNumber)
}
