// Package rag defines the core retrieval types and the interfaces for the
// components of the retrieval pipeline: embedding, vector storage, and the
// relational chunk store. Concrete implementations (OpenAI, Qdrant, SQLite)
// satisfy these interfaces so the orchestration layer never depends on a
// specific backend.
package rag

import (
	"context"
)

// ChunkType classifies how a chunk was produced by the chunking engine.
type ChunkType string

const (
	// ChunkFixed marks a chunk produced by the fixed sentence-window strategy.
	ChunkFixed ChunkType = "fixed"
	// ChunkSemantic marks a chunk produced by the semantic grouping strategy.
	ChunkSemantic ChunkType = "semantic"
)

// ChunkMetadata identifies where a chunk came from. It travels with the
// chunk into the vector index and the relational store.
type ChunkMetadata struct {
	// AuthorID is the author the owning book belongs to. It determines the
	// vector namespace the chunk is stored in.
	AuthorID int64

	// BookID is the owning book.
	BookID int64

	// SectionTitle is the heading of the section the chunk was cut from.
	SectionTitle string

	// ChunkIndex is the zero-based position of the chunk within its section.
	ChunkIndex int

	// PageNumber is the start page of the owning section.
	PageNumber int
}

// Chunk is a bounded-size unit of book text prepared for embedding and
// retrieval. Chunks are immutable once created; reprocessing a book replaces
// its chunks rather than mutating them.
type Chunk struct {
	// Text is the chunk content.
	Text string

	// Type records the chunking strategy that produced this chunk.
	Type ChunkType

	// TokenCount is the deterministic token estimate for Text.
	TokenCount int

	// Meta identifies the chunk's origin.
	Meta ChunkMetadata
}

// SearchHit is one result of a retrieval query. Text may be empty at the
// moment of vector search and is filled in by the text recovery stage.
type SearchHit struct {
	// ID is the opaque, globally unique chunk identifier. It is both the
	// vector record id and the chunk_id column in the relational store.
	ID string

	// Score is the vector similarity score (cosine, 0.0–1.0).
	Score float32

	// Text is the chunk content, recovered from the relational store.
	Text string

	// AuthorID, BookID, and BookTitle identify the source book.
	AuthorID  int64
	BookID    int64
	BookTitle string

	// SectionTitle is the heading of the section this chunk was cut from.
	SectionTitle string

	// ChunkType records the chunking strategy ("fixed" or "semantic").
	ChunkType string

	// TokenCount is the chunk's token estimate.
	TokenCount int

	// PageNumber is the start page of the owning section.
	PageNumber int
}

// IndexStats summarises the state of the vector index.
type IndexStats struct {
	// TotalVectors is the number of stored vectors across all namespaces.
	TotalVectors uint64

	// Dimension is the embedding vector length.
	Dimension uint64

	// Namespaces maps namespace name to its vector count.
	Namespaces map[string]uint64
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore persists chunk embeddings partitioned into one namespace per
// author, and searches those namespaces in parallel.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// UpsertChunks stores the chunks with their pre-computed embeddings.
	// embeddings[i] is the vector for chunks[i]. Chunks are grouped by
	// author and each group is written to that author's namespace.
	// Returns the assigned record ids, parallel to chunks.
	UpsertChunks(ctx context.Context, chunks []Chunk, embeddings [][]float32) ([]string, error)

	// Search queries the namespace of every author id in parallel, merges
	// the hits above threshold, and returns at most limit results ordered
	// by score descending. A failing namespace is logged and skipped, not
	// propagated.
	Search(ctx context.Context, queryVec []float32, authorIDs []int64, limit int, threshold float32) ([]SearchHit, error)

	// DeleteBook removes every vector belonging to the given book,
	// regardless of namespace.
	DeleteBook(ctx context.Context, bookID int64) error

	// Stats reports vector counts per namespace and the index dimension.
	Stats(ctx context.Context) (IndexStats, error)

	// Close releases any resources held by the store.
	Close() error
}

// ChunkRow is a chunk as stored in the relational chunk store, joined with
// its owning book's title. The relational store is the single source of
// truth for chunk text; the vector index is derived and rebuildable.
type ChunkRow struct {
	// ChunkID is the stable chunk identifier, equal to the vector record id.
	ChunkID string

	// Text is the full chunk text.
	Text string

	// SectionTitle, ChunkIndex, ChunkType, TokenCount, and PageNumber
	// mirror the chunk metadata captured at ingestion time.
	SectionTitle string
	ChunkIndex   int
	ChunkType    string
	TokenCount   int
	PageNumber   int

	// BookID and AuthorID identify the owning book and author.
	BookID   int64
	AuthorID int64

	// BookTitle is the owning book's title.
	BookTitle string
}

// ChunkStore is the authoritative relational store for chunk text.
// Implementations must be safe to call from multiple goroutines.
type ChunkStore interface {
	// InsertChunks persists a batch of chunk rows.
	InsertChunks(ctx context.Context, rows []ChunkRow) error

	// FetchByChunkIDs returns the rows for the given chunk ids, keyed by
	// chunk id. Missing ids are simply absent from the result: that is a
	// normal outcome, not an error.
	FetchByChunkIDs(ctx context.Context, ids []string) (map[string]ChunkRow, error)

	// DeleteChunksForBook removes all chunk rows belonging to a book.
	DeleteChunksForBook(ctx context.Context, bookID int64) error
}
