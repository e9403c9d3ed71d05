// Package vectorstore implements rag.VectorStore on Qdrant. Chunk vectors
// are partitioned into one collection per author ("author_<id>"), which
// bounds every similarity search to the authors the caller actually asked
// about and makes the per-author queries embarrassingly parallel.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/bookwise/bookrag-go/internal/rag"
)

// namespacePrefix is prepended to the author id to form the collection name.
const namespacePrefix = "author_"

// upsertBatchSize is the number of points written per upsert RPC.
const upsertBatchSize = 100

// Config holds connection parameters for a Qdrant-backed store.
type Config struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// APIKey is the optional API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// VectorSize is the embedding dimensionality for created namespaces.
	VectorSize uint64

	// Workers bounds the concurrent namespace queries per search.
	// Default 4: enough fan-out for typical subscription sizes without
	// an unbounded outbound connection count.
	Workers int

	// Logger receives partial-failure and maintenance logs. Defaults to
	// slog.Default.
	Logger *slog.Logger
}

// Store implements rag.VectorStore backed by a Qdrant instance.
// Safe for concurrent use.
type Store struct {
	client *qdrant.Client
	cfg    *Config
	log    *slog.Logger

	// mu guards ensured, the set of namespaces known to exist. Checking
	// existence once per process avoids one RPC per upsert batch.
	mu      sync.Mutex
	ensured map[string]bool
}

// New creates a Store and verifies the Qdrant connection so that an
// unreachable index is a startup failure, not a per-request one.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create client: %w", err)
	}
	if _, err := client.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("vectorstore: qdrant unreachable at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return &Store{
		client:  client,
		cfg:     cfg,
		log:     cfg.Logger,
		ensured: make(map[string]bool),
	}, nil
}

// Namespace returns the collection name for an author id. The assignment is
// derived, never stored, and never changes for a given record.
func Namespace(authorID int64) string {
	return fmt.Sprintf("%s%d", namespacePrefix, authorID)
}

// ensureNamespace creates the author's collection if it does not exist.
func (s *Store) ensureNamespace(ctx context.Context, namespace string) error {
	s.mu.Lock()
	if s.ensured[namespace] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	exists, err := s.client.CollectionExists(ctx, namespace)
	if err != nil {
		return fmt.Errorf("vectorstore: check namespace %q: %w", namespace, err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: namespace,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.cfg.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("vectorstore: create namespace %q: %w", namespace, err)
		}
	}

	s.mu.Lock()
	s.ensured[namespace] = true
	s.mu.Unlock()
	return nil
}

// UpsertChunks groups chunks by author, assigns each a fresh UUID record id,
// and writes each author group to its namespace in bounded sub-batches.
// The record's payload carries chunk_id equal to the record id itself so the
// relational store can be correlated later. Returns the ids parallel to
// chunks.
func (s *Store) UpsertChunks(ctx context.Context, chunks []rag.Chunk, embeddings [][]float32) ([]string, error) {
	if len(chunks) != len(embeddings) {
		return nil, fmt.Errorf("vectorstore: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}

	ids := make([]string, len(chunks))
	byAuthor := make(map[int64][]*qdrant.PointStruct)

	for i, chunk := range chunks {
		id := uuid.NewString()
		ids[i] = id

		payload := map[string]any{
			"chunk_id":      id,
			"author_id":     chunk.Meta.AuthorID,
			"book_id":       chunk.Meta.BookID,
			"section_title": truncateTitle(chunk.Meta.SectionTitle),
			"chunk_index":   int64(chunk.Meta.ChunkIndex),
			"chunk_type":    string(chunk.Type),
			"token_count":   int64(chunk.TokenCount),
			"page_number":   int64(chunk.Meta.PageNumber),
		}

		byAuthor[chunk.Meta.AuthorID] = append(byAuthor[chunk.Meta.AuthorID], &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	for authorID, points := range byAuthor {
		namespace := Namespace(authorID)
		if err := s.ensureNamespace(ctx, namespace); err != nil {
			return nil, err
		}
		for start := 0; start < len(points); start += upsertBatchSize {
			end := start + upsertBatchSize
			if end > len(points) {
				end = len(points)
			}
			_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: namespace,
				Points:         points[start:end],
			})
			if err != nil {
				return nil, fmt.Errorf("vectorstore: upsert into %q: %w", namespace, err)
			}
		}
	}

	return ids, nil
}

// Search fans one query out to every author namespace in parallel and merges
// the results; see fanOut for the merge and partial-failure semantics.
func (s *Store) Search(ctx context.Context, queryVec []float32, authorIDs []int64, limit int, threshold float32) ([]rag.SearchHit, error) {
	return fanOut(ctx, s, s.log, queryVec, authorIDs, limit, threshold, s.cfg.Workers)
}

// queryNamespace issues one similarity query against a single namespace.
// A namespace that does not exist yet returns no hits: an author with no
// indexed content is an empty result, not an error.
func (s *Store) queryNamespace(ctx context.Context, namespace string, queryVec []float32, limit int, threshold float32) ([]rag.SearchHit, error) {
	exists, err := s.client.CollectionExists(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("check namespace %q: %w", namespace, err)
	}
	if !exists {
		return nil, nil
	}

	capped := uint64(limit)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: namespace,
		Query:          qdrant.NewQuery(queryVec...),
		Limit:          &capped,
		ScoreThreshold: &threshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query namespace %q: %w", namespace, err)
	}

	hits := make([]rag.SearchHit, 0, len(points))
	for _, p := range points {
		hits = append(hits, hitFromPoint(p))
	}
	return hits, nil
}

// hitFromPoint converts a scored Qdrant point into a SearchHit. Text is left
// empty: the relational store is the source of truth for chunk text.
func hitFromPoint(p *qdrant.ScoredPoint) rag.SearchHit {
	hit := rag.SearchHit{
		ID:    p.Id.GetUuid(),
		Score: p.Score,
	}
	payload := p.Payload
	if payload == nil {
		return hit
	}
	if v, ok := payload["chunk_id"]; ok && v.GetStringValue() != "" {
		hit.ID = v.GetStringValue()
	}
	if v, ok := payload["author_id"]; ok {
		hit.AuthorID = v.GetIntegerValue()
	}
	if v, ok := payload["book_id"]; ok {
		hit.BookID = v.GetIntegerValue()
	}
	if v, ok := payload["section_title"]; ok {
		hit.SectionTitle = v.GetStringValue()
	}
	if v, ok := payload["chunk_type"]; ok {
		hit.ChunkType = v.GetStringValue()
	}
	if v, ok := payload["token_count"]; ok {
		hit.TokenCount = int(v.GetIntegerValue())
	}
	if v, ok := payload["page_number"]; ok {
		hit.PageNumber = int(v.GetIntegerValue())
	}
	return hit
}

// DeleteBook removes the book's vectors from every author namespace using a
// metadata filter. Reprocessing a book deletes and recreates its records -
// record ids are never reused or mutated.
func (s *Store) DeleteBook(ctx context.Context, bookID int64) error {
	namespaces, err := s.listNamespaces(ctx)
	if err != nil {
		return err
	}

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatchInt("book_id", bookID),
		},
	}
	for _, namespace := range namespaces {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: namespace,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
			},
		})
		if err != nil {
			return fmt.Errorf("vectorstore: delete book %d from %q: %w", bookID, namespace, err)
		}
	}
	return nil
}

// Stats reports the vector count per namespace and the configured dimension.
func (s *Store) Stats(ctx context.Context) (rag.IndexStats, error) {
	namespaces, err := s.listNamespaces(ctx)
	if err != nil {
		return rag.IndexStats{}, err
	}

	stats := rag.IndexStats{
		Dimension:  s.cfg.VectorSize,
		Namespaces: make(map[string]uint64, len(namespaces)),
	}
	exact := true
	for _, namespace := range namespaces {
		count, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: namespace,
			Exact:          &exact,
		})
		if err != nil {
			return rag.IndexStats{}, fmt.Errorf("vectorstore: count %q: %w", namespace, err)
		}
		stats.Namespaces[namespace] = count
		stats.TotalVectors += count
	}
	return stats, nil
}

// listNamespaces returns every author collection currently in the index.
func (s *Store) listNamespaces(ctx context.Context) ([]string, error) {
	all, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: list collections: %w", err)
	}
	var namespaces []string
	for _, name := range all {
		if strings.HasPrefix(name, namespacePrefix) {
			namespaces = append(namespaces, name)
		}
	}
	return namespaces, nil
}

// Ping reports whether the Qdrant instance is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("vectorstore: health check: %w", err)
	}
	return nil
}

// Close closes the underlying gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// maxTitleLen bounds section titles stored in the payload; the full title
// lives in the relational store.
const maxTitleLen = 100

func truncateTitle(title string) string {
	if len(title) <= maxTitleLen {
		return title
	}
	return title[:maxTitleLen]
}
