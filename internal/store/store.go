// Package store provides the SQLite-backed relational store for the book
// catalog and chunk texts. The vector index holds only embeddings and light
// metadata; the full chunk text lives here and is joined back onto search
// hits by chunk id.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/bookwise/bookrag-go/internal/rag"
)

// Book is one catalog entry. A book belongs to exactly one author.
type Book struct {
	// ID is the catalog primary key.
	ID int64
	// AuthorID is the owning author.
	AuthorID int64
	// Title is the book title as shown to readers.
	Title string
	// SourcePath is the path of the file the book was ingested from.
	SourcePath string
	// IngestedAt is when the book was last (re)processed.
	IngestedAt time.Time
}

// SQLiteStore implements rag.ChunkStore plus the catalog operations the
// ingestion pipeline and CLI need. Safe for concurrent use.
type SQLiteStore struct {
	db *sql.DB
}

var _ rag.ChunkStore = (*SQLiteStore)(nil)

// DefaultDBPath resolves to ~/.bookrag/catalog.db, creating the directory if
// needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".bookrag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "catalog.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS authors (
    id     INTEGER PRIMARY KEY,
    name   TEXT    NOT NULL
);
CREATE TABLE IF NOT EXISTS books (
    id           INTEGER PRIMARY KEY,
    author_id    INTEGER NOT NULL REFERENCES authors(id),
    title        TEXT    NOT NULL,
    source_path  TEXT    NOT NULL DEFAULT '',
    ingested_at  INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE TABLE IF NOT EXISTS subscriptions (
    user_id    INTEGER NOT NULL,
    author_id  INTEGER NOT NULL REFERENCES authors(id),
    PRIMARY KEY (user_id, author_id)
);
CREATE TABLE IF NOT EXISTS chunks (
    chunk_id       TEXT    PRIMARY KEY,
    book_id        INTEGER NOT NULL REFERENCES books(id),
    author_id      INTEGER NOT NULL,
    section_title  TEXT    NOT NULL DEFAULT '',
    chunk_index    INTEGER NOT NULL,
    chunk_type     TEXT    NOT NULL CHECK(chunk_type IN ('fixed','semantic')),
    token_count    INTEGER NOT NULL,
    page_number    INTEGER NOT NULL,
    text           TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_book ON chunks (book_id);
CREATE INDEX IF NOT EXISTS idx_books_author ON books (author_id);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// UpsertAuthor inserts or renames an author.
func (s *SQLiteStore) UpsertAuthor(ctx context.Context, id int64, name string) error {
	const q = `INSERT INTO authors (id, name) VALUES (?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name`
	if _, err := s.db.ExecContext(ctx, q, id, name); err != nil {
		return fmt.Errorf("store: upsert author %d: %w", id, err)
	}
	return nil
}

// UpsertBook inserts or updates a catalog entry and stamps its ingestion time.
func (s *SQLiteStore) UpsertBook(ctx context.Context, b Book) error {
	const q = `INSERT INTO books (id, author_id, title, source_path, ingested_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET author_id = excluded.author_id, title = excluded.title,
    source_path = excluded.source_path, ingested_at = excluded.ingested_at`
	if _, err := s.db.ExecContext(ctx, q, b.ID, b.AuthorID, b.Title, b.SourcePath, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: upsert book %d: %w", b.ID, err)
	}
	return nil
}

// GetBook returns the catalog entry for a book id.
func (s *SQLiteStore) GetBook(ctx context.Context, id int64) (Book, error) {
	const q = `SELECT id, author_id, title, source_path, ingested_at FROM books WHERE id = ?`
	var b Book
	var ts int64
	err := s.db.QueryRowContext(ctx, q, id).Scan(&b.ID, &b.AuthorID, &b.Title, &b.SourcePath, &ts)
	if err == sql.ErrNoRows {
		return Book{}, fmt.Errorf("store: book %d not found", id)
	}
	if err != nil {
		return Book{}, fmt.Errorf("store: get book %d: %w", id, err)
	}
	b.IngestedAt = time.Unix(ts, 0)
	return b, nil
}

// Subscribe records that a user follows an author. Idempotent.
func (s *SQLiteStore) Subscribe(ctx context.Context, userID, authorID int64) error {
	const q = `INSERT OR IGNORE INTO subscriptions (user_id, author_id) VALUES (?, ?)`
	if _, err := s.db.ExecContext(ctx, q, userID, authorID); err != nil {
		return fmt.Errorf("store: subscribe: %w", err)
	}
	return nil
}

// SubscribedAuthorIDs returns the author ids a user follows, ascending.
func (s *SQLiteStore) SubscribedAuthorIDs(ctx context.Context, userID int64) ([]int64, error) {
	const q = `SELECT author_id FROM subscriptions WHERE user_id = ? ORDER BY author_id`
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("store: subscriptions: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: subscriptions scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: subscriptions rows: %w", err)
	}
	return ids, nil
}

// InsertChunks persists chunk rows in one transaction. The chunk ids come
// from the vector index upsert, so a partially indexed book never leaves
// orphaned text behind.
func (s *SQLiteStore) InsertChunks(ctx context.Context, rows []rag.ChunkRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: insert chunks begin: %w", err)
	}
	defer tx.Rollback()

	const q = `INSERT INTO chunks
    (chunk_id, book_id, author_id, section_title, chunk_index, chunk_type, token_count, page_number, text)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("store: insert chunks prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.ExecContext(ctx, r.ChunkID, r.BookID, r.AuthorID, r.SectionTitle,
			r.ChunkIndex, r.ChunkType, r.TokenCount, r.PageNumber, r.Text)
		if err != nil {
			return fmt.Errorf("store: insert chunk %s: %w", r.ChunkID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: insert chunks commit: %w", err)
	}
	return nil
}

// FetchByChunkIDs returns the stored rows for the given chunk ids, keyed by
// chunk id. Ids with no row are simply absent from the map.
func (s *SQLiteStore) FetchByChunkIDs(ctx context.Context, ids []string) (map[string]rag.ChunkRow, error) {
	out := make(map[string]rag.ChunkRow, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	q := `SELECT c.chunk_id, c.text, c.section_title, c.chunk_index, c.chunk_type,
       c.token_count, c.page_number, c.book_id, c.author_id, b.title
FROM chunks c JOIN books b ON b.id = c.book_id
WHERE c.chunk_id IN (` + placeholders + `)`

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: fetch chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r rag.ChunkRow
		if err := rows.Scan(&r.ChunkID, &r.Text, &r.SectionTitle, &r.ChunkIndex, &r.ChunkType,
			&r.TokenCount, &r.PageNumber, &r.BookID, &r.AuthorID, &r.BookTitle); err != nil {
			return nil, fmt.Errorf("store: fetch chunks scan: %w", err)
		}
		out[r.ChunkID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: fetch chunks rows: %w", err)
	}
	return out, nil
}

// DeleteChunksForBook removes every chunk row belonging to a book. Called
// before a reprocess so stale text can never be served for new vectors.
func (s *SQLiteStore) DeleteChunksForBook(ctx context.Context, bookID int64) error {
	const q = `DELETE FROM chunks WHERE book_id = ?`
	if _, err := s.db.ExecContext(ctx, q, bookID); err != nil {
		return fmt.Errorf("store: delete chunks for book %d: %w", bookID, err)
	}
	return nil
}

// ChunkCount returns the number of stored chunk rows.
func (s *SQLiteStore) ChunkCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: chunk count: %w", err)
	}
	return n, nil
}

// Ping verifies the database file is reachable and writable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
