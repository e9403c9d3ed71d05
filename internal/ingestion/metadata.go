package ingestion

import (
	"path/filepath"
	"strings"
)

// InferredMeta holds metadata inferred from a book file's name. CLI flags
// take precedence over inferred values; this is the best-effort fallback
// when the user does not specify explicit metadata.
type InferredMeta struct {
	// Title is the book title derived from the filename.
	Title string
	// AuthorName is the author's name when the filename encodes one.
	AuthorName string
	// Format is the lowercase file extension without the dot.
	Format string
}

// InferBookMeta inspects a book file path and returns best-effort metadata.
//
// Supported filename patterns:
//
//	Author Name - Book Title.pdf   (author and title)
//	book_title.pdf                 (title only, separators normalized)
func InferBookMeta(path string) InferredMeta {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	m := InferredMeta{
		Format: strings.TrimPrefix(strings.ToLower(ext), "."),
	}

	if author, title, ok := strings.Cut(name, " - "); ok {
		m.AuthorName = strings.TrimSpace(author)
		m.Title = cleanTitle(title)
		return m
	}
	m.Title = cleanTitle(name)
	return m
}

// cleanTitle normalizes filename separators into spaces and title-cases the
// words.
func cleanTitle(s string) string {
	s = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(s)
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
