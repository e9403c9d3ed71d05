// Package chunking splits document sections into bounded-size retrievable
// chunks. Two strategies exist: a fast fixed sentence-window strategy used
// for most sections, and a slower semantic grouping strategy applied only to
// large, abstract sections while a per-document budget remains.
package chunking

import (
	"regexp"
	"strings"

	"github.com/bookwise/bookrag-go/internal/rag"
	"github.com/bookwise/bookrag-go/internal/segment"
	"github.com/bookwise/bookrag-go/internal/token"
)

// Config holds the chunking parameters. Zero values fall back to defaults.
type Config struct {
	// ChunkSize is the maximum token estimate per chunk. Default 500.
	ChunkSize int

	// Overlap is the token budget for the sentence overlap carried between
	// consecutive chunks of the same section. Default 75.
	Overlap int

	// SemanticBudget is the maximum number of sections per document that may
	// be chunked semantically. Default 30.
	SemanticBudget int
}

// semanticMinTokens is the token estimate a section must reach before the
// semantic strategy is considered.
const semanticMinTokens = 1200

// abstractKeywords gate the semantic strategy: only sections whose title
// contains one of these (case-insensitive) qualify.
var abstractKeywords = []string{
	"introduction", "overview", "discussion", "theory",
	"foundations", "concepts", "background", "methodology",
}

// Splitter partitions a section's paragraph list into semantically coherent
// groups. The grouping policy is deliberately pluggable: the default is a
// fixed-size paragraph grouping, but a generative boundary detector can be
// substituted without touching the engine.
type Splitter interface {
	// Split returns the paragraph groups, in order, covering all paragraphs.
	Split(paragraphs []string) [][]string
}

// ParagraphSplitter is the default Splitter: fixed-size runs of paragraphs.
type ParagraphSplitter struct {
	// GroupSize is the number of paragraphs per group. Default 3.
	GroupSize int
}

// Split partitions paragraphs into consecutive runs of GroupSize.
func (p ParagraphSplitter) Split(paragraphs []string) [][]string {
	size := p.GroupSize
	if size <= 0 {
		size = 3
	}
	var groups [][]string
	for start := 0; start < len(paragraphs); start += size {
		end := start + size
		if end > len(paragraphs) {
			end = len(paragraphs)
		}
		groups = append(groups, paragraphs[start:end])
	}
	return groups
}

// Engine chunks sections according to the configured size, overlap, and
// semantic budget. An Engine is stateless across calls and safe for
// concurrent use; the per-document semantic budget lives on the call stack.
type Engine struct {
	chunkSize int
	overlap   int
	budget    int
	splitter  Splitter
}

// NewEngine constructs an Engine. A nil splitter selects ParagraphSplitter.
func NewEngine(cfg Config, splitter Splitter) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 500
	}
	if cfg.Overlap <= 0 {
		cfg.Overlap = 75
	}
	if cfg.SemanticBudget <= 0 {
		cfg.SemanticBudget = 30
	}
	if splitter == nil {
		splitter = ParagraphSplitter{}
	}
	return &Engine{
		chunkSize: cfg.ChunkSize,
		overlap:   cfg.Overlap,
		budget:    cfg.SemanticBudget,
		splitter:  splitter,
	}
}

// ChunkSections chunks all sections of one document. The semantic budget is
// decremented per semantically chunked section and never resets within the
// document. Chunk indices restart at 0 for each section and increase
// monotonically in emission order.
func (e *Engine) ChunkSections(sections []segment.Section, authorID, bookID int64) []rag.Chunk {
	remaining := e.budget

	var all []rag.Chunk
	for _, sec := range sections {
		sectionText := strings.Join(sec.Paragraphs, " ")
		sectionTokens := token.Estimate(sectionText)

		if remaining > 0 && sectionTokens >= semanticMinTokens && hasAbstractTitle(sec.Title) {
			remaining--
			all = append(all, e.semanticChunk(sec, authorID, bookID)...)
			continue
		}
		all = append(all, e.fixedChunk(sectionText, sec, authorID, bookID)...)
	}
	return all
}

// hasAbstractTitle reports whether title contains an abstract keyword.
func hasAbstractTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, kw := range abstractKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// semanticChunk partitions the section's paragraphs into groups and emits
// each group as one chunk, falling back to the fixed algorithm for any group
// still exceeding the chunk size. All emitted chunks carry ChunkSemantic and
// a single monotonically increasing index sequence for the section.
func (e *Engine) semanticChunk(sec segment.Section, authorID, bookID int64) []rag.Chunk {
	var chunks []rag.Chunk
	index := 0

	for _, group := range e.splitter.Split(sec.Paragraphs) {
		groupText := strings.Join(group, " ")
		if token.Estimate(groupText) > e.chunkSize {
			sub := e.fixedChunkText(groupText, sec, authorID, bookID, rag.ChunkSemantic, &index)
			chunks = append(chunks, sub...)
			continue
		}
		chunks = append(chunks, rag.Chunk{
			Text:       groupText,
			Type:       rag.ChunkSemantic,
			TokenCount: token.Estimate(groupText),
			Meta:       meta(sec, authorID, bookID, index),
		})
		index++
	}
	return chunks
}

// fixedChunk applies the fixed sentence-window algorithm to a whole section.
func (e *Engine) fixedChunk(sectionText string, sec segment.Section, authorID, bookID int64) []rag.Chunk {
	index := 0
	return e.fixedChunkText(sectionText, sec, authorID, bookID, rag.ChunkFixed, &index)
}

// fixedChunkText greedily accumulates sentences into a buffer and flushes a
// chunk whenever adding the next sentence would exceed the chunk size. Each
// new buffer is seeded with an overlap from the previous one so consecutive
// chunks share context. A single sentence larger than the chunk size is
// emitted on its own: unsplittable, documented boundary case.
func (e *Engine) fixedChunkText(text string, sec segment.Section, authorID, bookID int64, kind rag.ChunkType, index *int) []rag.Chunk {
	sentences := splitSentences(text)

	var chunks []rag.Chunk
	var buffer []string
	bufferTokens := 0

	flush := func() {
		chunkText := strings.Join(buffer, " ")
		chunks = append(chunks, rag.Chunk{
			Text:       chunkText,
			Type:       kind,
			TokenCount: bufferTokens,
			Meta:       meta(sec, authorID, bookID, *index),
		})
		*index++
	}

	for _, sentence := range sentences {
		sentenceTokens := token.Estimate(sentence)
		if bufferTokens+sentenceTokens > e.chunkSize && len(buffer) > 0 {
			flush()
			if ov := e.overlapText(buffer); ov != "" {
				buffer = []string{ov, sentence}
			} else {
				buffer = []string{sentence}
			}
			bufferTokens = token.Estimate(strings.Join(buffer, " "))
			continue
		}
		buffer = append(buffer, sentence)
		bufferTokens += sentenceTokens
	}
	if len(buffer) > 0 {
		flush()
	}
	return chunks
}

// overlapText returns the last two sentences of buffer when they fit the
// overlap budget, otherwise the last sentence alone.
func (e *Engine) overlapText(buffer []string) string {
	if len(buffer) == 0 {
		return ""
	}
	if len(buffer) >= 2 {
		two := strings.Join(buffer[len(buffer)-2:], " ")
		if token.Estimate(two) <= e.overlap {
			return two
		}
	}
	return buffer[len(buffer)-1]
}

// sentenceEnd matches a run of sentence-ending punctuation followed by
// whitespace. Go's regexp has no lookbehind, so sentences are cut at match
// ends with the punctuation retained.
var sentenceEnd = regexp.MustCompile(`[.!?]+\s+`)

// splitSentences splits text into trimmed sentences; trailing text without
// terminal punctuation becomes the final sentence.
func splitSentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[last:loc[1]]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if rest := strings.TrimSpace(text[last:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// meta builds the chunk metadata for one emission. Page number is the
// section's start page; chunks do not track interior page transitions.
func meta(sec segment.Section, authorID, bookID int64, index int) rag.ChunkMetadata {
	return rag.ChunkMetadata{
		AuthorID:     authorID,
		BookID:       bookID,
		SectionTitle: sec.Title,
		ChunkIndex:   index,
		PageNumber:   sec.StartPage,
	}
}
