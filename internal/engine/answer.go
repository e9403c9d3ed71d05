package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/bookwise/bookrag-go/internal/rerank"
)

// generator is the slice of model.ChatModel the engine needs. eino chat
// models satisfy it directly; tests substitute a fake.
type generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
	Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error)
}

// generateMaxRetries is the number of additional attempts after the first
// failed generation call.
const generateMaxRetries = 2

// Canned answer texts. NoContextAnswer is returned with zero sources;
// ApologyAnswer is returned with the retrieved sources attached so the
// reader can still follow the citations.
const (
	NoContextAnswer = "I could not find relevant information about this topic in the available books."
	ApologyAnswer   = "I apologize, but I was unable to generate an answer right now. Please try again in a moment."
)

const systemPrompt = `You are a reading assistant answering questions about books the user follows.
Answer using ONLY the numbered passages provided. Cite passages as [1], [2], etc.
If the passages do not contain the answer, say so plainly instead of guessing.`

// Source is one citation attached to an answer.
type Source struct {
	// BookTitle is the title of the cited book.
	BookTitle string `json:"book_title"`

	// SectionTitle is the section the passage came from.
	SectionTitle string `json:"section_title"`

	// PageNumber is the page the passage starts on.
	PageNumber int `json:"page_number"`

	// Score is the composite relevance score of the passage.
	Score float64 `json:"score"`
}

// Answer is a generated answer with its supporting citations.
type Answer struct {
	// Text is the answer shown to the reader.
	Text string `json:"text"`

	// Sources are the passages the answer was grounded on, best first.
	// Empty when no relevant passages were found.
	Sources []Source `json:"sources"`

	// TotalChunksUsed is the number of passages handed to the model.
	TotalChunksUsed int `json:"total_chunks_used"`

	// Strategy is the routing decision of the underlying search.
	Strategy string `json:"strategy"`
}

// Answer searches and then generates a grounded answer. maxChunks caps the
// number of passages given to the model; <= 0 selects the configured TopK.
// Retrieval errors propagate; generation errors degrade to ApologyAnswer
// after retries so a flaky model never hides successfully retrieved sources.
func (s *Service) Answer(ctx context.Context, query string, authorIDs []int64, maxChunks int) (*Answer, error) {
	if s.chat == nil {
		return nil, fmt.Errorf("engine: no chat model configured")
	}

	result, err := s.Search(ctx, query, authorIDs, maxChunks)
	if err != nil {
		return nil, err
	}
	if len(result.Hits) == 0 {
		return &Answer{Text: NoContextAnswer, Strategy: string(result.Strategy)}, nil
	}

	messages := buildMessages(query, result.Hits)
	answer := &Answer{
		Sources:         sourcesFromHits(result.Hits),
		TotalChunksUsed: len(result.Hits),
		Strategy:        string(result.Strategy),
	}

	var msg *schema.Message
	op := func() error {
		var genErr error
		msg, genErr = s.chat.Generate(ctx, messages)
		return genErr
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), generateMaxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		s.log.Error("answer generation failed after retries", "error", err)
		answer.Text = ApologyAnswer
		return answer, nil
	}

	answer.Text = msg.Content
	return answer, nil
}

// AnswerStream searches and returns the sources plus a token stream for the
// generated answer. maxChunks behaves as in Answer. Callers own the stream
// and must Close it. A nil stream
// with a non-nil error means generation could not start; the caller should
// fall back to ApologyAnswer with the returned sources.
func (s *Service) AnswerStream(ctx context.Context, query string, authorIDs []int64, maxChunks int) ([]Source, *schema.StreamReader[*schema.Message], error) {
	if s.chat == nil {
		return nil, nil, fmt.Errorf("engine: no chat model configured")
	}

	result, err := s.Search(ctx, query, authorIDs, maxChunks)
	if err != nil {
		return nil, nil, err
	}
	if len(result.Hits) == 0 {
		return nil, nil, nil
	}

	sources := sourcesFromHits(result.Hits)
	stream, err := s.chat.Stream(ctx, buildMessages(query, result.Hits))
	if err != nil {
		return sources, nil, fmt.Errorf("engine: start answer stream: %w", err)
	}
	return sources, stream, nil
}

// buildMessages assembles the chat prompt from the query and passages.
func buildMessages(query string, hits []rerank.Scored) []*schema.Message {
	var b strings.Builder
	b.WriteString("Passages:\n\n")
	for i, h := range hits {
		fmt.Fprintf(&b, "[%d] From %q", i+1, h.Hit.BookTitle)
		if h.Hit.SectionTitle != "" {
			fmt.Fprintf(&b, ", section %q", h.Hit.SectionTitle)
		}
		if h.Hit.PageNumber > 0 {
			fmt.Fprintf(&b, ", page %d", h.Hit.PageNumber)
		}
		b.WriteString(":\n")
		b.WriteString(h.Hit.Text)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Question: %s", query)

	return []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(b.String()),
	}
}

func sourcesFromHits(hits []rerank.Scored) []Source {
	sources := make([]Source, 0, len(hits))
	for _, h := range hits {
		sources = append(sources, Source{
			BookTitle:    h.Hit.BookTitle,
			SectionTitle: h.Hit.SectionTitle,
			PageNumber:   h.Hit.PageNumber,
			Score:        h.Composite,
		})
	}
	return sources
}
