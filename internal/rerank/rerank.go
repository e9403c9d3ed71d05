// Package rerank re-scores vector search hits with cheap lexical signals.
// Embedding similarity alone favors topical neighborhoods; blending in
// keyword evidence pushes passages that literally contain the asked-about
// terms above passages that merely orbit them.
package rerank

import (
	"sort"
	"strings"

	"github.com/bookwise/bookrag-go/internal/rag"
)

// Component weights of the composite score. Keyword overlap counts every
// query word; the exact and title components only count terms longer than
// minSubstringLen, and title matches are worth double.
const (
	weightVector  = 0.40
	weightKeyword = 0.25
	weightExact   = 0.25
	weightTitle   = 0.10
)

// minSubstringLen is the minimum term length for the substring components.
// Shorter words ("is", "the") still count toward keyword overlap but are
// too noisy as substring evidence.
const minSubstringLen = 4

// Scored pairs a hit with its composite score breakdown.
type Scored struct {
	Hit rag.SearchHit

	// Composite is the blended score the final ranking sorts by.
	Composite float64

	// Vector is the raw similarity from the index.
	Vector float64

	// Keyword, Exact and Title are the lexical components, each
	// normalized by the query word count.
	Keyword float64
	Exact   float64
	Title   float64
}

// Rerank scores the hits against the query and returns the top k, best
// first. Ties are broken by chunk id so the ordering is stable across runs.
func Rerank(query string, hits []rag.SearchHit, k int) []Scored {
	words := strings.Fields(strings.ToLower(query))

	scored := make([]Scored, 0, len(hits))
	for _, hit := range hits {
		scored = append(scored, score(words, hit))
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Composite != scored[j].Composite {
			return scored[i].Composite > scored[j].Composite
		}
		return scored[i].Hit.ID < scored[j].Hit.ID
	})
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// score computes the lexical components against one hit. All three are
// normalized by the total query word count, floored at 1 so an empty query
// cannot divide by zero:
//
//	keyword = distinct query words appearing as words of the text
//	exact   = terms longer than minSubstringLen-1 contained in the text
//	title   = 2 x terms longer than minSubstringLen-1 contained in the
//	          section title
func score(words []string, hit rag.SearchHit) Scored {
	s := Scored{Hit: hit, Vector: float64(hit.Score)}

	n := float64(len(words))
	if n < 1 {
		n = 1
	}

	text := strings.ToLower(hit.Text)
	title := strings.ToLower(hit.SectionTitle)
	textWords := wordSet(text)

	seen := make(map[string]bool, len(words))
	var keyword, exact, titleScore float64
	for _, w := range words {
		if seen[w] {
			continue
		}
		seen[w] = true

		if textWords[w] {
			keyword++
		}
		if len(w) < minSubstringLen {
			continue
		}
		if strings.Contains(text, w) {
			exact++
		}
		if strings.Contains(title, w) {
			// Title matches are rarer and stronger evidence.
			titleScore += 2
		}
	}

	s.Keyword = keyword / n
	s.Exact = exact / n
	s.Title = titleScore / n

	s.Composite = weightVector*s.Vector +
		weightKeyword*s.Keyword +
		weightExact*s.Exact +
		weightTitle*s.Title
	return s
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(text) {
		set[w] = true
	}
	return set
}
