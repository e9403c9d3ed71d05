// Package token provides deterministic token count estimation for chunking
// and budget decisions. Because bookrag supports multiple embedding and
// generation backends with different tokenizers, this package uses a
// conservative character-based heuristic: 1 token ≈ 4 characters of English
// prose. The estimate is a pure function of its input, so chunk boundaries
// computed from it are reproducible across ingestion runs.
package token

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	// 4 chars/token is the standard approximation for English prose;
	// a smaller divisor would over-count and shrink chunks needlessly.
	charsPerToken = 4
)

// Estimate returns a deterministic token count estimate for s.
// Non-empty strings always estimate to at least one token.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateAll returns the summed token estimate for all strings in ss.
func EstimateAll(ss []string) int {
	total := 0
	for _, s := range ss {
		total += Estimate(s)
	}
	return total
}
