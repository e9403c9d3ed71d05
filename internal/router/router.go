// Package router classifies incoming questions so the retrieval layer can
// pick an execution strategy. Classification is pure pattern matching over
// the query text; it needs no model call and costs microseconds.
package router

import (
	"regexp"
	"strings"
)

// Strategy names the retrieval path chosen for a query.
type Strategy string

const (
	// StrategyFactLookup marks short, pointed questions that want a
	// specific fact (a date, a name, a definition).
	StrategyFactLookup Strategy = "fact_lookup"

	// StrategySemantic marks open questions that want explanation or
	// synthesis across passages.
	StrategySemantic Strategy = "semantic"

	// StrategyHybrid is the default when neither signal dominates.
	StrategyHybrid Strategy = "hybrid"
)

// Decision is the routing outcome for one query.
type Decision struct {
	// Strategy is the chosen retrieval path.
	Strategy Strategy

	// Confidence in [0,1]; pattern hits score higher than the length
	// heuristics.
	Confidence float64

	// UseVectorSearch reports whether the vector index should be
	// consulted. Only semantic and hybrid retrieval authorize it;
	// fact lookups are answerable from keyword evidence and skip the
	// embedding round trip.
	UseVectorSearch bool
}

var factPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(what|when|where|who|which)\s+(is|are|was|were)\b`),
	regexp.MustCompile(`(?i)^(define|definition of)\b`),
	regexp.MustCompile(`(?i)\bhow (many|much|old|long)\b`),
	regexp.MustCompile(`(?i)^(is|are|was|were|does|did|do|can|has|have)\b.*\?$`),
	regexp.MustCompile(`(?i)\bin what (year|month|chapter|book)\b`),
}

var semanticPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(why|how)\b`),
	regexp.MustCompile(`(?i)\b(explain|describe|discuss|elaborate|summarize|summarise)\b`),
	regexp.MustCompile(`(?i)\b(compare|contrast|difference between|relationship between)\b`),
	regexp.MustCompile(`(?i)\b(implications?|significance|meaning of|interpret)\b`),
	regexp.MustCompile(`(?i)\bwhat (do you think|does .+ mean)\b`),
}

// word counts below/above which the length heuristics kick in.
const (
	shortQueryWords = 6
	longQueryWords  = 15
)

// Route classifies a query. Pattern matches win over length heuristics; when
// both pattern sets match, the query is treated as hybrid.
func Route(query string) Decision {
	q := strings.TrimSpace(query)
	if q == "" {
		return Decision{Strategy: StrategyHybrid, Confidence: 0.5, UseVectorSearch: true}
	}

	fact := matchesAny(factPatterns, q)
	semantic := matchesAny(semanticPatterns, q)

	switch {
	case fact && !semantic:
		return Decision{Strategy: StrategyFactLookup, Confidence: 0.9, UseVectorSearch: false}
	case semantic && !fact:
		return Decision{Strategy: StrategySemantic, Confidence: 0.9, UseVectorSearch: true}
	case fact && semantic:
		return Decision{Strategy: StrategyHybrid, Confidence: 0.7, UseVectorSearch: true}
	}

	words := len(strings.Fields(q))
	switch {
	case words <= shortQueryWords:
		return Decision{Strategy: StrategyFactLookup, Confidence: 0.6, UseVectorSearch: false}
	case words >= longQueryWords:
		return Decision{Strategy: StrategySemantic, Confidence: 0.6, UseVectorSearch: true}
	}
	return Decision{Strategy: StrategyHybrid, Confidence: 0.5, UseVectorSearch: true}
}

func matchesAny(patterns []*regexp.Regexp, q string) bool {
	for _, p := range patterns {
		if p.MatchString(q) {
			return true
		}
	}
	return false
}
