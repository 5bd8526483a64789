package categorization

import (
	"cmp"
	"regexp"
	"slices"
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// Engine matches descriptions against a user's patterns. Literal patterns are
// found in a single pass with an Aho-Corasick automaton; the rest are tried
// one regex at a time. An Engine is immutable and safe for concurrent use.
type Engine struct {
	literals   *ahocorasick.Matcher
	literalIdx [][]Pattern // patterns per automaton entry
	regexes    []compiled
	skipped    int
}

type compiled struct {
	re      *regexp.Regexp
	pattern Pattern
}

// NewEngine builds an engine from patterns, compiling through cache. Patterns
// that fail to compile are skipped and counted.
func NewEngine(patterns []Pattern, cache *RegexCache) *Engine {
	e := &Engine{}

	index := make(map[string]int)
	var words [][]byte
	for _, p := range patterns {
		re, err := cache.Compile(p.Pattern)
		if err != nil {
			e.skipped++
			continue
		}

		lit, ok := literal(p.Pattern)
		if !ok || lit == "" {
			e.regexes = append(e.regexes, compiled{re: re, pattern: p})
			continue
		}
		i, seen := index[lit]
		if !seen {
			i = len(words)
			index[lit] = i
			words = append(words, []byte(lit))
			e.literalIdx = append(e.literalIdx, nil)
		}
		e.literalIdx[i] = append(e.literalIdx[i], p)
	}

	if len(words) > 0 {
		e.literals = ahocorasick.NewMatcher(words)
	}
	return e
}

// Match returns every pattern that matches description, highest confidence
// first, ties broken by pattern text.
func (e *Engine) Match(description string) []Suggestion {
	var out []Suggestion

	if e.literals != nil {
		for _, hit := range e.literals.MatchThreadSafe([]byte(strings.ToLower(description))) {
			for _, p := range e.literalIdx[hit] {
				out = append(out, suggestion(p))
			}
		}
	}
	for _, c := range e.regexes {
		if c.re.MatchString(description) {
			out = append(out, suggestion(c.pattern))
		}
	}

	slices.SortFunc(out, func(a, b Suggestion) int {
		return cmp.Or(
			cmp.Compare(b.Confidence, a.Confidence),
			cmp.Compare(a.Pattern, b.Pattern),
			cmp.Compare(a.CategoryID.String(), b.CategoryID.String()),
		)
	})
	return out
}

// Best returns the top suggestion, or nil when nothing matches.
func (e *Engine) Best(description string) *Suggestion {
	matches := e.Match(description)
	if len(matches) == 0 {
		return nil
	}
	return &matches[0]
}

// Skipped returns how many patterns failed to compile.
func (e *Engine) Skipped() int { return e.skipped }

// IsEmpty reports whether the engine has no usable patterns.
func (e *Engine) IsEmpty() bool {
	return e.literals == nil && len(e.regexes) == 0
}

func suggestion(p Pattern) Suggestion {
	return Suggestion{
		PatternID:  p.ID,
		Pattern:    p.Pattern,
		CategoryID: p.CategoryID,
		Confidence: p.ConfidenceScore,
	}
}
