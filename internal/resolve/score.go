package resolve

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Scorer rates how similar two names are, from 0 (unrelated) to 1 (equal).
type Scorer interface {
	Score(a, b string) float64
}

// ScorerFunc adapts a plain function to Scorer.
type ScorerFunc func(a, b string) float64

func (f ScorerFunc) Score(a, b string) float64 { return f(a, b) }

// LevenshteinScorer compares folded names by normalized edit distance.
type LevenshteinScorer struct{}

func (LevenshteinScorer) Score(a, b string) float64 {
	return levenshtein.Similarity(Fold(a), Fold(b), nil)
}

// Fold lowercases s and strips combining diacritics, so "Café" and "cafe"
// compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// SuggestFloor is the minimum score for a name to be offered as a suggestion.
const SuggestFloor = 0.4

// Suggest returns up to n candidates scoring at least SuggestFloor against
// term, best first. Equal scores keep candidate order.
func Suggest(term string, candidates []string, n int) []string {
	return suggest(LevenshteinScorer{}, term, candidates, n)
}

func suggest(s Scorer, term string, candidates []string, n int) []string {
	type scored struct {
		name  string
		score float64
	}
	var hits []scored
	for _, c := range candidates {
		if sc := s.Score(term, c); sc >= SuggestFloor {
			hits = append(hits, scored{c, sc})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if n > 0 && len(hits) > n {
		hits = hits[:n]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.name
	}
	return out
}
