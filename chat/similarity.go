package chat

import (
	"regexp"
	"strings"
)

var tokenSplit = regexp.MustCompile(`\W+`)

// Similarity returns the Jaccard index over lower-cased token sets of a and b.
// It is a cheap lexical-overlap estimate used as a repetition filter, not a
// semantic measure: 1.0 for identical non-empty texts, 0.0 for disjoint
// vocabularies, and 0.0 (not an error) when both token sets are empty.
// Symmetric by construction.
func Similarity(a, b string) float64 {
	sa := tokenSet(a)
	sb := tokenSet(b)

	union := len(sa)
	inter := 0
	for tok := range sb {
		if _, ok := sa[tok]; ok {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range tokenSplit.Split(strings.ToLower(s), -1) {
		if tok != "" {
			out[tok] = struct{}{}
		}
	}
	return out
}
