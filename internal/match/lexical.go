// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package match

import (
	"context"
	"strings"

	"github.com/hsayeed/knowmat/internal/taxonomy"
)

// LexicalThreshold is the minimum similarity ratio for a lexical match.
// The comparison is inclusive: a ratio of exactly 0.4 matches.
const LexicalThreshold = 0.4

// Lexical scores candidates with a normalized string-similarity ratio over
// the lowercased, trimmed input. Candidates are visited in taxonomy
// declaration order and ties keep the first candidate, so results are
// deterministic.
type Lexical struct {
	entries   []taxonomy.Entry
	threshold float64
}

// NewLexical returns a lexical strategy over the index with the default
// threshold.
func NewLexical(ix *taxonomy.Index) *Lexical {
	return &Lexical{entries: ix.Entries(), threshold: LexicalThreshold}
}

// Match implements Strategy. It accepts the best candidate when its ratio
// is greater than or equal to the threshold.
func (l *Lexical) Match(_ context.Context, name string) (taxonomy.Entry, bool, error) {
	query := strings.ToLower(strings.TrimSpace(name))
	if query == "" {
		return taxonomy.Entry{}, false, nil
	}

	var best taxonomy.Entry
	bestScore := -1.0

	for _, e := range l.entries {
		score := ratio(query, strings.ToLower(e.Name))
		if score > bestScore {
			bestScore = score
			best = e
		}
	}

	if bestScore >= l.threshold {
		return best, true, nil
	}
	return taxonomy.Entry{}, false, nil
}

// ratio is a normalized similarity in [0,1]: twice the length of the
// longest common subsequence over the combined length of both strings.
// Identical strings score 1, disjoint strings score 0.
func ratio(a, b string) float64 {
	ar, br := []rune(a), []rune(b)
	if len(ar) == 0 && len(br) == 0 {
		return 1
	}
	if len(ar) == 0 || len(br) == 0 {
		return 0
	}
	return 2 * float64(lcs(ar, br)) / float64(len(ar)+len(br))
}

// lcs computes the longest-common-subsequence length with a two-row DP
// over runes.
func lcs(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
