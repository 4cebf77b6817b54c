// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package match

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/hsayeed/knowmat/internal/taxonomy"
)

// SemanticThreshold is the minimum cosine similarity for a semantic match.
// The comparison is exclusive: a score of exactly 0.5 does not match.
const SemanticThreshold = 0.5

// Embedder produces a fixed-dimensional vector embedding for a text.
// Implementations must return the same vector for the same input.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Semantic scores candidates by cosine similarity between precomputed
// alias embeddings and a per-query embedding. Alias embeddings are built
// once at construction, amortizing the cost across the whole run; after
// that the strategy is read-only and safe for concurrent use.
type Semantic struct {
	embedder  Embedder
	entries   []taxonomy.Entry
	vectors   [][]float64
	threshold float64
}

// NewSemantic precomputes an embedding for every alias in the index. An
// embedding failure here is a construction error: the backend being
// unreachable is fatal at startup, not a per-query condition.
func NewSemantic(ctx context.Context, embedder Embedder, ix *taxonomy.Index) (*Semantic, error) {
	entries := ix.Entries()
	vectors := make([][]float64, len(entries))

	for i, e := range entries {
		vec, err := embedder.Embed(ctx, strings.ToLower(e.Name))
		if err != nil {
			return nil, fmt.Errorf("embedding alias %q: %w", e.Name, err)
		}
		vectors[i] = vec
	}

	return &Semantic{
		embedder:  embedder,
		entries:   entries,
		vectors:   vectors,
		threshold: SemanticThreshold,
	}, nil
}

// Match implements Strategy. It accepts the best candidate only when its
// cosine similarity is strictly greater than the threshold. Candidates are
// compared in taxonomy order with a strictly-greater update, so ties keep
// the first candidate.
func (s *Semantic) Match(ctx context.Context, name string) (taxonomy.Entry, bool, error) {
	query := strings.ToLower(strings.TrimSpace(name))
	if query == "" {
		return taxonomy.Entry{}, false, nil
	}

	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return taxonomy.Entry{}, false, fmt.Errorf("embedding query %q: %w", name, err)
	}

	var best taxonomy.Entry
	bestScore := math.Inf(-1)

	for i, vec := range s.vectors {
		score := cosine(qvec, vec)
		if score > bestScore {
			bestScore = score
			best = s.entries[i]
		}
	}

	if bestScore > s.threshold {
		return best, true, nil
	}
	return taxonomy.Entry{}, false, nil
}

// cosine returns the cosine similarity of two vectors, or 0 when either
// has zero magnitude or the dimensions disagree.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
