package match

import (
	"context"
	"math"
	"testing"

	"github.com/hsayeed/knowmat/internal/taxonomy"
)

func lexIndex(t *testing.T, src string) *taxonomy.Index {
	t.Helper()
	ix, err := taxonomy.Parse([]byte(src))
	if err != nil {
		t.Fatalf("building test taxonomy: %v", err)
	}
	return ix
}

func TestRatio(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"seebeck coefficient", "seebeck coefficient", 1.0},
		{"", "", 1.0},
		{"abc", "", 0.0},
		{"abxxx", "abzzz", 0.4}, // LCS 2, combined length 10
		{"abc", "xyz", 0.0},
	}
	for _, tt := range tests {
		if got := ratio(tt.a, tt.b); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("ratio(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestLexical_SeebeckAnisotropy(t *testing.T) {
	ix := lexIndex(t, `{"thermal": {"transport": ["Seebeck coefficient"]}}`)
	l := NewLexical(ix)

	entry, ok, err := l.Match(context.Background(), "Seebeck coefficient anisotropy")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !ok {
		t.Fatal("expected a match")
	}
	if entry.Domain != "thermal" || entry.Category != "transport" || entry.Name != "Seebeck coefficient" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestLexical_NoMatch(t *testing.T) {
	ix := lexIndex(t, `{"thermal": {"transport": ["Seebeck coefficient"]}}`)
	l := NewLexical(ix)

	_, ok, err := l.Match(context.Background(), "banana ripeness")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if ok {
		t.Error("expected no match for an unrelated name")
	}
}

// The lexical cutoff is inclusive: a best ratio of exactly 0.4 matches.
func TestLexical_ThresholdBoundaryInclusive(t *testing.T) {
	ix := lexIndex(t, `{"d": {"c": ["abzzz"]}}`)
	l := NewLexical(ix)

	// ratio("abxxx", "abzzz") is exactly 0.4.
	if _, ok, _ := l.Match(context.Background(), "abxxx"); !ok {
		t.Error("ratio exactly at threshold should match")
	}

	// A single shared rune falls below the threshold.
	if _, ok, _ := l.Match(context.Background(), "aqqww"); ok {
		t.Error("ratio below threshold should not match")
	}
}

func TestLexical_TieBreakFirstInTaxonomyOrder(t *testing.T) {
	// Both aliases score identically against the query; the first in
	// declaration order wins.
	ix := lexIndex(t, `{"d": {"c": ["abc x", "abc y"]}}`)
	l := NewLexical(ix)

	entry, ok, err := l.Match(context.Background(), "abc z")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !ok {
		t.Fatal("expected a match")
	}
	if entry.Name != "abc x" {
		t.Errorf("tie broke to %q, want first candidate %q", entry.Name, "abc x")
	}
}

func TestLexical_Deterministic(t *testing.T) {
	ix := lexIndex(t, `{
		"thermal": {"transport": ["Seebeck coefficient", "thermal conductivity"]},
		"mechanical": {"elastic": ["Young's modulus"]}
	}`)
	l := NewLexical(ix)

	first, ok1, _ := l.Match(context.Background(), "thermal conductivity at 300K")
	second, ok2, _ := l.Match(context.Background(), "thermal conductivity at 300K")
	if ok1 != ok2 || first != second {
		t.Errorf("two invocations disagree: (%+v, %v) vs (%+v, %v)", first, ok1, second, ok2)
	}
}

func TestLexical_EmptyQuery(t *testing.T) {
	ix := lexIndex(t, `{"d": {"c": ["abzzz"]}}`)
	l := NewLexical(ix)

	if _, ok, _ := l.Match(context.Background(), "   "); ok {
		t.Error("blank query should not match")
	}
}
