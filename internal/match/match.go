// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package match maps free-text property names to their closest taxonomy
// entry, or declares them unmatched.
// See docs/ARCHITECTURE § Normalization.
package match

import (
	"context"

	"github.com/hsayeed/knowmat/internal/taxonomy"
	"github.com/hsayeed/knowmat/pkg/types"
)

// Strategy scores a property name against the taxonomy candidates. Per
// Strategy pattern: lexical and semantic scorers are interchangeable
// behind this interface. Implementations must be deterministic for a
// fixed taxonomy and query, and safe for concurrent use once built.
type Strategy interface {
	// Match returns the best-scoring taxonomy entry for name, or
	// ok=false when no candidate clears the strategy's acceptance
	// threshold. A no-match outcome is not an error.
	Match(ctx context.Context, name string) (entry taxonomy.Entry, ok bool, err error)
}

// Engine normalizes extracted property names through a pluggable scoring
// strategy. It never mutates the taxonomy index or its inputs.
type Engine struct {
	strategy Strategy
}

// NewEngine returns an Engine using the given strategy.
func NewEngine(s Strategy) *Engine {
	return &Engine{strategy: s}
}

// NormalizeProperty returns a new enriched property: the taxonomy triple
// is populated on a confident match and null otherwise.
func (e *Engine) NormalizeProperty(ctx context.Context, p types.Property) (types.NormalizedProperty, error) {
	entry, ok, err := e.strategy.Match(ctx, p.PropertyName)
	if err != nil {
		return types.NormalizedProperty{}, err
	}
	if !ok {
		return p.Unmatched(), nil
	}
	return p.WithMatch(entry.Domain, entry.Category, entry.Name), nil
}

// NormalizeDocument enriches every property in the document, including the
// non-standard bucket: the generator may have routed a name outside the
// allowed list that still resolves to a canonical entry.
func (e *Engine) NormalizeDocument(ctx context.Context, doc *types.Document) (*types.NormalizedDocument, error) {
	out := &types.NormalizedDocument{FileName: doc.FileName}

	for _, c := range doc.Compositions {
		nc := types.NormalizedComposition{
			Composition:          c.Composition,
			ProcessingConditions: c.ProcessingConditions,
			Characterization:     c.Characterization,
		}

		for _, p := range c.Properties {
			np, err := e.NormalizeProperty(ctx, p)
			if err != nil {
				return nil, err
			}
			nc.Properties = append(nc.Properties, np)
		}
		for _, p := range c.NonStandardProperties {
			np, err := e.NormalizeProperty(ctx, p)
			if err != nil {
				return nil, err
			}
			nc.NonStandardProperties = append(nc.NonStandardProperties, np)
		}

		out.Compositions = append(out.Compositions, nc)
	}

	return out, nil
}
