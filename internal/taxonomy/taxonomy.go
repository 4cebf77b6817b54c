// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package taxonomy loads the controlled vocabulary of material property
// names and exposes alias enumeration and canonical lookup.
// See docs/ARCHITECTURE § Taxonomy.
package taxonomy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ErrFormat reports a taxonomy source that does not match the expected
// {domain: {category: [name, ...]}} shape, or that contains duplicate
// canonical names.
var ErrFormat = errors.New("invalid taxonomy format")

// Sentinel is the empty-string alias representing "no constraint". It is
// appended to the alias list but never resolves to an entry.
const Sentinel = ""

// Entry is one canonical taxonomy assignment.
type Entry struct {
	Domain   string
	Category string
	Name     string
}

// Index is the flattened, immutable view of a taxonomy source. It is built
// once at process start and safe for concurrent reads.
type Index struct {
	entries []Entry
	byAlias map[string]Entry // lowercase canonical name → entry
}

// Load reads and parses a taxonomy JSON file.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading taxonomy %s: %w", path, err)
	}
	ix, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing taxonomy %s: %w", path, err)
	}
	return ix, nil
}

// Parse builds an Index from taxonomy JSON. Domains and categories are
// flattened in sorted order; aliases keep their declaration order within a
// category, so iteration over the index is deterministic. A canonical name
// appearing more than once anywhere in the taxonomy (case-insensitive) is
// a format error.
func Parse(data []byte) (*Index, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: top level is not an object: %v", ErrFormat, err)
	}

	domains := make([]string, 0, len(root))
	for d := range root {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	ix := &Index{byAlias: make(map[string]Entry)}

	for _, domain := range domains {
		var categories map[string]json.RawMessage
		if err := json.Unmarshal(root[domain], &categories); err != nil {
			return nil, fmt.Errorf("%w: domain %q is not an object: %v", ErrFormat, domain, err)
		}

		catNames := make([]string, 0, len(categories))
		for c := range categories {
			catNames = append(catNames, c)
		}
		sort.Strings(catNames)

		for _, category := range catNames {
			var names []string
			if err := json.Unmarshal(categories[category], &names); err != nil {
				return nil, fmt.Errorf("%w: category %q/%q is not a list of strings: %v",
					ErrFormat, domain, category, err)
			}

			for _, name := range names {
				key := strings.ToLower(name)
				if prev, ok := ix.byAlias[key]; ok {
					return nil, fmt.Errorf("%w: canonical name %q appears under both %s/%s and %s/%s",
						ErrFormat, name, prev.Domain, prev.Category, domain, category)
				}
				entry := Entry{Domain: domain, Category: category, Name: name}
				ix.byAlias[key] = entry
				ix.entries = append(ix.entries, entry)
			}
		}
	}

	return ix, nil
}

// AliasList returns every canonical name in index order, plus the
// empty-string sentinel. The list serves both as a generation-time
// constraint and as the validation whitelist.
func (ix *Index) AliasList() []string {
	aliases := make([]string, 0, len(ix.entries)+1)
	for _, e := range ix.entries {
		aliases = append(aliases, e.Name)
	}
	return append(aliases, Sentinel)
}

// Lookup resolves a name to its taxonomy entry by exact case-insensitive
// match. The sentinel never resolves.
func (ix *Index) Lookup(name string) (Entry, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == Sentinel {
		return Entry{}, false
	}
	e, ok := ix.byAlias[key]
	return e, ok
}

// Entries returns the flattened entries in deterministic index order. The
// returned slice is a copy; the index itself never changes after Parse.
func (ix *Index) Entries() []Entry {
	out := make([]Entry, len(ix.entries))
	copy(out, ix.entries)
	return out
}

// Len returns the number of canonical names (excluding the sentinel).
func (ix *Index) Len() int {
	return len(ix.entries)
}
