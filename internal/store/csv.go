// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists normalized records to a tabular CSV store and
// maintains a SQLite index over it.
// See docs/ARCHITECTURE § Record Store.
package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hsayeed/knowmat/pkg/types"
)

var (
	// ErrWrite reports a store that could not be created or rewritten.
	ErrWrite = errors.New("store write failed")

	// ErrFormat reports an existing store whose header or rows do not
	// match the canonical columns.
	ErrFormat = errors.New("store format invalid")
)

// Columns is the canonical column order of the persisted store. It is
// fixed once a store is created; merges never reorder it.
var Columns = []string{
	"file_name",
	"composition",
	"processing_condition",
	"characterization",
	"property_name",
	"value",
	"unit",
	"measurement_condition",
	"domain",
	"category",
	"standard_property_name",
}

// Row is the flattened join of one property with its owning composition
// and originating document. Empty taxonomy fields mean "unmatched".
type Row struct {
	FileName             string
	Composition          string
	ProcessingCondition  string
	Characterization     string
	PropertyName         string
	Value                types.Value
	Unit                 string
	MeasurementCondition string
	Domain               string
	Category             string
	StandardPropertyName string
}

// Key is the natural key used for optional dedupe on merge.
func (r Row) Key() string {
	return strings.Join([]string{r.FileName, r.Composition, r.PropertyName, r.MeasurementCondition}, "\x1f")
}

func (r Row) record() []string {
	return []string{
		r.FileName,
		r.Composition,
		r.ProcessingCondition,
		r.Characterization,
		r.PropertyName,
		r.Value.String(),
		r.Unit,
		r.MeasurementCondition,
		r.Domain,
		r.Category,
		r.StandardPropertyName,
	}
}

func rowFromRecord(rec []string) (Row, error) {
	if len(rec) != len(Columns) {
		return Row{}, fmt.Errorf("%w: row has %d fields, want %d", ErrFormat, len(rec), len(Columns))
	}
	return Row{
		FileName:             rec[0],
		Composition:          rec[1],
		ProcessingCondition:  rec[2],
		Characterization:     rec[3],
		PropertyName:         rec[4],
		Value:                types.ParseValue(rec[5]),
		Unit:                 rec[6],
		MeasurementCondition: rec[7],
		Domain:               rec[8],
		Category:             rec[9],
		StandardPropertyName: rec[10],
	}, nil
}

// RowsFromDocument flattens an enriched record tree into store rows, one
// per property. Non-standard properties are included; unmatched ones
// simply carry empty taxonomy columns.
func RowsFromDocument(doc *types.NormalizedDocument) []Row {
	var rows []Row
	for _, c := range doc.Compositions {
		char := flattenCharacterization(c.Characterization)
		props := make([]types.NormalizedProperty, 0, len(c.Properties)+len(c.NonStandardProperties))
		props = append(props, c.Properties...)
		props = append(props, c.NonStandardProperties...)

		for _, p := range props {
			row := Row{
				FileName:             doc.FileName,
				Composition:          c.Composition,
				ProcessingCondition:  c.ProcessingConditions,
				Characterization:     char,
				PropertyName:         p.PropertyName,
				Value:                p.Value,
				Unit:                 p.Unit,
				MeasurementCondition: p.MeasurementCondition,
			}
			if p.Matched() {
				row.Domain = *p.Domain
				row.Category = *p.Category
				row.StandardPropertyName = *p.StandardPropertyName
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// flattenCharacterization renders the technique→finding map as a single
// cell, sorted by technique so output is deterministic.
func flattenCharacterization(m map[string]string) string {
	if len(m) == 0 {
		return types.NotProvided
	}
	techniques := make([]string, 0, len(m))
	for k := range m {
		techniques = append(techniques, k)
	}
	sort.Strings(techniques)

	parts := make([]string, 0, len(techniques))
	for _, k := range techniques {
		parts = append(parts, k+": "+m[k])
	}
	return strings.Join(parts, "; ")
}

// Store merges normalized rows into CSV stores keyed by output path.
// Writes to a single path are serialized; concurrent documents merging
// into the same store cannot lose updates.
type Store struct {
	mode   types.MergeMode
	dedupe bool
}

// NewStore returns a Store with the given merge mode. An empty mode
// defaults to append.
func NewStore(mode types.MergeMode, dedupe bool) *Store {
	if mode == "" {
		mode = types.MergeAppend
	}
	return &Store{mode: mode, dedupe: dedupe}
}

// pathLocks serializes writers per cleaned output path.
var (
	pathLocksMu sync.Mutex
	pathLocks   = make(map[string]*sync.Mutex)
)

func lockPath(path string) *sync.Mutex {
	pathLocksMu.Lock()
	defer pathLocksMu.Unlock()
	mu, ok := pathLocks[path]
	if !ok {
		mu = &sync.Mutex{}
		pathLocks[path] = mu
	}
	return mu
}

// Save merges rows into the store at path. A missing store is created
// with the canonical header. An existing store is read, verified, merged
// according to the mode, and rewritten atomically: either the whole merge
// lands or the previous contents survive intact. An empty row set only
// verifies (or creates) the store.
func (s *Store) Save(rows []Row, path string) error {
	clean := filepath.Clean(path)
	mu := lockPath(clean)
	mu.Lock()
	defer mu.Unlock()

	existing, err := load(clean)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	// Nothing to merge: verify the existing store or create an empty one.
	if len(rows) == 0 {
		return writeAtomic(clean, existing)
	}

	var merged []Row
	switch {
	case s.mode == types.MergeOverwrite:
		merged = rows
	case s.dedupe:
		seen := make(map[string]bool, len(existing))
		for _, r := range existing {
			seen[r.Key()] = true
		}
		merged = existing
		for _, r := range rows {
			if seen[r.Key()] {
				continue
			}
			seen[r.Key()] = true
			merged = append(merged, r)
		}
	default:
		merged = append(existing, rows...)
	}

	return writeAtomic(clean, merged)
}

// Load reads every row from the store at path, verifying the header.
func Load(path string) ([]Row, error) {
	rows, err := load(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no store at %s", ErrFormat, path)
		}
		return nil, err
	}
	return rows, nil
}

func load(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrFormat, path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s has no header", ErrFormat, path)
	}

	header := records[0]
	if len(header) != len(Columns) {
		return nil, headerMismatch(path, header)
	}
	for i, col := range Columns {
		if header[i] != col {
			return nil, headerMismatch(path, header)
		}
	}

	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row, err := rowFromRecord(rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func headerMismatch(path string, header []string) error {
	return fmt.Errorf("%w: header of %s is %v, want %v", ErrFormat, path, header, Columns)
}

// writeAtomic rewrites the store through a temp file and rename so a
// failed merge never leaves a partial row set behind.
func writeAtomic(path string, rows []Row) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrWrite, dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file in %s: %v", ErrWrite, dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := csv.NewWriter(tmp)
	if err := w.Write(Columns); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing header: %v", ErrWrite, err)
	}
	for _, row := range rows {
		if err := w.Write(row.record()); err != nil {
			tmp.Close()
			return fmt.Errorf("%w: writing row: %v", ErrWrite, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: flushing %s: %v", ErrWrite, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %v", ErrWrite, tmpName, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: replacing %s: %v", ErrWrite, path, err)
	}
	return nil
}
