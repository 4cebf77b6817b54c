// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hsayeed/knowmat/pkg/types"
)

const dbFile = "records.db"

// Index manages the SQLite retrieval index built over one or more
// tabular stores.
type Index struct {
	db         *sql.DB
	indexDir   string
	maxResults int
}

// NewIndex opens or creates the records index at indexDir/records.db,
// creating the schema if it does not exist.
func NewIndex(cfg types.StoreConfig) (*Index, error) {
	if err := os.MkdirAll(cfg.IndexDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	dbPath := filepath.Join(cfg.IndexDir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}

	ix := &Index{db: db, indexDir: cfg.IndexDir, maxResults: maxResults}

	if err := ix.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return ix, nil
}

// Close releases the database connection.
func (ix *Index) Close() error {
	return ix.db.Close()
}

func (ix *Index) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS records (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			source TEXT NOT NULL,
			file_name TEXT NOT NULL,
			composition TEXT NOT NULL,
			processing_condition TEXT,
			characterization TEXT,
			property_name TEXT NOT NULL,
			value TEXT,
			unit TEXT,
			measurement_condition TEXT,
			domain TEXT,
			category TEXT,
			standard_property_name TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_source ON records(source)`,
		`CREATE INDEX IF NOT EXISTS idx_records_domain ON records(domain)`,
		`CREATE INDEX IF NOT EXISTS idx_records_category ON records(category)`,
		`CREATE TABLE IF NOT EXISTS ingest_status (
			source TEXT PRIMARY KEY,
			file_mod_time TEXT
		)`,
	}

	for _, stmt := range statements {
		if _, err := ix.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	// FTS5 virtual table with triggers for sync.
	var ftsExists int
	if err := ix.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='records_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}

	if ftsExists == 0 {
		ftsStatements := []string{
			`CREATE VIRTUAL TABLE records_fts USING fts5(
				composition, property_name, standard_property_name, characterization,
				content=records, content_rowid=rowid)`,
			`CREATE TRIGGER records_ai AFTER INSERT ON records BEGIN
				INSERT INTO records_fts(rowid, composition, property_name, standard_property_name, characterization)
				VALUES (new.rowid, new.composition, new.property_name, new.standard_property_name, new.characterization);
			END`,
			`CREATE TRIGGER records_ad AFTER DELETE ON records BEGIN
				INSERT INTO records_fts(records_fts, rowid, composition, property_name, standard_property_name, characterization)
				VALUES('delete', old.rowid, old.composition, old.property_name, old.standard_property_name, old.characterization);
			END`,
			`CREATE TRIGGER records_au AFTER UPDATE ON records BEGIN
				INSERT INTO records_fts(records_fts, rowid, composition, property_name, standard_property_name, characterization)
				VALUES('delete', old.rowid, old.composition, old.property_name, old.standard_property_name, old.characterization);
				INSERT INTO records_fts(rowid, composition, property_name, standard_property_name, characterization)
				VALUES (new.rowid, new.composition, new.property_name, new.standard_property_name, new.characterization);
			END`,
		}
		for _, stmt := range ftsStatements {
			if _, err := ix.db.Exec(stmt); err != nil {
				return fmt.Errorf("creating FTS infrastructure: %w", err)
			}
		}
	}

	return nil
}

// IngestSummary holds counts from an index ingestion run.
type IngestSummary struct {
	Indexed int
	Updated int
	Skipped int
	Failed  int
}

// Total returns the number of stores processed.
func (s IngestSummary) Total() int {
	return s.Indexed + s.Updated + s.Skipped + s.Failed
}

// Ingest reads the given tabular stores and populates the index. Stores
// whose modification time has not changed since the last ingestion are
// skipped; changed stores have their old rows replaced.
func (ix *Index) Ingest(ctx context.Context, w io.Writer, paths ...string) (IngestSummary, error) {
	var summary IngestSummary

	for _, path := range paths {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		source := filepath.Clean(path)

		info, err := os.Stat(source)
		if err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", source, err)
			summary.Failed++
			continue
		}
		modTime := info.ModTime().UTC().Format(time.RFC3339Nano)

		var storedModTime string
		err = ix.db.QueryRowContext(ctx,
			`SELECT file_mod_time FROM ingest_status WHERE source = ?`, source,
		).Scan(&storedModTime)

		if err == nil && storedModTime == modTime {
			fmt.Fprintf(w, "skipped %s\n", source)
			summary.Skipped++
			continue
		}

		isUpdate := err == nil

		rows, err := Load(source)
		if err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", source, err)
			summary.Failed++
			continue
		}

		if err := ix.ingestRows(ctx, source, rows, modTime, isUpdate); err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", source, err)
			summary.Failed++
			continue
		}

		if isUpdate {
			fmt.Fprintf(w, "updated %s (%d rows)\n", source, len(rows))
			summary.Updated++
		} else {
			fmt.Fprintf(w, "indexed %s (%d rows)\n", source, len(rows))
			summary.Indexed++
		}
	}

	fmt.Fprintf(w, "\nindexed: %d, updated: %d, skipped: %d, failed: %d\n",
		summary.Indexed, summary.Updated, summary.Skipped, summary.Failed)

	return summary, nil
}

func (ix *Index) ingestRows(ctx context.Context, source string, rows []Row, modTime string, isUpdate bool) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if isUpdate {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE source = ?`, source); err != nil {
			return fmt.Errorf("deleting old rows: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO records
			(id, source, file_name, composition, processing_condition, characterization,
			 property_name, value, unit, measurement_condition, domain, category, standard_property_name)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		_, err := stmt.ExecContext(ctx,
			recordID(source, i, row), source,
			row.FileName, row.Composition, row.ProcessingCondition, row.Characterization,
			row.PropertyName, row.Value.String(), row.Unit, row.MeasurementCondition,
			row.Domain, row.Category, row.StandardPropertyName,
		)
		if err != nil {
			return fmt.Errorf("inserting row %d: %w", i, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ingest_status (source, file_mod_time) VALUES (?, ?)
		 ON CONFLICT(source) DO UPDATE SET file_mod_time=excluded.file_mod_time`,
		source, modTime,
	)
	if err != nil {
		return fmt.Errorf("updating ingest status: %w", err)
	}

	return tx.Commit()
}

// recordID derives a stable identifier from the source store, the row's
// ordinal within it, and its natural key.
func recordID(source string, ordinal int, row Row) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s\x1f%d\x1f%s", source, ordinal, row.Key())))
	return fmt.Sprintf("%x", h[:12])
}

// QueryOptions holds parameters for records index queries.
type QueryOptions struct {
	// Query is the FTS5 full-text search string over composition,
	// property names and characterization.
	Query string

	// Domain filters by taxonomy domain.
	Domain string

	// Category filters by taxonomy category.
	Category string

	// Composition filters by exact composition string.
	Composition string

	// File filters by originating document file name.
	File string

	// OnlyUnmatched keeps only rows with no taxonomy assignment.
	OnlyUnmatched bool

	// MaxResults limits result count. Zero uses the index default.
	MaxResults int
}

// IsEmpty reports whether the query has no search terms or filters.
func (q QueryOptions) IsEmpty() bool {
	return q.Query == "" && q.Domain == "" && q.Category == "" &&
		q.Composition == "" && q.File == "" && !q.OnlyUnmatched
}

// QueryResult is one indexed record with its identifier and source store.
type QueryResult struct {
	Row
	ID     string
	Source string
}

// Retrieve queries the index with optional full-text search and
// structured filters. Results are ranked by relevance for full-text
// queries or sorted by file name, composition, property name otherwise.
func (ix *Index) Retrieve(ctx context.Context, opts QueryOptions) ([]QueryResult, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = ix.maxResults
	}

	var (
		qb     strings.Builder
		args   []any
		useFTS = opts.Query != ""
	)

	if useFTS {
		qb.WriteString(
			`SELECT r.id, r.source, r.file_name, r.composition, r.processing_condition,
				r.characterization, r.property_name, r.value, r.unit,
				r.measurement_condition, r.domain, r.category, r.standard_property_name
			FROM records_fts
			JOIN records r ON r.rowid = records_fts.rowid
			WHERE records_fts MATCH ?`)
		args = append(args, opts.Query)
	} else {
		qb.WriteString(
			`SELECT r.id, r.source, r.file_name, r.composition, r.processing_condition,
				r.characterization, r.property_name, r.value, r.unit,
				r.measurement_condition, r.domain, r.category, r.standard_property_name
			FROM records r
			WHERE 1=1`)
	}

	if opts.Domain != "" {
		qb.WriteString(` AND r.domain = ?`)
		args = append(args, opts.Domain)
	}
	if opts.Category != "" {
		qb.WriteString(` AND r.category = ?`)
		args = append(args, opts.Category)
	}
	if opts.Composition != "" {
		qb.WriteString(` AND r.composition = ?`)
		args = append(args, opts.Composition)
	}
	if opts.File != "" {
		qb.WriteString(` AND r.file_name = ?`)
		args = append(args, opts.File)
	}
	if opts.OnlyUnmatched {
		qb.WriteString(` AND (r.standard_property_name IS NULL OR r.standard_property_name = '')`)
	}

	if useFTS {
		qb.WriteString(` ORDER BY records_fts.rank`)
	} else {
		qb.WriteString(` ORDER BY r.file_name, r.composition, r.property_name`)
	}

	qb.WriteString(` LIMIT ?`)
	args = append(args, maxResults)

	rows, err := ix.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying records index: %w", err)
	}
	defer rows.Close()

	var results []QueryResult
	for rows.Next() {
		var (
			qr    QueryResult
			value string
		)
		if err := rows.Scan(
			&qr.ID, &qr.Source, &qr.FileName, &qr.Composition, &qr.ProcessingCondition,
			&qr.Characterization, &qr.PropertyName, &value, &qr.Unit,
			&qr.MeasurementCondition, &qr.Domain, &qr.Category, &qr.StandardPropertyName,
		); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		qr.Value = types.ParseValue(value)
		results = append(results, qr)
	}

	return results, rows.Err()
}
