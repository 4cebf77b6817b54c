// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline orchestrates extraction: prompt the generator per
// document, validate the payload, normalize property names, and merge the
// resulting rows into the tabular store.
// See docs/ARCHITECTURE § Pipeline.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hsayeed/knowmat/internal/match"
	"github.com/hsayeed/knowmat/internal/schema"
	"github.com/hsayeed/knowmat/internal/store"
	"github.com/hsayeed/knowmat/pkg/types"
)

const (
	textDir      = "text"
	extractedDir = "extracted"
)

// Generator abstracts the structured generator so tests can supply a
// mock. Per Strategy pattern: the chat backend and any hosted
// replacement are interchangeable behind this interface.
type Generator interface {
	Generate(ctx context.Context, system, user string) ([]byte, error)
}

// Pipeline runs the extraction stages for a batch of converted documents.
type Pipeline struct {
	gen       Generator
	validator *schema.Validator
	engine    *match.Engine
	records   *store.Store
	cfg       types.ExtractionConfig
	outputCSV string
	system    string
}

// New assembles a Pipeline. The system prompt is rendered once from the
// taxonomy behind the validator; it does not change between documents.
func New(gen Generator, validator *schema.Validator, engine *match.Engine, records *store.Store, cfg types.ExtractionConfig, outputCSV, systemPrompt string) *Pipeline {
	return &Pipeline{
		gen:       gen,
		validator: validator,
		engine:    engine,
		records:   records,
		cfg:       cfg,
		outputCSV: outputCSV,
		system:    systemPrompt,
	}
}

// BatchSummary holds counts from a batch extraction run.
type BatchSummary struct {
	Extracted int
	Skipped   int
	Failed    int
}

// Total returns the number of documents processed.
func (s BatchSummary) Total() int {
	return s.Extracted + s.Skipped + s.Failed
}

// HasFailures reports whether any documents failed.
func (s BatchSummary) HasFailures() bool {
	return s.Failed > 0
}

// ProcessAll processes every text file in docsDir/text/. Documents are
// independent: one failing document is reported and skipped without
// aborting the batch. Up to cfg.Workers documents run in parallel; rows
// from each finished document are merged into the tabular store as they
// complete, and the enriched record tree is written to docsDir/extracted/.
// Unchanged documents whose output already exists are skipped.
func (p *Pipeline) ProcessAll(ctx context.Context, w io.Writer) (BatchSummary, error) {
	txtDir := filepath.Join(p.cfg.DocsDir, textDir)
	outDir := filepath.Join(p.cfg.DocsDir, extractedDir)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return BatchSummary{}, fmt.Errorf("creating output directory: %w", err)
	}

	entries, err := os.ReadDir(txtDir)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("reading text directory %s: %w", txtDir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		names = append(names, entry.Name())
	}

	workers := p.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(names) {
		workers = max(len(names), 1)
	}

	var (
		summary BatchSummary
		mu      sync.Mutex // guards summary and w
		wg      sync.WaitGroup
	)
	jobs := make(chan string)

	report := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, format, args...)
	}
	count := func(f func(*BatchSummary)) {
		mu.Lock()
		defer mu.Unlock()
		f(&summary)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range jobs {
				docName := strings.TrimSuffix(name, ".txt")
				txtPath := filepath.Join(txtDir, name)
				outPath := filepath.Join(outDir, docName+".json")

				changed, err := hasChanged(txtPath, outPath)
				if err != nil {
					report("failed  %s: %v\n", docName, err)
					count(func(s *BatchSummary) { s.Failed++ })
					continue
				}
				if !changed {
					report("skipped %s\n", docName)
					count(func(s *BatchSummary) { s.Skipped++ })
					continue
				}

				report("extracting %s\n", docName)

				normalized, err := p.processFile(ctx, docName, txtPath)
				if err != nil {
					report("failed  %s: %v\n", docName, err)
					count(func(s *BatchSummary) { s.Failed++ })
					continue
				}

				rows := store.RowsFromDocument(normalized)
				if err := p.records.Save(rows, p.outputCSV); err != nil {
					report("failed  %s: %v\n", docName, err)
					count(func(s *BatchSummary) { s.Failed++ })
					continue
				}

				if err := writeResult(outPath, normalized); err != nil {
					report("failed  %s: write error: %v\n", docName, err)
					count(func(s *BatchSummary) { s.Failed++ })
					continue
				}

				report("extracted %s (%d rows)\n", docName, len(rows))
				count(func(s *BatchSummary) { s.Extracted++ })
			}
		}()
	}

	// Stop submitting once the context is cancelled; in-flight documents
	// finish on their own.
submit:
	for _, name := range names {
		select {
		case <-ctx.Done():
			break submit
		case jobs <- name:
		}
	}
	close(jobs)
	wg.Wait()

	fmt.Fprintf(w, "\nextracted: %d, skipped: %d, failed: %d\n",
		summary.Extracted, summary.Skipped, summary.Failed)

	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	return summary, nil
}

func (p *Pipeline) processFile(ctx context.Context, docName, txtPath string) (*types.NormalizedDocument, error) {
	content, err := os.ReadFile(txtPath)
	if err != nil {
		return nil, fmt.Errorf("reading text %s: %w", txtPath, err)
	}
	return p.ProcessDocument(ctx, docName, string(content))
}

// ProcessDocument runs one document through generation, validation, and
// normalization. Generation is retried when the payload fails validation:
// a constrained decoder occasionally emits a payload that parses but
// violates the record schema.
func (p *Pipeline) ProcessDocument(ctx context.Context, fileName, text string) (*types.NormalizedDocument, error) {
	maxRetries := p.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	doc, err := p.generateWithRetry(ctx, fileName, text, maxRetries)
	if err != nil {
		return nil, err
	}

	normalized, err := p.engine.NormalizeDocument(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("normalizing %s: %w", fileName, err)
	}
	return normalized, nil
}

// backoffBase controls the base duration for exponential backoff. Tests
// override this to avoid real sleeps.
var backoffBase = time.Second

// generateWithRetry calls the generator and validates the payload, with
// exponential backoff between attempts.
func (p *Pipeline) generateWithRetry(ctx context.Context, fileName, text string, maxRetries int) (*types.Document, error) {
	user := UserPrompt(text)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * backoffBase
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		raw, err := p.gen.Generate(ctx, p.system, user)
		if err != nil {
			lastErr = err
			continue
		}

		doc, err := p.validator.ValidatePayload(fileName, raw)
		if err != nil {
			lastErr = err
			continue
		}
		return doc, nil
	}
	return nil, fmt.Errorf("after %d retries: %w", maxRetries, lastErr)
}

// Renormalize re-runs property-name matching over an existing tabular
// store, rewriting the taxonomy columns in place. Used after a taxonomy
// change or to switch matching strategies without re-extracting.
func Renormalize(ctx context.Context, engine *match.Engine, csvPath string) (int, error) {
	rows, err := store.Load(csvPath)
	if err != nil {
		return 0, err
	}

	changed := 0
	for i, row := range rows {
		np, err := engine.NormalizeProperty(ctx, types.Property{PropertyName: row.PropertyName})
		if err != nil {
			return 0, fmt.Errorf("matching %q: %w", row.PropertyName, err)
		}

		var domain, category, standard string
		if np.Matched() {
			domain, category, standard = *np.Domain, *np.Category, *np.StandardPropertyName
		}
		if domain != row.Domain || category != row.Category || standard != row.StandardPropertyName {
			rows[i].Domain = domain
			rows[i].Category = category
			rows[i].StandardPropertyName = standard
			changed++
		}
	}

	if err := store.NewStore(types.MergeOverwrite, false).Save(rows, csvPath); err != nil {
		return 0, err
	}
	return changed, nil
}

// hasChanged reports whether the text file is newer than the output file.
// Returns true if the output does not exist.
func hasChanged(txtPath, outPath string) (bool, error) {
	txtInfo, err := os.Stat(txtPath)
	if err != nil {
		return false, fmt.Errorf("stat text %s: %w", txtPath, err)
	}

	outInfo, err := os.Stat(outPath)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("stat output %s: %w", outPath, err)
	}

	return txtInfo.ModTime().After(outInfo.ModTime()), nil
}

// writeResult marshals the enriched record tree to a JSON file.
func writeResult(path string, doc *types.NormalizedDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
