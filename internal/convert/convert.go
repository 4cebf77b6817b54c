// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package convert turns source documents into plain text for extraction,
// with pluggable backends.
// See docs/ARCHITECTURE § Conversion.
package convert

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// textDir is the subdirectory under the docs base for converted text.
	textDir = "text"
	// rawDir is the subdirectory under the docs base for source documents.
	rawDir = "raw"
)

// Converter transforms one source document into plain text. Different
// backends (markitdown, pdftotext) implement this interface.
type Converter interface {
	// Convert reads the document at path and returns its text content.
	Convert(path string) (string, error)
}

// BatchResult holds the outcome of a batch conversion run.
type BatchResult struct {
	Converted int
	Skipped   int
	Failed    int
}

// Total returns the total number of documents processed.
func (r BatchResult) Total() int {
	return r.Converted + r.Skipped + r.Failed
}

// HasFailures reports whether any documents failed conversion.
func (r BatchResult) HasFailures() bool {
	return r.Failed > 0
}

// ConvertFile converts a single document, writing the text to
// docsDir/text/[base].txt. The trailing references section is stripped:
// bibliographies drown the extraction prompt in author names and journal
// titles without contributing measurements. An existing output skips the
// conversion.
func ConvertFile(c Converter, srcPath, docsDir string, w io.Writer) error {
	outDir := filepath.Join(docsDir, textDir)
	base := strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath))
	txtPath := filepath.Join(outDir, base+".txt")

	if _, err := os.Stat(txtPath); err == nil {
		fmt.Fprintf(w, "skipped %s (already exists)\n", base)
		return nil
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating text directory: %w", err)
	}

	raw, err := c.Convert(srcPath)
	if err != nil {
		return fmt.Errorf("converting %s: %w", base, err)
	}

	content := stripReferences(raw)
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("converting %s: empty text output", base)
	}

	if err := os.WriteFile(txtPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", txtPath, err)
	}

	fmt.Fprintf(w, "converted %s\n", base)
	return nil
}

// ConvertPaths converts a list of source documents, printing per-file
// status to w and returning a summary. One failing document does not
// abort the batch.
func ConvertPaths(c Converter, srcPaths []string, docsDir string, w io.Writer) BatchResult {
	var result BatchResult
	for _, p := range srcPaths {
		base := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		txtPath := filepath.Join(docsDir, textDir, base+".txt")

		if _, err := os.Stat(txtPath); err == nil {
			fmt.Fprintf(w, "skipped %s (already exists)\n", base)
			result.Skipped++
			continue
		}

		if err := ConvertFile(c, p, docsDir, w); err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", base, err)
			result.Failed++
			continue
		}
		result.Converted++
	}

	fmt.Fprintf(w, "\nconverted: %d, skipped: %d, failed: %d (total: %d)\n",
		result.Converted, result.Skipped, result.Failed, result.Total())
	return result
}

// ConvertDir converts every document under docsDir/raw/ with a matching
// extension and delegates to ConvertPaths.
func ConvertDir(c Converter, docsDir string, extensions []string, w io.Writer) (BatchResult, error) {
	srcDir := filepath.Join(docsDir, rawDir)
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return BatchResult{}, fmt.Errorf("reading source directory %s: %w", srcDir, err)
	}

	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(ext)] = true
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if len(allowed) > 0 && !allowed[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(srcDir, entry.Name()))
	}

	return ConvertPaths(c, paths, docsDir, w), nil
}

// referenceHeadings mark the start of a bibliography section.
var referenceHeadings = []string{
	"references",
	"bibliography",
	"literature cited",
	"works cited",
}

// stripReferences cuts the text at the last line that is exactly a
// reference heading (optionally prefixed with Markdown heading markers or
// numbering). Everything before the heading survives unchanged.
func stripReferences(text string) string {
	lines := strings.Split(text, "\n")

	cut := -1
	for i, line := range lines {
		if isReferenceHeading(line) {
			cut = i
		}
	}
	if cut < 0 {
		return text
	}
	return strings.Join(lines[:cut], "\n")
}

func isReferenceHeading(line string) bool {
	s := strings.ToLower(strings.TrimSpace(line))
	s = strings.TrimLeft(s, "#*")
	s = strings.TrimSpace(s)
	// Tolerate numbered headings like "7. References".
	if i := strings.IndexFunc(s, func(r rune) bool { return r >= 'a' && r <= 'z' }); i > 0 {
		prefix := strings.TrimSpace(s[:i])
		if strings.Trim(prefix, "0123456789.") == "" {
			s = s[i:]
		}
	}
	s = strings.TrimRight(s, ":*")
	for _, h := range referenceHeadings {
		if s == h {
			return true
		}
	}
	return false
}
