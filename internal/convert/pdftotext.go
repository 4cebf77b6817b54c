// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"bytes"
	"fmt"
	"os/exec"
)

const binPdftotext = "pdftotext"

// PdftotextConverter converts PDFs with the poppler pdftotext binary on
// PATH. Layout mode keeps table columns aligned, which the extraction
// prompt handles better than interleaved text.
type PdftotextConverter struct {
	// lookPath and run are package-level behavior injected for tests.
	lookPath func(string) (string, error)
	run      func(args ...string) ([]byte, error)
}

// NewPdftotextConverter creates a converter backed by the pdftotext
// binary. It verifies the binary is on PATH before returning.
func NewPdftotextConverter() (*PdftotextConverter, error) {
	c := &PdftotextConverter{
		lookPath: exec.LookPath,
		run: func(args ...string) ([]byte, error) {
			var out bytes.Buffer
			cmd := exec.Command(binPdftotext, args...)
			cmd.Stdout = &out
			if err := cmd.Run(); err != nil {
				return nil, err
			}
			return out.Bytes(), nil
		},
	}
	if _, err := c.lookPath(binPdftotext); err != nil {
		return nil, fmt.Errorf("pdftotext not found on PATH: %w", err)
	}
	return c, nil
}

// Convert runs pdftotext in layout mode, writing to stdout.
func (c *PdftotextConverter) Convert(path string) (string, error) {
	out, err := c.run("-layout", path, "-")
	if err != nil {
		return "", fmt.Errorf("converting %s with pdftotext: %w", path, err)
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return "", fmt.Errorf("pdftotext produced empty output for %s", path)
	}
	return string(out), nil
}
