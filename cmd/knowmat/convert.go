// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hsayeed/knowmat/internal/container"
	"github.com/hsayeed/knowmat/internal/convert"
	"github.com/hsayeed/knowmat/pkg/types"
)

var convertCmd = &cobra.Command{
	Use:   "convert [documents...]",
	Short: "Convert source documents to plain text",
	Long: `Convert transforms source documents (PDFs and other formats) into the
plain text the extraction stage consumes. Trailing reference sections are
stripped. Supports pdftotext and markitdown (container-based) backends.

With document arguments, converts the named files. With --batch, converts
everything under docs/raw/.`,
	RunE: runConvert,
}

func runConvert(cmd *cobra.Command, args []string) error {
	docsDir := flagOrConfig(cmd, "docs-dir", "conversion.docs_dir")
	backend := flagOrConfig(cmd, "backend", "conversion.backend")
	batch, _ := cmd.Flags().GetBool("batch")

	if !batch && len(args) == 0 {
		return fmt.Errorf("nothing to convert: pass document paths or --batch")
	}

	conv, err := newConverter(types.ConversionBackend(backend))
	if err != nil {
		return err
	}

	var result convert.BatchResult
	if batch {
		result, err = convert.ConvertDir(conv, docsDir, []string{".pdf", ".docx", ".html"}, os.Stdout)
		if err != nil {
			return err
		}
	} else {
		result = convert.ConvertPaths(conv, args, docsDir, os.Stdout)
	}

	if result.HasFailures() {
		return fmt.Errorf("%d document(s) failed conversion", result.Failed)
	}
	return nil
}

func newConverter(backend types.ConversionBackend) (convert.Converter, error) {
	switch backend {
	case types.BackendPdftotext:
		return convert.NewPdftotextConverter()
	case types.BackendMarkitdown, "":
		rt, err := container.DetectRuntime()
		if err != nil {
			return nil, err
		}
		return convert.NewMarkitdownConverter(rt)
	default:
		return nil, fmt.Errorf("unsupported backend %q: use markitdown or pdftotext", backend)
	}
}

func init() {
	convertCmd.Flags().String("backend", "markitdown", "conversion backend: markitdown or pdftotext")
	convertCmd.Flags().String("docs-dir", "docs", "base directory for documents (contains raw/, text/)")
	convertCmd.Flags().Bool("batch", false, "convert all documents under docs-dir/raw/")

	rootCmd.AddCommand(convertCmd)
}
