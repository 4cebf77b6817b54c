// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hsayeed/knowmat/internal/store"
	"github.com/hsayeed/knowmat/pkg/types"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage the records index (store, retrieve, export)",
	Long: `Records manages a local SQLite index built over the tabular record
store. Use subcommands to ingest stores, query records, or export them
grouped back into record trees.`,
}

// --- store subcommand ---

var recordsStoreCmd = &cobra.Command{
	Use:   "store [stores...]",
	Short: "Ingest tabular record stores into the index",
	Long: `Store reads one or more CSV record stores, verifies their headers, and
ingests their rows into a SQLite database with FTS5 indexing. Stores
whose modification time has not changed are skipped on subsequent runs.`,
	RunE: runRecordsStore,
}

func runRecordsStore(cmd *cobra.Command, args []string) error {
	ix, err := store.NewIndex(recordsConfig(cmd))
	if err != nil {
		return err
	}
	defer ix.Close()

	paths := args
	if len(paths) == 0 {
		paths = []string{flagOrConfig(cmd, "output", "store.output_csv")}
	}

	summary, err := ix.Ingest(context.Background(), os.Stdout, paths...)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d store(s) failed indexing", summary.Failed)
	}
	return nil
}

// --- retrieve subcommand ---

var recordsRetrieveCmd = &cobra.Command{
	Use:   "retrieve [query]",
	Short: "Query the records index with full-text search and filters",
	Long: `Retrieve searches the records index using FTS5 full-text search over
compositions, property names, and characterization findings, structured
filters (domain, category, composition, file), or a combination of both.`,
	RunE: runRecordsRetrieve,
}

func runRecordsRetrieve(cmd *cobra.Command, args []string) error {
	ix, err := store.NewIndex(recordsConfig(cmd))
	if err != nil {
		return err
	}
	defer ix.Close()

	opts := queryOptsFromFlags(cmd, args)
	if opts.IsEmpty() {
		return fmt.Errorf("query or filter required: provide a search query, --domain, --category, --composition, --file, or --unmatched")
	}

	results, err := ix.Retrieve(context.Background(), opts)
	if err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	return formatRetrieveOutput(results, jsonOutput)
}

func formatRetrieveOutput(results []store.QueryResult, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-4s  %-20s  %-30s  %-12s  %-8s  %-25s\n",
		"Rank", "Composition", "Property", "Value", "Unit", "Standard Name")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 110))

	for i, r := range results {
		fmt.Fprintf(os.Stdout, "%-4d  %-20s  %-30s  %-12s  %-8s  %-25s\n",
			i+1, clip(r.Composition, 20), clip(r.PropertyName, 30),
			clip(r.Value.String(), 12), clip(r.Unit, 8), clip(r.StandardPropertyName, 25))
	}

	fmt.Fprintf(os.Stdout, "\n%d results\n", len(results))
	return nil
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

// --- export subcommand ---

var recordsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export indexed records to YAML or JSON record trees",
	Long: `Export writes the indexed records (or a filtered subset) to
index/export.yaml or export.json, grouped back into per-document record
trees. Supports the same filter flags as retrieve.`,
	RunE: runRecordsExport,
}

func runRecordsExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")

	cfg := recordsConfig(cmd)
	ix, err := store.NewIndex(cfg)
	if err != nil {
		return err
	}
	defer ix.Close()

	opts := queryOptsFromFlags(cmd, args)

	switch format {
	case "yaml", "":
		if err := ix.ExportYAML(context.Background(), opts); err != nil {
			return err
		}
		fmt.Printf("Exported to %s/export.yaml\n", cfg.IndexDir)
	case "json":
		if err := ix.ExportJSON(context.Background(), opts); err != nil {
			return err
		}
		fmt.Printf("Exported to %s/export.json\n", cfg.IndexDir)
	default:
		return fmt.Errorf("unsupported format %q: use yaml or json", format)
	}

	return nil
}

// --- shared helpers ---

func recordsConfig(cmd *cobra.Command) types.StoreConfig {
	indexDir := flagOrConfig(cmd, "index-dir", "store.index_dir")
	maxResults, _ := cmd.Flags().GetInt("max-results")

	return types.StoreConfig{
		IndexDir:   indexDir,
		MaxResults: maxResults,
	}
}

func queryOptsFromFlags(cmd *cobra.Command, args []string) store.QueryOptions {
	queryText, _ := cmd.Flags().GetString("query")
	if queryText == "" && len(args) > 0 {
		queryText = strings.Join(args, " ")
	}

	domain, _ := cmd.Flags().GetString("domain")
	category, _ := cmd.Flags().GetString("category")
	composition, _ := cmd.Flags().GetString("composition")
	file, _ := cmd.Flags().GetString("file")
	unmatched, _ := cmd.Flags().GetBool("unmatched")
	limit, _ := cmd.Flags().GetInt("limit")

	return store.QueryOptions{
		Query:         queryText,
		Domain:        domain,
		Category:      category,
		Composition:   composition,
		File:          file,
		OnlyUnmatched: unmatched,
		MaxResults:    limit,
	}
}

func init() {
	// Shared flags on the parent command, inherited by subcommands.
	recordsCmd.PersistentFlags().String("index-dir", "index", "directory holding the SQLite records index")
	recordsCmd.PersistentFlags().Int("max-results", 20, "maximum number of query results")

	// Store flags.
	recordsStoreCmd.Flags().String("output", "records.csv", "tabular store to ingest when no paths are given")

	// Retrieve flags.
	recordsRetrieveCmd.Flags().String("query", "", "full-text search query")
	recordsRetrieveCmd.Flags().String("domain", "", "filter by taxonomy domain")
	recordsRetrieveCmd.Flags().String("category", "", "filter by taxonomy category")
	recordsRetrieveCmd.Flags().String("composition", "", "filter by composition")
	recordsRetrieveCmd.Flags().String("file", "", "filter by originating document file name")
	recordsRetrieveCmd.Flags().Bool("unmatched", false, "only rows with no taxonomy assignment")
	recordsRetrieveCmd.Flags().Int("limit", 0, "maximum results (0 = use default)")
	recordsRetrieveCmd.Flags().Bool("json", false, "output results as JSON")

	// Export flags.
	recordsExportCmd.Flags().String("format", "yaml", "export format: yaml or json")
	recordsExportCmd.Flags().String("query", "", "full-text search filter for partial export")
	recordsExportCmd.Flags().String("domain", "", "filter by taxonomy domain")
	recordsExportCmd.Flags().String("category", "", "filter by taxonomy category")
	recordsExportCmd.Flags().String("composition", "", "filter by composition")
	recordsExportCmd.Flags().String("file", "", "filter by originating document file name")
	recordsExportCmd.Flags().Bool("unmatched", false, "only rows with no taxonomy assignment")
	recordsExportCmd.Flags().Int("limit", 0, "maximum rows to export (0 = all)")

	// Wire subcommands.
	recordsCmd.AddCommand(recordsStoreCmd)
	recordsCmd.AddCommand(recordsRetrieveCmd)
	recordsCmd.AddCommand(recordsExportCmd)

	rootCmd.AddCommand(recordsCmd)
}
