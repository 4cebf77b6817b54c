// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hsayeed/knowmat/internal/taxonomy"
	"github.com/hsayeed/knowmat/pkg/types"
)

var taxonomyCmd = &cobra.Command{
	Use:   "taxonomy",
	Short: "Inspect the property taxonomy",
}

// --- list subcommand ---

var taxonomyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List taxonomy entries in their deterministic order",
	Long: `List prints every domain → category → canonical name entry in the order
the matching stage iterates them. Ties between equally scored candidates
resolve to the earlier entry in this listing.`,
	RunE: runTaxonomyList,
}

func runTaxonomyList(cmd *cobra.Command, args []string) error {
	ix, err := loadTaxonomy(cmd)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tCATEGORY\tNAME")
	for _, e := range ix.Entries() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Domain, e.Category, e.Name)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d entries\n", ix.Len())
	return nil
}

// --- lookup subcommand ---

var taxonomyLookupCmd = &cobra.Command{
	Use:   "lookup <name>",
	Short: "Match a property name against the taxonomy",
	Long: `Lookup resolves a property name the way the normalization stage does:
exact (case-insensitive) alias resolution first, then the configured
matching strategy. Prints the winning entry or reports no match.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTaxonomyLookup,
}

func runTaxonomyLookup(cmd *cobra.Command, args []string) error {
	name := strings.Join(args, " ")

	ix, err := loadTaxonomy(cmd)
	if err != nil {
		return err
	}

	if entry, ok := ix.Lookup(name); ok {
		fmt.Printf("exact: %s → %s / %s / %s\n", name, entry.Domain, entry.Category, entry.Name)
		return nil
	}

	engine, err := buildEngine(cmd, ix, types.AIConfig{
		Host: flagOrConfig(cmd, "host", "extraction.host"),
	})
	if err != nil {
		return err
	}

	np, err := engine.NormalizeProperty(context.Background(), types.Property{PropertyName: name})
	if err != nil {
		return err
	}
	if !np.Matched() {
		fmt.Printf("no match: %q\n", name)
		return nil
	}

	fmt.Printf("matched: %s → %s / %s / %s\n", name, *np.Domain, *np.Category, *np.StandardPropertyName)
	return nil
}

func loadTaxonomy(cmd *cobra.Command) (*taxonomy.Index, error) {
	return taxonomy.Load(flagOrConfig(cmd, "taxonomy", "extraction.taxonomy_file"))
}

func init() {
	taxonomyCmd.PersistentFlags().String("taxonomy", "taxonomy.json", "path to the domain→category→name taxonomy JSON")

	taxonomyLookupCmd.Flags().String("strategy", "lexical", "property matching strategy: lexical or semantic")
	taxonomyLookupCmd.Flags().String("embed-model", "", "embedding model for the semantic strategy")
	taxonomyLookupCmd.Flags().String("host", "", "model server base URL (default http://localhost:11434)")

	taxonomyCmd.AddCommand(taxonomyListCmd)
	taxonomyCmd.AddCommand(taxonomyLookupCmd)

	rootCmd.AddCommand(taxonomyCmd)
}
