// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hsayeed/knowmat/internal/pipeline"
	"github.com/hsayeed/knowmat/internal/secrets"
	"github.com/hsayeed/knowmat/internal/taxonomy"
	"github.com/hsayeed/knowmat/pkg/types"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Re-run property-name matching over an existing record store",
	Long: `Normalize re-matches every property name in the tabular store against
the taxonomy and rewrites the domain, category, and standard name columns
in place. Use it after editing the taxonomy or to switch matching
strategies without re-extracting documents.`,
	RunE: runNormalize,
}

func runNormalize(cmd *cobra.Command, args []string) error {
	taxonomyFile := flagOrConfig(cmd, "taxonomy", "extraction.taxonomy_file")
	outputCSV := flagOrConfig(cmd, "output", "store.output_csv")
	host := flagOrConfig(cmd, "host", "extraction.host")

	ix, err := taxonomy.Load(taxonomyFile)
	if err != nil {
		return err
	}

	aiCfg := types.AIConfig{
		Host:   host,
		APIKey: secretDefault(secrets.KeyOllama, viper.GetString("extraction.api_key")),
	}

	engine, err := buildEngine(cmd, ix, aiCfg)
	if err != nil {
		return err
	}

	changed, err := pipeline.Renormalize(cmd.Context(), engine, outputCSV)
	if err != nil {
		return err
	}

	fmt.Printf("normalized %s: %d row(s) changed\n", outputCSV, changed)
	return nil
}

func init() {
	normalizeCmd.Flags().String("taxonomy", "taxonomy.json", "path to the domain→category→name taxonomy JSON")
	normalizeCmd.Flags().String("output", "records.csv", "path of the tabular record store")
	normalizeCmd.Flags().String("strategy", "lexical", "property matching strategy: lexical or semantic")
	normalizeCmd.Flags().String("embed-model", "", "embedding model for the semantic strategy")
	normalizeCmd.Flags().String("host", "", "model server base URL (default http://localhost:11434)")

	rootCmd.AddCommand(normalizeCmd)
}
