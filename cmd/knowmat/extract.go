// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hsayeed/knowmat/internal/genai"
	"github.com/hsayeed/knowmat/internal/match"
	"github.com/hsayeed/knowmat/internal/pipeline"
	"github.com/hsayeed/knowmat/internal/schema"
	"github.com/hsayeed/knowmat/internal/secrets"
	"github.com/hsayeed/knowmat/internal/store"
	"github.com/hsayeed/knowmat/internal/taxonomy"
	"github.com/hsayeed/knowmat/pkg/types"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract structured property records from converted documents",
	Long: `Extract runs every text file under docs/text/ through the structured
generator, validates the payloads against the record schema, normalizes
property names to the taxonomy, and merges the resulting rows into the
tabular store. Enriched record trees are written to docs/extracted/.

Documents are independent: a failing document is reported and the batch
continues. Unchanged documents are skipped on subsequent runs.`,
	RunE: runExtract,
}

func runExtract(cmd *cobra.Command, args []string) error {
	docsDir := flagOrConfig(cmd, "docs-dir", "extraction.docs_dir")
	taxonomyFile := flagOrConfig(cmd, "taxonomy", "extraction.taxonomy_file")
	model := flagOrConfig(cmd, "model", "extraction.model")
	host := flagOrConfig(cmd, "host", "extraction.host")
	policy := flagOrConfig(cmd, "policy", "extraction.policy")
	outputCSV := flagOrConfig(cmd, "output", "store.output_csv")
	workers, _ := cmd.Flags().GetInt("workers")
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	dedupe, _ := cmd.Flags().GetBool("dedupe")

	ix, err := taxonomy.Load(taxonomyFile)
	if err != nil {
		return err
	}

	aiCfg := types.AIConfig{
		Model:  model,
		Host:   host,
		APIKey: secretDefault(secrets.KeyOllama, viper.GetString("extraction.api_key")),
	}

	engine, err := buildEngine(cmd, ix, aiCfg)
	if err != nil {
		return err
	}

	system, err := pipeline.SystemPrompt(ix)
	if err != nil {
		return err
	}

	mode := types.MergeAppend
	if overwrite {
		mode = types.MergeOverwrite
	}

	cfg := types.ExtractionConfig{
		AIConfig: aiCfg,
		DocsDir:  docsDir,
		Policy:   types.SchemaPolicy(policy),
		Workers:  workers,
	}

	p := pipeline.New(
		genai.NewChatBackend(aiCfg),
		schema.NewValidator(ix, cfg.Policy),
		engine,
		store.NewStore(mode, dedupe),
		cfg,
		outputCSV,
		system,
	)

	summary, err := p.ProcessAll(context.Background(), os.Stdout)
	if err != nil {
		return err
	}
	if summary.HasFailures() {
		return fmt.Errorf("%d document(s) failed extraction", summary.Failed)
	}
	return nil
}

// buildEngine assembles the matching engine from the --strategy flag.
// The semantic strategy embeds every taxonomy alias up front, so an
// unreachable embeddings server fails here rather than mid-batch.
func buildEngine(cmd *cobra.Command, ix *taxonomy.Index, aiCfg types.AIConfig) (*match.Engine, error) {
	strategy := flagOrConfig(cmd, "strategy", "normalization.strategy")
	switch types.MatchStrategy(strategy) {
	case types.StrategyLexical, "":
		return match.NewEngine(match.NewLexical(ix)), nil
	case types.StrategySemantic:
		embedModel := flagOrConfig(cmd, "embed-model", "normalization.embed_model")
		if embedModel == "" {
			return nil, fmt.Errorf("semantic strategy requires --embed-model")
		}
		embedder := genai.NewEmbedClient(aiCfg, embedModel)
		sem, err := match.NewSemantic(cmd.Context(), embedder, ix)
		if err != nil {
			return nil, fmt.Errorf("preparing semantic strategy: %w", err)
		}
		return match.NewEngine(sem), nil
	default:
		return nil, fmt.Errorf("unsupported strategy %q: use lexical or semantic", strategy)
	}
}

func init() {
	extractCmd.Flags().String("model", "llama3.1:8b-instruct-q4_0", "model identifier for the structured generator")
	extractCmd.Flags().String("host", "", "model server base URL (default http://localhost:11434)")
	extractCmd.Flags().String("docs-dir", "docs", "base directory for documents (contains text/, extracted/)")
	extractCmd.Flags().String("taxonomy", "taxonomy.json", "path to the domain→category→name taxonomy JSON")
	extractCmd.Flags().String("policy", "lenient", "schema policy for unknown property names: strict or lenient")
	extractCmd.Flags().String("output", "records.csv", "path of the tabular record store")
	extractCmd.Flags().String("strategy", "lexical", "property matching strategy: lexical or semantic")
	extractCmd.Flags().String("embed-model", "", "embedding model for the semantic strategy")
	extractCmd.Flags().Int("workers", 1, "number of documents processed in parallel")
	extractCmd.Flags().Bool("overwrite", false, "replace store contents instead of appending")
	extractCmd.Flags().Bool("dedupe", false, "drop rows whose natural key already exists in the store")

	rootCmd.AddCommand(extractCmd)
}
