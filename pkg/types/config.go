// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// AIConfig holds shared settings for stages that call a generative model
// server.
type AIConfig struct {
	// Model is the model identifier (e.g. "llama3.1:8b-instruct-q4_0").
	Model string `json:"model" yaml:"model"`

	// Host is the base URL of the model server (default "http://localhost:11434").
	Host string `json:"host" yaml:"host"`

	// APIKey is an optional bearer token for hosted model servers.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// MaxRetries is the number of retry attempts for failed calls (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// Timeout is the per-request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// ConversionBackend identifies the document-to-text tool.
type ConversionBackend string

const (
	BackendMarkitdown ConversionBackend = "markitdown"
	BackendPdftotext  ConversionBackend = "pdftotext"
)

// ConversionConfig holds settings for the document-to-text stage.
type ConversionConfig struct {
	// Backend selects the conversion tool: markitdown or pdftotext.
	Backend ConversionBackend `json:"backend" yaml:"backend"`

	// DocsDir is the base directory for documents (contains raw/, text/).
	DocsDir string `json:"docs_dir" yaml:"docs_dir"`
}

// SchemaPolicy selects how unknown property names are handled during
// payload validation.
type SchemaPolicy string

const (
	// PolicyStrict rejects payloads whose standard properties carry names
	// outside the taxonomy alias list.
	PolicyStrict SchemaPolicy = "strict"

	// PolicyLenient accepts unknown names, routing them to the
	// composition's non-standard bucket.
	PolicyLenient SchemaPolicy = "lenient"
)

// ExtractionConfig holds settings for the structured-extraction stage.
type ExtractionConfig struct {
	AIConfig `yaml:",inline"`

	// DocsDir is the base directory for documents (contains text/, extracted/).
	DocsDir string `json:"docs_dir" yaml:"docs_dir"`

	// TaxonomyFile is the path to the domain→category→name taxonomy JSON.
	TaxonomyFile string `json:"taxonomy_file" yaml:"taxonomy_file"`

	// Policy selects strict or lenient schema enforcement (default lenient).
	Policy SchemaPolicy `json:"policy" yaml:"policy"`

	// Workers is the number of documents processed in parallel (default 1).
	Workers int `json:"workers" yaml:"workers"`
}

// MatchStrategy selects the property-name scoring strategy.
type MatchStrategy string

const (
	StrategyLexical  MatchStrategy = "lexical"
	StrategySemantic MatchStrategy = "semantic"
)

// NormalizationConfig holds settings for property-name normalization.
type NormalizationConfig struct {
	// Strategy selects lexical or semantic scoring (default lexical).
	Strategy MatchStrategy `json:"strategy" yaml:"strategy"`

	// EmbedModel is the embedding model used by the semantic strategy.
	EmbedModel string `json:"embed_model" yaml:"embed_model"`
}

// MergeMode governs how new rows combine with an existing tabular store.
type MergeMode string

const (
	// MergeAppend appends new rows after existing ones.
	MergeAppend MergeMode = "append"

	// MergeOverwrite replaces the store contents with the new rows.
	MergeOverwrite MergeMode = "overwrite"
)

// StoreConfig holds settings for the tabular record store and its index.
type StoreConfig struct {
	// OutputCSV is the path of the persisted tabular store.
	OutputCSV string `json:"output_csv" yaml:"output_csv"`

	// Mode selects append or overwrite merging (default append).
	Mode MergeMode `json:"mode" yaml:"mode"`

	// Dedupe drops incoming rows whose natural key (file name, composition,
	// property name, measurement condition) already exists in the store.
	Dedupe bool `json:"dedupe" yaml:"dedupe"`

	// IndexDir is the directory holding the SQLite records index.
	IndexDir string `json:"index_dir" yaml:"index_dir"`

	// MaxResults is the default maximum number of index query results
	// (default 20).
	MaxResults int `json:"max_results" yaml:"max_results"`
}

// PipelineConfig groups all stage configurations.
type PipelineConfig struct {
	Conversion    ConversionConfig    `json:"conversion" yaml:"conversion"`
	Extraction    ExtractionConfig    `json:"extraction" yaml:"extraction"`
	Normalization NormalizationConfig `json:"normalization" yaml:"normalization"`
	Store         StoreConfig         `json:"store" yaml:"store"`
}
