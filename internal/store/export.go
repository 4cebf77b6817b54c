// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/hsayeed/knowmat/pkg/types"
)

// ExportProperty is one property row rebuilt for export. The taxonomy
// fields are pointers so unmatched properties export as nulls.
type ExportProperty struct {
	PropertyName         string      `json:"property_name" yaml:"property_name"`
	Value                types.Value `json:"value" yaml:"value"`
	Unit                 string      `json:"unit" yaml:"unit"`
	MeasurementCondition string      `json:"measurement_condition" yaml:"measurement_condition"`
	Domain               *string     `json:"domain" yaml:"domain"`
	Category             *string     `json:"category" yaml:"category"`
	StandardPropertyName *string     `json:"standard_property_name" yaml:"standard_property_name"`
}

// ExportComposition groups a composition's rows back into one entry.
type ExportComposition struct {
	Composition          string           `json:"composition" yaml:"composition"`
	ProcessingConditions string           `json:"processing_conditions" yaml:"processing_conditions"`
	Characterization     string           `json:"characterization" yaml:"characterization"`
	Properties           []ExportProperty `json:"properties" yaml:"properties"`
}

// ExportDocument groups one source document's compositions.
type ExportDocument struct {
	FileName     string              `json:"file_name" yaml:"file_name"`
	Compositions []ExportComposition `json:"compositions" yaml:"compositions"`
}

const exportLimit = 100000

// ExportYAML writes the filtered index contents to indexDir/export.yaml,
// grouped by document and composition. It supports the same filters as
// Retrieve.
func (ix *Index) ExportYAML(ctx context.Context, opts QueryOptions) error {
	docs, err := ix.exportDocuments(ctx, opts)
	if err != nil {
		return err
	}

	path := filepath.Join(ix.indexDir, "export.yaml")
	data, err := yaml.Marshal(docs)
	if err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ExportJSON writes the filtered index contents to indexDir/export.json,
// grouped by document and composition. It supports the same filters as
// Retrieve.
func (ix *Index) ExportJSON(ctx context.Context, opts QueryOptions) error {
	docs, err := ix.exportDocuments(ctx, opts)
	if err != nil {
		return err
	}

	path := filepath.Join(ix.indexDir, "export.json")
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// exportDocuments regroups flat rows into the document→composition tree,
// preserving first-encounter order of documents and compositions.
func (ix *Index) exportDocuments(ctx context.Context, opts QueryOptions) ([]ExportDocument, error) {
	opts.MaxResults = exportLimit
	results, err := ix.Retrieve(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("querying for export: %w", err)
	}

	var docs []ExportDocument
	docIdx := make(map[string]int)
	compIdx := make(map[string]int)

	for _, r := range results {
		di, ok := docIdx[r.FileName]
		if !ok {
			di = len(docs)
			docIdx[r.FileName] = di
			docs = append(docs, ExportDocument{FileName: r.FileName})
		}

		compKey := r.FileName + "\x1f" + r.Composition
		ci, ok := compIdx[compKey]
		if !ok {
			ci = len(docs[di].Compositions)
			compIdx[compKey] = ci
			docs[di].Compositions = append(docs[di].Compositions, ExportComposition{
				Composition:          r.Composition,
				ProcessingConditions: r.ProcessingCondition,
				Characterization:     r.Characterization,
			})
		}

		prop := ExportProperty{
			PropertyName:         r.PropertyName,
			Value:                r.Value,
			Unit:                 r.Unit,
			MeasurementCondition: r.MeasurementCondition,
		}
		if r.StandardPropertyName != "" {
			domain, category, name := r.Domain, r.Category, r.StandardPropertyName
			prop.Domain, prop.Category, prop.StandardPropertyName = &domain, &category, &name
		}
		docs[di].Compositions[ci].Properties = append(docs[di].Compositions[ci].Properties, prop)
	}

	return docs, nil
}
