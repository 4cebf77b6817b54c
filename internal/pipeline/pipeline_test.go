package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hsayeed/knowmat/internal/match"
	"github.com/hsayeed/knowmat/internal/schema"
	"github.com/hsayeed/knowmat/internal/store"
	"github.com/hsayeed/knowmat/internal/taxonomy"
	"github.com/hsayeed/knowmat/pkg/types"
)

func init() {
	// Use a tiny base delay so retry tests finish quickly.
	backoffBase = 1 * time.Millisecond
}

const pipelineTaxonomy = `{
  "thermal": {
    "transport": ["Seebeck coefficient", "thermal conductivity"]
  },
  "mechanical": {
    "elastic": ["Young's modulus"]
  }
}`

const bi2te3Payload = `{
  "compositions": [
    {
      "composition": "Bi2Te3",
      "processing_conditions": "SPS at 300°C under 50 MPa for 10 minutes",
      "characterization": {"XRD": "lattice parameter: 3.5 Å"},
      "properties_of_composition": [
        {
          "property_name": "Seebeck coefficient",
          "value": 200.0,
          "unit": "μV/K",
          "measurement_condition": "at 300 K in a polycrystalline state"
        }
      ],
      "non_standard_properties_of_composition": [
        {
          "property_name": "ZT value",
          "value": 1.2,
          "unit": "dimensionless",
          "measurement_condition": "at 300 K"
        }
      ]
    }
  ]
}`

// genFunc adapts a function to the Generator interface.
type genFunc func(ctx context.Context, system, user string) ([]byte, error)

func (f genFunc) Generate(ctx context.Context, system, user string) ([]byte, error) {
	return f(ctx, system, user)
}

func pipelineSetup(t *testing.T, gen Generator) (*Pipeline, string, string) {
	t.Helper()
	tmpDir := t.TempDir()
	docsDir := filepath.Join(tmpDir, "docs")
	if err := os.MkdirAll(filepath.Join(docsDir, textDir), 0o755); err != nil {
		t.Fatal(err)
	}
	outputCSV := filepath.Join(tmpDir, "records.csv")

	ix, err := taxonomy.Parse([]byte(pipelineTaxonomy))
	if err != nil {
		t.Fatal(err)
	}
	system, err := SystemPrompt(ix)
	if err != nil {
		t.Fatal(err)
	}

	validator := schema.NewValidator(ix, types.PolicyLenient)
	engine := match.NewEngine(match.NewLexical(ix))
	records := store.NewStore(types.MergeAppend, false)
	cfg := types.ExtractionConfig{DocsDir: docsDir, Workers: 2}

	return New(gen, validator, engine, records, cfg, outputCSV, system), docsDir, outputCSV
}

func writeText(t *testing.T, docsDir, name, content string) {
	t.Helper()
	path := filepath.Join(docsDir, textDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSystemPrompt_ListsAllowedNames(t *testing.T) {
	ix, err := taxonomy.Parse([]byte(pipelineTaxonomy))
	if err != nil {
		t.Fatal(err)
	}

	system, err := SystemPrompt(ix)
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"Seebeck coefficient", "thermal conductivity", "Young's modulus"} {
		if !strings.Contains(system, "- "+name) {
			t.Errorf("system prompt missing allowed name %q", name)
		}
	}
	if strings.Contains(system, "- \n") {
		t.Error("system prompt lists the sentinel alias")
	}
}

func TestProcessDocument_NormalizesPayload(t *testing.T) {
	gen := genFunc(func(_ context.Context, _, _ string) ([]byte, error) {
		return []byte(bi2te3Payload), nil
	})
	p, _, _ := pipelineSetup(t, gen)

	doc, err := p.ProcessDocument(context.Background(), "bi2te3.pdf", "some converted text")
	if err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}

	if len(doc.Compositions) != 1 {
		t.Fatalf("got %d compositions, want 1", len(doc.Compositions))
	}
	comp := doc.Compositions[0]

	if len(comp.Properties) != 1 {
		t.Fatalf("got %d properties, want 1", len(comp.Properties))
	}
	prop := comp.Properties[0]
	if !prop.Matched() {
		t.Fatal("Seebeck coefficient did not match the taxonomy")
	}
	if *prop.Domain != "thermal" || *prop.Category != "transport" || *prop.StandardPropertyName != "Seebeck coefficient" {
		t.Errorf("taxonomy triple = %s/%s/%s", *prop.Domain, *prop.Category, *prop.StandardPropertyName)
	}

	if len(comp.NonStandardProperties) != 1 {
		t.Fatalf("got %d non-standard properties, want 1", len(comp.NonStandardProperties))
	}
	if comp.NonStandardProperties[0].Matched() {
		t.Error("ZT value matched the taxonomy, want unmatched")
	}
}

func TestProcessDocument_RetriesOnInvalidPayload(t *testing.T) {
	var calls int32
	gen := genFunc(func(_ context.Context, _, _ string) ([]byte, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return []byte("not json"), nil
		}
		return []byte(bi2te3Payload), nil
	})
	p, _, _ := pipelineSetup(t, gen)

	_, err := p.ProcessDocument(context.Background(), "bi2te3.pdf", "text")
	if err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("generator called %d times, want 2", got)
	}
}

func TestProcessDocument_ExhaustsRetries(t *testing.T) {
	genErr := errors.New("model unavailable")
	var calls int32
	gen := genFunc(func(_ context.Context, _, _ string) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, genErr
	})
	p, _, _ := pipelineSetup(t, gen)

	_, err := p.ProcessDocument(context.Background(), "doc.pdf", "text")
	if !errors.Is(err, genErr) {
		t.Errorf("err = %v, want wrapped %v", err, genErr)
	}
	// 1 initial + 3 default retries = 4 total calls.
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Errorf("generator called %d times, want 4", got)
	}
}

func TestProcessAll_PartialFailure(t *testing.T) {
	// Document 2's payload is persistently malformed; 1 and 3 succeed.
	gen := genFunc(func(_ context.Context, _, user string) ([]byte, error) {
		if strings.Contains(user, "doc2 body") {
			return []byte("{broken"), nil
		}
		return []byte(bi2te3Payload), nil
	})
	p, docsDir, outputCSV := pipelineSetup(t, gen)

	writeText(t, docsDir, "doc1.txt", "doc1 body")
	writeText(t, docsDir, "doc2.txt", "doc2 body")
	writeText(t, docsDir, "doc3.txt", "doc3 body")

	var buf strings.Builder
	summary, err := p.ProcessAll(context.Background(), &buf)
	if err != nil {
		t.Fatalf("ProcessAll: %v", err)
	}

	if summary.Extracted != 2 || summary.Failed != 1 || summary.Skipped != 0 {
		t.Errorf("summary = %+v, want 2 extracted, 1 failed", summary)
	}
	if !summary.HasFailures() {
		t.Error("HasFailures = false, want true")
	}

	// Rows from the surviving documents landed in the store.
	rows, err := store.Load(outputCSV)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(rows) != 4 {
		t.Errorf("got %d rows, want 4 (2 per surviving document)", len(rows))
	}

	// Enriched trees exist for the survivors only.
	for name, want := range map[string]bool{"doc1.json": true, "doc2.json": false, "doc3.json": true} {
		_, err := os.Stat(filepath.Join(docsDir, extractedDir, name))
		if exists := err == nil; exists != want {
			t.Errorf("%s exists = %v, want %v", name, exists, want)
		}
	}

	if !strings.Contains(buf.String(), "failed  doc2") {
		t.Errorf("status output missing failure line:\n%s", buf.String())
	}
}

func TestProcessAll_SkipsUnchanged(t *testing.T) {
	gen := genFunc(func(_ context.Context, _, _ string) ([]byte, error) {
		return []byte(bi2te3Payload), nil
	})
	p, docsDir, _ := pipelineSetup(t, gen)

	writeText(t, docsDir, "doc1.txt", "doc1 body")

	if _, err := p.ProcessAll(context.Background(), &strings.Builder{}); err != nil {
		t.Fatal(err)
	}

	// Make the output visibly newer than the text file.
	outPath := filepath.Join(docsDir, extractedDir, "doc1.json")
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(outPath, future, future); err != nil {
		t.Fatal(err)
	}

	summary, err := p.ProcessAll(context.Background(), &strings.Builder{})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Skipped != 1 || summary.Extracted != 0 {
		t.Errorf("summary = %+v, want 1 skipped", summary)
	}
}

func TestProcessAll_WritesEnrichedTree(t *testing.T) {
	gen := genFunc(func(_ context.Context, _, _ string) ([]byte, error) {
		return []byte(bi2te3Payload), nil
	})
	p, docsDir, _ := pipelineSetup(t, gen)

	writeText(t, docsDir, "bi2te3.txt", "body")

	if _, err := p.ProcessAll(context.Background(), &strings.Builder{}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(docsDir, extractedDir, "bi2te3.json"))
	if err != nil {
		t.Fatal(err)
	}

	var doc types.NormalizedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parsing enriched tree: %v", err)
	}
	if doc.FileName != "bi2te3" {
		t.Errorf("file_name = %q", doc.FileName)
	}
	if len(doc.Compositions) != 1 || !doc.Compositions[0].Properties[0].Matched() {
		t.Errorf("enriched tree = %+v", doc)
	}
}

func TestRenormalize_UpdatesTaxonomyColumns(t *testing.T) {
	tmpDir := t.TempDir()
	csvPath := filepath.Join(tmpDir, "records.csv")

	rows := []store.Row{
		{
			FileName: "doc1.pdf", Composition: "Bi2Te3",
			PropertyName: "Seebeck coefficient anisotropy",
			Value:        types.NumberValue(200), Unit: "μV/K",
			MeasurementCondition: "room temperature",
		},
		{
			FileName: "doc1.pdf", Composition: "Bi2Te3",
			PropertyName: "banana ripeness",
			Value:        types.TextValue("high"),
		},
	}
	if err := store.NewStore(types.MergeAppend, false).Save(rows, csvPath); err != nil {
		t.Fatal(err)
	}

	ix, err := taxonomy.Parse([]byte(pipelineTaxonomy))
	if err != nil {
		t.Fatal(err)
	}
	engine := match.NewEngine(match.NewLexical(ix))

	changed, err := Renormalize(context.Background(), engine, csvPath)
	if err != nil {
		t.Fatalf("Renormalize: %v", err)
	}
	if changed != 1 {
		t.Errorf("changed = %d, want 1", changed)
	}

	got, err := store.Load(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].StandardPropertyName != "Seebeck coefficient" || got[0].Domain != "thermal" {
		t.Errorf("row 0 = %+v, want Seebeck coefficient match", got[0])
	}
	if got[1].StandardPropertyName != "" {
		t.Errorf("row 1 matched %q, want unmatched", got[1].StandardPropertyName)
	}
}
