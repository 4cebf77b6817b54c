// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/hsayeed/knowmat/internal/taxonomy"
)

// extractionPromptTmpl is the system prompt sent with every document. It
// instructs the model to extract compositions, processing conditions,
// characterization findings, and properties, and constrains standard
// property names to the allowed list flattened from the taxonomy.
var extractionPromptTmpl = template.Must(template.New("extraction").Parse(`You are an expert in extracting scientific information from materials science text.
Your task is to extract material compositions, their processing conditions, characterization information, and their associated properties with full details.

When extracting properties, follow these instructions strictly:

1. Extract processing conditions: for each composition, extract all mentioned processing conditions (e.g., annealing at 300°C, spark plasma sintering, hydrothermal synthesis) and record them as a single string. Include specific details like temperature, pressure, time, and atmosphere. Combine multiple steps with semicolons. If processing conditions are missing or ambiguous, write "not provided".

2. Extract characterization techniques and findings: record them as an object where keys are technique names (e.g., XRD, SEM, TEM, FTIR) and values are the corresponding findings (e.g., "lattice parameter: 3.5 Å"). Combine multiple findings for one technique with semicolons.

3. Group all properties under a single entry for each composition: each composition must appear only once in the output, regardless of how many times it is mentioned.

4. Record properties with full details: for each property, extract the property name, value, unit, and measurement condition. Context that fits no other field (e.g., anisotropy, reductions, improvements) goes in "additional_information". Multiple measurements of the same property under different conditions are separate entries within the same composition.

5. Ensure all measurement conditions are specified. If a condition is missing or ambiguous, write "not provided".

6. Do not change or modify numerical values, units, or measurement conditions. Only format them as structured output.

7. Property names in "properties_of_composition" must come from the allowed list below, using the closest match. Properties whose names fit nothing on the list go in "non_standard_properties_of_composition".

Allowed property names:
{{range .Allowed}}- {{.}}
{{end}}
8. Ensure every composition includes all fields (processing_conditions, characterization, properties_of_composition) with defaults when information is missing.

Respond with a single JSON object matching the requested format. Do not include any text outside the JSON object.`))

// SystemPrompt renders the extraction instructions with the taxonomy's
// allowed property names. The sentinel alias is omitted: it exists for
// the matching stage, not the generator.
func SystemPrompt(ix *taxonomy.Index) (string, error) {
	var allowed []string
	for _, alias := range ix.AliasList() {
		if alias == taxonomy.Sentinel {
			continue
		}
		allowed = append(allowed, alias)
	}

	var buf bytes.Buffer
	if err := extractionPromptTmpl.Execute(&buf, struct{ Allowed []string }{Allowed: allowed}); err != nil {
		return "", fmt.Errorf("rendering system prompt: %w", err)
	}
	return buf.String(), nil
}

// UserPrompt wraps one document's text for the generator.
func UserPrompt(text string) string {
	return fmt.Sprintf("Here is some information from a materials science literature:\n%s\n\nExtract data from it following the instructions.", strings.TrimSpace(text))
}
