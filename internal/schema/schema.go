// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package schema validates structured-generator payloads against the record
// model and the taxonomy whitelist.
// See docs/ARCHITECTURE § Record Schema.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hsayeed/knowmat/internal/taxonomy"
	"github.com/hsayeed/knowmat/pkg/types"
)

// ErrValidation reports a generator payload that does not satisfy the
// record schema.
var ErrValidation = errors.New("schema validation failed")

// Payload is the wire shape the structured generator is asked to produce.
type Payload struct {
	Compositions []PayloadComposition `json:"compositions"`
}

// PayloadComposition is one material entry as returned by the generator.
// Pointer fields distinguish "absent" from "empty" so defaults can be
// applied exactly once, here.
type PayloadComposition struct {
	Composition          string            `json:"composition"`
	ProcessingConditions *string           `json:"processing_conditions"`
	Characterization     map[string]string `json:"characterization"`
	Properties           []PayloadProperty `json:"properties_of_composition"`
	NonStandard          []PayloadProperty `json:"non_standard_properties_of_composition"`
}

// PayloadProperty is one measurement as returned by the generator.
type PayloadProperty struct {
	PropertyName          string      `json:"property_name"`
	Value                 types.Value `json:"value"`
	Unit                  string      `json:"unit"`
	MeasurementCondition  *string     `json:"measurement_condition"`
	AdditionalInformation *string     `json:"additional_information"`
}

// Validator checks generator payloads against the record schema. The
// taxonomy index is injected once at construction; validation never
// re-reads the taxonomy source.
type Validator struct {
	index  *taxonomy.Index
	policy types.SchemaPolicy
}

// NewValidator returns a Validator enforcing the given policy. An empty
// policy defaults to lenient.
func NewValidator(index *taxonomy.Index, policy types.SchemaPolicy) *Validator {
	if policy == "" {
		policy = types.PolicyLenient
	}
	return &Validator{index: index, policy: policy}
}

// ValidatePayload parses raw generator JSON and validates it into a
// Document for fileName.
func (v *Validator) ValidatePayload(fileName string, raw []byte) (*types.Document, error) {
	var pl Payload
	if err := json.Unmarshal(raw, &pl); err != nil {
		return nil, fmt.Errorf("%w: parsing payload for %s: %v", ErrValidation, fileName, err)
	}
	return v.Validate(fileName, pl)
}

// Validate checks a parsed payload: required fields, value coercion,
// defaults, the taxonomy whitelist, and the one-entry-per-composition
// invariant. Compositions sharing the same identifier are merged rather
// than appended as separate entries.
func (v *Validator) Validate(fileName string, pl Payload) (*types.Document, error) {
	doc := &types.Document{FileName: fileName}
	byName := make(map[string]int) // composition string → index in doc.Compositions

	for i, pc := range pl.Compositions {
		name := strings.TrimSpace(pc.Composition)
		if name == "" {
			return nil, fmt.Errorf("%w: composition %d: missing composition field", ErrValidation, i)
		}

		standard, nonStandard, err := v.validateProperties(name, pc)
		if err != nil {
			return nil, err
		}

		if at, ok := byName[name]; ok {
			mergeComposition(&doc.Compositions[at], pc, standard, nonStandard)
			continue
		}

		doc.Compositions = append(doc.Compositions, types.Composition{
			Composition:           name,
			ProcessingConditions:  textDefault(pc.ProcessingConditions),
			Characterization:      characterizationDefault(pc.Characterization),
			Properties:            standard,
			NonStandardProperties: nonStandard,
		})
		byName[name] = len(doc.Compositions) - 1
	}

	return doc, nil
}

// validateProperties converts both property lists, routing unknown standard
// names according to the policy.
func (v *Validator) validateProperties(comp string, pc PayloadComposition) (standard, nonStandard []types.Property, err error) {
	for i, pp := range pc.Properties {
		p, err := v.validateProperty(comp, i, pp)
		if err != nil {
			return nil, nil, err
		}
		if _, known := v.index.Lookup(p.PropertyName); known {
			standard = append(standard, p)
			continue
		}
		if v.policy == types.PolicyStrict {
			return nil, nil, fmt.Errorf("%w: composition %q: property_name %q is not in the allowed list",
				ErrValidation, comp, p.PropertyName)
		}
		nonStandard = append(nonStandard, p)
	}

	for i, pp := range pc.NonStandard {
		p, err := v.validateProperty(comp, i, pp)
		if err != nil {
			return nil, nil, err
		}
		nonStandard = append(nonStandard, p)
	}

	return standard, nonStandard, nil
}

func (v *Validator) validateProperty(comp string, i int, pp PayloadProperty) (types.Property, error) {
	name := strings.TrimSpace(pp.PropertyName)
	if name == "" {
		return types.Property{}, fmt.Errorf("%w: composition %q: property %d: missing property_name",
			ErrValidation, comp, i)
	}
	if pp.Value.IsZero() {
		return types.Property{}, fmt.Errorf("%w: composition %q: property %q: value is neither a number nor a non-empty string",
			ErrValidation, comp, name)
	}

	return types.Property{
		PropertyName:          name,
		Value:                 pp.Value,
		Unit:                  pp.Unit,
		MeasurementCondition:  textDefault(pp.MeasurementCondition),
		AdditionalInformation: derefOr(pp.AdditionalInformation, ""),
	}, nil
}

// mergeComposition folds a duplicate composition entry into an existing
// one: properties are appended, characterization findings for the same
// technique are joined with semicolons.
func mergeComposition(dst *types.Composition, pc PayloadComposition, standard, nonStandard []types.Property) {
	dst.Properties = append(dst.Properties, standard...)
	dst.NonStandardProperties = append(dst.NonStandardProperties, nonStandard...)

	if cond := textDefault(pc.ProcessingConditions); cond != types.NotProvided && cond != dst.ProcessingConditions {
		if dst.ProcessingConditions == types.NotProvided {
			dst.ProcessingConditions = cond
		} else {
			dst.ProcessingConditions += "; " + cond
		}
	}

	for technique, finding := range pc.Characterization {
		existing, ok := dst.Characterization[technique]
		switch {
		case !ok:
			dst.Characterization[technique] = finding
		case existing != finding:
			dst.Characterization[technique] = existing + "; " + finding
		}
	}
}

func textDefault(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return types.NotProvided
	}
	return *s
}

func characterizationDefault(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
