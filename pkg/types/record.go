// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NotProvided is the documented default for free-text fields the generator
// could not fill. Downstream consumers never branch on field absence.
const NotProvided = "not provided"

// Value holds one property measurement. The type is decided per value:
// numeric when the source parses as a floating-point number, otherwise the
// original string is retained.
type Value struct {
	Number   float64
	Text     string
	IsNumber bool
}

// NumberValue returns a numeric Value.
func NumberValue(f float64) Value {
	return Value{Number: f, IsNumber: true}
}

// TextValue returns a textual Value.
func TextValue(s string) Value {
	return Value{Text: s}
}

// ParseValue coerces a raw string into a Value, preferring the numeric form.
func ParseValue(s string) Value {
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return NumberValue(f)
	}
	return TextValue(s)
}

// IsZero reports whether the value carries neither a number nor text.
func (v Value) IsZero() bool {
	return !v.IsNumber && strings.TrimSpace(v.Text) == ""
}

// String renders the value the way it is written to the tabular store.
func (v Value) String() string {
	if v.IsNumber {
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	}
	return v.Text
}

// MarshalJSON emits a JSON number for numeric values and a string otherwise.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsNumber {
		return json.Marshal(v.Number)
	}
	return json.Marshal(v.Text)
}

// UnmarshalJSON accepts a JSON number, a string, or null. Strings that parse
// as numbers stay textual: the generator chose the representation.
func (v *Value) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*v = Value{}
		return nil
	}
	if len(s) > 0 && s[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*v = TextValue(text)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("value must be a number or string: %w", err)
	}
	*v = NumberValue(f)
	return nil
}

// MarshalYAML mirrors the JSON representation for YAML exports.
func (v Value) MarshalYAML() (any, error) {
	if v.IsNumber {
		return v.Number, nil
	}
	return v.Text, nil
}

// Property is one measured quantity as extracted, before normalization.
// Properties are immutable values; normalization produces a new
// NormalizedProperty rather than mutating in place.
type Property struct {
	// PropertyName is the free-text name as extracted.
	PropertyName string `json:"property_name" yaml:"property_name"`

	// Value is the measurement, numeric when parseable.
	Value Value `json:"value" yaml:"value"`

	// Unit is the measurement unit, possibly empty.
	Unit string `json:"unit" yaml:"unit"`

	// MeasurementCondition describes the conditions under which the
	// property was measured (defaults to "not provided").
	MeasurementCondition string `json:"measurement_condition" yaml:"measurement_condition"`

	// AdditionalInformation carries context that fits no other field.
	AdditionalInformation string `json:"additional_information,omitempty" yaml:"additional_information,omitempty"`
}

// NormalizedProperty is a Property enriched with its taxonomy assignment.
// The three taxonomy fields are either all null (no confident match) or all
// populated from a single taxonomy entry.
type NormalizedProperty struct {
	Property `yaml:",inline"`

	StandardPropertyName *string `json:"standard_property_name" yaml:"standard_property_name"`
	Category             *string `json:"category" yaml:"category"`
	Domain               *string `json:"domain" yaml:"domain"`
}

// WithMatch returns a new enriched property carrying the given taxonomy
// assignment.
func (p Property) WithMatch(domain, category, standardName string) NormalizedProperty {
	return NormalizedProperty{
		Property:             p,
		StandardPropertyName: &standardName,
		Category:             &category,
		Domain:               &domain,
	}
}

// Unmatched returns a new enriched property with the null taxonomy triple.
func (p Property) Unmatched() NormalizedProperty {
	return NormalizedProperty{Property: p}
}

// Matched reports whether the property carries a taxonomy assignment.
func (p NormalizedProperty) Matched() bool {
	return p.StandardPropertyName != nil
}

// Composition identifies one material sample and its extracted data. Within
// one document's extraction output there is at most one Composition per
// distinct composition string; duplicates are merged during validation.
type Composition struct {
	// Composition is the free-text chemical identifier (required).
	Composition string `json:"composition" yaml:"composition"`

	// ProcessingConditions is free text (defaults to "not provided").
	ProcessingConditions string `json:"processing_conditions" yaml:"processing_conditions"`

	// Characterization maps technique name to finding text.
	Characterization map[string]string `json:"characterization" yaml:"characterization"`

	// Properties are the extracted measurements whose names belong to the
	// controlled taxonomy.
	Properties []Property `json:"properties_of_composition" yaml:"properties_of_composition"`

	// NonStandardProperties are measurements whose names fall outside the
	// taxonomy (kept under the lenient schema policy).
	NonStandardProperties []Property `json:"non_standard_properties_of_composition,omitempty" yaml:"non_standard_properties_of_composition,omitempty"`
}

// Document is one source document's validated extraction output.
type Document struct {
	// FileName identifies the originating document.
	FileName string `json:"file_name" yaml:"file_name"`

	// Compositions are the validated material entries.
	Compositions []Composition `json:"compositions" yaml:"compositions"`
}

// NormalizedComposition mirrors Composition with enriched properties.
type NormalizedComposition struct {
	Composition           string               `json:"composition" yaml:"composition"`
	ProcessingConditions  string               `json:"processing_conditions" yaml:"processing_conditions"`
	Characterization      map[string]string    `json:"characterization" yaml:"characterization"`
	Properties            []NormalizedProperty `json:"properties_of_composition" yaml:"properties_of_composition"`
	NonStandardProperties []NormalizedProperty `json:"non_standard_properties_of_composition,omitempty" yaml:"non_standard_properties_of_composition,omitempty"`
}

// NormalizedDocument is the enriched record tree returned to the caller
// after normalization.
type NormalizedDocument struct {
	FileName     string                  `json:"file_name" yaml:"file_name"`
	Compositions []NormalizedComposition `json:"compositions" yaml:"compositions"`
}
