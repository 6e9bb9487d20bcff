package fields

import (
	"fmt"
	"sort"
	"strings"
)

// FieldType is the widget type of an extracted PDF field
type FieldType string

const (
	FieldTypeText      FieldType = "text"
	FieldTypeCheckbox  FieldType = "checkbox"
	FieldTypeRadio     FieldType = "radio"
	FieldTypeButton    FieldType = "button"
	FieldTypeChoice    FieldType = "choice"
	FieldTypeSignature FieldType = "signature"
)

// Position is a widget rectangle in PDF points
type Position struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Flags holds the field flags that affect mapping
type Flags struct {
	ReadOnly  bool `json:"readonly,omitempty" yaml:"readonly,omitempty"`
	Required  bool `json:"required,omitempty" yaml:"required,omitempty"`
	Multiline bool `json:"multiline,omitempty" yaml:"multiline,omitempty"`
}

// RawFieldRecord is one field as extracted from a PDF. Records are never mutated after
// extraction; helpers that need a variant return a copy.
type RawFieldRecord struct {
	Name       string    `json:"name"`
	FullName   string    `json:"full_name,omitempty"`
	FieldType  FieldType `json:"field_type"`
	Tooltip    string    `json:"tooltip,omitempty"`
	Page       int       `json:"page"`
	Position   Position  `json:"position"`
	Value      string    `json:"value,omitempty"`
	Flags      Flags     `json:"flags,omitempty"`
	Section    string    `json:"section,omitempty"`
	Part       *int      `json:"part,omitempty"`
	Line       *int      `json:"line,omitempty"`
	Subline    string    `json:"subline,omitempty"`
	ArrayIndex *int      `json:"array_index,omitempty"`

	// Repeats lists further widgets of the form that carry the same leaf name, such
	// as the A-Number header printed on every page
	Repeats []Occurrence `json:"repeats,omitempty"`
}

// Occurrence is one more place a repeated field appears
type Occurrence struct {
	FullName string `json:"full_name"`
	Page     int    `json:"page"`
}

// WithValue returns a copy of the record carrying value
func (r RawFieldRecord) WithValue(value string) RawFieldRecord {
	r.Value = value
	return r
}

// Key identifies a raw field within one version of one form
type Key struct {
	FormType string `json:"form_type"`
	Version  string `json:"version"`
	FieldID  string `json:"field_id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%s/%s", k.FormType, k.Version, k.FieldID)
}

// Less orders keys by form type, version and field id
func (k Key) Less(o Key) bool {
	if k.FormType != o.FormType {
		return k.FormType < o.FormType
	}
	if k.Version != o.Version {
		return k.Version < o.Version
	}
	return k.FieldID < o.FieldID
}

// MappingKind describes how raw fields back a canonical field
type MappingKind string

const (
	MappingOneToOne  MappingKind = "one_to_one"
	MappingReused    MappingKind = "one_to_many_reused"
	MappingRepeating MappingKind = "repeating"
	MappingComposite MappingKind = "composite"
)

// CollectionMapping binds one or more raw fields to one canonical field
type CollectionMapping struct {
	Kind           MappingKind `json:"kind"`
	CanonicalField string      `json:"canonical_field"`
	FormType       string      `json:"form_type"`
	Version        string      `json:"version"`
	FieldIDs       []string    `json:"field_ids"`
	Persona        string      `json:"persona"`
	Domain         string      `json:"domain"`
	Proposed       bool        `json:"proposed,omitempty"`

	// repeating
	Collection string `json:"collection,omitempty"`
	Occurrence int    `json:"occurrence,omitempty"`
	Component  string `json:"component,omitempty"`
	MaxItems   int    `json:"max_items,omitempty"`

	// composite; Value is the reconstructed string
	Value string `json:"value,omitempty"`

	PrepopulateFrom int `json:"prepopulate_from,omitempty"`
}

// Keys returns the raw-field keys covered by the mapping in sorted order
func (m CollectionMapping) Keys() []Key {
	keys := make([]Key, 0, len(m.FieldIDs))
	for _, id := range m.FieldIDs {
		keys = append(keys, Key{FormType: m.FormType, Version: m.Version, FieldID: id})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// DataType is the value type of a canonical field
type DataType string

const (
	DataTypeString  DataType = "string"
	DataTypeNumber  DataType = "number"
	DataTypeDate    DataType = "date"
	DataTypeBoolean DataType = "boolean"
	DataTypeArray   DataType = "array"
	DataTypeObject  DataType = "object"
)

// Valid reports whether d is a known data type
func (d DataType) Valid() bool {
	switch d {
	case DataTypeString, DataTypeNumber, DataTypeDate, DataTypeBoolean, DataTypeArray, DataTypeObject:
		return true
	}
	return false
}

// ValidationRule is one rule applied to values of a canonical field
type ValidationRule struct {
	RuleType     string                 `json:"rule_type" yaml:"rule_type"`
	Parameters   map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty" yaml:"error_message,omitempty"`
}

// CanonicalField is a reusable attribute of the master schema
type CanonicalField struct {
	FieldName       string              `json:"field_name" yaml:"field_name"`
	DataType        DataType            `json:"data_type" yaml:"data_type"`
	Description     string              `json:"description,omitempty" yaml:"description,omitempty"`
	ValidationRules []ValidationRule    `json:"validation_rules,omitempty" yaml:"validation_rules,omitempty"`
	Aliases         []string            `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	SubFields       []string            `json:"sub_fields,omitempty" yaml:"sub_fields,omitempty"`
	MaxItems        int                 `json:"max_items,omitempty" yaml:"max_items,omitempty"`
	FormMappings    []CollectionMapping `json:"form_mappings,omitempty" yaml:"-"`
}

// HasAlias reports whether token matches one of the aliases, ignoring case
func (c CanonicalField) HasAlias(token string) bool {
	for _, a := range c.Aliases {
		if strings.EqualFold(a, token) {
			return true
		}
	}
	return false
}

// HasSubField reports whether component is a declared sub-field
func (c CanonicalField) HasSubField(component string) bool {
	for _, s := range c.SubFields {
		if s == component {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so registry snapshots never share slices with the registry
func (c CanonicalField) Clone() CanonicalField {
	out := c
	out.Aliases = append([]string(nil), c.Aliases...)
	out.SubFields = append([]string(nil), c.SubFields...)
	out.ValidationRules = append([]ValidationRule(nil), c.ValidationRules...)
	if c.FormMappings != nil {
		out.FormMappings = make([]CollectionMapping, len(c.FormMappings))
		for i, m := range c.FormMappings {
			m.FieldIDs = append([]string(nil), m.FieldIDs...)
			out.FormMappings[i] = m
		}
	}
	return out
}
