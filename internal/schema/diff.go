package schema

import (
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// ChangeType classifies one field change between versions
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeRemoved  ChangeType = "removed"
	ChangeModified ChangeType = "modified"
)

// Changed attribute names reported in FieldChange.Attributes
const (
	AttrFieldType  = "field_type"
	AttrDataType   = "data_type"
	AttrPage       = "page"
	AttrPosition   = "position"
	AttrRequired   = "flags.required"
	AttrFlags      = "flags"
	AttrProperties = "properties"
)

// FieldChange is one added, removed or modified field
type FieldChange struct {
	FieldID    string               `json:"field_id"`
	ChangeType ChangeType           `json:"change_type"`
	Previous   *FormFieldDefinition `json:"previous_value,omitempty"`
	New        *FormFieldDefinition `json:"new_value,omitempty"`
	Attributes []string             `json:"attributes,omitempty"`
}

// VersionDiff lists the changes from one version to another, ordered by field id
type VersionDiff struct {
	FormType    string        `json:"form_type"`
	FromVersion string        `json:"from_version"`
	ToVersion   string        `json:"to_version"`
	Changes     []FieldChange `json:"changes"`
}

// definitionOpts treat nil and empty property maps alike
var definitionOpts = cmp.Options{cmpopts.EquateEmpty()}

// Diff compares two versions by field id. Any attribute difference makes a field modified.
func Diff(a, b *FormSchema) VersionDiff {
	d := VersionDiff{
		FormType:    b.FormType,
		FromVersion: a.Version,
		ToVersion:   b.Version,
		Changes:     []FieldChange{},
	}
	if d.FormType == "" {
		d.FormType = a.FormType
	}

	before := index(a.Fields)
	after := index(b.Fields)

	for id, prev := range before {
		next, ok := after[id]
		if !ok {
			d.Changes = append(d.Changes, FieldChange{FieldID: id, ChangeType: ChangeRemoved, Previous: &prev})
			continue
		}
		if attrs := changedAttributes(prev, next); len(attrs) > 0 {
			d.Changes = append(d.Changes, FieldChange{
				FieldID:    id,
				ChangeType: ChangeModified,
				Previous:   &prev,
				New:        &next,
				Attributes: attrs,
			})
		}
	}
	for id, next := range after {
		if _, ok := before[id]; !ok {
			d.Changes = append(d.Changes, FieldChange{FieldID: id, ChangeType: ChangeAdded, New: &next})
		}
	}

	sort.Slice(d.Changes, func(i, j int) bool { return d.Changes[i].FieldID < d.Changes[j].FieldID })
	return d
}

func index(defs []FormFieldDefinition) map[string]FormFieldDefinition {
	out := make(map[string]FormFieldDefinition, len(defs))
	for _, def := range defs {
		out[def.FieldID] = def
	}
	return out
}

func changedAttributes(a, b FormFieldDefinition) []string {
	if cmp.Equal(a, b, definitionOpts) {
		return nil
	}

	var attrs []string
	if a.FieldType != b.FieldType {
		attrs = append(attrs, AttrFieldType)
	}
	if a.DataType != b.DataType {
		attrs = append(attrs, AttrDataType)
	}
	if a.Page != b.Page {
		attrs = append(attrs, AttrPage)
	}
	if a.Position != b.Position {
		attrs = append(attrs, AttrPosition)
	}
	if a.Flags.Required != b.Flags.Required {
		attrs = append(attrs, AttrRequired)
	}
	if a.Flags.ReadOnly != b.Flags.ReadOnly || a.Flags.Multiline != b.Flags.Multiline {
		attrs = append(attrs, AttrFlags)
	}
	if !cmp.Equal(a.Properties, b.Properties, definitionOpts) {
		attrs = append(attrs, AttrProperties)
	}
	return attrs
}

// Reverse returns the diff in the opposite direction: added and removed swap, and
// modified entries swap previous and new values
func (d VersionDiff) Reverse() VersionDiff {
	out := VersionDiff{
		FormType:    d.FormType,
		FromVersion: d.ToVersion,
		ToVersion:   d.FromVersion,
		Changes:     make([]FieldChange, len(d.Changes)),
	}
	for i, c := range d.Changes {
		r := FieldChange{
			FieldID:    c.FieldID,
			Previous:   c.New,
			New:        c.Previous,
			Attributes: c.Attributes,
		}
		switch c.ChangeType {
		case ChangeAdded:
			r.ChangeType = ChangeRemoved
		case ChangeRemoved:
			r.ChangeType = ChangeAdded
		default:
			r.ChangeType = c.ChangeType
		}
		out.Changes[i] = r
	}
	return out
}

// ByType returns the changes of one type
func (d VersionDiff) ByType(t ChangeType) []FieldChange {
	var out []FieldChange
	for _, c := range d.Changes {
		if c.ChangeType == t {
			out = append(out, c)
		}
	}
	return out
}

// IsBreaking reports whether a single change needs a major bump
func (c FieldChange) IsBreaking() bool {
	switch c.ChangeType {
	case ChangeRemoved:
		return true
	case ChangeAdded:
		return c.New != nil && c.New.Flags.Required
	}
	for _, a := range c.Attributes {
		switch a {
		case AttrFieldType, AttrDataType:
			return true
		case AttrRequired:
			if c.New != nil && c.New.Flags.Required {
				return true
			}
		}
	}
	return false
}

// RequiredBump applies the bump policy: a removal, a data or field type change, or a new
// required field is major; an optional field added is minor; anything else is a patch
func RequiredBump(d VersionDiff) Bump {
	bump := BumpNone
	for _, c := range d.Changes {
		switch {
		case c.IsBreaking():
			return BumpMajor
		case c.ChangeType == ChangeAdded:
			bump = maxBump(bump, BumpMinor)
		default:
			bump = maxBump(bump, BumpPatch)
		}
	}
	return bump
}

func maxBump(a, b Bump) Bump {
	if a > b {
		return a
	}
	return b
}
