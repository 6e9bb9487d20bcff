package schema

import (
	"time"

	"github.com/a3tai/form-field-mapper/internal/fields"
)

// Status is the review state of a schema version
type Status string

const (
	StatusDraft    Status = "draft"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// FieldFlags are the definition flags compared by Diff
type FieldFlags struct {
	Required  bool `json:"required"`
	ReadOnly  bool `json:"readonly,omitempty"`
	Multiline bool `json:"multiline,omitempty"`
}

// FormFieldDefinition is one field of a form version. Identity is FieldID.
type FormFieldDefinition struct {
	FieldID    string                 `json:"field_id"`
	FieldType  fields.FieldType       `json:"field_type"`
	DataType   fields.DataType        `json:"data_type,omitempty"`
	Page       int                    `json:"page,omitempty"`
	Position   fields.Position        `json:"position"`
	Flags      FieldFlags             `json:"flags"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// AuditEntry records one lifecycle event of a schema version
type AuditEntry struct {
	ID     string    `json:"id"`
	Action string    `json:"action"`
	From   Status    `json:"from,omitempty"`
	To     Status    `json:"to"`
	Actor  string    `json:"actor,omitempty"`
	Note   string    `json:"note,omitempty"`
	At     time.Time `json:"at"`
}

// FormSchema is one version of one form
type FormSchema struct {
	FormType        string                `json:"form_type"`
	Version         string                `json:"version"`
	Fields          []FormFieldDefinition `json:"fields"`
	Status          Status                `json:"status"`
	CreatedBy       string                `json:"created_by,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	ApprovedBy      string                `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time            `json:"approved_at,omitempty"`
	RejectionReason string                `json:"rejection_reason,omitempty"`
	History         []AuditEntry          `json:"history,omitempty"`
}

// Field returns the definition with the given id
func (s *FormSchema) Field(id string) (FormFieldDefinition, bool) {
	for _, f := range s.Fields {
		if f.FieldID == id {
			return f, true
		}
	}
	return FormFieldDefinition{}, false
}

// Clone returns a deep copy
func (s *FormSchema) Clone() *FormSchema {
	out := *s
	out.Fields = make([]FormFieldDefinition, len(s.Fields))
	for i, f := range s.Fields {
		if f.Properties != nil {
			props := make(map[string]interface{}, len(f.Properties))
			for k, v := range f.Properties {
				props[k] = v
			}
			f.Properties = props
		}
		out.Fields[i] = f
	}
	out.History = append([]AuditEntry(nil), s.History...)
	if s.ApprovedAt != nil {
		at := *s.ApprovedAt
		out.ApprovedAt = &at
	}
	return &out
}

// FromRecords builds draft field definitions from extracted records
func FromRecords(records []fields.RawFieldRecord) []FormFieldDefinition {
	defs := make([]FormFieldDefinition, 0, len(records))
	for _, r := range records {
		def := FormFieldDefinition{
			FieldID:   r.Name,
			FieldType: r.FieldType,
			Page:      r.Page,
			Position:  r.Position,
			Flags: FieldFlags{
				Required:  r.Flags.Required,
				ReadOnly:  r.Flags.ReadOnly,
				Multiline: r.Flags.Multiline,
			},
		}
		if r.Tooltip != "" {
			def.Properties = map[string]interface{}{"tooltip": r.Tooltip}
		}
		defs = append(defs, def)
	}
	return defs
}
