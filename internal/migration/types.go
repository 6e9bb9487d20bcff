package migration

import (
	"time"

	"github.com/a3tai/form-field-mapper/internal/schema"
)

// Type says whether a strategy can run unattended
type Type string

const (
	TypeInPlace Type = "in_place"
	TypeManual  Type = "manual"
)

// TransformType names a field-level transform
type TransformType string

const (
	TransformDirect     TransformType = "direct"
	TransformRename     TransformType = "rename"
	TransformConvert    TransformType = "convert"
	TransformFormatDate TransformType = "format_date"
	TransformMap        TransformType = "map"
	TransformTruncate   TransformType = "truncate"
	TransformDefault    TransformType = "default"
	TransformDrop       TransformType = "drop"
)

// FieldRule migrates one field across one strategy edge
type FieldRule struct {
	FieldID     string                 `json:"field_id" yaml:"field_id"`
	ChangeType  schema.ChangeType      `json:"change_type" yaml:"change_type"`
	Transform   TransformType          `json:"transform,omitempty" yaml:"transform,omitempty"`
	TargetField string                 `json:"target_field,omitempty" yaml:"target_field,omitempty"`
	Default     interface{}            `json:"default,omitempty" yaml:"default,omitempty"`
	Required    bool                   `json:"required,omitempty" yaml:"required,omitempty"`
	Params      map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
}

// Strategy is a directed edge between two versions of a form
type Strategy struct {
	ID            string      `json:"id" yaml:"id"`
	FormType      string      `json:"form_type" yaml:"form_type"`
	FromVersion   string      `json:"from_version" yaml:"from_version"`
	ToVersion     string      `json:"to_version" yaml:"to_version"`
	MigrationType Type        `json:"migration_type" yaml:"migration_type"`
	Rules         []FieldRule `json:"rules" yaml:"rules"`
	Notes         string      `json:"notes,omitempty" yaml:"notes,omitempty"`
	CreatedAt     time.Time   `json:"created_at" yaml:"created_at"`
}

// rule returns the rule for a source field id
func (s *Strategy) rule(fieldID string) (FieldRule, bool) {
	for _, r := range s.Rules {
		if r.FieldID == fieldID {
			return r, true
		}
	}
	return FieldRule{}, false
}

// AuditEntry records what a migration did to one field
type AuditEntry struct {
	ID          string      `json:"id"`
	MigrationID string      `json:"migration_id"`
	FormType    string      `json:"form_type"`
	FromVersion string      `json:"from_version"`
	ToVersion   string      `json:"to_version"`
	FieldID     string      `json:"field_id"`
	Action      string      `json:"action"`
	Previous    interface{} `json:"previous,omitempty"`
	New         interface{} `json:"new,omitempty"`
	At          time.Time   `json:"at"`
}

// Result is the outcome of a successful migration
type Result struct {
	MigrationID string                 `json:"migration_id"`
	FormType    string                 `json:"form_type"`
	FromVersion string                 `json:"from_version"`
	ToVersion   string                 `json:"to_version"`
	Path        []string               `json:"path"`
	Data        map[string]interface{} `json:"data"`
	Audit       []AuditEntry           `json:"audit"`
}
