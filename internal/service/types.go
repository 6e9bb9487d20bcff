package service

import (
	"github.com/a3tai/form-field-mapper/internal/fields"
	"github.com/a3tai/form-field-mapper/internal/migration"
	"github.com/a3tai/form-field-mapper/internal/schema"
)

// ExtractFieldsRequest represents a request to read the fields of one form
type ExtractFieldsRequest struct {
	Path string `json:"path"`
}

// ClassifyFieldRequest represents a request to classify one raw field
type ClassifyFieldRequest struct {
	Name     string `json:"name"`
	Tooltip  string `json:"tooltip,omitempty"`
	Section  string `json:"section,omitempty"`
	FormType string `json:"form_type,omitempty"`
}

// MapFormRequest represents a request to map a whole form
type MapFormRequest struct {
	Path     string `json:"path"`
	FormType string `json:"form_type,omitempty"` // derived from the file name when empty
	Version  string `json:"version"`
	Register bool   `json:"register,omitempty"`
}

// AddCanonicalFieldRequest represents a request to add a canonical field
type AddCanonicalFieldRequest struct {
	Field fields.CanonicalField `json:"field"`
}

// RegisterMappingRequest represents a request to bind raw fields to a canonical field
type RegisterMappingRequest struct {
	CanonicalField string                   `json:"canonical_field"`
	Mapping        fields.CollectionMapping `json:"mapping"`
}

// ListUnmappedRequest represents a request for the unbound fields of a form version
type ListUnmappedRequest struct {
	FormType string `json:"form_type"`
	Version  string `json:"version"`
}

// ListUnmappedResult lists the unbound fields of a form version
type ListUnmappedResult struct {
	FormType string                  `json:"form_type"`
	Version  string                  `json:"version"`
	Fields   []fields.RawFieldRecord `json:"fields"`
}

// CreateSchemaRequest represents a request to create a draft schema version. Fields
// are read from Path when Fields is empty.
type CreateSchemaRequest struct {
	FormType string                       `json:"form_type"`
	Version  string                       `json:"version,omitempty"`
	Path     string                       `json:"path,omitempty"`
	Fields   []schema.FormFieldDefinition `json:"fields,omitempty"`
	Actor    string                       `json:"actor,omitempty"`
}

// Review actions accepted by ReviewSchema
const (
	ReviewSubmit  = "submit"
	ReviewApprove = "approve"
	ReviewReject  = "reject"
	ReviewRevise  = "revise"
)

// ReviewSchemaRequest represents a lifecycle transition of a schema version
type ReviewSchemaRequest struct {
	FormType string `json:"form_type"`
	Version  string `json:"version"`
	Action   string `json:"action"`
	Actor    string `json:"actor,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// DiffSchemasRequest compares either two stored versions or two inline schemas
type DiffSchemasRequest struct {
	FormType    string             `json:"form_type,omitempty"`
	FromVersion string             `json:"from_version,omitempty"`
	ToVersion   string             `json:"to_version,omitempty"`
	From        *schema.FormSchema `json:"from,omitempty"`
	To          *schema.FormSchema `json:"to,omitempty"`
}

// DiffSchemasResult is a diff with the version bump it requires
type DiffSchemasResult struct {
	Diff         schema.VersionDiff `json:"diff"`
	RequiredBump schema.Bump        `json:"required_bump"`
	Breaking     bool               `json:"breaking"`
	BumpWarning  string             `json:"bump_warning,omitempty"`
}

// ActivateSchemaRequest represents a request to make a version active
type ActivateSchemaRequest struct {
	FormType string `json:"form_type"`
	Version  string `json:"version"`
}

// ActivateSchemaResult reports the active version after activation
type ActivateSchemaResult struct {
	FormType string `json:"form_type"`
	Version  string `json:"version"`
	Previous string `json:"previous,omitempty"`
}

// RegisterStrategyRequest represents a request to store a migration strategy
type RegisterStrategyRequest struct {
	Strategy migration.Strategy `json:"strategy"`
}

// DeriveStrategyRequest represents a request to draft a strategy between two stored versions
type DeriveStrategyRequest struct {
	FormType    string `json:"form_type"`
	FromVersion string `json:"from_version"`
	ToVersion   string `json:"to_version"`
	Register    bool   `json:"register,omitempty"`
}

// MigrateDataRequest moves form data between versions. With a ClientID the stored entry
// of that client is migrated and saved instead of Data.
type MigrateDataRequest struct {
	FormType    string                 `json:"form_type"`
	FromVersion string                 `json:"from_version,omitempty"`
	ToVersion   string                 `json:"to_version"`
	Data        map[string]interface{} `json:"data,omitempty"`
	ClientID    string                 `json:"client_id,omitempty"`
}

// SaveClientDataRequest stores the data a client holds under one form version
type SaveClientDataRequest struct {
	ClientID string                 `json:"client_id"`
	FormType string                 `json:"form_type"`
	Version  string                 `json:"version"`
	Data     map[string]interface{} `json:"data"`
}

// ServerInfoResult describes the running service
type ServerInfoResult struct {
	ServerName      string                 `json:"server_name"`
	Version         string                 `json:"version"`
	FormsDirectory  string                 `json:"forms_directory"`
	MaxFileSize     int64                  `json:"max_file_size"`
	Storage         string                 `json:"storage"`
	Forms           []string               `json:"forms"`
	CanonicalFields int                    `json:"canonical_fields"`
	RulesVersion    string                 `json:"rules_version"`
	ActiveVersions  []schema.ActiveVersion `json:"active_versions"`
	AvailableTools  []ToolInfo             `json:"available_tools"`
}

// ToolInfo names one available tool
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
