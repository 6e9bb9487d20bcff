package descriptions

import "strings"

// Tool descriptions with practical examples. The first line of each is its summary.

const (
	ExtractFieldsDescription = `Read every fillable field of a USCIS PDF form with its name, tooltip, page, position, flags and section.

**When to use:** Before mapping a new form or form revision, to see the raw AcroForm fields.

**Examples:**
• "Extract the fields of i-485.pdf"
• "List the fields of the new i-130 revision before creating a schema"

**Common workflows:**
1. New form: extract_fields → create_schema → review_schema
2. Mapping: extract_fields → classify_field on unclear names → map_form

**Best practices:** Paths are relative to the forms directory; paths outside it are rejected.`

	ClassifyFieldDescription = `Classify one raw field name into a persona (who the data is about) and a domain (what kind of data).

**When to use:** To check why a field lands where it does, or to classify a field outside a full form run.

**Examples:**
• "Classify Pt2Line1_SpouseFamilyName[0]"
• "Classify Line5_VolagNumber with form_type i485"

**Best practices:** Pass the tooltip and section when known; they add weighted evidence. Results with needs_review set have an unknown persona or domain.`

	MapFormDescription = `Map a whole form: extract, classify and resolve every field to a canonical collection field.

**When to use:** To produce the mapping export of a form version, and optionally register its mappings.

**Examples:**
• "Map i-485.pdf as version 2024.1.0"
• "Map i-130.pdf version 1.0.0 and register the mappings"

**Common workflows:**
1. Review: map_form → inspect newCollectionFields → add_canonical_field → map_form with register
2. Coverage: map_form with register → list_unmapped

**Best practices:** Structural fields such as #subform[0] are skipped. Proposed canonical names are listed in newCollectionFields and never registered automatically.`

	AddCanonicalFieldDescription = `Add a canonical collection field to the registry.

**When to use:** When map_form proposes a new collection field that should exist.

**Examples:**
• "Add canonical field spouse_employer of type string with persona spouse"

**Best practices:** Field names are unique and aliases may not collide with another field.`

	RegisterMappingDescription = `Bind raw form fields to an existing canonical collection field.

**When to use:** To correct or add a mapping by hand.

**Examples:**
• "Map i485 1.0.0 Pt1Line1a_FamilyName[0] to family_name"

**Best practices:** A raw field belongs to at most one canonical field; binding it elsewhere fails until the old mapping is removed. Registering the same mapping twice is harmless.`

	ListUnmappedDescription = `List the extracted fields of a form version that are not bound to any canonical field.

**When to use:** After map_form, to find what still needs a mapping.

**Examples:**
• "Which i-485 1.0.0 fields are still unmapped?"`

	CreateSchemaDescription = `Create a draft schema version of a form, from a PDF file or from explicit field definitions.

**When to use:** When USCIS publishes a new revision of a form.

**Examples:**
• "Create a schema for i-485.pdf"
• "Create i485 version 2.0.0 from the new i-485.pdf"

**Common workflows:**
1. Release: create_schema → review_schema submit → review_schema approve → diff_schemas → derive_strategy → activate_schema

**Best practices:** Without a version the next minor version is assigned.`

	ReviewSchemaDescription = `Move a schema version through review: submit, approve, reject or revise.

**When to use:** To take a draft through approval. Approved versions are immutable.

**Examples:**
• "Submit i485 2.0.0 for review"
• "Reject i485 2.0.0 because the signature field is missing"`

	DiffSchemasDescription = `Compare two schema versions field by field and report the version bump the changes require.

**When to use:** Before approving or activating a new revision, or before writing a migration strategy.

**Examples:**
• "Diff i485 1.0.0 against 2.0.0"

**Best practices:** Removed fields, type changes and new required fields are breaking and require a major bump.`

	ActivateSchemaDescription = `Make an approved schema version the active version of its form type.

**When to use:** When a new revision goes live.

**Examples:**
• "Activate i485 2.0.0"

**Best practices:** Activation is refused while clients hold data under the current version that no unattended migration can move.`

	RegisterStrategyDescription = `Register a migration strategy between two versions of a form.

**When to use:** To describe how data moves from one version to the next.

**Examples:**
• "Register a strategy from i485 1.0.0 to 2.0.0 renaming FamilyName to LastName"

**Best practices:** Every removed and modified field needs a rule. Manual strategies block unattended migration.`

	DeriveStrategyDescription = `Draft a migration strategy from the diff of two stored versions.

**When to use:** As a starting point for register_strategy.

**Examples:**
• "Derive a strategy for i485 1.0.0 to 1.1.0"

**Best practices:** Any breaking change makes the draft manual. Review draft rules before registering them.`

	SaveClientDataDescription = `Store the data one client holds under a form version.

**When to use:** To record client data that later migrations and activation checks consider.

**Examples:**
• "Save client c-42 data for i485 1.0.0"`

	MigrateDataDescription = `Migrate form data from one version to another along the registered strategies.

**When to use:** To move a client's answers to a new form revision.

**Examples:**
• "Migrate this i485 1.0.0 data to 2.0.0"
• "Migrate client c-42 to i485 2.0.0"

**Best practices:** Migration is all or nothing: a failing rule leaves the data unchanged. Every field change is recorded in the audit log.`

	ServerInfoDescription = `Get server information, available tools, forms directory contents and active schema versions.

**When to use:** To orient before using the other tools.`
)

// ToolNames lists the tools in the order they are presented
var ToolNames = []string{
	"server_info",
	"extract_fields",
	"classify_field",
	"map_form",
	"add_canonical_field",
	"register_mapping",
	"list_unmapped",
	"create_schema",
	"review_schema",
	"diff_schemas",
	"activate_schema",
	"register_strategy",
	"derive_strategy",
	"save_client_data",
	"migrate_data",
}

// ToolDescriptions maps tool names to their full descriptions
var ToolDescriptions = map[string]string{
	"server_info":         ServerInfoDescription,
	"extract_fields":      ExtractFieldsDescription,
	"classify_field":      ClassifyFieldDescription,
	"map_form":            MapFormDescription,
	"add_canonical_field": AddCanonicalFieldDescription,
	"register_mapping":    RegisterMappingDescription,
	"list_unmapped":       ListUnmappedDescription,
	"create_schema":       CreateSchemaDescription,
	"review_schema":       ReviewSchemaDescription,
	"diff_schemas":        DiffSchemasDescription,
	"activate_schema":     ActivateSchemaDescription,
	"register_strategy":   RegisterStrategyDescription,
	"derive_strategy":     DeriveStrategyDescription,
	"save_client_data":    SaveClientDataDescription,
	"migrate_data":        MigrateDataDescription,
}

// GetToolDescription returns the full description for a tool
func GetToolDescription(toolName string) string {
	if desc, exists := ToolDescriptions[toolName]; exists {
		return desc
	}
	return "Tool description not available"
}

// Summary returns the first line of a tool description
func Summary(toolName string) string {
	desc := GetToolDescription(toolName)
	if i := strings.IndexByte(desc, '\n'); i >= 0 {
		return desc[:i]
	}
	return desc
}
