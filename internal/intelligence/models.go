package intelligence

import (
	"github.com/a3tai/form-field-mapper/internal/pattern"
)

// Persona is the role of the person who answers a form field
type Persona string

const (
	PersonaApplicant    Persona = "applicant"
	PersonaBeneficiary  Persona = "beneficiary"
	PersonaFamilyMember Persona = "family_member"
	PersonaPreparer     Persona = "preparer"
	PersonaAttorney     Persona = "attorney"
	PersonaInterpreter  Persona = "interpreter"
	PersonaEmployer     Persona = "employer"
	PersonaPhysician    Persona = "physician"
	PersonaSponsor      Persona = "sponsor"
	PersonaUnknown      Persona = "unknown"
)

// Domain is the subject-matter category of a field's content
type Domain string

const (
	DomainOffice      Domain = "office"
	DomainMedical     Domain = "medical"
	DomainCriminal    Domain = "criminal"
	DomainImmigration Domain = "immigration"
	DomainPersonal    Domain = "personal"
	DomainUnknown     Domain = "unknown"
)

// Source identifies where an indicator was found
type Source string

const (
	SourceName     Source = "name"
	SourceTooltip  Source = "tooltip"
	SourceSection  Source = "section"
	SourceFormPart Source = "form_part"
	SourceOverride Source = "override"
)

// DefaultPersonaPriority is the tie-break order for personas with equal scores
var DefaultPersonaPriority = []Persona{
	PersonaApplicant,
	PersonaBeneficiary,
	PersonaFamilyMember,
	PersonaPreparer,
	PersonaAttorney,
	PersonaInterpreter,
	PersonaEmployer,
	PersonaPhysician,
	PersonaSponsor,
}

// DefaultDomainPriority is the tie-break order for domains, most specific first
var DefaultDomainPriority = []Domain{
	DomainOffice,
	DomainMedical,
	DomainCriminal,
	DomainImmigration,
	DomainPersonal,
}

// Candidate is one scored label
type Candidate struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// ClassificationReason records one matched indicator
type ClassificationReason struct {
	Category  string  `json:"category"` // persona or domain
	Label     string  `json:"label"`
	Indicator string  `json:"indicator"`
	Source    Source  `json:"source"`
	Weight    float64 `json:"weight"`
}

// ClassificationResult is the ranked persona/domain outcome for one field. Confidence
// values are accumulated indicator weights, not probabilities.
type ClassificationResult struct {
	Field             string                   `json:"field"`
	Persona           Persona                  `json:"persona"`
	PersonaConfidence float64                  `json:"persona_confidence"`
	Domain            Domain                   `json:"domain"`
	DomainConfidence  float64                  `json:"domain_confidence"`
	PersonaCandidates []Candidate              `json:"persona_candidates"`
	DomainCandidates  []Candidate              `json:"domain_candidates"`
	Reasons           []ClassificationReason   `json:"reasons,omitempty"`
	Override          string                   `json:"override,omitempty"`
	Parsed            *pattern.ParsedFieldName `json:"parsed,omitempty"`
	NeedsReview       bool                     `json:"needs_review"`
}

// clone copies the slices of a result so cached results are never shared
func (r ClassificationResult) clone() ClassificationResult {
	out := r
	out.PersonaCandidates = append([]Candidate(nil), r.PersonaCandidates...)
	out.DomainCandidates = append([]Candidate(nil), r.DomainCandidates...)
	out.Reasons = append([]ClassificationReason(nil), r.Reasons...)
	if r.Parsed != nil {
		p := *r.Parsed
		out.Parsed = &p
	}
	return out
}

// IndicatorRule is a weighted list of indicator phrases for one persona or domain
type IndicatorRule struct {
	Label      string   `yaml:"label" json:"label"`
	Weight     float64  `yaml:"weight" json:"weight"`
	Indicators []string `yaml:"indicators" json:"indicators"`
	// Patterns are regular expressions matched against the raw field name
	Patterns []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	Enabled  *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the rule takes part in scoring
func (r IndicatorRule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// OverrideRule forces a persona and domain when the field name matches
type OverrideRule struct {
	Name    string  `yaml:"name" json:"name"`
	Pattern string  `yaml:"pattern" json:"pattern"`
	Persona Persona `yaml:"persona" json:"persona"`
	Domain  Domain  `yaml:"domain" json:"domain"`
	Weight  float64 `yaml:"weight" json:"weight"`
}

// SourceWeights multiply indicator weights by where the indicator was found
type SourceWeights struct {
	Name    float64 `yaml:"name" json:"name"`
	Tooltip float64 `yaml:"tooltip" json:"tooltip"`
	Section float64 `yaml:"section" json:"section"`
}

// RuleSet is the full externally editable configuration of the classifier
type RuleSet struct {
	Version         string                     `yaml:"version" json:"version"`
	SourceWeights   SourceWeights              `yaml:"source_weights" json:"source_weights"`
	Personas        []IndicatorRule            `yaml:"personas" json:"personas"`
	Domains         []IndicatorRule            `yaml:"domains" json:"domains"`
	PersonaPriority []Persona                  `yaml:"persona_priority" json:"persona_priority"`
	DomainPriority  []Domain                   `yaml:"domain_priority" json:"domain_priority"`
	Overrides       []OverrideRule             `yaml:"overrides" json:"overrides"`
	FormParts       map[string]map[int]Persona `yaml:"form_parts" json:"form_parts"`
	FormPartWeight  float64                    `yaml:"form_part_weight" json:"form_part_weight"`
	Patterns        *pattern.Library           `yaml:"patterns,omitempty" json:"patterns,omitempty"`
}

// ClassifierConfig holds classifier settings
type ClassifierConfig struct {
	RulesPath string
	CacheSize int
}

// DefaultClassifierConfig returns default classifier settings
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		CacheSize: 4096,
	}
}

// IsValid checks if the persona is one of the built-in personas
func (p Persona) IsValid() bool {
	for _, known := range DefaultPersonaPriority {
		if p == known {
			return true
		}
	}
	return p == PersonaUnknown
}

// IsValid checks if the domain is one of the built-in domains
func (d Domain) IsValid() bool {
	for _, known := range DefaultDomainPriority {
		if d == known {
			return true
		}
	}
	return d == DomainUnknown
}
