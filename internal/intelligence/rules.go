package intelligence

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/a3tai/form-field-mapper/internal/pattern"
)

// DefaultRuleSet returns the built-in indicator rules for USCIS forms. Weights are
// heuristic and meant to be tuned through a rules file.
func DefaultRuleSet() *RuleSet {
	rs := &RuleSet{
		Version: "1.0",
		SourceWeights: SourceWeights{
			Name:    1.0,
			Tooltip: 0.8,
			Section: 0.5,
		},
		Personas: []IndicatorRule{
			{
				Label:  string(PersonaApplicant),
				Weight: 2.0,
				Indicators: []string{
					"applicant", "you", "your", "self", "i am", "i have", "my ",
					"principal", "client",
				},
			},
			{
				Label:      string(PersonaBeneficiary),
				Weight:     2.0,
				Indicators: []string{"beneficiary", "derivative"},
			},
			{
				Label:  string(PersonaFamilyMember),
				Weight: 1.8,
				Indicators: []string{
					"spouse", "husband", "wife", "child", "parent", "mother", "father",
					"sibling", "brother", "sister", "dependent", "relative", "family member",
				},
			},
			{
				Label:      string(PersonaPreparer),
				Weight:     1.5,
				Indicators: []string{"preparer", "paralegal", "notary", "law office", "firm"},
			},
			{
				Label:  string(PersonaAttorney),
				Weight: 1.5,
				Indicators: []string{
					"attorney", "lawyer", "accredited representative", "representative", "state bar",
				},
			},
			{
				Label:      string(PersonaInterpreter),
				Weight:     1.5,
				Indicators: []string{"interpreter", "translator"},
			},
			{
				Label:      string(PersonaEmployer),
				Weight:     1.5,
				Indicators: []string{"employer", "petitioning organization", "company"},
			},
			{
				Label:      string(PersonaPhysician),
				Weight:     1.5,
				Indicators: []string{"civil surgeon", "physician", "doctor", "medical examiner"},
			},
			{
				Label:      string(PersonaSponsor),
				Weight:     1.5,
				Indicators: []string{"sponsor", "household member"},
			},
		},
		Domains: []IndicatorRule{
			{
				Label:      string(DomainOffice),
				Weight:     1.0,
				Indicators: []string{"barcode", "pdf417", "qr code", "uscis use only", "volag"},
			},
			{
				Label:  string(DomainMedical),
				Weight: 1.0,
				Indicators: []string{
					"surgery", "medical", "examination", "health", "treatment", "medication",
					"hospitalization", "diagnosis", "condition", "vaccin", "immuniz",
				},
				Patterns: []string{
					`(?:Medical|Health|Exam|Vaccine|Treatment|Diagnosis)`,
					`(?:Doctor|Physician|Hospital|Clinic)`,
				},
			},
			{
				Label:  string(DomainCriminal),
				Weight: 1.0,
				Indicators: []string{
					"criminal", "arrest", "detained", "violation", "charge", "convict",
					"controlled substance", "inadmissibility",
				},
				Patterns: []string{
					`(?:Prison|Jail|Detention|Incarceration)`,
					`(?:Felony|Misdemeanor|Crime)`,
				},
			},
			{
				Label:  string(DomainImmigration),
				Weight: 1.0,
				Indicators: []string{
					"visa", "entry", "admission", "citizenship", "permanent resident", "alien",
					"immigration", "naturalization", "passport", "port of entry", "uscis",
					"travel document", "arrival-departure", "i-94", "i 94", "receipt number",
				},
				Patterns: []string{
					`(?:Alien|A)Number`,
					`(?:I94|Passport|Receipt|USCIS)Number`,
					`(?:DateOfEntry|PlaceOfEntry|PortOfEntry)`,
				},
			},
			{
				Label:  string(DomainPersonal),
				Weight: 1.0,
				Indicators: []string{
					"name", "birth", "address", "street", "city", "state", "zip", "phone",
					"email", "gender", "sex", "marital", "height", "weight", "eye color",
					"hair color", "race", "ethnicity", "social security", "ssn",
				},
			},
		},
		PersonaPriority: append([]Persona(nil), DefaultPersonaPriority...),
		DomainPriority:  append([]Domain(nil), DefaultDomainPriority...),
		Overrides: []OverrideRule{
			{Name: "volag", Pattern: `volag`, Persona: PersonaAttorney, Domain: DomainOffice, Weight: 2.0},
			{Name: "g28", Pattern: `g-?28`, Persona: PersonaAttorney, Domain: DomainOffice, Weight: 2.0},
			{Name: "attorney_state_bar", Pattern: `attorney.*state.*bar`, Persona: PersonaAttorney, Domain: DomainOffice, Weight: 2.0},
			{Name: "accredited_representative", Pattern: `accredited.*representative`, Persona: PersonaAttorney, Domain: DomainOffice, Weight: 2.0},
			{Name: "uscis_online_account", Pattern: `uscis.*online.*acc(oun)?t`, Persona: PersonaAttorney, Domain: DomainOffice, Weight: 2.0},
		},
		FormParts: map[string]map[int]Persona{
			"i485": {
				1: PersonaApplicant, 2: PersonaApplicant, 3: PersonaApplicant,
				4: PersonaFamilyMember, 5: PersonaFamilyMember, 6: PersonaFamilyMember,
				7: PersonaApplicant, 8: PersonaApplicant, 9: PersonaInterpreter, 10: PersonaPreparer,
			},
			"i130": {
				1: PersonaApplicant, 2: PersonaApplicant, 3: PersonaBeneficiary, 4: PersonaBeneficiary,
				5: PersonaApplicant, 6: PersonaInterpreter, 7: PersonaPreparer,
			},
			"i765": {
				1: PersonaApplicant, 2: PersonaApplicant, 3: PersonaApplicant, 4: PersonaApplicant,
				5: PersonaApplicant, 6: PersonaInterpreter, 7: PersonaPreparer,
			},
			"i693": {
				1: PersonaApplicant, 2: PersonaPhysician, 3: PersonaApplicant, 4: PersonaApplicant,
				5: PersonaPhysician, 6: PersonaInterpreter, 7: PersonaPreparer,
			},
		},
		FormPartWeight: 1.0,
		Patterns:       pattern.DefaultLibrary(),
	}
	return rs
}

// LoadRuleSet loads and parses a YAML rules file from the given path
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}

	return ParseRuleSet(data)
}

// ParseRuleSet parses YAML rules. Sections left out of the file keep their built-in values.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}

	applyDefaults(&rs)

	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// applyDefaults fills in built-in values for sections missing from a rules file
func applyDefaults(rs *RuleSet) {
	def := DefaultRuleSet()

	if rs.Version == "" {
		rs.Version = def.Version
	}
	if rs.SourceWeights == (SourceWeights{}) {
		rs.SourceWeights = def.SourceWeights
	}
	if rs.Personas == nil {
		rs.Personas = def.Personas
	}
	if rs.Domains == nil {
		rs.Domains = def.Domains
	}
	if len(rs.PersonaPriority) == 0 {
		rs.PersonaPriority = def.PersonaPriority
	}
	if len(rs.DomainPriority) == 0 {
		rs.DomainPriority = def.DomainPriority
	}
	if rs.Overrides == nil {
		rs.Overrides = def.Overrides
	}
	if rs.FormParts == nil {
		rs.FormParts = def.FormParts
	}
	if rs.FormPartWeight == 0 {
		rs.FormPartWeight = def.FormPartWeight
	}
	if rs.Patterns == nil {
		rs.Patterns = def.Patterns
	}
}

// Validate checks weights and expressions of the rule set
func (rs *RuleSet) Validate() error {
	if rs.SourceWeights.Name < 0 || rs.SourceWeights.Tooltip < 0 || rs.SourceWeights.Section < 0 {
		return fmt.Errorf("source weights must be non-negative")
	}

	check := func(kind string, rules []IndicatorRule) error {
		seen := make(map[string]bool)
		for _, r := range rules {
			if r.Label == "" {
				return fmt.Errorf("%s rule without label", kind)
			}
			if seen[r.Label] {
				return fmt.Errorf("duplicate %s rule %q", kind, r.Label)
			}
			seen[r.Label] = true
			if r.Weight < 0 {
				return fmt.Errorf("%s rule %q has negative weight", kind, r.Label)
			}
			for _, p := range r.Patterns {
				if _, err := regexp.Compile("(?i)" + p); err != nil {
					return fmt.Errorf("%s rule %q has invalid pattern %q: %w", kind, r.Label, p, err)
				}
			}
		}
		return nil
	}

	if err := check("persona", rs.Personas); err != nil {
		return err
	}
	if err := check("domain", rs.Domains); err != nil {
		return err
	}

	for _, o := range rs.Overrides {
		if _, err := regexp.Compile("(?i)" + o.Pattern); err != nil {
			return fmt.Errorf("override %q has invalid pattern: %w", o.Name, err)
		}
		if o.Persona == "" || o.Domain == "" {
			return fmt.Errorf("override %q must name a persona and a domain", o.Name)
		}
	}

	if rs.Patterns != nil {
		if err := rs.Patterns.Compile(); err != nil {
			return fmt.Errorf("invalid pattern library: %w", err)
		}
	}
	return nil
}
