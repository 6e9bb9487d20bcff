package collection

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ReusedRule marks a persona/domain/base-type combination as collect-once. Empty
// Persona or Domain match any value.
type ReusedRule struct {
	Persona   string   `yaml:"persona" json:"persona"`
	Domain    string   `yaml:"domain" json:"domain"`
	BaseTypes []string `yaml:"base_types" json:"base_types"`
}

func (r ReusedRule) matches(persona, domain, base string) bool {
	if r.Persona != "" && r.Persona != persona {
		return false
	}
	if r.Domain != "" && r.Domain != domain {
		return false
	}
	for _, b := range r.BaseTypes {
		if strings.EqualFold(b, base) {
			return true
		}
	}
	return false
}

// Rules drives the resolver decision procedure
type Rules struct {
	// CompositeTypes are base types whose indexed fields hold one character each
	CompositeTypes []string `yaml:"composite_types" json:"composite_types"`
	// Collections maps a detected sequence collection to its canonical field
	Collections map[string]string `yaml:"collections" json:"collections"`
	// Reused lists the collect-once combinations
	Reused []ReusedRule `yaml:"reused" json:"reused"`
}

// DefaultRules returns the built-in resolver rules
func DefaultRules() *Rules {
	return &Rules{
		CompositeTypes: []string{
			"AlienNumber", "ANumber", "SSN", "USSocialSecurityNumber",
			"USCISOnlineAcctNumber", "USCISOnlineAccountNumber", "I94Number",
		},
		Collections: map[string]string{
			"previous_name":   "previous_name",
			"other_name":      "previous_name",
			"prior_name":      "previous_name",
			"alias":           "previous_name",
			"address":         "address_history",
			"residence":       "address_history",
			"employer":        "employer",
			"employment":      "employer",
			"child":           "children",
			"son_or_daughter": "children",
			"spouse":          "spouses",
			"prior_spouse":    "spouses",
			"marriage":        "marriages",
			"parent":          "parents",
			"sibling":         "siblings",
			"entry":           "entries",
			"trip":            "trips",
			"school":          "schools",
			"organization":    "organizations",
			"arrest":          "arrests",
			"citation":        "arrests",
			"charge":          "arrests",
		},
		Reused: []ReusedRule{
			{
				Persona: "applicant",
				BaseTypes: []string{
					"FamilyName", "GivenName", "MiddleName", "DateOfBirth", "DOB",
					"Email", "EmailAddress", "DaytimePhoneNumber1", "MobileNumber1",
					"CountryOfBirth", "CityTownOfBirth", "CountryOfCitizenship", "Passport",
				},
			},
			{
				Domain:    "immigration",
				BaseTypes: []string{"AlienNumber", "USCISOnlineAcctNumber", "I94Number", "PassportNumber"},
			},
		},
	}
}

type rulesFile struct {
	Collections *Rules `yaml:"collections"`
}

// LoadRules reads the resolver section of a rules file. The file may be shared with the
// classifier; only the top-level "collections" key is read.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}

	return ParseRules(data)
}

// ParseRules parses resolver rules. Missing sections keep their built-in values.
func ParseRules(data []byte) (*Rules, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse resolver rules YAML: %w", err)
	}

	def := DefaultRules()
	rules := file.Collections
	if rules == nil {
		return def, nil
	}
	if rules.CompositeTypes == nil {
		rules.CompositeTypes = def.CompositeTypes
	}
	if rules.Collections == nil {
		rules.Collections = def.Collections
	}
	if rules.Reused == nil {
		rules.Reused = def.Reused
	}

	for i, r := range rules.Reused {
		if len(r.BaseTypes) == 0 {
			return nil, fmt.Errorf("reused rule %d has no base types", i)
		}
	}
	return rules, nil
}

func (r *Rules) isComposite(base string) bool {
	for _, t := range r.CompositeTypes {
		if strings.EqualFold(t, base) {
			return true
		}
	}
	return false
}

func (r *Rules) isReused(persona, domain, base string) bool {
	for _, rule := range r.Reused {
		if rule.matches(persona, domain, base) {
			return true
		}
	}
	return false
}
