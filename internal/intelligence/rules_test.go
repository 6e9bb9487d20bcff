package intelligence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/form-field-mapper/internal/fields"
)

const customRules = `
version: "2.0"
source_weights:
  name: 1.0
  tooltip: 1.0
  section: 0.25
personas:
  - label: sponsor
    weight: 3.0
    indicators: ["household"]
  - label: applicant
    weight: 1.0
    indicators: ["intending immigrant"]
form_parts:
  i864:
    1: sponsor
    2: applicant
patterns:
  sequence_nouns: ["household member"]
`

func TestParseRuleSetKeepsDefaultsForMissingSections(t *testing.T) {
	rs, err := ParseRuleSet([]byte(customRules))
	require.NoError(t, err)

	assert.Equal(t, "2.0", rs.Version)
	assert.Equal(t, 0.25, rs.SourceWeights.Section)
	assert.Len(t, rs.Personas, 2)
	assert.Len(t, rs.Domains, len(DefaultRuleSet().Domains))
	assert.Equal(t, DefaultPersonaPriority, rs.PersonaPriority)
	assert.Equal(t, PersonaSponsor, rs.FormParts["i864"][1])
	require.NotNil(t, rs.Patterns)
	assert.Equal(t, []string{"household member"}, rs.Patterns.SequenceNouns)
}

func TestParseRuleSetRejectsInvalidRules(t *testing.T) {
	tests := map[string]string{
		"bad yaml":        "personas: [",
		"missing label":   "personas:\n  - weight: 1\n",
		"negative weight": "personas:\n  - label: applicant\n    weight: -1\n",
		"duplicate label": "domains:\n  - label: office\n  - label: office\n",
		"bad pattern":     "domains:\n  - label: office\n    patterns: [\"(\"]\n",
		"bad override":    "overrides:\n  - name: x\n    pattern: volag\n",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRuleSet([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadRuleSetFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(customRules), 0644))

	rs, err := LoadRuleSet(path)
	require.NoError(t, err)
	assert.Equal(t, "2.0", rs.Version)

	_, err = LoadRuleSet(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestClassifierWithLoadedRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(customRules), 0644))

	classifier := NewFieldClassifierWithConfig(ClassifierConfig{RulesPath: path, CacheSize: 16}, nil)
	assert.Equal(t, "2.0", classifier.GetVersion())

	result := classifier.ClassifyInForm("I-864", fields.RawFieldRecord{
		Name:    "Pt1Line1a_FamilyName[0]",
		Tooltip: "Household size.",
	}, "")
	assert.Equal(t, PersonaSponsor, result.Persona)
	// 3.0 from the tooltip plus the form-part hint
	assert.Equal(t, 4.0, result.PersonaConfidence)

	seq, ok := classifier.Library().DetectSequence("Household Member 2")
	require.True(t, ok)
	assert.Equal(t, "household_member", seq.Collection)
}

func TestClassifierFallsBackWhenRulesMissing(t *testing.T) {
	classifier := NewFieldClassifierWithConfig(ClassifierConfig{RulesPath: "/does/not/exist.yaml"}, nil)
	require.NotNil(t, classifier)
	assert.Equal(t, DefaultRuleSet().Version, classifier.GetVersion())
}

func TestNewFieldClassifierWithRulesNil(t *testing.T) {
	_, err := NewFieldClassifierWithRules(nil, ClassifierConfig{}, nil)
	assert.Error(t, err)
}
