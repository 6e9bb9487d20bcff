package collection

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/form-field-mapper/internal/fields"
	"github.com/a3tai/form-field-mapper/internal/intelligence"
	"github.com/a3tai/form-field-mapper/internal/mapperr"
	"github.com/a3tai/form-field-mapper/internal/registry"
)

func snapshot(t *testing.T, extra ...fields.CanonicalField) *registry.Snapshot {
	t.Helper()
	r := registry.New()
	_, err := registry.Seed(context.Background(), r, append(registry.DefaultCanonicalFields(), extra...))
	require.NoError(t, err)
	return r.Snapshot()
}

func classified(persona intelligence.Persona, domain intelligence.Domain) intelligence.ClassificationResult {
	return intelligence.ClassificationResult{Persona: persona, Domain: domain}
}

func TestResolveRepeatingPreviousName(t *testing.T) {
	snap := snapshot(t)
	classifier := intelligence.NewFieldClassifier()
	resolver := NewResolver("i485", "1.0.0")

	record := fields.RawFieldRecord{
		Name:    "Pt1Line2a_FamilyName[0]",
		Tooltip: "Other Names Used. Previous Name #1.",
	}
	m, issues := resolver.Resolve(record, classifier.ClassifyInForm("i485", record, ""), snap)

	assert.Empty(t, issues)
	assert.Equal(t, fields.MappingRepeating, m.Kind)
	assert.Equal(t, 1, m.Occurrence)
	assert.Equal(t, "family_name", m.Component)
	assert.Equal(t, "previous_name", m.CanonicalField)
	assert.Equal(t, "previous_name", m.Collection)
	assert.Equal(t, 10, m.MaxItems)
	assert.False(t, m.Proposed)
}

func TestResolveCompositeAlienNumber(t *testing.T) {
	snap := snapshot(t)
	resolver := NewResolver("i485", "1.0.0")

	records := []fields.RawFieldRecord{
		{Name: "AlienNumber[2]", Value: "2"},
		{Name: "AlienNumber[0]", Value: "A"},
		{Name: "AlienNumber[1]", Value: "1"},
	}
	m, err := resolver.ResolveComposite(records, classified(intelligence.PersonaApplicant, intelligence.DomainImmigration), snap)
	require.NoError(t, err)

	assert.Equal(t, fields.MappingComposite, m.Kind)
	assert.Equal(t, "A12", m.Value)
	assert.Equal(t, "alien_number", m.CanonicalField)
	assert.Equal(t, []string{"AlienNumber[0]", "AlienNumber[1]", "AlienNumber[2]"}, m.FieldIDs)
}

func TestResolveCompositeIsOrderIndependent(t *testing.T) {
	snap := snapshot(t)
	resolver := NewResolver("i485", "1.0.0")
	class := classified(intelligence.PersonaApplicant, intelligence.DomainImmigration)

	value := "A123456789"
	var records []fields.RawFieldRecord
	for i, ch := range value {
		records = append(records, fields.RawFieldRecord{
			Name:  "Pt1Line9_AlienNumber[" + itoa(i) + "]",
			Value: string(ch),
		})
	}

	want, err := resolver.ResolveComposite(records, class, snap)
	require.NoError(t, err)
	require.Equal(t, value, want.Value)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := append([]fields.RawFieldRecord(nil), records...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got, err := resolver.ResolveComposite(shuffled, class, snap)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("composite depends on input order (-want +got):\n%s", diff)
		}
	}
}

func itoa(i int) string {
	if i < 10 {
		return string(rune('0' + i))
	}
	return itoa(i/10) + string(rune('0'+i%10))
}

func TestResolveCompositeGap(t *testing.T) {
	snap := snapshot(t)
	resolver := NewResolver("i485", "1.0.0")

	records := []fields.RawFieldRecord{
		{Name: "AlienNumber[0]", Value: "A"},
		{Name: "AlienNumber[1]", Value: "1"},
		{Name: "AlienNumber[3]", Value: "3"},
	}
	_, err := resolver.ResolveComposite(records, classified(intelligence.PersonaApplicant, intelligence.DomainImmigration), snap)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mapperr.ErrCompositeGap))

	var me *mapperr.Error
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "0,1,3", me.Context["positions"])

	dup := []fields.RawFieldRecord{{Name: "SSN[0]"}, {Name: "SSN[0]"}}
	_, err = resolver.ResolveComposite(dup, classified(intelligence.PersonaApplicant, intelligence.DomainPersonal), snap)
	assert.True(t, errors.Is(err, mapperr.ErrCompositeGap))
}

func TestResolveAllMergesRepeatedFields(t *testing.T) {
	snap := snapshot(t)
	resolver := NewResolver("i485", "1.0.0")

	tests := []struct {
		name      string
		records   []fields.RawFieldRecord
		wantValue string
	}{
		{
			name: "header on two pages",
			records: []fields.RawFieldRecord{
				{Name: "AlienNumber[0]", FullName: "form1[0].#subform[1].AlienNumber[0]", Value: "A"},
				{Name: "AlienNumber[0]", FullName: "form1[0].#subform[2].AlienNumber[0]", Value: "A"},
			},
			wantValue: "A",
		},
		{
			name: "full composite repeated",
			records: []fields.RawFieldRecord{
				{Name: "AlienNumber[0]", Value: "A"},
				{Name: "AlienNumber[1]", Value: "1"},
				{Name: "AlienNumber[0]", Value: "A"},
				{Name: "AlienNumber[1]", Value: "1"},
			},
			wantValue: "A1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classes := make([]intelligence.ClassificationResult, len(tt.records))
			for i := range classes {
				classes[i] = classified(intelligence.PersonaApplicant, intelligence.DomainImmigration)
			}

			batch := resolver.ResolveAll(tt.records, classes, snap)
			require.Len(t, batch.Mappings, 1)
			assert.Equal(t, fields.MappingComposite, batch.Mappings[0].Kind)
			assert.Equal(t, "alien_number", batch.Mappings[0].CanonicalField)
			assert.Equal(t, tt.wantValue, batch.Mappings[0].Value)
			errs, _ := batch.Report.Count()
			assert.Zero(t, errs)
		})
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	snap := snapshot(t)
	classifier := intelligence.NewFieldClassifier()
	resolver := NewResolver("i485", "1.0.0")

	records := []fields.RawFieldRecord{
		{Name: "Pt1Line2a_FamilyName[0]", Tooltip: "Other Names Used. Previous Name #1."},
		{Name: "Pt1Line1a_FamilyName[0]", Tooltip: "Enter your Family Name (Last Name)."},
		{Name: "Pt1Line9_AlienNumber[0]", Value: "A"},
		{Name: "Pt9Line1_InterpreterBusinessName[0]"},
		{Name: "Checkbox1234[0]"},
	}

	for _, rec := range records {
		class := classifier.ClassifyInForm("i485", rec, "")
		first, firstIssues := resolver.Resolve(rec, class, snap)
		second, secondIssues := resolver.Resolve(rec, class, snap)

		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("%s: resolve is not idempotent (-first +second):\n%s", rec.Name, diff)
		}
		assert.Equal(t, len(firstIssues), len(secondIssues))
	}
}

func TestResolveReusedAndOneToOne(t *testing.T) {
	snap := snapshot(t)
	resolver := NewResolver("i765", "2.0.0")

	reused, _ := resolver.Resolve(
		fields.RawFieldRecord{Name: "Pt2Line1a_FamilyName[0]"},
		classified(intelligence.PersonaApplicant, intelligence.DomainPersonal), snap)
	assert.Equal(t, fields.MappingReused, reused.Kind)
	assert.Equal(t, "family_name", reused.CanonicalField)
	assert.Equal(t, "i765", reused.FormType)
	assert.Equal(t, "2.0.0", reused.Version)

	single, _ := resolver.Resolve(
		fields.RawFieldRecord{Name: "Pt2Line1a_FamilyName[0]"},
		classified(intelligence.PersonaPreparer, intelligence.DomainPersonal), snap)
	assert.Equal(t, fields.MappingOneToOne, single.Kind)
	assert.Equal(t, "family_name", single.CanonicalField)

	proposed, _ := resolver.Resolve(
		fields.RawFieldRecord{Name: "Pt5Line3_Occupation[0]"},
		classified(intelligence.PersonaEmployer, intelligence.DomainPersonal), snap)
	assert.Equal(t, fields.MappingOneToOne, proposed.Kind)
	assert.True(t, proposed.Proposed)
	assert.Equal(t, "employer_occupation", proposed.CanonicalField)
}

func TestResolvePrefersPersonaSpecificName(t *testing.T) {
	snap := snapshot(t, fields.CanonicalField{FieldName: "family_member_family_name", DataType: fields.DataTypeString})
	resolver := NewResolver("i485", "1.0.0")

	m, _ := resolver.Resolve(
		fields.RawFieldRecord{Name: "Pt4Line1a_FamilyName[0]"},
		classified(intelligence.PersonaFamilyMember, intelligence.DomainPersonal), snap)
	assert.Equal(t, "family_member_family_name", m.CanonicalField)
	assert.False(t, m.Proposed)
}

func TestResolveFlagsUnmatchedComponentAndMaxItems(t *testing.T) {
	snap := snapshot(t)
	resolver := NewResolver("i485", "1.0.0")
	class := classified(intelligence.PersonaApplicant, intelligence.DomainPersonal)

	m, issues := resolver.Resolve(fields.RawFieldRecord{
		Name:    "Pt1Line2d_Nickname[0]",
		Tooltip: "Previous Name #2. Nickname.",
	}, class, snap)
	assert.Equal(t, fields.MappingRepeating, m.Kind)
	assert.Equal(t, "nickname", m.Component, "unmatched components are kept")
	require.Len(t, issues, 1)
	assert.Equal(t, mapperr.ErrorTypeUnmatchedComponent, issues[0].Type)

	_, issues = resolver.Resolve(fields.RawFieldRecord{
		Name:    "Pt1Line2a_FamilyName[0]",
		Tooltip: "Previous Name #11.",
	}, class, snap)
	require.Len(t, issues, 1)
	assert.Equal(t, mapperr.ErrorTypeMaxItemsExceeded, issues[0].Type)
}

func TestResolvePrepopulatedField(t *testing.T) {
	snap := snapshot(t)
	resolver := NewResolver("i485", "1.0.0")

	m, _ := resolver.Resolve(fields.RawFieldRecord{
		Name:    "Pt3Line1_GivenName[0]",
		Tooltip: "This field is prepopulated from page 1.",
	}, classified(intelligence.PersonaPreparer, intelligence.DomainPersonal), snap)

	assert.Equal(t, fields.MappingReused, m.Kind)
	assert.Equal(t, 1, m.PrepopulateFrom)
	assert.Equal(t, "given_name", m.CanonicalField)
}

func TestResolveAllCollectsIssuesWithoutAborting(t *testing.T) {
	snap := snapshot(t)
	resolver := NewResolver("i485", "1.0.0")

	records := []fields.RawFieldRecord{
		{Name: "#subform[0]"},
		{Name: "Pt1Line1a_FamilyName[0]", Value: "Doe"},
		{Name: "SSN[0]", Value: "1"},
		{Name: "SSN[2]", Value: "3"},
		{Name: "AlienNumber[1]", Value: "1"},
		{Name: "AlienNumber[0]", Value: "A"},
		{Name: "Pt1Line2a_FamilyName[0]", Tooltip: "Previous Name #1."},
		{Name: "Pt1Line2b_GivenName[0]", Tooltip: "Previous Name #1."},
	}
	classes := make([]intelligence.ClassificationResult, len(records))
	for i := range classes {
		classes[i] = classified(intelligence.PersonaApplicant, intelligence.DomainPersonal)
	}

	batch := resolver.ResolveAll(records, classes, snap)

	assert.Equal(t, []string{"#subform[0]"}, batch.Skipped)
	require.Len(t, batch.Mappings, 4)
	assert.Equal(t, "family_name", batch.Mappings[0].CanonicalField)
	assert.Equal(t, "A1", batch.Mappings[1].Value)
	assert.Equal(t, fields.MappingRepeating, batch.Mappings[2].Kind)

	gaps := batch.Report.ByType(mapperr.ErrorTypeCompositeGap)
	require.Len(t, gaps, 1)
	assert.Equal(t, "SSN[0]", gaps[0].Field)

	items := GroupItems(batch.Mappings)
	require.Len(t, items, 1)
	assert.Equal(t, "previous_name", items[0].Collection)
	assert.Equal(t, map[string]string{
		"family_name": "Pt1Line2a_FamilyName[0]",
		"given_name":  "Pt1Line2b_GivenName[0]",
	}, items[0].Components)
}

func TestCandidateAndProposedNames(t *testing.T) {
	assert.Equal(t, []string{"spouse_given_name", "given_name"}, CandidateNames("spouse", "GivenName"))
	assert.Equal(t, []string{"i94_number"}, CandidateNames("unknown", "I94Number"))
	assert.Nil(t, CandidateNames("applicant", ""))

	assert.Equal(t, "given_name", ProposedName("applicant", "GivenName"))
	assert.Equal(t, "attorney_given_name", ProposedName("attorney", "GivenName"))
}
