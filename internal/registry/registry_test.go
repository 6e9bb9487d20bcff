package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/form-field-mapper/internal/fields"
	"github.com/a3tai/form-field-mapper/internal/mapperr"
)

type failingStore struct {
	saves    int
	bindings int
	failOn   string
	loaded   []fields.CanonicalField
}

func (s *failingStore) SaveCanonicalField(_ context.Context, _ fields.CanonicalField) error {
	s.saves++
	if s.failOn == "save" {
		return errors.New("disk full")
	}
	return nil
}

func (s *failingStore) DeleteCanonicalField(_ context.Context, _ string) error {
	return nil
}

func (s *failingStore) SaveBindings(_ context.Context, _ fields.CanonicalField, _ []fields.Key) error {
	s.bindings++
	if s.failOn == "bindings" {
		return errors.New("connection reset")
	}
	return nil
}

func (s *failingStore) LoadCanonicalFields(_ context.Context) ([]fields.CanonicalField, error) {
	return s.loaded, nil
}

// extractionStore also keeps recorded extractions
type extractionStore struct {
	failingStore
	extractions map[string]Extraction
	failSave    bool
}

func (s *extractionStore) SaveExtraction(_ context.Context, e Extraction) error {
	if s.failSave {
		return errors.New("disk full")
	}
	if s.extractions == nil {
		s.extractions = make(map[string]Extraction)
	}
	s.extractions[e.FormType+"@"+e.Version] = e
	return nil
}

func (s *extractionStore) LoadExtractions(_ context.Context) ([]Extraction, error) {
	out := make([]Extraction, 0, len(s.extractions))
	for _, e := range s.extractions {
		out = append(out, e)
	}
	return out, nil
}

func seeded(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r := New(opts...)
	n, err := Seed(context.Background(), r, DefaultCanonicalFields())
	require.NoError(t, err)
	require.Equal(t, len(DefaultCanonicalFields()), n)
	return r
}

func oneToOne(formType, version, id string) fields.CollectionMapping {
	return fields.CollectionMapping{
		Kind:     fields.MappingOneToOne,
		FormType: formType,
		Version:  version,
		FieldIDs: []string{id},
	}
}

func TestFindByNameOrAlias(t *testing.T) {
	r := seeded(t)

	f, ok := r.FindByNameOrAlias("given_name")
	require.True(t, ok)
	assert.Equal(t, "given_name", f.FieldName)

	f, ok = r.FindByNameOrAlias("firstname")
	require.True(t, ok, "aliases match case-insensitively")
	assert.Equal(t, "given_name", f.FieldName)

	_, ok = r.FindByNameOrAlias("Given_Name")
	assert.False(t, ok, "names match exactly")
}

func TestAddFieldRejectsDuplicatesAndAliasCollisions(t *testing.T) {
	r := seeded(t)
	ctx := context.Background()

	err := r.AddField(ctx, fields.CanonicalField{FieldName: "given_name", DataType: fields.DataTypeString})
	assert.True(t, errors.Is(err, mapperr.ErrValidation))

	err = r.AddField(ctx, fields.CanonicalField{FieldName: "first", DataType: fields.DataTypeString, Aliases: []string{"FIRSTNAME"}})
	assert.Error(t, err)

	err = r.AddField(ctx, fields.CanonicalField{FieldName: "weird", DataType: "blob"})
	assert.Error(t, err)

	err = r.AddField(ctx, fields.CanonicalField{})
	assert.Error(t, err)
}

func TestRegisterMappingDuplicateLeavesRegistryUnchanged(t *testing.T) {
	r := seeded(t)
	ctx := context.Background()

	require.NoError(t, r.RegisterMapping(ctx, "given_name", oneToOne("i485", "1.0.0", "Pt1Line1b_GivenName[0]")))

	before := r.ListFields()
	err := r.RegisterMapping(ctx, "family_name", oneToOne("i485", "1.0.0", "Pt1Line1b_GivenName[0]"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, mapperr.ErrDuplicateMapping))

	var me *mapperr.Error
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "Pt1Line1b_GivenName[0]", me.Field)
	assert.Equal(t, "given_name", func() string { n, _ := r.MappingFor(fields.Key{FormType: "i485", Version: "1.0.0", FieldID: me.Field}); return n }())

	assert.Equal(t, before, r.ListFields())
}

func TestRegisterMappingIsAllOrNothing(t *testing.T) {
	r := seeded(t)
	ctx := context.Background()

	require.NoError(t, r.RegisterMapping(ctx, "alien_number", oneToOne("i485", "1.0.0", "AlienNumber[1]")))

	composite := fields.CollectionMapping{
		Kind:     fields.MappingComposite,
		FormType: "i485",
		Version:  "1.0.0",
		FieldIDs: []string{"SSN[0]", "AlienNumber[1]"},
	}
	err := r.RegisterMapping(ctx, "ssn", composite)
	require.Error(t, err)

	_, bound := r.MappingFor(fields.Key{FormType: "i485", Version: "1.0.0", FieldID: "SSN[0]"})
	assert.False(t, bound, "no key of a rejected mapping may be bound")
}

func TestRegisterMappingIsIdempotent(t *testing.T) {
	r := seeded(t)
	ctx := context.Background()
	m := oneToOne("i485", "1.0.0", "Pt1Line1a_FamilyName[0]")

	require.NoError(t, r.RegisterMapping(ctx, "family_name", m))
	require.NoError(t, r.RegisterMapping(ctx, "family_name", m))

	f, ok := r.GetField("family_name")
	require.True(t, ok)
	assert.Len(t, f.FormMappings, 1)
}

func TestRegisterMappingUnknownField(t *testing.T) {
	r := seeded(t)

	err := r.RegisterMapping(context.Background(), "nope", oneToOne("i485", "1.0.0", "X[0]"))
	assert.True(t, errors.Is(err, mapperr.ErrFieldNotFound))

	err = r.RegisterMapping(context.Background(), "given_name", fields.CollectionMapping{})
	assert.True(t, errors.Is(err, mapperr.ErrValidation))
}

func TestReusedFieldAccumulatesMappings(t *testing.T) {
	r := seeded(t)
	ctx := context.Background()

	for _, ft := range []string{"i485", "i765", "i130"} {
		m := oneToOne(ft, "1.0.0", "AlienNumber[0]")
		m.Kind = fields.MappingReused
		require.NoError(t, r.RegisterMapping(ctx, "alien_number", m))
	}

	f, _ := r.GetField("alien_number")
	assert.Len(t, f.FormMappings, 3)
}

func TestRegisterMappingStoreFailure(t *testing.T) {
	store := &failingStore{failOn: "bindings"}
	r := seeded(t, WithStore(store))

	err := r.RegisterMapping(context.Background(), "given_name", oneToOne("i485", "1.0.0", "G[0]"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, mapperr.ErrStorage))
	assert.Equal(t, 1, store.bindings)

	_, bound := r.MappingFor(fields.Key{FormType: "i485", Version: "1.0.0", FieldID: "G[0]"})
	assert.False(t, bound)
	f, _ := r.GetField("given_name")
	assert.Empty(t, f.FormMappings)
}

func TestAddFieldStoreFailure(t *testing.T) {
	store := &failingStore{failOn: "save"}
	r := New(WithStore(store))

	err := r.AddField(context.Background(), fields.CanonicalField{FieldName: "x", DataType: fields.DataTypeString})
	assert.True(t, errors.Is(err, mapperr.ErrStorage))
	_, ok := r.GetField("x")
	assert.False(t, ok)
}

func TestLoadRebuildsBindings(t *testing.T) {
	m := oneToOne("i765", "2.0.0", "Line1a_FamilyName[0]")
	m.CanonicalField = "family_name"
	store := &failingStore{loaded: []fields.CanonicalField{{
		FieldName:    "family_name",
		DataType:     fields.DataTypeString,
		Aliases:      []string{"Surname"},
		FormMappings: []fields.CollectionMapping{m},
	}}}
	r := New(WithStore(store))

	require.NoError(t, r.Load(context.Background()))

	name, ok := r.MappingFor(fields.Key{FormType: "i765", Version: "2.0.0", FieldID: "Line1a_FamilyName[0]"})
	require.True(t, ok)
	assert.Equal(t, "family_name", name)
	_, ok = r.FindByNameOrAlias("surname")
	assert.True(t, ok)
}

func TestUpdateAndDeleteField(t *testing.T) {
	r := seeded(t)
	ctx := context.Background()

	f, _ := r.GetField("email")
	f.Aliases = []string{"EMail"}
	require.NoError(t, r.UpdateField(ctx, f))

	_, ok := r.FindByNameOrAlias("emailaddress")
	assert.False(t, ok, "replaced aliases are dropped")
	_, ok = r.FindByNameOrAlias("email")
	assert.True(t, ok)

	require.NoError(t, r.RegisterMapping(ctx, "email", oneToOne("i485", "1.0.0", "Email[0]")))
	assert.Error(t, r.DeleteField(ctx, "email"), "bound fields cannot be deleted")

	require.NoError(t, r.DeleteField(ctx, "daytime_phone"))
	_, ok = r.GetField("daytime_phone")
	assert.False(t, ok)

	assert.True(t, errors.Is(r.UpdateField(ctx, fields.CanonicalField{FieldName: "missing"}), mapperr.ErrFieldNotFound))
}

func TestListUnmapped(t *testing.T) {
	r := seeded(t)
	records := []fields.RawFieldRecord{
		{Name: "Pt1Line1a_FamilyName[0]"},
		{Name: "Pt1Line1b_GivenName[0]"},
		{Name: "Pt1Line1c_MiddleName[0]"},
	}
	require.NoError(t, r.RecordExtraction(context.Background(), "i485", "1.0.0", records))
	require.NoError(t, r.RegisterMapping(context.Background(), "given_name", oneToOne("i485", "1.0.0", "Pt1Line1b_GivenName[0]")))

	unmapped := r.ListUnmapped("i485", "1.0.0")
	require.Len(t, unmapped, 2)
	assert.Equal(t, "Pt1Line1a_FamilyName[0]", unmapped[0].Name)
	assert.Equal(t, "Pt1Line1c_MiddleName[0]", unmapped[1].Name)

	assert.Empty(t, r.ListUnmapped("i485", "9.9.9"))
}

func TestListUnmappedSurvivesReload(t *testing.T) {
	ctx := context.Background()
	store := &extractionStore{}
	r := New(WithStore(store))
	records := []fields.RawFieldRecord{
		{Name: "Pt1Line1a_FamilyName[0]"},
		{Name: "Pt1Line1b_GivenName[0]"},
	}
	require.NoError(t, r.RecordExtraction(ctx, "i485", "1.0.0", records))
	records[0].Name = "mutated"

	m := oneToOne("i485", "1.0.0", "Pt1Line1b_GivenName[0]")
	m.CanonicalField = "given_name"
	store.loaded = []fields.CanonicalField{{FieldName: "given_name", DataType: fields.DataTypeString, FormMappings: []fields.CollectionMapping{m}}}

	reloaded := New(WithStore(store))
	require.NoError(t, reloaded.Load(ctx))
	unmapped := reloaded.ListUnmapped("i485", "1.0.0")
	require.Len(t, unmapped, 1)
	assert.Equal(t, "Pt1Line1a_FamilyName[0]", unmapped[0].Name)

	store.failSave = true
	err := reloaded.RecordExtraction(ctx, "i485", "1.0.0", nil)
	assert.True(t, errors.Is(err, mapperr.ErrStorage))
	assert.Len(t, reloaded.ListUnmapped("i485", "1.0.0"), 1, "a failed save keeps the previous extraction")
}

func TestSnapshotIsIsolated(t *testing.T) {
	r := seeded(t)
	snap := r.Snapshot()

	require.NoError(t, r.AddField(context.Background(), fields.CanonicalField{FieldName: "new_field", DataType: fields.DataTypeString}))

	_, ok := snap.FindByNameOrAlias("new_field")
	assert.False(t, ok)
	assert.Equal(t, len(DefaultCanonicalFields()), snap.Len())
}

func TestConcurrentConflictingRegistrations(t *testing.T) {
	r := seeded(t)
	ctx := context.Background()
	names := []string{"given_name", "family_name", "middle_name", "email"}

	var wg sync.WaitGroup
	errs := make([]error, len(names))
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			errs[i] = r.RegisterMapping(ctx, name, oneToOne("i485", "1.0.0", "Shared[0]"))
		}(i, name)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, errors.Is(err, mapperr.ErrDuplicateMapping))
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestLoadCanonicalFile(t *testing.T) {
	doc := `
version: "1"
fields:
  - field_name: passport_number
    aliases: [PassportNumber]
    validation_rules:
      - rule_type: max_length
        parameters:
          max: 20
  - field_name: date_of_entry
    data_type: date
`
	path := filepath.Join(t.TempDir(), "canonical.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	list, err := LoadCanonicalFile(path)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, fields.DataTypeString, list[0].DataType)
	assert.Equal(t, fields.DataTypeDate, list[1].DataType)
	assert.Equal(t, 20, list[0].ValidationRules[0].Parameters["max"])

	_, err = ParseCanonical([]byte("fields:\n  - data_type: string\n"))
	assert.Error(t, err)

	_, err = LoadCanonicalFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
