package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/form-field-mapper/internal/fields"
	"github.com/a3tai/form-field-mapper/internal/mapperr"
	"github.com/a3tai/form-field-mapper/internal/migration"
	"github.com/a3tai/form-field-mapper/internal/registry"
	"github.com/a3tai/form-field-mapper/internal/schema"
)

// openTestStore connects to FORM_MAPPER_TEST_DATABASE_URL. Every test uses a fresh form
// type so runs against a shared database do not collide.
func openTestStore(t *testing.T) (*Postgres, string) {
	t.Helper()
	dsn := os.Getenv("FORM_MAPPER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FORM_MAPPER_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, "test-" + uuid.NewString()[:8]
}

func TestRegistryRoundTrip(t *testing.T) {
	p, formType := openTestStore(t)
	ctx := context.Background()
	name := formType + "_given_name"

	r := registry.New(registry.WithStore(p))
	require.NoError(t, r.AddField(ctx, fields.CanonicalField{FieldName: name, DataType: fields.DataTypeString}))
	t.Cleanup(func() { _ = p.DeleteCanonicalField(context.Background(), name) })

	err := r.RegisterMapping(ctx, name, fields.CollectionMapping{
		Kind:     fields.MappingOneToOne,
		FormType: formType,
		Version:  "1.0.0",
		FieldIDs: []string{"Pt1Line1b_GivenName[0]"},
	})
	require.NoError(t, err)

	reloaded := registry.New(registry.WithStore(p))
	require.NoError(t, reloaded.Load(ctx))
	bound, ok := reloaded.MappingFor(fields.Key{FormType: formType, Version: "1.0.0", FieldID: "Pt1Line1b_GivenName[0]"})
	require.True(t, ok)
	assert.Equal(t, name, bound)
}

func TestExtractionsSurviveReload(t *testing.T) {
	p, formType := openTestStore(t)
	ctx := context.Background()

	r := registry.New(registry.WithStore(p))
	records := []fields.RawFieldRecord{{Name: "AlienNumber[0]", Repeats: []fields.Occurrence{{FullName: "form1[0].#subform[2].AlienNumber[0]", Page: 2}}}}
	require.NoError(t, r.RecordExtraction(ctx, formType, "1.0.0", records))

	reloaded := registry.New(registry.WithStore(p))
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, records, reloaded.ListUnmapped(formType, "1.0.0"))
}

func TestSchemaActivationIsExclusive(t *testing.T) {
	p, formType := openTestStore(t)
	ctx := context.Background()

	for _, v := range []string{"1.0.0", "2.0.0"} {
		require.NoError(t, p.SaveSchema(ctx, &schema.FormSchema{FormType: formType, Version: v, Status: schema.StatusApproved}))
	}
	require.NoError(t, p.SetActive(ctx, formType, "1.0.0"))
	require.NoError(t, p.SetActive(ctx, formType, "2.0.0"))
	assert.Error(t, p.SetActive(ctx, formType, "9.9.9"))

	_, active, err := p.LoadSchemas(ctx)
	require.NoError(t, err)
	var mine []schema.ActiveVersion
	for _, a := range active {
		if a.FormType == formType {
			mine = append(mine, a)
		}
	}
	assert.Equal(t, []schema.ActiveVersion{{FormType: formType, Version: "2.0.0"}}, mine)
}

func TestClientEntriesAndAudit(t *testing.T) {
	p, formType := openTestStore(t)
	ctx := context.Background()

	_, err := p.LoadEntry(ctx, "c1", formType)
	assert.True(t, errors.Is(err, mapperr.ErrFieldNotFound))

	entry := &migration.ClientEntry{ClientID: "c1", FormType: formType, Version: "1.0.0",
		Data: map[string]interface{}{"FamilyName": "Garcia"}}
	require.NoError(t, p.SaveEntry(ctx, entry))

	has, err := p.HasEntries(ctx, formType, "1.0.0")
	require.NoError(t, err)
	assert.True(t, has)

	got, err := p.LoadEntry(ctx, "c1", formType)
	require.NoError(t, err)
	assert.Equal(t, "Garcia", got.Data["FamilyName"])

	engine := migration.NewEngine(migration.WithStore(p))
	_, err = engine.Register(ctx, migration.Strategy{FormType: formType, FromVersion: "1.0.0", ToVersion: "1.1.0",
		Rules: []migration.FieldRule{{FieldID: "FamilyName", ChangeType: schema.ChangeRemoved}}})
	require.NoError(t, err)

	res, err := engine.MigrateClient(ctx, p, "c1", formType, "1.1.0")
	require.NoError(t, err)
	assert.NotContains(t, res.Data, "FamilyName")

	list, err := p.LoadStrategies(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, list)
}
