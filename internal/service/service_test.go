package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/form-field-mapper/internal/config"
	"github.com/a3tai/form-field-mapper/internal/descriptions"
	"github.com/a3tai/form-field-mapper/internal/fields"
	"github.com/a3tai/form-field-mapper/internal/mapperr"
	"github.com/a3tai/form-field-mapper/internal/schema"
)

func newTestService(t *testing.T, modify func(cfg *config.Config)) *Service {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.FormsDir = t.TempDir()
	if modify != nil {
		modify(cfg)
	}
	svc, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func approvedSchema(t *testing.T, svc *Service, version string, defs []schema.FormFieldDefinition) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.CreateSchema(ctx, CreateSchemaRequest{FormType: "I-485", Version: version, Fields: defs, Actor: "tester"})
	require.NoError(t, err)
	for _, action := range []string{ReviewSubmit, ReviewApprove} {
		_, err = svc.ReviewSchema(ctx, ReviewSchemaRequest{FormType: "i485", Version: version, Action: action, Actor: "tester"})
		require.NoError(t, err, action)
	}
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestServerInfoReflectsConfiguration(t *testing.T) {
	dir := t.TempDir()
	canonical := filepath.Join(dir, "canonical.yaml")
	require.NoError(t, os.WriteFile(canonical, []byte(`
fields:
  - field_name: passport_number
    aliases: [PassportNumber]
  - field_name: date_of_entry
    data_type: date
`), 0o600))

	forms := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(forms, "i-485.pdf"), []byte("%PDF-1.7"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(forms, "notes.txt"), []byte("x"), 0o600))

	svc := newTestService(t, func(cfg *config.Config) {
		cfg.FormsDir = forms
		cfg.CanonicalPath = canonical
	})

	info, err := svc.ServerInfo("form-mapper", "1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "memory", info.Storage)
	assert.Equal(t, []string{"i-485.pdf"}, info.Forms)
	assert.Equal(t, 2, info.CanonicalFields)
	assert.Len(t, info.AvailableTools, len(descriptions.ToolNames))
	assert.Empty(t, info.ActiveVersions)

	_, ok := svc.Registry().GetField("passport_number")
	assert.True(t, ok)
}

func TestCreateSchemaNormalizesFormTypeAndAssignsVersions(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	defs := []schema.FormFieldDefinition{{FieldID: "FamilyName", FieldType: fields.FieldTypeText}}

	first, err := svc.CreateSchema(ctx, CreateSchemaRequest{FormType: "I-485", Fields: defs})
	require.NoError(t, err)
	assert.Equal(t, "i485", first.FormType)
	assert.Equal(t, "1.0.0", first.Version)
	assert.Equal(t, schema.StatusDraft, first.Status)

	second, err := svc.CreateSchema(ctx, CreateSchemaRequest{FormType: "i485", Fields: defs})
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", second.Version)

	_, err = svc.CreateSchema(ctx, CreateSchemaRequest{FormType: "i485"})
	assert.True(t, errors.Is(err, mapperr.ErrValidation))

	_, err = svc.CreateSchema(ctx, CreateSchemaRequest{FormType: "i485", Path: "../outside.pdf"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "security validation failed")
}

func TestActivateSchemaReportsPreviousVersion(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	v1 := []schema.FormFieldDefinition{{FieldID: "FamilyName", FieldType: fields.FieldTypeText}}
	v2 := append(v1, schema.FormFieldDefinition{FieldID: "MiddleName", FieldType: fields.FieldTypeText})

	approvedSchema(t, svc, "1.0.0", v1)
	approvedSchema(t, svc, "1.1.0", v2)

	res, err := svc.ActivateSchema(ctx, ActivateSchemaRequest{FormType: "I-485", Version: "1.0.0"})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", res.Version)
	assert.Empty(t, res.Previous)

	res, err = svc.ActivateSchema(ctx, ActivateSchemaRequest{FormType: "i485", Version: "1.1.0"})
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", res.Version)
	assert.Equal(t, "1.0.0", res.Previous)

	diff, err := svc.DiffSchemas(DiffSchemasRequest{FormType: "i485", FromVersion: "1.0.0", ToVersion: "1.1.0"})
	require.NoError(t, err)
	assert.Equal(t, schema.BumpMinor, diff.RequiredBump)
	assert.False(t, diff.Breaking)
	assert.Empty(t, diff.BumpWarning)
}

func TestRegisterMappingFillsDefaults(t *testing.T) {
	svc := newTestService(t, nil)

	field, err := svc.RegisterMapping(context.Background(), RegisterMappingRequest{
		CanonicalField: "family_name",
		Mapping: fields.CollectionMapping{
			FormType: "I-485",
			Version:  "1.0.0",
			FieldIDs: []string{"Pt1Line1a_FamilyName[0]"},
		},
	})
	require.NoError(t, err)
	require.Len(t, field.FormMappings, 1)
	m := field.FormMappings[0]
	assert.Equal(t, fields.MappingOneToOne, m.Kind)
	assert.Equal(t, "i485", m.FormType)
	assert.Equal(t, "family_name", m.CanonicalField)

	_, err = svc.RegisterMapping(context.Background(), RegisterMappingRequest{
		CanonicalField: "no_such_field",
		Mapping:        fields.CollectionMapping{FormType: "i485", Version: "1.0.0", FieldIDs: []string{"X[0]"}},
	})
	assert.True(t, errors.Is(err, mapperr.ErrFieldNotFound))
}

func TestRequestValidation(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"classify without name", func() error {
			_, err := svc.ClassifyField(ClassifyFieldRequest{Name: "  "})
			return err
		}, mapperr.ErrValidation},
		{"map without version", func() error {
			_, err := svc.MapForm(ctx, MapFormRequest{Path: "i-485.pdf"})
			return err
		}, mapperr.ErrValidation},
		{"migrate without from version", func() error {
			_, err := svc.MigrateData(ctx, MigrateDataRequest{FormType: "i485", ToVersion: "2.0.0", Data: map[string]interface{}{}})
			return err
		}, mapperr.ErrValidation},
		{"migrate without path", func() error {
			_, err := svc.MigrateData(ctx, MigrateDataRequest{FormType: "i485", FromVersion: "1.0.0", ToVersion: "2.0.0", Data: map[string]interface{}{}})
			return err
		}, mapperr.ErrNoMigrationPath},
		{"save data for unknown schema", func() error {
			_, err := svc.SaveClientData(ctx, SaveClientDataRequest{ClientID: "c-1", FormType: "i485", Version: "9.9.9"})
			return err
		}, mapperr.ErrValidation},
		{"unknown review action", func() error {
			_, err := svc.ReviewSchema(ctx, ReviewSchemaRequest{FormType: "i485", Version: "1.0.0", Action: "publish"})
			return err
		}, mapperr.ErrValidation},
		{"diff without schemas", func() error {
			_, err := svc.DiffSchemas(DiffSchemasRequest{FormType: "i485"})
			return err
		}, mapperr.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestListUnmappedIsNeverNil(t *testing.T) {
	svc := newTestService(t, nil)
	res := svc.ListUnmapped(ListUnmappedRequest{FormType: "I-130", Version: "1.0.0"})
	assert.Equal(t, "i130", res.FormType)
	assert.NotNil(t, res.Fields)
	assert.Empty(t, res.Fields)
}
