package mapperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesByType(t *testing.T) {
	err := Newf(ErrorTypeDuplicateMapping, "field %s already bound", "Pt1Line1a_FamilyName[0]").
		WithForm("i485", "1.0.0")

	wrapped := fmt.Errorf("register: %w", err)

	assert.True(t, errors.Is(wrapped, ErrDuplicateMapping))
	assert.False(t, errors.Is(wrapped, ErrFieldNotFound))
	assert.Equal(t, ErrorTypeDuplicateMapping, TypeOf(wrapped))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("plain")))
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(ErrorTypeStorage, "save failed", cause).
		WithField("given_name").
		WithForm("i130", "2.1.0").
		WithContext("table", "canonical_fields").
		WithContext("attempt", "1")

	assert.Equal(t,
		"[STORAGE] save failed (field given_name) (form i130 v2.1.0): attempt=1, table=canonical_fields: boom",
		err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, err.IsFatal())
	assert.False(t, err.Recoverable)
}

func TestErrorTypeString(t *testing.T) {
	tests := []struct {
		errType  ErrorType
		expected string
	}{
		{ErrorTypeUnrecognizedFieldName, "UNRECOGNIZED_FIELD_NAME"},
		{ErrorTypeAmbiguousClassification, "AMBIGUOUS_CLASSIFICATION"},
		{ErrorTypeCompositeGap, "COMPOSITE_GAP"},
		{ErrorTypeDuplicateMapping, "DUPLICATE_MAPPING"},
		{ErrorTypeFieldNotFound, "FIELD_NOT_FOUND"},
		{ErrorTypeNoMigrationPath, "NO_MIGRATION_PATH"},
		{ErrorTypeManualMigrationRequired, "MANUAL_MIGRATION_REQUIRED"},
		{ErrorType(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.errType.String())
		})
	}
}

func TestReportSeparatesWarnings(t *testing.T) {
	r := NewReport("i485", "1.0.0")
	r.Add(New(ErrorTypeAmbiguousClassification, "no indicator matched").WithField("Field1"))
	r.Add(New(ErrorTypeCompositeGap, "missing index 2").WithField("AlienNumber"))
	r.AddError("Other", errors.New("unexpected"))
	r.Add(nil)

	errs, warns := r.Count()
	assert.Equal(t, 2, errs)
	assert.Equal(t, 1, warns)
	assert.False(t, r.HasFatal())
	assert.Equal(t, "Found 2 error(s) and 1 warning(s)", r.Summary())

	require.Len(t, r.ByType(ErrorTypeCompositeGap), 1)
	assert.Equal(t, "i485", r.ByType(ErrorTypeCompositeGap)[0].FormType)
	assert.Equal(t, []string{"AlienNumber", "Field1", "Other"}, r.ReviewFields())
}

func TestReportEmptySummary(t *testing.T) {
	r := NewReport("", "")
	assert.Equal(t, "No errors or warnings", r.Summary())

	r.Add(New(ErrorTypeNoMigrationPath, "no path"))
	assert.True(t, r.HasFatal())
	assert.Contains(t, r.Summary(), "fatal")
}
