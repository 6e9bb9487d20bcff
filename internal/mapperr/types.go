package mapperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error represents a classification, mapping or migration failure with enough context
// to place it in a manual-review queue
type Error struct {
	Type        ErrorType         `json:"type"`
	Message     string            `json:"message"`
	Field       string            `json:"field,omitempty"`
	FormType    string            `json:"form_type,omitempty"`
	Version     string            `json:"version,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
	Recoverable bool              `json:"recoverable"`
	Cause       error             `json:"-"`
}

// ErrorType represents the categories of the mapping error taxonomy
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeUnrecognizedFieldName
	ErrorTypeAmbiguousClassification
	ErrorTypeCompositeGap
	ErrorTypeDuplicateMapping
	ErrorTypeFieldNotFound
	ErrorTypeNoMigrationPath
	ErrorTypeManualMigrationRequired
	ErrorTypeUnmatchedComponent
	ErrorTypeMaxItemsExceeded
	ErrorTypeValidation
	ErrorTypeInvalidTransition
	ErrorTypeImmutableVersion
	ErrorTypeStorage
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

// Sentinels for errors.Is comparisons. Matching is by Type only.
var (
	ErrUnrecognizedFieldName   = &Error{Type: ErrorTypeUnrecognizedFieldName}
	ErrAmbiguousClassification = &Error{Type: ErrorTypeAmbiguousClassification}
	ErrCompositeGap            = &Error{Type: ErrorTypeCompositeGap}
	ErrDuplicateMapping        = &Error{Type: ErrorTypeDuplicateMapping}
	ErrFieldNotFound           = &Error{Type: ErrorTypeFieldNotFound}
	ErrNoMigrationPath         = &Error{Type: ErrorTypeNoMigrationPath}
	ErrManualMigration         = &Error{Type: ErrorTypeManualMigrationRequired}
	ErrUnmatchedComponent      = &Error{Type: ErrorTypeUnmatchedComponent}
	ErrMaxItemsExceeded        = &Error{Type: ErrorTypeMaxItemsExceeded}
	ErrValidation              = &Error{Type: ErrorTypeValidation}
	ErrInvalidTransition       = &Error{Type: ErrorTypeInvalidTransition}
	ErrImmutableVersion        = &Error{Type: ErrorTypeImmutableVersion}
	ErrStorage                 = &Error{Type: ErrorTypeStorage}
)

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(e.Type.String())
	b.WriteString("] ")
	b.WriteString(e.Message)
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %s)", e.Field)
	}
	if e.FormType != "" {
		fmt.Fprintf(&b, " (form %s", e.FormType)
		if e.Version != "" {
			fmt.Fprintf(&b, " v%s", e.Version)
		}
		b.WriteString(")")
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+e.Context[k])
		}
		b.WriteString(": ")
		b.WriteString(strings.Join(parts, ", "))
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause, if any
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same type
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// String returns a string representation of the ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeUnrecognizedFieldName:
		return "UNRECOGNIZED_FIELD_NAME"
	case ErrorTypeAmbiguousClassification:
		return "AMBIGUOUS_CLASSIFICATION"
	case ErrorTypeCompositeGap:
		return "COMPOSITE_GAP"
	case ErrorTypeDuplicateMapping:
		return "DUPLICATE_MAPPING"
	case ErrorTypeFieldNotFound:
		return "FIELD_NOT_FOUND"
	case ErrorTypeNoMigrationPath:
		return "NO_MIGRATION_PATH"
	case ErrorTypeManualMigrationRequired:
		return "MANUAL_MIGRATION_REQUIRED"
	case ErrorTypeUnmatchedComponent:
		return "UNMATCHED_COMPONENT"
	case ErrorTypeMaxItemsExceeded:
		return "MAX_ITEMS_EXCEEDED"
	case ErrorTypeValidation:
		return "VALIDATION"
	case ErrorTypeInvalidTransition:
		return "INVALID_TRANSITION"
	case ErrorTypeImmutableVersion:
		return "IMMUTABLE_VERSION"
	case ErrorTypeStorage:
		return "STORAGE"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the type by name so JSON reports stay readable
func (et ErrorType) MarshalText() ([]byte, error) {
	return []byte(et.String()), nil
}

// GetSeverity returns the severity level for a given error type
func (et ErrorType) GetSeverity() ErrorSeverity {
	switch et {
	case ErrorTypeUnrecognizedFieldName:
		return SeverityInfo
	case ErrorTypeAmbiguousClassification, ErrorTypeUnmatchedComponent, ErrorTypeMaxItemsExceeded:
		return SeverityWarning
	case ErrorTypeCompositeGap, ErrorTypeDuplicateMapping, ErrorTypeFieldNotFound:
		return SeverityError
	case ErrorTypeValidation, ErrorTypeInvalidTransition, ErrorTypeImmutableVersion:
		return SeverityError
	case ErrorTypeNoMigrationPath, ErrorTypeManualMigrationRequired, ErrorTypeStorage:
		return SeverityFatal
	default:
		return SeverityError
	}
}

// IsRecoverable determines if processing of the surrounding batch can continue
func (et ErrorType) IsRecoverable() bool {
	switch et {
	case ErrorTypeUnrecognizedFieldName, ErrorTypeAmbiguousClassification:
		return true // falls back to keyword matching or manual review
	case ErrorTypeCompositeGap, ErrorTypeUnmatchedComponent, ErrorTypeMaxItemsExceeded:
		return true // only the affected group is lost
	case ErrorTypeDuplicateMapping, ErrorTypeFieldNotFound, ErrorTypeValidation:
		return true
	default:
		return false
	}
}

// New creates a new Error of the given type
func New(errorType ErrorType, message string) *Error {
	return &Error{
		Type:        errorType,
		Message:     message,
		Recoverable: errorType.IsRecoverable(),
	}
}

// Newf creates a new Error with a formatted message
func Newf(errorType ErrorType, format string, args ...interface{}) *Error {
	return New(errorType, fmt.Sprintf(format, args...))
}

// Wrap wraps a standard error as an Error of the given type
func Wrap(errorType ErrorType, message string, err error) *Error {
	e := New(errorType, message)
	e.Cause = err
	return e
}

// WithField sets the raw field or canonical field the error refers to
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithForm sets the form type and version the error refers to
func (e *Error) WithForm(formType, version string) *Error {
	e.FormType = formType
	e.Version = version
	return e
}

// WithContext adds a key/value pair of context to an existing Error
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// GetSeverity returns the severity of this specific error
func (e *Error) GetSeverity() ErrorSeverity {
	return e.Type.GetSeverity()
}

// IsFatal returns true if this error aborts the operation that raised it
func (e *Error) IsFatal() bool {
	return e.GetSeverity() == SeverityFatal
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown when err is not an *Error
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}
