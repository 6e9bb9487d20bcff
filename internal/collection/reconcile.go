package collection

import (
	"fmt"
	"sort"
	"strings"
)

// SourcedValue is a collect-once value as captured by one form
type SourcedValue struct {
	FormType string `json:"form_type"`
	Version  string `json:"version"`
	FieldID  string `json:"field_id"`
	Value    string `json:"value"`
}

// ConflictError reports a reused field that received different values from different
// forms. No value is chosen; the conflict needs a decision by a person.
type ConflictError struct {
	CanonicalField string              `json:"canonical_field"`
	Values         map[string][]string `json:"values"` // value -> sources (form@version/field)
}

func (e *ConflictError) Error() string {
	values := make([]string, 0, len(e.Values))
	for v := range e.Values {
		values = append(values, fmt.Sprintf("%q", v))
	}
	sort.Strings(values)
	return fmt.Sprintf("conflicting values for reused field %s: %s", e.CanonicalField, strings.Join(values, ", "))
}

// ReconcileReused returns the single value agreed on by every source. Empty values are
// ignored and surrounding whitespace does not count as a difference. Disagreeing
// sources yield a *ConflictError.
func ReconcileReused(canonicalField string, values []SourcedValue) (string, error) {
	distinct := make(map[string][]string)
	var agreed string
	for _, v := range values {
		trimmed := strings.TrimSpace(v.Value)
		if trimmed == "" {
			continue
		}
		source := fmt.Sprintf("%s@%s/%s", v.FormType, v.Version, v.FieldID)
		distinct[trimmed] = append(distinct[trimmed], source)
		agreed = trimmed
	}

	if len(distinct) > 1 {
		for v := range distinct {
			sort.Strings(distinct[v])
		}
		return "", &ConflictError{CanonicalField: canonicalField, Values: distinct}
	}
	return agreed, nil
}
