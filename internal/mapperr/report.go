package mapperr

import (
	"errors"
	"fmt"
	"sort"
)

// Report collects per-field errors raised while processing a batch so that one bad
// field never aborts the rest of the batch
type Report struct {
	Errors   []*Error `json:"errors"`
	Warnings []*Error `json:"warnings"`
	FormType string   `json:"form_type,omitempty"`
	Version  string   `json:"version,omitempty"`
}

// NewReport creates a new empty report for a form type and version
func NewReport(formType, version string) *Report {
	return &Report{
		Errors:   make([]*Error, 0),
		Warnings: make([]*Error, 0),
		FormType: formType,
		Version:  version,
	}
}

// Add adds an error to the appropriate list based on severity
func (r *Report) Add(err *Error) {
	if err == nil {
		return
	}
	if err.FormType == "" && r.FormType != "" {
		err.FormType = r.FormType
		err.Version = r.Version
	}

	severity := err.GetSeverity()
	if severity == SeverityWarning || severity == SeverityInfo {
		r.Warnings = append(r.Warnings, err)
	} else {
		r.Errors = append(r.Errors, err)
	}
}

// AddError adds any error, wrapping non-taxonomy errors as ErrorTypeUnknown
func (r *Report) AddError(field string, err error) {
	if err == nil {
		return
	}
	var e *Error
	if !errors.As(err, &e) {
		e = Wrap(ErrorTypeUnknown, "unexpected error", err)
	}
	if e.Field == "" {
		e.Field = field
	}
	r.Add(e)
}

// Merge appends every entry of other into r
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	for _, e := range other.Errors {
		r.Add(e)
	}
	for _, w := range other.Warnings {
		r.Add(w)
	}
}

// Sort orders entries by field then type so that reports are reproducible
func (r *Report) Sort() {
	less := func(list []*Error) func(i, j int) bool {
		return func(i, j int) bool {
			if list[i].Field != list[j].Field {
				return list[i].Field < list[j].Field
			}
			return list[i].Type < list[j].Type
		}
	}
	sort.SliceStable(r.Errors, less(r.Errors))
	sort.SliceStable(r.Warnings, less(r.Warnings))
}

// HasFatal returns true if any fatal error exists
func (r *Report) HasFatal() bool {
	for _, err := range r.Errors {
		if err.IsFatal() {
			return true
		}
	}
	return false
}

// ByType returns every entry of the given type, errors first
func (r *Report) ByType(t ErrorType) []*Error {
	var out []*Error
	for _, err := range r.Errors {
		if err.Type == t {
			out = append(out, err)
		}
	}
	for _, w := range r.Warnings {
		if w.Type == t {
			out = append(out, w)
		}
	}
	return out
}

// ReviewFields returns the distinct field names that need manual review, sorted
func (r *Report) ReviewFields() []string {
	seen := make(map[string]bool)
	for _, list := range [][]*Error{r.Errors, r.Warnings} {
		for _, e := range list {
			if e.Field == "" || e.Type == ErrorTypeUnrecognizedFieldName {
				continue
			}
			seen[e.Field] = true
		}
	}
	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Count returns the total number of errors and warnings
func (r *Report) Count() (errs, warnings int) {
	return len(r.Errors), len(r.Warnings)
}

// Summary returns a text summary of all errors and warnings
func (r *Report) Summary() string {
	errorCount, warningCount := r.Count()
	if errorCount == 0 && warningCount == 0 {
		return "No errors or warnings"
	}

	summary := fmt.Sprintf("Found %d error(s) and %d warning(s)", errorCount, warningCount)

	if r.HasFatal() {
		summary += " (including fatal errors)"
	}

	return summary
}
