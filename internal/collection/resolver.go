package collection

import (
	"log/slog"
	"strings"

	"github.com/a3tai/form-field-mapper/internal/fields"
	"github.com/a3tai/form-field-mapper/internal/intelligence"
	"github.com/a3tai/form-field-mapper/internal/mapperr"
	"github.com/a3tai/form-field-mapper/internal/pattern"
)

// Lookup finds canonical fields by name or alias. Both the registry and its snapshots
// satisfy it.
type Lookup interface {
	FindByNameOrAlias(token string) (fields.CanonicalField, bool)
}

// Resolver turns classified raw fields of one form version into collection mappings.
// It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	formType string
	version  string
	rules    *Rules
	library  *pattern.Library
	logger   *slog.Logger
}

// Option configures a Resolver
type Option func(*Resolver)

// WithRules replaces the built-in resolver rules
func WithRules(rules *Rules) Option {
	return func(r *Resolver) {
		if rules != nil {
			r.rules = rules
		}
	}
}

// WithLibrary sets the pattern library used for sequence and prepopulate detection
func WithLibrary(lib *pattern.Library) Option {
	return func(r *Resolver) {
		if lib != nil {
			r.library = lib
		}
	}
}

// WithLogger sets the resolver logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a resolver for one form version
func NewResolver(formType, version string, opts ...Option) *Resolver {
	r := &Resolver{
		formType: formType,
		version:  version,
		rules:    DefaultRules(),
		library:  pattern.DefaultLibrary(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve maps one record. Composite records resolve to a single-position mapping here;
// ResolveAll merges them with the rest of their group. Issues are flagged problems that
// do not prevent the mapping, such as a repeating component with no matching sub-field.
func (r *Resolver) Resolve(record fields.RawFieldRecord, class intelligence.ClassificationResult, lookup Lookup) (fields.CollectionMapping, []*mapperr.Error) {
	persona := string(class.Persona)
	domain := string(class.Domain)
	base := pattern.BaseToken(record.Name)

	m := fields.CollectionMapping{
		FormType: r.formType,
		Version:  r.version,
		FieldIDs: []string{record.Name},
		Persona:  persona,
		Domain:   domain,
	}

	if _, ok := r.compositeKey(record.Name); ok {
		m.Kind = fields.MappingComposite
		m.Value = record.Value
		r.bind(&m, persona, base, lookup)
		return m, nil
	}

	if seq, ok := r.detectSequence(record); ok {
		return r.resolveRepeating(m, seq, base, record, lookup)
	}

	if from, ok := r.library.DetectPrepopulate(record.Tooltip); ok {
		m.Kind = fields.MappingReused
		m.PrepopulateFrom = from
		r.bind(&m, persona, base, lookup)
		return m, nil
	}

	if r.rules.isReused(persona, domain, base) {
		m.Kind = fields.MappingReused
	} else {
		m.Kind = fields.MappingOneToOne
	}
	r.bind(&m, persona, base, lookup)
	return m, nil
}

// detectSequence looks at the name first, then the tooltip
func (r *Resolver) detectSequence(record fields.RawFieldRecord) (pattern.Sequence, bool) {
	if seq, ok := r.library.DetectSequence(record.Name); ok {
		return seq, true
	}
	return r.library.DetectSequence(record.Tooltip)
}

func (r *Resolver) resolveRepeating(m fields.CollectionMapping, seq pattern.Sequence, base string, record fields.RawFieldRecord, lookup Lookup) (fields.CollectionMapping, []*mapperr.Error) {
	var issues []*mapperr.Error

	m.Kind = fields.MappingRepeating
	m.Occurrence = seq.Index
	m.Collection = seq.Collection
	m.Component = pattern.SnakeCase(base)

	target := seq.Collection
	if mapped, ok := r.rules.Collections[seq.Collection]; ok {
		target = mapped
	}

	field, found := lookup.FindByNameOrAlias(target)
	if !found {
		m.CanonicalField = target
		m.Proposed = true
		return m, nil
	}

	m.CanonicalField = field.FieldName
	m.MaxItems = field.MaxItems

	if len(field.SubFields) > 0 {
		component, ok := matchComponent(field, base, lookup)
		if ok {
			m.Component = component
		} else {
			issues = append(issues, mapperr.Newf(mapperr.ErrorTypeUnmatchedComponent,
				"component %q has no sub-field in %q", m.Component, field.FieldName).
				WithField(record.Name).
				WithForm(r.formType, r.version).
				WithContext("collection", field.FieldName))
		}
	}

	if field.MaxItems > 0 && seq.Index > field.MaxItems {
		issues = append(issues, mapperr.Newf(mapperr.ErrorTypeMaxItemsExceeded,
			"occurrence %d exceeds max_items %d", seq.Index, field.MaxItems).
			WithField(record.Name).
			WithForm(r.formType, r.version).
			WithContext("collection", field.FieldName))
	}
	return m, issues
}

// matchComponent maps a base type onto a declared sub-field, directly by snake_case name
// or through the registry aliases
func matchComponent(collection fields.CanonicalField, base string, lookup Lookup) (string, bool) {
	snake := pattern.SnakeCase(base)
	if collection.HasSubField(snake) {
		return snake, true
	}
	if f, ok := lookup.FindByNameOrAlias(base); ok && collection.HasSubField(f.FieldName) {
		return f.FieldName, true
	}
	return "", false
}

// bind names the canonical field, trying <persona>_<base> before <base> and the raw base
// token as an alias. Unmatched fields get a proposed name.
func (r *Resolver) bind(m *fields.CollectionMapping, persona, base string, lookup Lookup) {
	for _, candidate := range CandidateNames(persona, base) {
		if f, ok := lookup.FindByNameOrAlias(candidate); ok {
			m.CanonicalField = f.FieldName
			return
		}
	}
	if f, ok := lookup.FindByNameOrAlias(base); ok {
		m.CanonicalField = f.FieldName
		return
	}

	m.CanonicalField = ProposedName(persona, base)
	m.Proposed = true
}

// CandidateNames lists the canonical names tried for a field, most specific first
func CandidateNames(persona, base string) []string {
	snake := pattern.SnakeCase(base)
	if snake == "" {
		return nil
	}
	if persona == "" || persona == string(intelligence.PersonaUnknown) {
		return []string{snake}
	}
	return []string{persona + "_" + snake, snake}
}

// ProposedName is the name suggested for a field with no canonical match. Applicant
// fields use the bare name since the applicant is the default subject of a form.
func ProposedName(persona, base string) string {
	snake := pattern.SnakeCase(base)
	switch persona {
	case "", string(intelligence.PersonaUnknown), string(intelligence.PersonaApplicant):
		return snake
	}
	return persona + "_" + snake
}

// compositeKey returns the group a character-position field belongs to. Structural
// names group by part/line/subline and base type; other indexed names by their stem.
func (r *Resolver) compositeKey(name string) (string, bool) {
	if p, ok := pattern.ParseFieldName(name); ok {
		if p.ArrayIndex == nil || !r.rules.isComposite(p.BaseType) {
			return "", false
		}
		return p.GroupKey() + "_" + strings.ToLower(p.BaseType), true
	}

	if r.library.IsStructuralElement(name) {
		return "", false
	}
	stem, _, ok := pattern.SplitIndex(name)
	if !ok || !r.rules.isComposite(pattern.BaseToken(name)) {
		return "", false
	}
	return strings.ToLower(stem), true
}

// arrayIndex returns the character position of a composite field
func arrayIndex(name string) int {
	if p, ok := pattern.ParseFieldName(name); ok && p.ArrayIndex != nil {
		return *p.ArrayIndex
	}
	_, idx, _ := pattern.SplitIndex(name)
	return idx
}
