package registry

import (
	"context"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/a3tai/form-field-mapper/internal/fields"
	"github.com/a3tai/form-field-mapper/internal/mapperr"
)

// Store persists canonical fields and their raw-field bindings. Implementations must make
// SaveBindings atomic: either every key and the updated field are written, or none.
type Store interface {
	SaveCanonicalField(ctx context.Context, field fields.CanonicalField) error
	DeleteCanonicalField(ctx context.Context, name string) error
	SaveBindings(ctx context.Context, field fields.CanonicalField, keys []fields.Key) error
	LoadCanonicalFields(ctx context.Context) ([]fields.CanonicalField, error)
}

// ExtractionStore is implemented by stores that also keep the raw fields of each recorded
// extraction, so unmapped fields can still be listed after a restart
type ExtractionStore interface {
	SaveExtraction(ctx context.Context, extraction Extraction) error
	LoadExtractions(ctx context.Context) ([]Extraction, error)
}

// Extraction is the raw field list recorded for one form version
type Extraction struct {
	FormType string                  `json:"form_type"`
	Version  string                  `json:"version"`
	Records  []fields.RawFieldRecord `json:"records"`
}

// Registry is the authoritative set of canonical fields. Reads may run concurrently;
// all mutations are serialized by a single writer lock so duplicate detection never races.
type Registry struct {
	mu        sync.RWMutex
	fields    map[string]*fields.CanonicalField
	aliases   map[string]string
	bindings  map[fields.Key]string
	extracted map[formVersion][]fields.RawFieldRecord

	store  Store
	logger *slog.Logger
}

type formVersion struct {
	formType string
	version  string
}

// Option configures a Registry
type Option func(*Registry)

// WithStore enables write-through persistence
func WithStore(store Store) Option {
	return func(r *Registry) {
		r.store = store
	}
}

// WithLogger sets the logger used for registry events
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	r := &Registry{
		fields:    make(map[string]*fields.CanonicalField),
		aliases:   make(map[string]string),
		bindings:  make(map[fields.Key]string),
		extracted: make(map[formVersion][]fields.RawFieldRecord),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the in-memory state with the store's contents
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	list, err := r.store.LoadCanonicalFields(ctx)
	if err != nil {
		return mapperr.Wrap(mapperr.ErrorTypeStorage, "failed to load canonical fields", err)
	}
	var extractions []Extraction
	if es, ok := r.store.(ExtractionStore); ok {
		if extractions, err = es.LoadExtractions(ctx); err != nil {
			return mapperr.Wrap(mapperr.ErrorTypeStorage, "failed to load recorded extractions", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.fields = make(map[string]*fields.CanonicalField, len(list))
	r.aliases = make(map[string]string)
	r.bindings = make(map[fields.Key]string)
	for _, f := range list {
		f := f.Clone()
		r.fields[f.FieldName] = &f
		for _, a := range f.Aliases {
			r.aliases[strings.ToLower(a)] = f.FieldName
		}
		for _, m := range f.FormMappings {
			for _, k := range m.Keys() {
				r.bindings[k] = f.FieldName
			}
		}
	}
	r.extracted = make(map[formVersion][]fields.RawFieldRecord, len(extractions))
	for _, e := range extractions {
		r.extracted[formVersion{e.FormType, e.Version}] = e.Records
	}
	r.logger.Info("canonical fields loaded", "count", len(list), "extractions", len(extractions))
	return nil
}

// AddField adds a new canonical field. Names are globally unique and aliases may not
// collide with another field's name or aliases.
func (r *Registry) AddField(ctx context.Context, field fields.CanonicalField) error {
	if err := validateField(field); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.fields[field.FieldName]; exists {
		return mapperr.Newf(mapperr.ErrorTypeValidation, "canonical field %q already exists", field.FieldName).
			WithField(field.FieldName)
	}
	if err := r.checkAliasesLocked(field); err != nil {
		return err
	}

	f := field.Clone()
	f.FormMappings = nil
	if r.store != nil {
		if err := r.store.SaveCanonicalField(ctx, f); err != nil {
			return mapperr.Wrap(mapperr.ErrorTypeStorage, "failed to save canonical field", err).WithField(f.FieldName)
		}
	}

	r.fields[f.FieldName] = &f
	for _, a := range f.Aliases {
		r.aliases[strings.ToLower(a)] = f.FieldName
	}
	return nil
}

// UpdateField replaces the definition of an existing field, keeping its form mappings
func (r *Registry) UpdateField(ctx context.Context, field fields.CanonicalField) error {
	if err := validateField(field); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.fields[field.FieldName]
	if !ok {
		return mapperr.Newf(mapperr.ErrorTypeFieldNotFound, "canonical field %q does not exist", field.FieldName).
			WithField(field.FieldName)
	}
	if err := r.checkAliasesLocked(field); err != nil {
		return err
	}

	f := field.Clone()
	f.FormMappings = existing.Clone().FormMappings
	if r.store != nil {
		if err := r.store.SaveCanonicalField(ctx, f); err != nil {
			return mapperr.Wrap(mapperr.ErrorTypeStorage, "failed to save canonical field", err).WithField(f.FieldName)
		}
	}

	for _, a := range existing.Aliases {
		delete(r.aliases, strings.ToLower(a))
	}
	for _, a := range f.Aliases {
		r.aliases[strings.ToLower(a)] = f.FieldName
	}
	r.fields[f.FieldName] = &f
	return nil
}

// DeleteField removes a field that no raw field is bound to
func (r *Registry) DeleteField(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.fields[name]
	if !ok {
		return mapperr.Newf(mapperr.ErrorTypeFieldNotFound, "canonical field %q does not exist", name).WithField(name)
	}
	if len(f.FormMappings) > 0 {
		return mapperr.Newf(mapperr.ErrorTypeValidation, "canonical field %q still backs %d mapping(s)", name, len(f.FormMappings)).
			WithField(name)
	}
	if r.store != nil {
		if err := r.store.DeleteCanonicalField(ctx, name); err != nil {
			return mapperr.Wrap(mapperr.ErrorTypeStorage, "failed to delete canonical field", err).WithField(name)
		}
	}

	for _, a := range f.Aliases {
		delete(r.aliases, strings.ToLower(a))
	}
	delete(r.fields, name)
	return nil
}

func validateField(field fields.CanonicalField) error {
	if strings.TrimSpace(field.FieldName) == "" {
		return mapperr.New(mapperr.ErrorTypeValidation, "canonical field name cannot be empty")
	}
	if field.DataType != "" && !field.DataType.Valid() {
		return mapperr.Newf(mapperr.ErrorTypeValidation, "unknown data type %q", field.DataType).WithField(field.FieldName)
	}
	return nil
}

func (r *Registry) checkAliasesLocked(field fields.CanonicalField) error {
	for _, a := range field.Aliases {
		lower := strings.ToLower(a)
		if owner, ok := r.aliases[lower]; ok && owner != field.FieldName {
			return mapperr.Newf(mapperr.ErrorTypeValidation, "alias %q already belongs to %q", a, owner).
				WithField(field.FieldName)
		}
		if _, ok := r.fields[a]; ok && a != field.FieldName {
			return mapperr.Newf(mapperr.ErrorTypeValidation, "alias %q collides with a canonical field name", a).
				WithField(field.FieldName)
		}
	}
	return nil
}

// GetField returns a copy of the named field
func (r *Registry) GetField(name string) (fields.CanonicalField, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.fields[name]
	if !ok {
		return fields.CanonicalField{}, false
	}
	return f.Clone(), true
}

// ListFields returns copies of every field sorted by name
func (r *Registry) ListFields() []fields.CanonicalField {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]fields.CanonicalField, 0, len(r.fields))
	for _, f := range r.fields {
		out = append(out, f.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldName < out[j].FieldName })
	return out
}

// FindByNameOrAlias matches token exactly against field names, then case-insensitively
// against aliases
func (r *Registry) FindByNameOrAlias(token string) (fields.CanonicalField, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := lookupLocked(r.fields, r.aliases, token)
	if !ok {
		return fields.CanonicalField{}, false
	}
	return r.fields[name].Clone(), true
}

func lookupLocked(byName map[string]*fields.CanonicalField, aliases map[string]string, token string) (string, bool) {
	if _, ok := byName[token]; ok {
		return token, true
	}
	if name, ok := aliases[strings.ToLower(token)]; ok {
		return name, true
	}
	return "", false
}

// RegisterMapping binds every raw field of mapping to the named canonical field.
// Binding a raw field that already belongs to a different field fails with a
// DuplicateMappingError and leaves the registry untouched. Re-registering the same
// binding is a no-op.
func (r *Registry) RegisterMapping(ctx context.Context, canonicalName string, mapping fields.CollectionMapping) error {
	if len(mapping.FieldIDs) == 0 {
		return mapperr.New(mapperr.ErrorTypeValidation, "mapping has no raw fields").WithField(canonicalName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	field, ok := r.fields[canonicalName]
	if !ok {
		return mapperr.Newf(mapperr.ErrorTypeFieldNotFound, "canonical field %q does not exist", canonicalName).
			WithField(canonicalName).WithForm(mapping.FormType, mapping.Version)
	}

	keys := mapping.Keys()
	var newKeys []fields.Key
	for _, k := range keys {
		owner, bound := r.bindings[k]
		if bound && owner != canonicalName {
			return mapperr.Newf(mapperr.ErrorTypeDuplicateMapping, "raw field already mapped to %q", owner).
				WithField(k.FieldID).
				WithForm(k.FormType, k.Version).
				WithContext("requested", canonicalName)
		}
		if !bound {
			newKeys = append(newKeys, k)
		}
	}

	mapping.CanonicalField = canonicalName
	mapping.FieldIDs = append([]string(nil), mapping.FieldIDs...)

	updated := field.Clone()
	idx := findMapping(updated.FormMappings, mapping)
	switch {
	case idx >= 0 && reflect.DeepEqual(updated.FormMappings[idx], mapping):
		if len(newKeys) == 0 {
			return nil
		}
	case idx >= 0:
		updated.FormMappings[idx] = mapping
	default:
		// reused fields accumulate one entry per form occurrence
		updated.FormMappings = append(updated.FormMappings, mapping)
	}

	if r.store != nil {
		if err := r.store.SaveBindings(ctx, updated, keys); err != nil {
			return mapperr.Wrap(mapperr.ErrorTypeStorage, "failed to save mapping", err).
				WithField(canonicalName).WithForm(mapping.FormType, mapping.Version)
		}
	}

	for _, k := range keys {
		r.bindings[k] = canonicalName
	}
	r.fields[canonicalName] = &updated

	r.logger.Debug("mapping registered",
		"canonical_field", canonicalName,
		"kind", mapping.Kind,
		"form_type", mapping.FormType,
		"version", mapping.Version,
		"fields", len(keys))
	return nil
}

// findMapping returns the index of the entry covering the same form version and raw fields
func findMapping(list []fields.CollectionMapping, m fields.CollectionMapping) int {
	for i, existing := range list {
		if existing.FormType == m.FormType && existing.Version == m.Version &&
			reflect.DeepEqual(sortedIDs(existing.FieldIDs), sortedIDs(m.FieldIDs)) {
			return i
		}
	}
	return -1
}

func sortedIDs(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

// MappingFor returns the canonical field a raw field is bound to
func (r *Registry) MappingFor(key fields.Key) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.bindings[key]
	return name, ok
}

// RecordExtraction remembers the raw fields extracted for a form version so unmapped
// fields can be listed later. A later extraction of the same version replaces it. The
// list is written through when the store implements ExtractionStore; otherwise it lasts
// as long as the registry.
func (r *Registry) RecordExtraction(ctx context.Context, formType, version string, records []fields.RawFieldRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := append([]fields.RawFieldRecord(nil), records...)
	if es, ok := r.store.(ExtractionStore); ok {
		if err := es.SaveExtraction(ctx, Extraction{FormType: formType, Version: version, Records: copied}); err != nil {
			return mapperr.Wrap(mapperr.ErrorTypeStorage, "failed to save extracted fields", err).WithForm(formType, version)
		}
	}
	r.extracted[formVersion{formType, version}] = copied
	return nil
}

// ListUnmapped returns every extracted field of the form version with no binding, in
// extraction order
func (r *Registry) ListUnmapped(formType, version string) []fields.RawFieldRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []fields.RawFieldRecord
	for _, rec := range r.extracted[formVersion{formType, version}] {
		key := fields.Key{FormType: formType, Version: version, FieldID: rec.Name}
		if _, ok := r.bindings[key]; !ok {
			out = append(out, rec)
		}
	}
	return out
}

// Snapshot returns an immutable point-in-time view for resolvers
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := &Snapshot{
		fields:   make(map[string]*fields.CanonicalField, len(r.fields)),
		aliases:  make(map[string]string, len(r.aliases)),
		bindings: make(map[fields.Key]string, len(r.bindings)),
	}
	for name, f := range r.fields {
		c := f.Clone()
		s.fields[name] = &c
	}
	for a, n := range r.aliases {
		s.aliases[a] = n
	}
	for k, n := range r.bindings {
		s.bindings[k] = n
	}
	return s
}

// Snapshot is a read-only copy of the registry
type Snapshot struct {
	fields   map[string]*fields.CanonicalField
	aliases  map[string]string
	bindings map[fields.Key]string
}

// FindByNameOrAlias has the same semantics as Registry.FindByNameOrAlias
func (s *Snapshot) FindByNameOrAlias(token string) (fields.CanonicalField, bool) {
	name, ok := lookupLocked(s.fields, s.aliases, token)
	if !ok {
		return fields.CanonicalField{}, false
	}
	return s.fields[name].Clone(), true
}

// MappingFor returns the canonical field a raw field was bound to when the snapshot was taken
func (s *Snapshot) MappingFor(key fields.Key) (string, bool) {
	name, ok := s.bindings[key]
	return name, ok
}

// Len returns the number of canonical fields in the snapshot
func (s *Snapshot) Len() int {
	return len(s.fields)
}
