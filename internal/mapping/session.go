// Package mapping runs a whole form through classification and collection resolution and
// produces the mapping export used to review and register the result.
package mapping

import (
	"context"
	"log/slog"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/a3tai/form-field-mapper/internal/collection"
	"github.com/a3tai/form-field-mapper/internal/fields"
	"github.com/a3tai/form-field-mapper/internal/intelligence"
	"github.com/a3tai/form-field-mapper/internal/mapperr"
	"github.com/a3tai/form-field-mapper/internal/registry"
)

// FieldExport is the export entry of one raw field
type FieldExport struct {
	Persona             string `json:"persona"`
	Domain              string `json:"domain"`
	CollectionFieldName string `json:"collectionFieldName"`
}

// Export summarizes a completed mapping session
type Export struct {
	TotalFields         int                    `json:"totalFields"`
	MappedFields        int                    `json:"mappedFields"`
	FieldMappings       map[string]FieldExport `json:"fieldMappings"`
	NewCollectionFields []string               `json:"newCollectionFields"`
}

// Request is one form to map
type Request struct {
	FormType string
	Version  string
	Records  []fields.RawFieldRecord
	// Register binds every resolved mapping of an existing canonical field in the registry
	Register bool
}

// Outcome is everything a session produced
type Outcome struct {
	FormType        string                              `json:"form_type"`
	Version         string                              `json:"version"`
	Export          Export                              `json:"export"`
	Classifications []intelligence.ClassificationResult `json:"classifications"`
	Mappings        []fields.CollectionMapping          `json:"mappings"`
	Items           []collection.Item                   `json:"items,omitempty"`
	Skipped         []string                            `json:"skipped,omitempty"`
	Registered      int                                 `json:"registered"`
	Report          *mapperr.Report                     `json:"report"`
}

// Mapper maps whole forms against a registry
type Mapper struct {
	classifier *intelligence.FieldClassifier
	registry   *registry.Registry
	rules      *collection.Rules
	workers    int
	logger     *slog.Logger
}

// Option configures a Mapper
type Option func(*Mapper)

// WithWorkers bounds the number of records classified concurrently
func WithWorkers(n int) Option {
	return func(m *Mapper) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithRules sets the collection resolution rules
func WithRules(rules *collection.Rules) Option {
	return func(m *Mapper) {
		if rules != nil {
			m.rules = rules
		}
	}
}

// WithLogger sets the session logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mapper) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMapper creates a mapper
func NewMapper(classifier *intelligence.FieldClassifier, reg *registry.Registry, opts ...Option) *Mapper {
	m := &Mapper{
		classifier: classifier,
		registry:   reg,
		rules:      collection.DefaultRules(),
		workers:    runtime.NumCPU(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Classify classifies every record concurrently. Results are aligned with records.
func (m *Mapper) Classify(ctx context.Context, formType string, records []fields.RawFieldRecord) ([]intelligence.ClassificationResult, error) {
	results := make([]intelligence.ClassificationResult, len(records))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i, rec := range records {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = m.classifier.ClassifyInForm(formType, rec, "")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Map classifies and resolves a form. Per-field problems land in the outcome report;
// only cancellation returns an error.
func (m *Mapper) Map(ctx context.Context, req Request) (*Outcome, error) {
	formType := intelligence.NormalizeFormType(req.FormType)
	recordErr := m.registry.RecordExtraction(ctx, formType, req.Version, req.Records)

	classes, err := m.Classify(ctx, formType, req.Records)
	if err != nil {
		return nil, err
	}

	resolver := collection.NewResolver(formType, req.Version,
		collection.WithRules(m.rules),
		collection.WithLibrary(m.classifier.Library()),
		collection.WithLogger(m.logger))
	batch := resolver.ResolveAll(req.Records, classes, m.registry.Snapshot())
	if recordErr != nil {
		batch.Report.AddError("", recordErr)
	}

	out := &Outcome{
		FormType:        formType,
		Version:         req.Version,
		Classifications: classes,
		Mappings:        batch.Mappings,
		Items:           collection.GroupItems(batch.Mappings),
		Skipped:         batch.Skipped,
		Report:          batch.Report,
	}
	out.Export = BuildExport(len(req.Records), batch.Mappings)

	if req.Register {
		out.Registered = m.register(ctx, batch.Mappings, out.Report)
	}
	out.Report.Sort()

	errs, warnings := out.Report.Count()
	m.logger.Info("form mapped",
		"form_type", formType,
		"version", req.Version,
		"fields", len(req.Records),
		"mapped", out.Export.MappedFields,
		"new_fields", len(out.Export.NewCollectionFields),
		"registered", out.Registered,
		"errors", errs,
		"warnings", warnings)
	return out, nil
}

// register binds the mappings of existing canonical fields. Failures are reported per
// field and do not stop the rest.
func (m *Mapper) register(ctx context.Context, mappings []fields.CollectionMapping, report *mapperr.Report) int {
	registered := 0
	for _, mp := range mappings {
		if mp.Proposed || len(mp.FieldIDs) == 0 {
			continue
		}
		if err := m.registry.RegisterMapping(ctx, mp.CanonicalField, mp); err != nil {
			report.AddError(mp.FieldIDs[0], err)
			continue
		}
		registered++
	}
	return registered
}

// BuildExport summarizes mappings. Proposed canonical names are listed once in
// NewCollectionFields; only fields bound to an existing canonical field count as mapped.
func BuildExport(totalFields int, mappings []fields.CollectionMapping) Export {
	exp := Export{
		TotalFields:         totalFields,
		FieldMappings:       make(map[string]FieldExport),
		NewCollectionFields: []string{},
	}

	proposed := make(map[string]bool)
	for _, mp := range mappings {
		for _, id := range mp.FieldIDs {
			exp.FieldMappings[id] = FieldExport{
				Persona:             mp.Persona,
				Domain:              mp.Domain,
				CollectionFieldName: mp.CanonicalField,
			}
			if !mp.Proposed {
				exp.MappedFields++
			}
		}
		if mp.Proposed && mp.CanonicalField != "" {
			proposed[mp.CanonicalField] = true
		}
	}

	for name := range proposed {
		exp.NewCollectionFields = append(exp.NewCollectionFields, name)
	}
	sort.Strings(exp.NewCollectionFields)
	return exp
}
