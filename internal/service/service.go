// Package service wires the extraction, classification, registry, schema and migration
// components into the operations exposed over MCP and the command line.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/a3tai/form-field-mapper/internal/config"
	"github.com/a3tai/form-field-mapper/internal/descriptions"
	"github.com/a3tai/form-field-mapper/internal/extract"
	"github.com/a3tai/form-field-mapper/internal/fields"
	"github.com/a3tai/form-field-mapper/internal/intelligence"
	"github.com/a3tai/form-field-mapper/internal/mapperr"
	"github.com/a3tai/form-field-mapper/internal/mapping"
	"github.com/a3tai/form-field-mapper/internal/migration"
	"github.com/a3tai/form-field-mapper/internal/registry"
	"github.com/a3tai/form-field-mapper/internal/schema"
	"github.com/a3tai/form-field-mapper/internal/store"
)

// Service handles form mapping operations by orchestrating the mapping components
type Service struct {
	cfg        *config.Config
	guard      *extract.PathGuard
	extractor  *extract.Extractor
	classifier *intelligence.FieldClassifier
	registry   *registry.Registry
	mapper     *mapping.Mapper
	schemas    *schema.Manager
	engine     *migration.Engine
	clients    migration.ClientStore
	db         *store.Postgres
	logger     *slog.Logger
}

// New builds a service from configuration. When a database URL is configured every
// component persists through PostgreSQL and its state is loaded first; otherwise the
// service runs in memory.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	guard, err := extract.NewPathGuard(cfg.FormsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create path guard: %w", err)
	}

	s := &Service{
		cfg:       cfg,
		guard:     guard,
		extractor: extract.NewExtractor(extract.WithMaxFileSize(cfg.MaxFileSize), extract.WithLogger(logger)),
		classifier: intelligence.NewFieldClassifierWithConfig(intelligence.ClassifierConfig{
			RulesPath: cfg.RulesPath,
			CacheSize: intelligence.DefaultClassifierConfig().CacheSize,
		}, logger),
		logger: logger,
	}

	regOpts := []registry.Option{registry.WithLogger(logger)}
	schemaOpts := []schema.Option{schema.WithLogger(logger), schema.WithDiffCacheSize(cfg.DiffCacheSize)}
	s.clients = migration.NewMemoryClients()

	if cfg.HasDatabase() {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		s.db = db
		s.clients = db
		regOpts = append(regOpts, registry.WithStore(db))
		schemaOpts = append(schemaOpts, schema.WithStore(db))
	}

	s.registry = registry.New(regOpts...)
	s.schemas = schema.NewManager(schemaOpts...)

	engineOpts := []migration.Option{migration.WithLogger(logger), migration.WithSchemaSource(s.schemas)}
	if s.db != nil {
		engineOpts = append(engineOpts, migration.WithStore(s.db))
	}
	s.engine = migration.NewEngine(engineOpts...)
	s.schemas.AddActivationCheck(s.engine.ActivationCheck(s.clients))

	if err := s.load(ctx); err != nil {
		s.Close()
		return nil, err
	}

	s.mapper = mapping.NewMapper(s.classifier, s.registry,
		mapping.WithWorkers(cfg.Workers),
		mapping.WithLogger(logger))
	return s, nil
}

// load restores persisted state and seeds the canonical fields that are missing
func (s *Service) load(ctx context.Context) error {
	if err := s.registry.Load(ctx); err != nil {
		return err
	}
	if err := s.schemas.Load(ctx); err != nil {
		return err
	}
	if err := s.engine.Load(ctx); err != nil {
		return err
	}

	seed := registry.DefaultCanonicalFields()
	if s.cfg.CanonicalPath != "" {
		loaded, err := registry.LoadCanonicalFile(s.cfg.CanonicalPath)
		if err != nil {
			return err
		}
		seed = loaded
	}
	added, err := registry.Seed(ctx, s.registry, seed)
	if err != nil {
		return fmt.Errorf("failed to seed canonical fields: %w", err)
	}
	s.logger.Info("canonical fields seeded", "added", added, "total", len(s.registry.ListFields()))
	return nil
}

// Close releases the database connection, if any
func (s *Service) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Registry returns the canonical field registry
func (s *Service) Registry() *registry.Registry { return s.registry }

// Schemas returns the schema version manager
func (s *Service) Schemas() *schema.Manager { return s.schemas }

// Engine returns the migration engine
func (s *Service) Engine() *migration.Engine { return s.engine }

// ExtractFields reads the raw field records of a form inside the forms directory
func (s *Service) ExtractFields(req ExtractFieldsRequest) (*extract.Result, error) {
	path, err := s.guard.Resolve(req.Path)
	if err != nil {
		return nil, fmt.Errorf("security validation failed: %w", err)
	}
	return s.extractor.ExtractFile(path)
}

// ClassifyField classifies one raw field by name, tooltip and section context
func (s *Service) ClassifyField(req ClassifyFieldRequest) (*intelligence.ClassificationResult, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, mapperr.New(mapperr.ErrorTypeValidation, "field name cannot be empty")
	}
	rec := fields.RawFieldRecord{Name: req.Name, Tooltip: req.Tooltip}
	result := s.classifier.ClassifyInForm(req.FormType, rec, req.Section)
	return &result, nil
}

// MapForm extracts, classifies and resolves a form, optionally registering the result
func (s *Service) MapForm(ctx context.Context, req MapFormRequest) (*mapping.Outcome, error) {
	if strings.TrimSpace(req.Version) == "" {
		return nil, mapperr.New(mapperr.ErrorTypeValidation, "version cannot be empty")
	}
	extracted, err := s.ExtractFields(ExtractFieldsRequest{Path: req.Path})
	if err != nil {
		return nil, err
	}

	formType := req.FormType
	if formType == "" {
		formType = extract.FormTypeFromFile(extracted.File)
	}
	return s.mapper.Map(ctx, mapping.Request{
		FormType: formType,
		Version:  req.Version,
		Records:  extracted.Records,
		Register: req.Register,
	})
}

// AddCanonicalField adds a field to the canonical registry
func (s *Service) AddCanonicalField(ctx context.Context, req AddCanonicalFieldRequest) (*fields.CanonicalField, error) {
	if req.Field.DataType == "" {
		req.Field.DataType = fields.DataTypeString
	}
	if err := s.registry.AddField(ctx, req.Field); err != nil {
		return nil, err
	}
	f, _ := s.registry.GetField(req.Field.FieldName)
	return &f, nil
}

// RegisterMapping binds raw fields to an existing canonical field
func (s *Service) RegisterMapping(ctx context.Context, req RegisterMappingRequest) (*fields.CanonicalField, error) {
	req.Mapping.FormType = intelligence.NormalizeFormType(req.Mapping.FormType)
	if req.Mapping.Kind == "" {
		req.Mapping.Kind = fields.MappingOneToOne
	}
	if req.Mapping.CanonicalField == "" {
		req.Mapping.CanonicalField = req.CanonicalField
	}
	if err := s.registry.RegisterMapping(ctx, req.CanonicalField, req.Mapping); err != nil {
		return nil, err
	}
	f, _ := s.registry.GetField(req.CanonicalField)
	return &f, nil
}

// ListUnmapped returns the extracted fields of a form version not bound to any canonical field
func (s *Service) ListUnmapped(req ListUnmappedRequest) *ListUnmappedResult {
	formType := intelligence.NormalizeFormType(req.FormType)
	list := s.registry.ListUnmapped(formType, req.Version)
	if list == nil {
		list = []fields.RawFieldRecord{}
	}
	return &ListUnmappedResult{FormType: formType, Version: req.Version, Fields: list}
}

// CreateSchema creates a draft schema version from explicit definitions or from the
// fields of a form file
func (s *Service) CreateSchema(ctx context.Context, req CreateSchemaRequest) (*schema.FormSchema, error) {
	defs := req.Fields
	formType := req.FormType
	if len(defs) == 0 {
		if req.Path == "" {
			return nil, mapperr.New(mapperr.ErrorTypeValidation, "either fields or path is required")
		}
		extracted, err := s.ExtractFields(ExtractFieldsRequest{Path: req.Path})
		if err != nil {
			return nil, err
		}
		defs = schema.FromRecords(extracted.Records)
		if formType == "" {
			formType = extract.FormTypeFromFile(extracted.File)
		}
	}
	return s.schemas.Create(ctx, schema.FormSchema{
		FormType: intelligence.NormalizeFormType(formType),
		Version:  req.Version,
		Fields:   defs,
	}, req.Actor)
}

// ReviewSchema moves a schema version through its review lifecycle
func (s *Service) ReviewSchema(ctx context.Context, req ReviewSchemaRequest) (*schema.FormSchema, error) {
	formType := intelligence.NormalizeFormType(req.FormType)
	switch req.Action {
	case ReviewSubmit:
		return s.schemas.Submit(ctx, formType, req.Version, req.Actor)
	case ReviewApprove:
		return s.schemas.Approve(ctx, formType, req.Version, req.Actor)
	case ReviewReject:
		return s.schemas.Reject(ctx, formType, req.Version, req.Actor, req.Reason)
	case ReviewRevise:
		return s.schemas.Revise(ctx, formType, req.Version, req.Actor)
	}
	return nil, mapperr.Newf(mapperr.ErrorTypeValidation, "unknown review action %q", req.Action).
		WithForm(formType, req.Version)
}

// DiffSchemas compares two schemas and reports the version bump the changes require.
// Inline schemas take precedence over stored versions.
func (s *Service) DiffSchemas(req DiffSchemasRequest) (*DiffSchemasResult, error) {
	var d schema.VersionDiff
	switch {
	case req.From != nil && req.To != nil:
		d = schema.Diff(req.From, req.To)
	case req.FormType != "" && req.FromVersion != "" && req.ToVersion != "":
		var err error
		d, err = s.schemas.Diff(intelligence.NormalizeFormType(req.FormType), req.FromVersion, req.ToVersion)
		if err != nil {
			return nil, err
		}
	default:
		return nil, mapperr.New(mapperr.ErrorTypeValidation, "provide either from and to schemas or form_type with both versions")
	}

	bump := schema.RequiredBump(d)
	result := &DiffSchemasResult{Diff: d, RequiredBump: bump, Breaking: bump == schema.BumpMajor}
	if d.FromVersion != "" && d.ToVersion != "" {
		if err := schema.CheckVersionBump(d, d.ToVersion); err != nil {
			result.BumpWarning = err.Error()
		}
	}
	return result, nil
}

// ActivateSchema makes an approved version active
func (s *Service) ActivateSchema(ctx context.Context, req ActivateSchemaRequest) (*ActivateSchemaResult, error) {
	formType := intelligence.NormalizeFormType(req.FormType)
	result := &ActivateSchemaResult{FormType: formType}
	if prev, ok := s.schemas.Active(formType); ok {
		result.Previous = prev.Version
	}
	activated, err := s.schemas.Activate(ctx, formType, req.Version)
	if err != nil {
		return nil, err
	}
	result.Version = activated.Version
	if result.Previous == result.Version {
		result.Previous = ""
	}
	return result, nil
}

// RegisterStrategy stores a migration strategy
func (s *Service) RegisterStrategy(ctx context.Context, req RegisterStrategyRequest) (*migration.Strategy, error) {
	req.Strategy.FormType = intelligence.NormalizeFormType(req.Strategy.FormType)
	return s.engine.Register(ctx, req.Strategy)
}

// DeriveStrategy drafts a strategy from the diff of two stored versions
func (s *Service) DeriveStrategy(ctx context.Context, req DeriveStrategyRequest) (*migration.Strategy, error) {
	formType := intelligence.NormalizeFormType(req.FormType)
	d, err := s.schemas.Diff(formType, req.FromVersion, req.ToVersion)
	if err != nil {
		return nil, err
	}
	strategy := migration.DeriveStrategy(d)
	if !req.Register {
		return &strategy, nil
	}
	return s.engine.Register(ctx, strategy)
}

// MigrateData migrates form data between versions, or a stored client entry when a
// client id is given
func (s *Service) MigrateData(ctx context.Context, req MigrateDataRequest) (*migration.Result, error) {
	formType := intelligence.NormalizeFormType(req.FormType)
	if req.ClientID != "" {
		return s.engine.MigrateClient(ctx, s.clients, req.ClientID, formType, req.ToVersion)
	}
	if req.FromVersion == "" {
		return nil, mapperr.New(mapperr.ErrorTypeValidation, "from_version is required without client_id")
	}
	return s.engine.Migrate(ctx, req.Data, req.FromVersion, req.ToVersion, formType)
}

// SaveClientData stores the data a client holds under one form version
func (s *Service) SaveClientData(ctx context.Context, req SaveClientDataRequest) (*migration.ClientEntry, error) {
	formType := intelligence.NormalizeFormType(req.FormType)
	if _, err := s.schemas.Get(formType, req.Version); err != nil {
		return nil, err
	}
	entry := &migration.ClientEntry{
		ClientID: req.ClientID,
		FormType: formType,
		Version:  req.Version,
		Data:     req.Data,
	}
	if err := s.clients.SaveEntry(ctx, entry); err != nil {
		var merr *mapperr.Error
		if errors.As(err, &merr) {
			return nil, err
		}
		return nil, mapperr.Wrap(mapperr.ErrorTypeStorage, "failed to save client data", err).WithForm(formType, req.Version)
	}
	return entry, nil
}

// ServerInfo describes the service and the forms it can read
func (s *Service) ServerInfo(serverName, version string) (*ServerInfoResult, error) {
	forms, err := s.guard.ListForms()
	if err != nil {
		return nil, err
	}
	if forms == nil {
		forms = []string{}
	}

	storage := "memory"
	if s.db != nil {
		storage = "postgres"
	}

	tools := make([]ToolInfo, 0, len(descriptions.ToolNames))
	for _, name := range descriptions.ToolNames {
		tools = append(tools, ToolInfo{Name: name, Description: descriptions.Summary(name)})
	}

	return &ServerInfoResult{
		ServerName:      serverName,
		Version:         version,
		FormsDirectory:  s.guard.Dir(),
		MaxFileSize:     s.cfg.MaxFileSize,
		Storage:         storage,
		Forms:           forms,
		CanonicalFields: len(s.registry.ListFields()),
		RulesVersion:    s.classifier.GetVersion(),
		ActiveVersions:  s.schemas.ActiveVersions(),
		AvailableTools:  tools,
	}, nil
}
