package migration

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/a3tai/form-field-mapper/internal/mapperr"
	"github.com/a3tai/form-field-mapper/internal/schema"
)

// Store persists strategies and the migration audit log
type Store interface {
	SaveStrategy(ctx context.Context, s *Strategy) error
	LoadStrategies(ctx context.Context) ([]*Strategy, error)
	AppendAudit(ctx context.Context, entries []AuditEntry) error
}

// SchemaSource resolves stored schema versions. *schema.Manager satisfies it.
type SchemaSource interface {
	Get(formType, version string) (*schema.FormSchema, error)
}

// Engine migrates client data between schema versions along registered strategies
type Engine struct {
	mu         sync.RWMutex
	strategies map[string]map[string]map[string]*Strategy // form type -> from -> to
	audit      []AuditEntry

	schemas SchemaSource
	store   Store
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithStore enables persistence of strategies and audit entries
func WithStore(store Store) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithSchemaSource lets the engine verify that every strategy covers the changes
// between the versions it connects before migrating
func WithSchemaSource(src SchemaSource) Option {
	return func(e *Engine) {
		e.schemas = src
	}
}

// WithLogger sets the engine logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an engine with no strategies
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		strategies: make(map[string]map[string]map[string]*Strategy),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load reads every stored strategy
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	list, err := e.store.LoadStrategies(ctx)
	if err != nil {
		return mapperr.Wrap(mapperr.ErrorTypeStorage, "failed to load migration strategies", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range list {
		e.putLocked(s)
	}
	return nil
}

// Register validates and stores a strategy, replacing any strategy for the same edge
func (e *Engine) Register(ctx context.Context, s Strategy) (*Strategy, error) {
	if err := validateStrategy(&s); err != nil {
		return nil, err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = e.now().UTC()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveStrategy(ctx, &s); err != nil {
			return nil, mapperr.Wrap(mapperr.ErrorTypeStorage, "failed to save migration strategy", err).
				WithForm(s.FormType, s.FromVersion)
		}
	}
	stored := s
	e.putLocked(&stored)

	e.logger.Info("migration strategy registered",
		"form_type", s.FormType,
		"from", s.FromVersion,
		"to", s.ToVersion,
		"type", s.MigrationType,
		"rules", len(s.Rules))
	return &s, nil
}

func validateStrategy(s *Strategy) error {
	if strings.TrimSpace(s.FormType) == "" {
		return mapperr.New(mapperr.ErrorTypeValidation, "strategy form type cannot be empty")
	}
	if _, err := schema.ParseVersion(s.FromVersion); err != nil {
		return err
	}
	if _, err := schema.ParseVersion(s.ToVersion); err != nil {
		return err
	}
	if s.FromVersion == s.ToVersion {
		return mapperr.New(mapperr.ErrorTypeValidation, "strategy must connect two different versions").
			WithForm(s.FormType, s.FromVersion)
	}
	switch s.MigrationType {
	case "":
		s.MigrationType = TypeInPlace
	case TypeInPlace, TypeManual:
	default:
		return mapperr.Newf(mapperr.ErrorTypeValidation, "unknown migration type %q", s.MigrationType)
	}

	seen := make(map[string]bool)
	for _, r := range s.Rules {
		if r.FieldID == "" {
			return mapperr.New(mapperr.ErrorTypeValidation, "rule without field_id").WithForm(s.FormType, s.FromVersion)
		}
		if seen[r.FieldID] {
			return mapperr.Newf(mapperr.ErrorTypeValidation, "field %q has more than one rule", r.FieldID).WithField(r.FieldID)
		}
		seen[r.FieldID] = true

		switch r.ChangeType {
		case schema.ChangeAdded, schema.ChangeRemoved, schema.ChangeModified:
		default:
			return mapperr.Newf(mapperr.ErrorTypeValidation, "rule has unknown change type %q", r.ChangeType).WithField(r.FieldID)
		}
		switch r.Transform {
		case "", TransformDirect, TransformConvert, TransformFormatDate, TransformMap,
			TransformTruncate, TransformDefault, TransformDrop:
		case TransformRename:
			if r.TargetField == "" {
				return mapperr.New(mapperr.ErrorTypeValidation, "rename rule needs target_field").WithField(r.FieldID)
			}
		default:
			return mapperr.Newf(mapperr.ErrorTypeValidation, "unknown transform %q", r.Transform).WithField(r.FieldID)
		}
	}
	return nil
}

func (e *Engine) putLocked(s *Strategy) {
	byFrom, ok := e.strategies[s.FormType]
	if !ok {
		byFrom = make(map[string]map[string]*Strategy)
		e.strategies[s.FormType] = byFrom
	}
	byTo, ok := byFrom[s.FromVersion]
	if !ok {
		byTo = make(map[string]*Strategy)
		byFrom[s.FromVersion] = byTo
	}
	byTo[s.ToVersion] = s
}

// Strategies returns every strategy of a form type ordered by source then target version
func (e *Engine) Strategies(formType string) []Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Strategy
	for _, byTo := range e.strategies[formType] {
		for _, s := range byTo {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := compareVersions(out[i].FromVersion, out[j].FromVersion); c != 0 {
			return c < 0
		}
		return compareVersions(out[i].ToVersion, out[j].ToVersion) < 0
	})
	return out
}

// Path finds the shortest chain of strategies from one version to another by breadth
// first search. Neighbors are visited in ascending version order so equal-length paths
// resolve the same way every time.
func (e *Engine) Path(formType, fromVersion, toVersion string) ([]*Strategy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if fromVersion == toVersion {
		return nil, nil
	}
	graph := e.strategies[formType]

	prev := map[string]*Strategy{fromVersion: nil}
	queue := []string{fromVersion}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		next := make([]string, 0, len(graph[cur]))
		for to := range graph[cur] {
			next = append(next, to)
		}
		sort.Slice(next, func(i, j int) bool { return compareVersions(next[i], next[j]) < 0 })

		for _, to := range next {
			if _, visited := prev[to]; visited {
				continue
			}
			prev[to] = graph[cur][to]
			if to == toVersion {
				return unwind(prev, toVersion), nil
			}
			queue = append(queue, to)
		}
	}

	return nil, mapperr.Newf(mapperr.ErrorTypeNoMigrationPath, "no migration path from %s to %s", fromVersion, toVersion).
		WithForm(formType, fromVersion).
		WithContext("to_version", toVersion)
}

func unwind(prev map[string]*Strategy, target string) []*Strategy {
	var path []*Strategy
	for at := target; prev[at] != nil; at = prev[at].FromVersion {
		path = append(path, prev[at])
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func compareVersions(a, b string) int {
	va, errA := schema.ParseVersion(a)
	vb, errB := schema.ParseVersion(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return va.Compare(vb)
}

// Migrate moves data from one version to another. Each hop works on a copy, so a failure
// anywhere leaves data untouched and aborts the whole chain. Dropped values appear only
// in the audit log, which is committed after every hop succeeds.
func (e *Engine) Migrate(ctx context.Context, data map[string]interface{}, fromVersion, toVersion, formType string) (*Result, error) {
	path, err := e.Path(formType, fromVersion, toVersion)
	if err != nil {
		return nil, err
	}

	migrationID := uuid.NewString()
	result := &Result{
		MigrationID: migrationID,
		FormType:    formType,
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		Path:        []string{fromVersion},
		Data:        copyData(data),
		Audit:       []AuditEntry{},
	}

	for _, s := range path {
		if s.MigrationType == TypeManual {
			return nil, mapperr.Newf(mapperr.ErrorTypeManualMigrationRequired,
				"migration from %s to %s must be performed manually", s.FromVersion, s.ToVersion).
				WithForm(formType, s.FromVersion).
				WithContext("to_version", s.ToVersion)
		}
		if err := e.checkCoverage(s); err != nil {
			return nil, err
		}

		next, entries, err := e.applyHop(migrationID, s, result.Data)
		if err != nil {
			return nil, err
		}
		result.Data = next
		result.Audit = append(result.Audit, entries...)
		result.Path = append(result.Path, s.ToVersion)
	}

	if e.store != nil && len(result.Audit) > 0 {
		if err := e.store.AppendAudit(ctx, result.Audit); err != nil {
			return nil, mapperr.Wrap(mapperr.ErrorTypeStorage, "failed to write migration audit", err).
				WithForm(formType, fromVersion)
		}
	}

	e.mu.Lock()
	e.audit = append(e.audit, result.Audit...)
	e.mu.Unlock()

	e.logger.Info("data migrated",
		"form_type", formType,
		"from", fromVersion,
		"to", toVersion,
		"hops", len(path),
		"audit_entries", len(result.Audit))
	return result, nil
}

// checkCoverage verifies that every removed or modified field between the strategy's
// versions has a rule. Without a schema source there is nothing to verify against; with
// one, both versions must exist.
func (e *Engine) checkCoverage(s *Strategy) error {
	if e.schemas == nil {
		return nil
	}
	return coverageBetween(s, e.schemas.Get)
}

// coverageBetween looks up both versions of s and checks its rules against their diff
func coverageBetween(s *Strategy, get func(formType, version string) (*schema.FormSchema, error)) error {
	from, err := get(s.FormType, s.FromVersion)
	if err != nil {
		return uncoverable(s, s.FromVersion, err)
	}
	to, err := get(s.FormType, s.ToVersion)
	if err != nil {
		return uncoverable(s, s.ToVersion, err)
	}
	return Coverage(schema.Diff(from, to), s)
}

func uncoverable(s *Strategy, version string, err error) error {
	return mapperr.Wrap(mapperr.ErrorTypeValidation,
		fmt.Sprintf("cannot verify migration from %s to %s: schema %s is unknown", s.FromVersion, s.ToVersion, version), err).
		WithForm(s.FormType, version)
}

// Coverage returns an error naming the first removed or modified field of d that s has
// no rule for
func Coverage(d schema.VersionDiff, s *Strategy) error {
	if s.MigrationType == TypeManual {
		return nil
	}
	var missing []string
	for _, c := range d.Changes {
		if c.ChangeType == schema.ChangeAdded {
			continue
		}
		if _, ok := s.rule(c.FieldID); !ok {
			missing = append(missing, c.FieldID)
		}
	}
	if len(missing) > 0 {
		return mapperr.Newf(mapperr.ErrorTypeValidation, "strategy %s -> %s has no rule for %d changed field(s)",
			s.FromVersion, s.ToVersion, len(missing)).
			WithField(missing[0]).
			WithForm(s.FormType, s.FromVersion).
			WithContext("missing", strings.Join(missing, ","))
	}
	return nil
}

// applyHop runs one strategy on a copy of data
func (e *Engine) applyHop(migrationID string, s *Strategy, data map[string]interface{}) (map[string]interface{}, []AuditEntry, error) {
	out := copyData(data)
	var entries []AuditEntry
	now := e.now().UTC()

	record := func(fieldID, action string, previous, next interface{}) {
		entries = append(entries, AuditEntry{
			ID:          uuid.NewString(),
			MigrationID: migrationID,
			FormType:    s.FormType,
			FromVersion: s.FromVersion,
			ToVersion:   s.ToVersion,
			FieldID:     fieldID,
			Action:      action,
			Previous:    previous,
			New:         next,
			At:          now,
		})
	}

	fail := func(r FieldRule, err error) error {
		return mapperr.Wrap(mapperr.ErrorTypeValidation, "migration rule failed", err).
			WithField(r.FieldID).
			WithForm(s.FormType, s.FromVersion).
			WithContext("to_version", s.ToVersion).
			WithContext("transform", string(r.Transform))
	}

	for _, r := range s.Rules {
		value, present := data[r.FieldID]

		switch r.ChangeType {
		case schema.ChangeRemoved:
			if present {
				delete(out, r.FieldID)
				record(r.FieldID, "dropped", value, nil)
			}

		case schema.ChangeAdded:
			if _, exists := out[r.FieldID]; exists {
				continue
			}
			if r.Default != nil {
				out[r.FieldID] = r.Default
				record(r.FieldID, "defaulted", nil, r.Default)
			} else if r.Required {
				return nil, nil, fail(r, mapperr.New(mapperr.ErrorTypeValidation, "required field has no default"))
			}

		case schema.ChangeModified:
			next, exists, err := Apply(r, value, present)
			if err != nil {
				return nil, nil, fail(r, err)
			}
			target := r.FieldID
			if r.Transform == TransformRename {
				target = r.TargetField
				delete(out, r.FieldID)
			}
			if !exists {
				if target == r.FieldID {
					delete(out, target)
				}
				if present {
					record(r.FieldID, "dropped", value, nil)
				}
				continue
			}
			out[target] = next
			switch {
			case target != r.FieldID:
				record(r.FieldID, "renamed:"+target, value, next)
			case !present || !cmp.Equal(value, next):
				record(r.FieldID, "transformed", value, next)
			}
		}
	}
	return out, entries, nil
}

func copyData(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

// AuditLog returns the committed audit entries of a form type
func (e *Engine) AuditLog(formType string) []AuditEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []AuditEntry
	for _, a := range e.audit {
		if a.FormType == formType {
			out = append(out, a)
		}
	}
	return out
}
