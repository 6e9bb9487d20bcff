package schema

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/a3tai/form-field-mapper/internal/mapperr"
)

// Store persists schema versions and the active pointer of each form type.
// SetActive must switch the active version in a single transaction.
type Store interface {
	SaveSchema(ctx context.Context, s *FormSchema) error
	LoadSchemas(ctx context.Context) ([]*FormSchema, []ActiveVersion, error)
	SetActive(ctx context.Context, formType, version string) error
}

// ActiveVersion names the active version of a form type
type ActiveVersion struct {
	FormType string `json:"form_type"`
	Version  string `json:"version"`
}

// ActivationCheck vets a version before it becomes active. previous is nil when the form
// type has no active version yet. A non-nil error blocks activation. Checks run while the
// manager holds its writer lock and must not call back into the manager; lookup reads
// other stored versions instead.
type ActivationCheck func(ctx context.Context, previous, next *FormSchema, lookup Lookup) error

// Lookup returns a copy of a stored version
type Lookup func(formType, version string) (*FormSchema, error)

// Manager owns the schema versions of every form type. Writers are serialized; the set of
// active versions is an immutable map swapped atomically so readers always observe exactly
// one active version per form type once one has been activated.
type Manager struct {
	mu       sync.Mutex
	versions map[string]map[string]*FormSchema
	active   atomic.Pointer[map[string]*FormSchema]

	diffs  *lru.Cache[string, VersionDiff]
	checks []ActivationCheck
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithStore enables write-through persistence
func WithStore(store Store) Option {
	return func(m *Manager) {
		m.store = store
	}
}

// WithActivationCheck adds a check run before every activation
func WithActivationCheck(check ActivationCheck) Option {
	return func(m *Manager) {
		if check != nil {
			m.checks = append(m.checks, check)
		}
	}
}

// WithDiffCacheSize sets the number of approved-version diffs kept in memory
func WithDiffCacheSize(size int) Option {
	return func(m *Manager) {
		if size > 0 {
			if cache, err := lru.New[string, VersionDiff](size); err == nil {
				m.diffs = cache
			}
		}
	}
}

// WithLogger sets the manager logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates an empty manager
func NewManager(opts ...Option) *Manager {
	cache, _ := lru.New[string, VersionDiff](256)
	m := &Manager{
		versions: make(map[string]map[string]*FormSchema),
		diffs:    cache,
		logger:   slog.Default(),
		now:      time.Now,
	}
	empty := make(map[string]*FormSchema)
	m.active.Store(&empty)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddActivationCheck registers a check after construction
func (m *Manager) AddActivationCheck(check ActivationCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks = append(m.checks, check)
}

// Load replaces the in-memory state with the store's contents
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	list, active, err := m.store.LoadSchemas(ctx)
	if err != nil {
		return mapperr.Wrap(mapperr.ErrorTypeStorage, "failed to load schemas", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.versions = make(map[string]map[string]*FormSchema)
	for _, s := range list {
		m.putLocked(s.Clone())
	}
	next := make(map[string]*FormSchema, len(active))
	for _, a := range active {
		if s, ok := m.versions[a.FormType][a.Version]; ok {
			next[a.FormType] = s.Clone()
		}
	}
	m.active.Store(&next)
	m.logger.Info("schemas loaded", "versions", len(list), "active", len(next))
	return nil
}

func (m *Manager) putLocked(s *FormSchema) {
	byVersion, ok := m.versions[s.FormType]
	if !ok {
		byVersion = make(map[string]*FormSchema)
		m.versions[s.FormType] = byVersion
	}
	byVersion[s.Version] = s
}

func (m *Manager) getLocked(formType, version string) (*FormSchema, error) {
	s, ok := m.versions[formType][version]
	if !ok {
		return nil, mapperr.Newf(mapperr.ErrorTypeValidation, "schema %s@%s does not exist", formType, version).
			WithForm(formType, version)
	}
	return s, nil
}

// Create registers a new draft version. An empty version is assigned the next minor
// version after the latest one.
func (m *Manager) Create(ctx context.Context, s FormSchema, actor string) (*FormSchema, error) {
	if strings.TrimSpace(s.FormType) == "" {
		return nil, mapperr.New(mapperr.ErrorTypeValidation, "form type cannot be empty")
	}
	if err := validateFields(s.Fields); err != nil {
		return nil, err.WithForm(s.FormType, s.Version)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s.Version == "" {
		next, err := NextVersion(m.latestLocked(s.FormType), false)
		if err != nil {
			return nil, err
		}
		s.Version = next
	}
	if _, err := ParseVersion(s.Version); err != nil {
		return nil, err
	}
	if _, exists := m.versions[s.FormType][s.Version]; exists {
		return nil, mapperr.Newf(mapperr.ErrorTypeValidation, "schema %s@%s already exists", s.FormType, s.Version).
			WithForm(s.FormType, s.Version)
	}

	created := s.Clone()
	created.Status = StatusDraft
	created.CreatedBy = actor
	created.CreatedAt = m.now().UTC()
	created.ApprovedAt = nil
	created.ApprovedBy = ""
	created.History = []AuditEntry{m.audit("create", "", StatusDraft, actor, "")}

	if err := m.saveLocked(ctx, created); err != nil {
		return nil, err
	}
	m.putLocked(created)
	return created.Clone(), nil
}

func validateFields(defs []FormFieldDefinition) *mapperr.Error {
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if strings.TrimSpace(d.FieldID) == "" {
			return mapperr.New(mapperr.ErrorTypeValidation, "field definition without field_id")
		}
		if seen[d.FieldID] {
			return mapperr.Newf(mapperr.ErrorTypeValidation, "field_id %q appears twice", d.FieldID).WithField(d.FieldID)
		}
		seen[d.FieldID] = true
	}
	return nil
}

func (m *Manager) latestLocked(formType string) string {
	var latest Version
	found := false
	for v := range m.versions[formType] {
		parsed, err := ParseVersion(v)
		if err != nil {
			continue
		}
		if !found || parsed.Compare(latest) > 0 {
			latest = parsed
			found = true
		}
	}
	if !found {
		return ""
	}
	return latest.String()
}

// UpdateFields replaces the fields of a draft version
func (m *Manager) UpdateFields(ctx context.Context, formType, version string, defs []FormFieldDefinition, actor string) (*FormSchema, error) {
	if err := validateFields(defs); err != nil {
		return nil, err.WithForm(formType, version)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.getLocked(formType, version)
	if err != nil {
		return nil, err
	}
	switch cur.Status {
	case StatusDraft:
	case StatusApproved:
		return nil, mapperr.New(mapperr.ErrorTypeImmutableVersion, "approved versions cannot change, create a new version").
			WithForm(formType, version)
	default:
		return nil, mapperr.Newf(mapperr.ErrorTypeInvalidTransition, "only draft versions can be edited, version is %s", cur.Status).
			WithForm(formType, version)
	}

	next := cur.Clone()
	next.Fields = (&FormSchema{Fields: defs}).Clone().Fields
	next.History = append(next.History, m.audit("update", StatusDraft, StatusDraft, actor, ""))
	if err := m.saveLocked(ctx, next); err != nil {
		return nil, err
	}
	m.putLocked(next)
	return next.Clone(), nil
}

// transitions lists the allowed status changes keyed by action
var transitions = map[string]struct{ from, to Status }{
	"submit":  {StatusDraft, StatusPending},
	"approve": {StatusPending, StatusApproved},
	"reject":  {StatusPending, StatusRejected},
	"revise":  {StatusRejected, StatusDraft},
}

// Submit moves a draft to pending review
func (m *Manager) Submit(ctx context.Context, formType, version, actor string) (*FormSchema, error) {
	return m.transition(ctx, formType, version, "submit", actor, "")
}

// Approve approves a pending version, freezing it
func (m *Manager) Approve(ctx context.Context, formType, version, actor string) (*FormSchema, error) {
	return m.transition(ctx, formType, version, "approve", actor, "")
}

// Reject returns a pending version for revision
func (m *Manager) Reject(ctx context.Context, formType, version, actor, reason string) (*FormSchema, error) {
	return m.transition(ctx, formType, version, "reject", actor, reason)
}

// Revise moves a rejected version back to draft
func (m *Manager) Revise(ctx context.Context, formType, version, actor string) (*FormSchema, error) {
	return m.transition(ctx, formType, version, "revise", actor, "")
}

func (m *Manager) transition(ctx context.Context, formType, version, action, actor, note string) (*FormSchema, error) {
	t := transitions[action]

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.getLocked(formType, version)
	if err != nil {
		return nil, err
	}
	if cur.Status != t.from {
		return nil, mapperr.Newf(mapperr.ErrorTypeInvalidTransition, "cannot %s a %s version", action, cur.Status).
			WithForm(formType, version).
			WithContext("status", string(cur.Status))
	}

	next := cur.Clone()
	next.Status = t.to
	switch t.to {
	case StatusApproved:
		at := m.now().UTC()
		next.ApprovedAt = &at
		next.ApprovedBy = actor
	case StatusRejected:
		next.RejectionReason = note
	case StatusDraft:
		next.RejectionReason = ""
	}
	next.History = append(next.History, m.audit(action, t.from, t.to, actor, note))

	if err := m.saveLocked(ctx, next); err != nil {
		return nil, err
	}
	m.putLocked(next)

	m.logger.Info("schema status changed",
		"form_type", formType,
		"version", version,
		"from", t.from,
		"to", t.to,
		"actor", actor)
	return next.Clone(), nil
}

func (m *Manager) audit(action string, from, to Status, actor, note string) AuditEntry {
	return AuditEntry{
		ID:     uuid.NewString(),
		Action: action,
		From:   from,
		To:     to,
		Actor:  actor,
		Note:   note,
		At:     m.now().UTC(),
	}
}

func (m *Manager) saveLocked(ctx context.Context, s *FormSchema) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SaveSchema(ctx, s); err != nil {
		return mapperr.Wrap(mapperr.ErrorTypeStorage, "failed to save schema", err).WithForm(s.FormType, s.Version)
	}
	return nil
}

// Activate makes an approved version the active one for its form type, replacing the
// previous one in a single pointer swap. Activation checks run first; any failure
// leaves the previous version active.
func (m *Manager) Activate(ctx context.Context, formType, version string) (*FormSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, err := m.getLocked(formType, version)
	if err != nil {
		return nil, err
	}
	if target.Status != StatusApproved {
		return nil, mapperr.Newf(mapperr.ErrorTypeInvalidTransition, "only approved versions can be activated, version is %s", target.Status).
			WithForm(formType, version)
	}

	current := *m.active.Load()
	previous := current[formType]
	if previous != nil && previous.Version == version {
		return previous.Clone(), nil
	}

	lookup := func(formType, version string) (*FormSchema, error) {
		s, err := m.getLocked(formType, version)
		if err != nil {
			return nil, err
		}
		return s.Clone(), nil
	}
	for _, check := range m.checks {
		if err := check(ctx, cloneOrNil(previous), target.Clone(), lookup); err != nil {
			m.logger.Warn("activation blocked",
				"form_type", formType,
				"version", version,
				"error", err)
			return nil, err
		}
	}

	if m.store != nil {
		if err := m.store.SetActive(ctx, formType, version); err != nil {
			return nil, mapperr.Wrap(mapperr.ErrorTypeStorage, "failed to activate schema", err).WithForm(formType, version)
		}
	}

	next := make(map[string]*FormSchema, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[formType] = target.Clone()
	m.active.Store(&next)

	prevVersion := ""
	if previous != nil {
		prevVersion = previous.Version
	}
	m.logger.Info("schema activated", "form_type", formType, "version", version, "previous", prevVersion)
	return target.Clone(), nil
}

func cloneOrNil(s *FormSchema) *FormSchema {
	if s == nil {
		return nil
	}
	return s.Clone()
}

// Active returns the active version of a form type. It never blocks on writers.
func (m *Manager) Active(formType string) (*FormSchema, bool) {
	s, ok := (*m.active.Load())[formType]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// ActiveVersions returns every active version ordered by form type
func (m *Manager) ActiveVersions() []ActiveVersion {
	current := *m.active.Load()
	out := make([]ActiveVersion, 0, len(current))
	for ft, s := range current {
		out = append(out, ActiveVersion{FormType: ft, Version: s.Version})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FormType < out[j].FormType })
	return out
}

// Get returns a copy of one version
func (m *Manager) Get(formType, version string) (*FormSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.getLocked(formType, version)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// List returns the versions of a form type in ascending version order
func (m *Manager) List(formType string) []*FormSchema {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*FormSchema, 0, len(m.versions[formType]))
	for _, s := range m.versions[formType] {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, errA := ParseVersion(out[i].Version)
		b, errB := ParseVersion(out[j].Version)
		if errA != nil || errB != nil {
			return out[i].Version < out[j].Version
		}
		return a.Compare(b) < 0
	})
	return out
}

// Diff compares two stored versions. Diffs between approved versions never change and
// are cached.
func (m *Manager) Diff(formType, fromVersion, toVersion string) (VersionDiff, error) {
	key := formType + "@" + fromVersion + "->" + toVersion
	if d, ok := m.diffs.Get(key); ok {
		return d, nil
	}

	m.mu.Lock()
	from, err := m.getLocked(formType, fromVersion)
	if err != nil {
		m.mu.Unlock()
		return VersionDiff{}, err
	}
	to, err := m.getLocked(formType, toVersion)
	if err != nil {
		m.mu.Unlock()
		return VersionDiff{}, err
	}
	from, to = from.Clone(), to.Clone()
	m.mu.Unlock()

	d := Diff(from, to)
	if from.Status == StatusApproved && to.Status == StatusApproved {
		m.diffs.Add(key, d)
	}
	return d, nil
}
