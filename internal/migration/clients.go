package migration

import (
	"context"
	"sync"
	"time"

	"github.com/a3tai/form-field-mapper/internal/mapperr"
	"github.com/a3tai/form-field-mapper/internal/schema"
)

// ClientEntry is the stored form data of one client, keyed by field id
type ClientEntry struct {
	ClientID  string                 `json:"client_id"`
	FormType  string                 `json:"form_type"`
	Version   string                 `json:"version"`
	Data      map[string]interface{} `json:"data"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// ClientStore holds client entries against the schema version they were captured with
type ClientStore interface {
	LoadEntry(ctx context.Context, clientID, formType string) (*ClientEntry, error)
	SaveEntry(ctx context.Context, entry *ClientEntry) error
	HasEntries(ctx context.Context, formType, version string) (bool, error)
}

// MemoryClients is a ClientStore kept in process memory
type MemoryClients struct {
	mu      sync.RWMutex
	entries map[string]*ClientEntry
}

// NewMemoryClients creates an empty in-memory client store
func NewMemoryClients() *MemoryClients {
	return &MemoryClients{entries: make(map[string]*ClientEntry)}
}

func clientKey(clientID, formType string) string {
	return formType + "/" + clientID
}

// LoadEntry returns a copy of the stored entry
func (m *MemoryClients) LoadEntry(_ context.Context, clientID, formType string) (*ClientEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[clientKey(clientID, formType)]
	if !ok {
		return nil, mapperr.Newf(mapperr.ErrorTypeFieldNotFound, "no %s entry for client %q", formType, clientID)
	}
	out := *e
	out.Data = copyData(e.Data)
	return &out, nil
}

// SaveEntry stores a copy of entry
func (m *MemoryClients) SaveEntry(_ context.Context, entry *ClientEntry) error {
	if entry == nil || entry.ClientID == "" || entry.FormType == "" {
		return mapperr.New(mapperr.ErrorTypeValidation, "client entry needs a client id and form type")
	}
	stored := *entry
	stored.Data = copyData(entry.Data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[clientKey(entry.ClientID, entry.FormType)] = &stored
	return nil
}

// HasEntries reports whether any client has data captured with the given version
func (m *MemoryClients) HasEntries(_ context.Context, formType, version string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.entries {
		if e.FormType == formType && e.Version == version {
			return true, nil
		}
	}
	return false, nil
}

// MigrateClient moves one client's stored entry to the target version and saves it. The
// entry is left as it was when any hop fails.
func (e *Engine) MigrateClient(ctx context.Context, clients ClientStore, clientID, formType, toVersion string) (*Result, error) {
	entry, err := clients.LoadEntry(ctx, clientID, formType)
	if err != nil {
		return nil, err
	}

	result, err := e.Migrate(ctx, entry.Data, entry.Version, toVersion, formType)
	if err != nil {
		return nil, err
	}

	entry.Version = toVersion
	entry.Data = result.Data
	entry.UpdatedAt = e.now().UTC()
	if err := clients.SaveEntry(ctx, entry); err != nil {
		return nil, mapperr.Wrap(mapperr.ErrorTypeStorage, "failed to save migrated client entry", err).
			WithForm(formType, toVersion).
			WithContext("client_id", clientID)
	}
	return result, nil
}

// ActivationCheck returns a schema activation check that refuses a new active version when
// clients hold data under the current one and that data cannot be migrated unattended.
// Every hop of the path must cover the changes between the versions it connects.
// Versions are read through the lookup the schema manager passes in.
func (e *Engine) ActivationCheck(clients ClientStore) schema.ActivationCheck {
	return func(ctx context.Context, previous, next *schema.FormSchema, lookup schema.Lookup) error {
		if previous == nil || clients == nil {
			return nil
		}
		has, err := clients.HasEntries(ctx, previous.FormType, previous.Version)
		if err != nil {
			return mapperr.Wrap(mapperr.ErrorTypeStorage, "failed to check stored client data", err).
				WithForm(previous.FormType, previous.Version)
		}
		if !has {
			return nil
		}

		path, err := e.Path(previous.FormType, previous.Version, next.Version)
		if err != nil {
			return err
		}
		for _, s := range path {
			if s.MigrationType == TypeManual {
				return mapperr.Newf(mapperr.ErrorTypeManualMigrationRequired,
					"stored %s data needs a manual migration from %s to %s", s.FormType, s.FromVersion, s.ToVersion).
					WithForm(s.FormType, s.FromVersion)
			}
		}

		get := func(formType, version string) (*schema.FormSchema, error) {
			switch {
			case version == previous.Version:
				return previous, nil
			case version == next.Version:
				return next, nil
			case lookup == nil:
				return nil, mapperr.Newf(mapperr.ErrorTypeValidation, "schema %s@%s is not available", formType, version)
			}
			return lookup(formType, version)
		}
		for _, s := range path {
			if err := coverageBetween(s, get); err != nil {
				return err
			}
		}
		return nil
	}
}
