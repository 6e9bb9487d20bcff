package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/a3tai/form-field-mapper/internal/mapperr"
	"github.com/a3tai/form-field-mapper/internal/migration"
)

// SaveStrategy upserts the strategy for its version edge
func (p *Postgres) SaveStrategy(ctx context.Context, s *migration.Strategy) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
INSERT INTO migration_strategies (form_type, from_version, to_version, doc)
VALUES ($1, $2, $3, $4)
ON CONFLICT (form_type, from_version, to_version)
DO UPDATE SET doc=EXCLUDED.doc`,
		s.FormType, s.FromVersion, s.ToVersion, doc)
	return err
}

// LoadStrategies returns every stored strategy
func (p *Postgres) LoadStrategies(ctx context.Context) ([]*migration.Strategy, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT doc FROM migration_strategies ORDER BY form_type, from_version, to_version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*migration.Strategy
	for rows.Next() {
		var s migration.Strategy
		if err := scanDoc(rows, &s); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// AppendAudit writes all entries of a migration or none
func (p *Postgres) AppendAudit(ctx context.Context, entries []migration.AuditEntry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range entries {
		doc, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO migration_audit (id, migration_id, form_type, doc, created_at)
VALUES ($1, $2, $3, $4, $5)`,
			e.ID, e.MigrationID, e.FormType, doc, e.At); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadEntry returns the stored entry of a client for a form type
func (p *Postgres) LoadEntry(ctx context.Context, clientID, formType string) (*migration.ClientEntry, error) {
	key := formType + "/" + clientID
	if cached, ok := p.entries.Get(key); ok {
		return copyEntry(cached), nil
	}

	row := p.db.QueryRowContext(ctx, `SELECT doc FROM client_entries WHERE client_id = $1 AND form_type = $2`, clientID, formType)
	var entry migration.ClientEntry
	if err := scanDoc(row, &entry); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, mapperr.Newf(mapperr.ErrorTypeFieldNotFound, "no %s entry for client %q", formType, clientID)
		}
		return nil, err
	}
	p.entries.Add(key, entry)
	return copyEntry(entry), nil
}

// SaveEntry upserts a client entry
func (p *Postgres) SaveEntry(ctx context.Context, entry *migration.ClientEntry) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
INSERT INTO client_entries (client_id, form_type, version, doc, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (client_id, form_type)
DO UPDATE SET version=EXCLUDED.version, doc=EXCLUDED.doc, updated_at=EXCLUDED.updated_at`,
		entry.ClientID, entry.FormType, entry.Version, doc)
	if err != nil {
		return err
	}
	p.entries.Remove(entry.FormType + "/" + entry.ClientID)
	return nil
}

// HasEntries reports whether any client entry was captured with the given version
func (p *Postgres) HasEntries(ctx context.Context, formType, version string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM client_entries WHERE form_type = $1 AND version = $2)`,
		formType, version).Scan(&exists)
	return exists, err
}

func copyEntry(e migration.ClientEntry) *migration.ClientEntry {
	out := e
	out.Data = make(map[string]interface{}, len(e.Data))
	for k, v := range e.Data {
		out.Data[k] = v
	}
	return &out
}
