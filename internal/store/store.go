// Package store persists canonical fields, schema versions, migration strategies and
// client entries in PostgreSQL as JSONB documents.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/a3tai/form-field-mapper/internal/migration"
	"github.com/a3tai/form-field-mapper/internal/registry"
	"github.com/a3tai/form-field-mapper/internal/schema"
)

var (
	_ registry.Store          = (*Postgres)(nil)
	_ registry.ExtractionStore = (*Postgres)(nil)
	_ schema.Store            = (*Postgres)(nil)
	_ migration.Store         = (*Postgres)(nil)
	_ migration.ClientStore   = (*Postgres)(nil)
)

// Postgres implements the registry, schema and migration stores on one database
type Postgres struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error

	entries *lru.Cache[string, migration.ClientEntry]
}

// Open connects to the database at dsn and verifies the connection
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	cache, err := lru.New[string, migration.ClientEntry](1024)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	p := &Postgres{db: db, entries: cache}
	if err := p.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return p, nil
}

// Close releases the connection pool
func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	p.schemaOnce.Do(func() {
		_, p.schemaErr = p.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS canonical_fields (
  field_name TEXT PRIMARY KEY,
  doc JSONB NOT NULL,
  updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS collection_mappings (
  form_type TEXT NOT NULL,
  version TEXT NOT NULL,
  field_id TEXT NOT NULL,
  canonical_field TEXT NOT NULL,
  created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
  PRIMARY KEY (form_type, version, field_id)
);
CREATE INDEX IF NOT EXISTS idx_collection_mappings_field ON collection_mappings (canonical_field);

CREATE TABLE IF NOT EXISTS form_extractions (
  form_type TEXT NOT NULL,
  version TEXT NOT NULL,
  doc JSONB NOT NULL,
  updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
  PRIMARY KEY (form_type, version)
);

CREATE TABLE IF NOT EXISTS form_schemas (
  form_type TEXT NOT NULL,
  version TEXT NOT NULL,
  status TEXT NOT NULL,
  is_active BOOLEAN NOT NULL DEFAULT FALSE,
  doc JSONB NOT NULL,
  PRIMARY KEY (form_type, version)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_form_schemas_active ON form_schemas (form_type) WHERE is_active;

CREATE TABLE IF NOT EXISTS migration_strategies (
  form_type TEXT NOT NULL,
  from_version TEXT NOT NULL,
  to_version TEXT NOT NULL,
  doc JSONB NOT NULL,
  PRIMARY KEY (form_type, from_version, to_version)
);

CREATE TABLE IF NOT EXISTS migration_audit (
  id TEXT PRIMARY KEY,
  migration_id TEXT NOT NULL,
  form_type TEXT NOT NULL,
  doc JSONB NOT NULL,
  created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_migration_audit_migration ON migration_audit (migration_id);

CREATE TABLE IF NOT EXISTS client_entries (
  client_id TEXT NOT NULL,
  form_type TEXT NOT NULL,
  version TEXT NOT NULL,
  doc JSONB NOT NULL,
  updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
  PRIMARY KEY (client_id, form_type)
);
CREATE INDEX IF NOT EXISTS idx_client_entries_version ON client_entries (form_type, version);
`)
	})
	return p.schemaErr
}

type rowScanner interface {
	Scan(dest ...any) error
}
