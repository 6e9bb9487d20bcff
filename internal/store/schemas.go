package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/a3tai/form-field-mapper/internal/schema"
)

// SaveSchema upserts a schema version. The active flag is owned by SetActive.
func (p *Postgres) SaveSchema(ctx context.Context, s *schema.FormSchema) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
INSERT INTO form_schemas (form_type, version, status, doc)
VALUES ($1, $2, $3, $4)
ON CONFLICT (form_type, version)
DO UPDATE SET status=EXCLUDED.status, doc=EXCLUDED.doc`,
		s.FormType, s.Version, string(s.Status), doc)
	return err
}

// LoadSchemas returns every stored version and the active version of each form type
func (p *Postgres) LoadSchemas(ctx context.Context) ([]*schema.FormSchema, []schema.ActiveVersion, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT doc, is_active FROM form_schemas ORDER BY form_type, version`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var (
		list   []*schema.FormSchema
		active []schema.ActiveVersion
	)
	for rows.Next() {
		var (
			doc      []byte
			isActive bool
		)
		if err := rows.Scan(&doc, &isActive); err != nil {
			return nil, nil, err
		}
		var s schema.FormSchema
		if err := json.Unmarshal(doc, &s); err != nil {
			return nil, nil, err
		}
		list = append(list, &s)
		if isActive {
			active = append(active, schema.ActiveVersion{FormType: s.FormType, Version: s.Version})
		}
	}
	return list, active, rows.Err()
}

// SetActive moves the active flag of a form type to version in one transaction
func (p *Postgres) SetActive(ctx context.Context, formType, version string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT version FROM form_schemas WHERE form_type = $1 FOR UPDATE`, formType); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE form_schemas SET is_active=FALSE WHERE form_type=$1 AND is_active`, formType); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE form_schemas SET is_active=TRUE WHERE form_type=$1 AND version=$2`, formType, version)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return fmt.Errorf("schema %s@%s is not stored", formType, version)
	}
	return tx.Commit()
}
