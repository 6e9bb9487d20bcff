package store

import (
	"context"
	"encoding/json"

	"github.com/a3tai/form-field-mapper/internal/fields"
	"github.com/a3tai/form-field-mapper/internal/registry"
)

// SaveCanonicalField upserts a canonical field document
func (p *Postgres) SaveCanonicalField(ctx context.Context, field fields.CanonicalField) error {
	doc, err := json.Marshal(field)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
INSERT INTO canonical_fields (field_name, doc, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (field_name)
DO UPDATE SET doc=EXCLUDED.doc, updated_at=EXCLUDED.updated_at`,
		field.FieldName, doc)
	return err
}

// DeleteCanonicalField removes a field and any binding rows left for it
func (p *Postgres) DeleteCanonicalField(ctx context.Context, name string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM collection_mappings WHERE canonical_field = $1`, name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM canonical_fields WHERE field_name = $1`, name); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveBindings writes the updated field and its new binding keys in one transaction
func (p *Postgres) SaveBindings(ctx context.Context, field fields.CanonicalField, keys []fields.Key) error {
	doc, err := json.Marshal(field)
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT field_name FROM canonical_fields WHERE field_name = $1 FOR UPDATE`, field.FieldName)
	var locked string
	if err := row.Scan(&locked); err != nil {
		return err
	}

	for _, k := range keys {
		res, err := tx.ExecContext(ctx, `
INSERT INTO collection_mappings (form_type, version, field_id, canonical_field)
VALUES ($1, $2, $3, $4)
ON CONFLICT (form_type, version, field_id)
DO UPDATE SET canonical_field=EXCLUDED.canonical_field
WHERE collection_mappings.canonical_field = EXCLUDED.canonical_field`,
			k.FormType, k.Version, k.FieldID, field.FieldName)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return &bindingConflictError{key: k}
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE canonical_fields SET doc=$2, updated_at=NOW() WHERE field_name=$1`,
		field.FieldName, doc); err != nil {
		return err
	}
	return tx.Commit()
}

type bindingConflictError struct {
	key fields.Key
}

func (e *bindingConflictError) Error() string {
	return "raw field " + e.key.String() + " is already bound to another canonical field"
}

// LoadCanonicalFields returns every stored canonical field with its mappings
func (p *Postgres) LoadCanonicalFields(ctx context.Context) ([]fields.CanonicalField, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT doc FROM canonical_fields ORDER BY field_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]fields.CanonicalField, 0, 64)
	for rows.Next() {
		var field fields.CanonicalField
		if err := scanDoc(rows, &field); err != nil {
			return nil, err
		}
		out = append(out, field)
	}
	return out, rows.Err()
}

// SaveExtraction replaces the raw fields recorded for a form version
func (p *Postgres) SaveExtraction(ctx context.Context, extraction registry.Extraction) error {
	doc, err := json.Marshal(extraction)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
INSERT INTO form_extractions (form_type, version, doc)
VALUES ($1, $2, $3)
ON CONFLICT (form_type, version)
DO UPDATE SET doc=EXCLUDED.doc, updated_at=NOW()`,
		extraction.FormType, extraction.Version, doc)
	return err
}

// LoadExtractions returns every recorded extraction
func (p *Postgres) LoadExtractions(ctx context.Context) ([]registry.Extraction, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT doc FROM form_extractions ORDER BY form_type, version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []registry.Extraction
	for rows.Next() {
		var e registry.Extraction
		if err := scanDoc(rows, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanDoc(row rowScanner, v any) error {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		return err
	}
	return json.Unmarshal(doc, v)
}
