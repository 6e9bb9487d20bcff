package migration

import (
	"github.com/a3tai/form-field-mapper/internal/fields"
	"github.com/a3tai/form-field-mapper/internal/schema"
)

// DeriveStrategy drafts a strategy from a version diff. Non-breaking diffs get an in-place
// strategy whose rules carry values across; a breaking diff is marked manual so a person
// reviews it before registering.
func DeriveStrategy(d schema.VersionDiff) Strategy {
	s := Strategy{
		FormType:      d.FormType,
		FromVersion:   d.FromVersion,
		ToVersion:     d.ToVersion,
		MigrationType: TypeInPlace,
		Rules:         make([]FieldRule, 0, len(d.Changes)),
	}

	for _, c := range d.Changes {
		if c.IsBreaking() {
			s.MigrationType = TypeManual
		}

		rule := FieldRule{FieldID: c.FieldID, ChangeType: c.ChangeType}
		switch c.ChangeType {
		case schema.ChangeRemoved:
			rule.Transform = TransformDrop
		case schema.ChangeAdded:
			rule.Transform = TransformDefault
			rule.Required = c.New != nil && c.New.Flags.Required
		case schema.ChangeModified:
			rule.Transform = TransformDirect
			if c.Previous != nil && c.New != nil && c.Previous.DataType != c.New.DataType {
				if to := conversionTarget(c.New.DataType); to != "" {
					rule.Transform = TransformConvert
					rule.Params = map[string]interface{}{"to": to}
				}
			}
		}
		s.Rules = append(s.Rules, rule)
	}
	return s
}

func conversionTarget(dt fields.DataType) string {
	switch dt {
	case fields.DataTypeString, fields.DataTypeDate:
		return "string"
	case fields.DataTypeNumber:
		return "number"
	case fields.DataTypeBoolean:
		return "boolean"
	case fields.DataTypeArray:
		return "array"
	case fields.DataTypeObject:
		return "object"
	}
	return ""
}
