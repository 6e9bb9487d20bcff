package collection

import (
	"sort"
	"strconv"
	"strings"

	"github.com/a3tai/form-field-mapper/internal/fields"
	"github.com/a3tai/form-field-mapper/internal/intelligence"
	"github.com/a3tai/form-field-mapper/internal/mapperr"
	"github.com/a3tai/form-field-mapper/internal/pattern"
)

// ResolveComposite reconstructs one composite value from its character-position records.
// Input order does not matter; positions must be exactly 0..n-1.
func (r *Resolver) ResolveComposite(records []fields.RawFieldRecord, class intelligence.ClassificationResult, lookup Lookup) (fields.CollectionMapping, error) {
	if len(records) == 0 {
		return fields.CollectionMapping{}, mapperr.New(mapperr.ErrorTypeValidation, "composite group is empty")
	}

	type position struct {
		index  int
		record fields.RawFieldRecord
	}
	positions := make([]position, 0, len(records))
	for _, rec := range records {
		positions = append(positions, position{index: arrayIndex(rec.Name), record: rec})
	}
	sort.SliceStable(positions, func(i, j int) bool {
		if positions[i].index != positions[j].index {
			return positions[i].index < positions[j].index
		}
		return positions[i].record.Name < positions[j].record.Name
	})

	first := positions[0].record.Name
	for i, p := range positions {
		if p.index != i {
			missing := i
			if p.index < i {
				// the same position appears twice
				missing = p.index
			}
			return fields.CollectionMapping{}, mapperr.Newf(mapperr.ErrorTypeCompositeGap,
				"character position %d is missing or duplicated", missing).
				WithField(first).
				WithForm(r.formType, r.version).
				WithContext("positions", positionList(positions, func(p position) int { return p.index }))
		}
	}

	ids := make([]string, len(positions))
	var value strings.Builder
	for i, p := range positions {
		ids[i] = p.record.Name
		value.WriteString(p.record.Value)
	}

	m := fields.CollectionMapping{
		Kind:     fields.MappingComposite,
		FormType: r.formType,
		Version:  r.version,
		FieldIDs: ids,
		Persona:  string(class.Persona),
		Domain:   string(class.Domain),
		Value:    value.String(),
	}
	r.bind(&m, string(class.Persona), pattern.BaseToken(first), lookup)
	return m, nil
}

func positionList[T any](items []T, index func(T) int) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = strconv.Itoa(index(it))
	}
	return strings.Join(parts, ",")
}

// Batch is the outcome of resolving every record of one form version
type Batch struct {
	Mappings []fields.CollectionMapping
	Skipped  []string
	Report   *mapperr.Report
}

// ResolveAll resolves a batch in input order. Structural layout elements are skipped,
// composite groups are merged into one mapping placed at their first member, and
// per-field problems are collected in the report without stopping the batch.
// A field id seen earlier in the batch, such as a header repeated on every page, is
// resolved once at its first record. classifications must be aligned with records.
func (r *Resolver) ResolveAll(records []fields.RawFieldRecord, classifications []intelligence.ClassificationResult, lookup Lookup) *Batch {
	batch := &Batch{Report: mapperr.NewReport(r.formType, r.version)}

	first := make(map[string]bool, len(records))
	duplicate := make([]bool, len(records))
	for i, rec := range records {
		duplicate[i] = first[rec.Name]
		first[rec.Name] = true
	}

	groups := make(map[string][]int)
	for i, rec := range records {
		if duplicate[i] {
			continue
		}
		if key, ok := r.compositeKey(rec.Name); ok {
			groups[key] = append(groups[key], i)
		}
	}

	emitted := make(map[string]bool)
	repeated := 0
	for i, rec := range records {
		if r.library.IsStructuralElement(rec.Name) {
			batch.Skipped = append(batch.Skipped, rec.Name)
			continue
		}
		if duplicate[i] {
			repeated++
			continue
		}

		class := classificationAt(classifications, i)
		for _, d := range intelligence.Diagnostics(class) {
			batch.Report.Add(d)
		}

		if key, ok := r.compositeKey(rec.Name); ok {
			if emitted[key] {
				continue
			}
			emitted[key] = true

			members := make([]fields.RawFieldRecord, 0, len(groups[key]))
			for _, idx := range groups[key] {
				members = append(members, records[idx])
			}
			m, err := r.ResolveComposite(members, class, lookup)
			if err != nil {
				batch.Report.AddError(rec.Name, err)
				continue
			}
			batch.Mappings = append(batch.Mappings, m)
			continue
		}

		m, issues := r.Resolve(rec, class, lookup)
		for _, issue := range issues {
			batch.Report.Add(issue)
		}
		batch.Mappings = append(batch.Mappings, m)
	}

	errs, warnings := batch.Report.Count()
	r.logger.Debug("batch resolved",
		"form_type", r.formType,
		"version", r.version,
		"records", len(records),
		"mappings", len(batch.Mappings),
		"skipped", len(batch.Skipped),
		"repeated", repeated,
		"errors", errs,
		"warnings", warnings)
	return batch
}

func classificationAt(list []intelligence.ClassificationResult, i int) intelligence.ClassificationResult {
	if i < len(list) {
		return list[i]
	}
	return intelligence.ClassificationResult{Persona: intelligence.PersonaUnknown, Domain: intelligence.DomainUnknown, NeedsReview: true}
}

// Item is one logical occurrence of a repeating collection
type Item struct {
	Collection string            `json:"collection"`
	Occurrence int               `json:"occurrence"`
	Components map[string]string `json:"components"` // component -> raw field id
}

// GroupItems collects repeating mappings sharing a collection and occurrence into items,
// ordered by collection then occurrence
func GroupItems(mappings []fields.CollectionMapping) []Item {
	type itemKey struct {
		collection string
		occurrence int
	}
	index := make(map[itemKey]int)
	var items []Item
	for _, m := range mappings {
		if m.Kind != fields.MappingRepeating {
			continue
		}
		k := itemKey{m.CanonicalField, m.Occurrence}
		i, ok := index[k]
		if !ok {
			i = len(items)
			index[k] = i
			items = append(items, Item{Collection: m.CanonicalField, Occurrence: m.Occurrence, Components: map[string]string{}})
		}
		for _, id := range m.FieldIDs {
			items[i].Components[m.Component] = id
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Collection != items[j].Collection {
			return items[i].Collection < items[j].Collection
		}
		return items[i].Occurrence < items[j].Occurrence
	})
	return items
}
