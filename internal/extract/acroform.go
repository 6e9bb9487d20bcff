package extract

import (
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/a3tai/form-field-mapper/internal/fields"
)

// Field flag bits (PDF 32000-1 table 221 and 226), zero based
const (
	flagReadOnly   = 1 << 0
	flagRequired   = 1 << 1
	flagMultiline  = 1 << 12
	flagRadio      = 1 << 15
	flagPushbutton = 1 << 16
)

// resolver dereferences indirect objects. *model.Context satisfies it.
type resolver interface {
	Dereference(o types.Object) (types.Object, error)
}

// inherited carries the attributes a field inherits from its ancestors
type inherited struct {
	name    string
	ft      string
	flags   int
	tooltip string
	value   string
}

// walker turns an AcroForm field tree into raw field records
type walker struct {
	r resolver

	// annots maps a widget object number to its 1-based page
	annots map[int]int
	// pages maps a page object number to its 1-based page
	pages map[int]int

	records []fields.RawFieldRecord
	seen    map[int]bool
}

func newWalker(r resolver) *walker {
	return &walker{
		r:      r,
		annots: make(map[int]int),
		pages:  make(map[int]int),
		seen:   make(map[int]bool),
	}
}

func (w *walker) dict(o types.Object) (types.Dict, bool) {
	obj, err := w.r.Dereference(o)
	if err != nil || obj == nil {
		return nil, false
	}
	d, ok := obj.(types.Dict)
	return d, ok
}

func (w *walker) array(o types.Object) (types.Array, bool) {
	obj, err := w.r.Dereference(o)
	if err != nil || obj == nil {
		return nil, false
	}
	a, ok := obj.(types.Array)
	return a, ok
}

func (w *walker) text(d types.Dict, key string) string {
	o, found := d.Find(key)
	if !found {
		return ""
	}
	obj, err := w.r.Dereference(o)
	if err != nil {
		return ""
	}
	switch v := obj.(type) {
	case types.StringLiteral:
		if s, err := types.StringLiteralToString(v); err == nil {
			return s
		}
		return v.Value()
	case types.HexLiteral:
		if s, err := types.HexLiteralToString(v); err == nil {
			return s
		}
		return v.Value()
	case types.Name:
		return v.Value()
	}
	return ""
}

func (w *walker) integer(d types.Dict, key string) (int, bool) {
	o, found := d.Find(key)
	if !found {
		return 0, false
	}
	obj, err := w.r.Dereference(o)
	if err != nil {
		return 0, false
	}
	switch v := obj.(type) {
	case types.Integer:
		return v.Value(), true
	case types.Float:
		return int(v.Value()), true
	}
	return 0, false
}

func (w *walker) number(o types.Object) float64 {
	obj, err := w.r.Dereference(o)
	if err != nil {
		return 0
	}
	switch v := obj.(type) {
	case types.Integer:
		return float64(v.Value())
	case types.Float:
		return v.Value()
	}
	return 0
}

func objectNumber(o types.Object) (int, bool) {
	switch ref := o.(type) {
	case types.IndirectRef:
		return ref.ObjectNumber.Value(), true
	case *types.IndirectRef:
		if ref != nil {
			return ref.ObjectNumber.Value(), true
		}
	}
	return 0, false
}

// walkFields visits the top-level Fields array of an AcroForm dictionary
func (w *walker) walkFields(acroForm types.Dict) error {
	fieldsObj, found := acroForm.Find("Fields")
	if !found {
		return nil
	}
	list, ok := w.array(fieldsObj)
	if !ok {
		return fmt.Errorf("AcroForm Fields is not an array")
	}
	for _, ref := range list {
		w.walk(ref, inherited{})
	}
	return nil
}

// walk visits a field node. Kids carrying a partial name are child fields; kids
// without one are widget annotations of this field.
func (w *walker) walk(ref types.Object, parent inherited) {
	if n, ok := objectNumber(ref); ok {
		if w.seen[n] {
			return
		}
		w.seen[n] = true
	}
	d, ok := w.dict(ref)
	if !ok {
		return
	}

	cur := parent
	if partial := w.text(d, "T"); partial != "" {
		if cur.name == "" {
			cur.name = partial
		} else {
			cur.name = cur.name + "." + partial
		}
	}
	if ft := w.text(d, "FT"); ft != "" {
		cur.ft = ft
	}
	if ff, ok := w.integer(d, "Ff"); ok {
		cur.flags = ff
	}
	if tu := w.text(d, "TU"); tu != "" {
		cur.tooltip = tu
	}
	if v := w.text(d, "V"); v != "" {
		cur.value = v
	}

	var childFields, widgets []types.Object
	if kidsObj, found := d.Find("Kids"); found {
		if kids, ok := w.array(kidsObj); ok {
			for _, kid := range kids {
				kd, ok := w.dict(kid)
				if !ok {
					continue
				}
				if _, named := kd.Find("T"); named {
					childFields = append(childFields, kid)
				} else {
					widgets = append(widgets, kid)
				}
			}
		}
	}

	for _, kid := range childFields {
		w.walk(kid, cur)
	}
	if len(childFields) > 0 && len(widgets) == 0 {
		return
	}
	if cur.name == "" || cur.ft == "" {
		return
	}

	rec := fields.RawFieldRecord{
		Name:      leafName(cur.name),
		FullName:  cur.name,
		FieldType: fieldType(cur.ft, cur.flags),
		Tooltip:   strings.TrimSpace(cur.tooltip),
		Value:     cur.value,
		Flags: fields.Flags{
			ReadOnly:  cur.flags&flagReadOnly != 0,
			Required:  cur.flags&flagRequired != 0,
			Multiline: cur.flags&flagMultiline != 0,
		},
	}

	widget, widgetRef := d, ref
	if len(widgets) > 0 {
		if wd, ok := w.dict(widgets[0]); ok {
			widget, widgetRef = wd, widgets[0]
		}
	}
	rec.Position = w.rect(widget)
	rec.Page = w.page(widget, widgetRef)

	w.records = append(w.records, rec)
}

func (w *walker) rect(widget types.Dict) fields.Position {
	o, found := widget.Find("Rect")
	if !found {
		return fields.Position{}
	}
	a, ok := w.array(o)
	if !ok || len(a) != 4 {
		return fields.Position{}
	}
	llx, lly, urx, ury := w.number(a[0]), w.number(a[1]), w.number(a[2]), w.number(a[3])
	if urx < llx {
		llx, urx = urx, llx
	}
	if ury < lly {
		lly, ury = ury, lly
	}
	return fields.Position{X: llx, Y: lly, Width: urx - llx, Height: ury - lly}
}

// page locates the widget through the page Annots arrays, then through its P entry
func (w *walker) page(widget types.Dict, ref types.Object) int {
	if n, ok := objectNumber(ref); ok {
		if p, ok := w.annots[n]; ok {
			return p
		}
	}
	if p, found := widget.Find("P"); found {
		if n, ok := objectNumber(p); ok {
			if page, ok := w.pages[n]; ok {
				return page
			}
		}
	}
	return 0
}

// indexPage records the page and widget object numbers of one page dictionary
func (w *walker) indexPage(pageNr int, pageRef types.Object, page types.Dict) {
	if n, ok := objectNumber(pageRef); ok {
		w.pages[n] = pageNr
	}
	annotsObj, found := page.Find("Annots")
	if !found {
		return
	}
	annots, ok := w.array(annotsObj)
	if !ok {
		return
	}
	for _, a := range annots {
		if n, ok := objectNumber(a); ok {
			w.annots[n] = pageNr
		}
	}
}

// mergeRepeats folds records sharing a leaf name into the first one, which keeps the
// leaf name as field identity. The first non-empty value wins.
func mergeRepeats(records []fields.RawFieldRecord) []fields.RawFieldRecord {
	index := make(map[string]int, len(records))
	out := make([]fields.RawFieldRecord, 0, len(records))
	for _, rec := range records {
		i, seen := index[rec.Name]
		if !seen {
			index[rec.Name] = len(out)
			out = append(out, rec)
			continue
		}
		first := &out[i]
		first.Repeats = append(first.Repeats, fields.Occurrence{FullName: rec.FullName, Page: rec.Page})
		if first.Value == "" {
			first.Value = rec.Value
		}
		if first.Tooltip == "" {
			first.Tooltip = rec.Tooltip
		}
	}
	return out
}

func leafName(full string) string {
	if i := strings.LastIndex(full, "."); i >= 0 {
		return full[i+1:]
	}
	return full
}

func fieldType(ft string, flags int) fields.FieldType {
	switch ft {
	case "Btn":
		switch {
		case flags&flagRadio != 0:
			return fields.FieldTypeRadio
		case flags&flagPushbutton != 0:
			return fields.FieldTypeButton
		}
		return fields.FieldTypeCheckbox
	case "Tx":
		return fields.FieldTypeText
	case "Ch":
		return fields.FieldTypeChoice
	case "Sig":
		return fields.FieldTypeSignature
	}
	return fields.FieldTypeText
}
