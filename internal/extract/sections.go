package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/a3tai/form-field-mapper/internal/fields"
	"github.com/a3tai/form-field-mapper/internal/pattern"
)

var partHeader = regexp.MustCompile(`(?m)Part\s+(\d+)\.\s+([^\n]{3,120})`)

// Section is a "Part N." header printed on a form page
type Section struct {
	Part  int    `json:"part"`
	Title string `json:"title"`
	Page  int    `json:"page"`
}

// Header returns the header as printed, e.g. "Part 2. Information About You"
func (s Section) Header() string {
	return fmt.Sprintf("Part %d. %s", s.Part, s.Title)
}

// FindSections returns the first occurrence of each part header in the page text.
// Later pages repeat headers as "(continued)", which are ignored.
func FindSections(page int, text string) []Section {
	var out []Section
	for _, m := range partHeader.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		title := strings.TrimSpace(m[2])
		if strings.HasPrefix(strings.ToLower(title), "(continued)") {
			continue
		}
		if cut := strings.Index(strings.ToLower(title), "(continued)"); cut > 0 {
			title = strings.TrimSpace(title[:cut])
		}
		out = append(out, Section{Part: n, Title: title, Page: page})
	}
	return out
}

// mergeSections keeps the earliest header per part, ordered by page then part
func mergeSections(found []Section) []Section {
	byPart := make(map[int]Section)
	for _, s := range found {
		if cur, ok := byPart[s.Part]; !ok || s.Page < cur.Page {
			byPart[s.Part] = s
		}
	}
	out := make([]Section, 0, len(byPart))
	for _, s := range byPart {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Page != out[j].Page {
			return out[i].Page < out[j].Page
		}
		return out[i].Part < out[j].Part
	})
	return out
}

// annotate fills the structural parts of each record and the header of the section it
// sits in. A part number in the field name wins over page position.
func annotate(records []fields.RawFieldRecord, sections []Section) []fields.RawFieldRecord {
	byPart := make(map[int]Section, len(sections))
	for _, s := range sections {
		byPart[s.Part] = s
	}

	out := make([]fields.RawFieldRecord, len(records))
	for i, rec := range records {
		if parsed, ok := pattern.ParseFieldName(rec.Name); ok {
			part, line := parsed.Part, parsed.Line
			rec.Part = &part
			rec.Line = &line
			rec.Subline = parsed.Subline
			rec.ArrayIndex = parsed.ArrayIndex
			if s, ok := byPart[part]; ok && rec.Section == "" {
				rec.Section = s.Header()
			}
		}
		if rec.Section == "" && rec.Page > 0 {
			for _, s := range sections {
				if s.Page > rec.Page {
					break
				}
				rec.Section = s.Header()
			}
		}
		out[i] = rec
	}
	return out
}
