package pattern

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// structuralName matches the USCIS part/line naming convention, e.g. Pt1Line4b_GivenName[0].
// The Line token is captured so the original spelling survives a round trip.
var structuralName = regexp.MustCompile(`(?i)^(Pt|Part)(\d+)(Line)(\d+)([a-z])?_(\w+)(?:\[(\d+)\])?$`)

var indexSuffix = regexp.MustCompile(`^(.*?)\[(\d+)\]$`)

// ParsedFieldName is the structural decomposition of a field name
type ParsedFieldName struct {
	Prefix     string `json:"prefix"`
	Part       int    `json:"part"`
	Line       int    `json:"line"`
	Subline    string `json:"subline,omitempty"`
	BaseType   string `json:"base_type"`
	ArrayIndex *int   `json:"array_index,omitempty"`

	partText  string
	lineLabel string
	lineText  string
	indexText string
}

// ParseFieldName decomposes a structural field name. It returns false, not an error, for
// names outside the part/line convention; callers fall back to keyword matching.
func ParseFieldName(name string) (ParsedFieldName, bool) {
	m := structuralName.FindStringSubmatch(name)
	if m == nil {
		return ParsedFieldName{}, false
	}

	part, err := strconv.Atoi(m[2])
	if err != nil {
		return ParsedFieldName{}, false
	}
	line, err := strconv.Atoi(m[4])
	if err != nil {
		return ParsedFieldName{}, false
	}

	p := ParsedFieldName{
		Prefix:    m[1],
		Part:      part,
		Line:      line,
		Subline:   m[5],
		BaseType:  m[6],
		partText:  m[2],
		lineLabel: m[3],
		lineText:  m[4],
		indexText: m[7],
	}
	if m[7] != "" {
		idx, err := strconv.Atoi(m[7])
		if err != nil {
			return ParsedFieldName{}, false
		}
		p.ArrayIndex = &idx
	}
	return p, true
}

// String reconstructs the field name from its components
func (p ParsedFieldName) String() string {
	var b strings.Builder

	prefix := p.Prefix
	if prefix == "" {
		prefix = "Pt"
	}
	b.WriteString(prefix)
	b.WriteString(orDefault(p.partText, strconv.Itoa(p.Part)))
	b.WriteString(orDefault(p.lineLabel, "Line"))
	b.WriteString(orDefault(p.lineText, strconv.Itoa(p.Line)))
	b.WriteString(p.Subline)
	b.WriteString("_")
	b.WriteString(p.BaseType)
	if p.ArrayIndex != nil {
		b.WriteString("[")
		b.WriteString(orDefault(p.indexText, strconv.Itoa(*p.ArrayIndex)))
		b.WriteString("]")
	}
	return b.String()
}

// GroupKey identifies the part/line/subline a field lives on
func (p ParsedFieldName) GroupKey() string {
	return "Pt" + strconv.Itoa(p.Part) + "Line" + strconv.Itoa(p.Line) + strings.ToLower(p.Subline)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// SplitIndex separates a trailing [n] array index from any field name
func SplitIndex(name string) (base string, index int, ok bool) {
	m := indexSuffix.FindStringSubmatch(name)
	if m == nil {
		return name, 0, false
	}
	idx, err := strconv.Atoi(m[2])
	if err != nil {
		return name, 0, false
	}
	return m[1], idx, true
}

// BaseToken returns the base field type of a name: the token after the structural
// prefix, or the whole name without its index when the name is not structural
func BaseToken(name string) string {
	if p, ok := ParseFieldName(name); ok {
		return p.BaseType
	}
	base, _, _ := SplitIndex(name)
	if i := strings.LastIndex(base, "_"); i >= 0 && i < len(base)-1 {
		return base[i+1:]
	}
	return base
}

// Tokens splits an identifier or phrase into lowercase words at separators, case changes
// and letter/digit boundaries: "Pt1Line2a_FamilyName[0]" -> [pt 1 line 2 a family name 0]
func Tokens(s string) []string {
	return splitWords(s, true)
}

// SnakeCase converts an identifier to snake_case without splitting digits from the
// preceding word: "USCISOnlineAcctNumber" -> "uscis_online_acct_number", "I94Number" -> "i94_number"
func SnakeCase(s string) string {
	return strings.Join(splitWords(s, false), "_")
}

func splitWords(s string, splitDigits bool) []string {
	runes := []rune(s)
	var words []string
	var cur []rune

	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}

	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(cur) > 0 {
			prev := runes[i-1]
			switch {
			case unicode.IsLower(prev) && unicode.IsUpper(r):
				flush()
			case unicode.IsUpper(prev) && unicode.IsUpper(r) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
				flush()
			case splitDigits && unicode.IsDigit(prev) != unicode.IsDigit(r):
				flush()
			case !splitDigits && unicode.IsDigit(prev) && unicode.IsLetter(r):
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}
