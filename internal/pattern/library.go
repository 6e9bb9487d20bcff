package pattern

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Library holds the keyword and expression data used to recognize field structure.
// All data is externally editable; the zero value is not usable, use DefaultLibrary
// or Compile.
type Library struct {
	// SequenceNouns are the collection labels recognized by DetectSequence, e.g. "previous name"
	SequenceNouns []string `yaml:"sequence_nouns" json:"sequence_nouns"`
	// StructuralPatterns match form-layout elements that never carry data
	StructuralPatterns []string `yaml:"structural_patterns" json:"structural_patterns"`
	// TooltipLabels are tried in order; Verb is used to format the label
	TooltipLabels []TooltipPattern `yaml:"tooltip_labels" json:"tooltip_labels"`

	once       sync.Once
	compileErr error
	sequence   *regexp.Regexp
	structural []*regexp.Regexp
	labels     []compiledLabel
}

// TooltipPattern extracts a label from tooltip text
type TooltipPattern struct {
	Verb  string `yaml:"verb" json:"verb"`
	Regex string `yaml:"regex" json:"regex"`
}

type compiledLabel struct {
	verb string
	re   *regexp.Regexp
}

// Sequence is a detected numbered occurrence of a repeating collection
type Sequence struct {
	Collection string `json:"collection"`
	Index      int    `json:"index"`
}

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5, "sixth": 6,
	"seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
}

var prepopulate = regexp.MustCompile(`(?i)prepopulated?\s+from\s+page\s+(\d+)`)

// DefaultLibrary returns the built-in pattern data for USCIS forms
func DefaultLibrary() *Library {
	return &Library{
		SequenceNouns: []string{
			"previous name", "other name", "prior name", "alias",
			"address", "residence", "employer", "employment",
			"child", "son or daughter", "spouse", "prior spouse", "marriage",
			"parent", "sibling", "entry", "trip", "school", "organization",
			"arrest", "citation", "charge",
		},
		StructuralPatterns: []string{
			`^#subform\[\d+\]$`,
			`^#pageSet`,
			`^#area`,
			`^form1(\[\d+\])?$`,
			`^Page\d+(\[\d+\])?$`,
			`^PDF417BarCode`,
			`^sfTable`,
		},
		TooltipLabels: []TooltipPattern{
			{Verb: "Select", Regex: `(?i)\bselect\s+(?:this\s+box\s+|the\s+box\s+|one\s+box\s+)?(.+?)(?:\.(?:\s|$)|$)`},
			{Verb: "Enter", Regex: `(?i)\benter\s+(?:the\s+|your\s+)?(.+?)(?:\.(?:\s|$)|$)`},
		},
	}
}

// Compile validates and compiles the library expressions. It is safe to call repeatedly.
func (l *Library) Compile() error {
	l.once.Do(func() {
		l.compileErr = l.compile()
	})
	return l.compileErr
}

func (l *Library) compile() error {
	nouns := make([]string, 0, len(l.SequenceNouns))
	for _, n := range l.SequenceNouns {
		n = strings.TrimSpace(strings.ToLower(n))
		if n == "" {
			continue
		}
		// multi-word nouns match across any run of separators
		parts := strings.Fields(n)
		for i := range parts {
			parts[i] = regexp.QuoteMeta(parts[i])
		}
		nouns = append(nouns, strings.Join(parts, `\s+`))
	}
	// longest first so "prior spouse" wins over "spouse"
	sort.SliceStable(nouns, func(i, j int) bool { return len(nouns[i]) > len(nouns[j]) })

	words := make([]string, 0, len(numberWords))
	for w := range numberWords {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if len(words[i]) != len(words[j]) {
			return len(words[i]) > len(words[j])
		}
		return words[i] < words[j]
	})

	if len(nouns) > 0 {
		expr := `(?i)\b(` + strings.Join(nouns, "|") + `)s?\s*(?:#|no\.?|number)?\s*(\d+|` + strings.Join(words, "|") + `)\b`
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("failed to compile sequence pattern: %w", err)
		}
		l.sequence = re
	}

	l.structural = l.structural[:0]
	for _, p := range l.StructuralPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return fmt.Errorf("invalid structural pattern %q: %w", p, err)
		}
		l.structural = append(l.structural, re)
	}

	l.labels = l.labels[:0]
	for _, tp := range l.TooltipLabels {
		re, err := regexp.Compile(tp.Regex)
		if err != nil {
			return fmt.Errorf("invalid tooltip pattern %q: %w", tp.Regex, err)
		}
		if re.NumSubexp() < 1 {
			return fmt.Errorf("tooltip pattern %q has no capture group", tp.Regex)
		}
		l.labels = append(l.labels, compiledLabel{verb: tp.Verb, re: re})
	}
	return nil
}

func (l *Library) mustCompile() {
	if err := l.Compile(); err != nil {
		panic(err)
	}
}

// ExtractTooltipLabel returns the first label captured by the ordered tooltip patterns,
// formatted as "<Verb> <capture>"
func (l *Library) ExtractTooltipLabel(tooltip string) (string, bool) {
	l.mustCompile()
	if strings.TrimSpace(tooltip) == "" {
		return "", false
	}
	for _, cl := range l.labels {
		m := cl.re.FindStringSubmatch(tooltip)
		if m == nil {
			continue
		}
		label := strings.TrimSpace(m[1])
		if label == "" {
			continue
		}
		return cl.verb + " " + label, true
	}
	return "", false
}

// DetectSequence finds a numbered occurrence such as "Address 2", "Employer Two" or
// "Previous Name #1" in a field name or tooltip. Identifiers are split into words first,
// so "Employer2Name" is recognized as well.
func (l *Library) DetectSequence(text string) (Sequence, bool) {
	l.mustCompile()
	if l.sequence == nil || text == "" {
		return Sequence{}, false
	}

	candidates := []string{text}
	if !strings.ContainsRune(text, ' ') {
		base, _, _ := SplitIndex(text)
		candidates = []string{strings.Join(Tokens(base), " ")}
	}

	for _, c := range candidates {
		m := l.sequence.FindStringSubmatch(c)
		if m == nil {
			continue
		}
		idx, ok := parseOrdinal(m[2])
		if !ok {
			continue
		}
		return Sequence{Collection: strings.Join(strings.Fields(strings.ToLower(m[1])), "_"), Index: idx}, true
	}
	return Sequence{}, false
}

func parseOrdinal(s string) (int, bool) {
	if n, ok := numberWords[strings.ToLower(s)]; ok {
		return n, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// DetectPrepopulate returns the page number named by "prepopulate from page N"
func (l *Library) DetectPrepopulate(tooltip string) (int, bool) {
	m := prepopulate.FindStringSubmatch(tooltip)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// IsStructuralElement reports whether name is a layout element (subform, page set,
// barcode) that never carries data
func (l *Library) IsStructuralElement(name string) bool {
	l.mustCompile()
	for _, re := range l.structural {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

var defaultLibrary = DefaultLibrary()

// ExtractTooltipLabel applies the default library
func ExtractTooltipLabel(tooltip string) (string, bool) {
	return defaultLibrary.ExtractTooltipLabel(tooltip)
}

// DetectSequence applies the default library
func DetectSequence(text string) (Sequence, bool) {
	return defaultLibrary.DetectSequence(text)
}

// IsStructuralElement applies the default library
func IsStructuralElement(name string) bool {
	return defaultLibrary.IsStructuralElement(name)
}
