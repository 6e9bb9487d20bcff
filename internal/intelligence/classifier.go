package intelligence

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/a3tai/form-field-mapper/internal/fields"
	"github.com/a3tai/form-field-mapper/internal/mapperr"
	"github.com/a3tai/form-field-mapper/internal/pattern"
)

// FieldClassifier performs rule-based persona and domain classification of form fields.
// It is safe for concurrent use; the rule set is read-only after construction.
type FieldClassifier struct {
	rules       *RuleSet
	personas    []compiledRule
	domains     []compiledRule
	overrides   []compiledOverride
	personaRank map[string]int
	domainRank  map[string]int
	cache       *lru.Cache[string, ClassificationResult]
	logger      *slog.Logger
	version     string
}

type compiledRule struct {
	IndicatorRule
	indicators []string
	patterns   []*regexp.Regexp
}

type compiledOverride struct {
	OverrideRule
	re *regexp.Regexp
}

type textSource struct {
	source Source
	text   string
	weight float64
}

// NewFieldClassifier creates a classifier with the built-in rules
func NewFieldClassifier() *FieldClassifier {
	fc, err := NewFieldClassifierWithRules(DefaultRuleSet(), DefaultClassifierConfig(), nil)
	if err != nil {
		// built-in rules always compile
		panic(err)
	}
	return fc
}

// NewFieldClassifierWithConfig creates a classifier, loading rules from config.RulesPath
// when set. A rules file that fails to load falls back to the built-in rules.
func NewFieldClassifierWithConfig(config ClassifierConfig, logger *slog.Logger) *FieldClassifier {
	if logger == nil {
		logger = slog.Default()
	}

	rules := DefaultRuleSet()
	if config.RulesPath != "" {
		loaded, err := LoadRuleSet(config.RulesPath)
		if err != nil {
			logger.Warn("failed to load classification rules, using built-in rules",
				"path", config.RulesPath, "error", err)
		} else {
			rules = loaded
		}
	}

	fc, err := NewFieldClassifierWithRules(rules, config, logger)
	if err != nil {
		logger.Warn("invalid classification rules, using built-in rules", "error", err)
		fc, _ = NewFieldClassifierWithRules(DefaultRuleSet(), config, logger)
	}
	return fc
}

// NewFieldClassifierWithRules creates a classifier from an explicit rule set
func NewFieldClassifierWithRules(rules *RuleSet, config ClassifierConfig, logger *slog.Logger) (*FieldClassifier, error) {
	if rules == nil {
		return nil, fmt.Errorf("rule set cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	applyDefaults(rules)
	if err := rules.Validate(); err != nil {
		return nil, err
	}

	fc := &FieldClassifier{
		rules:       rules,
		personaRank: make(map[string]int),
		domainRank:  make(map[string]int),
		logger:      logger,
		version:     rules.Version,
	}

	for _, r := range rules.Personas {
		if r.IsEnabled() {
			fc.personas = append(fc.personas, compileRule(r))
		}
	}
	for _, r := range rules.Domains {
		if r.IsEnabled() {
			fc.domains = append(fc.domains, compileRule(r))
		}
	}
	for _, o := range rules.Overrides {
		fc.overrides = append(fc.overrides, compiledOverride{
			OverrideRule: o,
			re:           regexp.MustCompile("(?i)" + o.Pattern),
		})
	}
	for i, p := range rules.PersonaPriority {
		fc.personaRank[string(p)] = i
	}
	for i, d := range rules.DomainPriority {
		fc.domainRank[string(d)] = i
	}

	if config.CacheSize > 0 {
		cache, err := lru.New[string, ClassificationResult](config.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create classification cache: %w", err)
		}
		fc.cache = cache
	}

	return fc, nil
}

func compileRule(r IndicatorRule) compiledRule {
	cr := compiledRule{IndicatorRule: r}
	for _, ind := range r.Indicators {
		if ind = strings.ToLower(ind); strings.TrimSpace(ind) != "" {
			cr.indicators = append(cr.indicators, ind)
		}
	}
	for _, p := range r.Patterns {
		cr.patterns = append(cr.patterns, regexp.MustCompile("(?i)"+p))
	}
	return cr
}

// Library returns the pattern library configured with the rule set
func (fc *FieldClassifier) Library() *pattern.Library {
	return fc.rules.Patterns
}

// Rules returns the active rule set
func (fc *FieldClassifier) Rules() *RuleSet {
	return fc.rules
}

// GetVersion returns the rules version
func (fc *FieldClassifier) GetVersion() string {
	return fc.version
}

// Classify scores a field against every persona and domain using its name, tooltip and
// the enclosing section header. An empty sectionContext falls back to record.Section.
func (fc *FieldClassifier) Classify(record fields.RawFieldRecord, sectionContext string) ClassificationResult {
	return fc.ClassifyInForm("", record, sectionContext)
}

// ClassifyInForm is Classify with the form type known, which enables form-part hints
func (fc *FieldClassifier) ClassifyInForm(formType string, record fields.RawFieldRecord, sectionContext string) ClassificationResult {
	if sectionContext == "" {
		sectionContext = record.Section
	}
	formKey := NormalizeFormType(formType)

	cacheKey := strings.Join([]string{formKey, record.Name, record.Tooltip, sectionContext}, "\x00")
	if fc.cache != nil {
		if cached, ok := fc.cache.Get(cacheKey); ok {
			return cached.clone()
		}
	}

	result := fc.classify(formKey, record, sectionContext)

	if fc.cache != nil {
		fc.cache.Add(cacheKey, result.clone())
	}
	return result
}

func (fc *FieldClassifier) classify(formKey string, record fields.RawFieldRecord, sectionContext string) ClassificationResult {
	result := ClassificationResult{
		Field:             record.Name,
		Persona:           PersonaUnknown,
		Domain:            DomainUnknown,
		PersonaCandidates: []Candidate{},
		DomainCandidates:  []Candidate{},
	}

	nameToken := record.Name
	parsed, ok := pattern.ParseFieldName(record.Name)
	if ok {
		result.Parsed = &parsed
		nameToken = parsed.BaseType
	} else {
		nameToken, _, _ = pattern.SplitIndex(record.Name)
	}

	sw := fc.rules.SourceWeights
	sources := []textSource{
		{SourceName, strings.Join(pattern.Tokens(nameToken), " "), sw.Name},
		{SourceTooltip, strings.ToLower(record.Tooltip), sw.Tooltip},
		{SourceSection, strings.ToLower(sectionContext), sw.Section},
	}

	personaScores := make(map[string]float64)
	domainScores := make(map[string]float64)

	result.Reasons = append(result.Reasons, fc.score("persona", fc.personas, sources, nameToken, personaScores)...)
	result.Reasons = append(result.Reasons, fc.score("domain", fc.domains, sources, nameToken, domainScores)...)

	if ok && formKey != "" {
		if p, found := fc.rules.FormParts[formKey][parsed.Part]; found {
			personaScores[string(p)] += fc.rules.FormPartWeight
			result.Reasons = append(result.Reasons, ClassificationReason{
				Category:  "persona",
				Label:     string(p),
				Indicator: fmt.Sprintf("%s part %d", formKey, parsed.Part),
				Source:    SourceFormPart,
				Weight:    fc.rules.FormPartWeight,
			})
		}
	}

	override := fc.matchOverride(record.Name, sources[0].text, sources[1].text)
	if override != nil {
		personaScores[string(override.Persona)] += override.Weight
		domainScores[string(override.Domain)] += override.Weight
		result.Override = override.Name
		result.Reasons = append(result.Reasons,
			ClassificationReason{Category: "persona", Label: string(override.Persona), Indicator: override.Pattern, Source: SourceOverride, Weight: override.Weight},
			ClassificationReason{Category: "domain", Label: string(override.Domain), Indicator: override.Pattern, Source: SourceOverride, Weight: override.Weight},
		)
		fc.logger.Debug("structural override applied", "field", record.Name, "override", override.Name)
	}

	result.PersonaCandidates = rankCandidates(personaScores, fc.personaRank)
	result.DomainCandidates = rankCandidates(domainScores, fc.domainRank)

	if override != nil {
		result.Persona = override.Persona
		result.PersonaConfidence = personaScores[string(override.Persona)]
		result.Domain = override.Domain
		result.DomainConfidence = domainScores[string(override.Domain)]
	} else {
		if len(result.PersonaCandidates) > 0 {
			result.Persona = Persona(result.PersonaCandidates[0].Label)
			result.PersonaConfidence = result.PersonaCandidates[0].Confidence
		}
		if len(result.DomainCandidates) > 0 {
			result.Domain = Domain(result.DomainCandidates[0].Label)
			result.DomainConfidence = result.DomainCandidates[0].Confidence
		}
	}

	result.NeedsReview = result.Persona == PersonaUnknown || result.Domain == DomainUnknown
	return result
}

// score accumulates weight * source multiplier for every indicator found in each source.
// A label that matched at all is present in scores even when its score is zero.
func (fc *FieldClassifier) score(category string, rules []compiledRule, sources []textSource, rawName string, scores map[string]float64) []ClassificationReason {
	var reasons []ClassificationReason

	for _, rule := range rules {
		for _, src := range sources {
			if src.text == "" {
				continue
			}
			for _, ind := range rule.indicators {
				if !strings.Contains(src.text, ind) {
					continue
				}
				w := rule.Weight * src.weight
				scores[rule.Label] += w
				reasons = append(reasons, ClassificationReason{
					Category:  category,
					Label:     rule.Label,
					Indicator: strings.TrimSpace(ind),
					Source:    src.source,
					Weight:    w,
				})
			}
		}
		for _, re := range rule.patterns {
			if !re.MatchString(rawName) {
				continue
			}
			w := rule.Weight * fc.rules.SourceWeights.Name
			scores[rule.Label] += w
			reasons = append(reasons, ClassificationReason{
				Category:  category,
				Label:     rule.Label,
				Indicator: re.String(),
				Source:    SourceName,
				Weight:    w,
			})
		}
	}
	return reasons
}

func (fc *FieldClassifier) matchOverride(texts ...string) *compiledOverride {
	for i := range fc.overrides {
		o := &fc.overrides[i]
		for _, text := range texts {
			if text != "" && o.re.MatchString(text) {
				return o
			}
		}
	}
	return nil
}

// rankCandidates orders labels by score descending, then by the fixed priority order.
// Labels outside the priority list come last in alphabetical order.
func rankCandidates(scores map[string]float64, rank map[string]int) []Candidate {
	candidates := make([]Candidate, 0, len(scores))
	for label, score := range scores {
		candidates = append(candidates, Candidate{Label: label, Confidence: score})
	}

	rankOf := func(label string) int {
		if r, ok := rank[label]; ok {
			return r
		}
		return len(rank)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if ra, rb := rankOf(a.Label), rankOf(b.Label); ra != rb {
			return ra < rb
		}
		return a.Label < b.Label
	})
	return candidates
}

// Diagnostics returns the taxonomy entries a result contributes to a batch report
func Diagnostics(result ClassificationResult) []*mapperr.Error {
	var out []*mapperr.Error
	if result.Parsed == nil {
		out = append(out, mapperr.New(mapperr.ErrorTypeUnrecognizedFieldName,
			"name does not follow the part/line convention, classified by keywords only").
			WithField(result.Field))
	}
	if result.NeedsReview {
		e := mapperr.New(mapperr.ErrorTypeAmbiguousClassification, "no indicator matched, manual review required").
			WithField(result.Field)
		if result.Persona == PersonaUnknown {
			e.WithContext("persona", string(PersonaUnknown))
		}
		if result.Domain == DomainUnknown {
			e.WithContext("domain", string(DomainUnknown))
		}
		out = append(out, e)
	}
	return out
}

// NormalizeFormType maps spellings such as "I-485", "uscis_I485" and "i485.pdf" to "i485"
func NormalizeFormType(formType string) string {
	f := strings.ToLower(strings.TrimSpace(formType))
	f = strings.TrimSuffix(f, ".pdf")
	f = strings.TrimPrefix(f, "uscis_")
	f = strings.ReplaceAll(f, "-", "")
	f = strings.ReplaceAll(f, "_", "")
	return f
}
