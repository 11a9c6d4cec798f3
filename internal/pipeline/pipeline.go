// Package pipeline chains the three replacement passes that scrub a
// student's name from a document: exact matching that ignores case and
// accents, person detection with fuzzy comparison against the known name,
// and a direct fuzzy scan over the remaining capitalized words.
//
// The passes are ordered from cheap and precise to broad: each one only
// sees what the previous ones left behind.
package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"bulletin-pseudonymizer/internal/logger"
	"bulletin-pseudonymizer/internal/metrics"
	"bulletin-pseudonymizer/internal/ner"
	"bulletin-pseudonymizer/internal/textmatch"
)

// PersonDetector finds person mentions in free text. *ner.Tagger implements
// it; tests substitute stubs.
type PersonDetector interface {
	DetectPersons(text string) ([]ner.Span, error)
}

// Pipeline runs the replacement passes with a shared detector.
type Pipeline struct {
	detector PersonDetector
	log      *logger.Logger
	met      *metrics.Metrics
}

// New returns a Pipeline using detector for the person-detection pass.
func New(detector PersonDetector, log *logger.Logger, met *metrics.Metrics) *Pipeline {
	return &Pipeline{detector: detector, log: log, met: met}
}

// Pseudonymize replaces occurrences of the student's name in text with
// pseudonymID and returns the scrubbed text. An error means a pass could
// not run and the text must be treated as still carrying the name.
func (p *Pipeline) Pseudonymize(text, lastName, firstName, pseudonymID string) (string, error) {
	if text == "" {
		return text, nil
	}
	start := time.Now()
	defer func() { p.met.RecordPipelineLatency(time.Since(start)) }()

	var steps []string

	out, changed, err := p.regexPass(text, lastName, firstName, pseudonymID)
	if err != nil {
		return "", err
	}
	if changed {
		steps = append(steps, "regex")
	}

	out, nerSteps, err := p.nerFuzzyPass(out, lowerNameParts(lastName, firstName), pseudonymID)
	if err != nil {
		return "", err
	}
	steps = append(steps, nerSteps...)

	out, fuzzySteps, err := p.fuzzyWordScan(out, rawNameParts(lastName, firstName), pseudonymID)
	if err != nil {
		return "", err
	}
	steps = append(steps, fuzzySteps...)

	if len(steps) > 0 {
		p.log.Debugf("pseudonymize", "[%s]: %s", pseudonymID, strings.Join(steps, ", "))
	}
	return out, nil
}

// regexPass replaces exact occurrences of the name variants, ignoring case
// and accents. Reports whether anything was replaced.
func (p *Pipeline) regexPass(text, lastName, firstName, pseudonymID string) (string, bool, error) {
	replaced := 0
	for _, variant := range buildVariants(lastName, firstName) {
		re, err := textmatch.CompileWordPattern(textmatch.AccentInsensitivePattern(variant))
		if err != nil {
			return "", false, fmt.Errorf("compiling name pattern for %q: %w", variant, err)
		}
		var n int
		text, n = textmatch.ReplaceWholeWord(text, re, pseudonymID)
		replaced += n
	}
	if replaced > 0 {
		p.met.RecordReplacements("regex", int64(replaced))
	}
	return text, replaced > 0, nil
}

// nerFuzzyPass asks the detector for person mentions and replaces those
// whose words fuzzily match the student's name. Mentions of other people
// stay untouched.
func (p *Pipeline) nerFuzzyPass(text string, nameParts []string, pseudonymID string) (string, []string, error) {
	spans, err := p.detector.DetectPersons(text)
	if err != nil {
		return "", nil, fmt.Errorf("detecting persons: %w", err)
	}

	var steps []string
	replaced := 0
	for _, span := range spans {
		mention := strings.TrimSpace(span.Text)
		var wordParts []string
		for _, part := range strings.Fields(mention) {
			if utf8.RuneCountInString(part) > 1 {
				wordParts = append(wordParts, strings.ToLower(part))
			}
		}

		matched, detail := textmatch.HasFuzzyMatch(wordParts, nameParts)
		if !matched {
			continue
		}

		re, err := textmatch.CompileWordPattern(regexp.QuoteMeta(mention))
		if err != nil {
			return "", nil, fmt.Errorf("compiling mention pattern for %q: %w", mention, err)
		}
		var n int
		text, n = textmatch.ReplaceWholeWord(text, re, pseudonymID)
		replaced += n
		steps = append(steps, "ner_fuzzy("+detail+")")
	}
	if replaced > 0 {
		p.met.RecordReplacements("ner_fuzzy", int64(replaced))
	}
	return text, steps, nil
}

// fuzzyWordScan compares every capitalized word against the raw name parts
// under the length-adaptive threshold. Lowercase words are never candidates:
// a common word ("français") must not match a near-identical name
// ("François"). Words matching a name part exactly are left to the regex
// pass, which already handled them.
func (p *Pipeline) fuzzyWordScan(text string, nameParts []string, pseudonymID string) (string, []string, error) {
	var steps []string
	replaced := 0
	for _, word := range textmatch.Tokenize(text) {
		first, _ := utf8.DecodeRuneInString(word)
		if !unicode.IsUpper(first) {
			continue
		}
		threshold, fuzzy := textmatch.Threshold(word)
		if !fuzzy {
			continue
		}

		wordNorm := textmatch.NormalizeForFuzzy(word)
		for _, np := range nameParts {
			ratio := textmatch.Ratio(wordNorm, textmatch.NormalizeForFuzzy(np))
			if ratio < float64(threshold) || strings.EqualFold(word, np) {
				continue
			}

			re, err := textmatch.CompileWordPattern(regexp.QuoteMeta(word))
			if err != nil {
				return "", nil, fmt.Errorf("compiling word pattern for %q: %w", word, err)
			}
			var n int
			text, n = textmatch.ReplaceWholeWord(text, re, pseudonymID)
			replaced += n
			steps = append(steps, fmt.Sprintf("fuzzy_direct('%s'~'%s' (ratio=%.0f, seuil=%d))",
				word, np, ratio, threshold))
			break
		}
	}
	if replaced > 0 {
		p.met.RecordReplacements("fuzzy_direct", int64(replaced))
	}
	return text, steps, nil
}

// buildVariants returns the name forms targeted by the regex pass, longest
// first so a full-name match wins over its own fragments: both full-name
// orders, last name, first name, plus a space form for every hyphenated
// variant. Duplicates are dropped case-insensitively.
func buildVariants(lastName, firstName string) []string {
	var variants []string
	if firstName != "" && lastName != "" {
		variants = append(variants, firstName+" "+lastName, lastName+" "+firstName)
	}
	if lastName != "" {
		variants = append(variants, lastName)
	}
	if firstName != "" {
		variants = append(variants, firstName)
	}

	var spaced []string
	for _, v := range variants {
		if strings.Contains(v, "-") {
			spaced = append(spaced, strings.ReplaceAll(v, "-", " "))
		}
	}
	variants = append(variants, spaced...)

	seen := make(map[string]struct{}, len(variants))
	unique := make([]string, 0, len(variants))
	for _, v := range variants {
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, v)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return utf8.RuneCountInString(unique[i]) > utf8.RuneCountInString(unique[j])
	})
	return unique
}

// lowerNameParts prepares the name for the detection pass: whole names
// lowercased with accents kept, single letters dropped.
func lowerNameParts(lastName, firstName string) []string {
	var parts []string
	if utf8.RuneCountInString(lastName) > 1 {
		parts = append(parts, strings.ToLower(lastName))
	}
	if utf8.RuneCountInString(firstName) > 1 {
		lower := strings.ToLower(firstName)
		if len(parts) == 0 || parts[0] != lower {
			parts = append(parts, lower)
		}
	}
	return parts
}

// rawNameParts keeps the name parts as given for the direct fuzzy scan,
// which normalizes per comparison and reports the original spelling in its
// trace.
func rawNameParts(lastName, firstName string) []string {
	var parts []string
	if lastName != "" {
		parts = append(parts, lastName)
	}
	if firstName != "" && firstName != lastName {
		parts = append(parts, firstName)
	}
	return parts
}
