package textmatch

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Similarity thresholds by word length in runes. Short names are disabled
// entirely: three-letter names ("Léa", "Ali") produce too many one-edit
// collisions for any useful threshold.
const (
	shortWordMax    = 3
	mediumWordMax   = 5
	mediumThreshold = 92
	longThreshold   = 83
)

// NormalizeForFuzzy lowercases s and strips combining marks for fuzzy
// comparison: "Grégorio" becomes "gregorio". Distinct from the mapping
// store's display normalization, which keeps accents.
func NormalizeForFuzzy(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return strings.ToLower(stripped)
}

// Threshold returns the minimum similarity ratio for a word of the given
// rune length, and whether fuzzy matching is enabled for it at all.
func Threshold(word string) (int, bool) {
	switch n := utf8.RuneCountInString(word); {
	case n <= shortWordMax:
		return 0, false
	case n <= mediumWordMax:
		return mediumThreshold, true
	default:
		return longThreshold, true
	}
}

// Ratio returns the Levenshtein similarity of a and b as a percentage of
// the longer rune length. Two empty strings compare as 100.
func Ratio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(dist)/float64(longest))
}

// HasFuzzyMatch reports whether any word part matches any name part: exact
// equality when the word part is too short for fuzzy matching, similarity
// within the length-adaptive threshold otherwise. The returned detail
// describes the first match, for the audit trace.
func HasFuzzyMatch(wordParts, nameParts []string) (bool, string) {
	for _, wp := range wordParts {
		threshold, fuzzy := Threshold(wp)
		for _, np := range nameParts {
			if !fuzzy {
				if wp == np {
					return true, fmt.Sprintf("%s==%s (exact, ≤3)", wp, np)
				}
				continue
			}
			if r := Ratio(wp, np); r >= float64(threshold) {
				return true, fmt.Sprintf("%s~%s (ratio=%.0f, seuil=%d)", wp, np, r, threshold)
			}
		}
	}
	return false, ""
}

// wordTokens matches runs of letters, digits, underscores, apostrophes and
// hyphens.
var wordTokens = regexp.MustCompile(`[\p{L}\p{N}_'-]+`)

// Tokenize splits text into word tokens, keeping internal apostrophes and
// hyphens ("Jean-Pierre", "N'Golo") but trimming them from token edges.
func Tokenize(text string) []string {
	raw := wordTokens.FindAllString(text, -1)
	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		tok = strings.Trim(tok, "'-")
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}
