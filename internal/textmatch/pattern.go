// Package textmatch provides the matching primitives shared by the
// pseudonymization passes: accent-insensitive patterns, Unicode-safe
// whole-word replacement and fuzzy name comparison.
package textmatch

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// accentClasses maps a base letter to the character class covering its
// accented forms in French names.
var accentClasses = map[rune]string{
	'a': "[aàáâãäå]",
	'c': "[cç]",
	'e': "[eèéêë]",
	'i': "[iìíîï]",
	'n': "[nñ]",
	'o': "[oòóôõö]",
	'u': "[uùúûü]",
	'y': "[yýÿ]",
}

// AccentInsensitivePattern converts a literal into a regular expression
// fragment matching it regardless of accents: "Grégorio" becomes
// "Gr[eèéêë]g[oòóôõö]r[iìíîï][oòóôõö]". Letters whose base form has no known
// accented variants are escaped verbatim. Case folding is left to the (?i)
// flag at compile time.
func AccentInsensitivePattern(literal string) string {
	var b strings.Builder
	for _, r := range literal {
		if class, ok := accentClasses[baseRune(r)]; ok {
			b.WriteString(class)
		} else {
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

// baseRune lowercases r and strips its accent via NFD decomposition.
func baseRune(r rune) rune {
	for _, d := range norm.NFD.String(string(r)) {
		return unicode.ToLower(d)
	}
	return unicode.ToLower(r)
}

// CompileWordPattern compiles a case-insensitive pattern for core. Word
// boundaries are not part of the pattern: Go's \b only understands ASCII,
// so ReplaceWholeWord checks boundaries around each match instead.
func CompileWordPattern(core string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)(?:" + core + ")")
}

// ReplaceWholeWord replaces every whole-word match of re in text with
// replacement and reports how many matches were replaced. A match counts as
// a whole word when the runes adjacent to it are not letters, digits or
// underscores.
func ReplaceWholeWord(text string, re *regexp.Regexp, replacement string) (string, int) {
	matches := re.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text, 0
	}
	var b strings.Builder
	b.Grow(len(text))
	last, count := 0, 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if !boundaryBefore(text, start) || !boundaryAfter(text, end) {
			continue
		}
		b.WriteString(text[last:start])
		b.WriteString(replacement)
		last = end
		count++
	}
	if count == 0 {
		return text, 0
	}
	b.WriteString(text[last:])
	return b.String(), count
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i == len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
