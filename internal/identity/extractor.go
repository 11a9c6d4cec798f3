// Package identity extracts the declared student identity from raw
// school-report text.
//
// Reports declare the student either with an explicit keyword line
// ("Élève : DUPONT Marie") or, in layouts without the keyword, with an
// uppercase-surname line directly above the birth-date line:
//
//	DUPONT Marie
//	Né(e) le 12/05/2012
//
// A document without either marker yields no identity; that is a normal
// outcome for cover pages and annexes, not an error.
package identity

import (
	"regexp"
	"strings"
	"unicode"
)

// Identity is the declared student identity found in a document.
type Identity struct {
	LastName  string
	FirstName string // empty when the document carries a single all-caps name
	FullName  string // the name span exactly as captured
	Gender    string // "Fille", "Garçon" or empty when not marked
	RawText   string // the document text the identity was found in
}

var (
	// "Élève : DUPONT Marie", tolerant of missing accents and case.
	keywordLine = regexp.MustCompile(`(?i)[ée]l[èe]ve\s*:\s*([^\n]+)`)
	// "Né(e) le 12/05/2012" marks the line following the name block.
	birthLine = regexp.MustCompile(`(?i)^\s*n[ée]\(e\)\s+le\b`)
	// "Genre : Fille" / "Genre : Garçon".
	genderLine = regexp.MustCompile(`(?i)genre\s*:\s*(fille|gar[çc]on)`)
)

// Extract finds the student identity in documentText. The second return
// value is false when no identity is declared.
func Extract(documentText string) (Identity, bool) {
	if documentText == "" {
		return Identity{}, false
	}
	span := ""
	if m := keywordLine.FindStringSubmatch(documentText); m != nil {
		span = strings.TrimSpace(m[1])
	}
	if span == "" {
		span = capsLineBeforeBirth(documentText)
	}
	if span == "" {
		return Identity{}, false
	}
	lastName, firstName := splitName(span)
	if lastName == "" && firstName == "" {
		return Identity{}, false
	}
	return Identity{
		LastName:  lastName,
		FirstName: firstName,
		FullName:  span,
		Gender:    gender(documentText),
		RawText:   documentText,
	}, true
}

// capsLineBeforeBirth returns the uppercase-surname name line immediately
// preceding a birth-date line, or "".
func capsLineBeforeBirth(text string) string {
	lines := strings.Split(text, "\n")
	for i := 0; i+1 < len(lines); i++ {
		if !birthLine.MatchString(lines[i+1]) {
			continue
		}
		line := strings.TrimSpace(lines[i])
		if isCapsNameLine(line) {
			return line
		}
	}
	return ""
}

// isCapsNameLine reports whether line looks like "<ALL-CAPS SURNAME>
// <Mixed-case first name>".
func isCapsNameLine(line string) bool {
	tokens := strings.Fields(line)
	if len(tokens) < 2 {
		return false
	}
	if !isAllUpper(tokens[0]) {
		return false
	}
	last := tokens[len(tokens)-1]
	if isAllUpper(last) || !startsUpper(last) {
		return false
	}
	for _, tok := range tokens {
		if !startsUpper(tok) {
			return false
		}
	}
	return true
}

// splitName partitions a name span into surname and first name. When the
// span leads with an all-caps token, the run of all-caps tokens is the
// surname and the remainder the first name ("DUPONT Marie", "DE LA
// FONTAINE Jean"). Otherwise the first token is the first name and the
// remainder the surname ("Marie Dupont", "Jean De La Fontaine").
func splitName(span string) (lastName, firstName string) {
	tokens := strings.Fields(span)
	if len(tokens) == 0 {
		return "", ""
	}
	if isAllUpper(tokens[0]) {
		i := 0
		for i < len(tokens) && isAllUpper(tokens[i]) {
			i++
		}
		return strings.Join(tokens[:i], " "), strings.Join(tokens[i:], " ")
	}
	return strings.Join(tokens[1:], " "), tokens[0]
}

// isAllUpper reports whether every letter in s is uppercase. Tokens without
// letters never qualify.
func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

// startsUpper reports whether the first rune of s is an uppercase letter.
func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

// gender returns the explicit gender marker, normalized to "Fille" or
// "Garçon", or "" when the document has none.
func gender(text string) string {
	m := genderLine.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	if strings.Contains(strings.ToLower(m[1]), "fille") {
		return "Fille"
	}
	return "Garçon"
}
