package textmatch

import (
	"strings"
	"testing"
)

func TestNormalizeForFuzzy(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"Grégorio", "gregorio"},
		{"DUPONT", "dupont"},
		{"François", "francois"},
		{"Héloïse", "heloise"},
		{"Noé", "noe"},
		{"martin", "martin"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeForFuzzy(c.input); got != c.want {
			t.Errorf("NormalizeForFuzzy(%q) = %q, want %q", c.input, got, c.want)
		}
	}
}

func TestThreshold_ShortWordsDisabled(t *testing.T) {
	for _, w := range []string{"Ali", "Noé", "Léa", "ab", "a", ""} {
		if th, ok := Threshold(w); ok {
			t.Errorf("Threshold(%q) = (%d, true), want disabled", w, th)
		}
	}
}

func TestThreshold_MediumWords(t *testing.T) {
	for _, w := range []string{"Yann", "Petit", "abcd"} {
		th, ok := Threshold(w)
		if !ok || th != 92 {
			t.Errorf("Threshold(%q) = (%d, %v), want (92, true)", w, th, ok)
		}
	}
}

func TestThreshold_LongWords(t *testing.T) {
	for _, w := range []string{"Martin", "Dupont", "Grégorio", "abcdef"} {
		th, ok := Threshold(w)
		if !ok || th != 83 {
			t.Errorf("Threshold(%q) = (%d, %v), want (83, true)", w, th, ok)
		}
	}
}

func TestThreshold_CountsRunesNotBytes(t *testing.T) {
	// "Noé" is 4 bytes but 3 runes, so fuzzy matching stays disabled.
	if _, ok := Threshold("Noé"); ok {
		t.Error("3-rune word should have fuzzy matching disabled")
	}
}

func TestRatio_Identical(t *testing.T) {
	if r := Ratio("dupont", "dupont"); r != 100 {
		t.Errorf("Ratio of identical strings: got %f, want 100", r)
	}
}

func TestRatio_BothEmpty(t *testing.T) {
	if r := Ratio("", ""); r != 100 {
		t.Errorf("Ratio of empty strings: got %f, want 100", r)
	}
}

func TestRatio_KnownValues(t *testing.T) {
	cases := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"gregorrio", "gregorio", 88.8, 88.9}, // one deletion over 9 runes
		{"francoi", "francois", 87.4, 87.6},   // one insertion over 8 runes
		{"note", "noe", 74.9, 75.1},           // one edit over 4 runes
		{"dupond", "dupont", 83.3, 83.4},      // one substitution over 6 runes
	}
	for _, c := range cases {
		got := Ratio(c.a, c.b)
		if got < c.min || got > c.max {
			t.Errorf("Ratio(%q, %q) = %f, want in [%f, %f]", c.a, c.b, got, c.min, c.max)
		}
	}
}

func TestRatio_UnrelatedWordsStayBelowThreshold(t *testing.T) {
	// "manque" must not reach the long-word threshold for "manuel".
	if r := Ratio("manque", "manuel"); r >= 83 {
		t.Errorf("Ratio(manque, manuel) = %f, want < 83", r)
	}
}

func TestHasFuzzyMatch_ExactShortWord(t *testing.T) {
	ok, detail := HasFuzzyMatch([]string{"ali"}, []string{"ali"})
	if !ok {
		t.Fatal("identical short parts should match exactly")
	}
	if !strings.Contains(detail, "exact") {
		t.Errorf("detail should mention exact match, got: %q", detail)
	}
}

func TestHasFuzzyMatch_ShortWordNoFuzz(t *testing.T) {
	if ok, _ := HasFuzzyMatch([]string{"ami"}, []string{"ali"}); ok {
		t.Error("short words must not fuzzy-match")
	}
}

func TestHasFuzzyMatch_TypoWithAccents(t *testing.T) {
	// Pass-2 comparison keeps accents; a doubled letter still matches.
	ok, detail := HasFuzzyMatch([]string{"grégorrio"}, []string{"grégorio"})
	if !ok {
		t.Fatal("grégorrio should fuzzy-match grégorio")
	}
	if !strings.Contains(detail, "ratio=") || !strings.Contains(detail, "seuil=") {
		t.Errorf("detail should carry ratio and threshold, got: %q", detail)
	}
}

func TestHasFuzzyMatch_Unrelated(t *testing.T) {
	if ok, _ := HasFuzzyMatch([]string{"xyz"}, []string{"abc"}); ok {
		t.Error("unrelated parts should not match")
	}
}

func TestHasFuzzyMatch_FirstMatchWins(t *testing.T) {
	ok, detail := HasFuzzyMatch([]string{"dupont"}, []string{"dupont", "marie"})
	if !ok {
		t.Fatal("expected a match")
	}
	if !strings.Contains(detail, "dupont~dupont") {
		t.Errorf("first name part should win, got: %q", detail)
	}
}

func TestTokenize(t *testing.T) {
	cases := []struct {
		input string
		want  []string
	}{
		{"Noé a bien progressé.", []string{"Noé", "a", "bien", "progressé"}},
		{"Jean-Pierre est sérieux", []string{"Jean-Pierre", "est", "sérieux"}},
		{"L'élève participe", []string{"L'élève", "participe"}},
		{"", nil},
		{"...", nil},
	}
	for _, c := range cases {
		got := Tokenize(c.input)
		if len(got) != len(c.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", c.input, got, c.want)
			continue
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Errorf("Tokenize(%q)[%d] = %q, want %q", c.input, i, got[i], c.want[i])
			}
		}
	}
}

func TestTokenize_TrimsEdgePunctuation(t *testing.T) {
	got := Tokenize("'Marie' - Dupont-")
	want := []string{"Marie", "Dupont"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize: got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("token %d: got %q, want %q", i, got[i], want[i])
		}
	}
}
