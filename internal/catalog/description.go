package catalog

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
)

var (
	descriptionControl = regexp.MustCompile(`[\t\r\n|\s]`)
	descriptionSpaces  = regexp.MustCompile(` {2,}`)
)

// CleanDescription replaces control characters and pipes with spaces,
// removes bullet glyphs and collapses repeated spaces.
func CleanDescription(s string) string {
	s = descriptionControl.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "•", "")
	s = descriptionSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NLPDescriber reduces a description to its distinct content-word stems.
type NLPDescriber struct{}

// Describe lower-cases text, drops non-alphabetic tokens and stop words, and
// joins the stem of each remaining word once, in first-seen order.
func (NLPDescriber) Describe(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})

	seen := make(map[string]struct{}, len(words))
	stems := make([]string, 0, len(words))
	for _, w := range words {
		if english.IsStopWord(w) {
			continue
		}
		stem := english.Stem(w, false)
		if stem == "" {
			continue
		}
		if _, ok := seen[stem]; ok {
			continue
		}
		seen[stem] = struct{}{}
		stems = append(stems, stem)
	}

	return strings.Join(stems, " ")
}
