// Package normalize canonicalizes contact attributes into comparable keys.
// Every function here is pure and safe for concurrent use.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// streetSuffixes maps spelled-out street suffix words to their postal
// abbreviation. Common informal abbreviations are folded too.
var streetSuffixes = map[string]string{
	"street":    "st",
	"str":       "st",
	"avenue":    "ave",
	"av":        "ave",
	"road":      "rd",
	"drive":     "dr",
	"boulevard": "blvd",
	"blv":       "blvd",
	"lane":      "ln",
	"court":     "ct",
	"place":     "pl",
	"circle":    "cir",
	"terrace":   "ter",
	"parkway":   "pkwy",
	"highway":   "hwy",
	"square":    "sq",
	"trail":     "trl",
	"crossing":  "xing",
	"apartment": "apt",
	"suite":     "ste",
}

var directionals = map[string]string{
	"north":     "n",
	"south":     "s",
	"east":      "e",
	"west":      "w",
	"northeast": "ne",
	"northwest": "nw",
	"southeast": "se",
	"southwest": "sw",
}

// Address lowercases raw, folds accents, strips punctuation, rewrites street
// suffix and directional words to their abbreviations and collapses
// whitespace. It never fails: unusable input yields a degenerate key (often
// the empty string) that still compares.
func Address(raw string) string {
	return strings.Join(addressTokens(raw), " ")
}

// PartialAddress returns the house number and first street word of the
// normalized address ("123 main st apt 4" -> "123 main"). The second return
// is false when the address does not start with a number.
func PartialAddress(raw string) (string, bool) {
	tokens := addressTokens(raw)
	if len(tokens) < 2 || !hasDigit(tokens[0]) {
		return "", false
	}
	return tokens[0] + " " + tokens[1], true
}

func addressTokens(raw string) []string {
	folded := foldCase(raw)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '-', r == '/', r == ',':
			b.WriteByte(' ')
		}
	}

	tokens := strings.Fields(b.String())
	for i, tok := range tokens {
		if abbr, ok := streetSuffixes[tok]; ok {
			tokens[i] = abbr
		} else if abbr, ok := directionals[tok]; ok {
			tokens[i] = abbr
		}
	}
	return tokens
}

// foldCase strips diacritics and lowercases. Transformers and casers are
// stateful, so each call builds its own.
func foldCase(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return cases.Lower(language.Und).String(stripped)
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}
