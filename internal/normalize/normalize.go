// Package normalize produces the canonical name, address, and label forms used
// for record matching, geocode cache keys, and layer file names.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	multiSpaceRe = regexp.MustCompile(`\s+`)
	zipPlus4Re   = regexp.MustCompile(`^(\d{5})-?\d{4}$`)
	// "#4", "#4b" and "# 4" all mean unit 4.
	hashUnitRe = regexp.MustCompile(`#\s*([0-9a-z]+)`)
)

// unitDesignators collapse to a single "unit" token so "Apt 4", "Apt. 4",
// "Suite 4" and "#4" compare equal.
var unitDesignators = map[string]bool{
	"apt": true, "apartment": true, "unit": true, "ste": true, "suite": true,
	"no": true, "num": true, "number": true, "rm": true, "room": true,
}

var streetTypes = map[string]string{
	"street": "st", "str": "st",
	"avenue": "ave", "av": "ave", "aven": "ave", "avn": "ave",
	"boulevard": "blvd", "boul": "blvd",
	"road": "rd",
	"drive": "dr", "drv": "dr",
	"lane": "ln",
	"court": "ct",
	"circle": "cir", "circ": "cir",
	"place": "pl",
	"parkway": "pkwy", "pky": "pkwy",
	"highway": "hwy",
	"terrace": "ter",
	"trail": "trl",
	"square": "sq",
	"way": "way",
}

var directionals = map[string]string{
	"north": "n", "south": "s", "east": "e", "west": "w",
	"northeast": "ne", "northwest": "nw", "southeast": "se", "southwest": "sw",
}

// stripMarks decomposes, drops combining marks, and recomposes, turning
// "José" into "Jose".
func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// fold trims, removes diacritics, and case-folds s.
func fold(s string) string {
	// Casers are stateful and must not be shared across goroutines.
	return cases.Fold().String(stripMarks(strings.TrimSpace(s)))
}

// Name normalizes a person or organization name for matching: diacritics
// removed, case-folded, and every character that is not a letter or digit
// dropped. "Jane  Doe." and "jane doe" both become "janedoe".
func Name(name string) string {
	name = fold(name)
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Address normalizes address components into a single space-separated key.
// Empty components are skipped, punctuation becomes whitespace, unit
// designators collapse to "unit", street types and directionals are
// abbreviated, and ZIP+4 codes are cut to five digits. A blank or US country
// adds nothing, so domestic addresses key the same with or without one.
//
//	Address("123 Elm St", "Ann Arbor", "MI", "", "USA") == "123 elm st ann arbor mi"
func Address(street, city, state, postal, country string) string {
	var tokens []string
	tokens = append(tokens, streetTokens(street)...)
	tokens = append(tokens, plainTokens(city)...)
	tokens = append(tokens, plainTokens(state)...)
	if zip := postalCode(postal); zip != "" {
		tokens = append(tokens, zip)
	}
	tokens = append(tokens, countryTokens(country)...)
	return strings.Join(tokens, " ")
}

var domesticCountries = map[string]bool{
	"us": true, "usa": true, "u s": true, "u s a": true,
	"united states": true, "united states of america": true,
}

func countryTokens(country string) []string {
	tokens := plainTokens(country)
	if domesticCountries[strings.Join(tokens, " ")] {
		return nil
	}
	return tokens
}

// postalCode returns the five-digit form of a US ZIP+4, or the folded input.
func postalCode(postal string) string {
	p := fold(postal)
	if p == "" {
		return ""
	}
	if m := zipPlus4Re.FindStringSubmatch(p); m != nil {
		return m[1]
	}
	return strings.Join(plainTokens(p), " ")
}

func streetTokens(street string) []string {
	s := fold(street)
	if s == "" {
		return nil
	}
	s = hashUnitRe.ReplaceAllString(s, " unit $1 ")
	words := plainTokens(s)
	for i, w := range words {
		switch {
		case unitDesignators[w]:
			words[i] = "unit"
		case streetTypes[w] != "":
			words[i] = streetTypes[w]
		case directionals[w] != "":
			words[i] = directionals[w]
		}
	}
	// "unit unit 4" can appear from inputs like "Apt #4".
	out := words[:0]
	for _, w := range words {
		if w == "unit" && len(out) > 0 && out[len(out)-1] == "unit" {
			continue
		}
		out = append(out, w)
	}
	return out
}

// plainTokens folds s, turns punctuation into whitespace, and splits it.
func plainTokens(s string) []string {
	s = fold(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Fields(s)
}

// Label trims and collapses internal whitespace in an affiliation label. Case
// is preserved; labels are shown on the dashboard as written.
func Label(label string) string {
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(label, " "))
}

// FileName derives a filesystem-safe stem from a label: spaces become
// underscores, slashes become dashes, and anything outside [A-Za-z0-9._-] is
// dropped.
func FileName(label string) string {
	label = stripMarks(Label(label))
	var b strings.Builder
	for _, r := range label {
		switch {
		case r == ' ':
			b.WriteByte('_')
		case r == '/' || r == '\\':
			b.WriteByte('-')
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_' || r == '-'):
			b.WriteRune(r)
		}
	}
	stem := strings.Trim(b.String(), ".")
	if stem == "" {
		return "unlabeled"
	}
	return stem
}
