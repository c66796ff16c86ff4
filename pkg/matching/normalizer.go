// Package matching normalizes raw entity names and scores how closely two
// names agree.
package matching

import (
	"fmt"
	"maps"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// DefaultAbbreviations expands the short forms common in counselling data.
var DefaultAbbreviations = map[string]string{
	"GOVT":      "GOVERNMENT",
	"GOV":       "GOVERNMENT",
	"MED":       "MEDICAL",
	"COLL":      "COLLEGE",
	"CLG":       "COLLEGE",
	"INST":      "INSTITUTE",
	"HOSP":      "HOSPITAL",
	"UNIV":      "UNIVERSITY",
	"RES":       "RESEARCH",
	"SCI":       "SCIENCES",
	"PVT":       "PRIVATE",
	"DENT":      "DENTAL",
	"GEN":       "GENERAL",
	"GYNAE":     "GYNAECOLOGY",
	"OBSTET":    "OBSTETRICS",
	"ORTHO":     "ORTHOPAEDICS",
	"PAED":      "PAEDIATRICS",
	"DERMA":     "DERMATOLOGY",
	"ANAES":     "ANAESTHESIA",
	"RADIO":     "RADIOLOGY",
	"PATHO":     "PATHOLOGY",
	"PSYCH":     "PSYCHIATRY",
	"OPHTHAL":   "OPHTHALMOLOGY",
	"TUBERCULO": "TUBERCULOSIS",
}

// Normalizer canonicalizes names so equal entities compare equal.
type Normalizer struct {
	abbreviations map[string]string
}

// NewNormalizer returns a Normalizer using DefaultAbbreviations extended
// (and overridden) by extra. Keys are matched case-insensitively.
func NewNormalizer(extra map[string]string) *Normalizer {
	abbr := maps.Clone(DefaultAbbreviations)
	for k, v := range extra {
		abbr[strings.ToUpper(strings.TrimSpace(k))] = strings.ToUpper(strings.TrimSpace(v))
	}
	return &Normalizer{abbreviations: abbr}
}

// LoadAbbreviations reads a YAML mapping of abbreviation to expansion.
func LoadAbbreviations(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read abbreviations: %w", err)
	}
	var out map[string]string
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse abbreviations %s: %w", path, err)
	}
	return out, nil
}

// Normalize upper-cases s, removes dots, replaces punctuation other than
// - ( ) ' with spaces, collapses whitespace and expands abbreviations on
// word boundaries. "&" becomes AND.
func (n *Normalizer) Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		switch {
		case r == '.':
		case r == '&':
			b.WriteString(" AND ")
		case r == '-' || r == '(' || r == ')' || r == '\'':
			b.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	words := strings.Fields(b.String())
	for i, w := range words {
		words[i] = n.expand(w)
	}
	return strings.Join(words, " ")
}

// expand replaces the word inside any surrounding brackets or quotes.
func (n *Normalizer) expand(w string) string {
	core := strings.Trim(w, "-()'")
	full, ok := n.abbreviations[core]
	if !ok || core == "" {
		return w
	}
	start := strings.Index(w, core)
	return w[:start] + full + w[start+len(core):]
}

// Tokens splits a normalized name into its words, ignoring the kept
// punctuation.
func Tokens(normalized string) []string {
	return strings.FieldsFunc(normalized, func(r rune) bool {
		return r == ' ' || r == '-' || r == '(' || r == ')' || r == '\''
	})
}
