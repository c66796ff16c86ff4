// Package classifier maps free-text course names onto a stream, branch,
// degree type and level of study using an ordered rule table.
package classifier

import (
	"strings"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
)

// Other is reported for any field no rule matched.
const Other = "Other"

// Field is one output of a classification.
type Field int

const (
	FieldStream Field = iota
	FieldBranch
	FieldDegreeType
	FieldLevel
)

func (f Field) String() string {
	switch f {
	case FieldStream:
		return "stream"
	case FieldBranch:
		return "branch"
	case FieldDegreeType:
		return "degree_type"
	case FieldLevel:
		return "level_of_study"
	default:
		return "unknown"
	}
}

// Rule sets Field to Value when the course name contains every term in All.
// Terms are case-insensitive substrings of the cleaned name, so "MDS" also
// matches "MDSORTHODONTICS". A term that must stand alone carries its own
// spaces (" ENT "); the name is padded with one space on each side.
type Rule struct {
	Field Field
	All   []string
	Value string
}

func (r Rule) matches(padded string) bool {
	for _, term := range r.All {
		if !strings.Contains(padded, term) {
			return false
		}
	}
	return true
}

// Classifier evaluates rules top to bottom. The first matching rule for a
// field wins; later rules for that field are ignored.
type Classifier struct {
	rules []Rule
}

// New returns a Classifier over rules, which are evaluated in order.
func New(rules []Rule) *Classifier {
	return &Classifier{rules: append([]Rule(nil), rules...)}
}

// Default returns a Classifier with DefaultRules.
func Default() *Classifier {
	return New(DefaultRules())
}

// Classify derives the taxonomy of rawCourseName. It is a pure function of
// its input and the rule table.
func (c *Classifier) Classify(rawCourseName string) models.Classification {
	padded := " " + clean(rawCourseName) + " "
	var out [4]string
	for _, r := range c.rules {
		if out[r.Field] != "" {
			continue
		}
		if r.matches(padded) {
			out[r.Field] = r.Value
		}
	}
	for i := range out {
		if out[i] == "" {
			out[i] = Other
		}
	}
	return models.Classification{
		Stream:       out[FieldStream],
		Branch:       out[FieldBranch],
		DegreeType:   out[FieldDegreeType],
		LevelOfStudy: out[FieldLevel],
	}
}

// Classify uses the default rule table.
func Classify(rawCourseName string) models.Classification {
	return defaultClassifier.Classify(rawCourseName)
}

var defaultClassifier = Default()

// clean upper-cases s, drops dots so "M.D." reads "MD", turns every other
// non-alphanumeric rune into a space and collapses runs of spaces.
func clean(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		switch {
		case r == '.':
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
