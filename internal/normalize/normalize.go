// Package normalize defines the canonical text forms used for matching,
// storage, and fingerprinting. Metadata fields (subject, topic, subtopic,
// difficulty) go through the full Normalize transform so that "Fractions",
// " fractions " and "FRACTIONS" name the same thing. Body fields (stem,
// options, correct answer) only get whitespace collapsing, because body
// case is meaningful ("Fe" is not "fe").
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/quizforge/quizforge/pkg/models"
)

// Normalize returns the canonical metadata form of s: Unicode
// compatibility normalization (NFKC), case folding, and whitespace
// collapsing. Control characters count as whitespace here, so no control
// byte survives into a normalized string.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return Collapse(s)
}

// Display returns the title-cased display form of an already normalized
// string, e.g. "long division" -> "Long Division".
func Display(s string) string {
	return cases.Title(language.English).String(s)
}

// Equal reports whether a and b normalize to the same string.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Candidate returns a copy of c with metadata fields in canonical form and
// body fields outer-trimmed. Body case and internal spacing are preserved.
func Candidate(c models.Candidate) models.Candidate {
	c.Subject = Normalize(c.Subject)
	c.Topic = Normalize(c.Topic)
	c.Subtopic = Normalize(c.Subtopic)
	c.Difficulty = models.Difficulty(Normalize(string(c.Difficulty)))
	c.Stem = strings.TrimSpace(c.Stem)
	opts := make([]string, len(c.Options))
	for i, o := range c.Options {
		opts[i] = strings.TrimSpace(o)
	}
	c.Options = opts
	c.CorrectAnswer = strings.TrimSpace(c.CorrectAnswer)
	c.Rationale = strings.TrimSpace(c.Rationale)
	c.StandardRef = strings.TrimSpace(c.StandardRef)
	return c
}

// Collapse trims s and squeezes every run of whitespace or control
// characters down to a single ASCII space. Case is untouched.
func Collapse(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	gap := false
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			gap = true
			continue
		}
		if gap && b.Len() > 0 {
			b.WriteByte(' ')
		}
		gap = false
		b.WriteRune(r)
	}
	return b.String()
}
