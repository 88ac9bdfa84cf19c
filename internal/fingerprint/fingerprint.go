// Package fingerprint computes the stable content identity of a question.
// Two questions with the same stem, option set, and correct answer (after
// whitespace collapsing) always produce the same fingerprint, regardless of
// option order or metadata. Case is preserved: "Fe" and "fe" are different
// answers.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/quizforge/quizforge/internal/normalize"
)

// sep joins the canonical fields. Whitespace collapsing removes control
// characters, so the separator can never occur inside a field.
const sep = 0x1f

// Compute returns the 64-character lowercase hex SHA-256 of the question's
// canonical byte sequence: collapsed stem, the collapsed options in
// lexicographic order, then the collapsed correct answer, all joined by the
// separator byte.
func Compute(stem string, options []string, correctAnswer string) string {
	opts := make([]string, len(options))
	for i, o := range options {
		opts[i] = normalize.Collapse(o)
	}
	sort.Strings(opts)

	h := sha256.New()
	h.Write([]byte(normalize.Collapse(stem)))
	for _, o := range opts {
		h.Write([]byte{sep})
		h.Write([]byte(o))
	}
	h.Write([]byte{sep})
	h.Write([]byte(normalize.Collapse(correctAnswer)))
	return hex.EncodeToString(h.Sum(nil))
}
