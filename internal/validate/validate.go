// Package validate holds the admission rules for candidate questions. The
// validator is pure: it reads the candidate and nothing else.
package validate

import (
	"errors"
	"fmt"

	"github.com/quizforge/quizforge/internal/normalize"
	"github.com/quizforge/quizforge/pkg/models"
)

// Rule identifies the admission rule a candidate failed.
type Rule string

const (
	RuleMalformedOptions   Rule = "MalformedOptions"
	RuleAnswerNotInOptions Rule = "AnswerNotInOptions"
	RuleEmptyStem          Rule = "EmptyStem"
	RuleBadDifficulty      Rule = "BadDifficulty"
	RuleBadGrade           Rule = "BadGrade"
	RuleMissingMetadata    Rule = "MissingMetadata"
)

// Error reports a failed admission rule. Its kind is always
// models.KindValidation; Rule carries the subkind.
type Error struct {
	Rule Rule
	msg  string
}

func (e *Error) Error() string     { return e.msg }
func (e *Error) ErrorKind() string { return models.KindValidation }

// RuleOf returns the failed rule from err's wrap chain, or the empty Rule
// if err is not a validation error.
func RuleOf(err error) Rule {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Rule
	}
	return ""
}

func fail(rule Rule, format string, args ...any) *Error {
	return &Error{Rule: rule, msg: fmt.Sprintf(format, args...)}
}

// Input builds a validation failure for caller-supplied parameters. The
// candidate admission path uses Candidate instead.
func Input(rule Rule, format string, args ...any) error {
	return fail(rule, format, args...)
}

// Candidate checks c against every admission rule and returns the first
// failure. Checks run in a fixed order (metadata, grade, difficulty, stem,
// options, answer), so the reported rule is deterministic. Option
// distinctness and answer matching are whitespace-insensitive but
// case-sensitive.
func Candidate(c models.Candidate) error {
	if normalize.Normalize(c.Subject) == "" ||
		normalize.Normalize(c.Topic) == "" ||
		normalize.Normalize(c.Subtopic) == "" {
		return fail(RuleMissingMetadata, "subject, topic and subtopic are required")
	}
	if c.Grade < 0 || c.Grade > models.MaxGrade {
		return fail(RuleBadGrade, "grade %d outside 0..%d", c.Grade, models.MaxGrade)
	}
	if !models.Difficulty(normalize.Normalize(string(c.Difficulty))).Valid() {
		return fail(RuleBadDifficulty, "unknown difficulty %q", c.Difficulty)
	}
	if normalize.Collapse(c.Stem) == "" {
		return fail(RuleEmptyStem, "stem is empty")
	}
	if len(c.Options) != models.OptionCount {
		return fail(RuleMalformedOptions, "expected %d options, got %d", models.OptionCount, len(c.Options))
	}
	opts := make(map[string]struct{}, models.OptionCount)
	for i, o := range c.Options {
		t := normalize.Collapse(o)
		if t == "" {
			return fail(RuleMalformedOptions, "option %d is empty", i+1)
		}
		if _, dup := opts[t]; dup {
			return fail(RuleMalformedOptions, "duplicate option %q", t)
		}
		opts[t] = struct{}{}
	}
	if _, ok := opts[normalize.Collapse(c.CorrectAnswer)]; !ok {
		return fail(RuleAnswerNotInOptions, "correct answer %q not among options", c.CorrectAnswer)
	}
	return nil
}
