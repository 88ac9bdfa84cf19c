// Package generator produces candidate questions for a scope. The live
// implementation prompts an OpenAI-compatible model; the mock produces
// deterministic items for offline runs and tests. Candidates leave this
// package unvalidated; admission rules run downstream.
package generator

import (
	"context"

	"github.com/quizforge/quizforge/pkg/models"
)

// Request asks for Count questions in one curricular scope.
type Request struct {
	Subject    string
	Grade      int
	Topic      string
	Subtopic   string
	Difficulty models.Difficulty
	Count      int
	Avoid      []string // existing stems the generator should not reuse
}

// Generator is the external question source.
type Generator interface {
	Generate(ctx context.Context, req Request) ([]models.Candidate, error)
}

// Error wraps a generation failure with its retry classification.
type Error struct {
	Transient bool
	Err       error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// ErrorKind reports the coarse failure kind for retry scheduling.
func (e *Error) ErrorKind() string {
	if e.Transient {
		return models.KindGeneratorTransient
	}
	return models.KindGeneratorPermanent
}

// IsTransient reports whether err is worth retrying. Unknown errors default
// to transient so flaky transports get another try.
func IsTransient(err error) bool {
	return models.KindOf(err) != models.KindGeneratorPermanent
}
