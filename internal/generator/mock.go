package generator

import (
	"context"
	"fmt"
	"sync"

	"github.com/quizforge/quizforge/internal/normalize"
	"github.com/quizforge/quizforge/pkg/models"
)

// Mock produces deterministic, curriculum-shaped questions without any
// network. Successive calls for the same scope continue the sequence, so
// repeated replenishment keeps yielding fresh fingerprints.
type Mock struct {
	mu  sync.Mutex
	seq map[string]int
}

// NewMock creates an offline generator.
func NewMock() *Mock {
	return &Mock{seq: make(map[string]int)}
}

func (m *Mock) scopeKey(req Request) string {
	return fmt.Sprintf("%s|%d|%s|%s|%s", req.Subject, req.Grade, req.Topic, req.Subtopic, req.Difficulty)
}

// Generate returns req.Count synthetic candidates for the scope.
func (m *Mock) Generate(ctx context.Context, req Request) ([]models.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := m.scopeKey(req)
	m.mu.Lock()
	start := m.seq[key]
	m.seq[key] += req.Count
	m.mu.Unlock()

	label := normalize.Display(req.Subtopic)
	out := make([]models.Candidate, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		n := start + i + 1
		options := []string{
			fmt.Sprintf("%s statement A%d", label, n),
			fmt.Sprintf("%s statement B%d", label, n),
			fmt.Sprintf("%s statement C%d", label, n),
			fmt.Sprintf("%s statement D%d", label, n),
		}
		correct := options[n%len(options)]
		out = append(out, models.Candidate{
			Subject:       req.Subject,
			Grade:         req.Grade,
			Topic:         req.Topic,
			Subtopic:      req.Subtopic,
			Difficulty:    req.Difficulty,
			Stem:          fmt.Sprintf("Practice item %d: which statement about %s is accurate?", n, label),
			Options:       options,
			CorrectAnswer: correct,
			Rationale:     fmt.Sprintf("For practice item %d, %q is the accurate statement.", n, correct),
		})
	}
	return out, nil
}
