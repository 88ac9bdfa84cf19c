package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/quizforge/quizforge/internal/normalize"
	"github.com/quizforge/quizforge/pkg/models"
)

// SubmitAttempt grades a learner's answer against the stored question,
// records the attempt (marking the question seen when correct) and makes
// sure an active session covers it. Grading is an exact string comparison:
// case and whitespace both count. The expected answer is always disclosed.
func (e *Engine) SubmitAttempt(ctx context.Context, learnerID, questionID uuid.UUID, selected string, elapsedMS int64) (*models.GradeResult, error) {
	q, err := e.store.GetQuestion(ctx, questionID)
	if err != nil {
		if models.KindOf(err) == models.KindNotFound {
			return nil, fmt.Errorf("question %s: %w", questionID, models.ErrUnknownQuestion)
		}
		return nil, err
	}
	if _, err := e.store.GetLearner(ctx, learnerID); err != nil {
		return nil, err
	}

	now := e.clock()
	correct := selected == q.CorrectAnswer

	// Client clock skew can report negative timings; the ledger stores
	// elapsed_ms >= 0.
	elapsedMS = max(elapsedMS, 0)

	attempt := models.Attempt{
		ID:         uuid.New(),
		LearnerID:  learnerID,
		QuestionID: questionID,
		Selected:   selected,
		Correct:    correct,
		ElapsedMS:  elapsedMS,
		CreatedAt:  now,
	}
	if err := e.store.RecordAttempt(ctx, attempt, true); err != nil {
		return nil, err
	}

	if _, err := e.ensureSessionAt(ctx, learnerID, SessionContext{
		Subject:  q.Subject,
		Topic:    q.Topic,
		Subtopic: q.Subtopic,
	}, now); err != nil {
		return nil, err
	}

	e.metrics.RecordAttempt(correct)
	e.logger.Info("Graded attempt",
		"learner_id", learnerID,
		"question_id", questionID,
		"correct", correct,
		"elapsed_ms", elapsedMS)

	return &models.GradeResult{
		Correct:        correct,
		ExpectedAnswer: q.CorrectAnswer,
		Rationale:      q.Rationale,
	}, nil
}

// Progress aggregates a learner's committed attempt history: totals,
// rounded accuracy, the streak of consecutive correct answers ending at
// the latest attempt, and a per-subject breakdown keyed by display-cased
// subject names.
func (e *Engine) Progress(ctx context.Context, learnerID uuid.UUID) (*models.Progress, error) {
	facts, err := e.store.AttemptHistory(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	report := &models.Progress{
		Attempted: len(facts),
		BySubject: make(map[string]models.SubjectProgress),
	}

	// facts are newest first, so the streak counts from the head until the
	// first incorrect answer.
	streakBroken := false
	for _, f := range facts {
		if f.Correct {
			report.Correct++
		}
		if !streakBroken {
			if f.Correct {
				report.CurrentStreak++
			} else {
				streakBroken = true
			}
		}

		key := normalize.Display(f.Subject)
		sp := report.BySubject[key]
		sp.Attempted++
		if f.Correct {
			sp.Correct++
		}
		report.BySubject[key] = sp
	}

	report.AccuracyPct = accuracyPct(report.Correct, report.Attempted)
	for key, sp := range report.BySubject {
		sp.AccuracyPct = accuracyPct(sp.Correct, sp.Attempted)
		report.BySubject[key] = sp
	}
	return report, nil
}
