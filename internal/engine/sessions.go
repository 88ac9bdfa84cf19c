package engine

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/quizforge/quizforge/internal/normalize"
	"github.com/quizforge/quizforge/pkg/models"
)

// SessionContext is the curricular scope recorded when a session opens.
// Later activity under other scopes does not rotate the session; sessions
// are learner-scoped.
type SessionContext struct {
	Subject  string
	Topic    string
	Subtopic string
}

// EnsureSession returns the learner's active session, opening one with the
// given context if none exists. Idempotent over the active window.
func (e *Engine) EnsureSession(ctx context.Context, learnerID uuid.UUID, sctx SessionContext) (*models.Session, error) {
	return e.ensureSessionAt(ctx, learnerID, sctx, e.clock())
}

func (e *Engine) ensureSessionAt(ctx context.Context, learnerID uuid.UUID, sctx SessionContext, now time.Time) (*models.Session, error) {
	session, err := e.store.ActiveSession(ctx, learnerID)
	if err == nil {
		return session, nil
	}
	if models.KindOf(err) != models.KindNotFound {
		return nil, err
	}

	opened, err := e.store.OpenSession(ctx, models.Session{
		LearnerID: learnerID,
		Subject:   sctx.Subject,
		Topic:     sctx.Topic,
		Subtopic:  sctx.Subtopic,
		StartedAt: now,
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Opened session",
		"learner_id", learnerID,
		"session_id", opened.ID,
		"subject", opened.Subject)
	return opened, nil
}

// SessionSummary computes the attempt totals, timings and subjects
// practiced over the session window, which runs from its start to its end
// or to now while it is still active.
func (e *Engine) SessionSummary(ctx context.Context, sessionID uuid.UUID) (*models.SessionSummary, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	attempts, err := e.store.SessionAttempts(ctx, sessionID, e.clock())
	if err != nil {
		return nil, err
	}

	summary := &models.SessionSummary{
		Session:            *session,
		QuestionsAttempted: len(attempts),
	}

	questionIDs := make([]uuid.UUID, 0, len(attempts))
	idSeen := make(map[uuid.UUID]struct{}, len(attempts))
	for _, a := range attempts {
		if a.Correct {
			summary.QuestionsCorrect++
		}
		summary.TotalElapsedMS += a.ElapsedMS
		if _, ok := idSeen[a.QuestionID]; !ok {
			idSeen[a.QuestionID] = struct{}{}
			questionIDs = append(questionIDs, a.QuestionID)
		}
	}
	summary.AccuracyPct = accuracyPct(summary.QuestionsCorrect, summary.QuestionsAttempted)
	summary.AvgElapsedMS = summary.TotalElapsedMS / int64(max(1, summary.QuestionsAttempted))

	subjects, err := e.store.QuestionSubjects(ctx, questionIDs)
	if err != nil {
		return nil, err
	}
	distinct := make(map[string]struct{}, len(subjects))
	for _, subject := range subjects {
		distinct[normalize.Display(subject)] = struct{}{}
	}
	summary.SubjectsPracticed = make([]string, 0, len(distinct))
	for subject := range distinct {
		summary.SubjectsPracticed = append(summary.SubjectsPracticed, subject)
	}
	sort.Strings(summary.SubjectsPracticed)

	return summary, nil
}

// EndSession closes the session and returns the final record. Ending an
// already-ended session changes nothing and returns it as stored.
func (e *Engine) EndSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	session, err := e.store.EndSession(ctx, sessionID, e.clock())
	if err != nil {
		return nil, err
	}
	e.logger.Info("Ended session",
		"session_id", sessionID,
		"learner_id", session.LearnerID)
	return session, nil
}
