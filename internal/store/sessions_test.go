package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quizforge/quizforge/pkg/models"
)

func TestOpenSession_SecondOpenReturnsWinner(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	learner := uuid.New()

	first, err := s.OpenSession(ctx, models.Session{LearnerID: learner, Subject: "Math"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !first.Active() {
		t.Fatal("Expected new session to be active")
	}
	if first.Subject != "math" {
		t.Errorf("Expected folded subject, got %q", first.Subject)
	}

	// The active-session index rejects the second insert; the caller
	// receives the first session.
	second, err := s.OpenSession(ctx, models.Session{LearnerID: learner, Subject: "science"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("Expected winner session %s, got %s", first.ID, second.ID)
	}
	if second.Subject != "math" {
		t.Errorf("Expected winner context to stick, got %q", second.Subject)
	}
}

func TestOpenSession_AfterEndOpensFresh(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	learner := uuid.New()

	first, err := s.OpenSession(ctx, models.Session{LearnerID: learner})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := s.EndSession(ctx, first.ID, time.Now().UTC()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	second, err := s.OpenSession(ctx, models.Session{LearnerID: learner})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if second.ID == first.ID {
		t.Error("Expected a fresh session after the first ended")
	}
}

func TestActiveSession_NoneIsNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.ActiveSession(context.Background(), uuid.New())
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got: %v", err)
	}
}

func TestEndSession_Idempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	learner := uuid.New()

	session, err := s.OpenSession(ctx, models.Session{LearnerID: learner})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	endedAt := time.Now().UTC()
	ended, err := s.EndSession(ctx, session.ID, endedAt)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if ended.Active() {
		t.Fatal("Expected session to be ended")
	}

	// A second end keeps the original close time.
	again, err := s.EndSession(ctx, session.ID, endedAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if again.EndedAt == nil {
		t.Fatal("Expected ended session")
	}
	if !again.EndedAt.Equal(*ended.EndedAt) {
		t.Errorf("Expected unchanged end time %v, got %v", ended.EndedAt, again.EndedAt)
	}
}

func TestEndSession_NeverBeforeStart(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	learner := uuid.New()

	session, err := s.OpenSession(ctx, models.Session{LearnerID: learner})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	ended, err := s.EndSession(ctx, session.ID, session.StartedAt.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if ended.EndedAt.Before(ended.StartedAt) {
		t.Errorf("Expected ended_at >= started_at, got %v < %v", ended.EndedAt, ended.StartedAt)
	}
}

func TestEndSession_Unknown(t *testing.T) {
	s := testStore(t)

	_, err := s.EndSession(context.Background(), uuid.New(), time.Now().UTC())
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got: %v", err)
	}
}

func TestSessionAttempts_WindowFilters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	learner := uuid.New()
	q := admitOne(t, s, "fractions", 1)

	started := time.Now().UTC().Add(-time.Hour)
	session, err := s.OpenSession(ctx, models.Session{LearnerID: learner, StartedAt: started})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	record := func(at time.Time, correct bool) {
		t.Helper()
		err := s.RecordAttempt(ctx, models.Attempt{
			LearnerID:  learner,
			QuestionID: q.ID,
			Selected:   q.CorrectAnswer,
			Correct:    correct,
			ElapsedMS:  500,
			CreatedAt:  at,
		}, false)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}

	record(started.Add(-time.Minute), true)   // before the session
	record(started.Add(time.Minute), true)    // inside
	record(started.Add(2*time.Minute), false) // inside

	now := time.Now().UTC()
	got, err := s.SessionAttempts(ctx, session.ID, now)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 attempts inside the window, got %d", len(got))
	}
	if !got[0].CreatedAt.Before(got[1].CreatedAt) {
		t.Error("Expected attempts oldest first")
	}

	// Ending the session closes the window: later attempts fall outside.
	if _, err := s.EndSession(ctx, session.ID, started.Add(90*time.Second)); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	got, err = s.SessionAttempts(ctx, session.ID, now)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Expected 1 attempt inside the closed window, got %d", len(got))
	}
}
