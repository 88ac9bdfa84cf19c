package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quizforge/quizforge/internal/normalize"
	"github.com/quizforge/quizforge/pkg/models"
)

// OpenSession inserts the prepared session. The partial unique index on
// (learner_id) WHERE ended_at IS NULL arbitrates concurrent opens: the
// loser's insert fails with a duplicate-key error and it returns the
// winner's row instead. A missing ID or start time is filled in.
func (s *Store) OpenSession(ctx context.Context, session models.Session) (*models.Session, error) {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	session.EndedAt = nil
	session.Subject = normalize.Normalize(session.Subject)
	session.Topic = normalize.Normalize(session.Topic)
	session.Subtopic = normalize.Normalize(session.Subtopic)

	// The winner may end its session between our failed insert and the
	// lookup, so loop a few times before giving up.
	for i := 0; i < 3; i++ {
		err := s.db.WithContext(ctx).Create(&session).Error
		if err == nil {
			return &session, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, storeErr("open session", err)
		}

		existing, err := s.ActiveSession(ctx, session.LearnerID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		session.ID = uuid.New()
	}
	return nil, storeErr("open session", fmt.Errorf("could not win or observe an active session for learner %s", session.LearnerID))
}

// ActiveSession returns the learner's open session, or a NotFound error
// when every session is ended.
func (s *Store) ActiveSession(ctx context.Context, learnerID uuid.UUID) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).
		Where("learner_id = ? AND ended_at IS NULL", learnerID).
		First(&session).Error
	if err != nil {
		return nil, storeErr("active session", err)
	}
	return &session, nil
}

// GetSession loads one session by ID.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	var session models.Session
	if err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		return nil, storeErr("get session", err)
	}
	return &session, nil
}

// EndSession closes the session at endedAt and returns the final record.
// Ending an already-ended session changes nothing and returns the record
// as stored. endedAt never lands before the session start.
func (s *Store) EndSession(ctx context.Context, id uuid.UUID, endedAt time.Time) (*models.Session, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.Active() {
		return session, nil
	}

	if endedAt.Before(session.StartedAt) {
		endedAt = session.StartedAt
	}
	res := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND ended_at IS NULL", id).
		Update("ended_at", endedAt)
	if res.Error != nil {
		return nil, storeErr("end session", res.Error)
	}

	// Re-read: a concurrent EndSession may have closed it first.
	return s.GetSession(ctx, id)
}

// SessionAttempts returns the learner's attempts inside the session
// window, oldest first. For an active session the window closes at now.
func (s *Store) SessionAttempts(ctx context.Context, id uuid.UUID, now time.Time) ([]models.Attempt, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	windowEnd := now
	if session.EndedAt != nil {
		windowEnd = *session.EndedAt
	}

	var out []models.Attempt
	err = s.db.WithContext(ctx).
		Where("learner_id = ? AND created_at >= ? AND created_at <= ?",
			session.LearnerID, session.StartedAt, windowEnd).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, storeErr("session attempts", err)
	}
	return out, nil
}
