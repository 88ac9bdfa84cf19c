package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quizforge/quizforge/pkg/models"
)

// RecordAttempt appends the attempt and, when it is correct and markSeen
// is set, inserts the learner's seen record for the question's fingerprint
// if one does not exist yet. Both writes commit in one transaction:
// grading must never report an attempt the store did not keep.
func (s *Store) RecordAttempt(ctx context.Context, attempt models.Attempt, markSeen bool) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&attempt).Error; err != nil {
			return err
		}

		if !markSeen || !attempt.Correct {
			return nil
		}

		var q models.Question
		if err := tx.Select("fingerprint").First(&q, "id = ?", attempt.QuestionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("question %s: %w", attempt.QuestionID, models.ErrUnknownQuestion)
			}
			return err
		}

		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.SeenRecord{
			LearnerID:   attempt.LearnerID,
			Fingerprint: q.Fingerprint,
			FirstSeenAt: attempt.CreatedAt,
		}).Error
	})
	if err != nil {
		if errors.Is(err, models.ErrUnknownQuestion) {
			return err
		}
		return storeErr("record attempt", err)
	}
	return nil
}

// AttemptTotals returns the learner's lifetime attempt and correct counts
// across all subjects. The difficulty policy runs on these two numbers.
func (s *Store) AttemptTotals(ctx context.Context, learnerID uuid.UUID) (total, correct int, err error) {
	var row struct {
		Total   int64
		Correct int64
	}
	err = s.db.WithContext(ctx).
		Model(&models.Attempt{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN correct THEN 1 ELSE 0 END), 0) AS correct").
		Where("learner_id = ?", learnerID).
		Scan(&row).Error
	if err != nil {
		return 0, 0, storeErr("attempt totals", err)
	}
	return int(row.Total), int(row.Correct), nil
}

// AttemptFact is one attempt joined with its question's subject, newest
// first, as needed by the progress aggregates.
type AttemptFact struct {
	Correct bool
	Subject string
}

// AttemptHistory returns the learner's attempts newest-first with each
// attempt's subject. The streak is the run of correct values at the head.
func (s *Store) AttemptHistory(ctx context.Context, learnerID uuid.UUID) ([]AttemptFact, error) {
	var out []AttemptFact
	err := s.db.WithContext(ctx).
		Table("attempt").
		Select("attempt.correct AS correct, question.subject AS subject").
		Joins("JOIN question ON question.id = attempt.question_id").
		Where("attempt.learner_id = ?", learnerID).
		Order("attempt.created_at DESC, attempt.id DESC").
		Scan(&out).Error
	if err != nil {
		return nil, storeErr("attempt history", err)
	}
	return out, nil
}
