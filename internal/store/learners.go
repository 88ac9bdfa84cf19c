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

// GetLearner loads one learner by ID.
func (s *Store) GetLearner(ctx context.Context, id uuid.UUID) (*models.Learner, error) {
	var l models.Learner
	if err := s.db.WithContext(ctx).First(&l, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("get learner %s: %w", id, models.ErrUnknownLearner)
		}
		return nil, storeErr("get learner", err)
	}
	return &l, nil
}

// EnsureLearner creates the learner if absent and updates the grade if it
// changed (learners advance a grade once a year).
func (s *Store) EnsureLearner(ctx context.Context, id uuid.UUID, grade int) (*models.Learner, error) {
	l := models.Learner{ID: id, Grade: grade, CreatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"grade"}),
	}).Create(&l).Error
	if err != nil {
		return nil, storeErr("ensure learner", err)
	}
	return &l, nil
}

// GetLearnerSeen returns every fingerprint the learner has answered
// correctly at least once.
func (s *Store) GetLearnerSeen(ctx context.Context, learnerID uuid.UUID) ([]string, error) {
	var fingerprints []string
	err := s.db.WithContext(ctx).
		Model(&models.SeenRecord{}).
		Where("learner_id = ?", learnerID).
		Pluck("fingerprint", &fingerprints).Error
	if err != nil {
		return nil, storeErr("get learner seen", err)
	}
	return fingerprints, nil
}

// CountLearnerSeenInScope counts the learner's seen fingerprints that
// belong to questions inside the scope. The subtopic selector subtracts
// this from the stock to rank subtopics by fresh material.
func (s *Store) CountLearnerSeenInScope(ctx context.Context, learnerID uuid.UUID, sc Scope) (int, error) {
	sc = sc.normalized()

	var n int64
	q := s.db.WithContext(ctx).
		Table("seen_record").
		Joins("JOIN question ON question.fingerprint = seen_record.fingerprint").
		Where("seen_record.learner_id = ?", learnerID)
	if sc.Subject != "" {
		q = q.Where("question.subject = ?", sc.Subject)
	}
	if sc.Grade != nil {
		q = q.Where("question.grade = ?", *sc.Grade)
	}
	if sc.Topic != "" {
		q = q.Where("question.topic = ?", sc.Topic)
	}
	if sc.Subtopic != "" {
		q = q.Where("question.subtopic = ?", sc.Subtopic)
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, storeErr("count learner seen in scope", err)
	}
	return int(n), nil
}
