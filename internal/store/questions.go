package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quizforge/quizforge/internal/normalize"
	"github.com/quizforge/quizforge/pkg/models"
)

// excludeChunk bounds the parameter count per NOT IN clause; large seen
// sets are split across ANDed clauses in a single query.
const excludeChunk = 500

// ListQuestions returns questions in the scope, honoring the caller's
// difficulty preference order: all questions of the first difficulty
// precede the second, and so on. Within one difficulty, rows come back in
// admission order, which makes results deterministic for a given store
// state. Fingerprints in exclude are filtered out. limit <= 0 means no
// limit.
func (s *Store) ListQuestions(ctx context.Context, sc Scope, difficulties []models.Difficulty, exclude []string, limit int) ([]models.Question, error) {
	sc = sc.normalized()

	if len(difficulties) == 0 {
		var out []models.Question
		q := s.questionQuery(ctx, sc, exclude).Order("created_at ASC, id ASC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		if err := q.Find(&out).Error; err != nil {
			return nil, storeErr("list questions", err)
		}
		return out, nil
	}

	var out []models.Question
	for _, d := range difficulties {
		remaining := 0
		if limit > 0 {
			remaining = limit - len(out)
			if remaining <= 0 {
				break
			}
		}

		var tier []models.Question
		q := s.questionQuery(ctx, sc, exclude).
			Where("difficulty = ?", d).
			Order("created_at ASC, id ASC")
		if remaining > 0 {
			q = q.Limit(remaining)
		}
		if err := q.Find(&tier).Error; err != nil {
			return nil, storeErr("list questions", err)
		}
		out = append(out, tier...)
	}
	return out, nil
}

func (s *Store) questionQuery(ctx context.Context, sc Scope, exclude []string) *gorm.DB {
	q := applyScope(s.db.WithContext(ctx).Model(&models.Question{}), sc)
	for start := 0; start < len(exclude); start += excludeChunk {
		end := min(start+excludeChunk, len(exclude))
		q = q.Where("fingerprint NOT IN ?", exclude[start:end])
	}
	return q
}

// CountQuestions returns the stock in the scope.
func (s *Store) CountQuestions(ctx context.Context, sc Scope) (int, error) {
	var n int64
	q := applyScope(s.db.WithContext(ctx).Model(&models.Question{}), sc.normalized())
	if err := q.Count(&n).Error; err != nil {
		return 0, storeErr("count questions", err)
	}
	return int(n), nil
}

// GetQuestion loads one question by ID.
func (s *Store) GetQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	var q models.Question
	if err := s.db.WithContext(ctx).First(&q, "id = ?", id).Error; err != nil {
		return nil, storeErr("get question", err)
	}
	return &q, nil
}

// AdmitOutcome reports one item of an admission batch.
type AdmitOutcome struct {
	Fingerprint string
	Accepted    bool
}

// AdmitReport summarizes an admission batch. Skipped items collided with
// an already-admitted fingerprint, in the store or earlier in the batch.
type AdmitReport struct {
	Accepted int
	Skipped  int
	Outcomes []AdmitOutcome
}

// AdmitQuestions inserts the batch in one transaction, skipping
// fingerprint collisions instead of failing. Either the whole batch
// becomes visible or none of it. Missing IDs and timestamps are filled
// in; metadata is stored in canonical form.
func (s *Store) AdmitQuestions(ctx context.Context, batch []models.Question) (*AdmitReport, error) {
	report := &AdmitReport{Outcomes: make([]AdmitOutcome, 0, len(batch))}
	if len(batch) == 0 {
		return report, nil
	}

	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range batch {
			q := batch[i]
			if q.ID == uuid.Nil {
				q.ID = uuid.New()
			}
			if q.CreatedAt.IsZero() {
				q.CreatedAt = now
			}
			q.Subject = normalize.Normalize(q.Subject)
			q.Topic = normalize.Normalize(q.Topic)
			q.Subtopic = normalize.Normalize(q.Subtopic)

			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "fingerprint"}},
				DoNothing: true,
			}).Create(&q)
			if res.Error != nil {
				return res.Error
			}

			accepted := res.RowsAffected > 0
			if accepted {
				report.Accepted++
			} else {
				report.Skipped++
			}
			report.Outcomes = append(report.Outcomes, AdmitOutcome{
				Fingerprint: q.Fingerprint,
				Accepted:    accepted,
			})
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("admit questions", err)
	}

	s.log.Debug("Admitted question batch",
		"accepted", report.Accepted,
		"skipped", report.Skipped)
	return report, nil
}

// QuestionsByFingerprints loads admitted questions matching the given
// fingerprints. Missing fingerprints are simply absent from the result.
func (s *Store) QuestionsByFingerprints(ctx context.Context, fingerprints []string) ([]models.Question, error) {
	var out []models.Question
	if len(fingerprints) == 0 {
		return out, nil
	}
	if err := s.db.WithContext(ctx).
		Where("fingerprint IN ?", fingerprints).
		Find(&out).Error; err != nil {
		return nil, storeErr("questions by fingerprints", err)
	}
	return out, nil
}

// QuestionPage returns one page of the scope's questions in admission
// order, for streaming exports.
func (s *Store) QuestionPage(ctx context.Context, sc Scope, offset, limit int) ([]models.Question, error) {
	var out []models.Question
	q := s.questionQuery(ctx, sc.normalized(), nil).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit)
	if err := q.Find(&out).Error; err != nil {
		return nil, storeErr("question page", err)
	}
	return out, nil
}

// QuestionSubjects maps question IDs to their subjects. Unknown IDs are
// simply absent from the result.
func (s *Store) QuestionSubjects(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []struct {
		ID      uuid.UUID
		Subject string
	}
	if err := s.db.WithContext(ctx).
		Model(&models.Question{}).
		Select("id, subject").
		Where("id IN ?", ids).
		Find(&rows).Error; err != nil {
		return nil, storeErr("question subjects", err)
	}
	for _, r := range rows {
		out[r.ID] = r.Subject
	}
	return out, nil
}

// ListStems returns up to limit stems in the scope, newest first. The
// coordinator feeds these to the generator as an avoid list.
func (s *Store) ListStems(ctx context.Context, sc Scope, limit int) ([]string, error) {
	var stems []string
	q := applyScope(s.db.WithContext(ctx).Model(&models.Question{}), sc.normalized()).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("stem", &stems).Error; err != nil {
		return nil, storeErr("list stems", err)
	}
	return stems, nil
}
