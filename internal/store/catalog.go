package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quizforge/quizforge/internal/normalize"
	"github.com/quizforge/quizforge/pkg/models"
)

// ListSubtopics returns catalog entries for (subject, grade), optionally
// narrowed to one topic, in curriculum order.
func (s *Store) ListSubtopics(ctx context.Context, subject string, grade int, topic string) ([]models.SubtopicEntry, error) {
	q := s.db.WithContext(ctx).
		Where("subject = ? AND grade = ?", normalize.Normalize(subject), grade).
		Order("sequence_order ASC, subtopic ASC")
	if topic != "" {
		q = q.Where("topic = ?", normalize.Normalize(topic))
	}

	var out []models.SubtopicEntry
	if err := q.Find(&out).Error; err != nil {
		return nil, storeErr("list subtopics", err)
	}
	return out, nil
}

// ListTopics returns the distinct topics for (subject, grade) ordered by
// their earliest catalog position.
func (s *Store) ListTopics(ctx context.Context, subject string, grade int) ([]string, error) {
	var topics []string
	err := s.db.WithContext(ctx).
		Model(&models.SubtopicEntry{}).
		Where("subject = ? AND grade = ?", normalize.Normalize(subject), grade).
		Group("topic").
		Order("MIN(sequence_order) ASC, topic ASC").
		Pluck("topic", &topics).Error
	if err != nil {
		return nil, storeErr("list topics", err)
	}
	return topics, nil
}

// FirstTopic returns the curriculum default topic for (subject, grade), or
// "" when the catalog has nothing for that scope.
func (s *Store) FirstTopic(ctx context.Context, subject string, grade int) (string, error) {
	topics, err := s.ListTopics(ctx, subject, grade)
	if err != nil {
		return "", err
	}
	if len(topics) == 0 {
		return "", nil
	}
	return topics[0], nil
}

// SeedCatalog upserts catalog entries, keyed by (subject, grade, topic,
// subtopic). Re-seeding the same curriculum updates ordering and
// descriptions in place. Returns the number of rows written.
func (s *Store) SeedCatalog(ctx context.Context, entries []models.SubtopicEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	rows := make([]models.SubtopicEntry, len(entries))
	for i, e := range entries {
		e.Subject = normalize.Normalize(e.Subject)
		e.Topic = normalize.Normalize(e.Topic)
		e.Subtopic = normalize.Normalize(e.Subtopic)
		rows[i] = e
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "subject"}, {Name: "grade"}, {Name: "topic"}, {Name: "subtopic"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"sequence_order", "description"}),
		}).Create(&rows).Error
	})
	if err != nil {
		return 0, storeErr("seed catalog", err)
	}

	s.log.Debug("Seeded subtopic catalog", "entries", len(rows))
	return len(rows), nil
}
