package engine

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/quizforge/quizforge/internal/normalize"
	"github.com/quizforge/quizforge/internal/store"
	"github.com/quizforge/quizforge/pkg/models"
)

// selectSubtopic picks the subtopic with the most material the learner has
// not yet seen, breaking ties by curriculum sequence and then by name. It
// returns "" when nothing is cataloged for the scope.
func (e *Engine) selectSubtopic(ctx context.Context, learnerID uuid.UUID, subject string, grade int, topic string) (string, error) {
	entries, err := e.store.ListSubtopics(ctx, subject, grade, topic)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}

	type ranked struct {
		entry  models.SubtopicEntry
		unseen int
	}
	rankings := make([]ranked, 0, len(entries))
	for _, entry := range entries {
		sc := store.Scope{Subject: subject, Grade: &grade, Topic: topic, Subtopic: entry.Subtopic}
		stock, err := e.store.CountQuestions(ctx, sc)
		if err != nil {
			return "", err
		}
		seen, err := e.store.CountLearnerSeenInScope(ctx, learnerID, sc)
		if err != nil {
			return "", err
		}
		rankings = append(rankings, ranked{entry: entry, unseen: stock - seen})
	}

	sort.Slice(rankings, func(i, j int) bool {
		if rankings[i].unseen != rankings[j].unseen {
			return rankings[i].unseen > rankings[j].unseen
		}
		if rankings[i].entry.SequenceOrder != rankings[j].entry.SequenceOrder {
			return rankings[i].entry.SequenceOrder < rankings[j].entry.SequenceOrder
		}
		return rankings[i].entry.Subtopic < rankings[j].entry.Subtopic
	})
	return rankings[0].entry.Subtopic, nil
}

// BrowseSubtopics lists the catalog for a scope with display-cased names.
// Topic may be empty to list across all topics of the subject and grade.
func (e *Engine) BrowseSubtopics(ctx context.Context, subject string, grade int, topic string) ([]models.SubtopicEntry, error) {
	entries, err := e.store.ListSubtopics(ctx, normalize.Normalize(subject), grade, normalize.Normalize(topic))
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Subject = normalize.Display(entries[i].Subject)
		entries[i].Topic = normalize.Display(entries[i].Topic)
		entries[i].Subtopic = normalize.Display(entries[i].Subtopic)
	}
	return entries, nil
}

// BrowseTopics lists the cataloged topics for (subject, grade) in
// curriculum order, display-cased.
func (e *Engine) BrowseTopics(ctx context.Context, subject string, grade int) ([]string, error) {
	topics, err := e.store.ListTopics(ctx, normalize.Normalize(subject), grade)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(topics))
	for i, t := range topics {
		out[i] = normalize.Display(t)
	}
	return out, nil
}
