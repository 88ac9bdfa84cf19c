package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quizforge/quizforge/internal/coordinator"
	"github.com/quizforge/quizforge/internal/normalize"
	"github.com/quizforge/quizforge/internal/store"
	"github.com/quizforge/quizforge/internal/validate"
	"github.com/quizforge/quizforge/pkg/models"
)

// FetchRequest asks for a batch of unseen questions. Topic and Subtopic
// are optional; Limit 0 means the configured default.
type FetchRequest struct {
	LearnerID uuid.UUID
	Subject   string
	Topic     string
	Subtopic  string
	Limit     int
}

// FetchBatch resolves the request scope, picks unseen questions in the
// learner's difficulty preference order and reports the stock deficit it
// observed. A deficit submits a generation job; the fetch returns without
// waiting on it unless the synchronous wait window is configured and the
// scope is completely out of stock.
func (e *Engine) FetchBatch(ctx context.Context, req FetchRequest) (*models.FetchResult, error) {
	subject := normalize.Normalize(req.Subject)
	if subject == "" {
		return nil, validate.Input(validate.RuleMissingMetadata, "subject is required")
	}

	learner, err := e.store.GetLearner(ctx, req.LearnerID)
	if err != nil {
		return nil, err
	}
	grade := learner.Grade

	limit := req.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultBatchSize
	}
	limit = min(limit, e.cfg.MaxBatchSize)

	topic := normalize.Normalize(req.Topic)
	if topic == "" {
		topic, err = e.store.FirstTopic(ctx, subject, grade)
		if err != nil {
			return nil, err
		}
		if topic == "" {
			return nil, fmt.Errorf("no topics cataloged for %s grade %d: %w", subject, grade, models.ErrNotFound)
		}
	}

	subtopic := normalize.Normalize(req.Subtopic)
	if subtopic == "" {
		subtopic, err = e.selectSubtopic(ctx, req.LearnerID, subject, grade, topic)
		if err != nil {
			return nil, err
		}
		if subtopic == "" {
			return nil, fmt.Errorf("no subtopics cataloged for %s grade %d topic %s: %w", subject, grade, topic, models.ErrNotFound)
		}
	}

	session, err := e.ensureSessionAt(ctx, req.LearnerID, SessionContext{
		Subject:  subject,
		Topic:    topic,
		Subtopic: subtopic,
	}, e.clock())
	if err != nil {
		return nil, err
	}

	total, correct, err := e.store.AttemptTotals(ctx, req.LearnerID)
	if err != nil {
		return nil, err
	}
	prefs := DifficultyPreference(total, correct)

	sc := store.Scope{Subject: subject, Grade: &grade, Topic: topic, Subtopic: subtopic}
	batch, err := e.pickBatch(ctx, sc, prefs, req.LearnerID, limit)
	if err != nil {
		return nil, err
	}

	stock, err := e.store.CountQuestions(ctx, sc)
	if err != nil {
		return nil, err
	}
	deficit := max(0, e.cfg.MinStock-stock)
	if deficit > 0 {
		e.coord.Submit(coordinator.NewKey(subject, grade, topic, subtopic, prefs[0]), deficit)
	}

	if len(batch) == 0 && stock == 0 && e.cfg.SyncWaitMS > 0 {
		batch, err = e.awaitRestock(ctx, sc, prefs, req.LearnerID, limit, deficit)
		if err != nil {
			return nil, err
		}
	}

	e.metrics.RecordFetch(subject)
	e.logger.Info("Serving question batch",
		"learner_id", req.LearnerID,
		"subject", subject,
		"topic", topic,
		"subtopic", subtopic,
		"count", len(batch),
		"deficit", deficit)

	return &models.FetchResult{
		Questions: batch,
		Subject:   normalize.Display(subject),
		Topic:     normalize.Display(topic),
		Subtopic:  normalize.Display(subtopic),
		SessionID: session.ID,
		Deficit:   deficit,
	}, nil
}

// pickBatch fills up to limit unseen questions tier by tier in preference
// order, then shuffles within each tier so earlier-preferred difficulties
// still lead the batch.
func (e *Engine) pickBatch(ctx context.Context, sc store.Scope, prefs []models.Difficulty, learnerID uuid.UUID, limit int) ([]models.Question, error) {
	seen, err := e.store.GetLearnerSeen(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	batch, err := e.store.ListQuestions(ctx, sc, prefs, seen, limit)
	if err != nil {
		return nil, err
	}

	for start := 0; start < len(batch); {
		end := start + 1
		for end < len(batch) && batch[end].Difficulty == batch[start].Difficulty {
			end++
		}
		e.shuffle(batch[start:end])
		start = end
	}
	return batch, nil
}

// awaitRestock blocks up to the configured sync window for the generation
// job to land stock, then re-picks. Timing out returns an empty batch; the
// caller retries later.
func (e *Engine) awaitRestock(ctx context.Context, sc store.Scope, prefs []models.Difficulty, learnerID uuid.UUID, limit, deficit int) ([]models.Question, error) {
	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.SyncWaitMS)*time.Millisecond)
	defer cancel()

	key := coordinator.NewKey(sc.Subject, *sc.Grade, sc.Topic, sc.Subtopic, prefs[0])
	if _, err := e.coord.Replenish(waitCtx, key, deficit); err != nil {
		e.logger.Warn("Synchronous restock wait expired", "key", key.String(), "error", err)
		return nil, nil
	}
	return e.pickBatch(ctx, sc, prefs, learnerID, limit)
}
