package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gorm.io/datatypes"

	"github.com/quizforge/quizforge/internal/fingerprint"
	"github.com/quizforge/quizforge/internal/generator"
	"github.com/quizforge/quizforge/internal/normalize"
	"github.com/quizforge/quizforge/internal/store"
	"github.com/quizforge/quizforge/internal/validate"
	"github.com/quizforge/quizforge/pkg/models"
)

// avoidStemLimit caps how many existing stems are fed back into the prompt.
const avoidStemLimit = 50

func (c *Coordinator) worker(id int) {
	defer c.wg.Done()
	workerLogger := c.logger.With("worker_id", id)

	for {
		select {
		case <-c.ctx.Done():
			return
		case j := <-c.queue:
			c.metrics.SetQueueDepth(len(c.queue))
			c.runJob(workerLogger, j)
		}
	}
}

// runJob drives one generation attempt for j: call the generator, screen the
// raw candidates and admit the survivors. Failures are classified for retry
// by handleFailure.
func (c *Coordinator) runJob(logger *slog.Logger, j *job) {
	c.mu.Lock()
	if c.stopped || j.state != StatePending {
		c.mu.Unlock()
		return
	}
	j.state = StateRunning
	j.attempts++
	attempt := j.attempts
	count := j.requestedCount
	if c.cfg.PerCallCount > 0 && count > c.cfg.PerCallCount {
		count = c.cfg.PerCallCount
	}
	c.active++
	c.metrics.SetActiveWorkers(c.active)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.active--
		c.metrics.SetActiveWorkers(c.active)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(c.ctx, time.Duration(c.cfg.DeadlineMS)*time.Millisecond)
	defer cancel()

	logger.Debug("Starting generation attempt",
		"key", j.key.String(),
		"attempt", attempt,
		"count", count)

	req := generator.Request{
		Subject:    j.key.Subject,
		Grade:      j.key.Grade,
		Topic:      j.key.Topic,
		Subtopic:   j.key.Subtopic,
		Difficulty: j.key.Difficulty,
		Count:      count,
		Avoid:      c.avoidList(ctx, j.key),
	}

	start := time.Now()
	candidates, err := c.gen.Generate(ctx, req)
	c.metrics.RecordGeneratorCall(time.Since(start), err == nil)
	if err != nil {
		c.handleFailure(logger, j, err)
		return
	}

	batch, dropped, dupes := c.screen(candidates)
	if len(batch) == 0 {
		c.handleFailure(logger, j, fmt.Errorf("no admissible candidates in batch of %d", len(candidates)))
		return
	}

	report, err := c.inv.AdmitQuestions(ctx, batch)
	if err != nil {
		c.handleFailure(logger, j, err)
		return
	}

	c.metrics.RecordAdmission(report.Accepted, report.Skipped+dupes)
	if c.finalize(j, StateDone, report.Accepted, report.Skipped+dupes, nil) {
		c.metrics.RecordJobTerminal(StateDone)
		logger.Info("Generation job complete",
			"key", j.key.String(),
			"requested", count,
			"generated", len(candidates),
			"dropped", dropped,
			"admitted", report.Accepted,
			"duplicates", report.Skipped+dupes,
			"attempt", attempt,
			"duration", time.Since(start))
	}
}

// screen normalizes, validates, fingerprints and batch-deduplicates raw
// candidates. It returns the admissible questions plus the counts of
// candidates dropped by validation and skipped as in-batch duplicates.
func (c *Coordinator) screen(candidates []models.Candidate) ([]models.Question, int, int) {
	batch := make([]models.Question, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	dropped, dupes := 0, 0

	for _, raw := range candidates {
		cand := normalize.Candidate(raw)
		if err := validate.Candidate(cand); err != nil {
			c.metrics.RecordValidationDrop(string(validate.RuleOf(err)))
			c.logger.Debug("Dropping invalid candidate", "error", err)
			dropped++
			continue
		}

		fp := fingerprint.Compute(cand.Stem, cand.Options, cand.CorrectAnswer)
		if _, dup := seen[fp]; dup {
			dupes++
			continue
		}
		seen[fp] = struct{}{}

		batch = append(batch, models.Question{
			Subject:       cand.Subject,
			Grade:         cand.Grade,
			Topic:         cand.Topic,
			Subtopic:      cand.Subtopic,
			Difficulty:    cand.Difficulty,
			Stem:          cand.Stem,
			Options:       datatypes.JSONSlice[string](cand.Options),
			CorrectAnswer: cand.CorrectAnswer,
			Rationale:     cand.Rationale,
			StandardRef:   cand.StandardRef,
			Fingerprint:   fp,
		})
	}
	return batch, dropped, dupes
}

// avoidList pulls recent stems in scope so the prompt can steer the model
// away from rephrasing stock it already has. A lookup failure degrades the
// prompt, it does not fail the job.
func (c *Coordinator) avoidList(ctx context.Context, key Key) []string {
	grade := key.Grade
	sc := store.Scope{Subject: key.Subject, Grade: &grade, Topic: key.Topic, Subtopic: key.Subtopic}
	stems, err := c.inv.ListStems(ctx, sc, avoidStemLimit)
	if err != nil {
		c.logger.Warn("Could not load avoid list", "key", key.String(), "error", err)
		return nil
	}
	return stems
}

// handleFailure classifies err and either schedules a retry or fails the job.
func (c *Coordinator) handleFailure(logger *slog.Logger, j *job, err error) {
	c.mu.Lock()
	attempt := j.attempts
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return
	}

	transient := generator.IsTransient(err)
	if !transient || attempt >= c.cfg.MaxAttempts {
		if c.finalize(j, StateFailed, 0, 0, err) {
			c.metrics.RecordJobTerminal(StateFailed)
			logger.Error("Generation job failed",
				"key", j.key.String(),
				"attempts", attempt,
				"transient", transient,
				"error", err)
		}
		return
	}

	delay := c.retryDelay(attempt)
	c.metrics.RecordJobRetry()
	logger.Warn("Generation attempt failed, retrying",
		"key", j.key.String(),
		"attempt", attempt,
		"max_attempts", c.cfg.MaxAttempts,
		"backoff", delay,
		"error", err)
	c.scheduleRetry(j, delay)
}

// scheduleRetry returns j to pending and requeues it after delay. The timer
// is tracked so Shutdown can cancel it.
func (c *Coordinator) scheduleRetry(j *job, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	j.state = StatePending
	c.timers[j.key] = time.AfterFunc(delay, func() {
		c.mu.Lock()
		delete(c.timers, j.key)
		stopped := c.stopped
		c.mu.Unlock()
		if stopped {
			return
		}

		select {
		case c.queue <- j:
			c.metrics.SetQueueDepth(len(c.queue))
		case <-c.ctx.Done():
		}
	})
}

// retryDelay computes jittered exponential backoff for the given attempt
// number (1-based).
func (c *Coordinator) retryDelay(attempt int) time.Duration {
	base := time.Duration(c.cfg.BackoffBaseMS) * time.Millisecond
	backoff := time.Duration(math.Pow(2, float64(attempt-1))) * base
	jitter := time.Duration(float64(backoff) * c.cfg.BackoffJitter * (2*float64(time.Now().UnixNano()%100)/100 - 1))
	return backoff + jitter
}
