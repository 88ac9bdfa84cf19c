// Package coordinator schedules background question generation. Each
// curricular scope maps to at most one in-flight job; repeat submissions
// coalesce into that job instead of spawning duplicates. A fixed pool of
// workers drains a bounded queue, retries transient failures with jittered
// exponential backoff and hands surviving candidates to the inventory store.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/generator"
	"github.com/quizforge/quizforge/internal/metrics"
	"github.com/quizforge/quizforge/internal/normalize"
	"github.com/quizforge/quizforge/internal/store"
	"github.com/quizforge/quizforge/pkg/models"
)

var (
	// ErrQueueFull reports that a submission was dropped because the job
	// queue stayed full past the configured block window.
	ErrQueueFull = errors.New("generation queue full")

	// ErrStopped reports that the coordinator has been shut down.
	ErrStopped = errors.New("coordinator stopped")
)

// Key identifies one generation scope. Fields are held in normalized form
// so display variants of the same scope share a single job.
type Key struct {
	Subject    string
	Grade      int
	Topic      string
	Subtopic   string
	Difficulty models.Difficulty
}

// NewKey folds the scope fields so lookups are case and whitespace
// insensitive.
func NewKey(subject string, grade int, topic, subtopic string, difficulty models.Difficulty) Key {
	return Key{
		Subject:    normalize.Normalize(subject),
		Grade:      grade,
		Topic:      normalize.Normalize(topic),
		Subtopic:   normalize.Normalize(subtopic),
		Difficulty: models.Difficulty(normalize.Normalize(string(difficulty))),
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%s/%s/%s", k.Subject, k.Grade, k.Topic, k.Subtopic, k.Difficulty)
}

// Job states.
const (
	StatePending = "pending"
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
)

// Result is the terminal outcome of a generation job.
type Result struct {
	State    string
	Admitted int
	Skipped  int
	Attempts int
	Err      error
}

type job struct {
	key            Key
	requestedCount int

	// Mutable fields are guarded by the coordinator mutex until done is
	// closed, after which they are read-only.
	state    string
	attempts int
	admitted int
	skipped  int
	err      error

	done chan struct{} // closed when the job reaches a terminal state
}

// Inventory is the slice of the store the coordinator needs.
type Inventory interface {
	AdmitQuestions(ctx context.Context, batch []models.Question) (*store.AdmitReport, error)
	ListStems(ctx context.Context, sc store.Scope, limit int) ([]string, error)
}

// Coordinator runs the generation pipeline behind a single-flight job table.
type Coordinator struct {
	cfg     config.GenerationConfig
	gen     generator.Generator
	inv     Inventory
	metrics *metrics.Collector
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	jobs    map[Key]*job // non-terminal jobs only
	timers  map[Key]*time.Timer
	active  int
	stopped bool

	queue chan *job
}

// New starts a coordinator with cfg.Workers workers draining a queue of
// cfg.QueueCapacity jobs. Call Shutdown to stop it.
func New(cfg config.GenerationConfig, gen generator.Generator, inv Inventory, collector *metrics.Collector, logger *slog.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:     cfg,
		gen:     gen,
		inv:     inv,
		metrics: collector,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[Key]*job),
		timers:  make(map[Key]*time.Timer),
		queue:   make(chan *job, cfg.QueueCapacity),
	}

	c.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go c.worker(i)
	}

	logger.Info("Generation coordinator started",
		"workers", cfg.Workers,
		"queue_capacity", cfg.QueueCapacity,
		"max_attempts", cfg.MaxAttempts)
	return c
}

// Submit requests background replenishment of count questions for key. It
// never blocks longer than the configured submit window. Submissions for a
// key that already has a non-terminal job coalesce into it, raising its
// requested count to the larger value. The return value reports whether the
// request is in flight.
func (c *Coordinator) Submit(key Key, count int) bool {
	j, created := c.ensureJob(key, count)
	if j == nil {
		return false
	}
	if !created {
		return true
	}
	return c.enqueue(j)
}

// Replenish submits a job for key, or joins the in-flight one, and blocks
// until it reaches a terminal state or ctx expires.
func (c *Coordinator) Replenish(ctx context.Context, key Key, count int) (Result, error) {
	j, created := c.ensureJob(key, count)
	if j == nil {
		return Result{}, ErrStopped
	}
	if created {
		// On a drop the job is already terminal and done is closed.
		c.enqueue(j)
	}

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-j.done:
		return snapshotJob(j), nil
	}
}

// InFlight reports the number of non-terminal jobs.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

// Shutdown cancels in-flight generation, fails every non-terminal job so
// waiters unblock, and waits for the workers to exit or ctx to expire.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	for key, t := range c.timers {
		t.Stop()
		delete(c.timers, key)
	}
	open := make([]*job, 0, len(c.jobs))
	for _, j := range c.jobs {
		open = append(open, j)
	}
	c.mu.Unlock()

	c.cancel()
	for _, j := range open {
		if c.finalize(j, StateFailed, 0, 0, ErrStopped) {
			c.metrics.RecordJobTerminal(StateFailed)
		}
	}

	finished := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		c.logger.Info("Generation coordinator stopped", "abandoned_jobs", len(open))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ensureJob returns the non-terminal job for key, creating one when absent.
// The second return reports whether the job is new and needs enqueueing.
// A nil job means the coordinator is stopped.
func (c *Coordinator) ensureJob(key Key, count int) (*job, bool) {
	if count < 1 {
		count = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil, false
	}
	if j, ok := c.jobs[key]; ok {
		if count > j.requestedCount {
			j.requestedCount = count
		}
		return j, false
	}

	j := &job{
		key:            key,
		requestedCount: count,
		state:          StatePending,
		done:           make(chan struct{}),
	}
	c.jobs[key] = j
	return j, true
}

// enqueue places j on the queue, blocking up to the configured submit window
// when it is full. A job that cannot be queued in time is dropped.
func (c *Coordinator) enqueue(j *job) bool {
	select {
	case c.queue <- j:
		c.metrics.SetQueueDepth(len(c.queue))
		return true
	default:
	}

	block := time.Duration(c.cfg.SubmitBlockMS) * time.Millisecond
	select {
	case c.queue <- j:
		c.metrics.SetQueueDepth(len(c.queue))
		return true
	case <-time.After(block):
	case <-c.ctx.Done():
	}

	if c.finalize(j, StateFailed, 0, 0, ErrQueueFull) {
		c.metrics.RecordJobTerminal("dropped")
		c.logger.Warn("Generation queue full, dropping request",
			"key", j.key.String(),
			"queue_capacity", cap(c.queue))
	}
	return false
}

// finalize moves j to a terminal state exactly once, removes it from the job
// table and wakes waiters. It reports false when j was already terminal.
func (c *Coordinator) finalize(j *job, state string, admitted, skipped int, err error) bool {
	c.mu.Lock()
	if j.state == StateDone || j.state == StateFailed {
		c.mu.Unlock()
		return false
	}
	j.state = state
	j.admitted = admitted
	j.skipped = skipped
	j.err = err
	if cur, ok := c.jobs[j.key]; ok && cur == j {
		delete(c.jobs, j.key)
	}
	c.mu.Unlock()

	close(j.done)
	return true
}

// snapshotJob must only be called after j.done is closed.
func snapshotJob(j *job) Result {
	return Result{
		State:    j.state,
		Admitted: j.admitted,
		Skipped:  j.skipped,
		Attempts: j.attempts,
		Err:      j.err,
	}
}
