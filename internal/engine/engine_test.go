package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"
	"gorm.io/datatypes"

	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/coordinator"
	"github.com/quizforge/quizforge/internal/fingerprint"
	"github.com/quizforge/quizforge/internal/generator"
	"github.com/quizforge/quizforge/internal/metrics"
	"github.com/quizforge/quizforge/internal/store"
	"github.com/quizforge/quizforge/internal/validate"
	"github.com/quizforge/quizforge/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		MinStock:         10,
		SyncWaitMS:       0,
		DefaultBatchSize: 5,
		MaxBatchSize:     20,
	}
}

func testGenerationConfig() config.GenerationConfig {
	return config.GenerationConfig{
		Workers:       2,
		MaxAttempts:   3,
		BackoffBaseMS: 1,
		BackoffJitter: 0.2,
		DeadlineMS:    5000,
		QueueCapacity: 8,
		SubmitBlockMS: 20,
		PerCallCount:  10,
	}
}

func testEngineWith(t *testing.T, cfg config.EngineConfig, gen generator.Generator) *Engine {
	t.Helper()
	logger := testLogger()

	st, err := store.Open(config.StoreConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "engine_test.db"),
	}, logger)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})

	collector := metrics.NewCollector(logger)
	coord := coordinator.New(testGenerationConfig(), gen, st, collector, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := coord.Shutdown(ctx); err != nil {
			t.Errorf("Coordinator shutdown failed: %v", err)
		}
	})

	e := New(cfg, st, coord, collector, logger)
	e.rng = rand.New(rand.NewSource(7))
	return e
}

func testEngine(t *testing.T, gen generator.Generator) *Engine {
	t.Helper()
	return testEngineWith(t, testEngineConfig(), gen)
}

// noGen fails immediately so tests can hold the stock constant.
type noGen struct{}

func (noGen) Generate(ctx context.Context, req generator.Request) ([]models.Candidate, error) {
	return nil, &generator.Error{Transient: false, Err: errors.New("generation disabled")}
}

// gatedGen signals each call on started, then blocks until release is closed.
type gatedGen struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
	inner   *generator.Mock
}

func newGatedGen() *gatedGen {
	return &gatedGen{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
		inner:   generator.NewMock(),
	}
}

func (g *gatedGen) Generate(ctx context.Context, req generator.Request) ([]models.Candidate, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	g.started <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.inner.Generate(ctx, req)
}

func (g *gatedGen) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *gatedGen) awaitCall(t *testing.T) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for a generator call to start")
	}
}

// fakeClock lets session and attempt tests pin timestamps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func seedLearner(t *testing.T, e *Engine, grade int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := e.store.EnsureLearner(context.Background(), id, grade); err != nil {
		t.Fatalf("EnsureLearner failed: %v", err)
	}
	return id
}

func catalogEntry(subject string, grade int, topic, subtopic string, seq int) models.SubtopicEntry {
	return models.SubtopicEntry{
		Subject:       subject,
		Grade:         grade,
		Topic:         topic,
		Subtopic:      subtopic,
		SequenceOrder: seq,
	}
}

func seedCatalog(t *testing.T, e *Engine, entries ...models.SubtopicEntry) {
	t.Helper()
	if _, err := e.store.SeedCatalog(context.Background(), entries); err != nil {
		t.Fatalf("SeedCatalog failed: %v", err)
	}
}

// seedQuestions admits n distinct valid questions into the scope. Metadata
// is passed pre-normalized, the way the admission pipeline would store it.
func seedQuestions(t *testing.T, e *Engine, subject string, grade int, topic, subtopic string, difficulty models.Difficulty, n int) {
	t.Helper()
	batch := make([]models.Question, 0, n)
	for i := 0; i < n; i++ {
		stem := fmt.Sprintf("%s %s %s question %d", subject, subtopic, difficulty, i)
		options := []string{"alpha " + stem, "beta", "gamma", "delta"}
		batch = append(batch, models.Question{
			Subject:       subject,
			Grade:         grade,
			Topic:         topic,
			Subtopic:      subtopic,
			Difficulty:    difficulty,
			Stem:          stem,
			Options:       datatypes.JSONSlice[string](options),
			CorrectAnswer: "beta",
			Fingerprint:   fingerprint.Compute(stem, options, "beta"),
		})
	}
	report, err := e.store.AdmitQuestions(context.Background(), batch)
	if err != nil {
		t.Fatalf("AdmitQuestions failed: %v", err)
	}
	if report.Accepted != n {
		t.Fatalf("Expected %d seeded questions, got %d", n, report.Accepted)
	}
}

// admitOne stores a single question and returns it with its assigned ID.
func admitOne(t *testing.T, e *Engine, q models.Question) models.Question {
	t.Helper()
	if q.Fingerprint == "" {
		q.Fingerprint = fingerprint.Compute(q.Stem, q.Options, q.CorrectAnswer)
	}
	report, err := e.store.AdmitQuestions(context.Background(), []models.Question{q})
	if err != nil {
		t.Fatalf("AdmitQuestions failed: %v", err)
	}
	if report.Accepted != 1 {
		t.Fatalf("Expected the question to be admitted, got %d accepted", report.Accepted)
	}
	stored, err := e.store.QuestionsByFingerprints(context.Background(), []string{q.Fingerprint})
	if err != nil || len(stored) != 1 {
		t.Fatalf("Failed to load admitted question back: %v", err)
	}
	return stored[0]
}

func mathScope(grade int) store.Scope {
	g := grade
	return store.Scope{Subject: "math", Grade: &g, Topic: "multiplication", Subtopic: "arrays"}
}

func waitForStock(t *testing.T, e *Engine, sc store.Scope, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		n, err := e.store.CountQuestions(context.Background(), sc)
		if err != nil {
			t.Fatalf("CountQuestions failed: %v", err)
		}
		if n >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Stock never reached %d", want)
}

func TestFetchBatch_FillsFromRichestSubtopic(t *testing.T) {
	e := testEngine(t, noGen{})
	learner := seedLearner(t, e, 3)
	seedCatalog(t, e,
		catalogEntry("math", 3, "multiplication", "times tables", 1),
		catalogEntry("math", 3, "multiplication", "arrays", 2),
	)
	seedQuestions(t, e, "math", 3, "multiplication", "times tables", models.DifficultyEasy, 20)
	seedQuestions(t, e, "math", 3, "multiplication", "arrays", models.DifficultyEasy, 5)

	res, err := e.FetchBatch(context.Background(), FetchRequest{
		LearnerID: learner,
		Subject:   "Math",
		Limit:     5,
	})
	if err != nil {
		t.Fatalf("FetchBatch failed: %v", err)
	}
	if len(res.Questions) != 5 {
		t.Fatalf("Expected 5 questions, got %d", len(res.Questions))
	}
	for _, q := range res.Questions {
		if q.Subtopic != "times tables" {
			t.Errorf("Expected every question from the richest subtopic, got %q", q.Subtopic)
		}
	}
	if res.Subtopic != "Times Tables" {
		t.Errorf("Expected display-cased resolved subtopic, got %q", res.Subtopic)
	}
	if res.Topic != "Multiplication" {
		t.Errorf("Expected display-cased topic, got %q", res.Topic)
	}
	if res.Deficit != 0 {
		t.Errorf("Expected no deficit with 20 in stock, got %d", res.Deficit)
	}
	if res.SessionID == uuid.Nil {
		t.Error("Expected the fetch to attach a session")
	}
	if n := e.coord.InFlight(); n != 0 {
		t.Errorf("Expected no generation job, got %d in flight", n)
	}
}

func TestFetchBatch_DeficitTriggersGeneration(t *testing.T) {
	e := testEngine(t, generator.NewMock())
	learner := seedLearner(t, e, 3)
	seedQuestions(t, e, "math", 3, "multiplication", "arrays", models.DifficultyEasy, 8)

	res, err := e.FetchBatch(context.Background(), FetchRequest{
		LearnerID: learner,
		Subject:   "math",
		Topic:     "multiplication",
		Subtopic:  "Arrays",
		Limit:     5,
	})
	if err != nil {
		t.Fatalf("FetchBatch failed: %v", err)
	}
	if len(res.Questions) != 5 {
		t.Errorf("Expected 5 questions, got %d", len(res.Questions))
	}
	if res.Deficit != 2 {
		t.Errorf("Expected deficit 2 with 8 in stock, got %d", res.Deficit)
	}

	// The job asked for exactly the deficit, so stock settles at the floor.
	waitForStock(t, e, mathScope(3), 10)
}

func TestFetchBatch_RepeatFetchSharesOneJob(t *testing.T) {
	gen := newGatedGen()
	e := testEngine(t, gen)
	learner := seedLearner(t, e, 3)
	seedQuestions(t, e, "math", 3, "multiplication", "arrays", models.DifficultyEasy, 8)

	req := FetchRequest{
		LearnerID: learner,
		Subject:   "math",
		Topic:     "multiplication",
		Subtopic:  "arrays",
		Limit:     5,
	}
	if _, err := e.FetchBatch(context.Background(), req); err != nil {
		t.Fatalf("First fetch failed: %v", err)
	}
	gen.awaitCall(t)

	if _, err := e.FetchBatch(context.Background(), req); err != nil {
		t.Fatalf("Second fetch failed: %v", err)
	}
	if n := e.coord.InFlight(); n != 1 {
		t.Errorf("Expected the second fetch to join the existing job, got %d in flight", n)
	}

	close(gen.release)
	waitForStock(t, e, mathScope(3), 10)
	if calls := gen.callCount(); calls != 1 {
		t.Errorf("Expected a single generator call, got %d", calls)
	}
}

func TestFetchBatch_ExcludesCorrectlyAnswered(t *testing.T) {
	e := testEngine(t, noGen{})
	learner := seedLearner(t, e, 3)
	seedQuestions(t, e, "math", 3, "multiplication", "arrays", models.DifficultyEasy, 12)

	first, err := e.FetchBatch(context.Background(), FetchRequest{
		LearnerID: learner,
		Subject:   "math",
		Topic:     "multiplication",
		Subtopic:  "arrays",
		Limit:     3,
	})
	if err != nil {
		t.Fatalf("First fetch failed: %v", err)
	}
	if len(first.Questions) != 3 {
		t.Fatalf("Expected 3 questions, got %d", len(first.Questions))
	}
	answered := first.Questions[0]
	missed := first.Questions[1]

	if _, err := e.SubmitAttempt(context.Background(), learner, answered.ID, answered.CorrectAnswer, 1000); err != nil {
		t.Fatalf("Correct attempt failed: %v", err)
	}
	if _, err := e.SubmitAttempt(context.Background(), learner, missed.ID, "not the answer", 1000); err != nil {
		t.Fatalf("Incorrect attempt failed: %v", err)
	}

	second, err := e.FetchBatch(context.Background(), FetchRequest{
		LearnerID: learner,
		Subject:   "math",
		Topic:     "multiplication",
		Subtopic:  "arrays",
		Limit:     12,
	})
	if err != nil {
		t.Fatalf("Second fetch failed: %v", err)
	}

	sawMissed := false
	for _, q := range second.Questions {
		if q.ID == answered.ID {
			t.Error("Correctly answered question reappeared in a later batch")
		}
		if q.ID == missed.ID {
			sawMissed = true
		}
	}
	if !sawMissed {
		t.Error("Incorrectly answered question should remain fetchable")
	}
}

func TestFetchBatch_MasteryTransition(t *testing.T) {
	e := testEngine(t, noGen{})
	learner := seedLearner(t, e, 3)
	seedQuestions(t, e, "science", 3, "facts", "animals", models.DifficultyEasy, 12)
	seedQuestions(t, e, "math", 3, "multiplication", "arrays", models.DifficultyEasy, 12)
	seedQuestions(t, e, "math", 3, "multiplication", "arrays", models.DifficultyMedium, 12)

	drill, err := e.FetchBatch(context.Background(), FetchRequest{
		LearnerID: learner,
		Subject:   "science",
		Topic:     "facts",
		Subtopic:  "animals",
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("Science fetch failed: %v", err)
	}
	if len(drill.Questions) != 10 {
		t.Fatalf("Expected 10 science questions, got %d", len(drill.Questions))
	}

	for i := 0; i < 9; i++ {
		q := drill.Questions[i]
		if _, err := e.SubmitAttempt(context.Background(), learner, q.ID, q.CorrectAnswer, 800); err != nil {
			t.Fatalf("Attempt %d failed: %v", i, err)
		}
	}

	// Nine for nine: high accuracy but under the mastery floor.
	mid, err := e.FetchBatch(context.Background(), FetchRequest{
		LearnerID: learner,
		Subject:   "math",
		Topic:     "multiplication",
		Subtopic:  "arrays",
		Limit:     5,
	})
	if err != nil {
		t.Fatalf("Math fetch failed: %v", err)
	}
	if got := mid.Questions[0].Difficulty; got != models.DifficultyEasy {
		t.Errorf("Expected easy-led batch below the mastery floor, got %q first", got)
	}

	tenth := drill.Questions[9]
	if _, err := e.SubmitAttempt(context.Background(), learner, tenth.ID, tenth.CorrectAnswer, 800); err != nil {
		t.Fatalf("Tenth attempt failed: %v", err)
	}

	after, err := e.FetchBatch(context.Background(), FetchRequest{
		LearnerID: learner,
		Subject:   "math",
		Topic:     "multiplication",
		Subtopic:  "arrays",
		Limit:     5,
	})
	if err != nil {
		t.Fatalf("Post-mastery fetch failed: %v", err)
	}
	if got := after.Questions[0].Difficulty; got != models.DifficultyMedium {
		t.Errorf("Expected medium-led batch after the tenth correct answer, got %q first", got)
	}
}

func TestFetchBatch_SyncWaitServesFreshStock(t *testing.T) {
	cfg := testEngineConfig()
	cfg.SyncWaitMS = 3000
	e := testEngineWith(t, cfg, generator.NewMock())
	learner := seedLearner(t, e, 3)

	res, err := e.FetchBatch(context.Background(), FetchRequest{
		LearnerID: learner,
		Subject:   "math",
		Topic:     "multiplication",
		Subtopic:  "arrays",
		Limit:     5,
	})
	if err != nil {
		t.Fatalf("FetchBatch failed: %v", err)
	}
	if res.Deficit != 10 {
		t.Errorf("Expected deficit 10 on an empty scope, got %d", res.Deficit)
	}
	if len(res.Questions) == 0 {
		t.Error("Expected the synchronous wait to serve freshly generated stock")
	}
}

func TestFetchBatch_EagerReturnOnEmptyStock(t *testing.T) {
	e := testEngine(t, noGen{})
	learner := seedLearner(t, e, 3)

	res, err := e.FetchBatch(context.Background(), FetchRequest{
		LearnerID: learner,
		Subject:   "math",
		Topic:     "multiplication",
		Subtopic:  "arrays",
		Limit:     5,
	})
	if err != nil {
		t.Fatalf("FetchBatch failed: %v", err)
	}
	if len(res.Questions) != 0 {
		t.Errorf("Expected an empty batch, got %d questions", len(res.Questions))
	}
	if res.Deficit != 10 {
		t.Errorf("Expected deficit 10, got %d", res.Deficit)
	}
}

func TestFetchBatch_LimitHandling(t *testing.T) {
	e := testEngine(t, noGen{})
	learner := seedLearner(t, e, 3)
	seedQuestions(t, e, "math", 3, "multiplication", "arrays", models.DifficultyEasy, 30)

	req := FetchRequest{
		LearnerID: learner,
		Subject:   "math",
		Topic:     "multiplication",
		Subtopic:  "arrays",
	}

	res, err := e.FetchBatch(context.Background(), req)
	if err != nil {
		t.Fatalf("Default-limit fetch failed: %v", err)
	}
	if len(res.Questions) != 5 {
		t.Errorf("Expected the default batch size of 5, got %d", len(res.Questions))
	}

	req.Limit = 50
	res, err = e.FetchBatch(context.Background(), req)
	if err != nil {
		t.Fatalf("Oversized fetch failed: %v", err)
	}
	if len(res.Questions) != 20 {
		t.Errorf("Expected the limit clamped to 20, got %d", len(res.Questions))
	}
}

func TestFetchBatch_UnknownLearner(t *testing.T) {
	e := testEngine(t, noGen{})

	_, err := e.FetchBatch(context.Background(), FetchRequest{
		LearnerID: uuid.New(),
		Subject:   "math",
	})
	if !errors.Is(err, models.ErrUnknownLearner) {
		t.Errorf("Expected ErrUnknownLearner, got %v", err)
	}
}

func TestFetchBatch_MissingSubject(t *testing.T) {
	e := testEngine(t, noGen{})
	learner := seedLearner(t, e, 3)

	_, err := e.FetchBatch(context.Background(), FetchRequest{LearnerID: learner, Subject: "   "})
	if models.KindOf(err) != models.KindValidation {
		t.Fatalf("Expected a validation failure, got %v", err)
	}
	if rule := validate.RuleOf(err); rule != validate.RuleMissingMetadata {
		t.Errorf("Expected rule %q, got %q", validate.RuleMissingMetadata, rule)
	}
}

func TestFetchBatch_NoCatalogForScope(t *testing.T) {
	e := testEngine(t, noGen{})
	learner := seedLearner(t, e, 3)

	_, err := e.FetchBatch(context.Background(), FetchRequest{LearnerID: learner, Subject: "latin"})
	if models.KindOf(err) != models.KindNotFound {
		t.Errorf("Expected NotFound for an uncataloged subject, got %v", err)
	}
}

func TestFetchBatch_ReusesActiveSession(t *testing.T) {
	e := testEngine(t, noGen{})
	learner := seedLearner(t, e, 3)
	seedQuestions(t, e, "math", 3, "multiplication", "arrays", models.DifficultyEasy, 12)

	req := FetchRequest{
		LearnerID: learner,
		Subject:   "math",
		Topic:     "multiplication",
		Subtopic:  "arrays",
		Limit:     2,
	}
	first, err := e.FetchBatch(context.Background(), req)
	if err != nil {
		t.Fatalf("First fetch failed: %v", err)
	}
	second, err := e.FetchBatch(context.Background(), req)
	if err != nil {
		t.Fatalf("Second fetch failed: %v", err)
	}
	if first.SessionID != second.SessionID {
		t.Errorf("Expected both fetches on session %s, got %s", first.SessionID, second.SessionID)
	}
}
