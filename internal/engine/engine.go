// Package engine implements the caller-facing practice operations: batch
// fetching with subtopic selection and adaptive difficulty, attempt grading
// with seen tracking, learner progress and practice sessions. Stock deficits
// observed during a fetch are handed to the coordinator; fetches never block
// on generation unless the synchronous wait is enabled.
package engine

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/coordinator"
	"github.com/quizforge/quizforge/internal/metrics"
	"github.com/quizforge/quizforge/internal/store"
	"github.com/quizforge/quizforge/pkg/models"
)

// Engine wires the store, the coordinator and the dispatch policies into
// the operations the transport layer exposes.
type Engine struct {
	cfg     config.EngineConfig
	store   *store.Store
	coord   *coordinator.Coordinator
	metrics *metrics.Collector
	logger  *slog.Logger

	clock func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New builds an Engine. The clock and shuffle source are fixed here; tests
// in this package override them for determinism.
func New(cfg config.EngineConfig, st *store.Store, coord *coordinator.Coordinator, collector *metrics.Collector, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		store:   st,
		coord:   coord,
		metrics: collector,
		logger:  logger,
		clock:   time.Now,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// shuffle randomizes qs in place. Within-tier batch order is documented as
// non-stable.
func (e *Engine) shuffle(qs []models.Question) {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	e.rng.Shuffle(len(qs), func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })
}

func accuracyPct(correct, attempted int) int {
	if attempted == 0 {
		return 0
	}
	return int(float64(correct)/float64(attempted)*100 + 0.5)
}
