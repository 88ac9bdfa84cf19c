package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fetch path metrics
	fetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizforge_fetch_total",
			Help: "Total question batch fetches by subject",
		},
		[]string{"subject"},
	)

	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizforge_attempts_total",
			Help: "Total graded attempts by correctness",
		},
		[]string{"result"}, // "correct" or "incorrect"
	)

	// Admission metrics
	admissionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizforge_questions_admitted_total",
			Help: "Total questions offered for admission by outcome",
		},
		[]string{"outcome"}, // "accepted" or "skipped"
	)

	validationDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizforge_validation_drops_total",
			Help: "Generated candidates dropped by validation rule",
		},
		[]string{"rule"},
	)

	// Generation metrics
	generationJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizforge_generation_jobs_total",
			Help: "Generation jobs reaching a terminal state",
		},
		[]string{"state"}, // "done" or "failed"
	)

	generationRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quizforge_generation_retries_total",
			Help: "Generation job attempts that were retried",
		},
	)

	generationQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quizforge_generation_queue_depth",
			Help: "Current depth of the generation job queue",
		},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quizforge_generation_active_workers",
			Help: "Workers currently running a generation job",
		},
	)

	generatorCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quizforge_generator_call_duration_seconds",
			Help:    "Generator call duration in seconds by status",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
		},
		[]string{"status"},
	)
)

// Collector provides convenience methods for recording metrics. Recording
// never affects control flow; there is nothing to check or propagate.
type Collector struct {
	logger *slog.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{logger: logger}
}

// RecordFetch counts one batch fetch for the subject (normalized form).
func (c *Collector) RecordFetch(subject string) {
	fetchTotal.WithLabelValues(subject).Inc()
}

// RecordAttempt counts one graded attempt
func (c *Collector) RecordAttempt(correct bool) {
	result := "incorrect"
	if correct {
		result = "correct"
	}
	attemptsTotal.WithLabelValues(result).Inc()
}

// RecordAdmission counts an admission batch outcome
func (c *Collector) RecordAdmission(accepted, skipped int) {
	admissionTotal.WithLabelValues("accepted").Add(float64(accepted))
	admissionTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordValidationDrop counts one discarded candidate by rule
func (c *Collector) RecordValidationDrop(rule string) {
	validationDrops.WithLabelValues(rule).Inc()
}

// RecordJobTerminal counts a job reaching "done" or "failed"
func (c *Collector) RecordJobTerminal(state string) {
	generationJobs.WithLabelValues(state).Inc()
}

// RecordJobRetry counts one requeued job attempt
func (c *Collector) RecordJobRetry() {
	generationRetries.Inc()
}

// SetQueueDepth sets the current job queue depth
func (c *Collector) SetQueueDepth(depth int) {
	generationQueueDepth.Set(float64(depth))
}

// SetActiveWorkers sets the number of workers running a job
func (c *Collector) SetActiveWorkers(count int) {
	activeWorkers.Set(float64(count))
}

// RecordGeneratorCall records one generator call duration
func (c *Collector) RecordGeneratorCall(duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	generatorCallDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Serve exposes /metrics on addr until the context is cancelled. Call in
// a goroutine; errors are logged, never fatal.
func (c *Collector) Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}()

	c.logger.Info("Metrics endpoint listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		c.logger.Warn("Metrics server stopped", "error", err)
	}
}
