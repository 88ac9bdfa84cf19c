package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/quizforge/quizforge/internal/bank"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/coordinator"
	"github.com/quizforge/quizforge/internal/engine"
	"github.com/quizforge/quizforge/internal/generator"
	"github.com/quizforge/quizforge/internal/metrics"
	"github.com/quizforge/quizforge/internal/store"
	"github.com/quizforge/quizforge/pkg/models"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	envFile    string
	logPath    string
	verbose    bool

	bankPath       string
	curriculumPath string
	outPath        string

	learnerID  string
	questionID string
	subject    string
	topic      string
	subtopic   string
	difficulty string
	grade      int
	limit      int
	count      int
	choice     string
	elapsedMS  int64
	endActive  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quizforge",
		Short: "QuizForge - adaptive question dispatch and replenishment",
		Long: `QuizForge serves adaptive multiple-choice practice batches from a local
question bank and schedules generation jobs to refill whatever runs low.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	rootCmd.PersistentFlags().StringVar(&logPath, "log-file", "", "Append JSON logs to this file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the catalog and question bank from files",
		Long: `Seed the subtopic catalog from a TOML curriculum file and import
questions from a JSONL bank file. Both operations are idempotent:
rerunning the same files changes nothing.`,
		RunE: runSeed,
	}
	seedCmd.Flags().StringVar(&curriculumPath, "curriculum", "", "TOML curriculum file for the subtopic catalog")
	seedCmd.Flags().StringVar(&bankPath, "bank", "", "JSONL question bank to import")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export admitted questions to a JSONL bank file",
		RunE:  runExport,
	}
	exportCmd.Flags().StringVar(&outPath, "out", "", "Destination JSONL file")
	exportCmd.Flags().StringVar(&subject, "subject", "", "Limit the export to one subject")
	exportCmd.Flags().IntVar(&grade, "grade", -1, "Limit the export to one grade")
	exportCmd.Flags().StringVar(&topic, "topic", "", "Limit the export to one topic")
	exportCmd.Flags().StringVar(&subtopic, "subtopic", "", "Limit the export to one subtopic")

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Run one generation job and wait for it",
		Long: `Run a generation job for an explicit scope and wait for its terminal
state. This is the same path background replenishment takes; the command
exists so operators can top up a scope by hand.`,
		RunE: runGenerate,
	}
	generateCmd.Flags().StringVar(&subject, "subject", "", "Subject to generate for")
	generateCmd.Flags().IntVar(&grade, "grade", -1, "Grade to generate for")
	generateCmd.Flags().StringVar(&topic, "topic", "", "Topic to generate for")
	generateCmd.Flags().StringVar(&subtopic, "subtopic", "", "Subtopic to generate for")
	generateCmd.Flags().StringVar(&difficulty, "difficulty", "easy", "Difficulty tier (easy, medium, hard)")
	generateCmd.Flags().IntVar(&count, "count", 10, "How many questions to request")

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch a practice batch for a learner",
		RunE:  runFetch,
	}
	fetchCmd.Flags().StringVar(&learnerID, "learner", "", "Learner UUID (registered on first use)")
	fetchCmd.Flags().IntVar(&grade, "grade", -1, "Learner grade")
	fetchCmd.Flags().StringVar(&subject, "subject", "", "Subject to practice")
	fetchCmd.Flags().StringVar(&topic, "topic", "", "Topic (defaults to the curriculum's first)")
	fetchCmd.Flags().StringVar(&subtopic, "subtopic", "", "Subtopic (defaults to the richest unseen)")
	fetchCmd.Flags().IntVar(&limit, "limit", 0, "Batch size (0 = configured default)")

	answerCmd := &cobra.Command{
		Use:   "answer",
		Short: "Submit an answer and see the grading",
		RunE:  runAnswer,
	}
	answerCmd.Flags().StringVar(&learnerID, "learner", "", "Learner UUID")
	answerCmd.Flags().StringVar(&questionID, "question", "", "Question UUID from a fetched batch")
	answerCmd.Flags().StringVar(&choice, "choice", "", "Selected option text, exactly as shown")
	answerCmd.Flags().Int64Var(&elapsedMS, "elapsed-ms", 0, "Time spent answering, in milliseconds")

	progressCmd := &cobra.Command{
		Use:   "progress",
		Short: "Show a learner's progress aggregates",
		RunE:  runProgress,
	}
	progressCmd.Flags().StringVar(&learnerID, "learner", "", "Learner UUID")

	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Show or end the learner's active session",
		RunE:  runSession,
	}
	sessionCmd.Flags().StringVar(&learnerID, "learner", "", "Learner UUID")
	sessionCmd.Flags().BoolVar(&endActive, "end", false, "End the active session before summarizing")

	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Browse the subtopic catalog with stock levels",
		RunE:  runCatalog,
	}
	catalogCmd.Flags().StringVar(&subject, "subject", "", "Subject to browse")
	catalogCmd.Flags().IntVar(&grade, "grade", -1, "Grade to browse")
	catalogCmd.Flags().StringVar(&topic, "topic", "", "Limit to one topic")

	rootCmd.AddCommand(seedCmd, exportCmd, generateCmd, fetchCmd, answerCmd, progressCmd, sessionCmd, catalogCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// base carries what every command wires: config, logger and an open store.
type base struct {
	cfg     *config.Config
	secrets *config.Secrets
	logger  *slog.Logger
	logFile *os.File
	store   *store.Store
}

func openBase() (*base, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
		}
	}

	var (
		cfg     *config.Config
		secrets *config.Secrets
		err     error
	)
	if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
		// No config file: run against a local sqlite store with the mock
		// generator, which covers seeding and offline demos.
		cfg = config.Default()
		if secrets, err = config.LoadSecrets(); err != nil {
			return nil, fmt.Errorf("failed to load secrets: %w", err)
		}
	} else {
		if cfg, secrets, err = config.Load(configPath); err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger, logFile, err := setupLogger(logPath, logLevel)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store, logger)
	if err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, err
	}

	return &base{cfg: cfg, secrets: secrets, logger: logger, logFile: logFile, store: st}, nil
}

func (b *base) close() {
	if err := b.store.Close(); err != nil {
		b.logger.Error("Failed to close store", "error", err)
	}
	if b.logFile != nil {
		_ = b.logFile.Sync()
		_ = b.logFile.Close()
	}
}

// runtime adds the generation stack on top of base for commands that go
// through the engine or coordinator.
type runtime struct {
	*base
	collector   *metrics.Collector
	coord       *coordinator.Coordinator
	engine      *engine.Engine
	stopMetrics context.CancelFunc
}

func openRuntime() (*runtime, error) {
	b, err := openBase()
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector(b.logger)
	var stopMetrics context.CancelFunc
	if b.cfg.Metrics.ListenAddr != "" {
		var mctx context.Context
		mctx, stopMetrics = context.WithCancel(context.Background())
		go collector.Serve(mctx, b.cfg.Metrics.ListenAddr)
	}

	var gen generator.Generator
	if b.cfg.Generation.Mock {
		gen = generator.NewMock()
		b.logger.Info("Using the deterministic mock generator")
	} else {
		gen = generator.NewLLM(b.cfg.Generator, b.secrets, b.logger)
	}

	coord := coordinator.New(b.cfg.Generation, gen, b.store, collector, b.logger)
	eng := engine.New(b.cfg.Engine, b.store, coord, collector, b.logger)

	return &runtime{base: b, collector: collector, coord: coord, engine: eng, stopMetrics: stopMetrics}, nil
}

// close tears down in reverse wiring order: coordinator first so workers
// stop writing, then metrics, then the store.
func (rt *runtime) close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := rt.coord.Shutdown(shutdownCtx); err != nil {
		rt.logger.Warn("Coordinator shutdown incomplete", "error", err)
	}
	if rt.stopMetrics != nil {
		rt.stopMetrics()
	}
	rt.base.close()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runSeed(cmd *cobra.Command, args []string) error {
	if curriculumPath == "" && bankPath == "" {
		return fmt.Errorf("nothing to seed: pass --curriculum and/or --bank")
	}

	b, err := openBase()
	if err != nil {
		return err
	}
	defer b.close()

	ctx, stop := signalContext()
	defer stop()

	if curriculumPath != "" {
		n, err := bank.SeedCurriculum(ctx, b.store, curriculumPath, b.logger)
		if err != nil {
			return fmt.Errorf("curriculum seeding failed: %w", err)
		}
		fmt.Printf("Curriculum: %d subtopics cataloged\n", n)
	}

	if bankPath != "" {
		report, err := bank.Import(ctx, b.store, bank.ImportOptions{Path: bankPath, Progress: true}, b.logger)
		if err != nil {
			return fmt.Errorf("bank import failed: %w", err)
		}
		fmt.Printf("Bank: %d accepted, %d duplicates skipped, %d rejected, %d unparsable\n",
			report.Accepted, report.Skipped, report.RejectedTotal(), report.Malformed)
		rules := make([]string, 0, len(report.Rejected))
		for rule := range report.Rejected {
			rules = append(rules, rule)
		}
		sort.Strings(rules)
		for _, rule := range rules {
			fmt.Printf("  %s: %d\n", rule, report.Rejected[rule])
		}
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	if outPath == "" {
		return fmt.Errorf("--out is required")
	}

	b, err := openBase()
	if err != nil {
		return err
	}
	defer b.close()

	ctx, stop := signalContext()
	defer stop()

	sc := store.Scope{Subject: subject, Topic: topic, Subtopic: subtopic}
	if grade >= 0 {
		g := grade
		sc.Grade = &g
	}

	written, err := bank.Export(ctx, b.store, bank.ExportOptions{Path: outPath, Scope: sc, Progress: true}, b.logger)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	fmt.Printf("Exported %d questions to %s\n", written, outPath)
	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if subject == "" || topic == "" || subtopic == "" {
		return fmt.Errorf("--subject, --topic and --subtopic are required")
	}
	if grade < 0 {
		return fmt.Errorf("--grade is required")
	}
	d := models.Difficulty(strings.ToLower(strings.TrimSpace(difficulty)))
	if !d.Valid() {
		return fmt.Errorf("unknown difficulty %q (easy, medium or hard)", difficulty)
	}

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signalContext()
	defer stop()

	key := coordinator.NewKey(subject, grade, topic, subtopic, d)
	res, err := rt.coord.Replenish(ctx, key, count)
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}
	if res.State == coordinator.StateFailed {
		return fmt.Errorf("generation failed after %d attempt(s): %w", res.Attempts, res.Err)
	}
	fmt.Printf("Generated for %s: %d admitted, %d duplicates skipped, %d attempt(s)\n",
		key, res.Admitted, res.Skipped, res.Attempts)
	return nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(learnerID)
	if err != nil {
		return fmt.Errorf("invalid --learner: %w", err)
	}
	if subject == "" {
		return fmt.Errorf("--subject is required")
	}
	if grade < 0 {
		return fmt.Errorf("--grade is required")
	}

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signalContext()
	defer stop()

	if _, err := rt.store.EnsureLearner(ctx, id, grade); err != nil {
		return err
	}

	res, err := rt.engine.FetchBatch(ctx, engine.FetchRequest{
		LearnerID: id,
		Subject:   subject,
		Topic:     topic,
		Subtopic:  subtopic,
		Limit:     limit,
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s / %s / %s (session %s)\n", res.Subject, res.Topic, res.Subtopic, res.SessionID)
	if res.Deficit > 0 {
		fmt.Printf("Stock is %d below the floor; replenishment scheduled\n", res.Deficit)
	}
	if len(res.Questions) == 0 {
		fmt.Println("No unseen questions available yet; try again shortly")
		return nil
	}
	for i, q := range res.Questions {
		fmt.Printf("\n%d. [%s] %s\n", i+1, q.Difficulty, q.Stem)
		for j, opt := range q.Options {
			fmt.Printf("   %c) %s\n", 'A'+j, opt)
		}
		fmt.Printf("   id: %s\n", q.ID)
	}
	return nil
}

func runAnswer(cmd *cobra.Command, args []string) error {
	lid, err := uuid.Parse(learnerID)
	if err != nil {
		return fmt.Errorf("invalid --learner: %w", err)
	}
	qid, err := uuid.Parse(questionID)
	if err != nil {
		return fmt.Errorf("invalid --question: %w", err)
	}
	if choice == "" {
		return fmt.Errorf("--choice is required")
	}

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signalContext()
	defer stop()

	result, err := rt.engine.SubmitAttempt(ctx, lid, qid, choice, elapsedMS)
	if err != nil {
		return err
	}

	if result.Correct {
		fmt.Println("Correct!")
	} else {
		fmt.Printf("Incorrect. The expected answer is: %s\n", result.ExpectedAnswer)
	}
	if result.Rationale != "" {
		fmt.Printf("Why: %s\n", result.Rationale)
	}
	return nil
}

func runProgress(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(learnerID)
	if err != nil {
		return fmt.Errorf("invalid --learner: %w", err)
	}

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signalContext()
	defer stop()

	prog, err := rt.engine.Progress(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("Attempted %d, correct %d (%d%% accuracy), current streak %d\n",
		prog.Attempted, prog.Correct, prog.AccuracyPct, prog.CurrentStreak)
	subjects := make([]string, 0, len(prog.BySubject))
	for s := range prog.BySubject {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)
	for _, s := range subjects {
		sp := prog.BySubject[s]
		fmt.Printf("  %-14s %d/%d (%d%%)\n", s, sp.Correct, sp.Attempted, sp.AccuracyPct)
	}
	return nil
}

func runSession(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(learnerID)
	if err != nil {
		return fmt.Errorf("invalid --learner: %w", err)
	}

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signalContext()
	defer stop()

	active, err := rt.store.ActiveSession(ctx, id)
	if err != nil {
		if models.KindOf(err) == models.KindNotFound {
			fmt.Println("No active session")
			return nil
		}
		return err
	}

	if endActive {
		if _, err := rt.engine.EndSession(ctx, active.ID); err != nil {
			return err
		}
	}

	summary, err := rt.engine.SessionSummary(ctx, active.ID)
	if err != nil {
		return err
	}

	state := "active"
	if summary.Session.EndedAt != nil {
		state = "ended " + summary.Session.EndedAt.Format(time.RFC3339)
	}
	fmt.Printf("Session %s (%s)\n", summary.Session.ID, state)
	fmt.Printf("  started:  %s\n", summary.Session.StartedAt.Format(time.RFC3339))
	fmt.Printf("  attempts: %d (%d correct, %d%%)\n",
		summary.QuestionsAttempted, summary.QuestionsCorrect, summary.AccuracyPct)
	fmt.Printf("  time:     %dms total, %dms average\n", summary.TotalElapsedMS, summary.AvgElapsedMS)
	if len(summary.SubjectsPracticed) > 0 {
		fmt.Printf("  subjects: %s\n", strings.Join(summary.SubjectsPracticed, ", "))
	}
	return nil
}

func runCatalog(cmd *cobra.Command, args []string) error {
	if subject == "" {
		return fmt.Errorf("--subject is required")
	}
	if grade < 0 {
		return fmt.Errorf("--grade is required")
	}

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signalContext()
	defer stop()

	entries, err := rt.engine.BrowseSubtopics(ctx, subject, grade, topic)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("Nothing cataloged for this scope")
		return nil
	}

	currentTopic := ""
	for _, e := range entries {
		if e.Topic != currentTopic {
			currentTopic = e.Topic
			fmt.Printf("%s\n", e.Topic)
		}
		g := e.Grade
		stock, err := rt.store.CountQuestions(ctx, store.Scope{
			Subject:  e.Subject,
			Grade:    &g,
			Topic:    e.Topic,
			Subtopic: e.Subtopic,
		})
		if err != nil {
			return err
		}
		line := fmt.Sprintf("  %2d. %s (%d in stock)", e.SequenceOrder, e.Subtopic, stock)
		if e.Description != "" {
			line += ": " + e.Description
		}
		fmt.Println(line)
	}
	return nil
}
