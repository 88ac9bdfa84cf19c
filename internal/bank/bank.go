// Package bank moves questions and curriculum between files and the store.
// Bank files are JSONL, one candidate object per line; every imported
// record passes the same normalize/validate/fingerprint pipeline generator
// output does, so a hand-edited bank cannot smuggle in malformed questions.
// Curriculum files are TOML.
package bank

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"gorm.io/datatypes"

	"github.com/quizforge/quizforge/internal/fingerprint"
	"github.com/quizforge/quizforge/internal/normalize"
	"github.com/quizforge/quizforge/internal/store"
	"github.com/quizforge/quizforge/internal/validate"
	"github.com/quizforge/quizforge/pkg/models"
)

// DefaultImportBatch is how many admissible records accumulate before a
// store write.
const DefaultImportBatch = 200

// Rationale-heavy records can run long; the scanner buffer grows up to the
// max before a line is considered unreadable.
const (
	scanBufferInit = 1024 * 1024
	scanBufferMax  = 16 * 1024 * 1024
)

// ImportOptions controls a bank import.
type ImportOptions struct {
	Path      string
	BatchSize int  // records per store transaction, default DefaultImportBatch
	Progress  bool // render a progress bar while reading
}

// ImportReport summarizes one bank import. Skipped records collided with
// fingerprints already admitted, in the store or earlier in the file.
type ImportReport struct {
	Lines     int            // non-blank lines read
	Accepted  int            // newly admitted questions
	Skipped   int            // fingerprint collisions
	Malformed int            // lines that were not valid JSON
	Rejected  map[string]int // validation failures by rule
}

// RejectedTotal sums the per-rule rejection counts.
func (r *ImportReport) RejectedTotal() int {
	total := 0
	for _, n := range r.Rejected {
		total += n
	}
	return total
}

// Import streams a JSONL bank file into the store. Each line is parsed as
// a candidate, normalized, validated and fingerprinted; survivors are
// admitted in batches through the store's idempotent admission, so running
// the same file twice changes nothing. Bad lines are counted and logged,
// never fatal; only I/O and store failures abort the import.
func Import(ctx context.Context, st *store.Store, opts ImportOptions, logger *slog.Logger) (*ImportReport, error) {
	file, err := os.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bank file: %w", err)
	}
	defer func() { _ = file.Close() }()

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultImportBatch
	}

	var reader io.Reader = file
	if opts.Progress {
		info, err := file.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat bank file: %w", err)
		}
		bar := progressbar.DefaultBytes(info.Size(), "Importing bank")
		reader = io.TeeReader(file, bar)
	}

	report := &ImportReport{Rejected: make(map[string]int)}
	pending := make([]models.Question, 0, batchSize)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		admitted, err := st.AdmitQuestions(ctx, pending)
		if err != nil {
			return err
		}
		report.Accepted += admitted.Accepted
		report.Skipped += admitted.Skipped
		pending = pending[:0]
		return nil
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, scanBufferInit), scanBufferMax)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		report.Lines++

		var cand models.Candidate
		if err := json.Unmarshal([]byte(line), &cand); err != nil {
			report.Malformed++
			logger.Warn("Skipping unparsable bank line", "line", lineNum, "error", err)
			continue
		}

		cand = normalize.Candidate(cand)
		if err := validate.Candidate(cand); err != nil {
			report.Rejected[string(validate.RuleOf(err))]++
			logger.Debug("Rejected bank record", "line", lineNum, "reason", err)
			continue
		}

		pending = append(pending, models.Question{
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
			Fingerprint:   fingerprint.Compute(cand.Stem, cand.Options, cand.CorrectAnswer),
		})
		if len(pending) >= batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read bank file: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	logger.Info("Imported question bank",
		"path", opts.Path,
		"lines", report.Lines,
		"accepted", report.Accepted,
		"skipped", report.Skipped,
		"rejected", report.RejectedTotal(),
		"malformed", report.Malformed)
	return report, nil
}
