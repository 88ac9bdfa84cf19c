package bank

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"

	"github.com/quizforge/quizforge/internal/store"
	"github.com/quizforge/quizforge/pkg/models"
)

// exportPage bounds how many questions one export query loads.
const exportPage = 500

// ExportOptions controls a bank export. A zero-value scope exports the
// whole bank.
type ExportOptions struct {
	Path     string
	Scope    store.Scope
	Progress bool
}

// Export dumps admitted questions to a JSONL bank file in admission order.
// Records are written as candidates, so an export re-imports cleanly. The
// write is atomic: everything streams to a temp file in the destination
// directory which replaces the target only after a successful sync.
func Export(ctx context.Context, st *store.Store, opts ExportOptions, logger *slog.Logger) (int, error) {
	total, err := st.CountQuestions(ctx, opts.Scope)
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(opts.Path), ".bank-export-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp export file: %w", err)
	}
	tmpName := tmp.Name()
	moved := false
	defer func() {
		if !moved {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	var bar *progressbar.ProgressBar
	if opts.Progress {
		bar = progressbar.Default(int64(total), "Exporting bank")
	}

	w := bufio.NewWriter(tmp)
	written := 0
	for offset := 0; ; offset += exportPage {
		page, err := st.QuestionPage(ctx, opts.Scope, offset, exportPage)
		if err != nil {
			return 0, err
		}
		if len(page) == 0 {
			break
		}
		for _, q := range page {
			data, err := json.Marshal(models.Candidate{
				Subject:       q.Subject,
				Grade:         q.Grade,
				Topic:         q.Topic,
				Subtopic:      q.Subtopic,
				Difficulty:    q.Difficulty,
				Stem:          q.Stem,
				Options:       q.Options,
				CorrectAnswer: q.CorrectAnswer,
				Rationale:     q.Rationale,
				StandardRef:   q.StandardRef,
			})
			if err != nil {
				return 0, fmt.Errorf("failed to marshal question %s: %w", q.ID, err)
			}
			if _, err := w.Write(append(data, '\n')); err != nil {
				return 0, fmt.Errorf("failed to write export record: %w", err)
			}
			written++
			if bar != nil {
				_ = bar.Add(1)
			}
		}
		if len(page) < exportPage {
			break
		}
	}

	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush export file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync export file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close export file: %w", err)
	}
	if err := os.Rename(tmpName, opts.Path); err != nil {
		return 0, fmt.Errorf("failed to move export into place: %w", err)
	}
	moved = true

	logger.Info("Exported question bank", "path", opts.Path, "questions", written)
	return written, nil
}
