package bank

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"

	"github.com/quizforge/quizforge/internal/normalize"
	"github.com/quizforge/quizforge/internal/store"
	"github.com/quizforge/quizforge/pkg/models"
)

// Curriculum is the TOML shape of a curriculum file: an ordered list of
// units, each the ordered subtopic run for one (subject, grade, topic).
// File order is curriculum order.
type Curriculum struct {
	Units []CurriculumUnit `toml:"units"`
}

// CurriculumUnit covers one topic of one subject and grade.
type CurriculumUnit struct {
	Subject   string            `toml:"subject"`
	Grade     int               `toml:"grade"`
	Topic     string            `toml:"topic"`
	Subtopics []CurriculumEntry `toml:"subtopics"`
}

// CurriculumEntry is one subtopic within a unit.
type CurriculumEntry struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

// LoadCurriculum reads, parses and checks a curriculum file.
func LoadCurriculum(path string) (*Curriculum, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read curriculum file: %w", err)
	}
	var cur Curriculum
	if err := toml.Unmarshal(data, &cur); err != nil {
		return nil, fmt.Errorf("failed to parse curriculum file: %w", err)
	}
	if err := cur.Validate(); err != nil {
		return nil, err
	}
	return &cur, nil
}

// Validate checks that every unit names a full scope and holds at least
// one subtopic.
func (c *Curriculum) Validate() error {
	if len(c.Units) == 0 {
		return fmt.Errorf("curriculum has no units")
	}
	for i, u := range c.Units {
		if normalize.Normalize(u.Subject) == "" {
			return fmt.Errorf("units[%d]: subject is required", i)
		}
		if u.Grade < 0 || u.Grade > models.MaxGrade {
			return fmt.Errorf("units[%d]: grade %d outside 0..%d", i, u.Grade, models.MaxGrade)
		}
		if normalize.Normalize(u.Topic) == "" {
			return fmt.Errorf("units[%d]: topic is required", i)
		}
		if len(u.Subtopics) == 0 {
			return fmt.Errorf("units[%d]: at least one subtopic is required", i)
		}
		for j, sub := range u.Subtopics {
			if normalize.Normalize(sub.Name) == "" {
				return fmt.Errorf("units[%d].subtopics[%d]: name is required", i, j)
			}
		}
	}
	return nil
}

// Entries flattens the curriculum into catalog rows. Sequence numbers run
// per (subject, grade) across units in file order, so the file's topic
// order is the curriculum order topic listings report.
func (c *Curriculum) Entries() []models.SubtopicEntry {
	seq := make(map[string]int)
	var out []models.SubtopicEntry
	for _, u := range c.Units {
		key := normalize.Normalize(u.Subject) + "\x00" + strconv.Itoa(u.Grade)
		for _, sub := range u.Subtopics {
			seq[key]++
			out = append(out, models.SubtopicEntry{
				Subject:       u.Subject,
				Grade:         u.Grade,
				Topic:         u.Topic,
				Subtopic:      sub.Name,
				SequenceOrder: seq[key],
				Description:   sub.Description,
			})
		}
	}
	return out
}

// SeedCurriculum loads a curriculum file and upserts its catalog rows.
// Re-seeding an amended file updates ordering and descriptions in place.
func SeedCurriculum(ctx context.Context, st *store.Store, path string, logger *slog.Logger) (int, error) {
	cur, err := LoadCurriculum(path)
	if err != nil {
		return 0, err
	}
	n, err := st.SeedCatalog(ctx, cur.Entries())
	if err != nil {
		return 0, err
	}
	logger.Info("Seeded curriculum catalog", "path", path, "units", len(cur.Units), "subtopics", n)
	return n, nil
}
