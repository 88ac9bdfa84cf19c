package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Difficulty is the coarse difficulty tier of a question.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Difficulties returns all tiers in ascending order (easy < medium < hard).
// Fetch preference order is a separate concern decided per learner.
func Difficulties() []Difficulty {
	return []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}
}

// Valid reports whether d is one of the known tiers.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Rank maps a tier to its position in the ascending order. Unknown tiers
// sort last.
func (d Difficulty) Rank() int {
	switch d {
	case DifficultyEasy:
		return 0
	case DifficultyMedium:
		return 1
	case DifficultyHard:
		return 2
	}
	return 3
}

// OptionCount is the exact number of answer options every question carries.
const OptionCount = 4

// MaxGrade is the highest supported grade level (grades run 0..12).
const MaxGrade = 12

// Question is an admitted, immutable multiple-choice question. Metadata
// fields (subject, topic, subtopic) are stored normalized-lowercase; the
// body fields (stem, options, correct answer, rationale) keep their
// original case.
type Question struct {
	ID            uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	Subject       string                      `gorm:"not null;index:idx_question_scope,priority:1" json:"subject"`
	Grade         int                         `gorm:"not null;index:idx_question_scope,priority:2" json:"grade"`
	Topic         string                      `gorm:"not null;index:idx_question_scope,priority:3" json:"topic"`
	Subtopic      string                      `gorm:"not null;index:idx_question_scope,priority:4" json:"subtopic"`
	Difficulty    Difficulty                  `gorm:"not null" json:"difficulty"`
	Stem          string                      `gorm:"not null" json:"stem"`
	Options       datatypes.JSONSlice[string] `gorm:"not null" json:"options"`
	CorrectAnswer string                      `gorm:"not null" json:"correct_answer"`
	Rationale     string                      `json:"rationale,omitempty"`
	StandardRef   string                      `json:"standard_ref,omitempty"`
	Fingerprint   string                      `gorm:"size:64;not null;uniqueIndex" json:"fingerprint"`
	CreatedAt     time.Time                   `gorm:"not null" json:"created_at"`
}

func (Question) TableName() string { return "question" }

// Candidate is an unvalidated question payload as produced by the generator
// or read from a bank file. It becomes a Question only after it passes
// normalization, validation and fingerprinting.
type Candidate struct {
	Subject       string     `json:"subject"`
	Grade         int        `json:"grade"`
	Topic         string     `json:"topic"`
	Subtopic      string     `json:"subtopic"`
	Difficulty    Difficulty `json:"difficulty"`
	Stem          string     `json:"stem"`
	Options       []string   `json:"options"`
	CorrectAnswer string     `json:"correct_answer"`
	Rationale     string     `json:"rationale,omitempty"`
	StandardRef   string     `json:"standard_ref,omitempty"`
}

// SubtopicEntry is one row of the curricular subtopic catalog. The catalog
// is seeded up front and read-only at runtime.
type SubtopicEntry struct {
	ID            uint   `gorm:"primaryKey" json:"-"`
	Subject       string `gorm:"not null;uniqueIndex:idx_subtopic_key,priority:1" json:"subject"`
	Grade         int    `gorm:"not null;uniqueIndex:idx_subtopic_key,priority:2" json:"grade"`
	Topic         string `gorm:"not null;uniqueIndex:idx_subtopic_key,priority:3" json:"topic"`
	Subtopic      string `gorm:"not null;uniqueIndex:idx_subtopic_key,priority:4" json:"subtopic"`
	SequenceOrder int    `gorm:"not null" json:"sequence_order"`
	Description   string `json:"description,omitempty"`
}

func (SubtopicEntry) TableName() string { return "subtopic_catalog" }

// Learner carries the minimal learner state the engine needs. Profile
// management lives elsewhere; the grade is required for curricular
// filtering.
type Learner struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Grade     int       `gorm:"not null" json:"grade"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Learner) TableName() string { return "learner" }

// SeenRecord marks that a learner has answered the fingerprinted question
// correctly at least once. Rows are never removed.
type SeenRecord struct {
	LearnerID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"learner_id"`
	Fingerprint string    `gorm:"size:64;primaryKey" json:"fingerprint"`
	FirstSeenAt time.Time `gorm:"not null" json:"first_seen_at"`
}

func (SeenRecord) TableName() string { return "seen_record" }

// Attempt is one graded answer submission. Append-only.
type Attempt struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	LearnerID  uuid.UUID `gorm:"type:uuid;not null;index:idx_attempt_learner_time,priority:1" json:"learner_id"`
	QuestionID uuid.UUID `gorm:"type:uuid;not null;index" json:"question_id"`
	Selected   string    `gorm:"not null" json:"selected"`
	Correct    bool      `gorm:"not null" json:"correct"`
	ElapsedMS  int64     `gorm:"not null" json:"elapsed_ms"`
	CreatedAt  time.Time `gorm:"not null;index:idx_attempt_learner_time,priority:2" json:"created_at"`
}

func (Attempt) TableName() string { return "attempt" }

// Session groups a learner's attempts over a time window. At most one
// session per learner may be active (EndedAt null); the store enforces this
// with a partial unique index.
type Session struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	LearnerID uuid.UUID  `gorm:"type:uuid;not null;index" json:"learner_id"`
	Subject   string     `json:"subject,omitempty"`
	Topic     string     `json:"topic,omitempty"`
	Subtopic  string     `json:"subtopic,omitempty"`
	StartedAt time.Time  `gorm:"not null" json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func (Session) TableName() string { return "session" }

// Active reports whether the session is still open.
func (s Session) Active() bool { return s.EndedAt == nil }

// SubjectProgress is the per-subject slice of a learner's progress.
type SubjectProgress struct {
	Attempted   int `json:"attempted"`
	Correct     int `json:"correct"`
	AccuracyPct int `json:"accuracy_pct"`
}

// Progress is the learner-wide progress aggregate. Subject keys are
// title-cased for display.
type Progress struct {
	Attempted     int                        `json:"attempted"`
	Correct       int                        `json:"correct"`
	AccuracyPct   int                        `json:"accuracy_pct"`
	CurrentStreak int                        `json:"current_streak"`
	BySubject     map[string]SubjectProgress `json:"by_subject"`
}

// SessionSummary is the computed summary of one session.
type SessionSummary struct {
	Session            Session  `json:"session"`
	QuestionsAttempted int      `json:"questions_attempted"`
	QuestionsCorrect   int      `json:"questions_correct"`
	AccuracyPct        int      `json:"accuracy_pct"`
	TotalElapsedMS     int64    `json:"total_elapsed_ms"`
	AvgElapsedMS       int64    `json:"avg_elapsed_ms"`
	SubjectsPracticed  []string `json:"subjects_practiced"`
}

// FetchResult is what a batch fetch returns to the caller. Scope fields are
// in display (title-cased) form.
type FetchResult struct {
	Questions []Question `json:"questions"`
	Subject   string     `json:"subject"`
	Topic     string     `json:"topic"`
	Subtopic  string     `json:"subtopic"`
	SessionID uuid.UUID  `json:"session_id"`
	Deficit   int        `json:"deficit"`
}

// GradeResult is the outcome of submitting an answer. The expected answer
// is always disclosed so the client can render feedback.
type GradeResult struct {
	Correct        bool   `json:"correct"`
	ExpectedAnswer string `json:"expected_answer"`
	Rationale      string `json:"rationale,omitempty"`
}
