package engine

import "github.com/quizforge/quizforge/pkg/models"

// DifficultyPreference maps a learner's attempt summary, taken across all
// subjects, to an ordered preference list. The batch picker fills from the
// first tier and falls back through the rest.
//
// New learners get easy with a medium fallback. Sustained mastery (at
// least 95% over at least 10 attempts) leads with medium; solid accuracy
// (80% or better) opens all three tiers; anything weaker stays on easy.
func DifficultyPreference(totalAttempts, totalCorrect int) []models.Difficulty {
	if totalAttempts == 0 {
		return []models.Difficulty{models.DifficultyEasy, models.DifficultyMedium}
	}

	accuracy := float64(totalCorrect) / float64(totalAttempts)
	switch {
	case accuracy >= 0.95 && totalAttempts >= 10:
		return []models.Difficulty{models.DifficultyMedium, models.DifficultyHard, models.DifficultyEasy}
	case accuracy >= 0.80:
		return []models.Difficulty{models.DifficultyEasy, models.DifficultyMedium, models.DifficultyHard}
	default:
		return []models.Difficulty{models.DifficultyEasy}
	}
}
