package engine

import (
	"slices"
	"testing"

	"github.com/quizforge/quizforge/pkg/models"
)

func TestDifficultyPreference(t *testing.T) {
	easy := models.DifficultyEasy
	medium := models.DifficultyMedium
	hard := models.DifficultyHard

	tests := []struct {
		name     string
		attempts int
		correct  int
		want     []models.Difficulty
	}{
		{"no attempts", 0, 0, []models.Difficulty{easy, medium}},
		{"mastery at the attempt floor", 10, 10, []models.Difficulty{medium, hard, easy}},
		{"perfect but below the floor", 9, 9, []models.Difficulty{easy, medium, hard}},
		{"strong accuracy", 100, 80, []models.Difficulty{easy, medium, hard}},
		{"just under eighty percent", 100, 79, []models.Difficulty{easy}},
		{"struggling", 4, 1, []models.Difficulty{easy}},
		{"mastery with long history", 40, 39, []models.Difficulty{medium, hard, easy}},
		{"single correct attempt", 1, 1, []models.Difficulty{easy, medium, hard}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DifficultyPreference(tt.attempts, tt.correct)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Expected preference %v for %d/%d, got %v", tt.want, tt.correct, tt.attempts, got)
			}
		})
	}
}
