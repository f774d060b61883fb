package guess

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"melodyquest/models"
)

var defaultRules = models.ScoringRules{BasePoints: 1, FirstBloodBonus: 1, StreakLength: 3, StreakBonus: 1}

func TestComputeAwardFirstBlood(t *testing.T) {
	first := ComputeAward(defaultRules, 1, nil)
	assert.Equal(t, Award{Base: 1, FirstBlood: 1}, first)
	assert.Equal(t, 2, first.Total())

	later := ComputeAward(defaultRules, 4, []int{2})
	assert.Zero(t, later.FirstBlood)
}

func TestComputeAwardStreak(t *testing.T) {
	withStreak := ComputeAward(defaultRules, 3, []int{1, 2})
	assert.Equal(t, 2, withStreak.StreakCount)
	assert.Equal(t, 1, withStreak.Streak)
	assert.Equal(t, 2, withStreak.Total())

	gap := ComputeAward(defaultRules, 3, []int{1})
	assert.Equal(t, 0, gap.StreakCount)
	assert.Zero(t, gap.Streak)

	unordered := ComputeAward(defaultRules, 5, []int{4, 1, 3, 3, 4})
	assert.Equal(t, 2, unordered.StreakCount)
	assert.Equal(t, 1, unordered.Streak)
}

func TestComputeAwardIgnoresLaterRounds(t *testing.T) {
	a := ComputeAward(defaultRules, 2, []int{2, 3})
	assert.Equal(t, 1, a.FirstBlood)
	assert.Zero(t, a.StreakCount)
}

func TestComputeAwardDisabledComponents(t *testing.T) {
	assert.Equal(t, 0, ComputeAward(models.ScoringRules{}, 3, []int{1, 2}).Total())

	onlyStreak := models.ScoringRules{StreakLength: 1, StreakBonus: 5}
	assert.Equal(t, 5, ComputeAward(onlyStreak, 1, nil).Total())

	noThreshold := models.ScoringRules{BasePoints: 2, StreakLength: 0, StreakBonus: 5}
	assert.Equal(t, 2, ComputeAward(noThreshold, 3, []int{1, 2}).Total())
}

func TestIsCorrect(t *testing.T) {
	answers := []models.TrackAnswer{
		{AnswerText: "Bohemian Rhapsody", Normalized: "bohemian rhapsody"},
		{AnswerText: "Queen"},
	}
	assert.True(t, IsCorrect("BOHEMIAN RHAPSODY!", answers))
	assert.True(t, IsCorrect("queen", answers))
	assert.True(t, IsCorrect("bohemian rapsody", answers))
	assert.False(t, IsCorrect("we will rock you", answers))
	assert.False(t, IsCorrect("  ", answers))
	assert.False(t, IsCorrect("queen", nil))
}
