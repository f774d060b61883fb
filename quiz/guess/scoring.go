package guess

import (
	"slices"

	"melodyquest/models"
	"melodyquest/quiz/fuzzy"
	"melodyquest/quiz/textnorm"
)

// Award is the breakdown of points for a winning guess.
type Award struct {
	Base        int `json:"base"`
	FirstBlood  int `json:"first_blood"`
	Streak      int `json:"streak"`
	StreakCount int `json:"streak_count"`
}

func (a Award) Total() int {
	return a.Base + a.FirstBlood + a.Streak
}

// ComputeAward scores a win in roundNumber. priorWins holds the round
// numbers, lower than roundNumber, that the user already won in the same
// game; order and duplicates do not matter.
func ComputeAward(rules models.ScoringRules, roundNumber int, priorWins []int) Award {
	var a Award
	if rules.BasePoints > 0 {
		a.Base = rules.BasePoints
	}

	earlier := make([]int, 0, len(priorWins))
	for _, n := range priorWins {
		if n < roundNumber {
			earlier = append(earlier, n)
		}
	}
	if len(earlier) == 0 && rules.FirstBloodBonus > 0 {
		a.FirstBlood = rules.FirstBloodBonus
	}

	slices.Sort(earlier)
	earlier = slices.Compact(earlier)
	expected := roundNumber - 1
	for i := len(earlier) - 1; i >= 0 && earlier[i] == expected; i-- {
		a.StreakCount++
		expected--
	}
	if rules.StreakLength > 0 && a.StreakCount+1 >= rules.StreakLength && rules.StreakBonus > 0 {
		a.Streak = rules.StreakBonus
	}
	return a
}

// IsCorrect checks text against the answers: exact match on the normalized
// form first, then the fuzzy matcher against the raw answer texts.
func IsCorrect(text string, answers []models.TrackAnswer) bool {
	normalized := textnorm.Normalize(text)
	if normalized == "" {
		return false
	}
	raw := make([]string, 0, len(answers))
	for _, answer := range answers {
		stored := answer.Normalized
		if stored == "" {
			stored = textnorm.Normalize(answer.AnswerText)
		}
		if stored == normalized {
			return true
		}
		raw = append(raw, answer.AnswerText)
	}
	return fuzzy.IsMatch(text, raw)
}
