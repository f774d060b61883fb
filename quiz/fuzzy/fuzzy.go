// Package fuzzy decides whether a guess is close enough to one of the
// accepted answers.
package fuzzy

import (
	"github.com/agnivade/levenshtein"

	"melodyquest/quiz/textnorm"
)

// Threshold is the largest edit distance accepted for a normalized answer of
// the given length.
func Threshold(answerLen int) int {
	return max(2, answerLen/5)
}

// IsMatch reports whether the normalized guess is within Threshold edits of
// any normalized candidate. Empty guesses and empty candidates never match.
func IsMatch(guess string, candidates []string) bool {
	g := textnorm.Normalize(guess)
	if g == "" {
		return false
	}
	for _, candidate := range candidates {
		a := textnorm.Normalize(candidate)
		if a == "" {
			continue
		}
		if levenshtein.ComputeDistance(g, a) <= Threshold(len(a)) {
			return true
		}
	}
	return false
}
