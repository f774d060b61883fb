package fuzzy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThreshold(t *testing.T) {
	assert.Equal(t, 2, Threshold(0))
	assert.Equal(t, 2, Threshold(10))
	assert.Equal(t, 2, Threshold(14))
	assert.Equal(t, 3, Threshold(15))
	assert.Equal(t, 6, Threshold(32))
}

func TestIsMatchBoundary(t *testing.T) {
	answers := []string{"abcdefghij"} // length 10, threshold 2

	assert.True(t, IsMatch("abcdefghij", answers))
	assert.True(t, IsMatch("abcdefghXY", answers), "distance 2")
	assert.False(t, IsMatch("abcdefgXYZ", answers), "distance 3")
}

func TestIsMatchNormalizesBothSides(t *testing.T) {
	assert.True(t, IsMatch("  BOHEMIAN rhapsody!! ", []string{"Bohemian Rhapsody"}))
	assert.True(t, IsMatch("Cafe del mar", []string{"Café Del Mar"}))
	assert.True(t, IsMatch("bohemain rapsody", []string{"Bohemian Rhapsody"}))
}

func TestIsMatchAnyCandidate(t *testing.T) {
	answers := []string{"", "!!!", "Smells Like Teen Spirit", "Nirvana"}

	assert.True(t, IsMatch("nirvana", answers))
	assert.True(t, IsMatch("nirvana", []string{"Nirvana", "Smells Like Teen Spirit"}))
	assert.False(t, IsMatch("metallica", answers))
}

func TestIsMatchEmptyGuess(t *testing.T) {
	assert.False(t, IsMatch("", []string{""}))
	assert.False(t, IsMatch("  ?! ", []string{"ab"}))
	assert.False(t, IsMatch("abc", nil))
}
