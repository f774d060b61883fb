package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKind(t *testing.T) {
	err := NotFound("GAME_NOT_FOUND", "game 4 does not exist")
	wrapped := fmt.Errorf("start game: %w", err)

	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrForbidden))
	assert.True(t, errors.Is(wrapped, &Error{Kind: KindNotFound, Code: "GAME_NOT_FOUND"}))
	assert.False(t, errors.Is(wrapped, &Error{Kind: KindNotFound, Code: "USER_NOT_FOUND"}))
}

func TestCodeAndKindOf(t *testing.T) {
	err := fmt.Errorf("guess: %w", New(KindRoundEnded, "round already ended"))

	assert.Equal(t, "ROUND_ENDED", CodeOf(err))
	assert.Equal(t, KindRoundEnded, KindOf(err))
	assert.Equal(t, "", CodeOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "NO_ROUNDS: no rounds left", New(KindNoRounds, "no rounds left").Error())
	assert.Equal(t, "FORBIDDEN", (&Error{Kind: KindForbidden, Code: "FORBIDDEN"}).Error())
	assert.Equal(t, "NOT_ENOUGH_TRACKS: need 3, have 1", Newf(KindNotEnoughTracks, "need %d, have %d", 3, 1).Error())
}
