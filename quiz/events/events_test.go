package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFlattensType(t *testing.T) {
	data, err := Encode(RoundSolved{
		GameID:       3,
		RoundID:      7,
		WinnerUserID: 2,
		Track:        Track{ID: 9, Title: "Halo", YoutubeVideoID: "bnVUHWCynig"},
	})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "ROUND_SOLVED", raw["type"])
	assert.EqualValues(t, 7, raw["round_id"])
	assert.EqualValues(t, 2, raw["winner_user_id"])
	assert.Equal(t, "Halo", raw["track"].(map[string]any)["title"])
}

func TestDecodeEveryVariant(t *testing.T) {
	all := []Event{
		RoundStarted{GameID: 1, RoundID: 2, RoundNumber: 1, TrackID: 5},
		RoundSolved{GameID: 1, RoundID: 2, WinnerUserID: 4, Track: Track{ID: 5}},
		ScoreUpdated{GameID: 1, Scores: []ScoreEntry{{UserID: 4, Points: 2}, {UserID: 3, Points: 1}}},
		PlayerJoined{GameID: 1, UserID: 3, Username: "kim"},
		PlayerLeft{GameID: 1, UserID: 3},
		GameEnded{GameID: 1, Scores: []ScoreEntry{{UserID: 4, Points: 2}}},
	}
	names := map[string]bool{}
	for _, ev := range all {
		data, err := Encode(ev)
		require.NoError(t, err)
		got, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, ev, got)
		names[got.Name()] = true
	}
	assert.Len(t, names, 6)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"CHAT"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "game:42", Channel(42))

	id, ok := ParseChannel("game:42")
	assert.True(t, ok)
	assert.Equal(t, uint(42), id)

	for _, ch := range []string{"game:", "game:x", "room:1", "game:0"} {
		_, ok := ParseChannel(ch)
		assert.False(t, ok, ch)
	}
}
