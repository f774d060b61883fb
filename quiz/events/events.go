// Package events defines the closed set of game events carried on the bus
// and forwarded to realtime clients.
package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Type is the bus-level discriminator of an event.
type Type string

const (
	TypeRoundStart   Type = "ROUND_START"
	TypeRoundSolved  Type = "ROUND_SOLVED"
	TypeScoreUpdate  Type = "SCORE_UPDATE"
	TypePlayerJoined Type = "PLAYER_JOINED"
	TypePlayerLeft   Type = "PLAYER_LEFT"
	TypeGameEnded    Type = "GAME_ENDED"
)

// ChannelPattern matches every game channel.
const ChannelPattern = "game:*"

// Event is implemented only by the types in this package.
type Event interface {
	// Type is the bus discriminator, e.g. ROUND_SOLVED.
	Type() Type
	// Name is the client-facing event name, e.g. round:solved.
	Name() string
	sealed()
}

type Track struct {
	ID             uint   `json:"id"`
	Title          string `json:"title"`
	YoutubeVideoID string `json:"youtube_video_id"`
	CoverImageURL  string `json:"cover_image_url"`
}

type ScoreEntry struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username,omitempty"`
	Points   int    `json:"points"`
}

type RoundStarted struct {
	GameID      uint `json:"game_id"`
	RoundID     uint `json:"round_id"`
	RoundNumber int  `json:"round_number"`
	TrackID     uint `json:"track_id"`
}

type RoundSolved struct {
	GameID       uint  `json:"game_id"`
	RoundID      uint  `json:"round_id"`
	WinnerUserID uint  `json:"winner_user_id"`
	Track        Track `json:"track"`
}

// ScoreUpdated carries the whole scoreboard, highest first.
type ScoreUpdated struct {
	GameID uint         `json:"game_id"`
	Scores []ScoreEntry `json:"scores"`
}

type PlayerJoined struct {
	GameID   uint   `json:"game_id"`
	UserID   uint   `json:"user_id"`
	Username string `json:"username,omitempty"`
}

type PlayerLeft struct {
	GameID uint `json:"game_id"`
	UserID uint `json:"user_id"`
}

type GameEnded struct {
	GameID uint         `json:"game_id"`
	Scores []ScoreEntry `json:"scores"`
}

func (RoundStarted) Type() Type { return TypeRoundStart }
func (RoundSolved) Type() Type  { return TypeRoundSolved }
func (ScoreUpdated) Type() Type { return TypeScoreUpdate }
func (PlayerJoined) Type() Type { return TypePlayerJoined }
func (PlayerLeft) Type() Type   { return TypePlayerLeft }
func (GameEnded) Type() Type    { return TypeGameEnded }

func (RoundStarted) Name() string { return "round:start" }
func (RoundSolved) Name() string  { return "round:solved" }
func (ScoreUpdated) Name() string { return "score:update" }
func (PlayerJoined) Name() string { return "player:joined" }
func (PlayerLeft) Name() string   { return "player:left" }
func (GameEnded) Name() string    { return "game:ended" }

func (RoundStarted) sealed() {}
func (RoundSolved) sealed()  {}
func (ScoreUpdated) sealed() {}
func (PlayerJoined) sealed() {}
func (PlayerLeft) sealed()   {}
func (GameEnded) sealed()    {}

// Encode renders ev as a flat JSON object with a leading "type" field.
func Encode(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Type(), err)
	}
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.WriteString(strconv.Quote(string(ev.Type())))
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// Decode parses a message produced by Encode.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	var ev Event
	var err error
	switch head.Type {
	case TypeRoundStart:
		ev, err = decodeAs[RoundStarted](data)
	case TypeRoundSolved:
		ev, err = decodeAs[RoundSolved](data)
	case TypeScoreUpdate:
		ev, err = decodeAs[ScoreUpdated](data)
	case TypePlayerJoined:
		ev, err = decodeAs[PlayerJoined](data)
	case TypePlayerLeft:
		ev, err = decodeAs[PlayerLeft](data)
	case TypeGameEnded:
		ev, err = decodeAs[GameEnded](data)
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return ev, nil
}

func decodeAs[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Channel returns the bus channel of a game.
func Channel(gameID uint) string {
	return "game:" + strconv.FormatUint(uint64(gameID), 10)
}

// ParseChannel extracts the game id from a channel name.
func ParseChannel(channel string) (uint, bool) {
	rest, ok := strings.CutPrefix(channel, "game:")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
