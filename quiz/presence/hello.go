package presence

import (
	"encoding/json"
	"net/url"
	"strconv"
)

// HelloPayload is the join handshake. It arrives in the connection query
// string or as the data of the first "hello" message.
type HelloPayload struct {
	GameID   uint   `json:"gameId" validate:"required,gt=0"`
	UserID   uint   `json:"userId" validate:"required,gt=0"`
	Username string `json:"username" validate:"required,min=1,max=128"`
	Token    string `json:"token" validate:"required"`
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type helloOK struct {
	SessionID string `json:"sessionId"`
	GameID    uint   `json:"gameId"`
	UserID    uint   `json:"userId"`
}

type helloError struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// helloFromQuery reports whether the query carries a handshake and parses
// it. Malformed numbers leave the field zero for validation to reject.
func helloFromQuery(q url.Values) (HelloPayload, bool) {
	if !q.Has("token") && !q.Has("userId") && !q.Has("gameId") {
		return HelloPayload{}, false
	}
	return HelloPayload{
		GameID:   parseID(q.Get("gameId")),
		UserID:   parseID(q.Get("userId")),
		Username: q.Get("username"),
		Token:    q.Get("token"),
	}, true
}

func parseID(s string) uint {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return uint(n)
}
