package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"melodyquest/middlewares"
)

type createGameRequest struct {
	RoundCount  int    `json:"round_count" binding:"required,min=1,max=50"`
	CategoryIDs []uint `json:"category_ids" binding:"required,min=1,dive,gt=0"`
}

func (s *server) createGame(c *gin.Context) {
	var req createGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	g, err := s.Games.CreateGame(c.Request.Context(), middlewares.UserID(c), req.RoundCount, req.CategoryIDs)
	if err != nil {
		failWith(c, s.Logger, err)
		return
	}
	respond(c, http.StatusCreated, g)
}

func (s *server) joinGame(c *gin.Context) {
	gameID, ok := pathID(c, "id")
	if !ok {
		return
	}
	m, err := s.Games.AddPlayer(c.Request.Context(), gameID, middlewares.UserID(c))
	if err != nil {
		failWith(c, s.Logger, err)
		return
	}
	status := http.StatusOK
	if m.Created {
		status = http.StatusCreated
	}
	respond(c, status, m)
}

func (s *server) startGame(c *gin.Context) {
	gameID, ok := pathID(c, "id")
	if !ok {
		return
	}
	round, err := s.Games.StartGame(c.Request.Context(), gameID, middlewares.UserID(c))
	if err != nil {
		failWith(c, s.Logger, err)
		return
	}
	respond(c, http.StatusOK, round)
}

func (s *server) nextRound(c *gin.Context) {
	gameID, ok := pathID(c, "id")
	if !ok {
		return
	}
	round, err := s.Games.NextRound(c.Request.Context(), gameID, middlewares.UserID(c))
	if err != nil {
		failWith(c, s.Logger, err)
		return
	}
	respond(c, http.StatusOK, round)
}

func (s *server) endGame(c *gin.Context) {
	gameID, ok := pathID(c, "id")
	if !ok {
		return
	}
	g, err := s.Games.EndGame(c.Request.Context(), gameID, middlewares.UserID(c))
	if err != nil {
		failWith(c, s.Logger, err)
		return
	}
	respond(c, http.StatusOK, g)
}

func (s *server) gameState(c *gin.Context) {
	gameID, ok := pathID(c, "id")
	if !ok {
		return
	}
	st, err := s.Games.GetState(c.Request.Context(), gameID)
	if err != nil {
		failWith(c, s.Logger, err)
		return
	}
	respond(c, http.StatusOK, st)
}

type presenceResponse struct {
	GameID uint   `json:"game_id"`
	Online []uint `json:"online"`
}

// presence lists the users connected to the game on any instance.
func (s *server) presence(c *gin.Context) {
	gameID, ok := pathID(c, "id")
	if !ok {
		return
	}
	online, err := s.Realtime.Online(c.Request.Context(), gameID)
	if err != nil {
		failWith(c, s.Logger, err)
		return
	}
	respond(c, http.StatusOK, presenceResponse{GameID: gameID, Online: online})
}
