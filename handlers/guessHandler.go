package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"melodyquest/middlewares"
)

type guessRequest struct {
	GuessText string `json:"guess_text"`
}

func (s *server) submitGuess(c *gin.Context) {
	roundID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req guessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	res, err := s.Guesses.SubmitGuess(c.Request.Context(), roundID, middlewares.UserID(c), req.GuessText)
	if err != nil {
		failWith(c, s.Logger, err)
		return
	}
	respond(c, http.StatusOK, res)
}
