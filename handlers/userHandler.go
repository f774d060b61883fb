package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"melodyquest/auth"
	"melodyquest/middlewares"
	"melodyquest/models"
)

type createUserRequest struct {
	Username string `json:"username" binding:"required,min=1,max=64"`
}

type userResponse struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

func (s *server) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	user, err := s.Users.FindOrCreateUser(c.Request.Context(), req.Username)
	if err != nil {
		failWith(c, s.Logger, err)
		return
	}
	token, err := auth.IssueSessionToken(s.jwtSecret, user, s.Config.JWTTTL)
	if err != nil {
		failWith(c, s.Logger, err)
		return
	}
	s.Logger.Info("User signed in", zap.Uint("userID", user.ID))
	respond(c, http.StatusOK, userResponse{User: user, Token: token})
}

type guestTokenResponse struct {
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

// guestToken returns the proof a client presents when joining a game room.
func (s *server) guestToken(c *gin.Context) {
	userID, username := middlewares.UserID(c), middlewares.Username(c)
	respond(c, http.StatusOK, guestTokenResponse{
		UserID:   userID,
		Username: username,
		Token:    auth.SignProof(s.proofSecret, userID, username),
	})
}
