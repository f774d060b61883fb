// Package handlers exposes the game over HTTP and websocket.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"melodyquest/middlewares"
	"melodyquest/models"
	"melodyquest/quiz/bus"
	"melodyquest/quiz/game"
	"melodyquest/quiz/guess"
	"melodyquest/utils"
)

type Identity interface {
	FindOrCreateUser(ctx context.Context, username string) (models.User, error)
}

type Games interface {
	CreateGame(ctx context.Context, hostUserID uint, roundCount int, categoryIDs []uint) (models.Game, error)
	AddPlayer(ctx context.Context, gameID, userID uint) (game.Membership, error)
	StartGame(ctx context.Context, gameID, initiatorID uint) (models.Round, error)
	NextRound(ctx context.Context, gameID, initiatorID uint) (models.Round, error)
	EndGame(ctx context.Context, gameID, initiatorID uint) (models.Game, error)
	GetState(ctx context.Context, gameID uint) (game.State, error)
}

type Guesses interface {
	SubmitGuess(ctx context.Context, roundID, userID uint, text string) (guess.Result, error)
}

type Realtime interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	Online(ctx context.Context, gameID uint) ([]uint, error)
	Dispatch(msg bus.Message)
}

type Deps struct {
	Config   models.Config
	Users    Identity
	Games    Games
	Guesses  Guesses
	Realtime Realtime
	Logger   *zap.Logger
}

type server struct {
	Deps
	jwtSecret   []byte
	proofSecret []byte
}

func NewRouter(deps Deps) *gin.Engine {
	s := &server{
		Deps:        deps,
		jwtSecret:   []byte(deps.Config.JWTSecret),
		proofSecret: []byte(deps.Config.RealtimeHMACSecret),
	}

	router := gin.New()
	router.Use(gin.Recovery(), utils.RequestLogger(deps.Logger))
	router.Use(cors.New(corsConfig(deps.Config)))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	router.GET("/ws", func(c *gin.Context) {
		s.Realtime.ServeWS(c.Writer, c.Request)
	})

	internal := router.Group("/internal", s.internalAuth(), s.rateLimit(newIPLimiter(broadcastRate, broadcastBurst)))
	internal.POST("/broadcast", s.broadcast)

	api := router.Group("/api")
	api.POST("/users", s.createUser)

	authed := api.Group("", middlewares.AuthMiddleware(s.jwtSecret, deps.Config.JWTTTL, deps.Logger))
	authed.POST("/token/guest", s.guestToken)
	authed.POST("/games", s.createGame)
	authed.POST("/games/:id/join", s.joinGame)
	authed.POST("/games/:id/start", s.startGame)
	authed.POST("/games/:id/next", s.nextRound)
	authed.POST("/games/:id/end", s.endGame)
	authed.GET("/games/:id/state", s.gameState)
	authed.GET("/games/:id/presence", s.presence)
	authed.POST("/rounds/:id/guess", s.submitGuess)

	return router
}

func corsConfig(config models.Config) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(config.AllowedOrigins) == 0 || config.IsDevelopment() {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = config.AllowedOrigins
	}
	return cfg
}
