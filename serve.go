package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"melodyquest/database"
	"melodyquest/handlers"
	"melodyquest/internal/keylock"
	"melodyquest/models"
	"melodyquest/quiz/bus"
	"melodyquest/quiz/events"
	"melodyquest/quiz/game"
	"melodyquest/quiz/guess"
	"melodyquest/quiz/presence"
	"melodyquest/utils"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, configFile string, flags *pflag.FlagSet) error {
	config, err := database.LoadConfig(configFile, flags)
	if err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return err
	}

	logger, err := utils.InitLogger(config.LogLevel, config.LogDevelopment)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if !config.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Open(config, logger)
	if err != nil {
		return err
	}
	if config.AutoMigrate {
		if err := database.AutoMigrate(db); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		logger.Info("Database schema migrated")
	}

	eventBus, sessions, err := openBus(config, logger)
	if err != nil {
		return err
	}
	defer eventBus.Close()

	locks := &keylock.Map{}
	catalog := database.NewCatalog(db)
	users := database.NewUsers(db)
	orchestrator := game.NewOrchestrator(db, catalog, users, eventBus, locks, config.Rules(), logger)
	resolver := guess.NewResolver(db, catalog, eventBus, locks, logger)
	gateway := presence.NewGateway(presence.Options{
		Secret:      []byte(config.RealtimeHMACSecret),
		Grace:       config.PresenceGrace,
		PingPeriod:  config.PingPeriod,
		PongWait:    config.PongWait,
		CheckOrigin: originChecker(config),
	}, sessions, logger)

	router := handlers.NewRouter(handlers.Deps{
		Config:   config,
		Users:    users,
		Games:    orchestrator,
		Guesses:  resolver,
		Realtime: gateway,
		Logger:   logger,
	})
	srv := &http.Server{
		Addr:              config.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	janitor, err := utils.StartJanitor(config.JanitorSpec, orchestrator, config.StaleGameAfter, logger)
	if err != nil {
		return fmt.Errorf("janitor: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Listening", zap.String("addr", config.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return eventBus.Subscribe(ctx, events.ChannelPattern, gateway.Dispatch)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		<-janitor.Stop().Done()
		gateway.Close()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openBus(config models.Config, logger *zap.Logger) (bus.Bus, presence.SessionStore, error) {
	if config.BusDriver == "memory" {
		logger.Warn("Using the in-process event bus; realtime events stay on this instance")
		return bus.NewMemoryBus(logger), presence.NewMemorySessions(), nil
	}
	rdb, err := database.InitRedis(config, logger)
	if err != nil {
		return nil, nil, err
	}
	return bus.NewRedisBus(rdb, logger), presence.NewRedisSessions(rdb, config.PresenceSession), nil
}

// originChecker allows every origin in development or when no origins are
// configured.
func originChecker(config models.Config) func(*http.Request) bool {
	if config.IsDevelopment() || len(config.AllowedOrigins) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(config.AllowedOrigins, origin)
	}
}

func runMigrate(configFile string, flags *pflag.FlagSet) error {
	config, err := database.LoadConfig(configFile, flags)
	if err != nil {
		return err
	}
	logger, err := utils.InitLogger(config.LogLevel, config.LogDevelopment)
	if err != nil {
		return err
	}
	defer logger.Sync()
	return database.RunMigrations(config, logger)
}
