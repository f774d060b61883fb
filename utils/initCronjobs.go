package utils

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StaleGameFinisher ends running games that nobody is driving any more.
type StaleGameFinisher interface {
	FinishStaleGames(ctx context.Context, staleAfter time.Duration) (int, error)
}

// StartJanitor schedules the stale game sweep and starts the scheduler.
// Callers stop it with Stop.
func StartJanitor(spec string, finisher StaleGameFinisher, staleAfter time.Duration, logger *zap.Logger) (*cron.Cron, error) {
	c := cron.New()

	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		logger.Info("Sweeping stale games", zap.Duration("staleAfter", staleAfter))
		n, err := finisher.FinishStaleGames(ctx, staleAfter)
		if err != nil {
			logger.Error("Failed to finish stale games", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Info("Finished stale games", zap.Int("games", n))
		}
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	return c, nil
}
