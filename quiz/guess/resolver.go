// Package guess resolves guess submissions: it decides correctness, picks
// the single winner of a round and awards points.
package guess

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"melodyquest/database"
	"melodyquest/internal/keylock"
	"melodyquest/models"
	"melodyquest/quiz/bus"
	"melodyquest/quiz/errs"
	"melodyquest/quiz/events"
)

const maxGuessLength = 255

// Catalog is the part of the track catalog the resolver reads.
type Catalog interface {
	GetTrack(ctx context.Context, id uint) (models.Track, error)
	GetAnswers(ctx context.Context, trackID uint) ([]models.TrackAnswer, error)
}

type Result struct {
	IsCorrect bool `json:"is_correct"`
}

type Resolver struct {
	db        *gorm.DB
	catalog   Catalog
	publisher bus.Publisher
	locks     *keylock.Map
	logger    *zap.Logger
	now       func() time.Time
}

func NewResolver(db *gorm.DB, catalog Catalog, publisher bus.Publisher, locks *keylock.Map, logger *zap.Logger) *Resolver {
	return &Resolver{
		db:        db,
		catalog:   catalog,
		publisher: publisher,
		locks:     locks,
		logger:    logger,
		now:       time.Now,
	}
}

// RoundLockKey is the keylock key shared by everything that must serialize
// with guesses on a round.
func RoundLockKey(roundID uint) string {
	return "round:" + strconv.FormatUint(uint64(roundID), 10)
}

// outcome is what the atomic phase decided.
type outcome struct {
	isCorrect bool
	solved    bool
	gameID    uint
	trackID   uint
	award     Award
	scores    []events.ScoreEntry
}

// SubmitGuess records a guess for the round. The first correct guess wins
// the round; a correct guess on an already solved round is recorded and
// reported as correct without awarding anything.
func (r *Resolver) SubmitGuess(ctx context.Context, roundID, userID uint, rawText string) (Result, error) {
	text := strings.TrimSpace(rawText)

	var round models.Round
	if err := r.db.WithContext(ctx).First(&round, roundID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{}, errs.NotFound("ROUND_NOT_FOUND", fmt.Sprintf("round %d not found", roundID))
		}
		return Result{}, fmt.Errorf("load round %d: %w", roundID, err)
	}

	var game models.Game
	if err := r.db.WithContext(ctx).First(&game, round.GameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{}, errs.NotFound("GAME_NOT_FOUND", fmt.Sprintf("game %d not found", round.GameID))
		}
		return Result{}, fmt.Errorf("load game %d: %w", round.GameID, err)
	}
	if game.Status != models.GameStatusRunning {
		return Result{}, errs.New(errs.KindGameNotRunning, "game is not running")
	}
	if round.StartedAt == nil {
		return Result{}, errs.New(errs.KindRoundNotStarted, "round has not started yet")
	}
	if closedUnsolved(round) {
		return Result{}, errs.New(errs.KindRoundEnded, "round already ended")
	}

	var members int64
	if err := r.db.WithContext(ctx).Model(&models.GamePlayer{}).
		Where("game_id = ? AND user_id = ?", game.ID, userID).
		Count(&members).Error; err != nil {
		return Result{}, fmt.Errorf("check membership: %w", err)
	}
	if members == 0 {
		return Result{}, errs.New(errs.KindForbidden, "player is not part of this game")
	}

	if text == "" {
		return Result{}, errs.New(errs.KindValidation, "guess text is required")
	}
	if utf8.RuneCountInString(text) > maxGuessLength {
		return Result{}, errs.Newf(errs.KindValidation, "guess text is longer than %d characters", maxGuessLength)
	}

	answers, err := r.catalog.GetAnswers(ctx, round.TrackID)
	if err != nil {
		return Result{}, fmt.Errorf("load answers for track %d: %w", round.TrackID, err)
	}
	isCorrect := IsCorrect(text, answers)

	// The caller going away must not abort a resolution that is under way.
	ctx = context.WithoutCancel(ctx)

	unlock := r.locks.Lock(RoundLockKey(round.ID))
	out, err := r.resolve(ctx, round.ID, userID, text, isCorrect)
	unlock()
	if err != nil {
		return Result{}, err
	}

	if out.solved {
		r.logger.Info("Round solved",
			zap.Uint("gameID", out.gameID),
			zap.Uint("roundID", round.ID),
			zap.Uint("winnerID", userID),
			zap.Int("points", out.award.Total()),
		)
		r.announce(ctx, round.ID, userID, out)
	}
	return Result{IsCorrect: out.isCorrect}, nil
}

// resolve is the atomic phase. It runs in one transaction with the round row
// locked.
func (r *Resolver) resolve(ctx context.Context, roundID, userID uint, text string, isCorrect bool) (outcome, error) {
	out := outcome{isCorrect: isCorrect}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var round models.Round
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&round, roundID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound("ROUND_NOT_FOUND", fmt.Sprintf("round %d not found", roundID))
			}
			return err
		}
		if round.StartedAt == nil {
			return errs.New(errs.KindRoundNotStarted, "round has not started yet")
		}
		if closedUnsolved(round) {
			return errs.New(errs.KindRoundEnded, "round already ended")
		}
		out.gameID = round.GameID
		out.trackID = round.TrackID

		g := models.Guess{RoundID: round.ID, UserID: userID, GuessText: text, IsCorrect: isCorrect}
		if err := tx.Create(&g).Error; err != nil {
			return fmt.Errorf("record guess: %w", err)
		}
		if !isCorrect || round.WinnerUserID != nil {
			return nil
		}

		var game models.Game
		if err := tx.First(&game, round.GameID).Error; err != nil {
			return fmt.Errorf("load game %d: %w", round.GameID, err)
		}

		// Late correct guesses on rounds someone else won do not count.
		var prior []int
		if err := tx.Model(&models.Round{}).
			Where("game_id = ? AND round_number < ?", round.GameID, round.RoundNumber).
			Where("winner_user_id = ?", userID).
			Order("round_number DESC").
			Pluck("round_number", &prior).Error; err != nil {
			return fmt.Errorf("load previous wins: %w", err)
		}
		out.award = ComputeAward(game.Rules.Data(), round.RoundNumber, prior)

		now := r.now()
		res := tx.Model(&models.Round{}).
			Where("id = ? AND winner_user_id IS NULL", round.ID).
			Updates(map[string]any{
				"winner_user_id": userID,
				"ended_at":       now,
				"reveal_flag":    true,
			})
		if res.Error != nil {
			return fmt.Errorf("mark round solved: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return errs.New(errs.KindRoundEnded, "round already ended")
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "game_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).Create(&models.Score{GameID: round.GameID, UserID: userID}).Error; err != nil {
			return fmt.Errorf("create score: %w", err)
		}
		if err := tx.Model(&models.Score{}).
			Where("game_id = ? AND user_id = ?", round.GameID, userID).
			Updates(map[string]any{
				"points":     gorm.Expr("points + ?", out.award.Total()),
				"updated_at": now,
			}).Error; err != nil {
			return fmt.Errorf("increment score: %w", err)
		}

		scores, err := database.Scoreboard(ctx, tx, round.GameID)
		if err != nil {
			return err
		}
		out.scores = scores
		out.solved = true
		return nil
	})
	return out, err
}

// announce publishes the reveal and the new scoreboard. Called only after
// the transaction committed.
func (r *Resolver) announce(ctx context.Context, roundID, winnerID uint, out outcome) {
	solved := events.RoundSolved{
		GameID:       out.gameID,
		RoundID:      roundID,
		WinnerUserID: winnerID,
		Track:        events.Track{ID: out.trackID},
	}
	track, err := r.catalog.GetTrack(ctx, out.trackID)
	if err != nil {
		r.logger.Warn("Track lookup for reveal failed", zap.Uint("trackID", out.trackID), zap.Error(err))
	} else {
		solved.Track = events.Track{
			ID:             track.ID,
			Title:          track.Title,
			YoutubeVideoID: track.YoutubeVideoID,
			CoverImageURL:  track.CoverImageURL,
		}
	}

	channel := events.Channel(out.gameID)
	for _, ev := range []events.Event{solved, events.ScoreUpdated{GameID: out.gameID, Scores: out.scores}} {
		if err := r.publisher.Publish(ctx, channel, ev); err != nil {
			r.logger.Error("Failed to publish event", zap.String("type", string(ev.Type())), zap.Error(err))
		}
	}
}

// closedUnsolved reports a round that was closed without a winner, by the
// host advancing or ending the game.
func closedUnsolved(round models.Round) bool {
	return round.EndedAt != nil && round.WinnerUserID == nil
}
