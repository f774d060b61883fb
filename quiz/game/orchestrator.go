// Package game drives the game lifecycle: LOBBY -> RUNNING -> ENDED.
package game

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"melodyquest/database"
	"melodyquest/internal/keylock"
	"melodyquest/models"
	"melodyquest/quiz/bus"
	"melodyquest/quiz/errs"
	"melodyquest/quiz/events"
)

const maxRoundCount = 50

type Catalog interface {
	GetTrack(ctx context.Context, id uint) (models.Track, error)
	SelectRandomTracks(ctx context.Context, categoryIDs []uint, count int) ([]uint, error)
}

type Identity interface {
	GetUser(ctx context.Context, id uint) (models.User, error)
}

type Orchestrator struct {
	db        *gorm.DB
	catalog   Catalog
	users     Identity
	publisher bus.Publisher
	locks     *keylock.Map
	rules     models.ScoringRules
	logger    *zap.Logger
	now       func() time.Time
}

func NewOrchestrator(db *gorm.DB, catalog Catalog, users Identity, publisher bus.Publisher, locks *keylock.Map, rules models.ScoringRules, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		db:        db,
		catalog:   catalog,
		users:     users,
		publisher: publisher,
		locks:     locks,
		rules:     rules,
		logger:    logger,
		now:       time.Now,
	}
}

func gameLockKey(gameID uint) string {
	return "game:" + strconv.FormatUint(uint64(gameID), 10)
}

func gameNotFound(gameID uint) error {
	return errs.NotFound("GAME_NOT_FOUND", fmt.Sprintf("game %d not found", gameID))
}

// CreateGame creates a game in LOBBY with the given category filters and
// enrolls the host. The current scoring rules are stored with the game.
func (o *Orchestrator) CreateGame(ctx context.Context, hostUserID uint, roundCount int, categoryIDs []uint) (models.Game, error) {
	if roundCount < 1 || roundCount > maxRoundCount {
		return models.Game{}, errs.Newf(errs.KindValidation, "round count must be between 1 and %d", maxRoundCount)
	}
	if _, err := o.users.GetUser(ctx, hostUserID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return models.Game{}, errs.NotFound("HOST_NOT_FOUND", fmt.Sprintf("host %d not found", hostUserID))
		}
		return models.Game{}, err
	}

	categoryIDs = slices.Clone(categoryIDs)
	slices.Sort(categoryIDs)
	categoryIDs = slices.Compact(categoryIDs)
	if len(categoryIDs) > 0 {
		var found int64
		if err := o.db.WithContext(ctx).Model(&models.Category{}).Where("id IN ?", categoryIDs).Count(&found).Error; err != nil {
			return models.Game{}, fmt.Errorf("check categories: %w", err)
		}
		if int(found) != len(categoryIDs) {
			return models.Game{}, errs.NotFound("CATEGORY_NOT_FOUND", "one or more categories do not exist")
		}
	}

	game := models.Game{
		HostUserID: hostUserID,
		Status:     models.GameStatusLobby,
		RoundCount: roundCount,
		Rules:      datatypes.NewJSONType(o.rules),
	}
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&game).Error; err != nil {
			return fmt.Errorf("create game: %w", err)
		}
		for _, id := range categoryIDs {
			if err := tx.Create(&models.GameCategory{GameID: game.ID, CategoryID: id}).Error; err != nil {
				return fmt.Errorf("attach category %d: %w", id, err)
			}
		}
		if err := tx.Create(&models.GamePlayer{GameID: game.ID, UserID: hostUserID}).Error; err != nil {
			return fmt.Errorf("enroll host: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Game{}, err
	}

	o.logger.Info("Game created", zap.Uint("gameID", game.ID), zap.Uint("hostID", hostUserID), zap.Int("rounds", roundCount))
	return game, nil
}

// Membership is the result of AddPlayer. Created is false when the user had
// already joined.
type Membership struct {
	Player  models.GamePlayer `json:"player"`
	User    models.User       `json:"user"`
	Created bool              `json:"created"`
}

// AddPlayer enrolls a user. Joining twice returns the existing membership
// and publishes nothing.
func (o *Orchestrator) AddPlayer(ctx context.Context, gameID, userID uint) (Membership, error) {
	db := o.db.WithContext(ctx)

	var game models.Game
	if err := db.First(&game, gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Membership{}, gameNotFound(gameID)
		}
		return Membership{}, err
	}
	user, err := o.users.GetUser(ctx, userID)
	if err != nil {
		return Membership{}, err
	}

	m := Membership{User: user}
	err = db.Where("game_id = ? AND user_id = ?", gameID, userID).First(&m.Player).Error
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Membership{}, err
	}

	m.Player = models.GamePlayer{GameID: gameID, UserID: userID}
	if err := db.Create(&m.Player).Error; err != nil {
		if !database.IsUniqueViolation(err) {
			return Membership{}, fmt.Errorf("add player: %w", err)
		}
		// Lost a concurrent join of the same user.
		m.Player = models.GamePlayer{}
		if err := db.Where("game_id = ? AND user_id = ?", gameID, userID).First(&m.Player).Error; err != nil {
			return Membership{}, err
		}
		return m, nil
	}
	m.Created = true

	o.publish(ctx, gameID, events.PlayerJoined{GameID: gameID, UserID: userID, Username: user.Username})
	return m, nil
}

// StartGame draws the round tracks, starts round 1 and moves the game to
// RUNNING. Only the host may start and only from LOBBY.
func (o *Orchestrator) StartGame(ctx context.Context, gameID, initiatorID uint) (models.Round, error) {
	unlock := o.locks.Lock(gameLockKey(gameID))
	defer unlock()

	db := o.db.WithContext(ctx)
	var game models.Game
	if err := db.First(&game, gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Round{}, gameNotFound(gameID)
		}
		return models.Round{}, err
	}
	if game.HostUserID != initiatorID {
		return models.Round{}, errs.New(errs.KindForbidden, "only the host can start the game")
	}
	if game.Status != models.GameStatusLobby {
		return models.Round{}, errs.New(errs.KindGameAlreadyStarted, "game already started")
	}

	var categoryIDs []uint
	if err := db.Model(&models.GameCategory{}).Where("game_id = ?", gameID).Order("category_id").
		Pluck("category_id", &categoryIDs).Error; err != nil {
		return models.Round{}, fmt.Errorf("load categories: %w", err)
	}
	if len(categoryIDs) == 0 {
		return models.Round{}, errs.New(errs.KindNoCategories, "game has no categories")
	}

	trackIDs, err := o.catalog.SelectRandomTracks(ctx, categoryIDs, game.RoundCount)
	if err != nil {
		return models.Round{}, fmt.Errorf("select tracks: %w", err)
	}
	if len(trackIDs) < game.RoundCount {
		return models.Round{}, errs.Newf(errs.KindNotEnoughTracks, "need %d tracks, catalog has %d", game.RoundCount, len(trackIDs))
	}

	ctx = context.WithoutCancel(ctx)
	var first models.Round
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&game, gameID).Error; err != nil {
			return err
		}
		if game.Status != models.GameStatusLobby {
			return errs.New(errs.KindGameAlreadyStarted, "game already started")
		}

		stale := tx.Model(&models.Round{}).Select("id").Where("game_id = ?", gameID)
		if err := tx.Where("round_id IN (?)", stale).Delete(&models.Guess{}).Error; err != nil {
			return fmt.Errorf("clear guesses: %w", err)
		}
		if err := tx.Where("game_id = ?", gameID).Delete(&models.Round{}).Error; err != nil {
			return fmt.Errorf("clear rounds: %w", err)
		}

		now := o.now()
		rounds := make([]models.Round, game.RoundCount)
		for i := range rounds {
			rounds[i] = models.Round{GameID: gameID, RoundNumber: i + 1, TrackID: trackIDs[i]}
		}
		rounds[0].StartedAt = &now
		if err := tx.Create(&rounds).Error; err != nil {
			return fmt.Errorf("create rounds: %w", err)
		}
		first = rounds[0]

		if err := tx.Model(&game).Updates(map[string]any{
			"status":     models.GameStatusRunning,
			"started_at": now,
		}).Error; err != nil {
			return fmt.Errorf("mark game running: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Round{}, err
	}

	o.logger.Info("Game started", zap.Uint("gameID", gameID), zap.Int("rounds", game.RoundCount))
	o.publish(ctx, gameID, roundStarted(first))
	return first, nil
}

// NextRound closes the current round, if still open, and starts the next
// one that has not started.
func (o *Orchestrator) NextRound(ctx context.Context, gameID, initiatorID uint) (models.Round, error) {
	unlock := o.locks.Lock(gameLockKey(gameID))
	defer unlock()

	game, err := o.hostGame(ctx, gameID, initiatorID)
	if err != nil {
		return models.Round{}, err
	}
	if game.Status != models.GameStatusRunning {
		return models.Round{}, errs.New(errs.KindGameNotRunning, "game is not running")
	}

	ctx = context.WithoutCancel(ctx)
	var next models.Round
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&game, gameID).Error; err != nil {
			return err
		}
		if game.Status != models.GameStatusRunning {
			return errs.New(errs.KindGameNotRunning, "game is not running")
		}

		var rounds []models.Round
		if err := tx.Where("game_id = ?", gameID).Order("round_number").Find(&rounds).Error; err != nil {
			return err
		}
		i := slices.IndexFunc(rounds, func(r models.Round) bool { return r.StartedAt == nil })
		if i < 0 {
			return errs.New(errs.KindNoRounds, "no rounds left")
		}

		now := o.now()
		if err := closeOpenRounds(tx, gameID, now); err != nil {
			return err
		}
		next = rounds[i]
		next.StartedAt = &now
		next.EndedAt = nil
		next.WinnerUserID = nil
		next.RevealFlag = false
		if err := tx.Model(&models.Round{}).Where("id = ?", next.ID).Updates(map[string]any{
			"started_at":     now,
			"ended_at":       nil,
			"winner_user_id": nil,
			"reveal_flag":    false,
		}).Error; err != nil {
			return fmt.Errorf("start round %d: %w", next.RoundNumber, err)
		}
		return tx.Model(&game).Update("updated_at", now).Error
	})
	if err != nil {
		return models.Round{}, err
	}

	o.logger.Info("Round started", zap.Uint("gameID", gameID), zap.Int("round", next.RoundNumber))
	o.publish(ctx, gameID, roundStarted(next))
	return next, nil
}

// EndGame finishes a running game on the host's request.
func (o *Orchestrator) EndGame(ctx context.Context, gameID, initiatorID uint) (models.Game, error) {
	unlock := o.locks.Lock(gameLockKey(gameID))
	defer unlock()

	game, err := o.hostGame(ctx, gameID, initiatorID)
	if err != nil {
		return models.Game{}, err
	}
	if game.Status != models.GameStatusRunning {
		return models.Game{}, errs.New(errs.KindGameNotRunning, "game is not running")
	}
	return o.finish(context.WithoutCancel(ctx), gameID)
}

// FinishStaleGames ends running games whose rounds are all over, or that
// have not changed since staleAfter. It returns how many were ended.
func (o *Orchestrator) FinishStaleGames(ctx context.Context, staleAfter time.Duration) (int, error) {
	var running []models.Game
	if err := o.db.WithContext(ctx).Where("status = ?", models.GameStatusRunning).Find(&running).Error; err != nil {
		return 0, fmt.Errorf("load running games: %w", err)
	}

	cutoff := o.now().Add(-staleAfter)
	finished := 0
	for _, game := range running {
		var open int64
		if err := o.db.WithContext(ctx).Model(&models.Round{}).
			Where("game_id = ? AND ended_at IS NULL", game.ID).
			Count(&open).Error; err != nil {
			return finished, err
		}
		if open > 0 && game.UpdatedAt.After(cutoff) {
			continue
		}

		unlock := o.locks.Lock(gameLockKey(game.ID))
		_, err := o.finish(ctx, game.ID)
		unlock()
		if errors.Is(err, errs.ErrGameNotRunning) {
			continue
		}
		if err != nil {
			return finished, err
		}
		finished++
	}
	return finished, nil
}

func (o *Orchestrator) finish(ctx context.Context, gameID uint) (models.Game, error) {
	var game models.Game
	var scores []events.ScoreEntry
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&game, gameID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return gameNotFound(gameID)
			}
			return err
		}
		if game.Status != models.GameStatusRunning {
			return errs.New(errs.KindGameNotRunning, "game is not running")
		}

		now := o.now()
		if err := closeOpenRounds(tx, gameID, now); err != nil {
			return err
		}
		if err := tx.Model(&game).Updates(map[string]any{
			"status":   models.GameStatusEnded,
			"ended_at": now,
		}).Error; err != nil {
			return fmt.Errorf("end game: %w", err)
		}
		game.Status = models.GameStatusEnded
		game.EndedAt = &now
		var err error
		scores, err = database.Scoreboard(ctx, tx, gameID)
		return err
	})
	if err != nil {
		return models.Game{}, err
	}

	o.logger.Info("Game ended", zap.Uint("gameID", gameID))
	o.publish(ctx, gameID, events.GameEnded{GameID: gameID, Scores: scores})
	return game, nil
}

func (o *Orchestrator) hostGame(ctx context.Context, gameID, initiatorID uint) (models.Game, error) {
	var game models.Game
	if err := o.db.WithContext(ctx).First(&game, gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return game, gameNotFound(gameID)
		}
		return game, err
	}
	if game.HostUserID != initiatorID {
		return game, errs.New(errs.KindForbidden, "only the host can do this")
	}
	return game, nil
}

func (o *Orchestrator) publish(ctx context.Context, gameID uint, ev events.Event) {
	if err := o.publisher.Publish(ctx, events.Channel(gameID), ev); err != nil {
		o.logger.Error("Failed to publish event",
			zap.Uint("gameID", gameID), zap.String("type", string(ev.Type())), zap.Error(err))
	}
}

// closeOpenRounds ends the in-progress round without a winner and reveals
// its track.
func closeOpenRounds(tx *gorm.DB, gameID uint, now time.Time) error {
	err := tx.Model(&models.Round{}).
		Where("game_id = ? AND started_at IS NOT NULL AND ended_at IS NULL", gameID).
		Updates(map[string]any{"ended_at": now, "reveal_flag": true}).Error
	if err != nil {
		return fmt.Errorf("close open round: %w", err)
	}
	return nil
}

func roundStarted(r models.Round) events.RoundStarted {
	return events.RoundStarted{GameID: r.GameID, RoundID: r.ID, RoundNumber: r.RoundNumber, TrackID: r.TrackID}
}
