package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"melodyquest/models"
	"melodyquest/quiz/errs"
	"melodyquest/quiz/events"
	"melodyquest/quiz/textnorm"
)

// Catalog reads tracks and answers from the reference tables.
type Catalog struct {
	db *gorm.DB
}

func NewCatalog(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) GetTrack(ctx context.Context, id uint) (models.Track, error) {
	var track models.Track
	err := c.db.WithContext(ctx).First(&track, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return track, errs.NotFound("TRACK_NOT_FOUND", fmt.Sprintf("track %d not found", id))
	}
	return track, err
}

func (c *Catalog) GetAnswers(ctx context.Context, trackID uint) ([]models.TrackAnswer, error) {
	var answers []models.TrackAnswer
	err := c.db.WithContext(ctx).Where("track_id = ?", trackID).Order("id").Find(&answers).Error
	return answers, err
}

// SelectRandomTracks returns up to count distinct track ids drawn from the
// given categories in random order.
func (c *Catalog) SelectRandomTracks(ctx context.Context, categoryIDs []uint, count int) ([]uint, error) {
	if len(categoryIDs) == 0 || count <= 0 {
		return nil, nil
	}
	random := "RANDOM()"
	if c.db.Dialector.Name() == "mysql" {
		random = "RAND()"
	}
	var ids []uint
	err := c.db.WithContext(ctx).Model(&models.Track{}).
		Where("category_id IN ?", categoryIDs).
		Order(random).
		Limit(count).
		Pluck("id", &ids).Error
	return ids, err
}

// AddAnswer stores an accepted answer together with its normalized form.
func (c *Catalog) AddAnswer(ctx context.Context, trackID uint, text string) (models.TrackAnswer, error) {
	answer := models.TrackAnswer{TrackID: trackID, AnswerText: text, Normalized: textnorm.Normalize(text)}
	err := c.db.WithContext(ctx).Create(&answer).Error
	return answer, err
}

// Users is the identity collaborator.
type Users struct {
	db *gorm.DB
}

func NewUsers(db *gorm.DB) *Users {
	return &Users{db: db}
}

func (u *Users) GetUser(ctx context.Context, id uint) (models.User, error) {
	var user models.User
	err := u.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return user, errs.NotFound("USER_NOT_FOUND", fmt.Sprintf("user %d not found", id))
	}
	return user, err
}

// FindOrCreateUser returns the user with the given name, creating it if
// needed. Concurrent creates of the same name resolve to one row.
func (u *Users) FindOrCreateUser(ctx context.Context, username string) (models.User, error) {
	db := u.db.WithContext(ctx)
	var user models.User
	err := db.Where("username = ?", username).First(&user).Error
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return user, err
	}

	user = models.User{Username: username}
	if err := db.Create(&user).Error; err != nil {
		if IsUniqueViolation(err) {
			user = models.User{}
			return user, db.Where("username = ?", username).First(&user).Error
		}
		return user, err
	}
	return user, nil
}

// Scoreboard returns the game's scores, highest first. Ties are ordered by
// user id so the result is stable.
func Scoreboard(ctx context.Context, db *gorm.DB, gameID uint) ([]events.ScoreEntry, error) {
	scores := []events.ScoreEntry{}
	err := db.WithContext(ctx).Table("scores").
		Select("scores.user_id, COALESCE(users.username, '') AS username, scores.points").
		Joins("LEFT JOIN users ON users.id = scores.user_id").
		Where("scores.game_id = ?", gameID).
		Order("scores.points DESC, scores.user_id ASC").
		Scan(&scores).Error
	if err != nil {
		return nil, fmt.Errorf("load scoreboard for game %d: %w", gameID, err)
	}
	return scores, nil
}
