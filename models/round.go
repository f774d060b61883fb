package models

import "time"

type Round struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	GameID       uint       `gorm:"not null;uniqueIndex:idx_rounds_game_number" json:"game_id"`
	RoundNumber  int        `gorm:"not null;uniqueIndex:idx_rounds_game_number" json:"round_number"`
	TrackID      uint       `gorm:"not null" json:"track_id"`
	StartedAt    *time.Time `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at"`
	WinnerUserID *uint      `json:"winner_user_id"`
	RevealFlag   bool       `gorm:"not null;default:false" json:"reveal_flag"`
}

// InProgress reports whether the round is the game's current round.
func (r Round) InProgress() bool {
	return r.StartedAt != nil && r.EndedAt == nil
}

// Guess is append-only.
type Guess struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RoundID   uint      `gorm:"index;not null" json:"round_id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	GuessText string    `gorm:"size:255;not null" json:"guess_text"`
	IsCorrect bool      `gorm:"not null;default:false" json:"is_correct"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

type Score struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	GameID    uint      `gorm:"not null;uniqueIndex:idx_scores_game_user" json:"game_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_scores_game_user" json:"user_id"`
	Points    int       `gorm:"not null;default:0" json:"points"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}
