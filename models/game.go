package models

import (
	"time"

	"gorm.io/datatypes"
)

type GameStatus string

const (
	GameStatusLobby   GameStatus = "LOBBY"
	GameStatusRunning GameStatus = "RUNNING"
	GameStatusEnded   GameStatus = "ENDED"
)

// ScoringRules is snapshotted into each game at creation.
type ScoringRules struct {
	BasePoints      int `json:"points_correct_guess"`
	FirstBloodBonus int `json:"bonus_first_blood"`
	StreakLength    int `json:"streak_n"`
	StreakBonus     int `json:"streak_bonus"`
}

type Game struct {
	ID         uint                             `gorm:"primaryKey" json:"id"`
	HostUserID uint                             `gorm:"index;not null" json:"host_user_id"`
	Status     GameStatus                       `gorm:"size:16;not null;default:'LOBBY';index" json:"status"`
	RoundCount int                              `gorm:"not null" json:"round_count"`
	Rules      datatypes.JSONType[ScoringRules] `json:"rules"`
	CreatedAt  time.Time                        `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time                        `gorm:"not null" json:"updated_at"`
	StartedAt  *time.Time                       `json:"started_at"`
	EndedAt    *time.Time                       `json:"ended_at"`
}

// GameCategory associates a category filter with a game.
type GameCategory struct {
	GameID     uint `gorm:"primaryKey;autoIncrement:false" json:"game_id"`
	CategoryID uint `gorm:"primaryKey;autoIncrement:false" json:"category_id"`
}

// GamePlayer is a membership row; never deleted.
type GamePlayer struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	GameID    uint      `gorm:"not null;uniqueIndex:idx_game_players_game_user" json:"game_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_game_players_game_user;index" json:"user_id"`
	CreatedAt time.Time `gorm:"not null" json:"joined_at"`
}
