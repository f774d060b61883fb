package models

import "time"

// User is the identity collaborator's view of a player.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"size:64;uniqueIndex;not null" json:"username"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}
