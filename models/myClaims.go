package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// MyClaims is the payload of the API session token.
type MyClaims struct {
	UserID   uint   `json:"userid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}
