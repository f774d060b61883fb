package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"melodyquest/models"
)

// IssueSessionToken signs an API token for the user.
func IssueSessionToken(secret []byte, user models.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &models.MyClaims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseSessionToken validates an API token and returns its claims.
func ParseSessionToken(secret []byte, tokenString string) (*models.MyClaims, error) {
	claims := &models.MyClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// SignProof returns the realtime join proof for a user:
// base64url(HMAC-SHA256(secret, "<userId>.<username>")) without padding.
func SignProof(secret []byte, userID uint, username string) string {
	return base64.RawURLEncoding.EncodeToString(proofMAC(secret, userID, username))
}

// VerifyProof checks a proof produced by SignProof in constant time. Padded
// tokens are accepted. An empty secret never verifies.
func VerifyProof(secret []byte, userID uint, username, token string) bool {
	if len(secret) == 0 || token == "" {
		return false
	}
	provided, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return false
	}
	return hmac.Equal(proofMAC(secret, userID, username), provided)
}

func proofMAC(secret []byte, userID uint, username string) []byte {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d.%s", userID, username)
	return mac.Sum(nil)
}
